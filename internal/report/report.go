// Package report renders run summaries and run history for the terminal
// or for machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/teemow/pdffetch/internal/download"
	"github.com/teemow/pdffetch/internal/history"
	"github.com/teemow/pdffetch/internal/run"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	tableBorders = lipgloss.NormalBorder()
)

// Summary writes s to w in format.
func Summary(w io.Writer, format string, s *run.Summary) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, s)
	case FormatYAML:
		return writeYAML(w, s)
	case FormatText, "":
		_, err := io.WriteString(w, summaryText(s))
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// History writes a list of past runs to w in format.
func History(w io.Writer, format string, runs []history.Run) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, runs)
	case FormatYAML:
		return writeYAML(w, runs)
	case FormatText, "":
		_, err := io.WriteString(w, historyText(runs))
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func summaryText(s *run.Summary) string {
	var b strings.Builder

	stateStyle := okStyle
	if s.State == run.StateFailed {
		stateStyle = errStyle
	}
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("Run"), stateStyle.Render(string(s.State)))

	field := func(label, value string) {
		fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-18s", label+":")), value)
	}
	field("Date range", s.StartDate+" to "+s.EndDate)
	if s.Query != "" {
		field("Query", s.Query)
	}
	field("Download dir", s.DownloadDir)
	field("Messages examined", strconv.Itoa(s.MessagesExamined))
	field("Attachments found", strconv.Itoa(s.AttachmentsFound))
	field("Files written", okStyle.Render(strconv.Itoa(s.FilesWritten))+" ("+FormatSize(s.BytesWritten)+")")
	if s.Skipped > 0 {
		field("Skipped", warnStyle.Render(strconv.Itoa(s.Skipped)))
	}
	if s.Failed > 0 {
		field("Failed", errStyle.Render(strconv.Itoa(s.Failed)))
	}
	if d := s.Duration(); d > 0 {
		field("Duration", d.Round(1e6).String())
	}
	if s.Error != "" {
		field("Error", errStyle.Render(s.Error))
	}

	if len(s.Outcomes) > 0 {
		rows := make([][]string, 0, len(s.Outcomes))
		for _, o := range s.Outcomes {
			rows = append(rows, []string{string(o.Status), outcomeName(o), outcomeDetail(o)})
		}
		b.WriteString("\n")
		b.WriteString(renderTable([]string{"STATUS", "FILE", "DETAIL"}, rows, func(row int) lipgloss.Style {
			switch s.Outcomes[row].Status {
			case download.StatusFailed:
				return errStyle
			case download.StatusSkipped:
				return warnStyle
			}
			return lipgloss.NewStyle()
		}))
		b.WriteString("\n")
	}

	if len(s.MessageErrors) > 0 {
		b.WriteString("\n" + titleStyle.Render("Message errors") + "\n")
		for _, me := range s.MessageErrors {
			id := me.MessageID
			if id == "" {
				id = "(search)"
			}
			fmt.Fprintf(&b, "  %s %s\n", id, errStyle.Render(me.Reason))
		}
	}
	return b.String()
}

func outcomeName(o download.Outcome) string {
	if o.Filename != "" {
		return o.Filename
	}
	if o.Original != "" {
		return o.Original
	}
	return "(message " + o.MessageID + ")"
}

func outcomeDetail(o download.Outcome) string {
	if o.Status == download.StatusWritten {
		return FormatSize(o.Size)
	}
	return o.Reason
}

func historyText(runs []history.Run) string {
	if len(runs) == 0 {
		return "No runs recorded.\n"
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.State,
			r.StartDate + ".." + r.EndDate,
			strconv.Itoa(r.MessagesExamined),
			strconv.Itoa(r.FilesWritten),
			strconv.Itoa(r.Failed),
			FormatSize(r.BytesWritten),
			r.ID,
		})
	}
	return renderTable(
		[]string{"STARTED", "STATE", "RANGE", "MESSAGES", "WRITTEN", "FAILED", "SIZE", "RUN"},
		rows,
		func(row int) lipgloss.Style {
			if runs[row].State == string(run.StateFailed) {
				return errStyle
			}
			return lipgloss.NewStyle()
		},
	) + "\n"
}

func renderTable(headers []string, rows [][]string, rowStyle func(row int) lipgloss.Style) string {
	return table.New().
		Border(tableBorders).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return rowStyle(row).Inherit(cellStyle)
		}).
		String()
}

// FormatSize formats bytes into human-readable format
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
