package web

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

type directoryRequest struct {
	Path string `json:"path"`
}

// DirectoryStatus describes whether a path can serve as a download
// directory. A missing directory is valid when its parent is writable,
// since the writer creates it on first use.
type DirectoryStatus struct {
	Path           string `json:"path"`
	Exists         bool   `json:"exists"`
	IsDir          bool   `json:"is_dir"`
	Writable       bool   `json:"writable"`
	ParentExists   bool   `json:"parent_exists"`
	ParentWritable bool   `json:"parent_writable"`
	Valid          bool   `json:"valid"`
	Error          string `json:"error,omitempty"`
}

func (s *Server) handleValidateDirectory(w http.ResponseWriter, r *http.Request) {
	var req directoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	writeJSON(w, http.StatusOK, CheckDirectory(s.fs, req.Path))
}

// CheckDirectory inspects path on fs.
func CheckDirectory(fs afero.Fs, path string) DirectoryStatus {
	path = expandHome(strings.TrimSpace(path))
	st := DirectoryStatus{Path: filepath.Clean(path)}

	info, err := fs.Stat(st.Path)
	switch {
	case err == nil:
		st.Exists = true
		st.IsDir = info.IsDir()
		if st.IsDir {
			st.Writable = writable(fs, st.Path)
		}
	case !os.IsNotExist(err):
		st.Error = err.Error()
		return st
	}

	parent := filepath.Dir(st.Path)
	if pinfo, err := fs.Stat(parent); err == nil && pinfo.IsDir() {
		st.ParentExists = true
		st.ParentWritable = writable(fs, parent)
	}

	switch {
	case st.Exists && !st.IsDir:
		st.Error = "path exists but is not a directory"
	case st.Exists && !st.Writable:
		st.Error = "directory is not writable"
	case !st.Exists && !st.ParentExists:
		st.Error = "parent directory does not exist"
	case !st.Exists && !st.ParentWritable:
		st.Error = "parent directory is not writable"
	default:
		st.Valid = true
	}
	return st
}

// writable probes dir by creating and removing a temporary file.
func writable(fs afero.Fs, dir string) bool {
	f, err := afero.TempFile(fs, dir, ".pdffetch-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = fs.Remove(name)
	return true
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
