// Package config resolves pdffetch settings from defaults, an optional YAML
// config file, environment variables, and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Configuration keys. Flag names use dashes in place of underscores.
const (
	KeyCredentials = "credentials"
	KeyTokenFile   = "token_file"
	KeyTokenStore  = "token_store"
	KeyDownloadDir = "download_dir"
	KeyQuery       = "query"
	KeyMaxResults  = "max_results"
	KeyFetchMode   = "fetch_mode"
	KeyLogFile     = "log_file"
	KeyHistoryDB   = "history_db"
	KeyAuthTimeout = "auth_timeout"
	KeyTimezone    = "timezone"
	KeyNoBrowser   = "no_browser"
	KeyFormat      = "format"
	KeyVerbose     = "verbose"
	KeyWebAddr     = "web_addr"
)

// Accepted values for enumerated settings.
const (
	TokenStoreFile    = "file"
	TokenStoreKeyring = "keyring"

	FetchModeFull = "full"
	FetchModeRaw  = "raw"

	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Defaults.
const (
	DefaultCredentials = "credentials.json"
	DefaultDownloadDir = "./downloads"
	DefaultQuery       = "has:attachment"
	DefaultMaxResults  = 100
	DefaultLogFile     = "pdf_fetcher.log"
	DefaultAuthTimeout = 5 * time.Minute
	DefaultWebAddr     = "127.0.0.1:5000"
)

// envBindings lists the environment variables consulted for each key, most
// specific first. The unprefixed names are kept for existing setups.
var envBindings = map[string][]string{
	KeyCredentials: {"PDFFETCH_CREDENTIALS", "GOOGLE_APPLICATION_CREDENTIALS"},
	KeyTokenFile:   {"PDFFETCH_TOKEN_FILE"},
	KeyTokenStore:  {"PDFFETCH_TOKEN_STORE"},
	KeyDownloadDir: {"PDFFETCH_DOWNLOAD_DIR", "DOWNLOAD_DIR"},
	KeyQuery:       {"PDFFETCH_QUERY", "EMAIL_QUERY"},
	KeyMaxResults:  {"PDFFETCH_MAX_RESULTS"},
	KeyFetchMode:   {"PDFFETCH_FETCH_MODE"},
	KeyLogFile:     {"PDFFETCH_LOG_FILE"},
	KeyHistoryDB:   {"PDFFETCH_HISTORY_DB"},
	KeyAuthTimeout: {"PDFFETCH_AUTH_TIMEOUT"},
	KeyTimezone:    {"PDFFETCH_TIMEZONE"},
	KeyWebAddr:     {"PDFFETCH_WEB_ADDR"},
}

// Config is the resolved configuration for one invocation.
type Config struct {
	Credentials string        `mapstructure:"credentials" yaml:"credentials"`
	TokenFile   string        `mapstructure:"token_file" yaml:"token_file"`
	TokenStore  string        `mapstructure:"token_store" yaml:"token_store"`
	DownloadDir string        `mapstructure:"download_dir" yaml:"download_dir"`
	Query       string        `mapstructure:"query" yaml:"query"`
	MaxResults  int           `mapstructure:"max_results" yaml:"max_results"`
	FetchMode   string        `mapstructure:"fetch_mode" yaml:"fetch_mode"`
	LogFile     string        `mapstructure:"log_file" yaml:"log_file"`
	HistoryDB   string        `mapstructure:"history_db" yaml:"history_db"`
	AuthTimeout time.Duration `mapstructure:"auth_timeout" yaml:"auth_timeout"`
	Timezone    string        `mapstructure:"timezone" yaml:"timezone"`
	NoBrowser   bool          `mapstructure:"no_browser" yaml:"no_browser"`
	Format      string        `mapstructure:"format" yaml:"format"`
	Verbose     bool          `mapstructure:"verbose" yaml:"verbose"`
	WebAddr     string        `mapstructure:"web_addr" yaml:"web_addr"`
}

// New returns a viper instance with defaults and environment bindings set.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault(KeyCredentials, DefaultCredentials)
	v.SetDefault(KeyTokenFile, "")
	v.SetDefault(KeyTokenStore, TokenStoreFile)
	v.SetDefault(KeyDownloadDir, DefaultDownloadDir)
	v.SetDefault(KeyQuery, DefaultQuery)
	v.SetDefault(KeyMaxResults, DefaultMaxResults)
	v.SetDefault(KeyFetchMode, FetchModeFull)
	v.SetDefault(KeyLogFile, DefaultLogFile)
	v.SetDefault(KeyHistoryDB, DefaultHistoryDB())
	v.SetDefault(KeyAuthTimeout, DefaultAuthTimeout)
	v.SetDefault(KeyTimezone, "")
	v.SetDefault(KeyNoBrowser, false)
	v.SetDefault(KeyFormat, FormatText)
	v.SetDefault(KeyVerbose, false)
	v.SetDefault(KeyWebAddr, DefaultWebAddr)

	for key, envs := range envBindings {
		// BindEnv only fails when called without a key.
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}

	return v
}

// BindFlags binds every flag in fs whose name matches a configuration key,
// so an explicitly set flag overrides environment and file values.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		key := flagKey(f.Name)
		if !isKey(key) {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			errs = append(errs, fmt.Errorf("failed to bind flag %s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

// Load reads the optional config file and returns the validated configuration.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated values and bounds.
func (c *Config) Validate() error {
	if c.MaxResults <= 0 {
		return fmt.Errorf("max results must be positive, got %d", c.MaxResults)
	}
	switch c.TokenStore {
	case TokenStoreFile, TokenStoreKeyring:
	default:
		return fmt.Errorf("invalid token store %q, must be one of: file, keyring", c.TokenStore)
	}
	switch c.FetchMode {
	case FetchModeFull, FetchModeRaw:
	default:
		return fmt.Errorf("invalid fetch mode %q, must be one of: full, raw", c.FetchMode)
	}
	switch c.Format {
	case FormatText, FormatJSON, FormatYAML:
	default:
		return fmt.Errorf("invalid format %q, must be one of: text, json, yaml", c.Format)
	}
	if c.AuthTimeout <= 0 {
		return fmt.Errorf("auth timeout must be positive, got %s", c.AuthTimeout)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location returns the time zone used for date boundaries and filenames.
// An empty Timezone selects the local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// DefaultHistoryDB returns the default run history database path.
func DefaultHistoryDB() string {
	return filepath.Join(DataDir(), "history.db")
}

// DataDir returns the per-user directory for pdffetch state.
func DataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		home, herr := os.UserHomeDir()
		if herr != nil || home == "" {
			return ".pdffetch"
		}
		return filepath.Join(home, ".pdffetch")
	}
	return filepath.Join(dir, "pdffetch")
}

func flagKey(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

func isKey(key string) bool {
	switch key {
	case KeyCredentials, KeyTokenFile, KeyTokenStore, KeyDownloadDir, KeyQuery,
		KeyMaxResults, KeyFetchMode, KeyLogFile, KeyHistoryDB, KeyAuthTimeout,
		KeyTimezone, KeyNoBrowser, KeyFormat, KeyVerbose, KeyWebAddr:
		return true
	}
	return false
}
