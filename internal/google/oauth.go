package google

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/afero"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/teemow/pdffetch/internal/fetcherr"
)

// LoadClientConfig reads an OAuth client file downloaded from the Google
// Cloud console ("Desktop app" type) and returns a config for the default
// scopes. A missing or malformed file is an AuthError of kind config.
func LoadClientConfig(fs afero.Fs, path string) (*oauth2.Config, error) {
	if path == "" {
		return nil, fetcherr.NewAuthError(fetcherr.AuthConfig, "no credentials file configured", nil)
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fetcherr.NewAuthError(fetcherr.AuthConfig,
			fmt.Sprintf("cannot read credentials file %s", path), err)
	}
	conf, err := google.ConfigFromJSON(data, DefaultOAuthScopes...)
	if err != nil {
		return nil, fetcherr.NewAuthError(fetcherr.AuthConfig,
			fmt.Sprintf("invalid credentials file %s", path), err)
	}
	return conf, nil
}

// DefaultTokenFile returns where the token is stored when no path is configured.
func DefaultTokenFile() string {
	return filepath.Join(userCacheDir(), "pdffetch", "token.json")
}

// defaultTransport returns the base transport for Google API traffic.
// HTTP/2 is disabled to avoid stream errors on long attachment downloads,
// and requests are traced.
func defaultTransport() http.RoundTripper {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.ForceAttemptHTTP2 = false
	return otelhttp.NewTransport(base)
}

// newHTTPClient returns a client that authorizes each request with ts.
func newHTTPClient(ts oauth2.TokenSource, base http.RoundTripper) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: ts,
			Base:   base,
		},
	}
}

func userCacheDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Caches")
	case "windows":
		for _, ev := range []string{"LOCALAPPDATA", "TEMP", "TMP"} {
			if v := os.Getenv(ev); v != "" {
				return v
			}
		}
		return os.TempDir()
	}
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return xdg
	}
	return filepath.Join(homeDir(), ".cache")
}

func homeDir() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("HOMEDRIVE") + os.Getenv("HOMEPATH")
	}
	return os.Getenv("HOME")
}
