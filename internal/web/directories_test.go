package web

import (
	"net/http"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckDirectory(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, base.MkdirAll("/data/existing", 0o755))
	require.NoError(t, afero.WriteFile(base, "/data/file.pdf", []byte("x"), 0o644))

	tests := []struct {
		name      string
		fs        afero.Fs
		path      string
		want      DirectoryStatus
		wantError string
	}{
		{
			name: "existing writable directory",
			fs:   base,
			path: "/data/existing/",
			want: DirectoryStatus{Path: "/data/existing", Exists: true, IsDir: true, Writable: true, ParentExists: true, ParentWritable: true, Valid: true},
		},
		{
			name: "missing directory with writable parent",
			fs:   base,
			path: "/data/new",
			want: DirectoryStatus{Path: "/data/new", ParentExists: true, ParentWritable: true, Valid: true},
		},
		{
			name:      "path is a file",
			fs:        base,
			path:      "/data/file.pdf",
			want:      DirectoryStatus{Path: "/data/file.pdf", Exists: true, ParentExists: true, ParentWritable: true},
			wantError: "not a directory",
		},
		{
			name:      "missing parent",
			fs:        base,
			path:      "/nowhere/downloads",
			want:      DirectoryStatus{Path: "/nowhere/downloads"},
			wantError: "parent directory does not exist",
		},
		{
			name:      "read-only directory",
			fs:        afero.NewReadOnlyFs(base),
			path:      "/data/existing",
			want:      DirectoryStatus{Path: "/data/existing", Exists: true, IsDir: true, ParentExists: true},
			wantError: "not writable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckDirectory(tt.fs, tt.path)
			assert.Contains(t, got.Error, tt.wantError)
			got.Error = ""
			assert.Equal(t, tt.want, got)
		})
	}

	entries, err := afero.ReadDir(base, "/data/existing")
	require.NoError(t, err)
	assert.Empty(t, entries, "probe files must be removed")
}

func TestValidateDirectoryEndpoint(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/downloads", 0o755))
	s := newTestServer(t, Options{Fetcher: &fakeFetcher{}, FS: fs})

	rec := do(t, s.Handler(), http.MethodPost, "/api/directories/validate", map[string]string{"path": "/downloads"})
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[DirectoryStatus](t, rec)
	assert.True(t, st.Valid)
	assert.True(t, st.Writable)

	rec = do(t, s.Handler(), http.MethodPost, "/api/directories/validate", map[string]string{"path": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
