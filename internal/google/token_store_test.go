package google

import (
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func sampleCredential() *Credential {
	return &Credential{
		Token: oauth2.Token{
			AccessToken:  "access-1",
			TokenType:    "Bearer",
			RefreshToken: "refresh-1",
			Expiry:       time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		Scopes: DefaultOAuthScopes,
	}
}

func TestFileTokenStore_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileTokenStore(fs, "/cache/pdffetch/token.json")

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoToken)

	require.NoError(t, store.Save(sampleCredential()))

	info, err := fs.Stat("/cache/pdffetch/token.json")
	require.NoError(t, err)
	assert.Equal(t, "-rw-------", info.Mode().Perm().String())

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "access-1", got.AccessToken)
	assert.Equal(t, "refresh-1", got.RefreshToken)
	assert.True(t, got.Expiry.Equal(sampleCredential().Expiry))
	assert.Equal(t, DefaultOAuthScopes, got.Scopes)

	exists, err := afero.Exists(fs, "/cache/pdffetch/token.json.tmp")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Clear())
	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNoToken)
	assert.NoError(t, store.Clear(), "clearing twice is fine")
}

func TestFileTokenStore_ReadsPlainTokenJSON(t *testing.T) {
	fs := afero.NewMemMapFs()
	plain := `{"access_token":"a","token_type":"Bearer","refresh_token":"r","expiry":"2024-01-01T00:00:00Z"}`
	require.NoError(t, afero.WriteFile(fs, "token.json", []byte(plain), 0o600))

	got, err := NewFileTokenStore(fs, "token.json").Load()
	require.NoError(t, err)
	assert.Equal(t, "r", got.RefreshToken)
	assert.Empty(t, got.Scopes)
}

func TestFileTokenStore_Corrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "token.json", []byte("access refresh"), 0o600))

	_, err := NewFileTokenStore(fs, "token.json").Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoToken)
}

func TestFileTokenStore_DefaultPath(t *testing.T) {
	store := NewFileTokenStore(afero.NewMemMapFs(), "")
	assert.Equal(t, DefaultTokenFile(), store.Location())
}

func TestKeyringTokenStore_RoundTrip(t *testing.T) {
	store := NewKeyringTokenStore(keyring.NewArrayKeyring(nil))

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoToken)

	require.NoError(t, store.Save(sampleCredential()))
	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "access-1", got.AccessToken)

	require.NoError(t, store.Clear())
	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNoToken)
	assert.Equal(t, "keyring:pdffetch/gmail-token", store.Location())
}

func TestCoversScopes(t *testing.T) {
	assert.True(t, coversScopes(nil, DefaultOAuthScopes))
	assert.True(t, coversScopes([]string{"openid", DefaultOAuthScopes[0]}, DefaultOAuthScopes))
	assert.False(t, coversScopes([]string{"https://www.googleapis.com/auth/drive"}, DefaultOAuthScopes))
}

func TestGrantedScopes(t *testing.T) {
	tok := (&oauth2.Token{AccessToken: "a"}).WithExtra(map[string]interface{}{
		"scope": "openid https://www.googleapis.com/auth/gmail.readonly",
	})
	assert.Equal(t, []string{"openid", "https://www.googleapis.com/auth/gmail.readonly"}, grantedScopes(tok, nil))
	assert.Equal(t, DefaultOAuthScopes, grantedScopes(&oauth2.Token{}, DefaultOAuthScopes))
}
