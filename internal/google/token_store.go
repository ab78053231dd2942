package google

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
	"github.com/spf13/afero"
	"golang.org/x/oauth2"
)

// ErrNoToken is returned by a TokenStore that holds no credential.
var ErrNoToken = errors.New("no stored token")

// Credential is the persisted OAuth2 token together with the scopes it was
// granted for.
type Credential struct {
	oauth2.Token
	Scopes []string `json:"scopes,omitempty"`
}

// TokenStore persists the credential between runs.
type TokenStore interface {
	// Load returns ErrNoToken when nothing is stored.
	Load() (*Credential, error)
	Save(cred *Credential) error
	Clear() error
	// Location describes where the credential lives, for status output.
	Location() string
}

// FileTokenStore keeps the credential as JSON in a file readable only by
// the current user.
type FileTokenStore struct {
	fs   afero.Fs
	path string
}

// NewFileTokenStore creates a file-based token store at path.
func NewFileTokenStore(fs afero.Fs, path string) *FileTokenStore {
	if path == "" {
		path = DefaultTokenFile()
	}
	return &FileTokenStore{fs: fs, path: path}
}

// Load reads the credential from disk.
func (s *FileTokenStore) Load() (*Credential, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("failed to read token file %s: %w", s.path, err)
	}
	cred := &Credential{}
	if err := json.Unmarshal(data, cred); err != nil {
		return nil, fmt.Errorf("failed to parse token file %s: %w", s.path, err)
	}
	return cred, nil
}

// Save writes the credential through a temporary file so a crash never
// leaves a truncated token behind.
func (s *FileTokenStore) Save(cred *Credential) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

// Clear removes the token file. A missing file is not an error.
func (s *FileTokenStore) Clear() error {
	if err := s.fs.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}

// Location returns the token file path.
func (s *FileTokenStore) Location() string {
	return s.path
}

const (
	keyringService = "pdffetch"
	keyringItemKey = "gmail-token"
)

// KeyringTokenStore keeps the credential in the operating system keyring.
type KeyringTokenStore struct {
	ring keyring.Keyring
}

// OpenKeyringTokenStore opens the platform keyring. fileDir is used by the
// encrypted-file fallback backend on systems without a native keyring.
func OpenKeyringTokenStore(fileDir string) (*KeyringTokenStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("pdffetch-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewKeyringTokenStore(ring), nil
}

// NewKeyringTokenStore wraps an already opened keyring.
func NewKeyringTokenStore(ring keyring.Keyring) *KeyringTokenStore {
	return &KeyringTokenStore{ring: ring}
}

// Load reads the credential from the keyring.
func (s *KeyringTokenStore) Load() (*Credential, error) {
	item, err := s.ring.Get(keyringItemKey)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("getting credential %q: %w", keyringItemKey, err)
	}
	cred := &Credential{}
	if err := json.Unmarshal(item.Data, cred); err != nil {
		return nil, fmt.Errorf("parsing credential %q: %w", keyringItemKey, err)
	}
	return cred, nil
}

// Save stores the credential in the keyring.
func (s *KeyringTokenStore) Save(cred *Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	err = s.ring.Set(keyring.Item{
		Key:         keyringItemKey,
		Data:        data,
		Label:       "pdffetch Gmail token",
		Description: "OAuth2 token for read-only Gmail access",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", keyringItemKey, err)
	}
	return nil
}

// Clear removes the credential from the keyring.
func (s *KeyringTokenStore) Clear() error {
	if err := s.ring.Remove(keyringItemKey); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", keyringItemKey, err)
	}
	return nil
}

// Location describes the keyring entry.
func (s *KeyringTokenStore) Location() string {
	return "keyring:" + keyringService + "/" + keyringItemKey
}
