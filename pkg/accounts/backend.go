package accounts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
)

// Backend stores the serialized account document. Load returns nil data and
// no error when nothing has been saved yet.
type Backend interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// FileBackend keeps the document in a file. Saves write a sibling temp file,
// fsync it and rename it over the old one.
type FileBackend struct {
	Path string
}

func (b *FileBackend) Load() ([]byte, error) {
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}
	return data, nil
}

func (b *FileBackend) Save(data []byte) (err error) {
	dir := filepath.Dir(b.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create accounts dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if err := tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("failed to set accounts file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write accounts file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync accounts file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close accounts file: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.Path); err != nil {
		return fmt.Errorf("failed to replace accounts file: %w", err)
	}
	return nil
}

const (
	DefaultKeyringService = "mcauth"
	DefaultKeyringUser    = "accounts"
)

// KeyringBackend keeps the whole document as one secret in the OS keychain.
type KeyringBackend struct {
	Service string
	User    string
}

func NewKeyringBackend() *KeyringBackend {
	return &KeyringBackend{Service: DefaultKeyringService, User: DefaultKeyringUser}
}

func (b *KeyringBackend) Load() ([]byte, error) {
	secret, err := keyring.Get(b.Service, b.User)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read keychain: %w", err)
	}
	return []byte(secret), nil
}

func (b *KeyringBackend) Save(data []byte) error {
	if err := keyring.Set(b.Service, b.User, string(data)); err != nil {
		return fmt.Errorf("failed to write keychain: %w", err)
	}
	return nil
}
