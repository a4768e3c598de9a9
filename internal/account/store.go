package account

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/poemonsense/antigravity-router/internal/config"
	"github.com/poemonsense/antigravity-router/internal/utils"
)

// FileStore persists accounts as a JSON array at accounts.json. Health
// records round-trip through it so auto-disable state survives restarts.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at the default accounts path
func NewFileStore() *FileStore {
	return &FileStore{path: config.AccountsFilePath}
}

// NewFileStoreAt creates a FileStore at a custom path (used by tests)
func NewFileStoreAt(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads all accounts from disk. A missing file yields an empty set; a
// corrupt file is an error the caller may downgrade to a warning.
func (s *FileStore) Load() ([]*Account, error) {
	if !utils.FileExists(s.path) {
		return []*Account{}, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var accounts []*Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}

	return accounts, nil
}

// Save writes all accounts to disk, whole-file rewrite
func (s *FileStore) Save(accounts []*Account) error {
	if err := utils.EnsureParentDir(s.path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}
