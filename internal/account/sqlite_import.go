package account

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/poemonsense/antigravity-router/internal/config"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO
)

// stateDBIdentity is the signed-in identity stored by the Antigravity
// desktop app in its SQLite state database
type stateDBIdentity struct {
	APIKey string `json:"apiKey"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// ImportFromStateDB reads the signed-in account identity out of the desktop
// app's state database. Returns nil without error when the database is not
// present (the app is simply not installed on this host).
func ImportFromStateDB(dbPath string) (*Account, error) {
	if dbPath == "" {
		dbPath = config.AntigravityDBPath
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, nil
	}

	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	defer db.Close()

	var value string
	err = db.QueryRow("SELECT value FROM ItemTable WHERE key = 'antigravityAuthStatus'").Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query state database: %w", err)
	}

	var identity stateDBIdentity
	if err := json.Unmarshal([]byte(value), &identity); err != nil {
		return nil, fmt.Errorf("failed to parse auth status: %w", err)
	}
	if identity.Email == "" {
		return nil, fmt.Errorf("auth status missing email field")
	}

	return &Account{
		Email:   identity.Email,
		Enabled: true,
		Source:  "database",
	}, nil
}
