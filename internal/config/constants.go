// Package config provides configuration constants and runtime configuration
// management for the Antigravity router.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Version information
const Version = "1.0.0"

// Server constants
const (
	// DefaultPort is the default server port
	DefaultPort = 8080
	// RequestBodyLimit is the max request body size (10MB in bytes)
	RequestBodyLimit int64 = 10 * 1024 * 1024
)

// File layout under ~/.config/antigravity-proxy/
var (
	// ConfigDir is the directory holding all persisted state
	ConfigDir = filepath.Join(getHomeDir(), ".config", "antigravity-proxy")
	// ConfigFilePath is the runtime configuration file
	ConfigFilePath = filepath.Join(ConfigDir, "config.json")
	// AccountsFilePath is the account credential store
	AccountsFilePath = filepath.Join(ConfigDir, "accounts.json")
	// EventsFilePath is the event log snapshot
	EventsFilePath = filepath.Join(ConfigDir, "events.json")
	// AntigravityDBPath is the desktop app's SQLite state database, used to
	// import the signed-in account identity on reload
	AntigravityDBPath = getAntigravityDbPath()
)

// DefaultModels is the model matrix shown when the caller does not pass an
// explicit models filter
var DefaultModels = []string{
	"claude-sonnet-4-5",
	"claude-opus-4-5",
	"gemini-3-pro",
	"gemini-3-flash",
}

// Health tracking defaults
const (
	DefaultConsecutiveFailureThreshold = 3
	DefaultWarningThreshold            = 50.0
	DefaultCriticalThreshold           = 25.0
	DefaultAutoRecoveryMs              = 5 * 60 * 1000
	DefaultEventMaxCount               = 10000
	DefaultEventRetentionDays          = 7
	DefaultQuotaThreshold              = 0.05
	DefaultQuotaPollIntervalMs         = 5 * 60 * 1000
	DefaultStaleIssueMs                = 10 * 60 * 1000
)

// Background loop intervals
const (
	// SnapshotIntervalMs is how often the event log is flushed when dirty
	SnapshotIntervalMs = 60 * 1000
	// PruneIntervalMs is how often retention pruning runs
	PruneIntervalMs = 60 * 1000
	// RecoverySweepIntervalMs is how often disabled pairs are checked for
	// auto-recovery independent of traffic
	RecoverySweepIntervalMs = 30 * 1000
	// IssueSweepIntervalMs is how often time-based issue rules run
	IssueSweepIntervalMs = 60 * 1000
)

// MaxAccounts is the cap on configured accounts
const MaxAccounts = 10

func getHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// getAntigravityDbPath returns the platform path to the Antigravity desktop
// app state database
func getAntigravityDbPath() string {
	home := getHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Antigravity", "User", "globalStorage", "state.vscdb")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "Antigravity", "User", "globalStorage", "state.vscdb")
	default:
		return filepath.Join(home, ".config", "Antigravity", "User", "globalStorage", "state.vscdb")
	}
}
