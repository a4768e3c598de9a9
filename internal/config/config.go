package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/poemonsense/antigravity-router/internal/errors"
	"github.com/poemonsense/antigravity-router/internal/utils"
)

// HealthConfig holds the health-tracking and retention knobs. It is the
// `health` sub-object of the config file and is only mutated through
// UpdateHealth, which validates the whole patch before applying any of it.
type HealthConfig struct {
	ConsecutiveFailureThreshold int     `json:"consecutiveFailureThreshold"`
	WarningThreshold            float64 `json:"warningThreshold"`
	CriticalThreshold           float64 `json:"criticalThreshold"`
	AutoDisableEnabled          bool    `json:"autoDisableEnabled"`
	AutoRecoveryMs              int64   `json:"autoRecoveryMs"`
	EventMaxCount               int     `json:"eventMaxCount"`
	EventRetentionDays          int     `json:"eventRetentionDays"`
	QuotaThreshold              float64 `json:"quotaThreshold"`
	QuotaPollIntervalMs         int64   `json:"quotaPollIntervalMs"`
	StaleIssueMs                int64   `json:"staleIssueMs"`
}

// DefaultHealthConfig returns the default health configuration
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		ConsecutiveFailureThreshold: DefaultConsecutiveFailureThreshold,
		WarningThreshold:            DefaultWarningThreshold,
		CriticalThreshold:           DefaultCriticalThreshold,
		AutoDisableEnabled:          true,
		AutoRecoveryMs:              DefaultAutoRecoveryMs,
		EventMaxCount:               DefaultEventMaxCount,
		EventRetentionDays:          DefaultEventRetentionDays,
		QuotaThreshold:              DefaultQuotaThreshold,
		QuotaPollIntervalMs:         DefaultQuotaPollIntervalMs,
		StaleIssueMs:                DefaultStaleIssueMs,
	}
}

// HealthConfigPatch is a partial update to HealthConfig; nil fields are left
// unchanged
type HealthConfigPatch struct {
	ConsecutiveFailureThreshold *int     `json:"consecutiveFailureThreshold"`
	WarningThreshold            *float64 `json:"warningThreshold"`
	CriticalThreshold           *float64 `json:"criticalThreshold"`
	AutoDisableEnabled          *bool    `json:"autoDisableEnabled"`
	AutoRecoveryMs              *int64   `json:"autoRecoveryMs"`
	EventMaxCount               *int     `json:"eventMaxCount"`
	EventRetentionDays          *int     `json:"eventRetentionDays"`
	QuotaThreshold              *float64 `json:"quotaThreshold"`
	QuotaPollIntervalMs         *int64   `json:"quotaPollIntervalMs"`
	StaleIssueMs                *int64   `json:"staleIssueMs"`
}

// Config represents the runtime configuration
type Config struct {
	mu sync.RWMutex

	// API access
	APIKey        string `json:"apiKey"`
	WebUIPassword string `json:"webuiPassword"`

	// Logging and debugging
	Debug   bool `json:"debug"`
	DevMode bool `json:"devMode"`

	// Server configuration
	Port int    `json:"port"`
	Host string `json:"host"`

	// Redis configuration (optional mirror store)
	RedisAddr     string `json:"redisAddr"`
	RedisPassword string `json:"redisPassword"`
	RedisDB       int    `json:"redisDB"`

	// Model mapping (client model id -> upstream model id)
	ModelMapping map[string]string `json:"modelMapping"`

	// Health tracking and retention
	Health HealthConfig `json:"health"`

	// Where the config is persisted; defaults to ConfigFilePath
	path string
}

// DefaultConfig returns a new Config with default values
func DefaultConfig() *Config {
	return &Config{
		Port:         DefaultPort,
		Host:         "0.0.0.0",
		RedisAddr:    "",
		ModelMapping: make(map[string]string),
		Health:       DefaultHealthConfig(),
		path:         ConfigFilePath,
	}
}

// SetPath overrides the persistence path (used by tests)
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// Load loads configuration from file and environment
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := utils.EnsureParentDir(c.path); err != nil {
		utils.Warn("[Config] Failed to create config directory: %v", err)
	}

	if utils.FileExists(c.path) {
		if err := c.loadFromFile(c.path); err != nil {
			utils.Warn("[Config] Failed to load config from %s: %v", c.path, err)
		}
	}

	c.loadFromEnv()

	if c.Debug && !c.DevMode {
		c.DevMode = true
	}
	utils.SetDebug(c.Debug || c.DevMode)

	return nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Unmarshal onto defaults so missing fields keep their default values
	temp := DefaultConfig()
	if err := json.Unmarshal(data, temp); err != nil {
		return err
	}

	c.APIKey = temp.APIKey
	c.WebUIPassword = temp.WebUIPassword
	c.Debug = temp.Debug
	c.DevMode = temp.DevMode
	c.Port = temp.Port
	c.Host = temp.Host
	c.RedisAddr = temp.RedisAddr
	c.RedisPassword = temp.RedisPassword
	c.RedisDB = temp.RedisDB
	c.ModelMapping = temp.ModelMapping
	c.Health = temp.Health

	return nil
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("WEBUI_PASSWORD"); v != "" {
		c.WebUIPassword = v
	}
	if os.Getenv("DEBUG") == "true" {
		c.Debug = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
}

// Save saves the current configuration to disk
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.saveLocked()
}

func (c *Config) saveLocked() error {
	if err := utils.EnsureParentDir(c.path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// GetHealth returns a defensive copy of the health configuration
func (c *Config) GetHealth() HealthConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Health
}

// UpdateHealth validates and applies a patch to the health configuration.
// Every failing field is reported; an invalid patch leaves the config
// untouched.
func (c *Config) UpdateHealth(patch HealthConfigPatch) (HealthConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.Health
	if patch.ConsecutiveFailureThreshold != nil {
		next.ConsecutiveFailureThreshold = *patch.ConsecutiveFailureThreshold
	}
	if patch.WarningThreshold != nil {
		next.WarningThreshold = *patch.WarningThreshold
	}
	if patch.CriticalThreshold != nil {
		next.CriticalThreshold = *patch.CriticalThreshold
	}
	if patch.AutoDisableEnabled != nil {
		next.AutoDisableEnabled = *patch.AutoDisableEnabled
	}
	if patch.AutoRecoveryMs != nil {
		next.AutoRecoveryMs = *patch.AutoRecoveryMs
	}
	if patch.EventMaxCount != nil {
		next.EventMaxCount = *patch.EventMaxCount
	}
	if patch.EventRetentionDays != nil {
		next.EventRetentionDays = *patch.EventRetentionDays
	}
	if patch.QuotaThreshold != nil {
		next.QuotaThreshold = *patch.QuotaThreshold
	}
	if patch.QuotaPollIntervalMs != nil {
		next.QuotaPollIntervalMs = *patch.QuotaPollIntervalMs
	}
	if patch.StaleIssueMs != nil {
		next.StaleIssueMs = *patch.StaleIssueMs
	}

	if fields := validateHealth(next); len(fields) > 0 {
		return c.Health, errors.NewValidationError(fields)
	}

	c.Health = next
	if err := c.saveLocked(); err != nil {
		utils.Error("[Config] Failed to persist health config: %v", err)
	}
	return c.Health, nil
}

func validateHealth(h HealthConfig) []errors.FieldError {
	var fields []errors.FieldError
	add := func(field, format string, args ...interface{}) {
		fields = append(fields, errors.FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if h.ConsecutiveFailureThreshold < 1 {
		add("consecutiveFailureThreshold", "must be >= 1, got %d", h.ConsecutiveFailureThreshold)
	}
	if h.WarningThreshold < 0 || h.WarningThreshold > 100 {
		add("warningThreshold", "must be in [0, 100], got %g", h.WarningThreshold)
	}
	if h.CriticalThreshold < 0 || h.CriticalThreshold > 100 {
		add("criticalThreshold", "must be in [0, 100], got %g", h.CriticalThreshold)
	}
	if h.WarningThreshold < h.CriticalThreshold {
		add("warningThreshold", "must be >= criticalThreshold (%g < %g)", h.WarningThreshold, h.CriticalThreshold)
	}
	if h.AutoRecoveryMs <= 0 {
		add("autoRecoveryMs", "must be > 0, got %d", h.AutoRecoveryMs)
	}
	if h.EventMaxCount < 1000 || h.EventMaxCount > 50000 {
		add("eventMaxCount", "must be in [1000, 50000], got %d", h.EventMaxCount)
	}
	if h.EventRetentionDays < 1 || h.EventRetentionDays > 30 {
		add("eventRetentionDays", "must be in [1, 30], got %d", h.EventRetentionDays)
	}
	if h.QuotaThreshold < 0 || h.QuotaThreshold > 0.5 {
		add("quotaThreshold", "must be in [0.0, 0.5], got %g", h.QuotaThreshold)
	}
	if h.QuotaPollIntervalMs <= 0 {
		add("quotaPollIntervalMs", "must be > 0, got %d", h.QuotaPollIntervalMs)
	}
	if h.StaleIssueMs <= 0 {
		add("staleIssueMs", "must be > 0, got %d", h.StaleIssueMs)
	}

	return fields
}

// ResolveModel maps a client model id through the configured model mapping
func (c *Config) ResolveModel(modelID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if mapped, ok := c.ModelMapping[modelID]; ok && mapped != "" {
		return mapped
	}
	return modelID
}

// GetPublic returns a copy of the config with sensitive fields redacted
func (c *Config) GetPublic() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"apiKey":        redact(c.APIKey),
		"webuiPassword": redact(c.WebUIPassword),
		"debug":         c.Debug,
		"devMode":       c.DevMode,
		"port":          c.Port,
		"host":          c.Host,
		"redisAddr":     c.RedisAddr,
		"redisPassword": redact(c.RedisPassword),
		"redisDB":       c.RedisDB,
		"modelMapping":  c.ModelMapping,
		"health":        c.Health,
	}
}

// IsDevMode returns whether dev mode is enabled
func (c *Config) IsDevMode() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DevMode
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
