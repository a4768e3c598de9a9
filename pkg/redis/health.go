package redis

import (
	"context"
	"time"
)

// mirrorTTL bounds staleness when the mirror process dies; the next
// publish refreshes the key
const mirrorTTL = 5 * time.Minute

// HealthMirror publishes per-account health snapshots and the aggregate
// summary. All operations degrade to no-ops when no client is configured.
type HealthMirror struct {
	client *Client
}

// NewHealthMirror creates a mirror over an optional client (nil allowed)
func NewHealthMirror(client *Client) *HealthMirror {
	return &HealthMirror{client: client}
}

// IsAvailable reports whether a Redis connection is configured
func (m *HealthMirror) IsAvailable() bool {
	return m != nil && m.client != nil
}

// PublishAccount mirrors one account's health records
func (m *HealthMirror) PublishAccount(ctx context.Context, email string, health interface{}) error {
	if !m.IsAvailable() {
		return nil
	}
	return m.client.Set(ctx, PrefixHealth+email, health, mirrorTTL)
}

// PublishSummary mirrors the aggregate health summary
func (m *HealthMirror) PublishSummary(ctx context.Context, summary interface{}) error {
	if !m.IsAvailable() {
		return nil
	}
	return m.client.Set(ctx, KeySummary, summary, mirrorTTL)
}

// DropAccount removes a removed account's mirrored health
func (m *HealthMirror) DropAccount(ctx context.Context, email string) error {
	if !m.IsAvailable() {
		return nil
	}
	return m.client.Delete(ctx, PrefixHealth+email)
}
