package workflow

import (
	"context"
	"sync"

	"github.com/agentplexus/omnivoice-bridge/internal/logging"
)

// VoiceSource loads a tenant's voice preference from persistent config.
type VoiceSource interface {
	VoicePreference(ctx context.Context, tenantID string) (string, error)
}

// VoiceSourceFunc adapts a function to VoiceSource.
type VoiceSourceFunc func(ctx context.Context, tenantID string) (string, error)

func (f VoiceSourceFunc) VoicePreference(ctx context.Context, tenantID string) (string, error) {
	return f(ctx, tenantID)
}

// VoiceCache remembers each tenant's last-known voice preference. Misses are
// refreshed from the source; Invalidate and Reset force a refresh.
type VoiceCache struct {
	src VoiceSource
	log *logging.Logger

	mu      sync.RWMutex
	entries map[string]string
}

// NewVoiceCache creates an empty cache over src.
func NewVoiceCache(src VoiceSource, log *logging.Logger) *VoiceCache {
	if log == nil {
		log = logging.Nop()
	}
	return &VoiceCache{src: src, log: log, entries: make(map[string]string)}
}

// Get returns the tenant's voice preference, or "" when none is known.
// Lookup failures are logged and not cached.
func (c *VoiceCache) Get(ctx context.Context, tenantID string) string {
	c.mu.RLock()
	v, ok := c.entries[tenantID]
	c.mu.RUnlock()
	if ok {
		return v
	}

	v, err := c.src.VoicePreference(ctx, tenantID)
	if err != nil {
		c.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("voice preference lookup failed")
		return ""
	}

	c.mu.Lock()
	c.entries[tenantID] = v
	c.mu.Unlock()
	return v
}

// Set records a preference, e.g. after a tenant changes it.
func (c *VoiceCache) Set(tenantID, voice string) {
	c.mu.Lock()
	c.entries[tenantID] = voice
	c.mu.Unlock()
}

// Invalidate drops one tenant's entry.
func (c *VoiceCache) Invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.entries, tenantID)
	c.mu.Unlock()
}

// Reset drops every entry.
func (c *VoiceCache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]string)
	c.mu.Unlock()
}

// Len returns the number of cached tenants.
func (c *VoiceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
