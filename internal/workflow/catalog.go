// Package workflow resolves which tenant, workflow and AI configuration an
// inbound call runs with.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	voicebridge "github.com/agentplexus/omnivoice-bridge"
	"github.com/agentplexus/omnivoice-bridge/internal/config"
	"github.com/agentplexus/omnivoice-bridge/internal/logging"
	"github.com/agentplexus/omnivoice-bridge/internal/session"
)

// DefaultLanguage applies when neither the workflow nor the tenant sets one.
const DefaultLanguage = "en-US"

var (
	// ErrUnknownNumber is returned when no tenant owns a routing number.
	ErrUnknownNumber = errors.New("number not routed to any tenant")

	// ErrUnknownTenant is returned for a tenant id that is not configured.
	ErrUnknownTenant = errors.New("unknown tenant")

	// ErrUnknownWorkflow is returned for a workflow id the tenant does not have.
	ErrUnknownWorkflow = errors.New("unknown workflow")
)

// Route is the tenant and workflow a phone number maps to.
type Route struct {
	TenantID   string
	WorkflowID string
}

// Resolution is everything a session needs to start.
type Resolution struct {
	TenantID   string
	WorkflowID string
	Mode       voicebridge.Mode
	Config     session.AIConfig
}

// Resolver maps calls to their configuration.
type Resolver interface {
	RouteNumber(number string) (Route, error)
	Resolve(ctx context.Context, tenantID, workflowID string) (*Resolution, error)
}

// Catalog is a config-backed Resolver. It owns the tenant voice cache.
type Catalog struct {
	mu      sync.RWMutex
	tenants map[string]config.TenantConfig
	numbers map[string]string

	voices *VoiceCache
	log    *logging.Logger
}

var _ Resolver = (*Catalog)(nil)

// NewCatalog builds a catalog from tenant configuration.
func NewCatalog(tenants []config.TenantConfig, log *logging.Logger) *Catalog {
	if log == nil {
		log = logging.Nop()
	}
	c := &Catalog{log: log.Sub("workflow")}
	c.voices = NewVoiceCache(VoiceSourceFunc(c.tenantVoice), c.log)
	c.Replace(tenants)
	return c
}

// Replace swaps in a new tenant set and drops every cached voice preference.
func (c *Catalog) Replace(tenants []config.TenantConfig) {
	byID := make(map[string]config.TenantConfig, len(tenants))
	numbers := make(map[string]string)
	for _, t := range tenants {
		byID[t.ID] = t
		for _, n := range t.Numbers {
			numbers[NormalizeNumber(n)] = t.ID
		}
	}

	c.mu.Lock()
	c.tenants = byID
	c.numbers = numbers
	c.mu.Unlock()

	c.voices.Reset()
	c.log.Debug().Int("tenants", len(byID)).Int("numbers", len(numbers)).Msg("catalog loaded")
}

// Voices returns the tenant voice preference cache.
func (c *Catalog) Voices() *VoiceCache {
	return c.voices
}

// RouteNumber returns the tenant and default workflow for a called number.
func (c *Catalog) RouteNumber(number string) (Route, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tenantID, ok := c.numbers[NormalizeNumber(number)]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s", ErrUnknownNumber, number)
	}
	return Route{TenantID: tenantID, WorkflowID: c.tenants[tenantID].DefaultWorkflow}, nil
}

// Resolve returns the AI configuration snapshot for a tenant's workflow.
// An empty workflowID selects the tenant's default workflow.
func (c *Catalog) Resolve(ctx context.Context, tenantID, workflowID string) (*Resolution, error) {
	c.mu.RLock()
	tenant, ok := c.tenants[tenantID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
	}

	wf, ok := tenant.Workflow(workflowID)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownWorkflow, tenantID, workflowID)
	}

	mode := voicebridge.Mode(wf.Mode)
	if mode == "" {
		mode = voicebridge.ModeStreaming
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("workflow %s/%s: invalid mode %q", tenantID, wf.ID, wf.Mode)
	}

	voice := wf.Voice
	if voice == "" {
		voice = c.voices.Get(ctx, tenantID)
	}

	return &Resolution{
		TenantID:   tenantID,
		WorkflowID: wf.ID,
		Mode:       mode,
		Config: session.AIConfig{
			SystemPrompt:        wf.SystemPrompt,
			Voice:               voice,
			Language:            firstNonEmpty(wf.Language, tenant.Language, DefaultLanguage),
			Tone:                wf.Tone,
			Greeting:            wf.Greeting,
			AssistantName:       wf.AssistantName,
			BusinessDescription: firstNonEmpty(wf.BusinessDescription, tenant.Name),
			Intents:             append([]session.Intent(nil), wf.Intents...),
		},
	}, nil
}

// tenantVoice reads the tenant's voice preference from the current catalog.
func (c *Catalog) tenantVoice(_ context.Context, tenantID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tenants[tenantID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
	}
	return t.Voice, nil
}

// NormalizeNumber strips formatting from a phone number, keeping a leading
// plus sign and the digits.
func NormalizeNumber(n string) string {
	n = strings.TrimSpace(n)
	var b strings.Builder
	for i, r := range n {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
