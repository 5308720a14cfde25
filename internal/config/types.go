package config

import (
	"time"

	"github.com/agentplexus/omnivoice-bridge/internal/session"
)

// Config is the root configuration for the bridge.
type Config struct {
	Server     ServerConfig     `yaml:"server,omitempty"`
	Twilio     TwilioConfig     `yaml:"twilio,omitempty"`
	Realtime   RealtimeConfig   `yaml:"realtime,omitempty"`
	Completion CompletionConfig `yaml:"completion,omitempty"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge,omitempty"`
	Bridge     BridgeConfig     `yaml:"bridge,omitempty"`
	Logging    LoggingConfig    `yaml:"logging,omitempty"`
	Tenants    []TenantConfig   `yaml:"tenants,omitempty"`
}

// ServerConfig controls the webhook and media stream HTTP server.
type ServerConfig struct {
	Addr               string `yaml:"addr,omitempty"`
	PublicURL          string `yaml:"publicUrl,omitempty"` // externally reachable base URL Twilio calls back on
	ValidateSignatures bool   `yaml:"validateSignatures,omitempty"`
}

// TwilioConfig holds Twilio REST credentials.
type TwilioConfig struct {
	AccountSID  string `yaml:"accountSid,omitempty"`
	AuthToken   string `yaml:"authToken,omitempty"`
	APIBaseURL  string `yaml:"apiBaseUrl,omitempty"`
	PhoneNumber string `yaml:"phoneNumber,omitempty"` // default caller ID for outbound calls
}

// RealtimeConfig configures the realtime voice AI connection.
type RealtimeConfig struct {
	URL                string  `yaml:"url,omitempty"`
	APIKey             string  `yaml:"apiKey,omitempty"`
	Model              string  `yaml:"model,omitempty"`
	Voice              string  `yaml:"voice,omitempty"`
	Temperature        float64 `yaml:"temperature,omitempty"`
	VADThreshold       float64 `yaml:"vadThreshold,omitempty"`
	PrefixPaddingMs    int     `yaml:"prefixPaddingMs,omitempty"`
	SilenceDurationMs  int     `yaml:"silenceDurationMs,omitempty"`
	MaxResponseTokens  int     `yaml:"maxResponseTokens,omitempty"`
	TranscriptionModel string  `yaml:"transcriptionModel,omitempty"`
}

// CompletionConfig configures the text completion model used by turn-based calls.
type CompletionConfig struct {
	APIKey      string  `yaml:"apiKey,omitempty"`
	Model       string  `yaml:"model,omitempty"`
	BaseURL     string  `yaml:"baseUrl,omitempty"`
	MaxTokens   int     `yaml:"maxTokens,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
}

// KnowledgeConfig configures the knowledge base.
type KnowledgeConfig struct {
	Path      string  `yaml:"path,omitempty"`
	Limit     int     `yaml:"limit,omitempty"`
	MinScore  float64 `yaml:"minScore,omitempty"`
	TimeoutMs int     `yaml:"timeoutMs,omitempty"`
}

// Timeout returns the per-search time budget.
func (k KnowledgeConfig) Timeout() time.Duration {
	return time.Duration(k.TimeoutMs) * time.Millisecond
}

// BridgeConfig tunes per-call audio handling.
type BridgeConfig struct {
	InboundChunkMs            int `yaml:"inboundChunkMs,omitempty"`
	OutboundChunkMs           int `yaml:"outboundChunkMs,omitempty"`
	MediaAttachTimeoutSeconds int `yaml:"mediaAttachTimeoutSeconds,omitempty"`
	GreetingMaxChars          int `yaml:"greetingMaxChars,omitempty"`
	TurnIdleTimeoutSeconds    int `yaml:"turnIdleTimeoutSeconds,omitempty"`
}

// MediaAttachTimeout is how long a streaming session waits for its media stream.
func (b BridgeConfig) MediaAttachTimeout() time.Duration {
	return time.Duration(b.MediaAttachTimeoutSeconds) * time.Second
}

// TurnIdleTimeout is how long a turn-based call waits for a provider
// callback before its status is checked.
func (b BridgeConfig) TurnIdleTimeout() time.Duration {
	return time.Duration(b.TurnIdleTimeoutSeconds) * time.Second
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // "console" | "json"
}

// TenantConfig routes phone numbers to a tenant and its workflows.
type TenantConfig struct {
	ID              string           `yaml:"id"`
	Name            string           `yaml:"name,omitempty"`
	Numbers         []string         `yaml:"numbers,omitempty"`
	Voice           string           `yaml:"voice,omitempty"` // tenant-wide voice preference
	Language        string           `yaml:"language,omitempty"`
	DefaultWorkflow string           `yaml:"defaultWorkflow,omitempty"`
	Workflows       []WorkflowConfig `yaml:"workflows,omitempty"`
}

// WorkflowConfig is the AI configuration a call runs with.
type WorkflowConfig struct {
	ID                  string           `yaml:"id"`
	Mode                string           `yaml:"mode,omitempty"` // "streaming" | "turn_based"
	SystemPrompt        string           `yaml:"systemPrompt,omitempty"`
	Voice               string           `yaml:"voice,omitempty"`
	Language            string           `yaml:"language,omitempty"`
	Tone                string           `yaml:"tone,omitempty"`
	Greeting            string           `yaml:"greeting,omitempty"`
	AssistantName       string           `yaml:"assistantName,omitempty"`
	BusinessDescription string           `yaml:"businessDescription,omitempty"`
	Intents             []session.Intent `yaml:"intents,omitempty"`
}

// Tenant returns the tenant with the given id.
func (c *Config) Tenant(id string) (*TenantConfig, bool) {
	for i := range c.Tenants {
		if c.Tenants[i].ID == id {
			return &c.Tenants[i], true
		}
	}
	return nil, false
}

// Workflow returns the workflow with the given id, or the default workflow
// when id is empty.
func (t *TenantConfig) Workflow(id string) (*WorkflowConfig, bool) {
	if id == "" {
		id = t.DefaultWorkflow
	}
	for i := range t.Workflows {
		if id == "" || t.Workflows[i].ID == id {
			return &t.Workflows[i], true
		}
	}
	return nil, false
}
