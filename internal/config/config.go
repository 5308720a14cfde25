// Package config loads the bridge configuration from YAML, the environment
// and an optional .env file.
package config

import (
	"fmt"

	voicebridge "github.com/agentplexus/omnivoice-bridge"
	"github.com/agentplexus/omnivoice-bridge/realtime"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Twilio.APIBaseURL == "" {
		cfg.Twilio.APIBaseURL = voicebridge.DefaultAPIBaseURL
	}

	rt := &cfg.Realtime
	if rt.URL == "" {
		rt.URL = voicebridge.DefaultRealtimeURL
	}
	if rt.Model == "" {
		rt.Model = voicebridge.DefaultRealtimeModel
	}
	if rt.Voice == "" {
		rt.Voice = realtime.DefaultVoice
	}
	if rt.Temperature == 0 {
		rt.Temperature = 0.8
	}
	if rt.VADThreshold == 0 {
		rt.VADThreshold = 0.5
	}
	if rt.PrefixPaddingMs == 0 {
		rt.PrefixPaddingMs = 300
	}
	if rt.SilenceDurationMs == 0 {
		rt.SilenceDurationMs = 500
	}
	if rt.MaxResponseTokens == 0 {
		rt.MaxResponseTokens = 300
	}
	if rt.TranscriptionModel == "" {
		rt.TranscriptionModel = "whisper-1"
	}

	if cfg.Completion.Model == "" {
		cfg.Completion.Model = "gemini-2.5-flash"
	}
	if cfg.Completion.MaxTokens == 0 {
		cfg.Completion.MaxTokens = 150
	}
	if cfg.Completion.Temperature == 0 {
		cfg.Completion.Temperature = 0.7
	}

	if cfg.Knowledge.Limit == 0 {
		cfg.Knowledge.Limit = 3
	}
	if cfg.Knowledge.TimeoutMs == 0 {
		cfg.Knowledge.TimeoutMs = 2000
	}

	if cfg.Bridge.InboundChunkMs == 0 {
		cfg.Bridge.InboundChunkMs = voicebridge.DefaultChunkMillis
	}
	if cfg.Bridge.OutboundChunkMs == 0 {
		cfg.Bridge.OutboundChunkMs = voicebridge.DefaultChunkMillis
	}
	if cfg.Bridge.MediaAttachTimeoutSeconds == 0 {
		cfg.Bridge.MediaAttachTimeoutSeconds = 15
	}
	if cfg.Bridge.GreetingMaxChars == 0 {
		cfg.Bridge.GreetingMaxChars = 220
	}
	if cfg.Bridge.TurnIdleTimeoutSeconds == 0 {
		cfg.Bridge.TurnIdleTimeoutSeconds = 30
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	for i := range cfg.Tenants {
		for j := range cfg.Tenants[i].Workflows {
			if cfg.Tenants[i].Workflows[j].Mode == "" {
				cfg.Tenants[i].Workflows[j].Mode = string(voicebridge.ModeStreaming)
			}
		}
	}
}
