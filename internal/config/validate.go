package config

import (
	"fmt"
	"net/url"
	"slices"

	voicebridge "github.com/agentplexus/omnivoice-bridge"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// Server validation
	if cfg.Server.PublicURL == "" {
		add("server.publicUrl", "public url is required")
	} else if u, err := url.Parse(cfg.Server.PublicURL); err != nil || u.Host == "" ||
		(u.Scheme != "http" && u.Scheme != "https") {
		add("server.publicUrl", "must be an absolute http(s) url, got %q", cfg.Server.PublicURL)
	}

	// Twilio validation
	if cfg.Twilio.AccountSID == "" {
		add("twilio.accountSid", "account sid is required")
	}
	if cfg.Twilio.AuthToken == "" {
		add("twilio.authToken", "auth token is required")
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}
	validFormats := []string{"console", "json"}
	if cfg.Logging.Format != "" && !slices.Contains(validFormats, cfg.Logging.Format) {
		add("logging.format", "must be one of %v, got %q", validFormats, cfg.Logging.Format)
	}

	// Bridge validation
	if cfg.Bridge.InboundChunkMs < 0 {
		add("bridge.inboundChunkMs", "must be positive, got %d", cfg.Bridge.InboundChunkMs)
	}
	if cfg.Bridge.OutboundChunkMs < 0 {
		add("bridge.outboundChunkMs", "must be positive, got %d", cfg.Bridge.OutboundChunkMs)
	}
	if cfg.Bridge.MediaAttachTimeoutSeconds < 0 {
		add("bridge.mediaAttachTimeoutSeconds", "must be positive, got %d", cfg.Bridge.MediaAttachTimeoutSeconds)
	}
	if cfg.Knowledge.MinScore < 0 {
		add("knowledge.minScore", "must not be negative, got %v", cfg.Knowledge.MinScore)
	}

	// Tenant validation
	tenantIDs := map[string]bool{}
	numbers := map[string]string{}
	needsRealtime, needsCompletion := false, false
	for i, t := range cfg.Tenants {
		path := fmt.Sprintf("tenants[%d]", i)
		if t.ID == "" {
			add(path+".id", "id is required")
		} else if tenantIDs[t.ID] {
			add(path+".id", "duplicate tenant id %q", t.ID)
		}
		tenantIDs[t.ID] = true

		for _, n := range t.Numbers {
			if owner, ok := numbers[n]; ok {
				add(path+".numbers", "number %s already routed to tenant %q", n, owner)
				continue
			}
			numbers[n] = t.ID
		}

		if len(t.Workflows) == 0 {
			add(path+".workflows", "at least one workflow is required")
		}
		workflowIDs := map[string]bool{}
		for j, w := range t.Workflows {
			wpath := fmt.Sprintf("%s.workflows[%d]", path, j)
			if w.ID == "" {
				add(wpath+".id", "id is required")
			} else if workflowIDs[w.ID] {
				add(wpath+".id", "duplicate workflow id %q", w.ID)
			}
			workflowIDs[w.ID] = true

			switch voicebridge.Mode(w.Mode) {
			case voicebridge.ModeStreaming:
				needsRealtime = true
			case voicebridge.ModeTurnBased:
				needsCompletion = true
			default:
				add(wpath+".mode", "must be one of [%s %s], got %q",
					voicebridge.ModeStreaming, voicebridge.ModeTurnBased, w.Mode)
			}
		}
		if t.DefaultWorkflow != "" && !workflowIDs[t.DefaultWorkflow] {
			add(path+".defaultWorkflow", "unknown workflow %q", t.DefaultWorkflow)
		}
	}

	if needsRealtime && cfg.Realtime.APIKey == "" {
		add("realtime.apiKey", "required when a workflow uses streaming mode")
	}
	if needsCompletion && cfg.Completion.APIKey == "" {
		add("completion.apiKey", "required when a workflow uses turn_based mode")
	}

	return issues
}
