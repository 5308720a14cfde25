// Package streaming relays a call's audio between Twilio Media Streams and
// a realtime voice AI, transcoding in both directions.
package streaming

import (
	"fmt"
	"strings"

	voicebridge "github.com/agentplexus/omnivoice-bridge"
	"github.com/agentplexus/omnivoice-bridge/audio"
	"github.com/agentplexus/omnivoice-bridge/internal/logging"
	"github.com/agentplexus/omnivoice-bridge/internal/session"
	"github.com/agentplexus/omnivoice-bridge/realtime"
)

// Bridge states reported on the session.
const (
	StateAwaitingMedia = "awaiting_media"
	StateInitializing  = "initializing"
	StateReady         = "ready"
	StateClosing       = "closing"
)

// Options tune every bridged call.
type Options struct {
	// Realtime is the session.update template. Instructions and voice are
	// filled in per call.
	Realtime         realtime.SessionConfig
	Tools            []realtime.Tool
	InboundChunkMs   int
	OutboundChunkMs  int
	GreetingMaxChars int
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Realtime: realtime.SessionConfig{
			InputAudioTranscription: &realtime.InputAudioTranscription{Model: "whisper-1"},
			TurnDetection: &realtime.TurnDetection{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMs:   300,
				SilenceDurationMs: 500,
			},
			Temperature:             0.8,
			MaxResponseOutputTokens: 300,
		},
		InboundChunkMs:   voicebridge.DefaultChunkMillis,
		OutboundChunkMs:  voicebridge.DefaultChunkMillis,
		GreetingMaxChars: session.DefaultGreetingMaxChars,
	}
}

// Bridge runs streaming sessions. It is safe for concurrent use; each call
// gets its own goroutine and state.
type Bridge struct {
	dialer     Dialer
	tools      ToolHandler
	registry   *session.Registry
	opts       Options
	transcoder *audio.Transcoder
	log        *logging.Logger
}

// New creates a bridge. tools may be nil, in which case every function call
// is answered with an error result.
func New(dialer Dialer, registry *session.Registry, tools ToolHandler, opts Options, log *logging.Logger) (*Bridge, error) {
	if dialer == nil {
		return nil, fmt.Errorf("realtime dialer is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if log == nil {
		log = logging.Nop()
	}
	if opts.InboundChunkMs <= 0 {
		opts.InboundChunkMs = voicebridge.DefaultChunkMillis
	}
	if opts.OutboundChunkMs <= 0 {
		opts.OutboundChunkMs = voicebridge.DefaultChunkMillis
	}
	return &Bridge{
		dialer:     dialer,
		tools:      tools,
		registry:   registry,
		opts:       opts,
		transcoder: audio.DefaultTranscoder(),
		log:        log.Sub("streaming"),
	}, nil
}

// sessionConfig builds the session.update payload for a call.
func (b *Bridge) sessionConfig(cfg session.AIConfig) realtime.SessionConfig {
	sc := b.opts.Realtime
	sc.Modalities = []string{"audio", "text"}
	sc.Instructions = Instructions(cfg, b.opts.GreetingMaxChars)
	sc.Voice = realtime.ResolveVoice(cfg.Voice)
	sc.InputAudioFormat = realtime.AudioFormatPCM16
	sc.OutputAudioFormat = realtime.AudioFormatPCM16
	if len(b.opts.Tools) > 0 {
		sc.Tools = append([]realtime.Tool(nil), b.opts.Tools...)
		sc.ToolChoice = "auto"
	}
	return sc
}

// Instructions composes the realtime system instructions for a call.
func Instructions(cfg session.AIConfig, greetingMaxChars int) string {
	var b strings.Builder
	if p := strings.TrimSpace(cfg.SystemPrompt); p != "" {
		b.WriteString(p)
	} else {
		b.WriteString("You are a helpful phone assistant.")
	}
	if cfg.Tone != "" {
		fmt.Fprintf(&b, "\nTone of voice: %s.", strings.TrimRight(cfg.Tone, "."))
	}
	if cfg.Language != "" {
		fmt.Fprintf(&b, "\nSpeak in the caller's language; default to %s.", cfg.Language)
	}
	b.WriteString("\nKeep answers short and conversational; this is a phone call.")
	fmt.Fprintf(&b, "\nOpen the call by saying: %q", cfg.ResolveGreeting(greetingMaxChars))
	return b.String()
}
