// Package turn drives turn-based calls: the provider speaks and transcribes,
// and a text model answers each caller utterance in between.
package turn

import (
	"context"
	"fmt"
	"strings"
	"time"

	voicebridge "github.com/agentplexus/omnivoice-bridge"
	"github.com/agentplexus/omnivoice-bridge/internal/llm"
	"github.com/agentplexus/omnivoice-bridge/internal/logging"
	"github.com/agentplexus/omnivoice-bridge/internal/rag"
	"github.com/agentplexus/omnivoice-bridge/internal/session"
	"github.com/agentplexus/omnivoice-bridge/tts"
)

// Conversation states reported on the session.
const (
	StateAnswering    = "answering"
	StateGreeting     = "greeting"
	StateListenWindow = "listen_window"
	StateThinking     = "thinking"
	StateSpeaking     = "speaking"
	StateEnded        = "ended"
)

// FallbackReply is spoken when the model fails or answers with nothing.
const FallbackReply = "I'm sorry, I'm having trouble right now. Could you please repeat that?"

const (
	defaultSystemPrompt = "You are a helpful phone assistant."
	brevityInstruction  = "Your reply will be read aloud on a phone call. Aim for one or two short sentences and do not use lists or formatting."
	hangupTimeout       = 5 * time.Second
	inboxSize           = 8

	// DefaultIdleTimeout is how long a call may wait for a provider
	// callback before the bridge asks the provider whether it still exists.
	DefaultIdleTimeout = 30 * time.Second

	// maxStatusMisses consecutive failed status checks end the call.
	maxStatusMisses = 3
)

// CallControl is the call provider surface a turn-based call needs.
// *callsystem.Provider implements it.
type CallControl interface {
	Answer(ctx context.Context, callSID string) error
	Speak(ctx context.Context, callSID, text, voice, language string) error
	StartTranscription(ctx context.Context, callSID, language string) error
	StopTranscription(ctx context.Context, callSID string) error
	Hangup(ctx context.Context, callSID string) error
	CallStatus(ctx context.Context, callSID string) (string, error)
}

// Knowledge returns context snippets for an utterance. *rag.Dispatcher
// implements it.
type Knowledge interface {
	Search(ctx context.Context, tenantID, query string) []rag.Snippet
}

// VoiceResolver maps a voice preference to a provider voice.
// *tts.Provider implements it.
type VoiceResolver interface {
	ResolveVoice(pref, language string) tts.Voice
}

// Options tune every turn-based call.
type Options struct {
	Model            string
	MaxTokens        int
	Temperature      *float64
	GreetingMaxChars int

	// IdleTimeout bounds each wait for a speak-ended or transcript callback.
	// Callbacks never arrive for a caller who hangs up mid-turn, so an idle
	// call is checked with the provider and ended once it is gone.
	IdleTimeout time.Duration
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		MaxTokens:        150,
		GreetingMaxChars: session.DefaultGreetingMaxChars,
		IdleTimeout:      DefaultIdleTimeout,
	}
}

// Controller runs turn-based conversations. It is safe for concurrent use.
type Controller struct {
	calls     CallControl
	llm       llm.Client
	knowledge Knowledge
	voices    VoiceResolver
	registry  *session.Registry
	opts      Options
	log       *logging.Logger
}

// New creates a controller. knowledge and voices may be nil.
func New(calls CallControl, completer llm.Client, knowledge Knowledge, voices VoiceResolver,
	registry *session.Registry, opts Options, log *logging.Logger) (*Controller, error) {
	if calls == nil {
		return nil, fmt.Errorf("call control is required")
	}
	if completer == nil {
		return nil, fmt.Errorf("completion client is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if log == nil {
		log = logging.Nop()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultOptions().MaxTokens
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	return &Controller{
		calls:     calls,
		llm:       completer,
		knowledge: knowledge,
		voices:    voices,
		registry:  registry,
		opts:      opts,
		log:       log.Sub("turn"),
	}, nil
}

// Start prepares the conversation for sess. Call Run on the result to
// drive it.
func (c *Controller) Start(sess *session.VoiceSession) (*Conversation, error) {
	if sess.Mode() != voicebridge.ModeTurnBased {
		return nil, fmt.Errorf("session %s is %s, not turn based", sess.CallID(), sess.Mode())
	}
	cfg := sess.Config()
	language := cfg.Language
	voice := cfg.Voice
	if c.voices != nil {
		v := c.voices.ResolveVoice(cfg.Voice, language)
		voice = v.ID
		if language == "" {
			language = v.Language
		}
	}
	return &Conversation{
		c:        c,
		sess:     sess,
		cfg:      cfg,
		voice:    voice,
		language: language,
		inbox:    make(chan signal, inboxSize),
		log:      c.log.WithCall(sess.CallID(), sess.ID(), sess.TenantID()),
	}, nil
}

// Instructions composes the completion system prompt for a call, with
// optional knowledge context appended.
func Instructions(cfg session.AIConfig, knowledge string) string {
	var b strings.Builder
	if p := strings.TrimSpace(cfg.SystemPrompt); p != "" {
		b.WriteString(p)
	} else {
		b.WriteString(defaultSystemPrompt)
	}
	if cfg.Tone != "" {
		fmt.Fprintf(&b, "\nTone of voice: %s.", strings.TrimRight(cfg.Tone, "."))
	}
	if cfg.Language != "" {
		fmt.Fprintf(&b, "\nReply in %s unless the caller uses another language.", cfg.Language)
	}
	b.WriteString("\n")
	b.WriteString(brevityInstruction)
	if knowledge != "" {
		b.WriteString("\n\n")
		b.WriteString(strings.TrimRight(knowledge, "\n"))
	}
	return b.String()
}
