// Package session holds the per-call VoiceSession and the registry that owns
// every live session.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	voicebridge "github.com/agentplexus/omnivoice-bridge"
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one role-tagged utterance in a conversation.
type Turn struct {
	Role string
	Text string
	At   time.Time
}

// Intent is a keyword-matched caller intent configured per tenant.
type Intent struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Keywords []string `yaml:"keywords" json:"keywords"`
	Enabled  bool     `yaml:"enabled" json:"enabled"`
}

// AIConfig is the AI configuration snapshot taken when a session starts.
type AIConfig struct {
	SystemPrompt        string
	Voice               string
	Language            string
	Tone                string
	Greeting            string
	AssistantName       string
	BusinessDescription string
	Intents             []Intent
}

// Params identify and route a new session.
type Params struct {
	CallID     string
	TenantID   string
	WorkflowID string
	From       string
	To         string
	Mode       voicebridge.Mode
	Config     AIConfig
}

// VoiceSession is the unit of work for one phone call. Identity, routing and
// configuration are fixed at creation; the remaining fields are safe for
// concurrent use.
type VoiceSession struct {
	callID     string
	id         string
	tenantID   string
	workflowID string
	from       string
	to         string
	mode       voicebridge.Mode
	config     AIConfig
	createdAt  time.Time

	ctx    context.Context
	cancel context.CancelFunc

	listening atomic.Bool
	state     atomic.Value

	mu        sync.Mutex
	streamSID string
	telephony io.Closer
	ai        io.Closer
	history   []Turn
	intent    string
	closed    bool
	closeOnce sync.Once
}

func newVoiceSession(parent context.Context, p Params) *VoiceSession {
	ctx, cancel := context.WithCancel(parent)
	cfg := p.Config
	cfg.Intents = append([]Intent(nil), p.Config.Intents...)
	s := &VoiceSession{
		callID:     p.CallID,
		id:         uuid.NewString(),
		tenantID:   p.TenantID,
		workflowID: p.WorkflowID,
		from:       p.From,
		to:         p.To,
		mode:       p.Mode,
		config:     cfg,
		createdAt:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.state.Store("created")
	return s
}

// CallID returns the provider's call SID, the registry key.
func (s *VoiceSession) CallID() string { return s.callID }

// ID returns the bridge-assigned session id.
func (s *VoiceSession) ID() string { return s.id }

// TenantID returns the tenant the call was routed to.
func (s *VoiceSession) TenantID() string { return s.tenantID }

// WorkflowID returns the tenant workflow handling the call.
func (s *VoiceSession) WorkflowID() string { return s.workflowID }

// From returns the caller's number.
func (s *VoiceSession) From() string { return s.from }

// To returns the dialed number.
func (s *VoiceSession) To() string { return s.to }

// Mode returns how the call's audio is handled.
func (s *VoiceSession) Mode() voicebridge.Mode { return s.mode }

// CreatedAt returns when the session was created.
func (s *VoiceSession) CreatedAt() time.Time { return s.createdAt }

// Config returns a copy of the session's AI configuration.
func (s *VoiceSession) Config() AIConfig {
	cfg := s.config
	cfg.Intents = append([]Intent(nil), s.config.Intents...)
	return cfg
}

// Context is canceled when the session closes.
func (s *VoiceSession) Context() context.Context { return s.ctx }

// Done is closed when the session closes.
func (s *VoiceSession) Done() <-chan struct{} { return s.ctx.Done() }

// State returns the driver's last reported state name.
func (s *VoiceSession) State() string { return s.state.Load().(string) }

// SetState records the driver's current state name for introspection.
func (s *VoiceSession) SetState(state string) { s.state.Store(state) }

// IsListening reports whether transcripts are currently accepted.
func (s *VoiceSession) IsListening() bool { return s.listening.Load() }

// SetListening opens or closes the listen window.
func (s *VoiceSession) SetListening(v bool) { s.listening.Store(v) }

// StopListening closes the listen window and reports whether it was open.
func (s *VoiceSession) StopListening() bool { return s.listening.CompareAndSwap(true, false) }

// StreamSID returns the media stream identifier used to address outbound audio.
func (s *VoiceSession) StreamSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSID
}

// SetStreamSID records the media stream identifier.
func (s *VoiceSession) SetStreamSID(sid string) {
	s.mu.Lock()
	s.streamSID = sid
	s.mu.Unlock()
}

// AttachTelephony hands the telephony connection to the session, which
// closes it on teardown. A second attach fails.
func (s *VoiceSession) AttachTelephony(conn io.Closer) error {
	return s.attach(&s.telephony, conn, "telephony")
}

// AttachAI hands the realtime AI connection to the session.
func (s *VoiceSession) AttachAI(conn io.Closer) error {
	if s.mode != voicebridge.ModeStreaming {
		return fmt.Errorf("session %s: AI connection requires streaming mode", s.callID)
	}
	return s.attach(&s.ai, conn, "ai")
}

func (s *VoiceSession) attach(slot *io.Closer, conn io.Closer, side string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session %s: %w", s.callID, voicebridge.ErrConnectionUnavailable)
	}
	if *slot != nil {
		return fmt.Errorf("session %s: %s connection already attached", s.callID, side)
	}
	*slot = conn
	return nil
}

// AppendTurn adds an utterance to the conversation history.
func (s *VoiceSession) AppendTurn(role, text string) {
	s.mu.Lock()
	if !s.closed {
		s.history = append(s.history, Turn{Role: role, Text: text, At: time.Now()})
	}
	s.mu.Unlock()
}

// History returns a copy of the conversation so far.
func (s *VoiceSession) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.history...)
}

// Intent returns the last detected intent id.
func (s *VoiceSession) Intent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intent
}

// SetIntent records the intent detected for the latest utterance.
func (s *VoiceSession) SetIntent(id string) {
	s.mu.Lock()
	s.intent = id
	s.mu.Unlock()
}

// Closed reports whether Close has run.
func (s *VoiceSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close cancels the session context, closes both connections and discards
// the conversation. Only the first call does any work.
func (s *VoiceSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.listening.Store(false)

		s.mu.Lock()
		s.closed = true
		telephony, ai := s.telephony, s.ai
		s.history = nil
		s.mu.Unlock()

		var errs []error
		if ai != nil {
			if cerr := ai.Close(); cerr != nil {
				errs = append(errs, fmt.Errorf("close ai: %w", cerr))
			}
		}
		if telephony != nil {
			if cerr := telephony.Close(); cerr != nil {
				errs = append(errs, fmt.Errorf("close telephony: %w", cerr))
			}
		}
		s.state.Store("closed")
		err = errors.Join(errs...)
	})
	return err
}
