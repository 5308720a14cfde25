// Package callbridge owns the lifecycle of every call: it resolves a call's
// workflow, creates its session, starts the driver for the session's mode
// and tears it down on hangup.
package callbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	voicebridge "github.com/agentplexus/omnivoice-bridge"
	"github.com/agentplexus/omnivoice-bridge/callsystem"
	"github.com/agentplexus/omnivoice-bridge/internal/logging"
	"github.com/agentplexus/omnivoice-bridge/internal/session"
	"github.com/agentplexus/omnivoice-bridge/internal/streaming"
	"github.com/agentplexus/omnivoice-bridge/internal/turn"
	"github.com/agentplexus/omnivoice-bridge/internal/workflow"
	"github.com/agentplexus/omnivoice-bridge/transport"
)

// DefaultMediaAttachTimeout bounds the wait for a streaming call's media
// websocket after the session is created.
const DefaultMediaAttachTimeout = 15 * time.Second

// StreamRunner drives a streaming session. *streaming.Bridge implements it.
type StreamRunner interface {
	Run(sess *session.VoiceSession, tel streaming.Telephony) error
}

// TurnStarter prepares turn-based conversations. *turn.Controller
// implements it.
type TurnStarter interface {
	Start(sess *session.VoiceSession) (*turn.Conversation, error)
}

// StartRequest identifies a new call.
type StartRequest struct {
	CallID     string
	TenantID   string
	WorkflowID string
	From       string
	To         string
}

// Service starts and ends sessions. It is safe for concurrent use.
type Service struct {
	registry      *session.Registry
	resolver      workflow.Resolver
	streams       StreamRunner
	turns         TurnStarter
	attachTimeout time.Duration
	log           *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	pending       map[string]*time.Timer        // streaming calls awaiting media
	conversations map[string]*turn.Conversation // turn-based calls
}

// Option configures the Service.
type Option func(*Service)

// WithStreaming enables streaming sessions.
func WithStreaming(r StreamRunner) Option {
	return func(s *Service) { s.streams = r }
}

// WithTurnBased enables turn-based sessions.
func WithTurnBased(t TurnStarter) Option {
	return func(s *Service) { s.turns = t }
}

// WithMediaAttachTimeout sets how long a streaming session may wait for its
// media stream.
func WithMediaAttachTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.attachTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// New creates a service over registry and resolver.
func New(registry *session.Registry, resolver workflow.Resolver, opts ...Option) (*Service, error) {
	if registry == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("workflow resolver is required")
	}
	s := &Service{
		registry:      registry,
		resolver:      resolver,
		attachTimeout: DefaultMediaAttachTimeout,
		log:           logging.Nop(),
		pending:       make(map[string]*time.Timer),
		conversations: make(map[string]*turn.Conversation),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.streams == nil && s.turns == nil {
		return nil, fmt.Errorf("no session driver configured")
	}
	s.log = s.log.Sub("callbridge")
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// StartSession resolves the call's workflow, registers its session and
// starts the driver for the workflow's mode. It returns the session id.
// Streaming sessions wait for AttachMedia; turn-based sessions start
// talking immediately.
func (s *Service) StartSession(ctx context.Context, req StartRequest) (string, error) {
	if s.ctx.Err() != nil {
		return "", fmt.Errorf("call bridge is shutting down")
	}
	if _, exists := s.registry.Get(req.CallID); exists {
		return "", fmt.Errorf("%w: %s", voicebridge.ErrDuplicateSession, req.CallID)
	}

	res, err := s.resolver.Resolve(ctx, req.TenantID, req.WorkflowID)
	if err != nil {
		return "", fmt.Errorf("resolve workflow: %w", err)
	}
	if err := s.supports(res.Mode); err != nil {
		return "", err
	}

	sess, err := s.registry.Create(s.ctx, session.Params{
		CallID:     req.CallID,
		TenantID:   res.TenantID,
		WorkflowID: res.WorkflowID,
		From:       req.From,
		To:         req.To,
		Mode:       res.Mode,
		Config:     res.Config,
	})
	if err != nil {
		return "", err
	}

	log := s.log.WithCall(sess.CallID(), sess.ID(), sess.TenantID())

	switch sess.Mode() {
	case voicebridge.ModeStreaming:
		sess.SetState(streaming.StateAwaitingMedia)
		s.awaitMedia(sess)
	case voicebridge.ModeTurnBased:
		if err := s.startConversation(sess); err != nil {
			s.discard(sess)
			return "", err
		}
	}

	log.Info().
		Str("workflow_id", sess.WorkflowID()).
		Str("mode", string(sess.Mode())).
		Msg("session started")
	return sess.ID(), nil
}

func (s *Service) supports(mode voicebridge.Mode) error {
	switch {
	case mode == voicebridge.ModeStreaming && s.streams == nil,
		mode == voicebridge.ModeTurnBased && s.turns == nil:
		return fmt.Errorf("%s sessions are not enabled", mode)
	case !mode.Valid():
		return fmt.Errorf("unknown session mode %q", mode)
	}
	return nil
}

// awaitMedia arms the media attach timeout for a streaming session.
func (s *Service) awaitMedia(sess *session.VoiceSession) {
	callID := sess.CallID()
	var timer *time.Timer
	timer = time.AfterFunc(s.attachTimeout, func() {
		s.mu.Lock()
		current, ok := s.pending[callID]
		if ok && current == timer {
			delete(s.pending, callID)
		}
		s.mu.Unlock()
		if !ok || current != timer {
			return
		}
		s.log.WithCall(callID, sess.ID(), sess.TenantID()).Warn().
			Dur("timeout", s.attachTimeout).
			Msg("media stream never attached")
		s.discard(sess)
	})

	s.mu.Lock()
	s.pending[callID] = timer
	s.mu.Unlock()
}

// claimPending disarms the attach timeout for callID. It reports false when
// the timeout already fired or the session was not waiting.
func (s *Service) claimPending(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer, ok := s.pending[callID]
	if !ok {
		return false
	}
	delete(s.pending, callID)
	timer.Stop()
	return true
}

func (s *Service) startConversation(sess *session.VoiceSession) error {
	conv, err := s.turns.Start(sess)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conversations[sess.CallID()] = conv
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := conv.Run()

		s.mu.Lock()
		if s.conversations[sess.CallID()] == conv {
			delete(s.conversations, sess.CallID())
		}
		s.mu.Unlock()

		if err != nil {
			s.log.WithCall(sess.CallID(), sess.ID(), sess.TenantID()).Warn().Err(err).Msg("conversation failed")
		}
	}()
	return nil
}

// AttachMedia hands a telephony media connection to its streaming session.
// The call is identified by the stream's custom parameters, or the call SID
// on the start event. The connection is closed if it cannot be attached.
func (s *Service) AttachMedia(ctx context.Context, start transport.Event, tel streaming.Telephony) error {
	callID := start.CustomParams[callsystem.ParamCallSID]
	if callID == "" {
		callID = start.CallSID
	}

	sess, ok := s.registry.Get(callID)
	if !ok {
		tel.Close()
		return fmt.Errorf("%w: %s", voicebridge.ErrSessionNotFound, callID)
	}
	if sess.Mode() != voicebridge.ModeStreaming {
		tel.Close()
		return fmt.Errorf("session %s is %s, not streaming", callID, sess.Mode())
	}
	if err := ctx.Err(); err != nil {
		tel.Close()
		return err
	}
	if !s.claimPending(callID) {
		tel.Close()
		return fmt.Errorf("session %s is not awaiting media", callID)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.streams.Run(sess, tel); err != nil {
			s.log.WithCall(sess.CallID(), sess.ID(), sess.TenantID()).Warn().Err(err).Msg("stream ended with error")
		}
	}()
	return nil
}

// EndSession tears down the session for callID. Ending an unknown or
// already ended call is not an error.
func (s *Service) EndSession(callID string) error {
	s.claimPending(callID)
	sess, ok := s.registry.Get(callID)
	if !ok {
		return nil
	}
	s.discard(sess)
	s.log.WithCall(callID, sess.ID(), sess.TenantID()).Info().Msg("session ended")
	return nil
}

func (s *Service) discard(sess *session.VoiceSession) {
	if err := sess.Close(); err != nil {
		s.log.Debug().Err(err).Str("call_sid", sess.CallID()).Msg("session close")
	}
	s.registry.RemoveSession(sess)
}

func (s *Service) conversation(callID string) (*turn.Conversation, error) {
	s.mu.Lock()
	conv, ok := s.conversations[callID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", voicebridge.ErrSessionNotFound, callID)
	}
	return conv, nil
}

// SpeakEnded reports that the provider finished speaking on a turn-based call.
func (s *Service) SpeakEnded(callID string) error {
	conv, err := s.conversation(callID)
	if err != nil {
		return err
	}
	if !conv.SpeakEnded() {
		return fmt.Errorf("%w: %s", voicebridge.ErrSessionNotFound, callID)
	}
	return nil
}

// Transcript delivers a caller utterance on a turn-based call. It reports
// whether the utterance was accepted; transcripts outside a listen window
// are dropped.
func (s *Service) Transcript(callID, text string) (bool, error) {
	conv, err := s.conversation(callID)
	if err != nil {
		return false, err
	}
	return conv.Transcript(text), nil
}

// Session returns the live session for callID.
func (s *Service) Session(callID string) (*session.VoiceSession, bool) {
	return s.registry.Get(callID)
}

// ListActive returns summaries of every live session.
func (s *Service) ListActive() []session.Summary {
	return s.registry.ListActive()
}

// Shutdown ends every session and waits for their drivers to return, or
// for ctx to be done.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	for callID, timer := range s.pending {
		timer.Stop()
		delete(s.pending, callID)
	}
	s.mu.Unlock()

	for _, sess := range s.registry.All() {
		s.discard(sess)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info().Msg("all sessions ended")
		return nil
	case <-ctx.Done():
		return errors.Join(fmt.Errorf("sessions still draining"), ctx.Err())
	}
}
