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
)

type signalKind int

const (
	signalSpeakEnded signalKind = iota
	signalTranscript
)

type signal struct {
	kind signalKind
	text string
}

// Conversation is one turn-based call. Provider callbacks are delivered
// with SpeakEnded and Transcript; Run processes them one at a time.
type Conversation struct {
	c        *Controller
	sess     *session.VoiceSession
	cfg      session.AIConfig
	voice    string
	language string
	inbox    chan signal
	log      *logging.Logger

	// state is owned by the Run goroutine.
	state string
}

// Session returns the session the conversation drives.
func (cv *Conversation) Session() *session.VoiceSession { return cv.sess }

// SpeakEnded reports that the provider finished playing the last utterance.
// It returns false once the call has ended.
func (cv *Conversation) SpeakEnded() bool {
	return cv.post(signal{kind: signalSpeakEnded})
}

// Transcript delivers a caller utterance. Only the first transcript of a
// listen window is accepted; the rest, and any arriving outside a window,
// are dropped and false is returned.
func (cv *Conversation) Transcript(text string) bool {
	if !cv.sess.StopListening() {
		cv.log.Debug().Msg("transcript outside listen window dropped")
		return false
	}
	return cv.post(signal{kind: signalTranscript, text: text})
}

func (cv *Conversation) post(s signal) bool {
	select {
	case <-cv.sess.Done():
		return false
	default:
	}
	select {
	case cv.inbox <- s:
		return true
	case <-cv.sess.Done():
		return false
	}
}

// Run drives the call until it is hung up or a provider operation fails.
// On return the session is closed and removed from the registry. A hangup
// returns nil.
func (cv *Conversation) Run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("turn controller panic: %v", r)
			cv.log.Error().Interface("panic", r).Msg("conversation panicked")
		}
		cv.close(err)
	}()

	ctx := cv.sess.Context()

	cv.setState(StateAnswering)
	if err := cv.c.calls.Answer(ctx, cv.sess.CallID()); err != nil {
		return cv.failed(ctx, err)
	}

	cv.setState(StateGreeting)
	if err := cv.say(ctx, cv.cfg.ResolveGreeting(cv.c.opts.GreetingMaxChars)); err != nil {
		return cv.failed(ctx, err)
	}

	idle := time.NewTimer(cv.c.opts.IdleTimeout)
	defer idle.Stop()
	misses := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-cv.inbox:
			if err := cv.handle(ctx, s); err != nil {
				return cv.failed(ctx, err)
			}
			misses = 0
			idle.Reset(cv.c.opts.IdleTimeout)
		case <-idle.C:
			live, err := cv.callLive(ctx)
			switch {
			case err != nil:
				misses++
				cv.log.Warn().Err(err).Int("misses", misses).Msg("call status check failed")
				if misses >= maxStatusMisses {
					return cv.failed(ctx, err)
				}
			case !live:
				cv.log.Info().Str("state", cv.state).Msg("call gone while waiting for the provider")
				return nil
			default:
				misses = 0
			}
			idle.Reset(cv.c.opts.IdleTimeout)
		}
	}
}

// callLive asks the provider whether the call is still up.
func (cv *Conversation) callLive(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, hangupTimeout)
	defer cancel()
	status, err := cv.c.calls.CallStatus(ctx, cv.sess.CallID())
	if err != nil {
		return false, err
	}
	return !voicebridge.IsTerminalStatus(status), nil
}

func (cv *Conversation) handle(ctx context.Context, s signal) error {
	switch s.kind {
	case signalSpeakEnded:
		if cv.state != StateGreeting && cv.state != StateSpeaking {
			cv.log.Debug().Str("state", cv.state).Msg("unexpected speak-ended ignored")
			return nil
		}
		return cv.listen(ctx)

	case signalTranscript:
		if cv.state != StateListenWindow {
			return nil
		}
		text := strings.TrimSpace(s.text)
		if text == "" {
			cv.log.Debug().Msg("no speech, reopening listen window")
			return cv.listen(ctx)
		}
		return cv.respond(ctx, text)
	}
	return nil
}

// listen opens a listen window. The gate opens before the provider is
// asked to transcribe so an early result is not lost.
func (cv *Conversation) listen(ctx context.Context) error {
	cv.setState(StateListenWindow)
	cv.sess.SetListening(true)
	if err := cv.c.calls.StartTranscription(ctx, cv.sess.CallID(), cv.language); err != nil {
		cv.sess.SetListening(false)
		return err
	}
	return nil
}

func (cv *Conversation) respond(ctx context.Context, text string) error {
	// The window is closed; park the call while the reply is prepared.
	if err := cv.c.calls.StopTranscription(ctx, cv.sess.CallID()); err != nil && ctx.Err() == nil {
		cv.log.Debug().Err(err).Msg("stop transcription")
	}

	intent := DetectIntent(text, cv.cfg.Intents)
	cv.sess.SetIntent(intent)
	cv.sess.AppendTurn(session.RoleUser, text)
	cv.log.Info().Str("role", session.RoleUser).Str("intent", intent).Str("text", text).Msg("transcript")

	cv.setState(StateThinking)
	reply := cv.think(ctx, text)
	if ctx.Err() != nil {
		return nil
	}

	cv.setState(StateSpeaking)
	return cv.say(ctx, reply)
}

// think asks the model for the next reply. Model failures yield
// FallbackReply rather than ending the call.
func (cv *Conversation) think(ctx context.Context, text string) string {
	var knowledge string
	if cv.c.knowledge != nil {
		knowledge = rag.ContextBlock(cv.c.knowledge.Search(ctx, cv.sess.TenantID(), text))
	}

	req := llm.CompletionRequest{
		Model:       cv.c.opts.Model,
		System:      Instructions(cv.cfg, knowledge),
		Messages:    messages(cv.sess.History()),
		MaxTokens:   cv.c.opts.MaxTokens,
		Temperature: cv.c.opts.Temperature,
	}
	resp, err := cv.c.llm.Complete(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			cv.log.Warn().Err(err).Str("provider", cv.c.llm.Name()).Msg("completion failed")
		}
		return FallbackReply
	}
	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		cv.log.Warn().Str("provider", cv.c.llm.Name()).Msg("empty completion")
		return FallbackReply
	}
	cv.log.Debug().
		Int("input_tokens", resp.Usage.InputTokens).
		Int("output_tokens", resp.Usage.OutputTokens).
		Dur("took", resp.Duration).
		Msg("completion")
	return reply
}

func (cv *Conversation) say(ctx context.Context, text string) error {
	cv.sess.AppendTurn(session.RoleAssistant, text)
	cv.log.Info().Str("role", session.RoleAssistant).Str("text", text).Msg("transcript")
	return cv.c.calls.Speak(ctx, cv.sess.CallID(), text, cv.voice, cv.language)
}

func (cv *Conversation) setState(state string) {
	cv.state = state
	cv.sess.SetState(state)
}

// failed turns a provider error into the call's end. Errors caused by the
// session ending are a hangup, not a failure.
func (cv *Conversation) failed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (cv *Conversation) close(cause error) {
	cv.setState(StateEnded)
	turns := len(cv.sess.History())
	if cause != nil && cv.sess.Context().Err() == nil {
		ctx, cancel := context.WithTimeout(context.Background(), hangupTimeout)
		if err := cv.c.calls.Hangup(ctx, cv.sess.CallID()); err != nil {
			cv.log.Debug().Err(err).Msg("hangup after failure")
		}
		cancel()
	}
	if err := cv.sess.Close(); err != nil {
		cv.log.Debug().Err(err).Msg("session close")
	}
	cv.c.registry.RemoveSession(cv.sess)

	ev := cv.log.Info()
	if cause != nil {
		ev = cv.log.Warn().Err(cause)
	}
	ev.Int("turns", turns).Str("intent", cv.sess.Intent()).Msg("conversation ended")
}

func messages(history []session.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(history))
	for _, t := range history {
		role := llm.RoleUser
		if t.Role == session.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	return msgs
}
