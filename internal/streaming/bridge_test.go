package streaming

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	voicebridge "github.com/agentplexus/omnivoice-bridge"
	"github.com/agentplexus/omnivoice-bridge/internal/session"
	"github.com/agentplexus/omnivoice-bridge/realtime"
	"github.com/agentplexus/omnivoice-bridge/transport"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeTelephony struct {
	events chan transport.Event
	sid    string

	mu      sync.Mutex
	sent    [][]byte
	clears  int
	closed  bool
	sendErr error
}

func newFakeTelephony(sid string) *fakeTelephony {
	return &fakeTelephony{events: make(chan transport.Event, 32), sid: sid}
}

func (f *fakeTelephony) Events() <-chan transport.Event { return f.events }
func (f *fakeTelephony) StreamSID() string              { return f.sid }

func (f *fakeTelephony) SendMedia(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return voicebridge.ErrConnectionUnavailable
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), payload...))
	return nil
}

func (f *fakeTelephony) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeTelephony) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTelephony) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeTelephony) Clears() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

func (f *fakeTelephony) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTelephony) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

type fakeAI struct {
	events chan realtime.Event

	mu        sync.Mutex
	updates   []realtime.SessionConfig
	appended  [][]byte
	responses int
	results   []toolResult
	closed    bool
}

func newFakeAI() *fakeAI {
	return &fakeAI{events: make(chan realtime.Event, 32)}
}

func (f *fakeAI) Events() <-chan realtime.Event { return f.events }

func (f *fakeAI) UpdateSession(cfg realtime.SessionConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, cfg)
	return nil
}

func (f *fakeAI) AppendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return voicebridge.ErrConnectionUnavailable
	}
	f.appended = append(f.appended, append([]byte(nil), pcm...))
	return nil
}

func (f *fakeAI) CreateResponse() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses++
	return nil
}

func (f *fakeAI) SendFunctionResult(callID, output string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, toolResult{callID: callID, output: output})
	return nil
}

func (f *fakeAI) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeAI) snapshot() (updates []realtime.SessionConfig, appended [][]byte, responses int, results []toolResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append(updates, f.updates...), append(appended, f.appended...), f.responses, append(results, f.results...)
}

func (f *fakeAI) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type recordingTools struct {
	mu      sync.Mutex
	calls   []string
	tenants []string
	release chan struct{} // nil means answer immediately
}

func (r *recordingTools) HandleToolCall(ctx context.Context, tenantID, name, arguments string) string {
	r.mu.Lock()
	r.calls = append(r.calls, arguments)
	r.tenants = append(r.tenants, tenantID)
	r.mu.Unlock()
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return `{"error":"canceled"}`
		}
	}
	return `{"results":[],"args":` + arguments + `}`
}

func (r *recordingTools) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type harness struct {
	reg  *session.Registry
	sess *session.VoiceSession
	tel  *fakeTelephony
	ai   *fakeAI
	done chan error
}

func startBridge(t *testing.T, tools ToolHandler, dialErr error) *harness {
	t.Helper()
	reg := session.NewRegistry(nil)
	sess, err := reg.Create(context.Background(), session.Params{
		CallID:   "CA1",
		TenantID: "acme",
		Mode:     voicebridge.ModeStreaming,
		Config:   session.AIConfig{SystemPrompt: "Be nice.", Voice: "female", Greeting: "Hi, Acme here."},
	})
	require.NoError(t, err)

	h := &harness{reg: reg, sess: sess, tel: newFakeTelephony("MZ1"), ai: newFakeAI(), done: make(chan error, 1)}
	dialer := DialerFunc(func(ctx context.Context) (AI, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return h.ai, nil
	})
	b, err := New(dialer, reg, tools, DefaultOptions(), nil)
	require.NoError(t, err)

	go func() { h.done <- b.Run(sess, h.tel) }()
	t.Cleanup(func() { sess.Close() })
	return h
}

func (h *harness) ready(t *testing.T) {
	t.Helper()
	h.ai.events <- realtime.Event{Type: realtime.EventSessionCreated}
	h.ai.events <- realtime.Event{Type: realtime.EventSessionUpdated}
	require.Eventually(t, func() bool { return h.sess.State() == StateReady }, waitFor, tick)
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(waitFor):
		t.Fatal("bridge did not stop")
		return nil
	}
}

func (h *harness) assertTornDown(t *testing.T) {
	t.Helper()
	assert.True(t, h.tel.Closed(), "telephony closed")
	assert.True(t, h.sess.Closed(), "session closed")
	assert.Equal(t, 0, h.reg.Len(), "registry empty")
	_, ok := h.reg.Get("CA1")
	assert.False(t, ok)
}

func media(payload []byte) transport.Event {
	return transport.Event{Type: transport.EventMedia, StreamSID: "MZ1", Payload: payload}
}

func TestMediaThenStopClosesCleanly(t *testing.T) {
	h := startBridge(t, nil, nil)
	h.ready(t)

	h.tel.events <- media(make([]byte, 160))
	h.tel.events <- transport.Event{Type: transport.EventStop}

	require.NoError(t, h.wait(t))
	h.assertTornDown(t)
	assert.True(t, h.ai.Closed())

	_, appended, _, _ := h.ai.snapshot()
	require.Len(t, appended, 1)
	assert.Len(t, appended[0], 960)
	assert.Empty(t, h.tel.Sent())
}

func TestStopBeforeReady(t *testing.T) {
	h := startBridge(t, nil, nil)

	h.tel.events <- media(make([]byte, 160))
	h.tel.events <- transport.Event{Type: transport.EventStop}

	require.NoError(t, h.wait(t))
	h.assertTornDown(t)
	assert.True(t, h.ai.Closed())

	_, appended, _, _ := h.ai.snapshot()
	assert.Empty(t, appended, "audio before ready is dropped")
}

func TestSessionConfiguredBeforeReady(t *testing.T) {
	h := startBridge(t, nil, nil)
	require.Eventually(t, func() bool {
		updates, _, _, _ := h.ai.snapshot()
		return len(updates) == 1
	}, waitFor, tick)
	assert.Equal(t, StateInitializing, h.sess.State())

	updates, _, responses, _ := h.ai.snapshot()
	cfg := updates[0]
	assert.Equal(t, "shimmer", cfg.Voice)
	assert.Equal(t, realtime.AudioFormatPCM16, cfg.InputAudioFormat)
	assert.Equal(t, realtime.AudioFormatPCM16, cfg.OutputAudioFormat)
	assert.Equal(t, []string{"audio", "text"}, cfg.Modalities)
	assert.Contains(t, cfg.Instructions, "Be nice.")
	assert.Contains(t, cfg.Instructions, "Hi, Acme here.")
	require.NotNil(t, cfg.TurnDetection)
	assert.Equal(t, "server_vad", cfg.TurnDetection.Type)
	assert.Equal(t, 300, cfg.MaxResponseOutputTokens)
	assert.Empty(t, cfg.Tools)
	assert.Equal(t, 0, responses)

	h.ready(t)
	require.Eventually(t, func() bool {
		_, _, responses, _ := h.ai.snapshot()
		return responses == 1
	}, waitFor, tick, "assistant greets first")
	assert.Equal(t, "MZ1", h.sess.StreamSID())
}

func TestAIAudioRelayedInFrames(t *testing.T) {
	h := startBridge(t, nil, nil)
	h.ready(t)

	// 480 samples at 24kHz is one 20ms frame at 8kHz.
	h.ai.events <- realtime.Event{Type: realtime.EventAudioDelta, Audio: make([]byte, 960)}
	require.Eventually(t, func() bool { return len(h.tel.Sent()) == 1 }, waitFor, tick)
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 160), h.tel.Sent()[0])

	// A partial frame waits for the end of the response.
	h.ai.events <- realtime.Event{Type: realtime.EventAudioDelta, Audio: make([]byte, 300)}
	h.ai.events <- realtime.Event{Type: realtime.EventAudioDone}
	require.Eventually(t, func() bool { return len(h.tel.Sent()) == 2 }, waitFor, tick)
	assert.Len(t, h.tel.Sent()[1], 50)
}

func TestAIAudioKeepsDecimationPhaseAcrossDeltas(t *testing.T) {
	h := startBridge(t, nil, nil)
	h.ready(t)

	// 2 + 958 bytes is one whole frame once joined.
	h.ai.events <- realtime.Event{Type: realtime.EventAudioDelta, Audio: make([]byte, 2)}
	h.ai.events <- realtime.Event{Type: realtime.EventAudioDelta, Audio: make([]byte, 958)}
	require.Eventually(t, func() bool { return len(h.tel.Sent()) == 1 }, waitFor, tick)
	assert.Len(t, h.tel.Sent()[0], 160)
}

func TestSendFailureIsNotFatal(t *testing.T) {
	h := startBridge(t, nil, nil)
	h.ready(t)
	h.tel.setSendErr(voicebridge.ErrConnectionUnavailable)

	h.ai.events <- realtime.Event{Type: realtime.EventAudioDelta, Audio: make([]byte, 960)}
	h.tel.events <- media(make([]byte, 160))

	require.Eventually(t, func() bool {
		_, appended, _, _ := h.ai.snapshot()
		return len(appended) == 1
	}, waitFor, tick)
	assert.False(t, h.sess.Closed())
	assert.Equal(t, 1, h.reg.Len())
}

func TestBargeInClearsPlayback(t *testing.T) {
	h := startBridge(t, nil, nil)
	h.ready(t)

	h.ai.events <- realtime.Event{Type: realtime.EventAudioDelta, Audio: make([]byte, 300)}
	h.ai.events <- realtime.Event{Type: realtime.EventSpeechStarted}
	h.ai.events <- realtime.Event{Type: realtime.EventAudioDone}
	h.ai.events <- realtime.Event{Type: realtime.EventResponseDone}

	require.Eventually(t, func() bool { return h.tel.Clears() == 1 }, waitFor, tick)
	// Give the done event time to be processed; the cleared partial frame must not play.
	h.tel.events <- transport.Event{Type: transport.EventMark, Name: "sync"}
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.tel.Sent())
}

func TestToolCallRoundTrip(t *testing.T) {
	tools := &recordingTools{}
	h := startBridge(t, tools, nil)
	h.ready(t)

	h.ai.events <- realtime.Event{
		Type:      realtime.EventFunctionCallArgumentsDone,
		CallID:    "call_1",
		Name:      "search_knowledge_base",
		Arguments: `{"query":"hours"}`,
	}

	require.Eventually(t, func() bool {
		_, _, _, results := h.ai.snapshot()
		return len(results) == 1
	}, waitFor, tick)

	_, _, responses, results := h.ai.snapshot()
	assert.Equal(t, "call_1", results[0].callID)
	assert.Equal(t, `{"results":[],"args":{"query":"hours"}}`, results[0].output)
	assert.Equal(t, 2, responses, "greeting plus the post-tool response")
	assert.Equal(t, []string{"acme"}, tools.tenants)
}

func TestOneToolCallAtATime(t *testing.T) {
	tools := &recordingTools{release: make(chan struct{})}
	h := startBridge(t, tools, nil)
	h.ready(t)

	h.ai.events <- realtime.Event{Type: realtime.EventFunctionCallArgumentsDone, CallID: "call_1", Arguments: `1`}
	h.ai.events <- realtime.Event{Type: realtime.EventFunctionCallArgumentsDone, CallID: "call_2", Arguments: `2`}

	require.Eventually(t, func() bool { return tools.Calls() == 1 }, waitFor, tick)
	assert.Never(t, func() bool { return tools.Calls() > 1 }, 50*time.Millisecond, tick)

	tools.release <- struct{}{}
	require.Eventually(t, func() bool { return tools.Calls() == 2 }, waitFor, tick)
	tools.release <- struct{}{}

	require.Eventually(t, func() bool {
		_, _, _, results := h.ai.snapshot()
		return len(results) == 2
	}, waitFor, tick)
	_, _, _, results := h.ai.snapshot()
	assert.Equal(t, "call_1", results[0].callID)
	assert.Equal(t, "call_2", results[1].callID)
}

func TestNoToolHandlerAnswersWithError(t *testing.T) {
	h := startBridge(t, nil, nil)
	h.ready(t)

	h.ai.events <- realtime.Event{Type: realtime.EventFunctionCallArgumentsDone, CallID: "call_1", Name: "anything"}
	require.Eventually(t, func() bool {
		_, _, _, results := h.ai.snapshot()
		return len(results) == 1
	}, waitFor, tick)
	_, _, _, results := h.ai.snapshot()
	assert.Equal(t, noToolsOutput, results[0].output)
}

func TestHangupDuringToolCall(t *testing.T) {
	tools := &recordingTools{release: make(chan struct{})}
	h := startBridge(t, tools, nil)
	h.ready(t)

	h.ai.events <- realtime.Event{Type: realtime.EventFunctionCallArgumentsDone, CallID: "call_1", Arguments: `{}`}
	require.Eventually(t, func() bool { return tools.Calls() == 1 }, waitFor, tick)

	h.tel.events <- transport.Event{Type: transport.EventStop}
	require.NoError(t, h.wait(t))
	h.assertTornDown(t)
}

func TestAIErrorTearsDown(t *testing.T) {
	h := startBridge(t, nil, nil)
	h.ready(t)

	h.ai.events <- realtime.Event{
		Type: realtime.EventError,
		Err:  voicebridge.NewProviderError("realtime", "server", errors.New("session expired")),
	}

	err := h.wait(t)
	assert.ErrorIs(t, err, voicebridge.ErrUpstreamProvider)
	h.assertTornDown(t)
	assert.True(t, h.ai.Closed())
}

func TestAIClosedBeforeReady(t *testing.T) {
	h := startBridge(t, nil, nil)
	h.ai.events <- realtime.Event{Type: realtime.EventClosed}

	err := h.wait(t)
	assert.ErrorIs(t, err, voicebridge.ErrConnectionUnavailable)
	h.assertTornDown(t)
}

func TestExplicitEnd(t *testing.T) {
	h := startBridge(t, nil, nil)
	h.ready(t)

	require.NoError(t, h.sess.Close())
	require.NoError(t, h.wait(t))
	h.assertTornDown(t)
}

func TestDialFailureReleasesTelephony(t *testing.T) {
	h := startBridge(t, nil, voicebridge.NewProviderError("realtime", "dial", errors.New("401 unauthorized")))

	err := h.wait(t)
	assert.ErrorIs(t, err, voicebridge.ErrUpstreamProvider)
	h.assertTornDown(t)
}

func TestTelephonyErrorTearsDown(t *testing.T) {
	h := startBridge(t, nil, nil)
	h.ready(t)

	h.tel.events <- transport.Event{Type: transport.EventError, Err: voicebridge.NewProviderError("twilio", "read", errors.New("reset"))}
	assert.ErrorIs(t, h.wait(t), voicebridge.ErrUpstreamProvider)
	h.assertTornDown(t)
}

func TestTelephonyChannelClosed(t *testing.T) {
	h := startBridge(t, nil, nil)
	h.ready(t)

	close(h.tel.events)
	require.NoError(t, h.wait(t))
	h.assertTornDown(t)
}

func TestInstructions(t *testing.T) {
	got := Instructions(session.AIConfig{
		SystemPrompt: "You book appointments.",
		Tone:         "warm.",
		Language:     "en-GB",
		Greeting:     "Hello!",
	}, 220)
	assert.Contains(t, got, "You book appointments.")
	assert.Contains(t, got, "Tone of voice: warm.")
	assert.Contains(t, got, "default to en-GB")
	assert.Contains(t, got, `"Hello!"`)

	assert.Contains(t, Instructions(session.AIConfig{}, 220), "helpful phone assistant")
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, session.NewRegistry(nil), nil, DefaultOptions(), nil)
	assert.Error(t, err)
	_, err = New(DialerFunc(func(context.Context) (AI, error) { return nil, nil }), nil, nil, DefaultOptions(), nil)
	assert.Error(t, err)
}
