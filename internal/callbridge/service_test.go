package callbridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	voicebridge "github.com/agentplexus/omnivoice-bridge"
	"github.com/agentplexus/omnivoice-bridge/callsystem"
	"github.com/agentplexus/omnivoice-bridge/internal/llm"
	"github.com/agentplexus/omnivoice-bridge/internal/session"
	"github.com/agentplexus/omnivoice-bridge/internal/streaming"
	"github.com/agentplexus/omnivoice-bridge/internal/turn"
	"github.com/agentplexus/omnivoice-bridge/internal/workflow"
	"github.com/agentplexus/omnivoice-bridge/transport"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeResolver struct {
	modes map[string]voicebridge.Mode
}

func (f *fakeResolver) RouteNumber(number string) (workflow.Route, error) {
	return workflow.Route{}, workflow.ErrUnknownNumber
}

func (f *fakeResolver) Resolve(ctx context.Context, tenantID, workflowID string) (*workflow.Resolution, error) {
	mode, ok := f.modes[tenantID]
	if !ok {
		return nil, workflow.ErrUnknownTenant
	}
	return &workflow.Resolution{
		TenantID:   tenantID,
		WorkflowID: "main",
		Mode:       mode,
		Config:     session.AIConfig{Greeting: "Hello."},
	}, nil
}

// fakeRunner stands in for the streaming bridge: it holds the call until
// the session ends, then tears it down the way the bridge does.
type fakeRunner struct {
	registry *session.Registry

	mu   sync.Mutex
	runs []string
}

func (f *fakeRunner) Run(sess *session.VoiceSession, tel streaming.Telephony) error {
	f.mu.Lock()
	f.runs = append(f.runs, sess.CallID())
	f.mu.Unlock()

	<-sess.Done()
	tel.Close()
	f.registry.RemoveSession(sess)
	return nil
}

func (f *fakeRunner) Runs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.runs...)
}

type fakeTelephony struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeTelephony) Events() <-chan transport.Event { return nil }
func (f *fakeTelephony) StreamSID() string              { return "MZ1" }
func (f *fakeTelephony) SendMedia(payload []byte) error { return nil }
func (f *fakeTelephony) Clear() error                   { return nil }

func (f *fakeTelephony) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTelephony) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeCalls struct {
	mu     sync.Mutex
	speaks int
	listen int
}

func (f *fakeCalls) Answer(ctx context.Context, callSID string) error { return nil }

func (f *fakeCalls) Speak(ctx context.Context, callSID, text, voice, language string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speaks++
	return nil
}

func (f *fakeCalls) StartTranscription(ctx context.Context, callSID, language string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listen++
	return nil
}

func (f *fakeCalls) StopTranscription(ctx context.Context, callSID string) error { return nil }
func (f *fakeCalls) Hangup(ctx context.Context, callSID string) error            { return nil }

func (f *fakeCalls) CallStatus(ctx context.Context, callSID string) (string, error) {
	return "in-progress", nil
}

func (f *fakeCalls) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speaks, f.listen
}

type fixture struct {
	svc      *Service
	registry *session.Registry
	runner   *fakeRunner
	calls    *fakeCalls
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	registry := session.NewRegistry(nil)
	runner := &fakeRunner{registry: registry}
	calls := &fakeCalls{}

	ctl, err := turn.New(calls, &llm.MockClient{}, nil, nil, registry, turn.DefaultOptions(), nil)
	require.NoError(t, err)

	resolver := &fakeResolver{modes: map[string]voicebridge.Mode{
		"stream": voicebridge.ModeStreaming,
		"turns":  voicebridge.ModeTurnBased,
	}}
	opts = append([]Option{WithStreaming(runner), WithTurnBased(ctl)}, opts...)
	svc, err := New(registry, resolver, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		svc.Shutdown(ctx)
	})
	return &fixture{svc: svc, registry: registry, runner: runner, calls: calls}
}

func startEvent(callID string) transport.Event {
	return transport.Event{
		Type:         transport.EventStart,
		StreamSID:    "MZ1",
		CustomParams: map[string]string{callsystem.ParamCallSID: callID},
	}
}

func TestStreamingLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.StartSession(ctx, StartRequest{CallID: "CA1", TenantID: "stream"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	active := f.svc.ListActive()
	require.Len(t, active, 1)
	assert.Equal(t, streaming.StateAwaitingMedia, active[0].State)
	assert.Equal(t, voicebridge.ModeStreaming, active[0].Mode)

	tel := &fakeTelephony{}
	require.NoError(t, f.svc.AttachMedia(ctx, startEvent("CA1"), tel))
	require.Eventually(t, func() bool { return len(f.runner.Runs()) == 1 }, waitFor, tick)

	require.NoError(t, f.svc.EndSession("CA1"))
	require.NoError(t, f.svc.EndSession("CA1"))
	require.Eventually(t, tel.Closed, waitFor, tick)
	assert.Equal(t, 0, f.registry.Len())
}

func TestAttachMediaByCallSID(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StartSession(context.Background(), StartRequest{CallID: "CA1", TenantID: "stream"})
	require.NoError(t, err)

	start := transport.Event{Type: transport.EventStart, CallSID: "CA1"}
	require.NoError(t, f.svc.AttachMedia(context.Background(), start, &fakeTelephony{}))
	require.Eventually(t, func() bool { return len(f.runner.Runs()) == 1 }, waitFor, tick)
}

func TestDuplicateSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StartSession(context.Background(), StartRequest{CallID: "CA1", TenantID: "stream"})
	require.NoError(t, err)

	_, err = f.svc.StartSession(context.Background(), StartRequest{CallID: "CA1", TenantID: "stream"})
	assert.ErrorIs(t, err, voicebridge.ErrDuplicateSession)
	assert.Equal(t, 1, f.registry.Len())
}

func TestMediaAttachTimeout(t *testing.T) {
	f := newFixture(t, WithMediaAttachTimeout(30*time.Millisecond))
	_, err := f.svc.StartSession(context.Background(), StartRequest{CallID: "CA1", TenantID: "stream"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.registry.Len() == 0 }, waitFor, tick)

	tel := &fakeTelephony{}
	err = f.svc.AttachMedia(context.Background(), startEvent("CA1"), tel)
	assert.ErrorIs(t, err, voicebridge.ErrSessionNotFound)
	assert.True(t, tel.Closed())
	assert.Empty(t, f.runner.Runs())
}

func TestAttachMediaTwice(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StartSession(context.Background(), StartRequest{CallID: "CA1", TenantID: "stream"})
	require.NoError(t, err)

	require.NoError(t, f.svc.AttachMedia(context.Background(), startEvent("CA1"), &fakeTelephony{}))
	second := &fakeTelephony{}
	assert.Error(t, f.svc.AttachMedia(context.Background(), startEvent("CA1"), second))
	assert.True(t, second.Closed())
}

func TestAttachMediaToTurnBasedSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StartSession(context.Background(), StartRequest{CallID: "CA1", TenantID: "turns"})
	require.NoError(t, err)

	tel := &fakeTelephony{}
	assert.Error(t, f.svc.AttachMedia(context.Background(), startEvent("CA1"), tel))
	assert.True(t, tel.Closed())
}

func TestTurnBasedLifecycle(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.StartSession(context.Background(), StartRequest{CallID: "CA2", TenantID: "turns"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { s, _ := f.calls.counts(); return s == 1 }, waitFor, tick)

	require.NoError(t, f.svc.SpeakEnded("CA2"))
	require.Eventually(t, func() bool { _, l := f.calls.counts(); return l == 1 }, waitFor, tick)

	accepted, err := f.svc.Transcript("CA2", "hello there")
	require.NoError(t, err)
	assert.True(t, accepted)
	require.Eventually(t, func() bool { s, _ := f.calls.counts(); return s == 2 }, waitFor, tick)

	accepted, err = f.svc.Transcript("CA2", "too late")
	require.NoError(t, err)
	assert.False(t, accepted)

	require.NoError(t, f.svc.EndSession("CA2"))
	require.Eventually(t, func() bool { return f.registry.Len() == 0 }, waitFor, tick)
	require.Eventually(t, func() bool {
		return errors.Is(f.svc.SpeakEnded("CA2"), voicebridge.ErrSessionNotFound)
	}, waitFor, tick)
}

func TestCallbacksForUnknownCall(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.svc.SpeakEnded("nope"), voicebridge.ErrSessionNotFound)
	_, err := f.svc.Transcript("nope", "hi")
	assert.ErrorIs(t, err, voicebridge.ErrSessionNotFound)
	assert.NoError(t, f.svc.EndSession("nope"))
}

func TestStartSessionUnknownTenant(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StartSession(context.Background(), StartRequest{CallID: "CA1", TenantID: "ghost"})
	assert.ErrorIs(t, err, workflow.ErrUnknownTenant)
	assert.Equal(t, 0, f.registry.Len())
}

func TestModeWithoutDriver(t *testing.T) {
	registry := session.NewRegistry(nil)
	resolver := &fakeResolver{modes: map[string]voicebridge.Mode{"turns": voicebridge.ModeTurnBased}}
	svc, err := New(registry, resolver, WithStreaming(&fakeRunner{registry: registry}))
	require.NoError(t, err)

	_, err = svc.StartSession(context.Background(), StartRequest{CallID: "CA1", TenantID: "turns"})
	assert.Error(t, err)
	assert.Equal(t, 0, registry.Len())
}

func TestNewValidates(t *testing.T) {
	registry := session.NewRegistry(nil)
	_, err := New(nil, &fakeResolver{})
	assert.Error(t, err)
	_, err = New(registry, nil)
	assert.Error(t, err)
	_, err = New(registry, &fakeResolver{})
	assert.Error(t, err)
}

func TestShutdownEndsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.StartSession(ctx, StartRequest{CallID: "CA1", TenantID: "stream"})
	require.NoError(t, err)
	require.NoError(t, f.svc.AttachMedia(ctx, startEvent("CA1"), &fakeTelephony{}))
	_, err = f.svc.StartSession(ctx, StartRequest{CallID: "CA2", TenantID: "turns"})
	require.NoError(t, err)
	_, err = f.svc.StartSession(ctx, StartRequest{CallID: "CA3", TenantID: "stream"})
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()
	require.NoError(t, f.svc.Shutdown(shutdownCtx))
	assert.Equal(t, 0, f.registry.Len())

	_, err = f.svc.StartSession(ctx, StartRequest{CallID: "CA4", TenantID: "stream"})
	assert.Error(t, err)
}
