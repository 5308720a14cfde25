package callsystem

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	voicebridge "github.com/agentplexus/omnivoice-bridge"
)

type apiRecorder struct {
	paths []string
	forms []url.Values
	fail  bool
}

func testProvider(t *testing.T) (*Provider, *apiRecorder) {
	t.Helper()
	rec := &apiRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		rec.paths = append(rec.paths, r.URL.Path)
		rec.forms = append(rec.forms, r.PostForm)
		if rec.fail {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":20404,"message":"call not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"sid":"CA1","status":"in-progress"}`))
	}))
	t.Cleanup(srv.Close)

	p, err := New(
		WithAccountSID("AC1"),
		WithAuthToken("tok"),
		WithAPIBaseURL(srv.URL),
		WithPublicURL("https://bridge.example.com/"),
		WithPhoneNumber("+15550000"),
	)
	require.NoError(t, err)
	return p, rec
}

func TestNewValidatesPublicURL(t *testing.T) {
	_, err := New(WithAccountSID("AC1"), WithAuthToken("tok"))
	assert.Error(t, err)
	_, err = New(WithAccountSID("AC1"), WithAuthToken("tok"), WithPublicURL("not a url"))
	assert.Error(t, err)
}

func TestURLs(t *testing.T) {
	p, _ := testProvider(t)
	assert.Equal(t, "https://bridge.example.com/voice/transcript", p.WebhookURL(PathTranscript))
	assert.Equal(t, "wss://bridge.example.com/media-stream", p.MediaStreamURL())
}

func TestSpeak(t *testing.T) {
	p, rec := testProvider(t)
	require.NoError(t, p.Speak(context.Background(), "CA1", "Hello there", "Polly.Amy", "en-GB"))

	require.Len(t, rec.forms, 1)
	assert.Equal(t, "/Accounts/AC1/Calls/CA1.json", rec.paths[0])
	doc := rec.forms[0].Get("Twiml")
	assert.Contains(t, doc, "<Say")
	assert.Contains(t, doc, "Hello there")
	assert.Contains(t, doc, `voice="Polly.Amy"`)
	assert.Contains(t, doc, "https://bridge.example.com/voice/speak-ended")
}

func TestStartTranscription(t *testing.T) {
	p, rec := testProvider(t)
	require.NoError(t, p.StartTranscription(context.Background(), "CA1", "en-US"))

	doc := rec.forms[0].Get("Twiml")
	assert.Contains(t, doc, "<Gather")
	assert.Contains(t, doc, `input="speech"`)
	assert.Contains(t, doc, "https://bridge.example.com/voice/transcript")
	assert.Contains(t, doc, "https://bridge.example.com/voice/hold")
}

func TestStopTranscriptionHolds(t *testing.T) {
	p, rec := testProvider(t)
	require.NoError(t, p.StopTranscription(context.Background(), "CA1"))

	doc := rec.forms[0].Get("Twiml")
	assert.Contains(t, doc, "<Pause")
	assert.Contains(t, doc, "/voice/hold")
}

func TestHangup(t *testing.T) {
	p, rec := testProvider(t)
	require.NoError(t, p.Hangup(context.Background(), "CA1"))
	assert.Equal(t, "completed", rec.forms[0].Get("Status"))
}

func TestCallStatus(t *testing.T) {
	p, rec := testProvider(t)
	status, err := p.CallStatus(context.Background(), "CA1")
	require.NoError(t, err)
	assert.Equal(t, "in-progress", status)
	assert.Equal(t, "/Accounts/AC1/Calls/CA1.json", rec.paths[0])

	rec.fail = true
	status, err = p.CallStatus(context.Background(), "CA404")
	require.NoError(t, err)
	assert.True(t, voicebridge.IsTerminalStatus(status))
}

func TestProviderErrors(t *testing.T) {
	p, rec := testProvider(t)
	rec.fail = true

	err := p.Speak(context.Background(), "CA404", "hi", "", "")
	assert.ErrorIs(t, err, voicebridge.ErrUpstreamProvider)
	assert.ErrorContains(t, err, "call not found")

	assert.ErrorIs(t, p.Hangup(context.Background(), "CA404"), voicebridge.ErrUpstreamProvider)
}

func TestDial(t *testing.T) {
	p, rec := testProvider(t)
	sid, err := p.Dial(context.Background(), "+15551234", "")
	require.NoError(t, err)
	assert.Equal(t, "CA1", sid)

	form := rec.forms[0]
	assert.Equal(t, "+15550000", form.Get("From"))
	assert.Equal(t, "https://bridge.example.com/voice/inbound", form.Get("Url"))
	assert.Equal(t, "https://bridge.example.com/voice/status", form.Get("StatusCallback"))
}

func TestAnswerIsNoop(t *testing.T) {
	p, rec := testProvider(t)
	require.NoError(t, p.Answer(context.Background(), "CA1"))
	assert.Empty(t, rec.forms)
}

func TestStreamTwiML(t *testing.T) {
	p, _ := testProvider(t)
	doc, err := p.StreamTwiML("CA1", "acme", "wf-1")
	require.NoError(t, err)
	assert.Contains(t, doc, "<Connect>")
	assert.Contains(t, doc, `url="wss://bridge.example.com/media-stream"`)
	assert.Contains(t, doc, `name="callSid"`)
	assert.Contains(t, doc, `value="acme"`)
	assert.Contains(t, doc, `value="wf-1"`)
}

func TestRejectTwiML(t *testing.T) {
	p, _ := testProvider(t)
	doc, err := p.RejectTwiML("This number is not in service.")
	require.NoError(t, err)
	assert.Contains(t, doc, "not in service")
	assert.Contains(t, doc, "<Hangup")
}
