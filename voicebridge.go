// Package voicebridge bridges live phone calls to conversational AI backends.
//
// A call runs in exactly one of two modes:
//   - streaming: Twilio Media Streams audio is transcoded and relayed to a
//     realtime voice AI socket in both directions (internal/streaming)
//   - turn-based: the call alternates between Twilio <Say> and <Gather>
//     turns, feeding transcripts to a text completion model (internal/turn)
//
// # Environment Variables
//
//	TWILIO_ACCOUNT_SID  - Twilio Account SID
//	TWILIO_AUTH_TOKEN   - Twilio Auth Token
//	OPENAI_API_KEY      - realtime voice AI key
//	GEMINI_API_KEY      - text completion key (turn-based mode)
//
// # Quick Start
//
//	voicebridge serve --config voicebridge.yaml
package voicebridge

// Version is the bridge version.
const Version = "0.3.0"

// ProviderName identifies the telephony provider this bridge speaks to.
const ProviderName = "twilio"

// Twilio API constants.
const (
	// DefaultAPIBaseURL is the Twilio REST API base URL.
	DefaultAPIBaseURL = "https://api.twilio.com/2010-04-01"

	// DefaultRealtimeURL is the realtime voice AI websocket endpoint.
	DefaultRealtimeURL = "wss://api.openai.com/v1/realtime"

	// DefaultRealtimeModel is the realtime model requested on dial.
	DefaultRealtimeModel = "gpt-4o-realtime-preview"
)

// Audio format constants.
const (
	// AudioEncodingMulaw is the μ-law encoding Twilio uses on Media Streams (8-bit, 8kHz).
	AudioEncodingMulaw = "audio/x-mulaw"

	// TelephonySampleRate is the Twilio Media Streams sample rate.
	TelephonySampleRate = 8000

	// RealtimeSampleRate is the PCM16 rate expected by the realtime AI.
	RealtimeSampleRate = 24000

	// DefaultChunkMillis is the frame size used when chunking audio in either direction.
	DefaultChunkMillis = 20
)

// Mode selects how a call is driven. It is fixed for the lifetime of a session.
type Mode string

const (
	ModeStreaming Mode = "streaming"
	ModeTurnBased Mode = "turn_based"
)

// Valid reports whether m names a known mode.
func (m Mode) Valid() bool {
	return m == ModeStreaming || m == ModeTurnBased
}

// Call status constants reported by Twilio status callbacks.
const (
	CallStatusQueued     = "queued"
	CallStatusRinging    = "ringing"
	CallStatusInProgress = "in-progress"
	CallStatusCompleted  = "completed"
	CallStatusBusy       = "busy"
	CallStatusFailed     = "failed"
	CallStatusNoAnswer   = "no-answer"
	CallStatusCanceled   = "canceled"
)

// IsTerminalStatus reports whether a Twilio call status means the call is over.
func IsTerminalStatus(status string) bool {
	switch status {
	case CallStatusCompleted, CallStatusBusy, CallStatusFailed, CallStatusNoAnswer, CallStatusCanceled:
		return true
	}
	return false
}
