package realtime

import "encoding/json"

// Server event types.
const (
	EventSessionCreated              = "session.created"
	EventSessionUpdated              = "session.updated"
	EventAudioDelta                  = "response.audio.delta"
	EventAudioDone                   = "response.audio.done"
	EventAudioTranscriptDone         = "response.audio_transcript.done"
	EventInputTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventSpeechStarted               = "input_audio_buffer.speech_started"
	EventSpeechStopped               = "input_audio_buffer.speech_stopped"
	EventFunctionCallArgumentsDone   = "response.function_call_arguments.done"
	EventResponseDone                = "response.done"
	EventError                       = "error"

	// EventClosed is synthesized when the connection ends.
	EventClosed = "connection.closed"
)

// Event is a decoded server event. Audio holds decoded PCM16 for audio deltas.
type Event struct {
	Type       string
	ResponseID string
	ItemID     string
	Audio      []byte
	Transcript string
	CallID     string
	Name       string
	Arguments  string
	Err        error
}

// serverEvent is the superset of fields read from server events.
type serverEvent struct {
	Type       string          `json:"type"`
	EventID    string          `json:"event_id"`
	ResponseID string          `json:"response_id"`
	ItemID     string          `json:"item_id"`
	Delta      string          `json:"delta"`
	Transcript string          `json:"transcript"`
	CallID     string          `json:"call_id"`
	Name       string          `json:"name"`
	Arguments  string          `json:"arguments"`
	Error      *serverError    `json:"error"`
	Session    json.RawMessage `json:"session"`
}

type serverError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client events.
type sessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type appendAudioEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type typeOnlyEvent struct {
	Type string `json:"type"`
}

type conversationItemCreateEvent struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}
