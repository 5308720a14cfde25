// Package realtime is a client for websocket realtime voice AI services
// speaking the OpenAI realtime event protocol.
package realtime

import (
	"encoding/json"
	"strings"
)

// Audio formats accepted by session.update.
const (
	AudioFormatPCM16    = "pcm16"
	AudioFormatG711Ulaw = "g711_ulaw"
)

// SessionConfig is the session object sent in session.update.
type SessionConfig struct {
	Modalities              []string                 `json:"modalities,omitempty"`
	Instructions            string                   `json:"instructions,omitempty"`
	Voice                   string                   `json:"voice,omitempty"`
	InputAudioFormat        string                   `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string                   `json:"output_audio_format,omitempty"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection           `json:"turn_detection,omitempty"`
	Tools                   []Tool                   `json:"tools,omitempty"`
	ToolChoice              string                   `json:"tool_choice,omitempty"`
	Temperature             float64                  `json:"temperature,omitempty"`
	MaxResponseOutputTokens int                      `json:"max_response_output_tokens,omitempty"`
}

// InputAudioTranscription enables caller-side transcripts.
type InputAudioTranscription struct {
	Model string `json:"model"`
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type,omitempty"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// Tool is a function the model may call.
type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Voices offered by the realtime service.
var Voices = []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"}

// DefaultVoice is used when no preference resolves.
const DefaultVoice = "alloy"

var genderVoices = map[string]string{
	"female": "shimmer",
	"woman":  "shimmer",
	"male":   "echo",
	"man":    "echo",
}

// ResolveVoice maps a voice preference to a realtime voice. The preference
// may name a realtime voice directly or give a gender hint; anything else
// falls back to DefaultVoice.
func ResolveVoice(pref string) string {
	p := strings.ToLower(strings.TrimSpace(pref))
	for _, v := range Voices {
		if p == v {
			return v
		}
	}
	if v, ok := genderVoices[p]; ok {
		return v
	}
	return DefaultVoice
}
