// Package tts renders Twilio <Say> speech and resolves voice preferences
// against Twilio's voice catalog.
//
// Twilio speaks text on the call itself, so synthesis here means producing
// TwiML rather than audio bytes.
package tts

import (
	"fmt"
	"strings"
	"sync"

	"github.com/twilio/twilio-go/twiml"
)

// Voice is a Twilio <Say> voice.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Gender   string `json:"gender"`
}

// Provider renders speech with Twilio's <Say> verb.
type Provider struct {
	defaultVoice    string
	defaultLanguage string

	mu          sync.RWMutex
	voicesCache []Voice
}

// Option configures the Provider.
type Option func(*options)

type options struct {
	voice    string
	language string
}

// WithVoice sets the default voice.
func WithVoice(voice string) Option {
	return func(o *options) {
		o.voice = voice
	}
}

// WithLanguage sets the default language.
func WithLanguage(language string) Option {
	return func(o *options) {
		o.language = language
	}
}

// New creates a new Twilio TTS provider.
func New(opts ...Option) (*Provider, error) {
	cfg := &options{
		voice:    "Polly.Joanna",
		language: "en-US",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Provider{
		defaultVoice:    cfg.voice,
		defaultLanguage: cfg.language,
	}, nil
}

// DefaultLanguage returns the language used when none is configured.
func (p *Provider) DefaultLanguage() string {
	return p.defaultLanguage
}

// ListVoices returns available Twilio voices.
func (p *Provider) ListVoices() []Voice {
	p.mu.RLock()
	if p.voicesCache != nil {
		cached := make([]Voice, len(p.voicesCache))
		copy(cached, p.voicesCache)
		p.mu.RUnlock()
		return cached
	}
	p.mu.RUnlock()

	voices := twilioVoices()

	p.mu.Lock()
	p.voicesCache = voices
	p.mu.Unlock()

	out := make([]Voice, len(voices))
	copy(out, voices)
	return out
}

// GetVoice returns a specific voice by ID.
func (p *Provider) GetVoice(voiceID string) (Voice, error) {
	for _, v := range p.ListVoices() {
		if strings.EqualFold(v.ID, voiceID) {
			return v, nil
		}
	}
	return Voice{}, fmt.Errorf("voice not found: %s", voiceID)
}

// ResolveVoice picks a voice for a preference and language. The preference
// may be a voice ID or a gender hint ("male", "female"). Unknown
// preferences fall back to the provider default.
func (p *Provider) ResolveVoice(pref, language string) Voice {
	if language == "" {
		language = p.defaultLanguage
	}
	pref = strings.TrimSpace(pref)

	if v, err := p.GetVoice(pref); err == nil {
		return v
	}

	gender := ""
	switch strings.ToLower(pref) {
	case "male", "man":
		gender = "male"
	case "female", "woman":
		gender = "female"
	}

	voices := p.ListVoices()
	if gender != "" {
		for _, v := range voices {
			if v.Gender == gender && strings.EqualFold(v.Language, language) {
				return v
			}
		}
		for _, v := range voices {
			if v.Gender == gender && sameBaseLanguage(v.Language, language) {
				return v
			}
		}
	}
	for _, v := range voices {
		if strings.EqualFold(v.Language, language) && strings.EqualFold(v.ID, p.defaultVoice) {
			return v
		}
	}
	for _, v := range voices {
		if strings.EqualFold(v.Language, language) {
			return v
		}
	}
	if v, err := p.GetVoice(p.defaultVoice); err == nil {
		return v
	}
	return Voice{ID: p.defaultVoice, Language: language}
}

// Say returns the <Say> element for text.
func (p *Provider) Say(text, voice, language string) *twiml.VoiceSay {
	if voice == "" {
		voice = p.defaultVoice
	}
	if language == "" {
		language = p.defaultLanguage
	}
	return &twiml.VoiceSay{
		Message:  text,
		Voice:    voice,
		Language: language,
	}
}

// GenerateTwiML renders a standalone <Response><Say> document.
func (p *Provider) GenerateTwiML(text, voice, language string) (string, error) {
	return twiml.Voice([]twiml.Element{p.Say(text, voice, language)})
}

func sameBaseLanguage(a, b string) bool {
	base := func(s string) string {
		if i := strings.IndexByte(s, '-'); i > 0 {
			s = s[:i]
		}
		return strings.ToLower(s)
	}
	return base(a) == base(b)
}

// twilioVoices returns the available Twilio voices.
func twilioVoices() []Voice {
	return []Voice{
		// Amazon Polly voices
		{ID: "Polly.Joanna", Name: "Joanna (Polly)", Language: "en-US", Gender: "female"},
		{ID: "Polly.Matthew", Name: "Matthew (Polly)", Language: "en-US", Gender: "male"},
		{ID: "Polly.Amy", Name: "Amy (Polly)", Language: "en-GB", Gender: "female"},
		{ID: "Polly.Brian", Name: "Brian (Polly)", Language: "en-GB", Gender: "male"},
		{ID: "Polly.Ivy", Name: "Ivy (Polly)", Language: "en-US", Gender: "female"},
		{ID: "Polly.Kendra", Name: "Kendra (Polly)", Language: "en-US", Gender: "female"},
		{ID: "Polly.Joey", Name: "Joey (Polly)", Language: "en-US", Gender: "male"},
		{ID: "Polly.Justin", Name: "Justin (Polly)", Language: "en-US", Gender: "male"},

		// Google voices
		{ID: "Google.en-US-Standard-C", Name: "Google US Female C", Language: "en-US", Gender: "female"},
		{ID: "Google.en-US-Standard-D", Name: "Google US Male D", Language: "en-US", Gender: "male"},

		// Spanish
		{ID: "Polly.Penelope", Name: "Penelope (Polly)", Language: "es-US", Gender: "female"},
		{ID: "Polly.Miguel", Name: "Miguel (Polly)", Language: "es-US", Gender: "male"},
		{ID: "Polly.Lucia", Name: "Lucia (Polly)", Language: "es-ES", Gender: "female"},

		// French
		{ID: "Polly.Celine", Name: "Celine (Polly)", Language: "fr-FR", Gender: "female"},
		{ID: "Polly.Mathieu", Name: "Mathieu (Polly)", Language: "fr-FR", Gender: "male"},

		// German
		{ID: "Polly.Marlene", Name: "Marlene (Polly)", Language: "de-DE", Gender: "female"},
		{ID: "Polly.Hans", Name: "Hans (Polly)", Language: "de-DE", Gender: "male"},

		// Basic voices
		{ID: "alice", Name: "Alice", Language: "en-US", Gender: "female"},
		{ID: "man", Name: "Man", Language: "en-US", Gender: "male"},
		{ID: "woman", Name: "Woman", Language: "en-US", Gender: "female"},
	}
}
