// Package stt drives Twilio speech recognition through the <Gather> verb and
// parses the transcripts Twilio posts back.
package stt

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/twilio/twilio-go/twiml"
)

// Provider builds <Gather input="speech"> elements.
type Provider struct {
	defaultLanguage string
	speechModel     string
	speechTimeout   string
	timeout         int
	profanityFilter bool
}

// Option configures the Provider.
type Option func(*options)

type options struct {
	language        string
	speechModel     string
	speechTimeout   string
	timeout         int
	profanityFilter bool
}

// WithLanguage sets the default language.
func WithLanguage(language string) Option {
	return func(o *options) {
		o.language = language
	}
}

// WithSpeechModel sets the speech recognition model.
// Options: "default", "numbers_and_commands", "phone_call", "experimental_conversations"
func WithSpeechModel(model string) Option {
	return func(o *options) {
		o.speechModel = model
	}
}

// WithSpeechTimeout sets the trailing silence that ends an utterance, in
// seconds or "auto".
func WithSpeechTimeout(timeout string) Option {
	return func(o *options) {
		o.speechTimeout = timeout
	}
}

// WithTimeout sets how long to wait for the caller to start speaking, in seconds.
func WithTimeout(seconds int) Option {
	return func(o *options) {
		o.timeout = seconds
	}
}

// WithProfanityFilter enables or disables the profanity filter.
func WithProfanityFilter(enabled bool) Option {
	return func(o *options) {
		o.profanityFilter = enabled
	}
}

// New creates a new Twilio STT provider.
func New(opts ...Option) (*Provider, error) {
	cfg := &options{
		language:        "en-US",
		speechModel:     "phone_call",
		speechTimeout:   "auto",
		timeout:         8,
		profanityFilter: true,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.timeout <= 0 {
		return nil, fmt.Errorf("gather timeout must be positive, got %d", cfg.timeout)
	}

	return &Provider{
		defaultLanguage: cfg.language,
		speechModel:     cfg.speechModel,
		speechTimeout:   cfg.speechTimeout,
		timeout:         cfg.timeout,
		profanityFilter: cfg.profanityFilter,
	}, nil
}

// GatherConfig configures one listen window.
type GatherConfig struct {
	// Action is the URL Twilio posts the transcript to.
	Action string

	// Language is the recognition language (e.g., "en-US").
	Language string

	// Hints are phrases likely to be spoken.
	Hints []string
}

// Gather returns a speech <Gather> element. Twilio posts to Action even
// when nothing was said, so every window produces exactly one callback.
func (p *Provider) Gather(cfg GatherConfig) *twiml.VoiceGather {
	language := cfg.Language
	if language == "" {
		language = p.defaultLanguage
	}
	return &twiml.VoiceGather{
		Input:               "speech",
		Action:              cfg.Action,
		Method:              "POST",
		Language:            language,
		SpeechTimeout:       p.speechTimeout,
		Timeout:             strconv.Itoa(p.timeout),
		SpeechModel:         p.speechModel,
		ProfanityFilter:     strconv.FormatBool(p.profanityFilter),
		ActionOnEmptyResult: "true",
		Hints:               strings.Join(cfg.Hints, ","),
	}
}

// GenerateGatherTwiML renders a standalone <Response><Gather> document.
func (p *Provider) GenerateGatherTwiML(cfg GatherConfig) (string, error) {
	return twiml.Voice([]twiml.Element{p.Gather(cfg)})
}

// SpeechResult is the transcript Twilio posts to a Gather action.
type SpeechResult struct {
	CallSID    string
	Transcript string
	Confidence float64
}

// Empty reports whether the caller said nothing recognizable.
func (r SpeechResult) Empty() bool {
	return strings.TrimSpace(r.Transcript) == ""
}

// ParseSpeechResult reads a Gather action callback.
func ParseSpeechResult(form url.Values) (SpeechResult, error) {
	callSID := form.Get("CallSid")
	if callSID == "" {
		return SpeechResult{}, fmt.Errorf("gather callback missing CallSid")
	}

	res := SpeechResult{
		CallSID:    callSID,
		Transcript: strings.TrimSpace(form.Get("SpeechResult")),
	}
	if c := form.Get("Confidence"); c != "" {
		conf, err := strconv.ParseFloat(c, 64)
		if err != nil {
			return SpeechResult{}, fmt.Errorf("parse confidence %q: %w", c, err)
		}
		res.Confidence = conf
	}
	return res, nil
}
