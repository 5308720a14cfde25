// Package callsystem controls live Twilio calls: it answers inbound
// webhooks with TwiML and redirects in-progress calls through the REST API
// to speak, listen, hold or hang up.
package callsystem

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/twilio/twilio-go/twiml"

	voicebridge "github.com/agentplexus/omnivoice-bridge"
	"github.com/agentplexus/omnivoice-bridge/internal/client"
	"github.com/agentplexus/omnivoice-bridge/internal/logging"
	"github.com/agentplexus/omnivoice-bridge/stt"
	"github.com/agentplexus/omnivoice-bridge/tts"
)

// Webhook paths Twilio is pointed at. They are resolved against the public URL.
const (
	PathInbound     = "/voice/inbound"
	PathStatus      = "/voice/status"
	PathSpeakEnded  = "/voice/speak-ended"
	PathTranscript  = "/voice/transcript"
	PathHold        = "/voice/hold"
	PathMediaStream = "/media-stream"
)

// Stream parameter names carried on <Stream><Parameter>.
const (
	ParamCallSID    = "callSid"
	ParamTenantID   = "tenantId"
	ParamWorkflowID = "workflowId"
)

// holdSeconds is the pause length of each hold loop iteration.
const holdSeconds = 10

// Provider implements call control on top of the Twilio REST API.
type Provider struct {
	client      *client.Client
	tts         *tts.Provider
	stt         *stt.Provider
	publicURL   string
	defaultFrom string
	log         *logging.Logger
}

// Option configures the Provider.
type Option func(*options)

type options struct {
	accountSID  string
	authToken   string
	apiBaseURL  string
	publicURL   string
	phoneNumber string
	httpClient  *http.Client
	tts         *tts.Provider
	stt         *stt.Provider
	log         *logging.Logger
}

// WithAccountSID sets the Twilio Account SID.
func WithAccountSID(sid string) Option {
	return func(o *options) {
		o.accountSID = sid
	}
}

// WithAuthToken sets the Twilio Auth Token.
func WithAuthToken(token string) Option {
	return func(o *options) {
		o.authToken = token
	}
}

// WithAPIBaseURL overrides the Twilio REST base URL.
func WithAPIBaseURL(u string) Option {
	return func(o *options) {
		o.apiBaseURL = u
	}
}

// WithPublicURL sets the externally reachable base URL of this server,
// used for webhook and media stream URLs.
func WithPublicURL(u string) Option {
	return func(o *options) {
		o.publicURL = u
	}
}

// WithPhoneNumber sets the default outbound caller ID.
func WithPhoneNumber(number string) Option {
	return func(o *options) {
		o.phoneNumber = number
	}
}

// WithHTTPClient sets the HTTP client used for REST calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithSpeech sets the TTS and STT providers used to render TwiML.
func WithSpeech(t *tts.Provider, s *stt.Provider) Option {
	return func(o *options) {
		o.tts = t
		o.stt = s
	}
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// New creates a new Twilio call control provider.
func New(opts ...Option) (*Provider, error) {
	cfg := &options{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.publicURL == "" {
		return nil, fmt.Errorf("public url is required")
	}
	u, err := url.Parse(cfg.publicURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid public url %q", cfg.publicURL)
	}

	twilioClient, err := client.New(&client.Config{
		AccountSID: cfg.accountSID,
		AuthToken:  cfg.authToken,
		BaseURL:    cfg.apiBaseURL,
		HTTPClient: cfg.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Twilio client: %w", err)
	}

	if cfg.tts == nil {
		if cfg.tts, err = tts.New(); err != nil {
			return nil, err
		}
	}
	if cfg.stt == nil {
		if cfg.stt, err = stt.New(); err != nil {
			return nil, err
		}
	}
	if cfg.log == nil {
		cfg.log = logging.Nop()
	}

	return &Provider{
		client:      twilioClient,
		tts:         cfg.tts,
		stt:         cfg.stt,
		publicURL:   strings.TrimRight(cfg.publicURL, "/"),
		defaultFrom: cfg.phoneNumber,
		log:         cfg.log.Sub("callsystem"),
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return voicebridge.ProviderName
}

// AuthToken returns the account auth token for webhook signature checks.
func (p *Provider) AuthToken() string {
	return p.client.AuthToken()
}

// Client returns the underlying REST client.
func (p *Provider) Client() *client.Client {
	return p.client
}

// Voices returns the TTS provider used for voice resolution.
func (p *Provider) Voices() *tts.Provider {
	return p.tts
}

// WebhookURL resolves a webhook path against the public URL.
func (p *Provider) WebhookURL(path string) string {
	return p.publicURL + path
}

// MediaStreamURL returns the wss:// URL Twilio should stream media to.
func (p *Provider) MediaStreamURL() string {
	u := p.publicURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + PathMediaStream
}

// Answer acknowledges an inbound call. Twilio answers when the inbound
// webhook returns TwiML, so there is nothing left to do on the API.
func (p *Provider) Answer(ctx context.Context, callSID string) error {
	p.log.Debug().Str("call_sid", callSID).Msg("answered")
	return nil
}

// Speak redirects the call to say text, then to the speak-ended webhook.
func (p *Provider) Speak(ctx context.Context, callSID, text, voice, language string) error {
	doc, err := twiml.Voice([]twiml.Element{
		p.tts.Say(text, voice, language),
		&twiml.VoiceRedirect{Url: p.WebhookURL(PathSpeakEnded), Method: "POST"},
	})
	if err != nil {
		return fmt.Errorf("render speak twiml: %w", err)
	}
	return p.update(ctx, "speak", callSID, &client.UpdateCallParams{Twiml: doc})
}

// StartTranscription opens a speech <Gather> that posts to the transcript webhook.
func (p *Provider) StartTranscription(ctx context.Context, callSID, language string) error {
	doc, err := twiml.Voice([]twiml.Element{
		p.stt.Gather(stt.GatherConfig{Action: p.WebhookURL(PathTranscript), Language: language}),
		&twiml.VoiceRedirect{Url: p.WebhookURL(PathHold), Method: "POST"},
	})
	if err != nil {
		return fmt.Errorf("render gather twiml: %w", err)
	}
	return p.update(ctx, "start transcription", callSID, &client.UpdateCallParams{Twiml: doc})
}

// StopTranscription parks the call in the hold loop.
func (p *Provider) StopTranscription(ctx context.Context, callSID string) error {
	doc, err := p.HoldTwiML()
	if err != nil {
		return err
	}
	return p.update(ctx, "stop transcription", callSID, &client.UpdateCallParams{Twiml: doc})
}

// CallStatus returns the call's Twilio status. A call Twilio no longer knows
// reports as completed.
func (p *Provider) CallStatus(ctx context.Context, callSID string) (string, error) {
	call, err := p.client.FetchCall(ctx, callSID)
	if err != nil {
		var apiErr *client.Error
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return voicebridge.CallStatusCompleted, nil
		}
		return "", voicebridge.NewProviderError(voicebridge.ProviderName, "call status", err)
	}
	return call.Status, nil
}

// Hangup ends the call.
func (p *Provider) Hangup(ctx context.Context, callSID string) error {
	if _, err := p.client.HangupCall(ctx, callSID); err != nil {
		return voicebridge.NewProviderError(voicebridge.ProviderName, "hangup", err)
	}
	return nil
}

// Dial places an outbound call whose TwiML is fetched from the inbound webhook.
func (p *Provider) Dial(ctx context.Context, to, from string) (string, error) {
	if from == "" {
		from = p.defaultFrom
	}
	if from == "" {
		return "", fmt.Errorf("from number is required (set a default phone number)")
	}

	call, err := p.client.MakeCall(ctx, &client.MakeCallParams{
		To:                  to,
		From:                from,
		URL:                 p.WebhookURL(PathInbound),
		StatusCallback:      p.WebhookURL(PathStatus),
		StatusCallbackEvent: []string{"initiated", "ringing", "answered", "completed"},
	})
	if err != nil {
		return "", voicebridge.NewProviderError(voicebridge.ProviderName, "dial", err)
	}
	p.log.Info().Str("call_sid", call.SID).Str("to", to).Msg("outbound call placed")
	return call.SID, nil
}

// StreamTwiML connects the call to the media stream endpoint. The session
// identifiers travel as stream parameters and come back on the start message.
func (p *Provider) StreamTwiML(callSID, tenantID, workflowID string) (string, error) {
	params := []twiml.Element{
		twiml.VoiceParameter{Name: ParamCallSID, Value: callSID},
		twiml.VoiceParameter{Name: ParamTenantID, Value: tenantID},
	}
	if workflowID != "" {
		params = append(params, twiml.VoiceParameter{Name: ParamWorkflowID, Value: workflowID})
	}
	stream := twiml.VoiceStream{
		Url:           p.MediaStreamURL(),
		InnerElements: params,
	}
	return twiml.Voice([]twiml.Element{
		twiml.VoiceConnect{InnerElements: []twiml.Element{stream}},
	})
}

// HoldTwiML keeps the call alive with silence while the bridge works.
func (p *Provider) HoldTwiML() (string, error) {
	return twiml.Voice([]twiml.Element{
		&twiml.VoicePause{Length: fmt.Sprint(holdSeconds)},
		&twiml.VoiceRedirect{Url: p.WebhookURL(PathHold), Method: "POST"},
	})
}

// RejectTwiML apologizes and hangs up, for calls that cannot be routed.
func (p *Provider) RejectTwiML(message string) (string, error) {
	elements := []twiml.Element{}
	if message != "" {
		elements = append(elements, p.tts.Say(message, "", ""))
	}
	elements = append(elements, &twiml.VoiceHangup{})
	return twiml.Voice(elements)
}

func (p *Provider) update(ctx context.Context, op, callSID string, params *client.UpdateCallParams) error {
	if _, err := p.client.UpdateCall(ctx, callSID, params); err != nil {
		return voicebridge.NewProviderError(voicebridge.ProviderName, op, err)
	}
	p.log.Debug().Str("call_sid", callSID).Str("op", op).Msg("call updated")
	return nil
}
