// Package client is a minimal Twilio REST client for call control.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	voicebridge "github.com/agentplexus/omnivoice-bridge"
)

// Client is a Twilio API client.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

// Config configures the Twilio client. Empty credentials fall back to
// TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN.
type Config struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a new Twilio client.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	accountSID := cfg.AccountSID
	if accountSID == "" {
		accountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if accountSID == "" {
		return nil, fmt.Errorf("TWILIO_ACCOUNT_SID is required")
	}

	authToken := cfg.AuthToken
	if authToken == "" {
		authToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if authToken == "" {
		return nil, fmt.Errorf("TWILIO_AUTH_TOKEN is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = voicebridge.DefaultAPIBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &Client{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    baseURL,
		httpClient: httpClient,
	}, nil
}

// AccountSID returns the account SID.
func (c *Client) AccountSID() string {
	return c.accountSID
}

// AuthToken returns the auth token, used to validate webhook signatures.
func (c *Client) AuthToken() string {
	return c.authToken
}

// Call represents a Twilio call resource.
type Call struct {
	SID        string `json:"sid"`
	AccountSID string `json:"account_sid"`
	To         string `json:"to"`
	From       string `json:"from"`
	Status     string `json:"status"`
	Direction  string `json:"direction"`
	Duration   string `json:"duration"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
}

// MakeCallParams are parameters for placing an outbound call.
type MakeCallParams struct {
	To                  string
	From                string
	URL                 string // TwiML URL
	Twiml               string // Inline TwiML
	StatusCallback      string
	StatusCallbackEvent []string
	Timeout             int // ring timeout in seconds
}

// MakeCall initiates an outbound call.
func (c *Client) MakeCall(ctx context.Context, params *MakeCallParams) (*Call, error) {
	data := url.Values{}
	data.Set("To", params.To)
	data.Set("From", params.From)

	if params.URL != "" {
		data.Set("Url", params.URL)
	}
	if params.Twiml != "" {
		data.Set("Twiml", params.Twiml)
	}
	if params.StatusCallback != "" {
		data.Set("StatusCallback", params.StatusCallback)
	}
	for _, event := range params.StatusCallbackEvent {
		data.Add("StatusCallbackEvent", event)
	}
	if params.Timeout > 0 {
		data.Set("Timeout", strconv.Itoa(params.Timeout))
	}

	var call Call
	if err := c.post(ctx, c.accountPath("Calls.json"), data, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// UpdateCallParams are parameters for redirecting or ending a live call.
type UpdateCallParams struct {
	URL    string // New TwiML URL
	Twiml  string // Inline TwiML
	Status string // "completed" to hang up, "canceled" to cancel
}

// UpdateCall modifies an in-progress call.
func (c *Client) UpdateCall(ctx context.Context, callSID string, params *UpdateCallParams) (*Call, error) {
	data := url.Values{}
	if params.URL != "" {
		data.Set("Url", params.URL)
	}
	if params.Twiml != "" {
		data.Set("Twiml", params.Twiml)
	}
	if params.Status != "" {
		data.Set("Status", params.Status)
	}

	var call Call
	if err := c.post(ctx, c.accountPath("Calls/"+url.PathEscape(callSID)+".json"), data, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// FetchCall returns the current state of a call.
func (c *Client) FetchCall(ctx context.Context, callSID string) (*Call, error) {
	var call Call
	if err := c.get(ctx, c.accountPath("Calls/"+url.PathEscape(callSID)+".json"), &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// HangupCall ends a call.
func (c *Client) HangupCall(ctx context.Context, callSID string) (*Call, error) {
	return c.UpdateCall(ctx, callSID, &UpdateCallParams{Status: voicebridge.CallStatusCompleted})
}

// PhoneNumber is a number owned by the account.
type PhoneNumber struct {
	SID          string `json:"sid"`
	PhoneNumber  string `json:"phone_number"`
	FriendlyName string `json:"friendly_name"`
	VoiceURL     string `json:"voice_url"`
}

type phoneNumberList struct {
	PhoneNumbers []PhoneNumber `json:"incoming_phone_numbers"`
}

// ListPhoneNumbers returns the account's incoming numbers.
func (c *Client) ListPhoneNumbers(ctx context.Context) ([]PhoneNumber, error) {
	var list phoneNumberList
	if err := c.get(ctx, c.accountPath("IncomingPhoneNumbers.json"), &list); err != nil {
		return nil, err
	}
	return list.PhoneNumbers, nil
}

// Error represents a Twilio API error.
type Error struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("twilio error %d: %s", e.Code, e.Message)
}

func (c *Client) accountPath(resource string) string {
	return fmt.Sprintf("%s/Accounts/%s/%s", c.baseURL, c.accountSID, resource)
}

func (c *Client) get(ctx context.Context, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, endpoint string, data url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, result)
}

// do executes a request with basic auth. Non-2xx responses become *Error.
func (c *Client) do(req *http.Request, result any) error {
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		apiErr := &Error{Status: resp.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
