package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	voicebridge "github.com/agentplexus/omnivoice-bridge"
	"github.com/agentplexus/omnivoice-bridge/internal/logging"
)

const providerName = "realtime"

// Dialer opens realtime connections.
type Dialer struct {
	URL              string
	APIKey           string
	Model            string
	HandshakeTimeout time.Duration
	Log              *logging.Logger
}

// Dial connects to the realtime service.
func (d *Dialer) Dial(ctx context.Context) (*Conn, error) {
	if d.APIKey == "" {
		return nil, voicebridge.NewProviderError(providerName, "dial", errors.New("api key is required"))
	}

	endpoint := d.URL
	if endpoint == "" {
		endpoint = voicebridge.DefaultRealtimeURL
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	model := d.Model
	if model == "" {
		model = voicebridge.DefaultRealtimeModel
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout, Proxy: http.ProxyFromEnvironment}

	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, voicebridge.NewProviderError(providerName, "dial", err)
	}

	log := d.Log
	if log == nil {
		log = logging.Nop()
	}
	c := &Conn{
		ws:     ws,
		log:    log.Sub("realtime"),
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Conn is one realtime session socket.
type Conn struct {
	ws     *websocket.Conn
	log    *logging.Logger
	events chan Event

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// Events returns decoded server events. A final EventClosed is delivered
// before the channel closes.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// UpdateSession sends session.update.
func (c *Conn) UpdateSession(cfg SessionConfig) error {
	return c.send("session.update", sessionUpdateEvent{Type: "session.update", Session: cfg})
}

// AppendAudio sends PCM16 audio with input_audio_buffer.append.
func (c *Conn) AppendAudio(pcm []byte) error {
	return c.send("append audio", appendAudioEvent{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// CreateResponse asks the model to respond.
func (c *Conn) CreateResponse() error {
	return c.send("response.create", typeOnlyEvent{Type: "response.create"})
}

// SendFunctionResult returns a tool result for the model's call callID.
func (c *Conn) SendFunctionResult(callID, output string) error {
	return c.send("function result", conversationItemCreateEvent{
		Type: "conversation.item.create",
		Item: conversationItem{Type: "function_call_output", CallID: callID, Output: output},
	})
}

func (c *Conn) send(op string, v any) error {
	select {
	case <-c.done:
		return fmt.Errorf("%s: %w", op, voicebridge.ErrConnectionUnavailable)
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", op, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return voicebridge.NewProviderError(providerName, op, err)
	}
	return nil
}

// Close closes the socket. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			closed := Event{Type: EventClosed}
			select {
			case <-c.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					closed.Err = voicebridge.NewProviderError(providerName, "read", err)
				}
			}
			_ = c.Close()
			c.deliverClosed(closed)
			return
		}

		ev, ok := c.decode(data)
		if !ok {
			continue
		}
		select {
		case c.events <- ev:
		case <-c.done:
			c.deliverClosed(Event{Type: EventClosed})
			return
		}
	}
}

// deliverClosed hands the final event to a consumer that may already be gone.
func (c *Conn) deliverClosed(ev Event) {
	select {
	case c.events <- ev:
	case <-time.After(time.Second):
	}
}

// decode maps a server event. Malformed and uninteresting events are dropped.
func (c *Conn) decode(data []byte) (Event, bool) {
	var se serverEvent
	if err := json.Unmarshal(data, &se); err != nil {
		c.log.Warn().Err(voicebridge.MalformedError(providerName, err)).Msg("dropping event")
		return Event{}, false
	}

	ev := Event{Type: se.Type, ResponseID: se.ResponseID, ItemID: se.ItemID}
	switch se.Type {
	case EventSessionCreated, EventSessionUpdated, EventAudioDone,
		EventSpeechStarted, EventSpeechStopped, EventResponseDone:

	case EventAudioDelta:
		audio, err := base64.StdEncoding.DecodeString(se.Delta)
		if err != nil {
			c.log.Warn().Err(voicebridge.MalformedError(providerName+" audio", err)).Msg("dropping audio delta")
			return Event{}, false
		}
		ev.Audio = audio

	case EventAudioTranscriptDone, EventInputTranscriptionCompleted:
		ev.Transcript = se.Transcript

	case EventFunctionCallArgumentsDone:
		ev.CallID = se.CallID
		ev.Name = se.Name
		ev.Arguments = se.Arguments

	case EventError:
		msg := "unknown error"
		code := ""
		if se.Error != nil {
			msg = se.Error.Message
			code = se.Error.Code
		}
		ev.Err = voicebridge.NewProviderError(providerName, code, errors.New(msg))

	default:
		c.log.Trace().Str("type", se.Type).Msg("ignoring event")
		return Event{}, false
	}
	return ev, true
}
