package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	voicebridge "github.com/agentplexus/omnivoice-bridge"
	"github.com/agentplexus/omnivoice-bridge/internal/logging"
)

// Connection is one Twilio Media Streams websocket. Inbound events are
// delivered on Events; outbound media is queued and written by a single
// writer goroutine.
type Connection struct {
	wsConn       *websocket.Conn
	provider     *Provider
	log          *logging.Logger
	writeTimeout time.Duration

	events  chan Event
	media   *frameQueue
	control chan []byte
	done    chan struct{}

	mu           sync.RWMutex
	streamSID    string
	callSID      string
	customParams map[string]string
	closed       bool
	closeOnce    sync.Once
	remoteAddr   net.Addr
}

func newConnection(p *Provider, wsConn *websocket.Conn) *Connection {
	return &Connection{
		wsConn:       wsConn,
		provider:     p,
		log:          p.log,
		writeTimeout: p.writeTimeout,
		events:       make(chan Event, defaultEventBuffer),
		media:        newFrameQueue(p.queueSize),
		control:      make(chan []byte, 16),
		done:         make(chan struct{}),
		remoteAddr:   wsConn.RemoteAddr(),
	}
}

// StreamSID returns the stream identifier from the start message.
func (c *Connection) StreamSID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streamSID
}

// CallSID returns the associated call SID.
func (c *Connection) CallSID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callSID
}

// CustomParameters returns the <Parameter> values sent with the stream.
func (c *Connection) CustomParameters() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.customParams))
	for k, v := range c.customParams {
		out[k] = v
	}
	return out
}

// RemoteAddr returns the remote address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// Events returns inbound events. The channel closes when the connection ends.
func (c *Connection) Events() <-chan Event {
	return c.events
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// WaitStart consumes events until the stream's start message arrives.
func (c *Connection) WaitStart(ctx context.Context) (Event, error) {
	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case ev, ok := <-c.events:
			if !ok {
				return Event{}, fmt.Errorf("stream closed before start: %w", voicebridge.ErrConnectionUnavailable)
			}
			switch ev.Type {
			case EventStart:
				return ev, nil
			case EventStop:
				return Event{}, fmt.Errorf("stream stopped before start: %w", voicebridge.ErrConnectionUnavailable)
			case EventError:
				return Event{}, ev.Err
			}
		}
	}
}

// SendMedia queues a μ-law frame for playback on the call. It fails with
// ErrConnectionUnavailable when the connection is closed or the stream has
// not started.
func (c *Connection) SendMedia(payload []byte) error {
	sid, err := c.addressable()
	if err != nil {
		return err
	}
	data, err := json.Marshal(outboundMessage{
		Event:     "media",
		StreamSID: sid,
		Media:     &mediaPayload{Payload: base64.StdEncoding.EncodeToString(payload)},
	})
	if err != nil {
		return err
	}
	if c.media.push(data) {
		c.log.Debug().Str("stream_sid", sid).Msg("outbound queue full, dropped oldest frame")
	}
	return nil
}

// SendMark queues a mark message. Twilio echoes it back once playback
// reaches this point.
func (c *Connection) SendMark(name string) error {
	sid, err := c.addressable()
	if err != nil {
		return err
	}
	data, err := json.Marshal(outboundMessage{Event: "mark", StreamSID: sid, Mark: &markMessage{Name: name}})
	if err != nil {
		return err
	}
	return c.sendControl(data)
}

// Clear discards queued outbound media locally and asks Twilio to drop
// audio it has buffered for playback.
func (c *Connection) Clear() error {
	sid, err := c.addressable()
	if err != nil {
		return err
	}
	c.media.drain()
	data, err := json.Marshal(outboundMessage{Event: "clear", StreamSID: sid})
	if err != nil {
		return err
	}
	return c.sendControl(data)
}

func (c *Connection) sendControl(data []byte) error {
	select {
	case c.control <- data:
		return nil
	case <-c.done:
		return voicebridge.ErrConnectionUnavailable
	default:
		return fmt.Errorf("control queue full: %w", voicebridge.ErrConnectionUnavailable)
	}
}

func (c *Connection) addressable() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return "", fmt.Errorf("connection closed: %w", voicebridge.ErrConnectionUnavailable)
	}
	if c.streamSID == "" {
		return "", fmt.Errorf("stream sid unknown: %w", voicebridge.ErrConnectionUnavailable)
	}
	return c.streamSID, nil
}

// Close closes the connection. It is safe to call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		sid := c.streamSID
		c.mu.Unlock()

		close(c.done)
		_ = c.wsConn.Close()
		c.provider.unregister(c, sid)
	})
	return nil
}

// emit delivers ev unless the connection is closing.
func (c *Connection) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// readLoop reads messages from the WebSocket. It owns the events channel.
func (c *Connection) readLoop() {
	defer close(c.events)
	defer func() { _ = c.Close() }()

	for {
		_, data, err := c.wsConn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.emit(Event{Type: EventError, StreamSID: c.StreamSID(), Err: voicebridge.NewProviderError("twilio", "read", err)})
			} else {
				c.emit(Event{Type: EventStop, StreamSID: c.StreamSID(), CallSID: c.CallSID()})
			}
			return
		}

		ev, ok := c.decode(data)
		if !ok {
			continue
		}
		if !c.emit(ev) {
			return
		}
		if ev.Type == EventStop {
			return
		}
	}
}

// decode turns a raw frame into an Event. Malformed frames are logged and dropped.
func (c *Connection) decode(data []byte) (Event, bool) {
	var msg mediaMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warn().Err(voicebridge.MalformedError("twilio", err)).Msg("dropping frame")
		return Event{}, false
	}

	switch msg.Event {
	case "connected":
		return Event{Type: EventConnected}, true

	case "start":
		if msg.Start == nil || msg.Start.StreamSID == "" {
			c.log.Warn().Msg("start message without stream sid")
			return Event{}, false
		}
		c.mu.Lock()
		c.streamSID = msg.Start.StreamSID
		c.callSID = msg.Start.CallSID
		c.customParams = msg.Start.CustomParams
		c.mu.Unlock()
		c.provider.register(c)

		return Event{
			Type:         EventStart,
			StreamSID:    msg.Start.StreamSID,
			CallSID:      msg.Start.CallSID,
			CustomParams: msg.Start.CustomParams,
		}, true

	case "media":
		if msg.Media == nil || msg.Media.Payload == "" {
			return Event{}, false
		}
		audio, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			c.log.Warn().Err(voicebridge.MalformedError("twilio media", err)).Msg("dropping frame")
			return Event{}, false
		}
		return Event{Type: EventMedia, StreamSID: msg.StreamSID, Payload: audio}, true

	case "mark":
		if msg.Mark == nil {
			return Event{}, false
		}
		return Event{Type: EventMark, StreamSID: msg.StreamSID, Name: msg.Mark.Name}, true

	case "dtmf":
		if msg.DTMF == nil {
			return Event{}, false
		}
		return Event{Type: EventDTMF, StreamSID: msg.StreamSID, Digit: msg.DTMF.Digit}, true

	case "stop":
		callSID := c.CallSID()
		if msg.Stop != nil && msg.Stop.CallSID != "" {
			callSID = msg.Stop.CallSID
		}
		return Event{Type: EventStop, StreamSID: msg.StreamSID, CallSID: callSID}, true

	default:
		c.log.Debug().Str("event", msg.Event).Msg("ignoring unknown event")
		return Event{}, false
	}
}

// writeLoop is the only writer on the websocket. Control messages go first.
func (c *Connection) writeLoop() {
	defer func() { _ = c.Close() }()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.control:
			if !c.write(data) {
				return
			}
			continue
		default:
		}

		select {
		case <-c.done:
			return
		case data := <-c.control:
			if !c.write(data) {
				return
			}
		case data := <-c.media.ch:
			if !c.write(data) {
				return
			}
		}
	}
}

func (c *Connection) write(data []byte) bool {
	if c.writeTimeout > 0 {
		_ = c.wsConn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.wsConn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.Warn().Err(err).Str("stream_sid", c.StreamSID()).Msg("write failed")
		return false
	}
	return true
}
