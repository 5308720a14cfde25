package streaming

import (
	"context"

	"github.com/agentplexus/omnivoice-bridge/realtime"
	"github.com/agentplexus/omnivoice-bridge/transport"
)

// Telephony is the media side of a streaming call.
type Telephony interface {
	Events() <-chan transport.Event
	StreamSID() string
	SendMedia(payload []byte) error
	Clear() error
	Close() error
}

// AI is the realtime voice AI side of a streaming call.
type AI interface {
	Events() <-chan realtime.Event
	UpdateSession(cfg realtime.SessionConfig) error
	AppendAudio(pcm []byte) error
	CreateResponse() error
	SendFunctionResult(callID, output string) error
	Close() error
}

// Dialer opens realtime AI connections.
type Dialer interface {
	Dial(ctx context.Context) (AI, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (AI, error)

func (f DialerFunc) Dial(ctx context.Context) (AI, error) { return f(ctx) }

// RealtimeDialer adapts a realtime.Dialer.
func RealtimeDialer(d *realtime.Dialer) Dialer {
	return DialerFunc(func(ctx context.Context) (AI, error) {
		conn, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

// ToolHandler executes AI function calls and returns their JSON output.
type ToolHandler interface {
	HandleToolCall(ctx context.Context, tenantID, name, arguments string) string
}

var (
	_ Telephony = (*transport.Connection)(nil)
	_ AI        = (*realtime.Conn)(nil)
)
