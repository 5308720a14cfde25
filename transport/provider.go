// Package transport implements the server side of Twilio Media Streams.
package transport

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentplexus/omnivoice-bridge/internal/logging"
)

const (
	defaultQueueSize    = 100
	defaultEventBuffer  = 256
	defaultWriteTimeout = 5 * time.Second
)

// Provider accepts Media Streams websocket connections from Twilio.
type Provider struct {
	log          *logging.Logger
	upgrader     websocket.Upgrader
	queueSize    int
	writeTimeout time.Duration

	mu          sync.RWMutex
	connections map[string]*Connection // started streams by stream SID
}

// Option configures the Provider.
type Option func(*options)

type options struct {
	log          *logging.Logger
	queueSize    int
	writeTimeout time.Duration
}

// WithLogger sets the logger used for connection diagnostics.
func WithLogger(log *logging.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithQueueSize bounds the outbound media queue per connection. When full,
// the oldest frame is dropped.
func WithQueueSize(n int) Option {
	return func(o *options) {
		o.queueSize = n
	}
}

// WithWriteTimeout bounds each websocket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}

// New creates a new Twilio Media Streams transport provider.
func New(opts ...Option) (*Provider, error) {
	cfg := &options{
		queueSize:    defaultQueueSize,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.log == nil {
		cfg.log = logging.Nop()
	}
	if cfg.queueSize <= 0 {
		return nil, fmt.Errorf("queue size must be positive, got %d", cfg.queueSize)
	}

	return &Provider{
		log: cfg.log.Sub("transport"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		queueSize:    cfg.queueSize,
		writeTimeout: cfg.writeTimeout,
		connections:  make(map[string]*Connection),
	}, nil
}

// Name returns the transport name.
func (p *Provider) Name() string {
	return "twilio-media-streams"
}

// Protocol returns the protocol type.
func (p *Provider) Protocol() string {
	return "websocket"
}

// HandleWebSocket upgrades an incoming request from Twilio and starts the
// connection's read and write loops.
func (p *Provider) HandleWebSocket(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	wsConn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade failed: %w", err)
	}

	conn := newConnection(p, wsConn)
	go conn.readLoop()
	go conn.writeLoop()
	return conn, nil
}

// ActiveConnections returns the number of started streams.
func (p *Provider) ActiveConnections() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.connections)
}

// Close shuts down every connection.
func (p *Provider) Close() error {
	p.mu.Lock()
	conns := make([]*Connection, 0, len(p.connections))
	for _, conn := range p.connections {
		conns = append(conns, conn)
	}
	p.connections = make(map[string]*Connection)
	p.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	return nil
}

func (p *Provider) register(c *Connection) {
	p.mu.Lock()
	p.connections[c.StreamSID()] = c
	p.mu.Unlock()
}

func (p *Provider) unregister(c *Connection, streamSID string) {
	if streamSID == "" {
		return
	}
	p.mu.Lock()
	if p.connections[streamSID] == c {
		delete(p.connections, streamSID)
	}
	p.mu.Unlock()
}
