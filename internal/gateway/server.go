// Package gateway serves Twilio's voice webhooks and media stream websocket,
// and a small read-only API over live sessions.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	twclient "github.com/twilio/twilio-go/client"

	"github.com/agentplexus/omnivoice-bridge/callsystem"
	"github.com/agentplexus/omnivoice-bridge/internal/callbridge"
	"github.com/agentplexus/omnivoice-bridge/internal/logging"
	"github.com/agentplexus/omnivoice-bridge/internal/session"
	"github.com/agentplexus/omnivoice-bridge/internal/streaming"
	"github.com/agentplexus/omnivoice-bridge/internal/workflow"
	"github.com/agentplexus/omnivoice-bridge/transport"
)

// Introspection routes.
const (
	PathSessions = "/sessions"
	PathHealth   = "/healthz"
)

const (
	signatureHeader = "X-Twilio-Signature"
	shutdownTimeout = 10 * time.Second
	hangupTimeout   = 5 * time.Second
)

// Calls is the session surface the gateway drives. *callbridge.Service
// implements it.
type Calls interface {
	StartSession(ctx context.Context, req callbridge.StartRequest) (string, error)
	AttachMedia(ctx context.Context, start transport.Event, tel streaming.Telephony) error
	EndSession(callID string) error
	SpeakEnded(callID string) error
	Transcript(callID, text string) (bool, error)
	Session(callID string) (*session.VoiceSession, bool)
	ListActive() []session.Summary
}

// CallControl renders webhook responses and ends calls.
// *callsystem.Provider implements it.
type CallControl interface {
	StreamTwiML(callSID, tenantID, workflowID string) (string, error)
	HoldTwiML() (string, error)
	RejectTwiML(message string) (string, error)
	Hangup(ctx context.Context, callSID string) error
}

// Router maps a dialed number to its tenant. *workflow.Catalog implements it.
type Router interface {
	RouteNumber(number string) (workflow.Route, error)
}

// Options configure the server.
type Options struct {
	Addr string

	// PublicURL is the externally visible base URL Twilio calls. Webhook
	// signatures are computed against it.
	PublicURL string

	// AuthToken enables webhook signature validation when set.
	AuthToken string

	// MediaAttachTimeout bounds the wait for a media stream's start message.
	MediaAttachTimeout time.Duration
}

// Server is the HTTP and websocket front end.
type Server struct {
	opts      Options
	calls     Calls
	router    Router
	control   CallControl
	media     *transport.Provider
	validator *twclient.RequestValidator
	engine    *gin.Engine
	log       *logging.Logger
}

// New creates the server and registers its routes.
func New(opts Options, calls Calls, router Router, control CallControl, media *transport.Provider, log *logging.Logger) (*Server, error) {
	if calls == nil || router == nil || control == nil || media == nil {
		return nil, fmt.Errorf("gateway: calls, router, call control and media provider are required")
	}
	if log == nil {
		log = logging.Nop()
	}
	if opts.MediaAttachTimeout <= 0 {
		opts.MediaAttachTimeout = callbridge.DefaultMediaAttachTimeout
	}

	s := &Server{
		opts:    opts,
		calls:   calls,
		router:  router,
		control: control,
		media:   media,
		log:     log.Sub("gateway"),
	}
	if opts.AuthToken != "" {
		v := twclient.NewRequestValidator(opts.AuthToken)
		s.validator = &v
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.requestLog())
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	voice := s.engine.Group("/", s.verifySignature())
	voice.POST(callsystem.PathInbound, s.handleInbound)
	voice.POST(callsystem.PathStatus, s.handleStatus)
	voice.POST(callsystem.PathSpeakEnded, s.handleSpeakEnded)
	voice.POST(callsystem.PathTranscript, s.handleTranscript)
	voice.POST(callsystem.PathHold, s.handleHold)

	s.engine.GET(callsystem.PathMediaStream, s.handleMediaStream)
	s.engine.GET(PathSessions, s.handleListSessions)
	s.engine.DELETE(PathSessions+"/:callSid", s.handleEndSession)
	s.engine.GET(PathHealth, s.handleHealth)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("public_url", s.opts.PublicURL).
		Bool("signatures", s.validator != nil).
		Msg("gateway server ready")

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// requestLog logs each request at debug level.
func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

// verifySignature rejects webhooks without a valid Twilio signature. It is
// a no-op when no auth token is configured.
func (s *Server) verifySignature() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.validator == nil {
			c.Next()
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		params := make(map[string]string, len(c.Request.PostForm))
		for k, v := range c.Request.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		url := strings.TrimRight(s.opts.PublicURL, "/") + c.Request.URL.RequestURI()
		if !s.validator.Validate(url, params, c.GetHeader(signatureHeader)) {
			s.log.Warn().Str("path", c.Request.URL.Path).Str("remote", c.ClientIP()).Msg("invalid webhook signature")
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
