package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentplexus/omnivoice-bridge/callsystem"
	"github.com/agentplexus/omnivoice-bridge/internal/callbridge"
	"github.com/agentplexus/omnivoice-bridge/internal/config"
	"github.com/agentplexus/omnivoice-bridge/internal/gateway"
	"github.com/agentplexus/omnivoice-bridge/internal/llm"
	"github.com/agentplexus/omnivoice-bridge/internal/logging"
	"github.com/agentplexus/omnivoice-bridge/internal/rag"
	"github.com/agentplexus/omnivoice-bridge/internal/session"
	"github.com/agentplexus/omnivoice-bridge/internal/streaming"
	"github.com/agentplexus/omnivoice-bridge/internal/turn"
	"github.com/agentplexus/omnivoice-bridge/internal/workflow"
	"github.com/agentplexus/omnivoice-bridge/realtime"
	"github.com/agentplexus/omnivoice-bridge/stt"
	"github.com/agentplexus/omnivoice-bridge/transport"
	"github.com/agentplexus/omnivoice-bridge/tts"
)

const drainTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer calls: serve the Twilio webhooks and media streams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			level := cfg.Logging.Level
			if logLevel != "" {
				level = logLevel
			}
			log = logging.NewWithFormat(cfg.Logging.Format, level)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	registry := session.NewRegistry(log)
	catalog := workflow.NewCatalog(cfg.Tenants, log)
	go reloadOnHangup(ctx, catalog)

	store, err := rag.Open(knowledgePath(cfg), log)
	if err != nil {
		return fmt.Errorf("opening knowledge base: %w", err)
	}
	defer store.Close()

	knowledge := rag.NewDispatcher(store,
		rag.WithLimit(cfg.Knowledge.Limit),
		rag.WithMinScore(cfg.Knowledge.MinScore),
		rag.WithTimeout(cfg.Knowledge.Timeout()),
		rag.WithLogger(log),
	)

	calls, err := newCallProvider(cfg)
	if err != nil {
		return err
	}

	media, err := transport.New(transport.WithLogger(log))
	if err != nil {
		return err
	}
	defer media.Close()

	opts := []callbridge.Option{
		callbridge.WithMediaAttachTimeout(cfg.Bridge.MediaAttachTimeout()),
		callbridge.WithLogger(log),
	}

	if cfg.Realtime.APIKey != "" {
		bridge, err := newStreamingBridge(cfg, registry, knowledge)
		if err != nil {
			return err
		}
		opts = append(opts, callbridge.WithStreaming(bridge))
	}

	if cfg.Completion.APIKey != "" {
		completer, err := llm.NewGeminiClient(ctx, cfg.Completion.APIKey, cfg.Completion.Model, cfg.Completion.BaseURL)
		if err != nil {
			return fmt.Errorf("creating completion client: %w", err)
		}
		temperature := cfg.Completion.Temperature
		ctl, err := turn.New(calls, completer, knowledge, calls.Voices(), registry, turn.Options{
			Model:            cfg.Completion.Model,
			MaxTokens:        cfg.Completion.MaxTokens,
			Temperature:      &temperature,
			GreetingMaxChars: cfg.Bridge.GreetingMaxChars,
			IdleTimeout:      cfg.Bridge.TurnIdleTimeout(),
		}, log)
		if err != nil {
			return err
		}
		opts = append(opts, callbridge.WithTurnBased(ctl))
	}

	svc, err := callbridge.New(registry, catalog, opts...)
	if err != nil {
		return err
	}

	gwOpts := gateway.Options{
		Addr:               cfg.Server.Addr,
		PublicURL:          cfg.Server.PublicURL,
		MediaAttachTimeout: cfg.Bridge.MediaAttachTimeout(),
	}
	if cfg.Server.ValidateSignatures {
		gwOpts.AuthToken = cfg.Twilio.AuthToken
	}
	srv, err := gateway.New(gwOpts, svc, catalog, calls, media, log)
	if err != nil {
		return err
	}

	log.Info().
		Int("tenants", len(cfg.Tenants)).
		Bool("streaming", cfg.Realtime.APIKey != "").
		Bool("turn_based", cfg.Completion.APIKey != "").
		Msg("voicebridge starting")

	serveErr := srv.Start(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := svc.Shutdown(drainCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
	return serveErr
}

func newCallProvider(cfg config.Config) (*callsystem.Provider, error) {
	voices, err := tts.New()
	if err != nil {
		return nil, err
	}
	speech, err := stt.New()
	if err != nil {
		return nil, err
	}
	return callsystem.New(
		callsystem.WithAccountSID(cfg.Twilio.AccountSID),
		callsystem.WithAuthToken(cfg.Twilio.AuthToken),
		callsystem.WithAPIBaseURL(cfg.Twilio.APIBaseURL),
		callsystem.WithPublicURL(cfg.Server.PublicURL),
		callsystem.WithPhoneNumber(cfg.Twilio.PhoneNumber),
		callsystem.WithSpeech(voices, speech),
		callsystem.WithLogger(log),
	)
}

func newStreamingBridge(cfg config.Config, registry *session.Registry, knowledge *rag.Dispatcher) (*streaming.Bridge, error) {
	rt := cfg.Realtime
	dialer := &realtime.Dialer{
		URL:    rt.URL,
		APIKey: rt.APIKey,
		Model:  rt.Model,
		Log:    log,
	}

	opts := streaming.DefaultOptions()
	opts.Realtime.Temperature = rt.Temperature
	opts.Realtime.MaxResponseOutputTokens = rt.MaxResponseTokens
	opts.Realtime.TurnDetection.Threshold = rt.VADThreshold
	opts.Realtime.TurnDetection.PrefixPaddingMs = rt.PrefixPaddingMs
	opts.Realtime.TurnDetection.SilenceDurationMs = rt.SilenceDurationMs
	opts.Realtime.InputAudioTranscription.Model = rt.TranscriptionModel
	opts.Tools = []realtime.Tool{rag.ToolDefinition()}
	opts.InboundChunkMs = cfg.Bridge.InboundChunkMs
	opts.OutboundChunkMs = cfg.Bridge.OutboundChunkMs
	opts.GreetingMaxChars = cfg.Bridge.GreetingMaxChars

	return streaming.New(streaming.RealtimeDialer(dialer), registry, knowledge, opts, log)
}

// reloadOnHangup re-reads tenant configuration on SIGHUP. Live sessions keep
// the configuration they started with.
func reloadOnHangup(ctx context.Context, catalog *workflow.Catalog) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := loadConfig()
			if err != nil {
				log.Error().Err(err).Msg("config reload failed")
				continue
			}
			catalog.Replace(cfg.Tenants)
			log.Info().Int("tenants", len(cfg.Tenants)).Msg("tenant configuration reloaded")
		}
	}
}
