package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"snapshotd/pkg/bus"
	"snapshotd/pkg/render"
	"snapshotd/pkg/telemetry"
	"snapshotd/services/api"
	"snapshotd/services/api/internal/config"
	"snapshotd/services/dispatch"
	"snapshotd/services/generator"
	"snapshotd/services/orchestrator"
)

func newServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides ADDR)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := newLogger(cfg, "api")

	shutdownTelemetry, traceMiddleware, err := telemetry.Init(ctx, "snapshotd", cfg.OTLPEndpoint, logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	orch, err := newOrchestrator(rt)
	if err != nil {
		return err
	}

	b, err := configureJobs(ctx, cfg, orch, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	auth, err := newAuthenticator(cfg, logger, rt)
	if err != nil {
		return err
	}
	if !auth.Configured() {
		logger.Warn().Msg("worker authentication not configured; the process endpoint will refuse requests")
	}

	a, err := api.New(api.Services{
		Shares:       rt.shares,
		Jobs:         rt.jobs,
		Generations:  rt.generations,
		Orchestrator: orch,
		WorkerAuth:   auth,
	}, api.Config{
		PublicBaseURL:      cfg.PublicBaseURL,
		SessionSecret:      cfg.SessionSecret,
		CookieDomain:       cfg.CookieDomain,
		CookieSecure:       cfg.CookieSecure,
		AllowedOrigins:     cfg.AllowedOrigins,
		RateLimitMutations: cfg.RateLimitMutations,
		RateLimitWindow:    cfg.RateLimitWindow,
		MaxPayloadBytes:    cfg.MaxPayloadBytes(),
		StoreName:          rt.driver.Name(),
		QuotaBackend:       cfg.QuotaBackend,
		InlineFallback:     cfg.JobsInlineFallback,
		Ready:              rt.ready,
		Middleware:         traceMiddleware,
		Gatherer:           rt.registry,
	}, logger)
	if err != nil {
		return fmt.Errorf("init api: %w", err)
	}
	handler, err := a.Routes()
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return listen(ctx, server, logger)
}

func listen(ctx context.Context, server *http.Server, logger zerolog.Logger) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	logger.Info().Str("addr", server.Addr).Msg("listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newOrchestrator(rt *runtime) (*orchestrator.Orchestrator, error) {
	engine, err := render.New()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	gen, err := generator.NewSimulated(engine)
	if err != nil {
		return nil, err
	}
	return orchestrator.New(orchestrator.Deps{
		Shares:      rt.shares,
		Jobs:        rt.jobs,
		Generations: rt.generations,
		Quota:       rt.quota,
		Generator:   gen,
	}, orchestrator.Config{
		AnonGenerationLimit: rt.cfg.AnonGenerationLimit,
		GlobalDailyLimit:    rt.cfg.GlobalDailyLimit,
	}, rt.logger, rt.metrics)
}

// configureJobs installs the dispatcher. The returned bus is nil when no
// queue is in use; (*bus.Bus).Close tolerates that.
func configureJobs(ctx context.Context, cfg config.Config, orch *orchestrator.Orchestrator, logger zerolog.Logger) (*bus.Bus, error) {
	if !cfg.JobsEnabled {
		logger.Info().Msg("async jobs disabled")
		return nil, nil
	}

	var inline dispatch.Dispatcher
	if cfg.JobsInlineFallback {
		d, err := dispatch.NewInlineDispatcher(orch.Process, cfg.JobsInlineTimeout, logger)
		if err != nil {
			return nil, err
		}
		inline = d
	}

	if cfg.NATSURL == "" {
		if inline == nil {
			logger.Warn().Msg("NATS_URL unset and inline fallback disabled; async jobs unavailable")
			return nil, nil
		}
		orch.SetDispatcher(inline)
		logger.Info().Msg("async jobs run inline")
		return nil, nil
	}

	b, err := connectBus(ctx, cfg)
	if err != nil {
		if inline == nil {
			return nil, err
		}
		logger.Warn().Err(err).Msg("job queue unavailable, running jobs inline")
		orch.SetDispatcher(inline)
		return nil, nil
	}

	queue, err := dispatch.NewBusDispatcher(b, cfg.JobsSubject)
	if err != nil {
		b.Close()
		return nil, err
	}
	if inline != nil {
		orch.SetDispatcher(&dispatch.Fallback{Primary: queue, Secondary: inline, Logger: logger})
	} else {
		orch.SetDispatcher(queue)
	}
	logger.Info().Str("subject", cfg.JobsSubject).Msg("async jobs queued on jetstream")
	return b, nil
}

func connectBus(ctx context.Context, cfg config.Config) (*bus.Bus, error) {
	b, err := bus.New(cfg.NATSURL, nats.Name("snapshotd"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	err = b.EnsureStream(ctx, bus.StreamConfig{
		Name:       cfg.JobsStream,
		Subjects:   []string{cfg.JobsSubject},
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 10 * time.Minute,
	})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.JobsStream, err)
	}
	return b, nil
}

func consumerConfig(cfg config.Config) bus.ConsumerConfig {
	return bus.ConsumerConfig{
		Durable:    cfg.JobsDurable,
		AckWait:    cfg.JobsAckWait,
		MaxDeliver: cfg.JobsMaxDeliver,
		Backoff:    cfg.JobsRetryBackoff,
	}
}

func newAuthenticator(cfg config.Config, logger zerolog.Logger, rt *runtime) (*dispatch.Authenticator, error) {
	authCfg := dispatch.AuthConfig{
		Token:     cfg.WorkerToken,
		Audiences: cfg.WorkerAudiences,
	}
	if cfg.WorkerIdentity != "" {
		authCfg.Identities = []string{cfg.WorkerIdentity}
	}
	if cfg.WorkerVerifyKey != "" {
		key, err := dispatch.ParsePublicKey(cfg.WorkerVerifyKey)
		if err != nil {
			return nil, fmt.Errorf("parse WORKER_VERIFY_KEY: %w", err)
		}
		authCfg.VerifyKey = key
	}
	return dispatch.NewAuthenticator(authCfg, logger, rt.metrics), nil
}
