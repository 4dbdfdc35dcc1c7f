package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newWorkerCommand() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued share jobs in this process instead of relaying them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if cfg.NATSURL == "" {
				return errors.New("NATS_URL is required")
			}
			logger := newLogger(cfg, "worker")

			rt, err := openRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			orch, err := newOrchestrator(rt)
			if err != nil {
				return err
			}
			defer orch.Close()

			b, err := connectBus(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := orch.Start(ctx, b, cfg.JobsSubject, consumerConfig(cfg)); err != nil {
				return fmt.Errorf("subscribe %s: %w", cfg.JobsSubject, err)
			}
			logger.Info().Str("subject", cfg.JobsSubject).Msg("worker started")

			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
				return listen(ctx, &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}, logger)
			}
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}
