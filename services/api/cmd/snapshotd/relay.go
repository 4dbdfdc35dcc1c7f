package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"snapshotd/pkg/metrics"
	"snapshotd/services/api/internal/config"
	"snapshotd/services/dispatch"
)

func newRelayCommand() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Push queued share jobs to the worker endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.ValidateRelay(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			logger := newLogger(cfg, "relay")

			var signer *dispatch.Signer
			if cfg.WorkerSigningKey != "" {
				key, err := dispatch.ParsePrivateKey(cfg.WorkerSigningKey)
				if err != nil {
					return fmt.Errorf("parse WORKER_SIGNING_KEY: %w", err)
				}
				if signer, err = dispatch.NewSigner(key, cfg.WorkerIdentity, cfg.WorkerAudience()); err != nil {
					return err
				}
			}

			reg := prometheus.NewRegistry()
			m := metrics.New(reg)
			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				server := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := listen(ctx, server, logger); err != nil {
						logger.Error().Err(err).Msg("metrics listener failed")
					}
				}()
			}

			b, err := connectBus(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			relay, err := dispatch.NewRelay(b, dispatch.RelayConfig{
				Subject:   cfg.JobsSubject,
				Consumer:  consumerConfig(cfg),
				WorkerURL: cfg.WorkerURL,
				Token:     cfg.WorkerToken,
				Signer:    signer,
			}, logger, m)
			if err != nil {
				return err
			}
			return relay.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}
