package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"snapshotd/pkg/bus"
	"snapshotd/pkg/metrics"
)

// Subscriber is the subset of *bus.Bus the relay consumes from.
type Subscriber interface {
	Subscribe(ctx context.Context, subj string, cfg bus.ConsumerConfig, fn func(ctx context.Context, data []byte) error) (io.Closer, error)
}

type RelayConfig struct {
	Subject   string
	Consumer  bus.ConsumerConfig
	WorkerURL string
	Token     string
	Signer    *Signer
	Client    *http.Client
}

// Relay drains the job queue and pushes each descriptor to the worker
// endpoint. Redelivery is left to JetStream: transient failures Nak and
// rejected descriptors are terminated.
type Relay struct {
	sub     Subscriber
	cfg     RelayConfig
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewRelay(sub Subscriber, cfg RelayConfig, logger zerolog.Logger, m *metrics.Metrics) (*Relay, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	if cfg.Subject == "" {
		return nil, errors.New("subject is required")
	}
	if cfg.WorkerURL == "" {
		return nil, errors.New("worker url is required")
	}
	if cfg.Token == "" && cfg.Signer == nil {
		return nil, errors.New("a worker token or signing key is required")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Relay{sub: sub, cfg: cfg, logger: logger, metrics: m}, nil
}

// Run consumes until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	closer, err := r.sub.Subscribe(ctx, r.cfg.Subject, r.cfg.Consumer, r.Deliver)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.cfg.Subject, err)
	}
	r.logger.Info().Str("subject", r.cfg.Subject).Str("worker_url", r.cfg.WorkerURL).Msg("relay started")

	<-ctx.Done()
	return closer.Close()
}

// Deliver posts one queued descriptor to the worker. Errors wrapping
// bus.ErrPermanent must not be retried.
func (r *Relay) Deliver(ctx context.Context, data []byte) error {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil || d.JobID == "" {
		r.metrics.RelayDelivery("malformed")
		r.logger.Error().Err(err).Msg("dropping malformed job descriptor")
		return fmt.Errorf("decode descriptor: %w", bus.ErrPermanent)
	}
	log := r.logger.With().Str("job_id", d.JobID).Logger()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.WorkerURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build worker request: %w", bus.ErrPermanent)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.RequestID != "" {
		req.Header.Set("X-Request-Id", d.RequestID)
	}
	if r.cfg.Token != "" {
		req.Header.Set(WorkerTokenHeader, r.cfg.Token)
	}
	if r.cfg.Signer != nil {
		token, err := r.cfg.Signer.Token()
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.cfg.Client.Do(req)
	if err != nil {
		r.metrics.RelayDelivery("retry")
		log.Error().Err(err).Msg("worker request failed")
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		r.metrics.RelayDelivery("delivered")
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		r.metrics.RelayDelivery("retry")
		log.Error().Int("status", resp.StatusCode).Msg("worker returned retryable status")
		return fmt.Errorf("worker status %d", resp.StatusCode)
	default:
		r.metrics.RelayDelivery("rejected")
		log.Error().Int("status", resp.StatusCode).Msg("worker rejected job")
		return fmt.Errorf("worker status %d: %w", resp.StatusCode, bus.ErrPermanent)
	}
}
