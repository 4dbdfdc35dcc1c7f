// Package dispatch moves share jobs from the API to whatever executes them:
// a JetStream queue drained by a relay that pushes to the worker endpoint, or
// a local goroutine when no queue is configured.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"snapshotd/services/snapshots"
)

// ErrDisabled is returned when no dispatcher is configured.
var ErrDisabled = errors.New("async jobs are disabled")

// Descriptor is the unit of work handed to a worker.
type Descriptor struct {
	JobID          string           `json:"jobId"`
	Snapshot       json.RawMessage  `json:"snapshot"`
	IdempotencyKey string           `json:"idempotencyKey,omitempty"`
	Owner          *snapshots.Owner `json:"owner,omitempty"`
	RequestID      string           `json:"requestId,omitempty"`
}

// Processor executes a descriptor. It is the same logic behind the worker
// endpoint and the inline fallback.
type Processor func(ctx context.Context, d Descriptor) error

type Dispatcher interface {
	Dispatch(ctx context.Context, d Descriptor) error
	// Name identifies the delivery mechanism in health output.
	Name() string
}

// Publisher is the subset of *bus.Bus used to enqueue descriptors.
type Publisher interface {
	Publish(ctx context.Context, subj, msgID string, v any) error
}

// BusDispatcher publishes descriptors to a JetStream subject. The job id is
// used as the message id so a retried publish is dropped by the server.
type BusDispatcher struct {
	pub     Publisher
	subject string
}

func NewBusDispatcher(pub Publisher, subject string) (*BusDispatcher, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if subject == "" {
		return nil, errors.New("subject is required")
	}
	return &BusDispatcher{pub: pub, subject: subject}, nil
}

func (b *BusDispatcher) Name() string { return "jetstream" }

func (b *BusDispatcher) Dispatch(ctx context.Context, d Descriptor) error {
	if err := b.pub.Publish(ctx, b.subject, d.JobID, d); err != nil {
		return fmt.Errorf("publish job %s: %w", d.JobID, err)
	}
	return nil
}

const defaultInlineTimeout = 2 * time.Minute

// InlineDispatcher runs the processor in a background goroutine. A crash
// mid-run leaves the job in processing with no retry.
type InlineDispatcher struct {
	process Processor
	timeout time.Duration
	logger  zerolog.Logger
}

func NewInlineDispatcher(process Processor, timeout time.Duration, logger zerolog.Logger) (*InlineDispatcher, error) {
	if process == nil {
		return nil, errors.New("processor is required")
	}
	if timeout <= 0 {
		timeout = defaultInlineTimeout
	}
	return &InlineDispatcher{process: process, timeout: timeout, logger: logger}, nil
}

func (i *InlineDispatcher) Name() string { return "inline" }

// Dispatch returns immediately. The run is detached from ctx cancellation so
// it outlives the request that scheduled it.
func (i *InlineDispatcher) Dispatch(ctx context.Context, d Descriptor) error {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.timeout)
	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				i.logger.Error().Str("job_id", d.JobID).Interface("panic", r).Msg("inline job panicked")
			}
		}()
		if err := i.process(runCtx, d); err != nil {
			i.logger.Error().Err(err).Str("job_id", d.JobID).Msg("inline job failed")
		}
	}()
	return nil
}

// Fallback tries Primary and, when it fails, hands the job to Secondary.
type Fallback struct {
	Primary   Dispatcher
	Secondary Dispatcher
	Logger    zerolog.Logger
}

func (f *Fallback) Name() string {
	return f.Primary.Name() + "+" + f.Secondary.Name()
}

func (f *Fallback) Dispatch(ctx context.Context, d Descriptor) error {
	err := f.Primary.Dispatch(ctx, d)
	if err == nil {
		return nil
	}
	f.Logger.Warn().Err(err).Str("job_id", d.JobID).Str("fallback", f.Secondary.Name()).Msg("dispatch failed, falling back")
	return f.Secondary.Dispatch(ctx, d)
}
