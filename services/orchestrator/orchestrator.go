// Package orchestrator sequences the stores, the content generator and the
// job dispatcher into the operations exposed by the API and the job worker.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"snapshotd/pkg/bus"
	"snapshotd/pkg/metrics"
	"snapshotd/services/dispatch"
	"snapshotd/services/generator"
	"snapshotd/services/snapshots"
)

var tracer = otel.Tracer("snapshotd/orchestrator")

const defaultAnonGenerationLimit = 3

// Config holds the generation caps.
type Config struct {
	// AnonGenerationLimit caps generations per visitor. Zero selects the
	// default; a negative value removes the cap.
	AnonGenerationLimit int
	// GlobalDailyLimit caps generations across all owners per UTC day.
	// Non-positive disables the cap.
	GlobalDailyLimit int
}

// Deps are the collaborators an Orchestrator coordinates.
type Deps struct {
	Shares      *snapshots.ShareStore
	Jobs        *snapshots.JobStore
	Generations *snapshots.GenerationStore
	Quota       *snapshots.Quota
	Generator   generator.Generator
}

type Orchestrator struct {
	deps    Deps
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu         sync.RWMutex
	dispatcher dispatch.Dispatcher

	subsMu sync.Mutex
	subs   []io.Closer
}

func New(deps Deps, cfg Config, logger zerolog.Logger, m *metrics.Metrics) (*Orchestrator, error) {
	if deps.Shares == nil {
		return nil, errors.New("share store is required")
	}
	if deps.Jobs == nil {
		return nil, errors.New("job store is required")
	}
	if deps.Generations == nil {
		return nil, errors.New("generation store is required")
	}
	if deps.Quota == nil {
		return nil, errors.New("quota is required")
	}
	if deps.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if cfg.AnonGenerationLimit == 0 {
		cfg.AnonGenerationLimit = defaultAnonGenerationLimit
	}

	return &Orchestrator{deps: deps, cfg: cfg, logger: logger, metrics: m}, nil
}

// SetDispatcher installs the job dispatcher. The inline dispatcher calls back
// into ProcessShareJob, so it can only be built once the Orchestrator exists.
func (o *Orchestrator) SetDispatcher(d dispatch.Dispatcher) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatcher = d
}

func (o *Orchestrator) getDispatcher() dispatch.Dispatcher {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.dispatcher
}

// JobsEnabled reports whether SubmitShareJob can accept work.
func (o *Orchestrator) JobsEnabled() bool {
	return o.getDispatcher() != nil
}

// DispatcherName names the active delivery mechanism, or "" when disabled.
func (o *Orchestrator) DispatcherName() string {
	if d := o.getDispatcher(); d != nil {
		return d.Name()
	}
	return ""
}

func (o *Orchestrator) Config() Config { return o.cfg }

// Start consumes share jobs straight from the queue and processes them in
// this process, as an alternative to relaying them to the worker endpoint.
func (o *Orchestrator) Start(ctx context.Context, sub dispatch.Subscriber, subject string, cfg bus.ConsumerConfig) error {
	if sub == nil {
		return errors.New("subscriber is required")
	}
	closer, err := sub.Subscribe(ctx, subject, cfg, o.handleShareJob)
	if err != nil {
		return err
	}
	o.subsMu.Lock()
	o.subs = append(o.subs, closer)
	o.subsMu.Unlock()
	return nil
}

// Close tears down active subscriptions.
func (o *Orchestrator) Close() error {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()

	var firstErr error
	for _, sub := range o.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	o.subs = nil
	return firstErr
}
