package snapshots

import (
	"context"

	"github.com/rs/zerolog"
)

// cleanup collects compensating actions for artifacts written during a
// multi-step create and runs them newest first.
type cleanup struct {
	steps []cleanupStep
}

type cleanupStep struct {
	what string
	fn   func(context.Context) error
}

func (c *cleanup) add(what string, fn func(context.Context) error) {
	c.steps = append(c.steps, cleanupStep{what: what, fn: fn})
}

// run executes every step even if the request context is already done.
// Failures are logged and otherwise ignored.
func (c *cleanup) run(ctx context.Context, logger zerolog.Logger) {
	ctx = context.WithoutCancel(ctx)
	for i := len(c.steps) - 1; i >= 0; i-- {
		step := c.steps[i]
		if err := step.fn(ctx); err != nil {
			logger.Error().Err(err).Str("artifact", step.what).Msg("cleanup failed")
		}
	}
	c.steps = nil
}

func (c *cleanup) discard() { c.steps = nil }
