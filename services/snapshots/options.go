package snapshots

import (
	"time"

	"github.com/rs/zerolog"

	"snapshotd/pkg/metrics"
)

// Options carries the ambient dependencies shared by the stores.
type Options struct {
	Now     func() time.Time
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) now() time.Time {
	return o.Now().UTC().Truncate(time.Millisecond)
}
