package orchestrator

import (
	"snapshotd/services/snapshots"
)

// GenerationInput is a validated generation request.
type GenerationInput struct {
	Intention       string
	DurationSeconds int
	BackgroundTheme string
	SceneTime       string
}

// GenerationOutcome is a stored generation plus the caller's remaining
// allowances. Nil counters mean the corresponding cap does not apply.
type GenerationOutcome struct {
	Generation            snapshots.Generation
	RemainingFree         *int
	RemainingDailyOverall *int
	QuotaDateKey          string
}
