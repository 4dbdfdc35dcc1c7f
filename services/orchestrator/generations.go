package orchestrator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"snapshotd/services/generator"
	"snapshotd/services/snapshots"
)

// CreateGeneration checks the visitor cap, reserves a global daily slot,
// generates content and stores it. The slot is released when generation or
// storage fails.
func (o *Orchestrator) CreateGeneration(ctx context.Context, owner snapshots.Owner, in GenerationInput) (GenerationOutcome, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.CreateGeneration")
	defer span.End()
	span.SetAttributes(attribute.String("owner.type", string(owner.Type)))

	ownerType := string(owner.Type)
	var out GenerationOutcome

	visitorCapped := owner.Type == snapshots.OwnerVisitor && o.cfg.AnonGenerationLimit > 0
	used := 0
	if visitorCapped {
		n, err := o.deps.Generations.Count(ctx, owner, o.cfg.AnonGenerationLimit)
		if err != nil {
			return GenerationOutcome{}, fmt.Errorf("count generations: %w", err)
		}
		if n >= o.cfg.AnonGenerationLimit {
			o.metrics.Generation(ownerType, "visitor_limit")
			return GenerationOutcome{}, snapshots.ErrVisitorLimit
		}
		used = n
	}

	reserved := false
	if o.cfg.GlobalDailyLimit > 0 {
		out.QuotaDateKey = o.deps.Quota.Today()
		res, err := o.deps.Quota.Acquire(ctx, out.QuotaDateKey, o.cfg.GlobalDailyLimit)
		if err != nil {
			return GenerationOutcome{}, fmt.Errorf("reserve quota: %w", err)
		}
		if !res.Acquired {
			o.metrics.Generation(ownerType, "quota_exceeded")
			return GenerationOutcome{}, snapshots.ErrQuotaExceeded
		}
		reserved = true
		remaining := res.Remaining
		out.RemainingDailyOverall = &remaining
	}

	release := func() {
		if !reserved {
			return
		}
		if err := o.deps.Quota.Release(context.WithoutCancel(ctx), out.QuotaDateKey); err != nil {
			o.logger.Error().Err(err).Str("date_key", out.QuotaDateKey).Msg("release quota slot")
		}
	}

	content, err := o.deps.Generator.Generate(ctx, generator.Request{
		Intention:       in.Intention,
		DurationSeconds: in.DurationSeconds,
		BackgroundTheme: in.BackgroundTheme,
		SceneTime:       in.SceneTime,
	})
	if err != nil {
		release()
		o.metrics.Generation(ownerType, "failed")
		return GenerationOutcome{}, fmt.Errorf("generate content: %w", err)
	}

	gen, err := o.deps.Generations.Create(ctx, snapshots.NewGeneration{
		Owner:           owner,
		Intention:       in.Intention,
		DurationSeconds: in.DurationSeconds,
		BackgroundTheme: in.BackgroundTheme,
		SceneTime:       in.SceneTime,
		SceneModel:      content.SceneModel,
		MusicModel:      content.MusicModel,
		Content: snapshots.GenerationContent{
			SceneCode:  content.SceneCode,
			MusicCode:  content.MusicCode,
			Prompts:    content.Prompts,
			Simulation: content.Simulation,
		},
	})
	if err != nil {
		release()
		o.metrics.Generation(ownerType, "failed")
		return GenerationOutcome{}, err
	}

	if visitorCapped {
		remaining := max(o.cfg.AnonGenerationLimit-used-1, 0)
		out.RemainingFree = &remaining
	}
	out.Generation = gen
	o.metrics.Generation(ownerType, "created")
	return out, nil
}
