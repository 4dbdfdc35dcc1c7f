package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"snapshotd/pkg/bus"
	"snapshotd/services/dispatch"
	"snapshotd/services/snapshots"
)

// SubmitShareJob records a queued job and hands it to the dispatcher. A job
// that cannot be dispatched is marked failed before the error is returned.
func (o *Orchestrator) SubmitShareJob(ctx context.Context, snapshot json.RawMessage, idempotencyKey string, owner *snapshots.Owner, requestID string) (snapshots.Job, error) {
	d := o.getDispatcher()
	if d == nil {
		return snapshots.Job{}, dispatch.ErrDisabled
	}

	ctx, span := tracer.Start(ctx, "orchestrator.SubmitShareJob")
	defer span.End()

	job, err := o.deps.Jobs.CreateJob(ctx, owner)
	if err != nil {
		return snapshots.Job{}, fmt.Errorf("create job: %w", err)
	}
	span.SetAttributes(attribute.String("job.id", job.ID))

	err = d.Dispatch(ctx, dispatch.Descriptor{
		JobID:          job.ID,
		Snapshot:       snapshot,
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
		Owner:          owner,
		RequestID:      requestID,
	})
	if err != nil {
		if _, ferr := o.deps.Jobs.FailJob(context.WithoutCancel(ctx), job.ID, "dispatch failed"); ferr != nil {
			o.logger.Error().Err(ferr).Str("job_id", job.ID).Msg("mark undispatched job failed")
		}
		return snapshots.Job{}, fmt.Errorf("dispatch job: %w", err)
	}
	return job, nil
}

// ProcessShareJob runs one delivery of a job. Redelivery of a completed job
// returns it unchanged without creating another share. Jobs submitted
// without an idempotency key are keyed on their job id, so a redelivery
// racing a slow first attempt still resolves to a single share.
func (o *Orchestrator) ProcessShareJob(ctx context.Context, d dispatch.Descriptor) (snapshots.Job, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.ProcessShareJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", d.JobID))

	job, err := o.deps.Jobs.MarkProcessing(ctx, d.JobID)
	if err != nil {
		return snapshots.Job{}, err
	}
	if job.Status == snapshots.JobCompleted {
		return job, nil
	}

	key := strings.TrimSpace(d.IdempotencyKey)
	if key == "" {
		key = "job:" + d.JobID
	}

	res, err := o.deps.Shares.CreateShare(ctx, d.Snapshot, snapshots.CreateShareOptions{
		IdempotencyKey: key,
		Owner:          d.Owner,
	})
	if err != nil {
		if _, ferr := o.deps.Jobs.FailJob(context.WithoutCancel(ctx), d.JobID, err.Error()); ferr != nil {
			o.logger.Error().Err(ferr).Str("job_id", d.JobID).Msg("record job failure")
		}
		return snapshots.Job{}, err
	}

	return o.deps.Jobs.CompleteJob(ctx, d.JobID, snapshots.JobResult{
		ShareID:      res.Share.ID,
		CreatedAt:    res.Share.CreatedAt,
		SnapshotHash: res.Share.ContentHash,
		Reused:       res.Reused,
	})
}

// Process adapts ProcessShareJob to dispatch.Processor.
func (o *Orchestrator) Process(ctx context.Context, d dispatch.Descriptor) error {
	_, err := o.ProcessShareJob(ctx, d)
	return err
}

func (o *Orchestrator) handleShareJob(ctx context.Context, data []byte) error {
	var d dispatch.Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("decode descriptor: %w", bus.ErrPermanent)
	}
	err := o.Process(ctx, d)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, snapshots.ErrNotFound), snapshots.IsValidation(err):
		o.logger.Warn().Err(err).Str("job_id", d.JobID).Msg("dropping unprocessable job")
		return fmt.Errorf("%w: %w", bus.ErrPermanent, err)
	default:
		o.logger.Error().Err(err).Str("job_id", d.JobID).Msg("job attempt failed")
		return err
	}
}
