package snapshots

import (
	"context"
	"errors"
	"strings"
	"time"
)

const defaultJobError = "share job failed"

// JobStore drives the share job lifecycle:
//
//	queued -> processing -> completed
//	                     -> failed -> processing (retry)
//
// completed is terminal. Transitions requested on a completed job leave it
// untouched and return it as is.
type JobStore struct {
	table JobTable
	opts  Options
}

func NewJobStore(table JobTable, opts Options) (*JobStore, error) {
	if table == nil {
		return nil, errors.New("job table is required")
	}
	return &JobStore{table: table, opts: opts.withDefaults()}, nil
}

// CreateJob records a new queued job.
func (s *JobStore) CreateJob(ctx context.Context, owner *Owner) (Job, error) {
	now := s.opts.now()
	job := Job{
		SchemaVersion: SchemaVersion,
		ID:            NewJobID(),
		Status:        JobQueued,
		Owner:         owner,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.table.InsertJob(ctx, job); err != nil {
		return Job{}, err
	}
	s.opts.Metrics.JobTransition(string(JobQueued))
	return job, nil
}

func (s *JobStore) GetJob(ctx context.Context, id string) (Job, error) {
	if !ValidJobID(id) {
		return Job{}, invalid("jobId", "invalid job id")
	}
	return s.table.GetJob(ctx, id)
}

// MarkProcessing starts an attempt. It increments the attempt counter unless
// the job already completed.
func (s *JobStore) MarkProcessing(ctx context.Context, id string) (Job, error) {
	if !ValidJobID(id) {
		return Job{}, invalid("jobId", "invalid job id")
	}
	now := s.opts.now()
	return s.update(ctx, id, JobProcessing, func(job *Job) bool {
		return markProcessing(job, now)
	})
}

// CompleteJob records the result. The first completion wins; later calls
// return the job with its original result.
func (s *JobStore) CompleteJob(ctx context.Context, id string, result JobResult) (Job, error) {
	now := s.opts.now()
	return s.update(ctx, id, JobCompleted, func(job *Job) bool {
		return completeJob(job, result, now)
	})
}

// FailJob marks the attempt failed without touching the attempt counter.
func (s *JobStore) FailJob(ctx context.Context, id, message string) (Job, error) {
	now := s.opts.now()
	return s.update(ctx, id, JobFailed, func(job *Job) bool {
		return failJob(job, message, now)
	})
}

func (s *JobStore) update(ctx context.Context, id string, target JobStatus, fn JobMutation) (Job, error) {
	changed := false
	job, err := s.table.UpdateJob(ctx, id, func(job *Job) bool {
		changed = fn(job)
		return changed
	})
	if err != nil {
		return Job{}, err
	}
	if changed {
		s.opts.Metrics.JobTransition(string(target))
	}
	return job, nil
}

func markProcessing(job *Job, now time.Time) bool {
	if job.Status == JobCompleted {
		return false
	}
	job.Status = JobProcessing
	job.AttemptCount++
	job.LastAttemptAt = &now
	job.UpdatedAt = now
	job.Error = ""
	return true
}

func completeJob(job *Job, result JobResult, now time.Time) bool {
	if job.Status == JobCompleted {
		return false
	}
	job.Status = JobCompleted
	job.Result = &result
	job.Error = ""
	job.UpdatedAt = now
	return true
}

func failJob(job *Job, message string, now time.Time) bool {
	if job.Status == JobCompleted {
		return false
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = defaultJobError
	}
	job.Status = JobFailed
	job.Error = message
	job.UpdatedAt = now
	return true
}
