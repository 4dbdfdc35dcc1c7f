package local

import (
	"context"

	"snapshotd/services/snapshots"
)

func (d *Driver) jobPath(id string) string {
	return d.recordPath(jobsDir, id+".json")
}

func (d *Driver) InsertJob(_ context.Context, job snapshots.Job) error {
	return createRecord(d.jobPath(job.ID), job)
}

func (d *Driver) GetJob(_ context.Context, id string) (snapshots.Job, error) {
	var job snapshots.Job
	if err := readRecord(d.jobPath(id), &job); err != nil {
		return snapshots.Job{}, err
	}
	return job, nil
}

func (d *Driver) UpdateJob(ctx context.Context, id string, fn snapshots.JobMutation) (snapshots.Job, error) {
	return mutate(ctx, d.jobPath(id), func(job *snapshots.Job) (bool, error) {
		return fn(job), nil
	})
}
