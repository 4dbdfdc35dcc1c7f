package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"snapshotd/pkg/db"
	"snapshotd/services/snapshots"
)

const jobColumns = `id, schema_version, status, owner_type, owner_id, owner_email,
	attempt_count, last_attempt_at, error, result, created_at, updated_at`

type jobRow struct {
	ID            string         `db:"id"`
	SchemaVersion int            `db:"schema_version"`
	Status        string         `db:"status"`
	OwnerType     sql.NullString `db:"owner_type"`
	OwnerID       sql.NullString `db:"owner_id"`
	OwnerEmail    sql.NullString `db:"owner_email"`
	AttemptCount  int            `db:"attempt_count"`
	LastAttemptAt sql.NullTime   `db:"last_attempt_at"`
	Error         sql.NullString `db:"error"`
	Result        sql.NullString `db:"result"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r jobRow) toJob() (snapshots.Job, error) {
	job := snapshots.Job{
		SchemaVersion: r.SchemaVersion,
		ID:            r.ID,
		Status:        snapshots.JobStatus(r.Status),
		Owner:         ownerFromColumns(r.OwnerType, r.OwnerID, r.OwnerEmail),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
		AttemptCount:  r.AttemptCount,
		LastAttemptAt: utcPtr(r.LastAttemptAt),
		Error:         r.Error.String,
	}
	if r.Result.Valid && r.Result.String != "" {
		var res snapshots.JobResult
		if err := json.Unmarshal([]byte(r.Result.String), &res); err != nil {
			return snapshots.Job{}, fmt.Errorf("decode job result: %w", err)
		}
		job.Result = &res
	}
	return job, nil
}

func resultColumn(res *snapshots.JobResult) (sql.NullString, error) {
	if res == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func (d *Driver) InsertJob(ctx context.Context, job snapshots.Job) error {
	ownerType, ownerID, ownerEmail := ownerColumns(job.Owner)
	_, err := db.Exec(ctx, d.db, `
		INSERT INTO share_jobs (id, schema_version, status, owner_type, owner_id, owner_email,
			attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.SchemaVersion, string(job.Status), ownerType, ownerID, ownerEmail,
		job.AttemptCount, job.CreatedAt, job.UpdatedAt,
	)
	return mapErr(err)
}

func (d *Driver) GetJob(ctx context.Context, id string) (snapshots.Job, error) {
	var row jobRow
	if err := db.Get(ctx, d.db, &row, `SELECT `+jobColumns+` FROM share_jobs WHERE id = $1`, id); err != nil {
		return snapshots.Job{}, mapErr(err)
	}
	return row.toJob()
}

// UpdateJob locks the row for the duration of the mutation so concurrent
// transitions are serialized.
func (d *Driver) UpdateJob(ctx context.Context, id string, fn snapshots.JobMutation) (snapshots.Job, error) {
	var job snapshots.Job
	err := db.InTx(ctx, d.db, func(tx *sql.Tx) error {
		var row jobRow
		if err := db.Get(ctx, tx, &row, `SELECT `+jobColumns+` FROM share_jobs WHERE id = $1 FOR UPDATE`, id); err != nil {
			return mapErr(err)
		}
		current, err := row.toJob()
		if err != nil {
			return err
		}
		job = current
		if !fn(&job) {
			return nil
		}

		result, err := resultColumn(job.Result)
		if err != nil {
			return err
		}
		var lastAttempt sql.NullTime
		if job.LastAttemptAt != nil {
			lastAttempt = sql.NullTime{Time: *job.LastAttemptAt, Valid: true}
		}
		_, err = db.Exec(ctx, tx, `
			UPDATE share_jobs
			SET status = $2, attempt_count = $3, last_attempt_at = $4, error = $5, result = $6::jsonb, updated_at = $7
			WHERE id = $1`,
			job.ID, string(job.Status), job.AttemptCount, lastAttempt, nullString(job.Error), result, job.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return snapshots.Job{}, err
	}
	return job, nil
}
