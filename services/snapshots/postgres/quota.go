package postgres

import (
	"context"
	"time"

	"snapshotd/pkg/db"
	"snapshotd/services/snapshots"
)

// acquireQuery increments the day's counter only while it is below the
// limit. When the guard fails no row is returned.
const acquireQuery = `
	INSERT INTO generation_quota_days AS q (date_key, schema_version, count, quota_limit, created_at, updated_at)
	VALUES ($1, 1, 1, $2, $3, $3)
	ON CONFLICT (date_key) DO UPDATE
		SET count = q.count + 1, quota_limit = EXCLUDED.quota_limit, updated_at = EXCLUDED.updated_at
		WHERE q.count < EXCLUDED.quota_limit
	RETURNING count`

func (d *Driver) AcquireSlot(ctx context.Context, dateKey string, limit int, at time.Time) (snapshots.QuotaResult, error) {
	var count int
	err := db.Get(ctx, d.db, &count, acquireQuery, dateKey, limit, at)
	if err == nil {
		return snapshots.QuotaResult{Acquired: true, Current: count, Remaining: max(limit-count, 0)}, nil
	}
	if !db.IsNoRows(err) {
		return snapshots.QuotaResult{}, err
	}

	if err := db.Get(ctx, d.db, &count, `SELECT count FROM generation_quota_days WHERE date_key = $1`, dateKey); err != nil {
		return snapshots.QuotaResult{}, mapErr(err)
	}
	return snapshots.QuotaResult{Acquired: false, Current: count, Remaining: 0}, nil
}

func (d *Driver) ReleaseSlot(ctx context.Context, dateKey string, at time.Time) error {
	_, err := db.Exec(ctx, d.db, `
		UPDATE generation_quota_days SET count = count - 1, updated_at = $2
		WHERE date_key = $1 AND count > 0`, dateKey, at)
	return err
}
