package local

import (
	"context"
	"errors"
	"time"

	"snapshotd/pkg/fslock"
	"snapshotd/services/snapshots"
)

func (d *Driver) quotaPath(dateKey string) string {
	return d.recordPath(quotaDir, dateKey+".json")
}

// AcquireSlot increments the day's counter file under its lock.
func (d *Driver) AcquireSlot(ctx context.Context, dateKey string, limit int, at time.Time) (snapshots.QuotaResult, error) {
	path := d.quotaPath(dateKey)
	var res snapshots.QuotaResult
	err := fslock.With(ctx, path+lockSuffix, func() error {
		var day snapshots.QuotaDay
		err := readRecord(path, &day)
		switch {
		case errors.Is(err, snapshots.ErrNotFound):
			day = snapshots.QuotaDay{
				SchemaVersion: snapshots.SchemaVersion,
				DateKey:       dateKey,
				CreatedAt:     at,
				UpdatedAt:     at,
			}
		case err != nil:
			return err
		}

		res = snapshots.ApplyAcquire(&day, limit, at)
		if !res.Acquired {
			return nil
		}
		return writeRecord(path, day)
	})
	return res, err
}

// ReleaseSlot decrements the day's counter file. Unknown days are a no-op.
func (d *Driver) ReleaseSlot(ctx context.Context, dateKey string, at time.Time) error {
	_, err := mutate(ctx, d.quotaPath(dateKey), func(day *snapshots.QuotaDay) (bool, error) {
		return snapshots.ApplyRelease(day, at), nil
	})
	if errors.Is(err, snapshots.ErrNotFound) {
		return nil
	}
	return err
}
