package local

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"snapshotd/services/snapshots"
)

func (d *Driver) sharePath(id string) string {
	return d.recordPath(sharesDir, id+".json")
}

func (d *Driver) InsertShare(_ context.Context, rec snapshots.ShareRecord) error {
	return createRecord(d.sharePath(rec.ID), rec)
}

func (d *Driver) GetShare(_ context.Context, id string) (snapshots.ShareRecord, error) {
	var rec snapshots.ShareRecord
	if err := readRecord(d.sharePath(id), &rec); err != nil {
		return snapshots.ShareRecord{}, err
	}
	return rec, nil
}

func (d *Driver) IncrementShareViews(ctx context.Context, id string, at time.Time) (snapshots.ShareRecord, error) {
	return mutate(ctx, d.sharePath(id), func(rec *snapshots.ShareRecord) (bool, error) {
		rec.ViewCount++
		rec.LastViewedAt = &at
		return true, nil
	})
}

func (d *Driver) DeleteShare(_ context.Context, id string) error {
	path := d.sharePath(id)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	_ = os.Remove(path + lockSuffix)
	return nil
}

func (d *Driver) idempotencyPath(keyHash string) string {
	return d.recordPath(idempotencyDir, keyHash+".json")
}

func (d *Driver) LookupIdempotency(_ context.Context, keyHash string) (snapshots.IdempotencyRecord, error) {
	var rec snapshots.IdempotencyRecord
	if err := readRecord(d.idempotencyPath(keyHash), &rec); err != nil {
		return snapshots.IdempotencyRecord{}, err
	}
	return rec, nil
}

func (d *Driver) CreateIdempotency(_ context.Context, rec snapshots.IdempotencyRecord) error {
	return createRecord(d.idempotencyPath(rec.KeyHash), rec)
}
