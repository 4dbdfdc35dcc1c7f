package local

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sort"

	"snapshotd/services/snapshots"
)

func (d *Driver) ownerDir(owner snapshots.Owner) string {
	return d.recordPath(generationsDir, string(owner.Type), snapshots.SafeSegment(owner.ID))
}

func (d *Driver) generationPath(owner snapshots.Owner, id string) string {
	return d.recordPath(generationsDir, string(owner.Type), snapshots.SafeSegment(owner.ID), id+".json")
}

func (d *Driver) InsertGeneration(_ context.Context, rec snapshots.GenerationRecord) error {
	if err := os.MkdirAll(d.ownerDir(rec.Owner), 0o755); err != nil {
		return err
	}
	return createRecord(d.generationPath(rec.Owner, rec.ID), rec)
}

func (d *Driver) GetGeneration(_ context.Context, owner snapshots.Owner, id string) (snapshots.GenerationRecord, error) {
	var rec snapshots.GenerationRecord
	if err := readRecord(d.generationPath(owner, id), &rec); err != nil {
		return snapshots.GenerationRecord{}, err
	}
	if rec.Owner.Type != owner.Type || rec.Owner.ID != owner.ID {
		return snapshots.GenerationRecord{}, snapshots.ErrNotFound
	}
	return rec, nil
}

// CountGenerations counts record files in the owner's directory. The count is
// a best-effort scan and is not isolated from concurrent inserts.
func (d *Driver) CountGenerations(_ context.Context, owner snapshots.Owner, max int) (int, error) {
	entries, err := os.ReadDir(d.ownerDir(owner))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	count := 0
	for _, e := range entries {
		if e.IsDir() || !isRecordFile(e.Name()) {
			continue
		}
		count++
		if max > 0 && count >= max {
			break
		}
	}
	return count, nil
}

func (d *Driver) ListGenerations(_ context.Context, owner snapshots.Owner, limit int) ([]snapshots.GenerationRecord, error) {
	dir := d.ownerDir(owner)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []snapshots.GenerationRecord{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]snapshots.GenerationRecord, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isRecordFile(e.Name()) {
			continue
		}
		var rec snapshots.GenerationRecord
		if err := readRecord(d.recordPath(generationsDir, string(owner.Type), snapshots.SafeSegment(owner.ID), e.Name()), &rec); err != nil {
			if errors.Is(err, snapshots.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *Driver) SetGenerationThumbnail(ctx context.Context, owner snapshots.Owner, id string, dataURL string) (snapshots.GenerationRecord, error) {
	return mutate(ctx, d.generationPath(owner, id), func(rec *snapshots.GenerationRecord) (bool, error) {
		if rec.Owner.Type != owner.Type || rec.Owner.ID != owner.ID {
			return false, snapshots.ErrNotFound
		}
		rec.ThumbnailDataURL = dataURL
		return true, nil
	})
}
