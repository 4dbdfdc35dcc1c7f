package postgres

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"snapshotd/pkg/db"
	"snapshotd/services/snapshots"
)

type generationRow struct {
	ID               string    `gorm:"column:id;primaryKey"`
	SchemaVersion    int       `gorm:"column:schema_version"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	OwnerType        string    `gorm:"column:owner_type"`
	OwnerID          string    `gorm:"column:owner_id"`
	OwnerEmail       *string   `gorm:"column:owner_email"`
	Intention        string    `gorm:"column:intention"`
	DurationSeconds  int       `gorm:"column:duration_seconds"`
	BackgroundTheme  string    `gorm:"column:background_theme"`
	SceneTime        string    `gorm:"column:scene_time"`
	ThumbnailDataURL *string   `gorm:"column:thumbnail_data_url"`
	SceneModel       string    `gorm:"column:scene_model"`
	MusicModel       string    `gorm:"column:music_model"`
	BlobKey          string    `gorm:"column:blob_key"`
	PayloadPath      string    `gorm:"column:payload_path"`
}

func (generationRow) TableName() string { return "generations" }

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func generationToRow(rec snapshots.GenerationRecord) generationRow {
	return generationRow{
		ID:               rec.ID,
		SchemaVersion:    rec.SchemaVersion,
		CreatedAt:        rec.CreatedAt,
		OwnerType:        string(rec.Owner.Type),
		OwnerID:          rec.Owner.ID,
		OwnerEmail:       optional(rec.Owner.Email),
		Intention:        rec.Intention,
		DurationSeconds:  rec.DurationSeconds,
		BackgroundTheme:  rec.BackgroundTheme,
		SceneTime:        rec.SceneTime,
		ThumbnailDataURL: optional(rec.ThumbnailDataURL),
		SceneModel:       rec.SceneModel,
		MusicModel:       rec.MusicModel,
		BlobKey:          rec.BlobKey,
		PayloadPath:      rec.PayloadPath,
	}
}

func (r generationRow) toRecord() snapshots.GenerationRecord {
	return snapshots.GenerationRecord{
		SchemaVersion:    r.SchemaVersion,
		ID:               r.ID,
		CreatedAt:        r.CreatedAt.UTC(),
		Owner:            snapshots.Owner{Type: snapshots.OwnerType(r.OwnerType), ID: r.OwnerID, Email: deref(r.OwnerEmail)},
		Intention:        r.Intention,
		DurationSeconds:  r.DurationSeconds,
		BackgroundTheme:  r.BackgroundTheme,
		SceneTime:        r.SceneTime,
		ThumbnailDataURL: deref(r.ThumbnailDataURL),
		SceneModel:       r.SceneModel,
		MusicModel:       r.MusicModel,
		BlobKey:          r.BlobKey,
		PayloadPath:      r.PayloadPath,
	}
}

func (d *Driver) InsertGeneration(ctx context.Context, rec snapshots.GenerationRecord) error {
	row := generationToRow(rec)
	return mapErr(d.orm.WithContext(ctx).Create(&row).Error)
}

func (d *Driver) GetGeneration(ctx context.Context, owner snapshots.Owner, id string) (snapshots.GenerationRecord, error) {
	var row generationRow
	err := d.orm.WithContext(ctx).
		Where("id = ? AND owner_type = ? AND owner_id = ?", id, string(owner.Type), owner.ID).
		First(&row).Error
	if err != nil {
		return snapshots.GenerationRecord{}, mapErr(err)
	}
	return row.toRecord(), nil
}

func (d *Driver) CountGenerations(ctx context.Context, owner snapshots.Owner, max int) (int, error) {
	if max <= 0 {
		var n int64
		err := d.orm.WithContext(ctx).Model(&generationRow{}).
			Where("owner_type = ? AND owner_id = ?", string(owner.Type), owner.ID).
			Count(&n).Error
		return int(n), err
	}

	var n int
	err := db.Get(ctx, d.db, &n, `
		SELECT count(*) FROM (
			SELECT 1 FROM generations WHERE owner_type = $1 AND owner_id = $2 LIMIT $3
		) capped`, string(owner.Type), owner.ID, max)
	return n, err
}

func (d *Driver) ListGenerations(ctx context.Context, owner snapshots.Owner, limit int) ([]snapshots.GenerationRecord, error) {
	var rows []generationRow
	err := d.orm.WithContext(ctx).
		Where("owner_type = ? AND owner_id = ?", string(owner.Type), owner.ID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]snapshots.GenerationRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

func (d *Driver) SetGenerationThumbnail(ctx context.Context, owner snapshots.Owner, id string, dataURL string) (snapshots.GenerationRecord, error) {
	var rows []generationRow
	res := d.orm.WithContext(ctx).
		Model(&rows).
		Clauses(clause.Returning{}).
		Where("id = ? AND owner_type = ? AND owner_id = ?", id, string(owner.Type), owner.ID).
		Update("thumbnail_data_url", dataURL)
	if res.Error != nil {
		return snapshots.GenerationRecord{}, res.Error
	}
	if res.RowsAffected == 0 || len(rows) == 0 {
		return snapshots.GenerationRecord{}, snapshots.ErrNotFound
	}
	return rows[0].toRecord(), nil
}
