package postgres

import (
	"context"
	"database/sql"
	"time"

	"snapshotd/pkg/db"
	"snapshotd/services/snapshots"
)

const shareColumns = `id, schema_version, created_at, content_hash, blob_key, payload_path,
	owner_type, owner_id, owner_email, idempotency_hash, view_count, last_viewed_at`

type shareRow struct {
	ID              string         `db:"id"`
	SchemaVersion   int            `db:"schema_version"`
	CreatedAt       time.Time      `db:"created_at"`
	ContentHash     string         `db:"content_hash"`
	BlobKey         string         `db:"blob_key"`
	PayloadPath     string         `db:"payload_path"`
	OwnerType       sql.NullString `db:"owner_type"`
	OwnerID         sql.NullString `db:"owner_id"`
	OwnerEmail      sql.NullString `db:"owner_email"`
	IdempotencyHash sql.NullString `db:"idempotency_hash"`
	ViewCount       int64          `db:"view_count"`
	LastViewedAt    sql.NullTime   `db:"last_viewed_at"`
}

func (r shareRow) toRecord() snapshots.ShareRecord {
	return snapshots.ShareRecord{
		SchemaVersion:   r.SchemaVersion,
		ID:              r.ID,
		CreatedAt:       r.CreatedAt.UTC(),
		ContentHash:     r.ContentHash,
		BlobKey:         r.BlobKey,
		PayloadPath:     r.PayloadPath,
		Owner:           ownerFromColumns(r.OwnerType, r.OwnerID, r.OwnerEmail),
		IdempotencyHash: r.IdempotencyHash.String,
		ViewCount:       r.ViewCount,
		LastViewedAt:    utcPtr(r.LastViewedAt),
	}
}

func (d *Driver) InsertShare(ctx context.Context, rec snapshots.ShareRecord) error {
	ownerType, ownerID, ownerEmail := ownerColumns(rec.Owner)
	_, err := db.Exec(ctx, d.db, `
		INSERT INTO shares (id, schema_version, created_at, content_hash, blob_key, payload_path,
			owner_type, owner_id, owner_email, idempotency_hash, view_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0)`,
		rec.ID, rec.SchemaVersion, rec.CreatedAt, rec.ContentHash, rec.BlobKey, rec.PayloadPath,
		ownerType, ownerID, ownerEmail, nullString(rec.IdempotencyHash),
	)
	return mapErr(err)
}

func (d *Driver) GetShare(ctx context.Context, id string) (snapshots.ShareRecord, error) {
	var row shareRow
	if err := db.Get(ctx, d.db, &row, `SELECT `+shareColumns+` FROM shares WHERE id = $1`, id); err != nil {
		return snapshots.ShareRecord{}, mapErr(err)
	}
	return row.toRecord(), nil
}

// IncrementShareViews relies on the row lock taken by UPDATE, so concurrent
// readers never lose an increment.
func (d *Driver) IncrementShareViews(ctx context.Context, id string, at time.Time) (snapshots.ShareRecord, error) {
	var row shareRow
	err := db.Get(ctx, d.db, &row, `
		UPDATE shares SET view_count = view_count + 1, last_viewed_at = $2
		WHERE id = $1
		RETURNING `+shareColumns, id, at)
	if err != nil {
		return snapshots.ShareRecord{}, mapErr(err)
	}
	return row.toRecord(), nil
}

func (d *Driver) DeleteShare(ctx context.Context, id string) error {
	_, err := db.Exec(ctx, d.db, `DELETE FROM shares WHERE id = $1`, id)
	return err
}

type idempotencyRow struct {
	KeyHash       string    `db:"idempotency_hash"`
	SchemaVersion int       `db:"schema_version"`
	ShareID       string    `db:"share_id"`
	ContentHash   string    `db:"content_hash"`
	CreatedAt     time.Time `db:"created_at"`
}

func (d *Driver) LookupIdempotency(ctx context.Context, keyHash string) (snapshots.IdempotencyRecord, error) {
	var row idempotencyRow
	err := db.Get(ctx, d.db, &row, `
		SELECT idempotency_hash, schema_version, share_id, content_hash, created_at
		FROM share_idempotency WHERE idempotency_hash = $1`, keyHash)
	if err != nil {
		return snapshots.IdempotencyRecord{}, mapErr(err)
	}
	return snapshots.IdempotencyRecord{
		SchemaVersion: row.SchemaVersion,
		KeyHash:       row.KeyHash,
		ShareID:       row.ShareID,
		ContentHash:   row.ContentHash,
		CreatedAt:     row.CreatedAt.UTC(),
	}, nil
}

// CreateIdempotency inserts the mapping unless one already exists for the key.
func (d *Driver) CreateIdempotency(ctx context.Context, rec snapshots.IdempotencyRecord) error {
	res, err := db.Exec(ctx, d.db, `
		INSERT INTO share_idempotency (idempotency_hash, schema_version, share_id, content_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_hash) DO NOTHING`,
		rec.KeyHash, rec.SchemaVersion, rec.ShareID, rec.ContentHash, rec.CreatedAt,
	)
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return snapshots.ErrAlreadyExists
	}
	return nil
}
