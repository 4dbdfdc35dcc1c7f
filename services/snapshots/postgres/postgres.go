// Package postgres is the networked snapshots.Driver: metadata lives in
// Postgres tables and payload blobs in an object store.
package postgres

import (
	"database/sql"
	"errors"
	"time"

	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"snapshotd/pkg/db"
	"snapshotd/services/snapshots"
)

// Driver implements snapshots.Driver on Postgres.
type Driver struct {
	db    *sql.DB
	orm   *gorm.DB
	blobs snapshots.BlobStore
}

var _ snapshots.Driver = (*Driver)(nil)

// New wraps an open database handle. Schema migrations are applied
// separately with db.Migrate.
func New(sqlDB *sql.DB, blobs snapshots.BlobStore) (*Driver, error) {
	if sqlDB == nil {
		return nil, errors.New("database is required")
	}
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}

	orm, err := gorm.Open(gormpostgres.New(gormpostgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	return &Driver{db: sqlDB, orm: orm, blobs: blobs}, nil
}

func (d *Driver) Name() string               { return "postgres" }
func (d *Driver) Blobs() snapshots.BlobStore { return d.blobs }

func (d *Driver) Close() error {
	if closer, ok := d.blobs.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	return d.db.Close()
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNoRows(err), errors.Is(err, gorm.ErrRecordNotFound):
		return snapshots.ErrNotFound
	case db.IsUniqueViolation(err):
		return snapshots.ErrAlreadyExists
	default:
		return err
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func utcPtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func ownerColumns(o *snapshots.Owner) (sql.NullString, sql.NullString, sql.NullString) {
	if o == nil {
		return sql.NullString{}, sql.NullString{}, sql.NullString{}
	}
	return nullString(string(o.Type)), nullString(o.ID), nullString(o.Email)
}

func ownerFromColumns(typ, id, email sql.NullString) *snapshots.Owner {
	if !typ.Valid || !id.Valid {
		return nil
	}
	return &snapshots.Owner{Type: snapshots.OwnerType(typ.String), ID: id.String, Email: email.String}
}
