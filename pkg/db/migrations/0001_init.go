package migrations

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Files exposes the migration sources so goose can match registered versions.
//
//go:embed *.go
var Files embed.FS

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Share struct {
	ID              string     `gorm:"type:text;primaryKey"`
	SchemaVersion   int        `gorm:"type:integer;not null;default:1"`
	CreatedAt       time.Time  `gorm:"type:timestamptz;not null;default:now()"`
	ContentHash     string     `gorm:"type:text;not null"`
	BlobKey         string     `gorm:"type:text;not null"`
	PayloadPath     string     `gorm:"type:text;not null"`
	OwnerType       *string    `gorm:"type:text;index:idx_shares_owner,priority:1"`
	OwnerID         *string    `gorm:"type:text;index:idx_shares_owner,priority:2"`
	OwnerEmail      *string    `gorm:"type:text"`
	IdempotencyHash *string    `gorm:"type:text"`
	ViewCount       int64      `gorm:"type:bigint;not null;default:0"`
	LastViewedAt    *time.Time `gorm:"type:timestamptz"`
}

type ShareIdempotency struct {
	IdempotencyHash string    `gorm:"type:text;primaryKey"`
	SchemaVersion   int       `gorm:"type:integer;not null;default:1"`
	ShareID         string    `gorm:"type:text;not null;index"`
	ContentHash     string    `gorm:"type:text;not null"`
	CreatedAt       time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

func (ShareIdempotency) TableName() string { return "share_idempotency" }

type ShareJob struct {
	ID            string         `gorm:"type:text;primaryKey"`
	SchemaVersion int            `gorm:"type:integer;not null;default:1"`
	Status        string         `gorm:"type:text;not null;index"`
	OwnerType     *string        `gorm:"type:text"`
	OwnerID       *string        `gorm:"type:text"`
	OwnerEmail    *string        `gorm:"type:text"`
	AttemptCount  int            `gorm:"type:integer;not null;default:0"`
	LastAttemptAt *time.Time     `gorm:"type:timestamptz"`
	Error         *string        `gorm:"type:text"`
	Result        datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt     time.Time      `gorm:"type:timestamptz;not null;default:now()"`
	UpdatedAt     time.Time      `gorm:"type:timestamptz;not null;default:now()"`
}

type GenerationQuotaDay struct {
	DateKey       string    `gorm:"type:text;primaryKey"`
	SchemaVersion int       `gorm:"type:integer;not null;default:1"`
	Count         int       `gorm:"type:integer;not null;default:0"`
	QuotaLimit    int       `gorm:"type:integer;not null"`
	CreatedAt     time.Time `gorm:"type:timestamptz;not null;default:now()"`
	UpdatedAt     time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

type Generation struct {
	ID               string    `gorm:"type:text;primaryKey"`
	SchemaVersion    int       `gorm:"type:integer;not null;default:1"`
	CreatedAt        time.Time `gorm:"type:timestamptz;not null;default:now();index:idx_generations_owner,priority:3,sort:desc"`
	OwnerType        string    `gorm:"type:text;not null;index:idx_generations_owner,priority:1"`
	OwnerID          string    `gorm:"type:text;not null;index:idx_generations_owner,priority:2"`
	OwnerEmail       *string   `gorm:"type:text"`
	Intention        string    `gorm:"type:text;not null"`
	DurationSeconds  int       `gorm:"type:integer;not null"`
	BackgroundTheme  string    `gorm:"type:text;not null"`
	SceneTime        string    `gorm:"type:text;not null"`
	ThumbnailDataURL *string   `gorm:"type:text"`
	SceneModel       string    `gorm:"type:text"`
	MusicModel       string    `gorm:"type:text"`
	BlobKey          string    `gorm:"type:text;not null"`
	PayloadPath      string    `gorm:"type:text;not null"`
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gdb, err := gormFromTx(tx)
	if err != nil {
		return err
	}

	return gdb.WithContext(ctx).AutoMigrate(
		&Share{},
		&ShareIdempotency{},
		&ShareJob{},
		&GenerationQuotaDay{},
		&Generation{},
	)
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gdb, err := gormFromTx(tx)
	if err != nil {
		return err
	}

	migrator := gdb.WithContext(ctx).Migrator()
	return migrator.DropTable(
		&Generation{},
		&GenerationQuotaDay{},
		&ShareJob{},
		&ShareIdempotency{},
		&Share{},
	)
}

func gormFromTx(tx *sql.Tx) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{
		Conn:                 tx,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}
