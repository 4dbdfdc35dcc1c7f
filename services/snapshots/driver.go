package snapshots

import (
	"context"
	"time"
)

// BlobStore holds opaque payload documents addressed by key.
type BlobStore interface {
	PutBlob(ctx context.Context, key string, data []byte) error
	// GetBlob returns ErrNotFound when key is absent.
	GetBlob(ctx context.Context, key string) ([]byte, error)
	// DeleteBlob succeeds when key is already absent.
	DeleteBlob(ctx context.Context, key string) error
	// URI renders the storage location reported as payloadPath.
	URI(key string) string
}

type ShareTable interface {
	// InsertShare returns ErrAlreadyExists when the id is taken.
	InsertShare(ctx context.Context, rec ShareRecord) error
	GetShare(ctx context.Context, id string) (ShareRecord, error)
	// IncrementShareViews atomically bumps the view counter and returns the
	// updated record.
	IncrementShareViews(ctx context.Context, id string, at time.Time) (ShareRecord, error)
	DeleteShare(ctx context.Context, id string) error
}

type IdempotencyIndex interface {
	LookupIdempotency(ctx context.Context, keyHash string) (IdempotencyRecord, error)
	// CreateIdempotency is create-if-absent and returns ErrAlreadyExists when
	// another writer won.
	CreateIdempotency(ctx context.Context, rec IdempotencyRecord) error
}

// JobMutation edits a job in place and reports whether anything changed.
type JobMutation func(job *Job) bool

type JobTable interface {
	InsertJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, id string) (Job, error)
	// UpdateJob applies fn under the driver's isolation and persists the
	// job when fn reports a change.
	UpdateJob(ctx context.Context, id string, fn JobMutation) (Job, error)
}

type QuotaCounter interface {
	// AcquireSlot atomically increments the day's counter when it is below
	// limit. limit is always positive.
	AcquireSlot(ctx context.Context, dateKey string, limit int, at time.Time) (QuotaResult, error)
	// ReleaseSlot decrements the day's counter without going below zero.
	ReleaseSlot(ctx context.Context, dateKey string, at time.Time) error
}

type GenerationTable interface {
	InsertGeneration(ctx context.Context, rec GenerationRecord) error
	// GetGeneration returns ErrNotFound unless owner owns id.
	GetGeneration(ctx context.Context, owner Owner, id string) (GenerationRecord, error)
	// CountGenerations counts owner's generations, stopping at max.
	CountGenerations(ctx context.Context, owner Owner, max int) (int, error)
	// ListGenerations returns owner's generations newest first.
	ListGenerations(ctx context.Context, owner Owner, limit int) ([]GenerationRecord, error)
	// SetGenerationThumbnail returns ErrNotFound unless owner owns id.
	SetGenerationThumbnail(ctx context.Context, owner Owner, id string, dataURL string) (GenerationRecord, error)
}

// Driver is a complete storage backend. One is chosen at startup.
type Driver interface {
	ShareTable
	IdempotencyIndex
	JobTable
	QuotaCounter
	GenerationTable

	Name() string
	Blobs() BlobStore
	Close() error
}
