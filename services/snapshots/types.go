// Package snapshots stores shared snapshots, the asynchronous jobs that create
// them, per-owner generation history and the global daily generation quota.
// Storage backends plug in through the Driver interface.
package snapshots

import (
	"encoding/json"
	"time"
)

// SchemaVersion is stamped on every persisted record and blob envelope.
const SchemaVersion = 1

type OwnerType string

const (
	OwnerVisitor OwnerType = "visitor"
	OwnerUser    OwnerType = "user"
)

// Owner identifies who created a share, job or generation.
type Owner struct {
	Type  OwnerType `json:"type" yaml:"type"`
	ID    string    `json:"id" yaml:"id"`
	Email string    `json:"email,omitempty" yaml:"email,omitempty"`
}

func (o Owner) Valid() bool {
	return (o.Type == OwnerVisitor || o.Type == OwnerUser) && o.ID != ""
}

// ShareRecord is the metadata row for a share. The payload itself lives in
// the blob named by BlobKey.
type ShareRecord struct {
	SchemaVersion   int        `json:"schemaVersion" yaml:"schemaVersion"`
	ID              string     `json:"shareId" yaml:"shareId"`
	CreatedAt       time.Time  `json:"createdAt" yaml:"createdAt"`
	ContentHash     string     `json:"contentHash" yaml:"contentHash"`
	BlobKey         string     `json:"blobKey" yaml:"blobKey"`
	PayloadPath     string     `json:"payloadPath" yaml:"payloadPath"`
	Owner           *Owner     `json:"owner,omitempty" yaml:"owner,omitempty"`
	IdempotencyHash string     `json:"idempotencyKeyHash,omitempty" yaml:"idempotencyKeyHash,omitempty"`
	ViewCount       int64      `json:"viewCount" yaml:"viewCount"`
	LastViewedAt    *time.Time `json:"lastViewedAt,omitempty" yaml:"lastViewedAt,omitempty"`
}

// Share is a share record joined with its payload.
type Share struct {
	ShareRecord
	Payload json.RawMessage `json:"snapshot"`
}

// ShareStats is the counter view of a share; reading it never counts a view.
type ShareStats struct {
	ShareID      string     `json:"shareId"`
	CreatedAt    time.Time  `json:"createdAt"`
	ContentHash  string     `json:"contentHash"`
	ViewCount    int64      `json:"viewCount"`
	LastViewedAt *time.Time `json:"lastViewedAt"`
}

// CreateShareResult reports the share a create call resolved to.
type CreateShareResult struct {
	Share  ShareRecord
	Reused bool
}

// IdempotencyRecord maps a hashed client key to the share it produced.
type IdempotencyRecord struct {
	SchemaVersion int       `json:"schemaVersion" yaml:"schemaVersion"`
	KeyHash       string    `json:"idempotencyKeyHash" yaml:"idempotencyKeyHash"`
	ShareID       string    `json:"shareId" yaml:"shareId"`
	ContentHash   string    `json:"contentHash" yaml:"contentHash"`
	CreatedAt     time.Time `json:"createdAt" yaml:"createdAt"`
}

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// JobResult is recorded when a job completes.
type JobResult struct {
	ShareID      string    `json:"shareId" yaml:"shareId"`
	CreatedAt    time.Time `json:"createdAt" yaml:"createdAt"`
	SnapshotHash string    `json:"snapshotHash" yaml:"snapshotHash"`
	Reused       bool      `json:"reused" yaml:"reused"`
}

// Job tracks one asynchronous share creation.
type Job struct {
	SchemaVersion int        `json:"schemaVersion" yaml:"schemaVersion"`
	ID            string     `json:"jobId" yaml:"jobId"`
	Status        JobStatus  `json:"status" yaml:"status"`
	Owner         *Owner     `json:"owner,omitempty" yaml:"owner,omitempty"`
	CreatedAt     time.Time  `json:"createdAt" yaml:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt" yaml:"updatedAt"`
	AttemptCount  int        `json:"attemptCount" yaml:"attemptCount"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty" yaml:"lastAttemptAt,omitempty"`
	Error         string     `json:"error,omitempty" yaml:"error,omitempty"`
	Result        *JobResult `json:"result,omitempty" yaml:"result,omitempty"`
}

// QuotaResult is the outcome of a quota acquire.
type QuotaResult struct {
	Acquired  bool `json:"acquired" yaml:"acquired"`
	Current   int  `json:"current" yaml:"current"`
	Remaining int  `json:"remaining" yaml:"remaining"`
}

// QuotaDay is the persisted counter for one UTC day.
type QuotaDay struct {
	SchemaVersion int       `json:"schemaVersion" yaml:"schemaVersion"`
	DateKey       string    `json:"dateKey" yaml:"dateKey"`
	Count         int       `json:"count" yaml:"count"`
	Limit         int       `json:"limit" yaml:"limit"`
	CreatedAt     time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Prompts are the model prompts behind generated content.
type Prompts struct {
	ScenePrompt string `json:"scenePrompt,omitempty"`
	MusicPrompt string `json:"musicPrompt,omitempty"`
}

// GenerationRecord is the metadata row for a generation.
type GenerationRecord struct {
	SchemaVersion    int       `json:"schemaVersion" yaml:"schemaVersion"`
	ID               string    `json:"generationId" yaml:"generationId"`
	CreatedAt        time.Time `json:"createdAt" yaml:"createdAt"`
	Owner            Owner     `json:"owner" yaml:"owner"`
	Intention        string    `json:"intention" yaml:"intention"`
	DurationSeconds  int       `json:"durationSeconds" yaml:"durationSeconds"`
	BackgroundTheme  string    `json:"backgroundTheme" yaml:"backgroundTheme"`
	SceneTime        string    `json:"sceneTime" yaml:"sceneTime"`
	ThumbnailDataURL string    `json:"thumbnailDataUrl,omitempty" yaml:"-"`
	SceneModel       string    `json:"sceneModel,omitempty" yaml:"sceneModel,omitempty"`
	MusicModel       string    `json:"musicModel,omitempty" yaml:"musicModel,omitempty"`
	BlobKey          string    `json:"blobKey" yaml:"blobKey"`
	PayloadPath      string    `json:"payloadPath" yaml:"payloadPath"`
}

// GenerationContent is the bulky part of a generation kept in the blob.
type GenerationContent struct {
	SceneCode  string  `json:"sceneCode"`
	MusicCode  string  `json:"musicCode"`
	Prompts    Prompts `json:"prompts"`
	Simulation bool    `json:"simulation"`
}

// Generation is a generation record joined with its content.
type Generation struct {
	GenerationRecord
	Content GenerationContent `json:"content"`
}
