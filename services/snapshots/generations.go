package snapshots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
)

const (
	DefaultGenerationListLimit = 30
	MaxGenerationListLimit     = 1000
)

// NewGeneration is the input of GenerationStore.Create.
type NewGeneration struct {
	Owner           Owner
	Intention       string
	DurationSeconds int
	BackgroundTheme string
	SceneTime       string
	SceneModel      string
	MusicModel      string
	Content         GenerationContent
}

type generationEnvelope struct {
	SchemaVersion int    `json:"schemaVersion"`
	GenerationID  string `json:"generationId"`
	CreatedAt     string `json:"createdAt"`
	GenerationContent
}

// GenerationStore keeps per-owner generation history.
type GenerationStore struct {
	driver Driver
	prefix string
	opts   Options
}

func NewGenerationStore(driver Driver, prefix string, opts Options) (*GenerationStore, error) {
	if driver == nil {
		return nil, errors.New("driver is required")
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "generations"
	}
	return &GenerationStore{driver: driver, prefix: prefix, opts: opts.withDefaults()}, nil
}

func (s *GenerationStore) blobKey(owner Owner, id string) string {
	return path.Join(s.prefix, string(owner.Type), SafeSegment(owner.ID), id+".json")
}

// Create writes the content blob and then the metadata record.
func (s *GenerationStore) Create(ctx context.Context, in NewGeneration) (Generation, error) {
	if !in.Owner.Valid() {
		return Generation{}, invalid("owner", "a visitor or user owner is required")
	}

	id := NewGenerationID()
	createdAt := s.opts.now()
	blobs := s.driver.Blobs()
	key := s.blobKey(in.Owner, id)

	data, err := json.Marshal(generationEnvelope{
		SchemaVersion:     SchemaVersion,
		GenerationID:      id,
		CreatedAt:         createdAt.Format("2006-01-02T15:04:05.000Z07:00"),
		GenerationContent: in.Content,
	})
	if err != nil {
		return Generation{}, fmt.Errorf("encode generation: %w", err)
	}

	rec := GenerationRecord{
		SchemaVersion:   SchemaVersion,
		ID:              id,
		CreatedAt:       createdAt,
		Owner:           in.Owner,
		Intention:       in.Intention,
		DurationSeconds: in.DurationSeconds,
		BackgroundTheme: in.BackgroundTheme,
		SceneTime:       in.SceneTime,
		SceneModel:      in.SceneModel,
		MusicModel:      in.MusicModel,
		BlobKey:         key,
		PayloadPath:     blobs.URI(key),
	}

	var undo cleanup
	if err := blobs.PutBlob(ctx, key, data); err != nil {
		return Generation{}, fmt.Errorf("write generation blob: %w", err)
	}
	undo.add("blob "+key, func(ctx context.Context) error { return blobs.DeleteBlob(ctx, key) })

	if err := s.driver.InsertGeneration(ctx, rec); err != nil {
		undo.run(ctx, s.opts.Logger)
		return Generation{}, fmt.Errorf("insert generation: %w", err)
	}
	return Generation{GenerationRecord: rec, Content: in.Content}, nil
}

// Count reports how many generations owner has, stopping at max.
func (s *GenerationStore) Count(ctx context.Context, owner Owner, max int) (int, error) {
	if !owner.Valid() {
		return 0, invalid("owner", "a visitor or user owner is required")
	}
	return s.driver.CountGenerations(ctx, owner, max)
}

// List returns owner's generations newest first. limit is clamped to
// [1, MaxGenerationListLimit]; zero selects the default.
func (s *GenerationStore) List(ctx context.Context, owner Owner, limit int) ([]GenerationRecord, error) {
	if !owner.Valid() {
		return nil, invalid("owner", "a visitor or user owner is required")
	}
	return s.driver.ListGenerations(ctx, owner, ClampListLimit(limit))
}

// ClampListLimit normalizes a requested page size.
func ClampListLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultGenerationListLimit
	case limit > MaxGenerationListLimit:
		return MaxGenerationListLimit
	default:
		return limit
	}
}

// GetForOwner loads a generation with its content. Generations owned by
// someone else are reported as ErrNotFound.
func (s *GenerationStore) GetForOwner(ctx context.Context, id string, owner Owner) (Generation, error) {
	if !ValidGenerationID(id) {
		return Generation{}, invalid("generationId", "invalid generation id")
	}
	rec, err := s.driver.GetGeneration(ctx, owner, id)
	if err != nil {
		return Generation{}, err
	}

	data, err := s.driver.Blobs().GetBlob(ctx, rec.BlobKey)
	if err != nil {
		return Generation{}, err
	}
	var env generationEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.opts.Logger.Error().Err(err).Str("generation_id", id).Msg("corrupt generation blob")
		return Generation{}, ErrNotFound
	}
	return Generation{GenerationRecord: rec, Content: env.GenerationContent}, nil
}

// SetThumbnail attaches a thumbnail image. Only the owner may set it.
func (s *GenerationStore) SetThumbnail(ctx context.Context, id string, owner Owner, dataURL string) (GenerationRecord, error) {
	if !ValidGenerationID(id) {
		return GenerationRecord{}, invalid("generationId", "invalid generation id")
	}
	return s.driver.SetGenerationThumbnail(ctx, owner, id, dataURL)
}
