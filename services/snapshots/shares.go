package snapshots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ShareStore creates and reads shares on top of a Driver.
type ShareStore struct {
	driver Driver
	prefix string
	opts   Options
}

// CreateShareOptions are the optional inputs of CreateShare.
type CreateShareOptions struct {
	IdempotencyKey string
	Owner          *Owner
}

// GetShareOptions are the optional inputs of GetShare.
type GetShareOptions struct {
	IncrementView bool
}

// NewShareStore returns a store writing blobs under prefix.
func NewShareStore(driver Driver, prefix string, opts Options) (*ShareStore, error) {
	if driver == nil {
		return nil, errors.New("driver is required")
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "shares"
	}
	return &ShareStore{driver: driver, prefix: prefix, opts: opts.withDefaults()}, nil
}

func (s *ShareStore) blobKey(id string) string {
	return path.Join(s.prefix, id+".json")
}

// CreateShare persists payload as a new share. When an idempotency key is
// supplied, every call with that key resolves to the same share; only the
// call that actually created it reports Reused=false.
func (s *ShareStore) CreateShare(ctx context.Context, payload json.RawMessage, opts CreateShareOptions) (CreateShareResult, error) {
	if len(payload) == 0 || !json.Valid(payload) {
		return CreateShareResult{}, invalid("snapshot", "must be a JSON document")
	}

	key := strings.TrimSpace(opts.IdempotencyKey)
	var keyHash string
	if key != "" {
		keyHash = IdempotencyHash(key)
		existing, err := s.resolveIdempotent(ctx, keyHash)
		if err == nil {
			s.opts.Metrics.ShareCreated(true)
			return CreateShareResult{Share: existing, Reused: true}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return CreateShareResult{}, err
		}
	}

	id := NewShareID()
	createdAt := s.opts.now()
	blob, contentHash, err := encodeEnvelope(shareEnvelope{
		SchemaVersion: SchemaVersion,
		ShareID:       id,
		CreatedAt:     createdAt,
		Snapshot:      payload,
	})
	if err != nil {
		return CreateShareResult{}, err
	}

	blobs := s.driver.Blobs()
	blobKey := s.blobKey(id)
	rec := ShareRecord{
		SchemaVersion:   SchemaVersion,
		ID:              id,
		CreatedAt:       createdAt,
		ContentHash:     contentHash,
		BlobKey:         blobKey,
		PayloadPath:     blobs.URI(blobKey),
		Owner:           opts.Owner,
		IdempotencyHash: keyHash,
	}

	var undo cleanup
	if err := blobs.PutBlob(ctx, blobKey, blob); err != nil {
		return CreateShareResult{}, fmt.Errorf("write share blob: %w", err)
	}
	undo.add("blob "+blobKey, func(ctx context.Context) error { return blobs.DeleteBlob(ctx, blobKey) })

	if err := s.driver.InsertShare(ctx, rec); err != nil {
		undo.run(ctx, s.opts.Logger)
		return CreateShareResult{}, fmt.Errorf("insert share: %w", err)
	}
	undo.add("share "+id, func(ctx context.Context) error { return s.driver.DeleteShare(ctx, id) })

	if keyHash == "" {
		undo.discard()
		s.opts.Metrics.ShareCreated(false)
		return CreateShareResult{Share: rec}, nil
	}

	err = s.driver.CreateIdempotency(ctx, IdempotencyRecord{
		SchemaVersion: SchemaVersion,
		KeyHash:       keyHash,
		ShareID:       id,
		ContentHash:   contentHash,
		CreatedAt:     createdAt,
	})
	switch {
	case err == nil:
		undo.discard()
		s.opts.Metrics.ShareCreated(false)
		return CreateShareResult{Share: rec}, nil
	case errors.Is(err, ErrAlreadyExists):
		undo.run(ctx, s.opts.Logger)
		winner, rerr := s.resolveIdempotent(ctx, keyHash)
		if rerr != nil {
			return CreateShareResult{}, fmt.Errorf("resolve idempotency winner: %w", rerr)
		}
		s.opts.Logger.Warn().Str("share_id", winner.ID).Str("discarded_id", id).Msg("idempotency race lost; reusing winner")
		s.opts.Metrics.ShareCreated(true)
		return CreateShareResult{Share: winner, Reused: true}, nil
	default:
		undo.run(ctx, s.opts.Logger)
		return CreateShareResult{}, fmt.Errorf("create idempotency mapping: %w", err)
	}
}

func (s *ShareStore) resolveIdempotent(ctx context.Context, keyHash string) (ShareRecord, error) {
	mapping, err := s.driver.LookupIdempotency(ctx, keyHash)
	if err != nil {
		return ShareRecord{}, err
	}
	rec, err := s.driver.GetShare(ctx, mapping.ShareID)
	if errors.Is(err, ErrNotFound) {
		return ShareRecord{}, fmt.Errorf("idempotency key maps to missing share %s", mapping.ShareID)
	}
	return rec, err
}

// GetShare loads a share and its payload. Missing or unreadable payloads are
// reported as ErrNotFound. With IncrementView the view counter is bumped
// atomically and the returned record reflects the new count.
func (s *ShareStore) GetShare(ctx context.Context, id string, opts GetShareOptions) (Share, error) {
	if !ValidShareID(id) {
		return Share{}, invalid("shareId", "invalid share id")
	}

	rec, err := s.driver.GetShare(ctx, id)
	if err != nil {
		return Share{}, err
	}

	payload, err := s.readPayload(ctx, rec)
	if err != nil {
		return Share{}, err
	}

	if opts.IncrementView {
		rec, err = s.driver.IncrementShareViews(ctx, id, s.opts.now())
		if err != nil {
			return Share{}, err
		}
		s.opts.Metrics.ShareViewed()
	}

	return Share{ShareRecord: rec, Payload: payload}, nil
}

func (s *ShareStore) readPayload(ctx context.Context, rec ShareRecord) (json.RawMessage, error) {
	data, err := s.driver.Blobs().GetBlob(ctx, rec.BlobKey)
	if err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(data)
	if err != nil {
		s.opts.Logger.Error().Err(err).Str("share_id", rec.ID).Msg("corrupt share blob")
		return nil, ErrNotFound
	}
	return env.Snapshot, nil
}

// GetShareStats returns the counters of a share without counting a view.
func (s *ShareStore) GetShareStats(ctx context.Context, id string) (ShareStats, error) {
	if !ValidShareID(id) {
		return ShareStats{}, invalid("shareId", "invalid share id")
	}
	rec, err := s.driver.GetShare(ctx, id)
	if err != nil {
		return ShareStats{}, err
	}
	return ShareStats{
		ShareID:      rec.ID,
		CreatedAt:    rec.CreatedAt,
		ContentHash:  rec.ContentHash,
		ViewCount:    rec.ViewCount,
		LastViewedAt: rec.LastViewedAt,
	}, nil
}
