// Package local is a single-host snapshots.Driver that keeps one JSON file per
// record. Creates are exclusive and read-modify-write updates run under an
// advisory file lock, so concurrent processes sharing the data directory
// observe the same guarantees as goroutines in one process.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"snapshotd/pkg/fslock"
	"snapshotd/services/snapshots"
	"snapshotd/services/snapshots/blobstore"
)

const (
	sharesDir      = "shares"
	idempotencyDir = "idempotency"
	jobsDir        = "jobs"
	quotaDir       = "quota"
	generationsDir = "generations"
	lockSuffix     = ".lock"
)

// Driver implements snapshots.Driver on the local filesystem.
type Driver struct {
	metaRoot string
	blobs    *blobstore.Dir
}

var _ snapshots.Driver = (*Driver)(nil)

// New prepares the directory layout below dataDir.
func New(dataDir string) (*Driver, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, errors.New("data directory is required")
	}
	metaRoot := filepath.Join(dataDir, "meta")
	for _, dir := range []string{sharesDir, idempotencyDir, jobsDir, quotaDir, generationsDir} {
		if err := os.MkdirAll(filepath.Join(metaRoot, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", dir, err)
		}
	}

	blobs, err := blobstore.NewDir(filepath.Join(dataDir, "blobs"))
	if err != nil {
		return nil, err
	}

	return &Driver{metaRoot: metaRoot, blobs: blobs}, nil
}

func (d *Driver) Name() string               { return "local" }
func (d *Driver) Blobs() snapshots.BlobStore { return d.blobs }
func (d *Driver) Close() error               { return nil }
func (d *Driver) recordPath(parts ...string) string {
	return filepath.Join(append([]string{d.metaRoot}, parts...)...)
}

func readRecord(path string, dest any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return snapshots.ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeRecord(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return blobstore.WriteFileAtomic(path, data)
}

// createRecord writes v to path only if path does not exist yet. The content
// is staged in a temp file and hard-linked into place so the final name
// appears atomically with its full content.
func createRecord(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return snapshots.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// mutate runs fn on the decoded record at path while holding its lock and
// writes it back when fn reports a change.
func mutate[T any](ctx context.Context, path string, fn func(rec *T) (bool, error)) (T, error) {
	var rec T
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return rec, snapshots.ErrNotFound
	}
	err := fslock.With(ctx, path+lockSuffix, func() error {
		if err := readRecord(path, &rec); err != nil {
			return err
		}
		changed, err := fn(&rec)
		if err != nil || !changed {
			return err
		}
		return writeRecord(path, rec)
	})
	return rec, err
}

func isRecordFile(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasPrefix(name, ".")
}
