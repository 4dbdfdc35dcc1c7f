package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapshotd/services/snapshots"
)

func TestDirRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	d, err := NewDir(root)
	require.NoError(t, err)

	require.NoError(t, d.PutBlob(ctx, "shares/abc.json", []byte(`{"a":1}`)))

	got, err := d.GetBlob(ctx, "shares/abc.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got))
	assert.FileExists(t, filepath.Join(root, "shares", "abc.json"))
	assert.Equal(t, "local://shares/abc.json", d.URI("shares/abc.json"))

	require.NoError(t, d.PutBlob(ctx, "shares/abc.json", []byte(`{"a":2}`)))
	got, err = d.GetBlob(ctx, "shares/abc.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(got))
}

func TestDirMissingBlob(t *testing.T) {
	ctx := context.Background()
	d, err := NewDir(t.TempDir())
	require.NoError(t, err)

	_, err = d.GetBlob(ctx, "shares/missing.json")
	assert.ErrorIs(t, err, snapshots.ErrNotFound)
	assert.NoError(t, d.DeleteBlob(ctx, "shares/missing.json"))
}

func TestDirRejectsTraversal(t *testing.T) {
	d, err := NewDir(t.TempDir())
	require.NoError(t, err)

	err = d.PutBlob(context.Background(), "../escape.json", []byte("{}"))
	assert.Error(t, err)
}

func TestWriteFileAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "doc.json")
	require.NoError(t, WriteFileAtomic(target, []byte("{}")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "doc.json", entries[0].Name())
}
