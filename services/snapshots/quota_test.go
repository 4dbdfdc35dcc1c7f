package snapshots_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapshotd/services/snapshots"
)

func newQuota(t *testing.T) *snapshots.Quota {
	t.Helper()
	q, err := snapshots.NewQuota(newLocalDriver(t), snapshots.Options{})
	require.NoError(t, err)
	return q
}

func TestQuotaBoundarySequence(t *testing.T) {
	ctx := context.Background()
	q := newQuota(t)
	const day = "2025-01-01"

	steps := []struct {
		release bool
		want    snapshots.QuotaResult
	}{
		{want: snapshots.QuotaResult{Acquired: true, Current: 1, Remaining: 1}},
		{want: snapshots.QuotaResult{Acquired: true, Current: 2, Remaining: 0}},
		{want: snapshots.QuotaResult{Acquired: false, Current: 2, Remaining: 0}},
		{release: true},
		{want: snapshots.QuotaResult{Acquired: true, Current: 2, Remaining: 0}},
	}

	for i, step := range steps {
		if step.release {
			require.NoError(t, q.Release(ctx, day), "step %d", i)
			continue
		}
		got, err := q.Acquire(ctx, day, 2)
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, step.want, got, "step %d", i)
	}
}

func TestQuotaDisabled(t *testing.T) {
	ctx := context.Background()
	q := newQuota(t)

	for _, tc := range []struct {
		name  string
		day   string
		limit int
	}{
		{name: "zero limit", day: "2025-01-01", limit: 0},
		{name: "negative limit", day: "2025-01-01", limit: -5},
		{name: "empty day", day: "", limit: 10},
	} {
		t.Run(tc.name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				got, err := q.Acquire(ctx, tc.day, tc.limit)
				require.NoError(t, err)
				assert.True(t, got.Acquired)
			}
		})
	}
}

func TestQuotaReleaseFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	q := newQuota(t)
	const day = "2025-02-02"

	require.NoError(t, q.Release(ctx, day))
	_, err := q.Acquire(ctx, day, 3)
	require.NoError(t, err)
	require.NoError(t, q.Release(ctx, day))
	require.NoError(t, q.Release(ctx, day))

	got, err := q.Acquire(ctx, day, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Current)
}

func TestQuotaConcurrentAcquireNeverExceedsLimit(t *testing.T) {
	ctx := context.Background()
	q := newQuota(t)
	const (
		day    = "2025-03-03"
		limit  = 5
		extras = 15
	)

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < limit+extras; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := q.Acquire(ctx, day, limit)
			assert.NoError(t, err)
			if res.Acquired {
				granted.Add(1)
			}
			assert.LessOrEqual(t, res.Current, limit)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(limit), granted.Load())
}

func TestQuotaDaysAreIndependent(t *testing.T) {
	ctx := context.Background()
	q := newQuota(t)

	a, err := q.Acquire(ctx, "2025-04-01", 1)
	require.NoError(t, err)
	b, err := q.Acquire(ctx, "2025-04-02", 1)
	require.NoError(t, err)
	assert.True(t, a.Acquired)
	assert.True(t, b.Acquired)
}

func TestDateKeyUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	ts := time.Date(2025, 6, 1, 5, 0, 0, 0, loc)
	assert.Equal(t, "2025-05-31", snapshots.DateKey(ts))
}

func TestApplyAcquireNeverExceedsLimit(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("count stays within [0, limit]", prop.ForAll(
		func(limit int, ops []bool) bool {
			day := snapshots.QuotaDay{}
			now := time.Now()
			for _, acquire := range ops {
				if acquire {
					res := snapshots.ApplyAcquire(&day, limit, now)
					if res.Current > limit || res.Remaining < 0 {
						return false
					}
				} else {
					snapshots.ApplyRelease(&day, now)
				}
				if day.Count < 0 || day.Count > limit {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 20),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
