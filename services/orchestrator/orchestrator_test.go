package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapshotd/pkg/bus"
	"snapshotd/pkg/render"
	"snapshotd/services/dispatch"
	"snapshotd/services/generator"
	"snapshotd/services/snapshots"
	"snapshotd/services/snapshots/local"
)

var payload = json.RawMessage(`{"intention":"fog over the bay","sceneCode":"s()","musicCode":"m()","durationSeconds":30}`)

type fixture struct {
	orch   *Orchestrator
	shares *snapshots.ShareStore
	jobs   *snapshots.JobStore
	quota  *snapshots.Quota
}

func newFixture(t *testing.T, cfg Config, gen generator.Generator) fixture {
	t.Helper()
	driver, err := local.New(t.TempDir())
	require.NoError(t, err)

	opts := snapshots.Options{}
	shares, err := snapshots.NewShareStore(driver, "shares", opts)
	require.NoError(t, err)
	jobs, err := snapshots.NewJobStore(driver, opts)
	require.NoError(t, err)
	gens, err := snapshots.NewGenerationStore(driver, "generations", opts)
	require.NoError(t, err)
	quota, err := snapshots.NewQuota(driver, opts)
	require.NoError(t, err)

	if gen == nil {
		engine, err := render.New()
		require.NoError(t, err)
		gen, err = generator.NewSimulated(engine)
		require.NoError(t, err)
	}

	orch, err := New(Deps{Shares: shares, Jobs: jobs, Generations: gens, Quota: quota, Generator: gen}, cfg, zerolog.Nop(), nil)
	require.NoError(t, err)
	return fixture{orch: orch, shares: shares, jobs: jobs, quota: quota}
}

type captureDispatcher struct {
	mu  sync.Mutex
	got []dispatch.Descriptor
	err error
}

func (c *captureDispatcher) Name() string { return "capture" }

func (c *captureDispatcher) Dispatch(_ context.Context, d dispatch.Descriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, d)
	return c.err
}

func TestSubmitShareJobRequiresDispatcher(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	assert.False(t, f.orch.JobsEnabled())

	_, err := f.orch.SubmitShareJob(context.Background(), payload, "", nil, "")
	assert.ErrorIs(t, err, dispatch.ErrDisabled)
}

func TestSubmitAndProcessShareJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	d := &captureDispatcher{}
	f.orch.SetDispatcher(d)

	owner := &snapshots.Owner{Type: snapshots.OwnerVisitor, ID: "visitor-12345"}
	job, err := f.orch.SubmitShareJob(ctx, payload, "", owner, "req-9")
	require.NoError(t, err)
	assert.Equal(t, snapshots.JobQueued, job.Status)
	require.Len(t, d.got, 1)
	assert.Equal(t, job.ID, d.got[0].JobID)
	assert.Equal(t, "req-9", d.got[0].RequestID)

	done, err := f.orch.ProcessShareJob(ctx, d.got[0])
	require.NoError(t, err)
	assert.Equal(t, snapshots.JobCompleted, done.Status)
	assert.Equal(t, 1, done.AttemptCount)
	require.NotNil(t, done.Result)

	share, err := f.shares.GetShare(ctx, done.Result.ShareID, snapshots.GetShareOptions{})
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(share.Payload))
	assert.Equal(t, "visitor-12345", share.Owner.ID)

	// Redelivery after completion is a no-op.
	again, err := f.orch.ProcessShareJob(ctx, d.got[0])
	require.NoError(t, err)
	assert.Equal(t, snapshots.JobCompleted, again.Status)
	assert.Equal(t, 1, again.AttemptCount)
	assert.Equal(t, done.Result.ShareID, again.Result.ShareID)
}

func TestConcurrentRedeliveryCreatesOneShare(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	d := &captureDispatcher{}
	f.orch.SetDispatcher(d)

	job, err := f.orch.SubmitShareJob(ctx, payload, "", nil, "")
	require.NoError(t, err)
	desc := d.got[0]

	const deliveries = 6
	results := make([]snapshots.Job, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			j, err := f.orch.ProcessShareJob(ctx, desc)
			assert.NoError(t, err)
			results[i] = j
		}(i)
	}
	wg.Wait()

	final, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, final.Result)
	for _, r := range results {
		require.NotNil(t, r.Result)
		assert.Equal(t, final.Result.ShareID, r.Result.ShareID)
	}
}

func TestSubmitMarksUndispatchedJobFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	d := &captureDispatcher{err: errors.New("queue unavailable")}
	f.orch.SetDispatcher(d)

	_, err := f.orch.SubmitShareJob(ctx, payload, "", nil, "")
	require.Error(t, err)
	require.Len(t, d.got, 1)

	job, err := f.jobs.GetJob(ctx, d.got[0].JobID)
	require.NoError(t, err)
	assert.Equal(t, snapshots.JobFailed, job.Status)
	assert.Equal(t, "dispatch failed", job.Error)
}

func TestProcessFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	d := &captureDispatcher{}
	f.orch.SetDispatcher(d)

	_, err := f.orch.SubmitShareJob(ctx, json.RawMessage(`{not json`), "", nil, "")
	require.NoError(t, err)

	_, err = f.orch.ProcessShareJob(ctx, d.got[0])
	assert.True(t, snapshots.IsValidation(err))

	job, err := f.jobs.GetJob(ctx, d.got[0].JobID)
	require.NoError(t, err)
	assert.Equal(t, snapshots.JobFailed, job.Status)
	assert.NotEmpty(t, job.Error)
	assert.Equal(t, 1, job.AttemptCount)
}

func TestHandleShareJobClassifiesErrors(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	err := f.orch.handleShareJob(context.Background(), []byte("{"))
	assert.ErrorIs(t, err, bus.ErrPermanent)

	data, _ := json.Marshal(dispatch.Descriptor{JobID: "missingJob0001", Snapshot: payload})
	err = f.orch.handleShareJob(context.Background(), data)
	assert.ErrorIs(t, err, bus.ErrPermanent)
	assert.ErrorIs(t, err, snapshots.ErrNotFound)
}

func generationInput() GenerationInput {
	return GenerationInput{Intention: "snow on pines", DurationSeconds: 45, BackgroundTheme: "winter", SceneTime: "morning"}
}

func TestVisitorGenerationCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{AnonGenerationLimit: 2}, nil)
	visitor := snapshots.Owner{Type: snapshots.OwnerVisitor, ID: "visitor-cap-1"}

	first, err := f.orch.CreateGeneration(ctx, visitor, generationInput())
	require.NoError(t, err)
	require.NotNil(t, first.RemainingFree)
	assert.Equal(t, 1, *first.RemainingFree)
	assert.Nil(t, first.RemainingDailyOverall)
	assert.True(t, first.Generation.Content.Simulation)

	second, err := f.orch.CreateGeneration(ctx, visitor, generationInput())
	require.NoError(t, err)
	assert.Equal(t, 0, *second.RemainingFree)

	_, err = f.orch.CreateGeneration(ctx, visitor, generationInput())
	assert.ErrorIs(t, err, snapshots.ErrVisitorLimit)

	user := snapshots.Owner{Type: snapshots.OwnerUser, ID: "user-uncapped"}
	for i := 0; i < 3; i++ {
		out, err := f.orch.CreateGeneration(ctx, user, generationInput())
		require.NoError(t, err)
		assert.Nil(t, out.RemainingFree)
	}
}

func TestGlobalDailyLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{GlobalDailyLimit: 2}, nil)
	user := snapshots.Owner{Type: snapshots.OwnerUser, ID: "user-quota"}

	out, err := f.orch.CreateGeneration(ctx, user, generationInput())
	require.NoError(t, err)
	require.NotNil(t, out.RemainingDailyOverall)
	assert.Equal(t, 1, *out.RemainingDailyOverall)

	_, err = f.orch.CreateGeneration(ctx, user, generationInput())
	require.NoError(t, err)

	_, err = f.orch.CreateGeneration(ctx, user, generationInput())
	assert.ErrorIs(t, err, snapshots.ErrQuotaExceeded)
}

func TestGenerationFailureReleasesSlot(t *testing.T) {
	ctx := context.Background()
	fail := true
	gen := generator.Func(func(ctx context.Context, req generator.Request) (generator.Result, error) {
		if fail {
			return generator.Result{}, errors.New("model timeout")
		}
		return generator.Result{SceneCode: "s", MusicCode: "m"}, nil
	})
	f := newFixture(t, Config{GlobalDailyLimit: 1}, gen)
	user := snapshots.Owner{Type: snapshots.OwnerUser, ID: "user-release"}

	_, err := f.orch.CreateGeneration(ctx, user, generationInput())
	require.Error(t, err)

	fail = false
	out, err := f.orch.CreateGeneration(ctx, user, generationInput())
	require.NoError(t, err)
	assert.Equal(t, 0, *out.RemainingDailyOverall)
}
