package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu    sync.Mutex
	subj  string
	msgID string
	value any
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, subj, msgID string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subj, p.msgID, p.value = subj, msgID, v
	return p.err
}

func TestBusDispatcherUsesJobIDAsMessageID(t *testing.T) {
	pub := &recordingPublisher{}
	d, err := NewBusDispatcher(pub, "snapshotd.jobs.share")
	require.NoError(t, err)

	desc := Descriptor{JobID: "job-1234567890", Snapshot: json.RawMessage(`{"a":1}`)}
	require.NoError(t, d.Dispatch(context.Background(), desc))

	assert.Equal(t, "snapshotd.jobs.share", pub.subj)
	assert.Equal(t, "job-1234567890", pub.msgID)
	assert.Equal(t, desc, pub.value)
}

func TestInlineDispatcherRunsDetached(t *testing.T) {
	done := make(chan Descriptor, 1)
	inline, err := NewInlineDispatcher(func(ctx context.Context, d Descriptor) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		done <- d
		return nil
	}, time.Second, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, inline.Dispatch(ctx, Descriptor{JobID: "job-inline-001"}))
	cancel()

	select {
	case d := <-done:
		assert.Equal(t, "job-inline-001", d.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("inline job did not run")
	}
}

func TestFallbackUsesSecondaryOnFailure(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("nats down")}
	primary, err := NewBusDispatcher(pub, "jobs")
	require.NoError(t, err)

	ran := make(chan struct{}, 1)
	secondary, err := NewInlineDispatcher(func(context.Context, Descriptor) error {
		ran <- struct{}{}
		return nil
	}, time.Second, zerolog.Nop())
	require.NoError(t, err)

	f := &Fallback{Primary: primary, Secondary: secondary, Logger: zerolog.Nop()}
	assert.Equal(t, "jetstream+inline", f.Name())
	require.NoError(t, f.Dispatch(context.Background(), Descriptor{JobID: "job-fallback-1"}))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("secondary dispatcher was not used")
	}
}
