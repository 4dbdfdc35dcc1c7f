package snapshots

import (
	"context"
	"errors"
	"strings"
	"time"
)

const dateKeyLayout = "2006-01-02"

// DateKey is the UTC calendar day used to bucket quota counters.
func DateKey(t time.Time) string {
	return t.UTC().Format(dateKeyLayout)
}

// Quota is the global daily generation counter.
type Quota struct {
	counter QuotaCounter
	opts    Options
}

func NewQuota(counter QuotaCounter, opts Options) (*Quota, error) {
	if counter == nil {
		return nil, errors.New("quota counter is required")
	}
	return &Quota{counter: counter, opts: opts.withDefaults()}, nil
}

// Today returns the date key for the current UTC day.
func (q *Quota) Today() string {
	return DateKey(q.opts.now())
}

// Acquire takes one slot for dateKey if fewer than limit are taken. A
// non-positive limit or an empty key disables the quota: the call always
// succeeds and nothing is stored.
func (q *Quota) Acquire(ctx context.Context, dateKey string, limit int) (QuotaResult, error) {
	dateKey = strings.TrimSpace(dateKey)
	if limit <= 0 || dateKey == "" {
		q.opts.Metrics.QuotaDecision("disabled")
		return QuotaResult{Acquired: true}, nil
	}

	res, err := q.counter.AcquireSlot(ctx, dateKey, limit, q.opts.now())
	if err != nil {
		return QuotaResult{}, err
	}
	if res.Acquired {
		q.opts.Metrics.QuotaDecision("acquired")
	} else {
		q.opts.Metrics.QuotaDecision("rejected")
	}
	return res, nil
}

// Release gives back a slot taken by Acquire. Counters never drop below zero.
func (q *Quota) Release(ctx context.Context, dateKey string) error {
	dateKey = strings.TrimSpace(dateKey)
	if dateKey == "" {
		return nil
	}
	return q.counter.ReleaseSlot(ctx, dateKey, q.opts.now())
}

// ApplyAcquire is the in-memory acquire rule shared by drivers that perform
// read-modify-write under a lock.
func ApplyAcquire(day *QuotaDay, limit int, at time.Time) QuotaResult {
	day.Limit = limit
	if day.Count >= limit {
		return QuotaResult{Acquired: false, Current: day.Count, Remaining: 0}
	}
	day.Count++
	day.UpdatedAt = at
	return QuotaResult{Acquired: true, Current: day.Count, Remaining: limit - day.Count}
}

// ApplyRelease is the in-memory release rule. It reports whether day changed.
func ApplyRelease(day *QuotaDay, at time.Time) bool {
	if day.Count <= 0 {
		day.Count = 0
		return false
	}
	day.Count--
	day.UpdatedAt = at
	return true
}
