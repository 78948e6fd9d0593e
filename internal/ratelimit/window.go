// Package ratelimit implements sliding-window token admission control.
//
// DESIGN: A trailing time window of per-request token usage decides whether a
// new turn may start. A sliding window avoids the burst artifacts of fixed
// minute buckets at the cost of one record per admitted request. Records are
// appended in non-decreasing time order, so pruning is a single forward scan
// from the front and admission is O(1) amortized.
package ratelimit

import (
	"sync"
	"time"
)

// usageRecord is one request's token consumption. Immutable once created.
type usageRecord struct {
	at     time.Time
	tokens int
}

// UsageWindow accumulates token usage over a trailing window and answers
// whether a request needing N tokens fits under the budget.
//
// All methods are safe for concurrent use. Reserve performs the
// check-and-record pair under one lock; callers that probe with CanAdmit and
// then Record separately can transiently exceed the limit under concurrency.
type UsageWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	// FIFO, time-ordered at insertion. Pruned from the front.
	records []usageRecord

	// Injectable clock for tests.
	now func() time.Time
}

// NewUsageWindow creates a window with the given token budget and duration.
func NewUsageWindow(limit int, window time.Duration) *UsageWindow {
	return &UsageWindow{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Record appends a usage record at the current time and prunes expired ones.
// Negative token counts are clamped to zero.
func (w *UsageWindow) Record(tokens int) {
	w.RecordAt(tokens, w.now())
}

// RecordAt appends a usage record at the given time.
func (w *UsageWindow) RecordAt(tokens int, at time.Time) {
	if tokens < 0 {
		tokens = 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, usageRecord{at: at, tokens: tokens})
	w.pruneLocked(at)
}

// CurrentTotal prunes expired records and returns the sum of tokens
// consumed within the window.
func (w *UsageWindow) CurrentTotal() int {
	return w.CurrentTotalAt(w.now())
}

// CurrentTotalAt is CurrentTotal evaluated at the given time.
func (w *UsageWindow) CurrentTotalAt(at time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(at)
	return w.totalLocked()
}

// CanAdmit reports whether a request needing the given tokens fits under the
// budget right now. The bound is inclusive: total+needed == limit admits.
// This is a read-only probe; use Reserve to admit and record atomically.
func (w *UsageWindow) CanAdmit(tokensNeeded int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(w.now())
	return w.totalLocked()+tokensNeeded <= w.limit
}

// Reserve admits and records the given tokens as one atomic step. Returns
// false, recording nothing, when the request does not fit. Two concurrent
// reservations can never both be admitted past the limit.
func (w *UsageWindow) Reserve(tokensNeeded int) bool {
	if tokensNeeded < 0 {
		tokensNeeded = 0
	}
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	if w.totalLocked()+tokensNeeded > w.limit {
		return false
	}
	w.records = append(w.records, usageRecord{at: now, tokens: tokensNeeded})
	return true
}

// Limit returns the configured token budget.
func (w *UsageWindow) Limit() int {
	return w.limit
}

// pruneLocked drops records older than the window. Records are time-ordered,
// so the scan stops at the first record still inside the window.
func (w *UsageWindow) pruneLocked(now time.Time) {
	i := 0
	for i < len(w.records) && now.Sub(w.records[i].at) > w.window {
		i++
	}
	if i > 0 {
		w.records = w.records[i:]
	}
}

func (w *UsageWindow) totalLocked() int {
	total := 0
	for _, r := range w.records {
		total += r.tokens
	}
	return total
}
