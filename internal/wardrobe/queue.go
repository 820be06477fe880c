package wardrobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/runger/storykit/internal/storage"
)

// PendingKey is the store key of the pending descriptor slot.
const PendingKey = "wardrobe:pending"

// PendingQueue is the single-slot durable descriptor of the next wardrobe
// change. Enqueue overwrites; every other mutation is conditional on the
// slot still holding the bytes the caller read.
type PendingQueue struct {
	store storage.Store
	now   func() time.Time
}

// NewPendingQueue creates a queue over store. A nil now uses time.Now.
func NewPendingQueue(store storage.Store, now func() time.Time) *PendingQueue {
	if now == nil {
		now = time.Now
	}
	return &PendingQueue{store: store, now: now}
}

// Load returns the pending descriptor, or nil when the slot is empty.
func (q *PendingQueue) Load(ctx context.Context) (*PendingWardrobe, error) {
	data, err := q.store.Get(ctx, PendingKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var p PendingWardrobe
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode pending wardrobe: %w", err)
	}
	p.raw = data
	return &p, nil
}

// Enqueue stores a new queued descriptor, replacing any existing one.
func (q *PendingQueue) Enqueue(ctx context.Context, req Request) (*PendingWardrobe, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := q.now()
	p := PendingWardrobe{
		RequestID:     uuid.NewString(),
		Kind:          req.Kind,
		ItemID:        req.ItemID,
		AccessoryKind: req.AccessoryKind,
		CreatedAt:     now,
		Status:        StatusQueued,
		StatusAt:      now,
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode pending wardrobe: %w", err)
	}
	if err := q.store.Set(ctx, PendingKey, data); err != nil {
		return nil, err
	}
	p.raw = data
	return &p, nil
}

// Transition moves the slot from prev to the same descriptor with status
// and a fresh StatusAt. It reports false, with no error, when the slot no
// longer holds prev.
func (q *PendingQueue) Transition(ctx context.Context, prev *PendingWardrobe, status Status) (*PendingWardrobe, bool, error) {
	next := *prev
	next.Status = status
	next.StatusAt = q.now()
	next.raw = nil

	data, err := json.Marshal(next)
	if err != nil {
		return nil, false, fmt.Errorf("encode pending wardrobe: %w", err)
	}
	ok, err := q.store.CompareAndSwap(ctx, PendingKey, prev.raw, data)
	if err != nil || !ok {
		return nil, false, err
	}
	next.raw = data
	return &next, true, nil
}

// Claim marks prev as processing. It is the lease: of several callers
// holding the same prev, exactly one gets ok.
func (q *PendingQueue) Claim(ctx context.Context, prev *PendingWardrobe) (*PendingWardrobe, bool, error) {
	return q.Transition(ctx, prev, StatusProcessing)
}

// Complete clears the slot if it still holds p.
func (q *PendingQueue) Complete(ctx context.Context, p *PendingWardrobe) (bool, error) {
	return q.store.CompareAndDelete(ctx, PendingKey, p.raw)
}

// Clear empties the slot unconditionally.
func (q *PendingQueue) Clear(ctx context.Context) error {
	return q.store.Delete(ctx, PendingKey)
}

// Stale reports whether a processing marker is older than threshold.
func (p PendingWardrobe) Stale(now time.Time, threshold time.Duration) bool {
	return p.Status == StatusProcessing && now.Sub(p.StatusAt) > threshold
}
