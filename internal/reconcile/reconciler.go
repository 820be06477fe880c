package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/runger/storykit/internal/storage"
)

// Result is the merged view of one key.
type Result[T any] struct {
	// Data is the live value when present, otherwise the cached one.
	Data *T
	// IsCached reports that Data came from the store rather than live.
	IsCached bool
	// CacheLoaded reports that the initial store read has resolved.
	CacheLoaded bool
	// CachedAt is the envelope time when IsCached is set.
	CachedAt time.Time
}

// Config holds the collaborators for a Reconciler.
type Config struct {
	// Store is the durable cache (required).
	Store storage.Store

	// Logger for swallowed I/O errors (optional, uses default if nil).
	Logger *slog.Logger

	// Now returns the current time (optional, defaults to time.Now).
	Now func() time.Time

	// OnChange is called after every state change, outside any lock.
	OnChange func()
}

// Reconciler tracks one key's live value against its cached envelope.
// The zero key ("") is the null key: the reconciler passes live through
// and never touches the store.
type Reconciler[T any] struct {
	mu       sync.Mutex
	store    storage.Store
	logger   *slog.Logger
	now      func() time.Time
	onChange func()
	keep     func(cached, live T) bool

	key      string
	gen      uint64 // bumped on every rebind; stale loads compare against it
	live     *T
	envelope *Envelope[T]
	loaded   bool
	deferred *T // live value that arrived before the load resolved
	closed   bool

	writes   []write[T]
	writing  bool
	inflight sync.WaitGroup
}

type write[T any] struct {
	key string
	env Envelope[T]
}

// New creates an unbound Reconciler.
func New[T any](cfg Config) *Reconciler[T] {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler[T]{
		store:    cfg.Store,
		logger:   logger,
		now:      now,
		onChange: cfg.OnChange,
		loaded:   true,
	}
}

// SetKeepCached installs a policy deciding when a cached value must
// survive a live one. When keep(cached, live) is true the live value is
// neither surfaced nor written. Without a policy live always wins.
func (r *Reconciler[T]) SetKeepCached(keep func(cached, live T) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keep = keep
}

// Key returns the currently bound key.
func (r *Reconciler[T]) Key() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.key
}

// Bind points the reconciler at key and starts loading its envelope.
// Rebinding to the same key is a no-op. Any load still running for the
// previous key is discarded when it resolves.
func (r *Reconciler[T]) Bind(key string) {
	r.mu.Lock()
	if r.closed || key == r.key {
		r.mu.Unlock()
		return
	}

	r.gen++
	gen := r.gen
	r.key = key
	r.envelope = nil
	r.deferred = nil

	if key == "" {
		r.loaded = true
		r.mu.Unlock()
		r.notify()
		return
	}

	r.loaded = false
	r.deferred = r.live
	r.inflight.Add(1)
	r.mu.Unlock()

	go r.load(gen, key)
	r.notify()
}

func (r *Reconciler[T]) load(gen uint64, key string) {
	defer r.inflight.Done()

	env, err := Load[T](context.Background(), r.store, key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		r.logger.Debug("cache read failed", "key", key, "error", err)
	}

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	if err == nil {
		r.envelope = env
	}
	r.loaded = true
	if r.deferred != nil {
		v := *r.deferred
		r.deferred = nil
		r.acceptLocked(v)
	}
	closed := r.closed
	r.mu.Unlock()

	if !closed {
		r.notify()
	}
}

// Update delivers the latest live value; nil means no live value.
// A non-nil value is written to the store in the background once the
// initial load has resolved. Write failures are logged and never affect
// the in-memory result.
func (r *Reconciler[T]) Update(live *T) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if live != nil {
		v := *live
		r.live = &v
		switch {
		case r.key == "":
		case r.loaded:
			r.acceptLocked(v)
		default:
			r.deferred = &v
		}
	} else {
		// A value carried over from the previous key must not land on
		// this one once its load resolves.
		r.live = nil
		r.deferred = nil
	}
	r.mu.Unlock()

	r.notify()
}

// acceptLocked makes v the cached value unless the keep policy prefers
// the current one. Caller must hold r.mu.
func (r *Reconciler[T]) acceptLocked(v T) {
	if r.keepsLocked(v) {
		return
	}
	env := Envelope[T]{Value: v, UpdatedAt: r.now()}
	r.envelope = &env

	r.writes = append(r.writes, write[T]{key: r.key, env: env})
	if !r.writing {
		r.writing = true
		r.inflight.Add(1)
		go r.flush()
	}
}

func (r *Reconciler[T]) keepsLocked(v T) bool {
	return r.keep != nil && r.envelope != nil && r.keep(r.envelope.Value, v)
}

// flush drains queued writes in order. Writes run fire-and-forget with
// respect to callers but never overtake one another.
func (r *Reconciler[T]) flush() {
	defer r.inflight.Done()
	for {
		r.mu.Lock()
		if len(r.writes) == 0 {
			r.writing = false
			r.mu.Unlock()
			return
		}
		w := r.writes[0]
		r.writes = r.writes[1:]
		r.mu.Unlock()

		if err := Save(context.Background(), r.store, w.key, w.env.Value, w.env.UpdatedAt); err != nil {
			r.logger.Debug("cache write failed", "key", w.key, "error", err)
		}
	}
}

// Result returns the merged view.
func (r *Reconciler[T]) Result() Result[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.key == "" {
		return Result[T]{Data: clone(r.live), CacheLoaded: true}
	}
	if r.live != nil && !(r.loaded && r.keepsLocked(*r.live)) {
		return Result[T]{Data: clone(r.live), CacheLoaded: r.loaded}
	}

	res := Result[T]{CacheLoaded: r.loaded}
	if r.envelope != nil {
		res.Data = clone(&r.envelope.Value)
		res.IsCached = r.loaded
		if res.IsCached {
			res.CachedAt = r.envelope.UpdatedAt
		}
	}
	return res
}

// Close stops state updates, like a consumer going away. Loads and writes
// that already started still complete, including writing a live value
// that was waiting on the load.
func (r *Reconciler[T]) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Settle blocks until every pending load and write has finished.
func (r *Reconciler[T]) Settle() {
	r.inflight.Wait()
}

func (r *Reconciler[T]) notify() {
	if r.onChange != nil {
		r.onChange()
	}
}

func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
