package wardrobe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/runger/storykit/internal/backend"
	"github.com/runger/storykit/internal/storage"
)

const (
	// DefaultProgressThreshold is the reading progress (percent) at which
	// a pending wardrobe change is attempted.
	DefaultProgressThreshold = 90.0

	// DefaultStaleAfter is how long a processing marker is trusted before
	// it is treated as abandoned.
	DefaultStaleAfter = 10 * time.Minute

	// DefaultUnlockTimeout bounds the background unlock notification.
	DefaultUnlockTimeout = 15 * time.Second
)

var tracer = otel.Tracer("github.com/runger/storykit/internal/wardrobe")

// Outcome reports what a trigger did. It is informational; every failure
// has already been logged and left for the next trigger.
type Outcome string

const (
	OutcomeNotTriggered   Outcome = "not_triggered"   // progress or page count below trigger
	OutcomeBusy           Outcome = "busy"            // this orchestrator is already running
	OutcomeIdle           Outcome = "idle"            // nothing pending
	OutcomeAlreadyApplied Outcome = "already_applied" // outfit already had the item; slot cleared
	OutcomeInFlight       Outcome = "in_flight"       // fresh processing marker held elsewhere
	OutcomeLeaseLost      Outcome = "lease_lost"      // slot changed under us
	OutcomeApplied        Outcome = "applied"
	OutcomeRequeued       Outcome = "requeued"
)

// Config holds the orchestrator's collaborators and tunables.
type Config struct {
	// Store is the durable cache holding the pending slot and outfit (required).
	Store storage.Store

	// Backend performs uploads, composition and unlock (required).
	Backend backend.Client

	// Assets provides the base avatar and item images (required).
	Assets AssetSource

	// Prefetcher warms the image cache after success (optional).
	Prefetcher Prefetcher

	// Logger (optional, uses default if nil).
	Logger *slog.Logger

	// Now returns the current time (optional, defaults to time.Now).
	Now func() time.Time

	// ProgressThreshold in percent.
	// Default: 90
	ProgressThreshold float64

	// StaleAfter is the processing staleness threshold.
	// Default: 10 minutes
	StaleAfter time.Duration

	// UnlockTimeout bounds the unlock notification.
	// Default: 15 seconds
	UnlockTimeout time.Duration
}

// Orchestrator drives the pending wardrobe descriptor to completion.
// Several orchestrators (one per screen, or per process) may share a
// store; the slot's compare-and-swap lease keeps a descriptor from being
// executed by two of them at once.
type Orchestrator struct {
	queue      *PendingQueue
	outfits    *OutfitStore
	backend    backend.Client
	assets     AssetSource
	prefetcher Prefetcher
	logger     *slog.Logger
	now        func() time.Time

	threshold     float64
	staleAfter    time.Duration
	unlockTimeout time.Duration

	running    atomic.Bool
	background sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Backend == nil {
		return nil, errors.New("backend is required")
	}
	if cfg.Assets == nil {
		return nil, errors.New("assets are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	threshold := cfg.ProgressThreshold
	if threshold <= 0 {
		threshold = DefaultProgressThreshold
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	unlockTimeout := cfg.UnlockTimeout
	if unlockTimeout <= 0 {
		unlockTimeout = DefaultUnlockTimeout
	}

	return &Orchestrator{
		queue:         NewPendingQueue(cfg.Store, now),
		outfits:       NewOutfitStore(cfg.Store, now),
		backend:       cfg.Backend,
		assets:        cfg.Assets,
		prefetcher:    cfg.Prefetcher,
		logger:        logger,
		now:           now,
		threshold:     threshold,
		staleAfter:    staleAfter,
		unlockTimeout: unlockTimeout,
	}, nil
}

// Queue returns the pending slot.
func (o *Orchestrator) Queue() *PendingQueue { return o.queue }

// Outfits returns the outfit record store.
func (o *Orchestrator) Outfits() *OutfitStore { return o.outfits }

// Request records a wardrobe change to apply on a later trigger. It
// replaces any change still pending.
func (o *Orchestrator) Request(ctx context.Context, req Request) (*PendingWardrobe, error) {
	p, err := o.queue.Enqueue(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to queue wardrobe change: %w", err)
	}
	o.logger.Info("wardrobe change queued",
		"request_id", p.RequestID,
		"kind", p.Kind,
		"item_id", p.ItemID,
	)
	return p, nil
}

// OnProgress is the reading-progress signal. It runs the pending change
// when progress reaches the threshold and the page count is known.
func (o *Orchestrator) OnProgress(ctx context.Context, progress float64, totalPages int) Outcome {
	if totalPages <= 0 || progress < o.threshold {
		return OutcomeNotTriggered
	}
	return o.Run(ctx)
}

// Run executes the pending change, if any, regardless of progress.
// Cancelling ctx does not abort a run that has started remote work.
func (o *Orchestrator) Run(ctx context.Context) Outcome {
	if !o.running.CompareAndSwap(false, true) {
		return OutcomeBusy
	}
	defer o.running.Store(false)

	// The staleness threshold is the only bound on a run; backend calls
	// get no default deadline.
	ctx = backend.WithoutCallTimeout(context.WithoutCancel(ctx))

	pending, err := o.queue.Load(ctx)
	if err != nil {
		o.logger.Warn("failed to load pending wardrobe", "error", err)
		return OutcomeIdle
	}
	if pending == nil {
		return OutcomeIdle
	}

	log := o.logger.With("request_id", pending.RequestID, "kind", pending.Kind, "item_id", pending.ItemID)

	outfit, err := o.outfits.Load(ctx)
	if err != nil {
		log.Warn("failed to load outfit", "error", err)
		return OutcomeIdle
	}

	if outfit.Applied(*pending) {
		if _, err := o.queue.Complete(ctx, pending); err != nil {
			log.Warn("failed to clear applied wardrobe change", "error", err)
		}
		log.Info("wardrobe change already applied")
		return OutcomeAlreadyApplied
	}

	now := o.now()
	if pending.Status == StatusProcessing {
		if !pending.Stale(now, o.staleAfter) {
			log.Debug("wardrobe change in flight elsewhere", "status_at", pending.StatusAt)
			return OutcomeInFlight
		}

		log.Warn("recovering stale wardrobe change", "status_at", pending.StatusAt)
		recovered, ok, err := o.queue.Transition(ctx, pending, StatusQueued)
		if err != nil {
			log.Warn("failed to recover stale wardrobe change", "error", err)
			return OutcomeIdle
		}
		if !ok {
			return OutcomeLeaseLost
		}
		pending = recovered
	}

	claimed, ok, err := o.queue.Claim(ctx, pending)
	if err != nil {
		log.Warn("failed to claim wardrobe change", "error", err)
		return OutcomeIdle
	}
	if !ok {
		log.Debug("wardrobe change claimed elsewhere")
		return OutcomeLeaseLost
	}

	return o.execute(ctx, log, claimed, outfit)
}

// execute runs the remote composition for a claimed descriptor and
// records the result or requeues it.
func (o *Orchestrator) execute(ctx context.Context, log *slog.Logger, claimed *PendingWardrobe, outfit MascotOutfit) Outcome {
	ctx, span := tracer.Start(ctx, "wardrobe.compose")
	defer span.End()
	span.SetAttributes(
		attribute.String("wardrobe.request_id", claimed.RequestID),
		attribute.String("wardrobe.kind", string(claimed.Kind)),
		attribute.String("wardrobe.item_id", claimed.ItemID),
	)

	comp, err := o.compose(ctx, claimed, outfit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "composition failed")
		log.Warn("wardrobe composition failed", "error", err)
		return o.requeue(ctx, log, claimed)
	}

	updated := ApplyComposite(outfit, comp)
	if o.prefetcher != nil && comp.ImageURL != "" {
		if err := o.prefetcher.Prefetch(ctx, comp.ImageURL); err != nil {
			log.Debug("image prefetch failed", "url", comp.ImageURL, "error", err)
		}
	}

	if err := o.outfits.Save(ctx, updated); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "outfit save failed")
		log.Warn("failed to save outfit", "error", err)
		return o.requeue(ctx, log, claimed)
	}

	if ok, err := o.queue.Complete(ctx, claimed); err != nil {
		log.Warn("failed to clear wardrobe change", "error", err)
	} else if !ok {
		log.Info("wardrobe slot replaced during composition; keeping newer request")
	}

	log.Info("wardrobe composite applied", "asset_id", comp.AssetID)
	o.unlock(ctx)
	return OutcomeApplied
}

// compose resolves the source images and performs the remote call.
func (o *Orchestrator) compose(ctx context.Context, p *PendingWardrobe, outfit MascotOutfit) (Composite, error) {
	item, asset, err := o.assets.Item(ctx, p.ItemID)
	if err != nil {
		return Composite{}, err
	}
	if item.Kind != p.Kind {
		return Composite{}, fmt.Errorf("item %q is %s, not %s: %w", p.ItemID, item.Kind, p.Kind, ErrAssetNotFound)
	}

	originalID := outfit.OriginalAssetID
	if originalID == "" {
		avatar, err := o.assets.BaseAvatar(ctx)
		if err != nil {
			return Composite{}, fmt.Errorf("base avatar: %w", err)
		}
		originalID, err = backend.UploadBlob(ctx, o.backend, avatar.Data, avatar.ContentType)
		if err != nil {
			return Composite{}, fmt.Errorf("upload base avatar: %w", err)
		}
		outfit.OriginalAssetID = originalID
	}

	itemAssetID, err := backend.UploadBlob(ctx, o.backend, asset.Data, asset.ContentType)
	if err != nil {
		return Composite{}, fmt.Errorf("upload item: %w", err)
	}

	base := outfit.baseFor(p.Kind)
	var res backend.CompositeResult
	switch p.Kind {
	case KindClothes:
		res, err = o.backend.AddClothesToComposite(ctx, backend.ClothesRequest{
			ItemID:      p.ItemID,
			Description: item.Description,
			ItemAssetID: itemAssetID,
			BaseAssetID: base,
		})
	case KindAccessory:
		kind := p.AccessoryKind
		if kind == "" {
			kind = item.AccessoryKind
		}
		res, err = o.backend.AddAccessoryToComposite(ctx, backend.AccessoryRequest{
			ItemID:      p.ItemID,
			Kind:        string(kind),
			Description: item.Description,
			ItemAssetID: itemAssetID,
			BaseAssetID: base,
		})
		p.AccessoryKind = kind
	default:
		return Composite{}, fmt.Errorf("unknown wardrobe kind %q", p.Kind)
	}
	if err != nil {
		return Composite{}, err
	}
	if !res.Success || res.AssetID == "" {
		return Composite{}, fmt.Errorf("composition rejected: %s", res.Error)
	}

	return Composite{
		Kind:            p.Kind,
		ItemID:          p.ItemID,
		AccessoryKind:   p.AccessoryKind,
		OriginalAssetID: originalID,
		AssetID:         res.AssetID,
		ImageURL:        res.ImageURL,
		At:              o.now(),
	}, nil
}

// requeue hands the descriptor back for the next trigger. There is no
// attempt limit and no backoff.
func (o *Orchestrator) requeue(ctx context.Context, log *slog.Logger, claimed *PendingWardrobe) Outcome {
	_, ok, err := o.queue.Transition(ctx, claimed, StatusQueued)
	switch {
	case err != nil:
		// The processing marker stays; stale recovery picks it up later.
		log.Warn("failed to requeue wardrobe change", "error", err)
	case !ok:
		log.Info("wardrobe slot replaced during composition; not requeueing")
	}
	return OutcomeRequeued
}

// unlock fires the unlock notification without waiting for it.
func (o *Orchestrator) unlock(ctx context.Context) {
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		ctx, cancel := context.WithTimeout(ctx, o.unlockTimeout)
		defer cancel()
		if err := o.backend.UnlockWardrobe(ctx); err != nil {
			o.logger.Warn("wardrobe unlock failed", "error", err)
		}
	}()
}

// Wait blocks until background notifications have finished.
func (o *Orchestrator) Wait() {
	o.background.Wait()
}
