package wardrobe

import (
	"context"
	"errors"
	"time"

	"github.com/runger/storykit/internal/reconcile"
	"github.com/runger/storykit/internal/storage"
)

// OutfitKey is the store key of the outfit envelope. Screens observe it
// through a reconcile.Reconciler[MascotOutfit] bound to the same key.
const OutfitKey = "wardrobe:outfit"

// OutfitStore persists the mascot outfit as a reconcile envelope.
type OutfitStore struct {
	store storage.Store
	now   func() time.Time
}

// NewOutfitStore creates an outfit store. A nil now uses time.Now.
func NewOutfitStore(store storage.Store, now func() time.Time) *OutfitStore {
	if now == nil {
		now = time.Now
	}
	return &OutfitStore{store: store, now: now}
}

// Load returns the stored outfit, or the zero outfit when none exists.
func (s *OutfitStore) Load(ctx context.Context) (MascotOutfit, error) {
	env, err := reconcile.Load[MascotOutfit](ctx, s.store, OutfitKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return MascotOutfit{}, nil
		}
		return MascotOutfit{}, err
	}
	return env.Value, nil
}

// Save writes the outfit envelope.
func (s *OutfitStore) Save(ctx context.Context, o MascotOutfit) error {
	return reconcile.Save(ctx, s.store, OutfitKey, o, s.now())
}

// Reset deletes the outfit, including its generation history. It is the
// only operation that truncates history.
func (s *OutfitStore) Reset(ctx context.Context) error {
	return s.store.Delete(ctx, OutfitKey)
}

// Composite is a successful composition ready to be applied.
type Composite struct {
	Kind            Kind
	ItemID          string
	AccessoryKind   AccessoryKind
	OriginalAssetID string // base avatar asset, recorded if the outfit has none
	AssetID         string
	ImageURL        string
	At              time.Time
}

// ApplyComposite returns o with c applied. It is the only way an outfit
// changes after a composition:
//   - OriginalAssetID is written once and never replaced,
//   - the composite becomes the current image,
//   - a clothes composite becomes the clothed base and removes any
//     accessory, since the accessory was baked into the previous image,
//   - the history gains one record.
func ApplyComposite(o MascotOutfit, c Composite) MascotOutfit {
	out := o
	out.GenerationHistory = append(make([]GenerationRecord, 0, len(o.GenerationHistory)+1), o.GenerationHistory...)

	if out.OriginalAssetID == "" {
		out.OriginalAssetID = c.OriginalAssetID
	}
	out.CurrentAssetID = c.AssetID
	out.CurrentAssetURL = c.ImageURL

	switch c.Kind {
	case KindClothes:
		out.EquippedClothes = c.ItemID
		out.ClothedAssetID = c.AssetID
		out.EquippedAccessory = ""
		out.EquippedAccessoryKind = ""
	case KindAccessory:
		out.EquippedAccessory = c.ItemID
		out.EquippedAccessoryKind = c.AccessoryKind
	}

	out.GenerationHistory = append(out.GenerationHistory, GenerationRecord{
		ItemKind:    c.Kind,
		ItemID:      c.ItemID,
		AssetID:     c.AssetID,
		GeneratedAt: c.At,
	})
	return out
}

// baseFor picks the image a new composite is built on: clothes go onto
// the bare avatar, accessories onto the clothed composite when there is one.
func (o MascotOutfit) baseFor(kind Kind) string {
	if kind == KindAccessory && o.ClothedAssetID != "" {
		return o.ClothedAssetID
	}
	return o.OriginalAssetID
}
