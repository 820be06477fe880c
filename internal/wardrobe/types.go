// Package wardrobe runs the mascot outfit composition job.
//
// A wardrobe change is requested by writing a single pending descriptor.
// The Orchestrator picks it up when the reader nears the end of a book,
// composes the new outfit remotely, records the result and clears the
// descriptor. A descriptor survives restarts and failed attempts, and a
// processing marker older than the staleness threshold is recovered.
package wardrobe

import (
	"fmt"
	"time"
)

// Kind is the category of a wardrobe item.
type Kind string

const (
	KindClothes   Kind = "clothes"
	KindAccessory Kind = "accessory"
)

// AccessoryKind distinguishes accessory slots.
type AccessoryKind string

const (
	AccessoryHat AccessoryKind = "hat"
	AccessoryToy AccessoryKind = "toy"
)

// Status is the lifecycle state of a pending descriptor.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
)

// PendingWardrobe describes the next wardrobe change to apply.
type PendingWardrobe struct {
	RequestID     string        `json:"requestId"`
	Kind          Kind          `json:"kind"`
	ItemID        string        `json:"itemId"`
	AccessoryKind AccessoryKind `json:"accessoryKind,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	Status        Status        `json:"status"`
	StatusAt      time.Time     `json:"statusAt"`

	raw []byte // stored bytes this value was read from or written as
}

// GenerationRecord is one applied composite.
type GenerationRecord struct {
	ItemKind    Kind      `json:"itemKind"`
	ItemID      string    `json:"itemId"`
	AssetID     string    `json:"assetId"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// MascotOutfit is the identity chain of the mascot image.
type MascotOutfit struct {
	OriginalAssetID       string             `json:"originalAssetId,omitempty"`
	ClothedAssetID        string             `json:"clothedAssetId,omitempty"`
	CurrentAssetID        string             `json:"currentAssetId,omitempty"`
	CurrentAssetURL       string             `json:"currentAssetUrl,omitempty"`
	EquippedClothes       string             `json:"equippedClothes,omitempty"`
	EquippedAccessory     string             `json:"equippedAccessory,omitempty"`
	EquippedAccessoryKind AccessoryKind      `json:"equippedAccessoryKind,omitempty"`
	GenerationHistory     []GenerationRecord `json:"generationHistory,omitempty"`
}

// Request is a wardrobe change asked for by the user.
type Request struct {
	Kind          Kind
	ItemID        string
	AccessoryKind AccessoryKind
}

// Validate checks the request shape.
func (r Request) Validate() error {
	if r.ItemID == "" {
		return fmt.Errorf("item id is required")
	}
	switch r.Kind {
	case KindClothes:
		if r.AccessoryKind != "" {
			return fmt.Errorf("clothes request cannot carry accessory kind %q", r.AccessoryKind)
		}
	case KindAccessory:
		switch r.AccessoryKind {
		case AccessoryHat, AccessoryToy:
		default:
			return fmt.Errorf("invalid accessory kind %q (must be hat or toy)", r.AccessoryKind)
		}
	default:
		return fmt.Errorf("invalid kind %q (must be clothes or accessory)", r.Kind)
	}
	return nil
}

// Applied reports whether the outfit already shows the pending item.
func (o MascotOutfit) Applied(p PendingWardrobe) bool {
	switch p.Kind {
	case KindClothes:
		return o.EquippedClothes == p.ItemID
	case KindAccessory:
		return o.EquippedAccessory == p.ItemID &&
			(p.AccessoryKind == "" || o.EquippedAccessoryKind == p.AccessoryKind)
	default:
		return false
	}
}
