package wardrobe

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrAssetNotFound is returned when an item id has no local asset.
var ErrAssetNotFound = errors.New("asset not found")

// AssetSource provides the local images a composition needs.
type AssetSource interface {
	// BaseAvatar returns the fallback bare avatar image.
	BaseAvatar(ctx context.Context) (Asset, error)
	// Item returns the catalog entry and image for itemID, or an error
	// wrapping ErrAssetNotFound.
	Item(ctx context.Context, itemID string) (Item, Asset, error)
}

// Asset is a local image ready for upload.
type Asset struct {
	Data        []byte
	ContentType string
}

// Item is one catalog entry.
type Item struct {
	ID            string        `yaml:"id"`
	Kind          Kind          `yaml:"kind"`
	AccessoryKind AccessoryKind `yaml:"accessory_kind,omitempty"`
	Description   string        `yaml:"description"`
	Asset         string        `yaml:"asset"` // path relative to the catalog file
}

// Catalog is the wardrobe item list loaded from a YAML file:
//
//	base_avatar: base.png
//	items:
//	  - id: shirt-blue
//	    kind: clothes
//	    description: a blue t-shirt
//	    asset: items/shirt-blue.png
type Catalog struct {
	BaseAvatarPath string `yaml:"base_avatar"`
	Items          []Item `yaml:"items"`

	dir   string
	index map[string]Item
}

// LoadCatalog reads and validates a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	c.dir = filepath.Dir(path)

	if err := c.buildIndex(); err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", path, err)
	}
	return &c, nil
}

func (c *Catalog) buildIndex() error {
	if c.BaseAvatarPath == "" {
		return errors.New("base_avatar is required")
	}
	c.index = make(map[string]Item, len(c.Items))
	for _, it := range c.Items {
		if _, dup := c.index[it.ID]; dup {
			return fmt.Errorf("duplicate item id %q", it.ID)
		}
		req := Request{Kind: it.Kind, ItemID: it.ID, AccessoryKind: it.AccessoryKind}
		if err := req.Validate(); err != nil {
			return fmt.Errorf("item %q: %w", it.ID, err)
		}
		if it.Asset == "" {
			return fmt.Errorf("item %q: asset is required", it.ID)
		}
		c.index[it.ID] = it
	}
	return nil
}

// Lookup returns the entry for itemID.
func (c *Catalog) Lookup(itemID string) (Item, bool) {
	it, ok := c.index[itemID]
	return it, ok
}

// BaseAvatar implements AssetSource.
func (c *Catalog) BaseAvatar(ctx context.Context) (Asset, error) {
	return c.read(c.BaseAvatarPath)
}

// Item implements AssetSource.
func (c *Catalog) Item(ctx context.Context, itemID string) (Item, Asset, error) {
	it, ok := c.Lookup(itemID)
	if !ok {
		return Item{}, Asset{}, fmt.Errorf("item %q: %w", itemID, ErrAssetNotFound)
	}
	a, err := c.read(it.Asset)
	if err != nil {
		return Item{}, Asset{}, fmt.Errorf("item %q: %w", itemID, err)
	}
	return it, a, nil
}

func (c *Catalog) read(rel string) (Asset, error) {
	path := rel
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.dir, rel)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Asset{}, fmt.Errorf("%s: %w", rel, ErrAssetNotFound)
		}
		return Asset{}, err
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return Asset{Data: data, ContentType: ct}, nil
}
