package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runger/storykit/internal/backend"
	"github.com/runger/storykit/internal/config"
	"github.com/runger/storykit/internal/wardrobe"
)

type nopPrefetcher struct {
	mu   sync.Mutex
	urls []string
}

func (p *nopPrefetcher) Prefetch(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.urls = append(p.urls, url)
	return nil
}

func testPaths(t *testing.T) *config.Paths {
	t.Helper()
	dir := t.TempDir()
	return &config.Paths{
		ConfigDir: filepath.Join(dir, "config"),
		DataDir:   filepath.Join(dir, "data"),
		CacheDir:  filepath.Join(dir, "cache"),
	}
}

func writeCatalog(t *testing.T, paths *config.Paths) {
	t.Helper()
	dir := filepath.Dir(paths.CatalogFile())
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.png"), []byte("base"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shirt.png"), []byte("shirt"), 0o644))
	catalog := "base_avatar: base.png\nitems:\n  - id: shirt-blue\n    kind: clothes\n    description: a blue shirt\n    asset: shirt.png\n"
	require.NoError(t, os.WriteFile(paths.CatalogFile(), []byte(catalog), 0o644))
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestNew_OpensDefaults(t *testing.T) {
	paths := testPaths(t)
	a, err := New(Options{Config: config.DefaultConfig(), Paths: paths})
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Store())
	assert.NotNil(t, a.Backend())
	assert.FileExists(t, paths.DatabaseFile())
}

func TestWardrobe_MissingCatalog(t *testing.T) {
	a, err := New(Options{Config: config.DefaultConfig(), Paths: testPaths(t), Backend: backend.NewMemory()})
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Wardrobe()
	assert.Error(t, err)

	// Progress reports without a wardrobe are dropped quietly.
	a.onProgress(100, 3)
}

func TestReader_ProgressTriggersWardrobe(t *testing.T) {
	paths := testPaths(t)
	writeCatalog(t, paths)

	mem := backend.NewMemory()
	mem.PutBook(backend.Book{ID: "b1", Title: "Moon", PageCount: 4})

	prefetcher := &nopPrefetcher{}
	a, err := New(Options{
		Config:     config.DefaultConfig(),
		Paths:      paths,
		Backend:    mem,
		Prefetcher: prefetcher,
	})
	require.NoError(t, err)
	defer a.Close()

	orch, err := a.Wardrobe()
	require.NoError(t, err)
	_, err = orch.Request(context.Background(), wardrobe.Request{Kind: wardrobe.KindClothes, ItemID: "shirt-blue"})
	require.NoError(t, err)

	r := a.NewReader(nil)
	defer r.Close()
	r.Open("b1", false)
	r.DeliverBook(backend.Book{ID: "b1", Title: "Moon", PageCount: 4})
	r.Settle()

	r.SetPage(3)

	require.Eventually(t, func() bool {
		outfit, err := orch.Outfits().Load(context.Background())
		return err == nil && outfit.EquippedClothes == "shirt-blue"
	}, 2*time.Second, 10*time.Millisecond)

	pending, err := orch.Queue().Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestJobs_UsesBackend(t *testing.T) {
	mem := backend.NewMemory()
	a, err := New(Options{Config: config.DefaultConfig(), Paths: testPaths(t), Backend: mem})
	require.NoError(t, err)
	defer a.Close()

	job, err := a.Jobs().Submit(context.Background(), backend.StoryJobParams{Prompt: "a fox", PageCount: 3})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
}
