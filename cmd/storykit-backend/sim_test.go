package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runger/storykit/internal/backend"
	"github.com/runger/storykit/internal/storyjob"
)

func TestAdvance_FollowsTransitionTable(t *testing.T) {
	job := backend.StoryJob{ID: "j1", Status: backend.JobQueued}
	for i := 0; i < 10 && !storyjob.Terminal(job.Status); i++ {
		next := advance(job)
		if next.Status != job.Status {
			assert.True(t, storyjob.CanTransition(job.Status, next.Status), "%s -> %s", job.Status, next.Status)
		}
		assert.GreaterOrEqual(t, next.Progress, job.Progress)
		job = next
	}
	assert.Equal(t, backend.JobComplete, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, "book-j1", job.BookID)
}

func TestSimulator_PublishesBook(t *testing.T) {
	mem := backend.NewMemory()
	ctx := context.Background()
	job, err := mem.SubmitStoryJob(ctx, backend.StoryJobParams{Prompt: "fox", PageCount: 3})
	require.NoError(t, err)

	sim := newSimulator(mem, slog.Default())
	for i := 0; i < 10; i++ {
		sim.tick(ctx)
	}

	got, err := mem.GetStoryJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, backend.JobComplete, got.Status)

	book, err := mem.GetBook(ctx, got.BookID)
	require.NoError(t, err)
	assert.Equal(t, 3, book.PageCount)
	page, err := mem.GetBookPage(ctx, got.BookID, 2)
	require.NoError(t, err)
	assert.Contains(t, page.Text, "Page 3")
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	seed := `books:
  - id: moon-42
    title: Goodnight Fox
    last_read: 1
    pages:
      - text: one
      - text: two
        image_url: https://example.com/2.png
`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o644))

	mem := backend.NewMemory()
	n, err := loadSeed(mem, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	book, err := mem.GetBook(context.Background(), "moon-42")
	require.NoError(t, err)
	assert.Equal(t, 2, book.PageCount)
	assert.Equal(t, 1, book.LastReadPageIndex)

	page, err := mem.GetBookPage(context.Background(), "moon-42", 1)
	require.NoError(t, err)
	assert.True(t, page.HasImage())
}

func TestLoadSeed_Invalid(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("books:\n  - title: no id\n"), 0o644))

	_, err := loadSeed(backend.NewMemory(), bad)
	assert.Error(t, err)

	_, err = loadSeed(backend.NewMemory(), filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
