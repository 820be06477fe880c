package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/runger/storykit/internal/backend"
	"github.com/runger/storykit/internal/storyjob"
)

// progressStep is how far a processing job moves per tick.
const progressStep = 25

// simulator walks submitted story jobs through their lifecycle and
// publishes a book for each one that completes.
type simulator struct {
	mem    *backend.Memory
	logger *slog.Logger
}

func newSimulator(mem *backend.Memory, logger *slog.Logger) *simulator {
	return &simulator{mem: mem, logger: logger}
}

func (s *simulator) run(ctx context.Context, step time.Duration) {
	ticker := time.NewTicker(step)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick advances every unfinished job by one step:
// queued, generating_story, generating_images in progressStep increments,
// then complete with a published book.
func (s *simulator) tick(ctx context.Context) {
	for _, id := range s.mem.JobIDs() {
		job, err := s.mem.GetStoryJob(ctx, id)
		if err != nil || storyjob.Terminal(job.Status) {
			continue
		}

		next := advance(job)
		if next.Status == backend.JobComplete {
			s.publish(next.BookID, job.ReservedCredits)
		}
		err = s.mem.UpdateJob(id, func(j *backend.StoryJob) {
			j.Status, j.Progress, j.BookID = next.Status, next.Progress, next.BookID
		})
		if err != nil {
			s.logger.Warn("job update failed", "job_id", id, "error", err)
			continue
		}
		s.logger.Debug("job advanced", "job_id", id, "status", next.Status, "progress", next.Progress)
	}
}

// advance returns job one step further along.
func advance(job backend.StoryJob) backend.StoryJob {
	switch job.Status {
	case backend.JobQueued:
		job.Status = backend.JobGeneratingStory
	case backend.JobGeneratingStory:
		job.Progress = min(job.Progress+progressStep, 50)
		if job.Progress == 50 {
			job.Status = backend.JobGeneratingImages
		}
	case backend.JobGeneratingImages:
		job.Progress = min(job.Progress+progressStep, 100)
		if job.Progress == 100 {
			job.Status = backend.JobComplete
			job.BookID = "book-" + job.ID
		}
	}
	return job
}

func (s *simulator) publish(bookID string, pages int) {
	pages = max(pages, 1)
	s.mem.PutBook(backend.Book{ID: bookID, Title: "A new story", PageCount: pages})
	for i := 0; i < pages; i++ {
		s.mem.PutPage(backend.Page{BookID: bookID, Index: i, Text: fmt.Sprintf("Page %d of a new story.", i+1)})
	}
	s.logger.Info("book published", "book_id", bookID, "pages", pages)
}
