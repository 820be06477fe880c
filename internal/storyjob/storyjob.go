// Package storyjob consumes the backend's story generation jobs: it
// submits them, follows their status and yields the finished book.
package storyjob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/runger/storykit/internal/backend"
)

var (
	// ErrJobFailed is returned by Await when the job ends in failed.
	ErrJobFailed = errors.New("story job failed")
	// ErrJobCanceled is returned by Await when the job ends in canceled.
	ErrJobCanceled = errors.New("story job canceled")
)

// stage orders the forward path; failed and canceled sit outside it.
var stage = map[backend.JobStatus]int{
	backend.JobQueued:           0,
	backend.JobGeneratingStory:  1,
	backend.JobGeneratingImages: 2,
	backend.JobComplete:         3,
}

// Terminal reports whether no transition leaves s.
func Terminal(s backend.JobStatus) bool {
	switch s {
	case backend.JobComplete, backend.JobFailed, backend.JobCanceled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func Valid(s backend.JobStatus) bool {
	_, ok := stage[s]
	return ok || s == backend.JobFailed || s == backend.JobCanceled
}

// CanTransition reports whether the backend may move a job from one
// status to another: one step along queued, generating_story,
// generating_images, complete, or from any non-terminal status to
// failed or canceled.
func CanTransition(from, to backend.JobStatus) bool {
	if !Valid(from) || !Valid(to) || Terminal(from) {
		return false
	}
	if to == backend.JobFailed || to == backend.JobCanceled {
		return true
	}
	return stage[to] == stage[from]+1
}

// Tracker submits and follows story jobs.
type Tracker struct {
	client   backend.Client
	logger   *slog.Logger
	interval time.Duration
}

// NewTracker creates a Tracker polling every interval (a non-positive
// interval uses backend.DefaultPollInterval).
func NewTracker(client backend.Client, logger *slog.Logger, interval time.Duration) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{client: client, logger: logger, interval: interval}
}

// Submit validates params and starts a job.
func (t *Tracker) Submit(ctx context.Context, params backend.StoryJobParams) (backend.StoryJob, error) {
	if params.Prompt == "" {
		return backend.StoryJob{}, errors.New("prompt is required")
	}
	if params.PageCount < 0 {
		return backend.StoryJob{}, fmt.Errorf("invalid page count %d", params.PageCount)
	}

	job, err := t.client.SubmitStoryJob(ctx, params)
	if err != nil {
		return backend.StoryJob{}, fmt.Errorf("failed to submit story job: %w", err)
	}
	t.logger.Info("story job submitted", "job_id", job.ID, "reserved_credits", job.ReservedCredits)
	return job, nil
}

// Await follows jobID until it ends and returns the resulting book id.
// Every delivered status replaces the previous one, with no grace period;
// onUpdate, if set, sees each of them. A status the transition table does
// not allow is logged and still taken as the freshest state.
func (t *Tracker) Await(ctx context.Context, jobID string, onUpdate func(backend.StoryJob)) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var last *backend.StoryJob
	for job := range backend.WatchStoryJob(ctx, t.client, t.interval, jobID) {
		if last != nil && last.Status != job.Status && !CanTransition(last.Status, job.Status) {
			t.logger.Warn("unexpected story job transition",
				"job_id", jobID,
				"from", last.Status,
				"to", job.Status,
			)
		}
		j := job
		last = &j
		if onUpdate != nil {
			onUpdate(job)
		}

		switch job.Status {
		case backend.JobComplete:
			if job.BookID == "" {
				return "", fmt.Errorf("story job %s completed without a book", jobID)
			}
			t.logger.Info("story job complete", "job_id", jobID, "book_id", job.BookID)
			return job.BookID, nil
		case backend.JobFailed:
			return "", fmt.Errorf("%w: %s", ErrJobFailed, job.Error)
		case backend.JobCanceled:
			return "", ErrJobCanceled
		}
	}
	return "", ctx.Err()
}
