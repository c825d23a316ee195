package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/inkworks/easel/internal/store"
)

var ErrQueueFull = errors.New("renderer queue is full")

// Renderer manages the serial simulation of generation jobs. Jobs whose
// prompt contains "fail" are rejected, which gives the demo and tests a
// deterministic failure path.
type Renderer struct {
	jobs   *store.JobStore
	assets *store.AssetStore
	broker *Broker
	logger *slog.Logger

	steps     int
	stepDelay time.Duration

	queue chan string
	done  chan struct{}
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithProgress sets the number of intermediate progress frames and the pause
// between them.
func WithProgress(steps int, delay time.Duration) Option {
	return func(r *Renderer) {
		r.steps = steps
		r.stepDelay = delay
	}
}

// NewRenderer creates a new Renderer.
func NewRenderer(jobs *store.JobStore, assets *store.AssetStore, broker *Broker, logger *slog.Logger, opts ...Option) *Renderer {
	r := &Renderer{
		jobs:      jobs,
		assets:    assets,
		broker:    broker,
		logger:    logger,
		steps:     4,
		stepDelay: 250 * time.Millisecond,
		queue:     make(chan string, 100),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enqueue adds a job ID to the processing queue.
func (r *Renderer) Enqueue(jobID string) error {
	select {
	case r.queue <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start runs the serial worker loop. Blocks until context is cancelled.
func (r *Renderer) Start(ctx context.Context) {
	defer close(r.done)
	r.logger.Info("renderer started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("renderer stopping")
			return
		case jobID := <-r.queue:
			r.processJob(ctx, jobID)
		}
	}
}

// Done returns a channel that is closed once Start has returned.
func (r *Renderer) Done() <-chan struct{} {
	return r.done
}

// RecoverJobs finds interrupted jobs (status=queued or processing) and
// re-enqueues them.
func (r *Renderer) RecoverJobs(ctx context.Context) error {
	processing, err := r.jobs.ListByStatus(ctx, store.JobStatusProcessing)
	if err != nil {
		return err
	}
	queued, err := r.jobs.ListByStatus(ctx, store.JobStatusQueued)
	if err != nil {
		return err
	}

	for _, job := range append(processing, queued...) {
		r.logger.Info("recovering job", "job_id", job.ID, "status", job.Status)
		if err := r.Enqueue(job.ID); err != nil {
			r.logger.Warn("failed to enqueue recovered job", "job_id", job.ID, "error", err)
		}
	}
	return nil
}

// processJob runs one job end to end. Only the Start loop calls it, so
// jobs never render concurrently.
func (r *Renderer) processJob(ctx context.Context, jobID string) {
	job, err := r.jobs.GetByID(ctx, jobID)
	if err != nil {
		r.logger.Error("failed to load job for rendering", "job_id", jobID, "error", err)
		return
	}

	zero := 0
	r.broker.Publish(job.ID, newFrame(FrameTypeQueued, job.ID, Payload{
		Status:   "queued",
		Progress: &zero,
	}))

	if err := r.jobs.UpdateStatus(ctx, job.ID, store.JobStatusProcessing, nil); err != nil {
		r.logger.Error("failed to mark job processing", "job_id", job.ID, "error", err)
	}

	for i := 1; i <= r.steps; i++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.stepDelay):
		}
		progress := i * 100 / (r.steps + 1)
		r.broker.Publish(job.ID, newFrame(FrameTypeProcessing, job.ID, Payload{
			Status:   "processing",
			Progress: &progress,
		}))
	}

	if strings.Contains(strings.ToLower(job.Prompt), "fail") {
		r.failJob(ctx, job, "prompt rejected by safety filter")
		return
	}
	r.completeJob(ctx, job)
}

func (r *Renderer) completeJob(ctx context.Context, job *store.Job) {
	images := make([]Image, 0, job.Count)
	for i := 0; i < job.Count; i++ {
		asset, err := r.assets.Create(ctx, &store.Asset{
			AlbumID:     job.AlbumID,
			JobID:       job.ID,
			URL:         fmt.Sprintf("https://assets.easel.local/%s/%s-%d.png", job.AlbumID, job.ID, i),
			Width:       1024,
			Height:      1024,
			Seed:        rand.Int63(),
			ContentType: "image/png",
			Description: job.Prompt,
		})
		if err != nil {
			r.logger.Error("failed to persist asset", "job_id", job.ID, "error", err)
			r.failJob(ctx, job, "failed to store generated assets")
			return
		}
		images = append(images, Image{
			URL:         asset.URL,
			Width:       asset.Width,
			Height:      asset.Height,
			Seed:        asset.Seed,
			ContentType: asset.ContentType,
		})
	}

	if err := r.jobs.UpdateStatus(ctx, job.ID, store.JobStatusCompleted, nil); err != nil {
		r.logger.Error("failed to mark job completed", "job_id", job.ID, "error", err)
	}

	full := 100
	r.broker.Publish(job.ID, newFrame(FrameTypeCompleted, job.ID, Payload{
		Status:   "completed",
		Progress: &full,
		Images:   images,
	}))
	r.broker.Close(job.ID)
	r.logger.Info("job completed", "job_id", job.ID, "images", len(images))
}

func (r *Renderer) failJob(ctx context.Context, job *store.Job, msg string) {
	if err := r.jobs.UpdateStatus(ctx, job.ID, store.JobStatusFailed, &msg); err != nil {
		r.logger.Error("failed to mark job failed", "job_id", job.ID, "error", err)
	}
	r.broker.Publish(job.ID, newFrame(FrameTypeFailed, job.ID, Payload{
		Status:  "failed",
		Message: msg,
	}))
	r.broker.Close(job.ID)
	r.logger.Info("job failed", "job_id", job.ID, "reason", msg)
}
