// Package scheduler queues conversion jobs, runs them on a bounded worker
// pool and answers state, progress and queue position queries.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/smpb05/janus-gateway/internal/model"
)

// Processor runs one job to completion.
type Processor interface {
	Process(ctx context.Context, job *model.Job, report func(progress string)) (*model.JobResult, error)
}

// Notifier receives job events, e.g. to push them to websocket clients.
type Notifier interface {
	JobProgress(job *model.Job)
	JobCompleted(job *model.Job)
	JobFailed(job *model.Job)
}

// Scheduler is the job queue service.
type Scheduler struct {
	store     JobStore
	backend   Backend
	processor Processor
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithNotifier registers a job event sink.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// New creates a scheduler.
func New(store JobStore, backend Backend, processor Processor, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:     store,
		backend:   backend,
		processor: processor,
		logger:    logger.With("component", "scheduler"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit records a new waiting job and queues it. Larger priorities run
// first. Rooms are not de-duplicated.
func (s *Scheduler) Submit(ctx context.Context, req model.JobRequest, priority int) (*model.Job, error) {
	seq, err := s.store.NextSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate sequence: %w", err)
	}

	job := &model.Job{
		ID:        uuid.New().String(),
		Seq:       seq,
		Request:   req,
		Priority:  priority,
		State:     model.JobStateWaiting,
		CreatedAt: s.now(),
	}
	if err := s.store.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	if err := s.backend.Enqueue(ctx, Task{JobID: job.ID, Seq: seq, Priority: priority}); err != nil {
		s.finish(context.WithoutCancel(ctx), job, nil, err)
		return nil, err
	}

	s.logger.Info("job queued", "job_id", job.ID, "room", req.Room, "priority", priority, "seq", seq)
	return job, nil
}

// Get returns the status of a job. Position is 1 plus the number of waiting
// jobs enqueued before it, and 0 once the job has left the queue.
func (s *Scheduler) Get(ctx context.Context, id string) (*model.JobStatus, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	status := &model.JobStatus{
		ID:       job.ID,
		Room:     job.Room(),
		State:    job.State,
		Progress: job.Progress,
		Reason:   job.FailureReason(),
		Artifact: job.Artifact(),
	}
	if job.Result != nil {
		status.URL = job.Result.URL
	}

	if job.State == model.JobStateWaiting {
		waiting, err := s.backend.Waiting(ctx)
		if err != nil {
			return nil, fmt.Errorf("list waiting jobs: %w", err)
		}
		status.Position = 1
		for _, t := range waiting {
			if t.Seq < job.Seq {
				status.Position++
			}
		}
	}
	return status, nil
}

// Waiting returns the ids of waiting jobs in enqueue order.
func (s *Scheduler) Waiting(ctx context.Context) ([]string, error) {
	tasks, err := s.backend.Waiting(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.JobID)
	}
	return ids, nil
}

// Run serves queued jobs until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("workers started")
	err := s.backend.Run(ctx, s.handle)
	s.logger.Info("workers stopped")
	return err
}

func (s *Scheduler) handle(ctx context.Context, task Task) error {
	job, err := s.store.Get(ctx, task.JobID)
	if err != nil {
		s.logger.Error("job record missing", "job_id", task.JobID, "error", err)
		return err
	}
	if job.State.Terminal() {
		return nil
	}

	logger := s.logger.With("job_id", job.ID, "room", job.Room())
	started := s.now()
	job.State = model.JobStateActive
	job.StartedAt = &started
	s.save(ctx, job)
	s.notifyProgress(job)
	logger.Info("job started")

	result, err := s.processor.Process(ctx, job, func(progress string) {
		job.Progress = progress
		s.save(ctx, job)
		s.notifyProgress(job)
	})
	s.finish(context.WithoutCancel(ctx), job, result, err)
	return err
}

// finish moves job into its terminal state.
func (s *Scheduler) finish(ctx context.Context, job *model.Job, result *model.JobResult, err error) {
	done := s.now()
	job.CompletedAt = &done
	logger := s.logger.With("job_id", job.ID, "room", job.Room())

	if err == nil && result == nil {
		err = errors.New("processor returned no result")
	}
	if err != nil {
		job.State = model.JobStateFailed
		job.Result = model.Failed(err.Error())
		s.save(ctx, job)
		logger.Error("job failed", "error", err)
		if s.notifier != nil {
			s.notifier.JobFailed(job)
		}
		return
	}

	job.State = model.JobStateCompleted
	job.Result = result
	job.Progress = result.Artifact
	s.save(ctx, job)
	logger.Info("job completed", "artifact", result.Artifact)
	if s.notifier != nil {
		s.notifier.JobCompleted(job)
	}
}

func (s *Scheduler) save(ctx context.Context, job *model.Job) {
	if err := s.store.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job", "job_id", job.ID, "error", err)
	}
}

func (s *Scheduler) notifyProgress(job *model.Job) {
	if s.notifier != nil {
		s.notifier.JobProgress(job)
	}
}
