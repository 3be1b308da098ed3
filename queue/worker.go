package queue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Store is the job-state surface the worker needs. *Queue implements
// it against redis.
type Store interface {
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)
	Job(ctx context.Context, id string) (*Job, error)
	SetStatus(ctx context.Context, id, status string) error
	SetProgress(ctx context.Context, id string, done, total int) error
	FinishJob(ctx context.Context, id, status, errMsg string) error
	RecordFailure(ctx context.Context, id, errMsg string) error
	PublishLog(ctx context.Context, id, message string) error
	PublishStart(ctx context.Context, id string, total int) error
	Heartbeat(ctx context.Context) error
	SetActiveJob(ctx context.Context, id string) error
}

// Reporter lets a handler stream progress into the job's event
// channel without knowing about redis.
type Reporter struct {
	store    Store
	jobID    string
	stopping *atomic.Bool
}

func (r *Reporter) Log(ctx context.Context, message string) {
	_ = r.store.PublishLog(ctx, r.jobID, message)
}

func (r *Reporter) Progress(ctx context.Context, done, total int) {
	_ = r.store.SetProgress(ctx, r.jobID, done, total)
}

// Start announces the artifact count for the run.
func (r *Reporter) Start(ctx context.Context, total int) {
	_ = r.store.PublishStart(ctx, r.jobID, total)
}

// Stopping reports whether a cancel request has landed. Handlers check
// it between artifacts; the artifact in flight always runs to
// completion so no partial document is left behind.
func (r *Reporter) Stopping() bool {
	return r.stopping != nil && r.stopping.Load()
}

// Handler runs one job. Cancellation is cooperative: the handler polls
// rep.Stopping between units of work and returns early when it fires.
// ctx is only cancelled on process shutdown.
type Handler func(ctx context.Context, job *Job, rep *Reporter) error

// Worker drains the queue one job at a time.
type Worker struct {
	store    Store
	handlers map[string]Handler
	logger   *zap.Logger

	heartbeatInterval time.Duration
	popTimeout        time.Duration
	cancelPoll        time.Duration
}

type WorkerOptions struct {
	HeartbeatInterval time.Duration
	PopTimeout        time.Duration
	CancelPoll        time.Duration
}

func NewWorker(store Store, opts WorkerOptions, logger *zap.Logger) *Worker {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = time.Second
	}
	if opts.CancelPoll <= 0 {
		opts.CancelPoll = 500 * time.Millisecond
	}
	return &Worker{
		store:             store,
		handlers:          map[string]Handler{},
		logger:            logger,
		heartbeatInterval: opts.HeartbeatInterval,
		popTimeout:        opts.PopTimeout,
		cancelPoll:        opts.CancelPoll,
	}
}

// Handle registers the handler for a job type.
func (w *Worker) Handle(jobType string, h Handler) {
	w.handlers[jobType] = h
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	go w.heartbeatLoop(ctx)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, err := w.store.Dequeue(ctx, w.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("dequeue failed", zap.Error(err))
			continue
		}
		if id == "" {
			continue
		}
		w.runJob(ctx, id)
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()
	_ = w.store.Heartbeat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Heartbeat(ctx); err != nil {
				w.logger.Warn("heartbeat failed", zap.Error(err))
			}
		}
	}
}

func (w *Worker) runJob(ctx context.Context, id string) {
	job, err := w.store.Job(ctx, id)
	if err != nil {
		w.logger.Error("load job failed", zap.String("job_id", id), zap.Error(err))
		return
	}
	if job == nil {
		w.logger.Warn("dequeued unknown job", zap.String("job_id", id))
		return
	}
	if job.Status == StatusCancelling || job.Status == StatusCancelled {
		_ = w.store.FinishJob(ctx, id, StatusCancelled, "")
		return
	}

	handler, ok := w.handlers[job.Type]
	if !ok {
		_ = w.store.RecordFailure(ctx, id, fmt.Sprintf("no handler for job type %q", job.Type))
		return
	}

	w.logger.Info("job started", zap.String("job_id", id), zap.String("job_type", job.Type))
	if err := w.store.SetStatus(ctx, id, StatusRunning); err != nil {
		w.logger.Error("mark running failed", zap.String("job_id", id), zap.Error(err))
		return
	}
	_ = w.store.SetActiveJob(ctx, id)
	defer func() { _ = w.store.SetActiveJob(ctx, "") }()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	stopping := w.watchForCancel(watchCtx, id)

	runErr := handler(ctx, job, &Reporter{store: w.store, jobID: id, stopping: stopping})

	switch {
	case stopping.Load():
		_ = w.store.FinishJob(ctx, id, StatusCancelled, "")
		w.logger.Info("job cancelled", zap.String("job_id", id))
	case runErr != nil:
		_ = w.store.RecordFailure(ctx, id, runErr.Error())
		w.logger.Error("job failed", zap.String("job_id", id), zap.Error(runErr))
	default:
		_ = w.store.FinishJob(ctx, id, StatusDone, "")
		w.logger.Info("job done", zap.String("job_id", id))
	}
}

// watchForCancel polls the job status and raises the stopping flag
// when a cancel request lands. It never cancels the handler's context:
// the handler drains the flag between artifacts so the artifact in
// flight is embedded and recorded before the job winds down.
func (w *Worker) watchForCancel(ctx context.Context, id string) *atomic.Bool {
	stopping := new(atomic.Bool)
	go func() {
		ticker := time.NewTicker(w.cancelPoll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				job, err := w.store.Job(ctx, id)
				if err != nil || job == nil {
					continue
				}
				if job.Status == StatusCancelling {
					stopping.Store(true)
					return
				}
			}
		}
	}()
	return stopping
}
