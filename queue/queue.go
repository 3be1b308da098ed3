// Package queue implements the redis-backed ingest job queue: a list
// of pending job ids, a hash per job holding its state, and a pub/sub
// channel per job carrying progress events for live subscribers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	queueKey     = "jobs:queue"
	dlqKey       = "jobs:dlq"
	heartbeatKey = "worker:heartbeat"
	activeJobKey = "worker:active_job"
)

// Job statuses. Cancellation is cooperative: Cancel marks the job
// cancelling, the worker notices between artifacts and marks it
// cancelled.
const (
	StatusQueued     = "queued"
	StatusRunning    = "running"
	StatusDone       = "done"
	StatusError      = "error"
	StatusCancelling = "cancelling"
	StatusCancelled  = "cancelled"
)

// Event types published on job:<id>:events.
const (
	EventStart    = "start"
	EventProgress = "progress"
	EventLog      = "log"
	EventComplete = "complete"
	EventError    = "error"
	EventControl  = "control"
)

// Submission is the caller-supplied scope for an ingest job. An empty
// ArtifactPaths means reconcile everything on disk.
type Submission struct {
	ArtifactPaths []string          `json:"artifact_paths,omitempty"`
	Meta          map[string]string `json:"meta,omitempty"`
}

func (s Submission) empty() bool {
	return len(s.ArtifactPaths) == 0 && len(s.Meta) == 0
}

// Job is the redis hash for one queued or running job.
type Job struct {
	ID         string     `json:"id"`
	Type       string     `json:"job_type"`
	Status     string     `json:"status"`
	Done       int        `json:"done"`
	Total      int        `json:"total"`
	Attempts   int        `json:"attempts"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  string     `json:"created_at"`
	StartedAt  string     `json:"started_at,omitempty"`
	FinishedAt string     `json:"finished_at,omitempty"`
	Submission Submission `json:"submission,omitzero"`
}

// Event is one message on a job's pub/sub channel.
type Event struct {
	Type           string `json:"type"`
	JobID          string `json:"job_id"`
	Message        string `json:"message,omitempty"`
	Done           int    `json:"done,omitempty"`
	Total          int    `json:"total,omitempty"`
	TotalArtifacts int    `json:"total_artifacts,omitempty"`
	StartedAt      string `json:"started_at,omitempty"`
	Status         string `json:"status,omitempty"`
	Error          string `json:"error,omitempty"`
	Action         string `json:"action,omitempty"`
}

// Queue wraps the redis client with the job-queue protocol.
type Queue struct {
	rdb    *goredis.Client
	logger *zap.Logger
}

// New connects to redis and verifies the connection with a ping.
func New(addr string, logger *zap.Logger) (*Queue, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Queue{rdb: rdb, logger: logger}, nil
}

func (q *Queue) Close() error {
	return q.rdb.Close()
}

func jobKey(id string) string    { return "job:" + id }
func eventsKey(id string) string { return "job:" + id + ":events" }

// Enqueue creates the job hash and pushes the id onto the queue.
func (q *Queue) Enqueue(ctx context.Context, jobType string, sub Submission) (string, error) {
	id := uuid.NewString()
	fields := map[string]any{
		"status":     StatusQueued,
		"job_type":   jobType,
		"done":       0,
		"total":      0,
		"attempts":   0,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}
	if !sub.empty() {
		raw, err := json.Marshal(sub)
		if err != nil {
			return "", fmt.Errorf("encode submission: %w", err)
		}
		fields["submission"] = string(raw)
	}
	if err := q.rdb.HSet(ctx, jobKey(id), fields).Err(); err != nil {
		return "", fmt.Errorf("init job %s: %w", id, err)
	}
	if err := q.rdb.LPush(ctx, queueKey, id).Err(); err != nil {
		return "", fmt.Errorf("push job %s: %w", id, err)
	}
	q.logger.Info("job enqueued", zap.String("job_id", id), zap.String("job_type", jobType))
	return id, nil
}

// Dequeue blocks up to timeout for the next job id. Returns "" when
// the timeout elapses with an empty queue.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	vals, err := q.rdb.BRPop(ctx, timeout, queueKey).Result()
	if err == goredis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("pop job: %w", err)
	}
	// BRPOP returns [key, value].
	return vals[1], nil
}

// Job loads a job hash. Returns (nil, nil) for unknown ids.
func (q *Queue) Job(ctx context.Context, id string) (*Job, error) {
	fields, err := q.rdb.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return jobFromHash(id, fields), nil
}

func jobFromHash(id string, fields map[string]string) *Job {
	atoi := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	job := &Job{
		ID:         id,
		Type:       fields["job_type"],
		Status:     fields["status"],
		Done:       atoi(fields["done"]),
		Total:      atoi(fields["total"]),
		Attempts:   atoi(fields["attempts"]),
		Error:      fields["error"],
		CreatedAt:  fields["created_at"],
		StartedAt:  fields["started_at"],
		FinishedAt: fields["finished_at"],
	}
	if raw := fields["submission"]; raw != "" {
		// A hash written by an older worker may hold junk here; a
		// blank submission just means "reconcile everything".
		_ = json.Unmarshal([]byte(raw), &job.Submission)
	}
	return job
}

// SetStatus updates the status field. Entering running also stamps
// started_at.
func (q *Queue) SetStatus(ctx context.Context, id, status string) error {
	fields := map[string]any{"status": status}
	if status == StatusRunning {
		fields["started_at"] = time.Now().UTC().Format(time.RFC3339)
	}
	if err := q.rdb.HSet(ctx, jobKey(id), fields).Err(); err != nil {
		return fmt.Errorf("set status %s=%s: %w", id, status, err)
	}
	return nil
}

// PublishStart announces how many artifacts the job will walk. Sent
// once, after the scan, so subscribers can size their progress bars.
func (q *Queue) PublishStart(ctx context.Context, id string, total int) error {
	startedAt, err := q.rdb.HGet(ctx, jobKey(id), "started_at").Result()
	if err != nil && err != goredis.Nil {
		return fmt.Errorf("read started_at %s: %w", id, err)
	}
	return q.publish(ctx, id, Event{Type: EventStart, TotalArtifacts: total, StartedAt: startedAt})
}

// SetProgress updates the counters and publishes a progress event.
func (q *Queue) SetProgress(ctx context.Context, id string, done, total int) error {
	if err := q.rdb.HSet(ctx, jobKey(id), "done", done, "total", total).Err(); err != nil {
		return fmt.Errorf("set progress %s: %w", id, err)
	}
	return q.publish(ctx, id, Event{Type: EventProgress, Done: done, Total: total})
}

// FinishJob records a terminal status and publishes the matching
// complete or error event.
func (q *Queue) FinishJob(ctx context.Context, id, status, errMsg string) error {
	fields := map[string]any{
		"status":      status,
		"finished_at": time.Now().UTC().Format(time.RFC3339),
	}
	if errMsg != "" {
		fields["error"] = errMsg
	}
	if err := q.rdb.HSet(ctx, jobKey(id), fields).Err(); err != nil {
		return fmt.Errorf("finish job %s: %w", id, err)
	}
	if status == StatusError {
		return q.publish(ctx, id, Event{Type: EventError, Status: status, Error: errMsg})
	}
	return q.publish(ctx, id, Event{Type: EventComplete, Status: status})
}

// RecordFailure bumps the attempt counter and parks the job id on the
// dead-letter queue, then marks the job errored.
func (q *Queue) RecordFailure(ctx context.Context, id, errMsg string) error {
	if err := q.rdb.HIncrBy(ctx, jobKey(id), "attempts", 1).Err(); err != nil {
		return fmt.Errorf("bump attempts %s: %w", id, err)
	}
	if err := q.rdb.LPush(ctx, dlqKey, id).Err(); err != nil {
		return fmt.Errorf("push dlq %s: %w", id, err)
	}
	return q.FinishJob(ctx, id, StatusError, errMsg)
}

// Cancel requests cooperative cancellation of a queued or running job.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	job, err := q.Job(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("unknown job %s", id)
	}
	switch job.Status {
	case StatusQueued, StatusRunning:
	default:
		return fmt.Errorf("job %s is %s, cannot cancel", id, job.Status)
	}
	if err := q.SetStatus(ctx, id, StatusCancelling); err != nil {
		return err
	}
	return q.publish(ctx, id, Event{Type: EventControl, Action: "cancelling"})
}

// PublishLog sends a log line to the job's event channel.
func (q *Queue) PublishLog(ctx context.Context, id, message string) error {
	return q.publish(ctx, id, Event{Type: EventLog, Message: message})
}

func (q *Queue) publish(ctx context.Context, id string, ev Event) error {
	ev.JobID = id
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := q.rdb.Publish(ctx, eventsKey(id), raw).Err(); err != nil {
		return fmt.Errorf("publish event for %s: %w", id, err)
	}
	return nil
}

// Subscribe streams a job's events until ctx is cancelled. The caller
// must call the returned cancel func when done.
func (q *Queue) Subscribe(ctx context.Context, id string) (<-chan Event, func(), error) {
	sub := q.rdb.Subscribe(ctx, eventsKey(id))

	// confirm the subscription before claiming a live stream
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", id, err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					q.logger.Warn("bad job event payload",
						zap.String("job_id", id), zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	stop := func() { _ = sub.Close() }
	return out, stop, nil
}

// Heartbeat refreshes the worker liveness key.
func (q *Queue) Heartbeat(ctx context.Context) error {
	return q.rdb.Set(ctx, heartbeatKey, time.Now().UTC().Format(time.RFC3339), 0).Err()
}

// HeartbeatAge reports how long ago the worker last checked in. The
// bool is false when no worker has ever run.
func (q *Queue) HeartbeatAge(ctx context.Context) (time.Duration, bool, error) {
	raw, err := q.rdb.Get(ctx, heartbeatKey).Result()
	if err == goredis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read heartbeat: %w", err)
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, false, fmt.Errorf("parse heartbeat %q: %w", raw, err)
	}
	return time.Since(ts), true, nil
}

// SetActiveJob records which job the worker is currently processing.
func (q *Queue) SetActiveJob(ctx context.Context, id string) error {
	if id == "" {
		return q.rdb.Del(ctx, activeJobKey).Err()
	}
	return q.rdb.Set(ctx, activeJobKey, id, 0).Err()
}

// ReapStale fails a running job whose worker stopped heartbeating.
// Returns the reaped job id, or "" when nothing was stale.
func (q *Queue) ReapStale(ctx context.Context, threshold time.Duration) (string, error) {
	age, ok, err := q.HeartbeatAge(ctx)
	if err != nil || !ok || age < threshold {
		return "", err
	}
	id, err := q.rdb.Get(ctx, activeJobKey).Result()
	if err == goredis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read active job: %w", err)
	}
	job, err := q.Job(ctx, id)
	if err != nil {
		return "", err
	}
	if job == nil || (job.Status != StatusRunning && job.Status != StatusCancelling) {
		return "", nil
	}
	msg := fmt.Sprintf("worker heartbeat stale for %s", age.Round(time.Second))
	if err := q.FinishJob(ctx, id, StatusError, msg); err != nil {
		return "", err
	}
	if err := q.SetActiveJob(ctx, ""); err != nil {
		return "", err
	}
	q.logger.Warn("reaped stale job", zap.String("job_id", id), zap.Duration("age", age))
	return id, nil
}
