// Package jobs dispatches background work: ranking compute, reindex hints,
// and housekeeping purges.
//
// Enqueue is best-effort with at-most-once semantics: duplicate enqueues of
// the same (task, payload) within the dedup window are coalesced, and a
// failing queue backend degrades to an in-process worker pool. Workers must
// be idempotent; there is no exactly-once guarantee.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/contextcache/contextcache/internal/storage"
)

// Task names understood by the core handlers.
const (
	TaskReindexProject   = "reindex_project"
	TaskComputeRanking   = "compute_ranking"
	TaskPurgeLoginEvents = "purge_old_login_events"
	TaskPurgeSessions    = "purge_expired_sessions"
)

// Job is a named task with a small payload.
type Job struct {
	ID      string
	Task    string
	Payload string
}

// Handler executes one task kind. Handlers must be idempotent.
type Handler func(ctx context.Context, payload string) error

// Backend is a durable FIFO with at-least-once delivery (external
// collaborator). The in-process pool takes over when it errors.
type Backend interface {
	Push(ctx context.Context, job Job) error
	Healthy(ctx context.Context) bool
}

// Pool tuning defaults.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
	DedupWindow      = 60 * time.Second
	maxRetries       = 3 // waits of 1s, 5s, 25s after the first run
)

var droppedJobs = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "contextcache_jobs_dropped_total",
	Help: "Jobs dropped because the fallback queue was full.",
})

var fallbackEnqueues = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "contextcache_jobs_fallback_total",
	Help: "Jobs routed to the in-process pool because the backend failed.",
})

func init() {
	prometheus.MustRegister(droppedJobs, fallbackEnqueues)
}

// Dispatcher enqueues jobs and owns all retry policy so handlers stay pure.
type Dispatcher struct {
	backend  Backend // nil means fallback-only
	store    storage.Storage
	log      *slog.Logger
	handlers map[string]Handler

	queueSize int
	retry     func() backoff.BackOff // per-job retry policy

	mu      sync.Mutex
	pending []Job                  // fallback queue, oldest first
	running map[string]bool        // job id -> started
	recent  map[string]dedupEntry  // dedup key -> first job in window
	wake    chan struct{}
	stopped bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// dedupEntry remembers the first job enqueued for a (task, payload) pair so
// coalesced enqueues can report its id.
type dedupEntry struct {
	id string
	at time.Time
}

// Options configures the dispatcher pool.
type Options struct {
	Backend   Backend
	Workers   int
	QueueSize int
}

// NewDispatcher builds a dispatcher and starts its fallback worker pool.
func NewDispatcher(store storage.Storage, log *slog.Logger, opts Options) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		backend:  opts.Backend,
		store:    store,
		log:      log,
		handlers: make(map[string]Handler),
		running:  make(map[string]bool),
		recent:   make(map[string]dedupEntry),
		wake:     make(chan struct{}, 1),
		cancel:   cancel,
		retry:    retryPolicy,
	}
	d.queueSize = opts.QueueSize
	if d.queueSize <= 0 {
		d.queueSize = DefaultQueueSize
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	return d
}

// Register binds a handler to a task name. Must be called before Enqueue
// for that task.
func (d *Dispatcher) Register(task string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[task] = h
}

// Enqueue pushes a job, never blocking on completion. Duplicate
// (task, payload) pairs inside the dedup window return the original job id.
// Backend failure falls back to the in-process pool; a saturated fallback
// queue drops its oldest pending job and records a metric.
func (d *Dispatcher) Enqueue(ctx context.Context, task, payload string) (string, error) {
	job := Job{ID: uuid.NewString(), Task: task, Payload: payload}

	d.mu.Lock()
	key := task + "\x00" + payload
	if e, ok := d.recent[key]; ok && time.Since(e.at) < DedupWindow {
		d.mu.Unlock()
		return e.id, nil
	}
	d.recent[key] = dedupEntry{id: job.ID, at: time.Now()}
	d.gcRecentLocked()
	d.mu.Unlock()

	if d.backend != nil {
		err := d.backend.Push(ctx, job)
		if err == nil {
			return job.ID, nil
		}
		d.log.Warn("job backend unavailable, falling back to in-process pool",
			"task", task, "error", err)
		fallbackEnqueues.Inc()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return "", fmt.Errorf("dispatcher stopped")
	}
	if len(d.pending) >= d.queueSize {
		d.pending = d.pending[1:]
		droppedJobs.Inc()
	}
	d.pending = append(d.pending, job)
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return job.ID, nil
}

// Cancel removes a job that has not started yet. A running job runs to
// completion. Reports whether the job was removed.
func (d *Dispatcher) Cancel(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, job := range d.pending {
		if job.ID == id {
			d.pending = append(d.pending[:i], d.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Healthy reports whether the durable backend is reachable. Fallback-only
// dispatchers are always healthy.
func (d *Dispatcher) Healthy(ctx context.Context) bool {
	if d.backend == nil {
		return true
	}
	return d.backend.Healthy(ctx)
}

// Close stops the pool after in-flight jobs finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) gcRecentLocked() {
	if len(d.recent) < 1024 {
		return
	}
	cutoff := time.Now().Add(-DedupWindow)
	for k, e := range d.recent {
		if e.at.Before(cutoff) {
			delete(d.recent, k)
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		job, ok := d.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
				continue
			case <-time.After(time.Second):
				continue
			}
		}
		d.run(ctx, job)
	}
}

func (d *Dispatcher) next() (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return Job{}, false
	}
	job := d.pending[0]
	d.pending = d.pending[1:]
	d.running[job.ID] = true
	return job, true
}

// retryPolicy yields waits of 1s, 5s, 25s: four executions per job before
// it is recorded as failed.
func retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 5
	b.RandomizationFactor = 0
	return backoff.WithMaxRetries(b, maxRetries)
}

func (d *Dispatcher) run(ctx context.Context, job Job) {
	defer func() {
		d.mu.Lock()
		delete(d.running, job.ID)
		d.mu.Unlock()
	}()

	d.mu.Lock()
	handler, ok := d.handlers[job.Task]
	d.mu.Unlock()
	if !ok {
		d.log.Warn("no handler registered for task", "task", job.Task)
		return
	}

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		return handler(ctx, job.Payload)
	}, backoff.WithContext(d.retry(), ctx))
	if err == nil {
		return
	}

	d.log.Error("job failed after retries",
		"task", job.Task, "job_id", job.ID, "attempts", attempts, "error", err)
	recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	failure := &storage.JobFailure{
		ID:        job.ID,
		Task:      job.Task,
		Payload:   job.Payload,
		Attempts:  attempts,
		LastError: err.Error(),
		FailedAt:  time.Now().UTC(),
	}
	if rerr := d.store.RecordJobFailure(recordCtx, failure); rerr != nil {
		d.log.Error("failed to record job failure", "task", job.Task, "error", rerr)
	}
}
