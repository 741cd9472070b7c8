// Processor is the worker half of the job queue: dequeue, run the
// Orchestrator, persist the transition, retry transient failures with
// exponential backoff, and periodically recover stuck jobs. The backoff
// schedule and stuck-job sweep are explicit here rather than left to
// asynq's defaults, since both depend on the Job record's own Status and
// Attempts bookkeeping, not asynq's internal task state.
package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/riverbend/watchlistd/internal"
)

// backoffBase and backoffMax set the retry schedule: base * 2^(Attempts-1),
// capped at backoffMax.
const (
	backoffBase = 5 * time.Second
	backoffMax  = 5 * time.Minute
)

// Processor runs the asynq worker loop and the stuck-job sweep. It shares
// Redis with the Queue returned by New but owns its own asynq.Server/Client
// since the two run in different processes' lifecycles (API vs worker).
type Processor struct {
	client       *asynq.Client
	server       *asynq.Server
	mux          *asynq.ServeMux
	store        *jobStore
	orchestrator internal.Orchestrator
	resultCache  internal.ResultCache
	cacheTTL     time.Duration
	maxAttempts  int
	stuckAfter   time.Duration

	stop chan struct{}
}

// NewProcessor builds the Job Queue's worker half. concurrency bounds how
// many scrape tasks this instance runs at once.
func NewProcessor(
	redisURL string,
	redisClient *redis.Client,
	orchestrator internal.Orchestrator,
	resultCache internal.ResultCache,
	cacheTTL time.Duration,
	maxAttempts int,
	jobTTL time.Duration,
	concurrency int,
	stuckAfter time.Duration,
) (*Processor, error) {
	redisOpt, err := RedisOptFromURL(redisURL)
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = 3
	}
	p := &Processor{
		client:       asynq.NewClient(redisOpt),
		store:        newJobStore(redisClient, jobTTL),
		orchestrator: orchestrator,
		resultCache:  resultCache,
		cacheTTL:     cacheTTL,
		maxAttempts:  maxAttempts,
		stuckAfter:   stuckAfter,
		stop:         make(chan struct{}),
	}
	p.mux = asynq.NewServeMux()
	p.mux.HandleFunc(TaskScrapeWatchlist, p.handleScrapeTask)
	p.server = asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    concurrency,
		Queues:         map[string]int{"default": 1},
		RetryDelayFunc: p.retryDelay,
	})
	return p, nil
}

// retryDelay implements the backoff schedule against asynq's own retry
// counter n (0-based: n=0 is the delay before the second attempt, i.e.
// Attempts=1 already ran).
func (p *Processor) retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	delay := backoffBase << n
	if delay > backoffMax || delay <= 0 {
		return backoffMax
	}
	return delay
}

// Run starts the worker loop and the stuck-job sweep; it blocks until ctx
// is canceled or Shutdown is called, then stops accepting new tasks,
// allows in-flight tasks graceWindow to finish, and returns.
func (p *Processor) Run(ctx context.Context, graceWindow time.Duration, sweepInterval time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- p.server.Run(p.mux) }()

	go p.sweepStuckJobs(ctx, sweepInterval)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	case <-p.stop:
	}

	done := make(chan struct{})
	go func() {
		p.server.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(graceWindow):
		slog.Warn("jobqueue: shutdown grace window elapsed with tasks still in flight")
	}
	p.client.Close()
	return nil
}

// Shutdown requests Run to stop; in-flight jobs left processing are picked
// up by the next instance's stuck-job sweep.
func (p *Processor) Shutdown() {
	close(p.stop)
}

func (p *Processor) handleScrapeTask(ctx context.Context, task *asynq.Task) error {
	var payload ScrapePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal scrape payload: %w", asynq.SkipRetry)
	}

	job, ok, err := p.store.load(ctx, payload.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", payload.JobID, err)
	}
	if !ok {
		slog.Warn("jobqueue: task for unknown job, dropping", "job_id", payload.JobID)
		return fmt.Errorf("job %s not found: %w", payload.JobID, asynq.SkipRetry)
	}
	if job.Status != internal.JobPending {
		// Already claimed by another worker (or resolved by the stuck-job
		// sweep racing this delivery); nothing to do.
		return nil
	}

	now := time.Now()
	job, applied, err := p.store.casStatus(ctx, job.JobID, internal.JobPending, internal.JobProcessing, func(j *internal.Job) {
		j.StartedAt = &now
		j.HeartbeatAt = &now
		j.Attempts++
	})
	if err != nil {
		return fmt.Errorf("mark job %s processing: %w", payload.JobID, err)
	}
	if !applied {
		return nil
	}

	heartbeatStop := make(chan struct{})
	go p.heartbeatLoop(job.JobID, heartbeatStop)
	defer close(heartbeatStop)

	if !job.ForceRefresh {
		if entry, age, ok, err := p.resultCache.Get(ctx, job.UserID); err == nil && ok && age < p.cacheTTL {
			p.complete(ctx, job.JobID, entry)
			return nil
		}
	}

	entry, scrapeErr := p.orchestrator.Scrape(ctx, job.UserID, job.ForceRefresh)
	if scrapeErr == nil {
		p.complete(ctx, job.JobID, entry)
		return nil
	}

	return p.handleFailure(ctx, job, scrapeErr)
}

// complete transitions a job to completed and clears its single-flight
// marker so a subsequent Submit for the same user starts a fresh scrape
// once the cache goes stale.
func (p *Processor) complete(ctx context.Context, jobID string, entry internal.WatchlistCacheEntry) {
	now := time.Now()
	job, _, err := p.store.casStatus(ctx, jobID, internal.JobProcessing, internal.JobCompleted, func(j *internal.Job) {
		j.CompletedAt = &now
		j.Result = &entry
	})
	if err != nil {
		slog.Error("jobqueue: failed to persist completed job", "job_id", jobID, "error", err)
		return
	}
	if err := p.store.clearUserMarker(ctx, job.UserID); err != nil {
		slog.Warn("jobqueue: clear user marker failed", "user_id", job.UserID, "error", err)
	}
}

// handleFailure classifies a scrape error: transient errors under
// MaxAttempts are left pending for asynq to redeliver after the backoff
// computed by retryDelay; everything else is terminal.
func (p *Processor) handleFailure(ctx context.Context, job internal.Job, scrapeErr error) error {
	kind := internal.KindOf(scrapeErr)
	transient := kind != "" && kind.Transient()

	if transient && job.Attempts < p.maxAttempts {
		if _, _, err := p.store.casStatus(ctx, job.JobID, internal.JobProcessing, internal.JobPending, func(j *internal.Job) {
			j.Progress = fmt.Sprintf("attempt %d failed, retrying: %v", j.Attempts, scrapeErr)
		}); err != nil {
			slog.Error("jobqueue: failed to reset job to pending for retry", "job_id", job.JobID, "error", err)
		}
		return fmt.Errorf("scrape %s (attempt %d/%d): %w", job.UserID, job.Attempts, p.maxAttempts, scrapeErr)
	}

	if kind == "" {
		kind = internal.ErrCacheBackend
	}
	finalJob, _, err := p.store.casStatus(ctx, job.JobID, internal.JobProcessing, internal.JobFailed, func(j *internal.Job) {
		j.CompletedAt = timePtr(time.Now())
		j.Error = &internal.JobError{Kind: kind, Message: scrapeErr.Error()}
	})
	if err != nil {
		slog.Error("jobqueue: failed to persist failed job", "job_id", job.JobID, "error", err)
	} else if err := p.store.clearUserMarker(ctx, finalJob.UserID); err != nil {
		slog.Warn("jobqueue: clear user marker failed", "user_id", finalJob.UserID, "error", err)
	}
	return fmt.Errorf("scrape %s failed permanently: %w: %w", job.UserID, scrapeErr, asynq.SkipRetry)
}

func (p *Processor) heartbeatLoop(jobID string, stop <-chan struct{}) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := p.store.touchHeartbeat(context.Background(), jobID); err != nil {
				slog.Warn("jobqueue: heartbeat update failed", "job_id", jobID, "error", err)
			}
		}
	}
}

// sweepStuckJobs recovers stuck jobs: any job
// processing for longer than stuckAfter without a heartbeat is reset to
// pending once (Attempts incremented) and re-enqueued for a fresh asynq
// attempt, since its original task's worker is presumed dead. A job that
// has already exhausted MaxAttempts is failed outright instead.
func (p *Processor) sweepStuckJobs(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.recoverStuckOnce(ctx)
		}
	}
}

func (p *Processor) recoverStuckOnce(ctx context.Context) {
	stuck, err := p.store.stuckSince(ctx, time.Now().Add(-p.stuckAfter))
	if err != nil {
		slog.Warn("jobqueue: stuck-job scan failed", "error", err)
		return
	}
	for _, job := range stuck {
		p.recoverStuckJob(ctx, job)
	}
}

func (p *Processor) recoverStuckJob(ctx context.Context, job internal.Job) {
	if job.Attempts >= p.maxAttempts {
		if _, _, err := p.store.casStatus(ctx, job.JobID, internal.JobProcessing, internal.JobFailed, func(j *internal.Job) {
			j.CompletedAt = timePtr(time.Now())
			j.Error = &internal.JobError{Kind: internal.ErrTimeout, Message: "stuck in processing past max attempts"}
		}); err != nil {
			slog.Error("jobqueue: failed to fail stuck job", "job_id", job.JobID, "error", err)
			return
		}
		if err := p.store.clearUserMarker(ctx, job.UserID); err != nil {
			slog.Warn("jobqueue: clear user marker failed", "user_id", job.UserID, "error", err)
		}
		return
	}

	recovered, applied, err := p.store.casStatus(ctx, job.JobID, internal.JobProcessing, internal.JobPending, func(j *internal.Job) {
		j.Attempts++
		j.StuckRecoveries++
		j.StartedAt = nil
		j.HeartbeatAt = nil
		j.Progress = "recovered from stuck processing state"
	})
	if err != nil {
		slog.Error("jobqueue: failed to reset stuck job", "job_id", job.JobID, "error", err)
		return
	}
	if !applied {
		return
	}

	payload, err := json.Marshal(ScrapePayload{JobID: recovered.JobID})
	if err != nil {
		slog.Error("jobqueue: marshal recovered task payload failed", "job_id", recovered.JobID, "error", err)
		return
	}
	// A fresh task ID: the original asynq task's worker is presumed dead,
	// so its TaskID may still be considered active by asynq's own
	// bookkeeping and would reject a re-enqueue under the same ID.
	task := asynq.NewTask(TaskScrapeWatchlist, payload, asynq.MaxRetry(p.maxAttempts-1))
	if _, err := p.client.EnqueueContext(ctx, task); err != nil {
		slog.Error("jobqueue: re-enqueue of recovered job failed", "job_id", recovered.JobID, "error", err)
	}
}

func timePtr(t time.Time) *time.Time { return &t }
