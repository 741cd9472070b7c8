// Package jobqueue implements the job queue and its processing loop on top
// of hibiken/asynq: the queue returned by New wraps an asynq.Client for
// submission and the Processor wraps an asynq.Server/ServeMux, with Job state itself (Status, Attempts, Result, Error) not trusted to
// asynq's internal bookkeeping. It is read/written directly in Redis via
// jobStore so GetStatus/ListRecent/the compare-and-set on Status work the
// same regardless of queue backend.
package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/riverbend/watchlistd/internal"
)

// TaskScrapeWatchlist is the asynq task type for one scrape job.
const TaskScrapeWatchlist = "scrape:watchlist"

// ScrapePayload is the asynq task payload; it only carries the JobID, the
// handler loads everything else (UserID, ForceRefresh) from the Job record
// itself so the two never drift.
type ScrapePayload struct {
	JobID string `json:"job_id"`
}

type queue struct {
	client       *asynq.Client
	store        *jobStore
	maxAttempts  int
	jobTTL       time.Duration
	hardDeadline time.Duration
}

// RedisOptFromURL derives an asynq.RedisClientOpt from the same redis://
// URL the rest of the service uses, so callers configure one REDIS_URL.
// Exported so cmd/main.go can build the same asynq.Inspector options for
// /health's queue_depth without duplicating the redis:// parsing.
func RedisOptFromURL(redisURL string) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, fmt.Errorf("parse redis url: %w", err)
	}
	return asynq.RedisClientOpt{
		Addr:     opt.Addr,
		Username: opt.Username,
		Password: opt.Password,
		DB:       opt.DB,
	}, nil
}

// New returns a JobQueue backed by asynq and a Redis-persisted Job store.
// jobTTL is the TTL applied to job:{jobID} records; maxAttempts bounds retries;
// hardDeadline is each job's per-task timeout.
func New(redisURL string, redisClient *redis.Client, jobTTL time.Duration, maxAttempts int, hardDeadline time.Duration) (internal.JobQueue, error) {
	redisOpt, err := RedisOptFromURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &queue{
		client:       asynq.NewClient(redisOpt),
		store:        newJobStore(redisClient, jobTTL),
		maxAttempts:  maxAttempts,
		jobTTL:       jobTTL,
		hardDeadline: hardDeadline,
	}, nil
}

func (q *queue) Submit(ctx context.Context, userID string, forceRefresh bool) (internal.Job, error) {
	if existingID, ok, err := q.store.userMarker(ctx, userID); err == nil && ok {
		if existing, found, err := q.store.load(ctx, existingID); err == nil && found &&
			(existing.Status == internal.JobPending || existing.Status == internal.JobProcessing) {
			return existing, nil
		}
	}

	job := internal.Job{
		JobID:        uuid.NewString(),
		UserID:       userID,
		ForceRefresh: forceRefresh,
		Status:       internal.JobPending,
		CreatedAt:    time.Now(),
	}
	if err := q.store.save(ctx, job); err != nil {
		return internal.Job{}, err
	}
	if err := q.store.pushIndex(ctx, job.JobID); err != nil {
		return internal.Job{}, err
	}
	if err := q.store.setUserMarker(ctx, userID, job.JobID); err != nil {
		return internal.Job{}, err
	}

	payload, err := json.Marshal(ScrapePayload{JobID: job.JobID})
	if err != nil {
		return internal.Job{}, fmt.Errorf("marshal scrape payload: %w", err)
	}
	task := asynq.NewTask(TaskScrapeWatchlist, payload,
		asynq.TaskID(job.JobID),
		asynq.MaxRetry(q.maxAttempts-1),
		asynq.Timeout(q.hardDeadline),
	)
	if _, err := q.client.EnqueueContext(ctx, task); err != nil {
		return internal.Job{}, internal.NewError(internal.ErrCacheBackend, "enqueue job "+job.JobID, err)
	}
	return job, nil
}

func (q *queue) GetStatus(ctx context.Context, jobID string) (internal.Job, bool, error) {
	return q.store.load(ctx, jobID)
}

func (q *queue) ListRecent(ctx context.Context, filter internal.JobFilter) ([]internal.Job, error) {
	ids, err := q.store.recentIDs(ctx, 0)
	if err != nil {
		return nil, err
	}
	out := make([]internal.Job, 0, len(ids))
	for _, id := range ids {
		job, ok, err := q.store.load(ctx, id)
		if err != nil || !ok {
			continue
		}
		if filter.UserID != "" && job.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, job)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (q *queue) Close() error {
	return q.client.Close()
}
