package jobqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/riverbend/watchlistd/internal"
	"github.com/riverbend/watchlistd/internal/store"
)

// jobStore persists Job records directly in Redis, independent of asynq's own
// task bookkeeping: asynq only owns dispatch and retry timing; Status,
// Attempts, Result, and Error live here so GetStatus/ListRecent/the
// compare-and-set on Status work the same regardless of which queue
// backend dispatches the work.
type jobStore struct {
	client      *redis.Client
	ttl         time.Duration
	recentIndex string
	maxRecent   int64
}

func newJobStore(client *redis.Client, ttl time.Duration) *jobStore {
	return &jobStore{client: client, ttl: ttl, recentIndex: "job:index", maxRecent: 500}
}

func jobKey(jobID string) string {
	return "job:" + jobID
}

func userMarkerKey(userID string) string {
	return "job:user:" + userID
}

func (s *jobStore) save(ctx context.Context, job internal.Job) error {
	if err := store.SetJSON(ctx, s.client, jobKey(job.JobID), job, s.ttl); err != nil {
		return internal.NewError(internal.ErrCacheBackend, "save job "+job.JobID, err)
	}
	return nil
}

func (s *jobStore) load(ctx context.Context, jobID string) (internal.Job, bool, error) {
	var job internal.Job
	ok, err := store.GetJSON(ctx, s.client, jobKey(jobID), &job)
	if err != nil {
		return internal.Job{}, false, internal.NewError(internal.ErrCacheBackend, "load job "+jobID, err)
	}
	return job, ok, nil
}

func (s *jobStore) pushIndex(ctx context.Context, jobID string) error {
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.recentIndex, jobID)
	pipe.LTrim(ctx, s.recentIndex, 0, s.maxRecent-1)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return internal.NewError(internal.ErrCacheBackend, "push job index", err)
	}
	return nil
}

func (s *jobStore) recentIDs(ctx context.Context, limit int64) ([]string, error) {
	if limit <= 0 || limit > s.maxRecent {
		limit = s.maxRecent
	}
	ids, err := s.client.LRange(ctx, s.recentIndex, 0, limit-1).Result()
	if err != nil {
		return nil, internal.NewError(internal.ErrCacheBackend, "list job index", err)
	}
	return ids, nil
}

// setUserMarker records jobID as the in-flight job for userID. Cleared on
// terminal transitions by clearUserMarker.
func (s *jobStore) setUserMarker(ctx context.Context, userID, jobID string) error {
	if err := s.client.Set(ctx, userMarkerKey(userID), jobID, s.ttl).Err(); err != nil {
		return internal.NewError(internal.ErrCacheBackend, "set user marker "+userID, err)
	}
	return nil
}

func (s *jobStore) clearUserMarker(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, userMarkerKey(userID)).Err(); err != nil {
		return internal.NewError(internal.ErrCacheBackend, "clear user marker "+userID, err)
	}
	return nil
}

func (s *jobStore) userMarker(ctx context.Context, userID string) (string, bool, error) {
	jobID, err := s.client.Get(ctx, userMarkerKey(userID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, internal.NewError(internal.ErrCacheBackend, "get user marker "+userID, err)
	}
	return jobID, true, nil
}

// touchHeartbeat stamps HeartbeatAt so stuck-job recovery can distinguish a
// job that is genuinely still running from one whose worker died silently.
// Last-writer-wins is fine here: heartbeats are advisory, not a state
// transition.
func (s *jobStore) touchHeartbeat(ctx context.Context, jobID string) error {
	job, ok, err := s.load(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	now := time.Now()
	job.HeartbeatAt = &now
	return s.save(ctx, job)
}

// stuckSince returns jobs currently `processing` whose last heartbeat (or,
// absent a heartbeat, StartedAt) is older than cutoff.
func (s *jobStore) stuckSince(ctx context.Context, cutoff time.Time) ([]internal.Job, error) {
	ids, err := s.recentIDs(ctx, 0)
	if err != nil {
		return nil, err
	}
	var stuck []internal.Job
	for _, id := range ids {
		job, ok, err := s.load(ctx, id)
		if err != nil || !ok || job.Status != internal.JobProcessing {
			continue
		}
		last := job.StartedAt
		if job.HeartbeatAt != nil {
			last = job.HeartbeatAt
		}
		if last == nil || last.Before(cutoff) {
			stuck = append(stuck, job)
		}
	}
	return stuck, nil
}

// casStatus compare-and-sets Status from `from` to `to` inside a
// WATCH/MULTI transaction on the job key, returning false without error if
// the job has already moved on. Optimistic-lock retry on redis.TxFailedErr is not needed here: a
// lost race means another processor already transitioned the job, so the
// caller should simply treat this as "not mine to transition" rather than
// retry.
func (s *jobStore) casStatus(ctx context.Context, jobID string, from, to internal.JobStatus, mutate func(*internal.Job)) (internal.Job, bool, error) {
	var result internal.Job
	var applied bool

	txf := func(tx *redis.Tx) error {
		var job internal.Job
		ok, err := store.GetJSON(ctx, s.client, jobKey(jobID), &job)
		if err != nil {
			return err
		}
		if !ok || job.Status != from {
			result = job
			return nil
		}
		job.Status = to
		if mutate != nil {
			mutate(&job)
		}
		raw, err := json.Marshal(job)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, jobKey(jobID), raw, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = job
		applied = true
		return nil
	}

	if err := s.client.Watch(ctx, txf, jobKey(jobID)); err != nil {
		if err == redis.TxFailedErr {
			return result, false, nil
		}
		return internal.Job{}, false, internal.NewError(internal.ErrCacheBackend, "cas status "+jobID, err)
	}
	return result, applied, nil
}
