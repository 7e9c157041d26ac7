package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bulk-loader/internal/models"
)

const (
	// DefaultRegistryPrefix namespaces the registry keys
	DefaultRegistryPrefix = "bulk:jobs:"
	// DefaultRegistryTTL is how long an open job is remembered
	DefaultRegistryTTL = 7 * 24 * time.Hour
)

// JobRegistry remembers jobs that were created but not yet seen finished,
// so a later process can resume or close them. Entries live in one hash
// keyed by job id; a sorted set orders them by creation time.
type JobRegistry struct {
	redis  redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewJobRegistry creates a registry on the given Redis connection
func NewJobRegistry(cache *RedisCache) *JobRegistry {
	return NewJobRegistryWithClient(cache.Client(), DefaultRegistryPrefix, DefaultRegistryTTL)
}

// NewJobRegistryWithClient creates a registry with explicit key prefix and TTL
func NewJobRegistryWithClient(client redis.Cmdable, prefix string, ttl time.Duration) *JobRegistry {
	if prefix == "" {
		prefix = DefaultRegistryPrefix
	}
	if ttl <= 0 {
		ttl = DefaultRegistryTTL
	}
	return &JobRegistry{redis: client, prefix: prefix, ttl: ttl}
}

func (r *JobRegistry) entriesKey() string { return r.prefix + "open" }
func (r *JobRegistry) orderKey() string   { return r.prefix + "open:by-created" }

// Register records job as open
func (r *JobRegistry) Register(ctx context.Context, job *models.OpenJob) error {
	if job == nil || job.JobID == "" {
		return fmt.Errorf("open job requires a job id")
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode open job: %w", err)
	}

	pipe := r.redis.TxPipeline()
	pipe.HSet(ctx, r.entriesKey(), job.JobID, data)
	pipe.ZAdd(ctx, r.orderKey(), redis.Z{Score: float64(job.CreatedAt.UnixNano()), Member: job.JobID})
	pipe.Expire(ctx, r.entriesKey(), r.ttl)
	pipe.Expire(ctx, r.orderKey(), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register job %s: %w", job.JobID, err)
	}
	return nil
}

// Complete forgets jobID. Unknown ids are not an error.
func (r *JobRegistry) Complete(ctx context.Context, jobID string) error {
	pipe := r.redis.TxPipeline()
	pipe.HDel(ctx, r.entriesKey(), jobID)
	pipe.ZRem(ctx, r.orderKey(), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}
	return nil
}

// ListOpen returns open jobs, oldest first
func (r *JobRegistry) ListOpen(ctx context.Context) ([]*models.OpenJob, error) {
	ids, err := r.redis.ZRange(ctx, r.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list open jobs: %w", err)
	}
	if len(ids) == 0 {
		return []*models.OpenJob{}, nil
	}

	values, err := r.redis.HMGet(ctx, r.entriesKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read open jobs: %w", err)
	}

	jobs := make([]*models.OpenJob, 0, len(ids))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var job models.OpenJob
		if err := json.Unmarshal([]byte(s), &job); err != nil {
			return nil, fmt.Errorf("failed to decode open job: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// IsOpen reports whether jobID is registered
func (r *JobRegistry) IsOpen(ctx context.Context, jobID string) (bool, error) {
	ok, err := r.redis.HExists(ctx, r.entriesKey(), jobID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check job %s: %w", jobID, err)
	}
	return ok, nil
}
