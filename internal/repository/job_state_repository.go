package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/sma-results-api/internal/models"
	"github.com/noah-isme/sma-results-api/pkg/cache"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
)

var jobIndexKey = cache.Key("jobs")

func jobKey(id string) string {
	return cache.Key("job", id)
}

// RedisJobStateRepository keeps computation job records in Redis with a TTL.
type RedisJobStateRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisJobStateRepository constructs a Redis-backed job store.
func NewRedisJobStateRepository(client *redis.Client, ttl time.Duration) *RedisJobStateRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisJobStateRepository{client: client, ttl: ttl}
}

// Save writes the job record and indexes its id.
func (r *RedisJobStateRepository) Save(ctx context.Context, job *models.ComputationJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), payload, r.ttl)
	pipe.SAdd(ctx, jobIndexKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save job %s: %w", job.ID, err)
	}
	return nil
}

// Get loads a job record.
func (r *RedisJobStateRepository) Get(ctx context.Context, id string) (*models.ComputationJob, error) {
	raw, err := r.client.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, appErrors.ErrJobNotFound
		}
		return nil, fmt.Errorf("redis get job %s: %w", id, err)
	}
	var job models.ComputationJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

// ListByState returns indexed jobs in the given state, oldest first. Expired ids are pruned.
func (r *RedisJobStateRepository) ListByState(ctx context.Context, state models.JobState) ([]models.ComputationJob, error) {
	ids, err := r.client.SMembers(ctx, jobIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list jobs: %w", err)
	}
	var jobs []models.ComputationJob
	for _, id := range ids {
		job, err := r.Get(ctx, id)
		if errors.Is(err, appErrors.ErrJobNotFound) {
			r.client.SRem(ctx, jobIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if job.State == state {
			jobs = append(jobs, *job)
		}
	}
	sortJobs(jobs)
	return jobs, nil
}

// MemoryJobStateRepository is the in-process job store used when Redis is disabled.
// Records expire ttl after their last save, as they do in Redis.
type MemoryJobStateRepository struct {
	mu   sync.RWMutex
	jobs map[string]memoryJob
	ttl  time.Duration
	now  func() time.Time
}

type memoryJob struct {
	job     models.ComputationJob
	savedAt time.Time
}

// NewMemoryJobStateRepository constructs an empty in-memory job store. A non-positive ttl
// defaults to 24h.
func NewMemoryJobStateRepository(ttl time.Duration) *MemoryJobStateRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryJobStateRepository{jobs: make(map[string]memoryJob), ttl: ttl, now: time.Now}
}

// Save stores a copy of the job record and drops records that have expired.
func (r *MemoryJobStateRepository) Save(ctx context.Context, job *models.ComputationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for id, entry := range r.jobs {
		if r.expired(entry, now) {
			delete(r.jobs, id)
		}
	}
	copied := *job
	copied.Progress.Errors = append([]string(nil), job.Progress.Errors...)
	copied.Progress.Warnings = append([]string(nil), job.Progress.Warnings...)
	r.jobs[job.ID] = memoryJob{job: copied, savedAt: now}
	return nil
}

// Get loads a job record. Expired records are reported as missing.
func (r *MemoryJobStateRepository) Get(ctx context.Context, id string) (*models.ComputationJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.jobs[id]
	if !ok || r.expired(entry, r.now()) {
		return nil, appErrors.ErrJobNotFound
	}
	job := entry.job
	return &job, nil
}

// ListByState returns unexpired jobs in the given state, oldest first.
func (r *MemoryJobStateRepository) ListByState(ctx context.Context, state models.JobState) ([]models.ComputationJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	var jobs []models.ComputationJob
	for _, entry := range r.jobs {
		if entry.job.State == state && !r.expired(entry, now) {
			jobs = append(jobs, entry.job)
		}
	}
	sortJobs(jobs)
	return jobs, nil
}

func (r *MemoryJobStateRepository) expired(entry memoryJob, now time.Time) bool {
	return now.Sub(entry.savedAt) >= r.ttl
}

func sortJobs(jobs []models.ComputationJob) {
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
}
