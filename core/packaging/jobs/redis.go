package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const jobKeyPrefix = "pkg:job:"

// RedisRegistry keeps job records in Redis so multiple gateway replicas
// can serve polls for jobs started elsewhere. Retention is enforced with
// per-key TTLs, so Prune has nothing to do.
type RedisRegistry struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisRegistry connects using a redis:// URL and verifies the
// connection with a short ping.
func NewRedisRegistry(url string, retention time.Duration) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisRegistry{client: client, retention: retention}, nil
}

func (r *RedisRegistry) Put(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := r.client.Set(ctx, jobKey(job.ID), data, r.retention).Err(); err != nil {
		return fmt.Errorf("store job %s: %w", job.ID, err)
	}
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (Job, error) {
	data, err := r.client.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, nil
}

// Prune is a no-op; key TTLs expire records after the retention window.
func (r *RedisRegistry) Prune(ctx context.Context) (int, error) {
	return 0, nil
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
