package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/paydeck/packager/core/infra/logging"
)

// MemoryRegistry is the default single-process registry. Entries older
// than the retention window are dropped by Prune.
type MemoryRegistry struct {
	mu        sync.RWMutex
	jobs      map[string]Job
	retention time.Duration
	now       func() time.Time
}

func NewMemoryRegistry(retention time.Duration) *MemoryRegistry {
	return &MemoryRegistry{
		jobs:      make(map[string]Job),
		retention: retention,
		now:       time.Now,
	}
}

func (r *MemoryRegistry) Put(ctx context.Context, job Job) error {
	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()
	return nil
}

func (r *MemoryRegistry) Get(ctx context.Context, id string) (Job, error) {
	r.mu.RLock()
	job, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return Job{}, ErrNotFound
	}
	return job, nil
}

// Prune drops every job last updated before the retention cutoff and
// returns how many were removed.
func (r *MemoryRegistry) Prune(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, job := range r.jobs {
		if job.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// RunPruner prunes on the given interval until ctx is cancelled.
func RunPruner(ctx context.Context, reg Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := reg.Prune(ctx)
			if err != nil {
				logging.Error("jobs", "prune failed", "error", err)
				continue
			}
			if removed > 0 {
				logging.Info("jobs", "pruned jobs", "count", removed)
			}
		}
	}
}
