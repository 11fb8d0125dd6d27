// Package jobs tracks packaging job lifecycle records. The registry is a
// best-effort, non-durable lookup: a process restart loses all history and
// records are pruned once older than the retention window regardless of
// terminal state.
package jobs

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a packaging job. Completed and failed
// are final.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one packaging request's tracked record.
type Job struct {
	ID              string    `json:"id"`
	BrandKey        string    `json:"brand_key"`
	Status          Status    `json:"status"`
	Progress        string    `json:"progress,omitempty"`
	Source          string    `json:"source,omitempty"`
	SigningDegraded bool      `json:"signing_degraded,omitempty"`
	DownloadURL     string    `json:"download_url,omitempty"`
	SignedURL       string    `json:"signed_url,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ErrNotFound is returned when a job id is unknown or already pruned.
var ErrNotFound = errors.New("job not found")

// Registry stores last-known job records keyed by id.
type Registry interface {
	Put(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
	Prune(ctx context.Context) (int, error)
}
