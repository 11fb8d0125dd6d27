package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryRegistryPutGet(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(time.Hour)

	job := Job{
		ID:        "job-1",
		BrandKey:  "acme",
		Status:    StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := reg.Put(ctx, job); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := reg.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.BrandKey != "acme" || got.Status != StatusPending {
		t.Fatalf("Get returned %+v", got)
	}

	if _, err := reg.Get(ctx, "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get absent = %v, want ErrNotFound", err)
	}
}

func TestMemoryRegistryOverwrite(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(time.Hour)

	job := Job{ID: "job-1", BrandKey: "acme", Status: StatusProcessing, UpdatedAt: time.Now()}
	if err := reg.Put(ctx, job); err != nil {
		t.Fatalf("Put: %v", err)
	}
	job.Status = StatusCompleted
	job.DownloadURL = "mem://b/acme/acme-installer.zip"
	if err := reg.Put(ctx, job); err != nil {
		t.Fatalf("Put update: %v", err)
	}

	got, err := reg.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusCompleted || got.DownloadURL == "" {
		t.Fatalf("update not visible: %+v", got)
	}
}

func TestMemoryRegistryPrune(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(time.Hour)

	now := time.Now()
	reg.now = func() time.Time { return now }

	stale := Job{ID: "stale", Status: StatusCompleted, UpdatedAt: now.Add(-2 * time.Hour)}
	fresh := Job{ID: "fresh", Status: StatusProcessing, UpdatedAt: now.Add(-time.Minute)}
	for _, j := range []Job{stale, fresh} {
		if err := reg.Put(ctx, j); err != nil {
			t.Fatalf("Put %s: %v", j.ID, err)
		}
	}

	removed, err := reg.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("Prune removed %d, want 1", removed)
	}
	if _, err := reg.Get(ctx, "stale"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale job survived prune: %v", err)
	}
	if _, err := reg.Get(ctx, "fresh"); err != nil {
		t.Fatalf("fresh job pruned: %v", err)
	}
}

func TestStatusTerminal(t *testing.T) {
	for status, want := range map[Status]bool{
		StatusPending:    false,
		StatusProcessing: false,
		StatusCompleted:  true,
		StatusFailed:     true,
	} {
		if got := status.Terminal(); got != want {
			t.Errorf("Terminal(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestRedisRegistryRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	reg, err := NewRedisRegistry("redis://"+mr.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("NewRedisRegistry: %v", err)
	}
	defer reg.Close()

	ctx := context.Background()
	job := Job{
		ID:              "job-9",
		BrandKey:        "acme",
		Status:          StatusFailed,
		Error:           "upload rejected",
		SigningDegraded: true,
		UpdatedAt:       time.Now().UTC(),
	}
	if err := reg.Put(ctx, job); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := reg.Get(ctx, "job-9")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusFailed || got.Error != "upload rejected" || !got.SigningDegraded {
		t.Fatalf("Get returned %+v", got)
	}

	if _, err := reg.Get(ctx, "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get absent = %v, want ErrNotFound", err)
	}
}

func TestRedisRegistryRetentionExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	reg, err := NewRedisRegistry("redis://"+mr.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("NewRedisRegistry: %v", err)
	}
	defer reg.Close()

	ctx := context.Background()
	if err := reg.Put(ctx, Job{ID: "job-1", Status: StatusCompleted}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	mr.FastForward(2 * time.Hour)

	if _, err := reg.Get(ctx, "job-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after TTL expiry, got %v", err)
	}
}

func TestRedisRegistryBadURL(t *testing.T) {
	if _, err := NewRedisRegistry("not-a-url", time.Hour); err == nil {
		t.Fatal("expected error for malformed redis url")
	}
}
