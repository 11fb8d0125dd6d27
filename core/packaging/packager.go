// Package packaging orchestrates installer package builds: source
// resolution, endpoint patching, signing, bundle assembly and publishing,
// with per-job progress events and a pollable job registry.
package packaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/paydeck/packager/core/apk"
	"github.com/paydeck/packager/core/apk/sign"
	"github.com/paydeck/packager/core/bundle"
	"github.com/paydeck/packager/core/infra/config"
	"github.com/paydeck/packager/core/infra/logging"
	"github.com/paydeck/packager/core/infra/metrics"
	"github.com/paydeck/packager/core/packaging/jobs"
	"github.com/paydeck/packager/core/storage"
)

var (
	// ErrSourceNotFound means neither a brand archive nor an applicable
	// base fallback exists in storage.
	ErrSourceNotFound = errors.New("source archive not found")
	// ErrMalformedRequest covers invalid brand keys, endpoints and
	// request bodies, rejected before any pipeline work starts.
	ErrMalformedRequest = errors.New("malformed packaging request")
)

// Options wires a Packager's collaborators.
type Options struct {
	Bucket       storage.Bucket
	Registry     jobs.Registry
	Broadcaster  *Broadcaster
	Signer       *sign.Signer
	Brands       *config.BrandsConfig
	Metrics      metrics.Metrics
	SignedURLTTL time.Duration
}

// Packager runs packaging jobs. Each job's stages execute strictly
// sequentially; concurrent jobs for different brands are independent.
// Two concurrent jobs for the same brand race at the storage layer and
// the last writer wins.
type Packager struct {
	bucket       storage.Bucket
	registry     jobs.Registry
	broadcaster  *Broadcaster
	signer       *sign.Signer
	brands       *config.BrandsConfig
	metrics      metrics.Metrics
	signedURLTTL time.Duration
}

func New(opts Options) *Packager {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	return &Packager{
		bucket:       opts.Bucket,
		registry:     opts.Registry,
		broadcaster:  opts.Broadcaster,
		signer:       opts.Signer,
		brands:       opts.Brands,
		metrics:      opts.Metrics,
		signedURLTTL: opts.SignedURLTTL,
	}
}

// Registry exposes the job registry for polling handlers.
func (p *Packager) Registry() jobs.Registry {
	return p.registry
}

// Broadcaster exposes the event broadcaster for stream handlers.
func (p *Packager) Broadcaster() *Broadcaster {
	return p.broadcaster
}

// Start accepts a validated request, records the pending job and runs the
// pipeline in the background. The pipeline is not tied to the caller's
// context: a disconnecting client never cancels a build in flight.
func (p *Packager) Start(brandKey, endpoint string) jobs.Job {
	now := time.Now().UTC()
	job := jobs.Job{
		ID:        uuid.NewString(),
		BrandKey:  brandKey,
		Status:    jobs.StatusPending,
		Progress:  "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.registry.Put(context.Background(), job); err != nil {
		logging.Error("packaging", "record job failed", "job", job.ID, "error", err)
	}
	p.broadcaster.Open(job.ID)
	p.metrics.IncPackagesStarted(brandKey)
	logging.Info("packaging", "job accepted", "job", job.ID, "brand", brandKey)

	go p.run(job, endpoint)
	return job
}

func (p *Packager) run(job jobs.Job, endpoint string) {
	ctx := context.Background()
	started := time.Now()
	defer p.broadcaster.Close(job.ID)
	defer func() {
		p.metrics.ObserveBuildDuration(job.BrandKey, time.Since(started).Seconds())
	}()

	p.progress(ctx, &job, "downloading source archive")
	data, source, err := resolveSource(ctx, p.bucket, p.brands, job.BrandKey)
	if err != nil {
		p.fail(ctx, &job, err)
		return
	}
	job.Source = source
	p.progress(ctx, &job, "resolved source archive")

	archive, err := apk.Open(data)
	if err != nil {
		p.fail(ctx, &job, fmt.Errorf("read source archive %s: %w", source, err))
		return
	}

	if endpoint != "" {
		if apk.PatchEndpoint(archive, p.brands.ConfigAsset, p.brands.LegacyEndpoint, endpoint) {
			p.progress(ctx, &job, "patched embedded endpoint")
		} else {
			p.progress(ctx, &job, "endpoint patch skipped")
		}
	}

	p.progress(ctx, &job, "signing archive")
	identity, err := p.signer.Identity()
	if err != nil {
		// SignArchive degrades on a nil identity instead of aborting.
		logging.Error("packaging", "signing identity unavailable", "job", job.ID, "error", err)
	}
	result, err := sign.SignArchive(archive, identity)
	if err != nil {
		p.fail(ctx, &job, fmt.Errorf("rebuild archive: %w", err))
		return
	}
	if !result.Signed {
		job.SigningDegraded = true
		p.metrics.IncSigningDegraded(job.BrandKey)
		p.progress(ctx, &job, "signing degraded, continuing unsigned: "+result.Reason)
	} else {
		p.progress(ctx, &job, "archive signed")
	}

	p.progress(ctx, &job, "assembling installer bundle")
	bundleData, err := bundle.Assemble(result.Data, job.BrandKey)
	if err != nil {
		p.fail(ctx, &job, fmt.Errorf("assemble bundle: %w", err))
		return
	}

	p.progress(ctx, &job, "uploading installer bundle")
	key := PublishKey(job.BrandKey)
	if err := p.bucket.Put(ctx, key, bundleData, "application/zip"); err != nil {
		p.fail(ctx, &job, fmt.Errorf("publish %s: %w", key, err))
		return
	}
	job.DownloadURL = p.bucket.URL(key)
	if signedURL, err := p.bucket.SignedURL(key, p.signedURLTTL); err == nil {
		job.SignedURL = signedURL
	} else if !errors.Is(err, storage.ErrNoURLSigner) {
		logging.Error("packaging", "signed url unavailable", "job", job.ID, "error", err)
	}

	job.Status = jobs.StatusCompleted
	job.Progress = "package published"
	job.UpdatedAt = time.Now().UTC()
	if err := p.registry.Put(ctx, job); err != nil {
		logging.Error("packaging", "record job failed", "job", job.ID, "error", err)
	}
	p.metrics.IncPackagesCompleted(job.BrandKey, string(jobs.StatusCompleted))
	p.broadcaster.Publish(Event{
		JobID:       job.ID,
		Status:      jobs.StatusCompleted,
		Message:     job.Progress,
		Source:      job.Source,
		DownloadURL: job.DownloadURL,
		SignedURL:   job.SignedURL,
		Timestamp:   job.UpdatedAt,
	})
	logging.Info("packaging", "job completed", "job", job.ID, "brand", job.BrandKey,
		"source", job.Source, "signed", !job.SigningDegraded)
}

// progress moves the job to processing with a new message, persists it
// and pushes a stream event.
func (p *Packager) progress(ctx context.Context, job *jobs.Job, message string) {
	job.Status = jobs.StatusProcessing
	job.Progress = message
	job.UpdatedAt = time.Now().UTC()
	if err := p.registry.Put(ctx, *job); err != nil {
		logging.Error("packaging", "record job failed", "job", job.ID, "error", err)
	}
	p.broadcaster.Publish(Event{
		JobID:     job.ID,
		Status:    jobs.StatusProcessing,
		Message:   message,
		Source:    job.Source,
		Timestamp: job.UpdatedAt,
	})
}

// fail records a terminal failure. Failures never retry and never affect
// other jobs.
func (p *Packager) fail(ctx context.Context, job *jobs.Job, err error) {
	job.Status = jobs.StatusFailed
	job.Error = err.Error()
	job.Progress = "packaging failed"
	job.UpdatedAt = time.Now().UTC()
	if putErr := p.registry.Put(ctx, *job); putErr != nil {
		logging.Error("packaging", "record job failed", "job", job.ID, "error", putErr)
	}
	p.metrics.IncPackagesCompleted(job.BrandKey, string(jobs.StatusFailed))
	p.broadcaster.Publish(Event{
		JobID:     job.ID,
		Status:    jobs.StatusFailed,
		Message:   job.Progress,
		Source:    job.Source,
		Error:     job.Error,
		Timestamp: job.UpdatedAt,
	})
	logging.Error("packaging", "job failed", "job", job.ID, "brand", job.BrandKey, "error", err)
}
