package packaging

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/paydeck/packager/core/apk"
	"github.com/paydeck/packager/core/apk/sign"
	"github.com/paydeck/packager/core/bundle"
	"github.com/paydeck/packager/core/infra/config"
	"github.com/paydeck/packager/core/packaging/jobs"
	"github.com/paydeck/packager/core/storage"
)

const (
	testLegacyURL = "https://pos.paydeck.example.com"
	testEndpoint  = "https://acme.example.com"
)

func fixtureArchive(t *testing.T, withConfigAsset bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := map[string]string{
		"resources.arsc":      "resource table",
		"classes.dex":         "dex bytecode",
		"AndroidManifest.xml": "<manifest/>",
	}
	if withConfigAsset {
		files["assets/config.js"] = `window.apiUrl = resolveUrl() || "` + testLegacyURL + `";`
	}
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close fixture zip: %v", err)
	}
	return buf.Bytes()
}

func newTestPackager(t *testing.T, bucket storage.Bucket, signer *sign.Signer) *Packager {
	t.Helper()
	if signer == nil {
		signer = sign.NewSigner(nil)
	}
	brands, err := config.LoadBrands("")
	if err != nil {
		t.Fatalf("LoadBrands: %v", err)
	}
	return New(Options{
		Bucket:       bucket,
		Registry:     jobs.NewMemoryRegistry(time.Hour),
		Broadcaster:  NewBroadcaster(0, nil),
		Signer:       signer,
		Brands:       brands,
		SignedURLTTL: 24 * time.Hour,
	})
}

func waitForJob(t *testing.T, reg jobs.Registry, id string) jobs.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := reg.Get(context.Background(), id)
		if err == nil && job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state")
	return jobs.Job{}
}

func readBundle(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	out := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		out[f.Name] = content
	}
	return out
}

func TestPackagerEndToEnd(t *testing.T) {
	ctx := context.Background()
	bucket := storage.NewMemoryBucket("installers")
	if err := bucket.Put(ctx, SourceKey("acme"), fixtureArchive(t, true), "application/zip"); err != nil {
		t.Fatalf("seed source: %v", err)
	}

	p := newTestPackager(t, bucket, nil)
	job := p.Start("acme", testEndpoint)
	final := waitForJob(t, p.Registry(), job.ID)

	if final.Status != jobs.StatusCompleted {
		t.Fatalf("job status = %s, error = %q", final.Status, final.Error)
	}
	if final.Source != "sources/acme.apk" {
		t.Fatalf("job source = %q", final.Source)
	}
	if final.SigningDegraded {
		t.Fatal("signing unexpectedly degraded")
	}
	if final.DownloadURL == "" || final.SignedURL == "" {
		t.Fatalf("missing URLs: %+v", final)
	}

	published, err := bucket.Get(ctx, "acme/acme-installer.zip")
	if err != nil {
		t.Fatalf("published bundle missing: %v", err)
	}
	files := readBundle(t, published)
	for _, name := range []string{bundle.ArchiveName("acme"), "install.sh", "install.bat", "README.txt"} {
		if _, ok := files[name]; !ok {
			t.Fatalf("bundle missing %s", name)
		}
	}
	if len(files) != 4 {
		t.Fatalf("bundle has %d files, want 4", len(files))
	}

	inner, err := apk.Open(files[bundle.ArchiveName("acme")])
	if err != nil {
		t.Fatalf("open inner archive: %v", err)
	}
	for _, path := range []string{"META-INF/MANIFEST.MF", "META-INF/CERT.SF", "META-INF/CERT.RSA"} {
		if _, ok := inner.Entry(path); !ok {
			t.Fatalf("inner archive missing %s", path)
		}
	}
	asset, ok := inner.Entry("assets/config.js")
	if !ok {
		t.Fatal("inner archive missing config asset")
	}
	if !strings.Contains(string(asset), testEndpoint) {
		t.Fatalf("endpoint not patched: %q", asset)
	}
	if strings.Contains(string(asset), testLegacyURL) {
		t.Fatalf("legacy endpoint still present: %q", asset)
	}
}

func TestPackagerBaseFallbackReported(t *testing.T) {
	ctx := context.Background()
	bucket := storage.NewMemoryBucket("installers")
	if err := bucket.Put(ctx, baseSourceKey, fixtureArchive(t, false), "application/zip"); err != nil {
		t.Fatalf("seed base: %v", err)
	}

	p := newTestPackager(t, bucket, nil)
	job := p.Start("newbrand", "")
	final := waitForJob(t, p.Registry(), job.ID)

	if final.Status != jobs.StatusCompleted {
		t.Fatalf("job status = %s, error = %q", final.Status, final.Error)
	}
	if final.Source != baseSourceKey {
		t.Fatalf("job source = %q, want %q", final.Source, baseSourceKey)
	}
}

func TestPackagerSourceNotFound(t *testing.T) {
	p := newTestPackager(t, storage.NewMemoryBucket("installers"), nil)
	job := p.Start("ghost", "")
	final := waitForJob(t, p.Registry(), job.ID)

	if final.Status != jobs.StatusFailed {
		t.Fatalf("job status = %s", final.Status)
	}
	if !strings.Contains(final.Error, "sources/ghost.apk") {
		t.Fatalf("error lacks remediation hint: %q", final.Error)
	}
	if !strings.Contains(final.Error, baseSourceKey) {
		t.Fatalf("error lacks base hint: %q", final.Error)
	}
}

func TestPackagerDedicatedOnlySkipsFallback(t *testing.T) {
	ctx := context.Background()
	bucket := storage.NewMemoryBucket("installers")
	if err := bucket.Put(ctx, baseSourceKey, fixtureArchive(t, false), "application/zip"); err != nil {
		t.Fatalf("seed base: %v", err)
	}

	brands := &config.BrandsConfig{
		DedicatedOnly:  []string{"titan"},
		ConfigAsset:    "assets/config.js",
		LegacyEndpoint: testLegacyURL,
	}
	p := New(Options{
		Bucket:       bucket,
		Registry:     jobs.NewMemoryRegistry(time.Hour),
		Broadcaster:  NewBroadcaster(0, nil),
		Signer:       sign.NewSigner(nil),
		Brands:       brands,
		SignedURLTTL: time.Hour,
	})

	job := p.Start("titan", "")
	final := waitForJob(t, p.Registry(), job.ID)

	if final.Status != jobs.StatusFailed {
		t.Fatalf("dedicated-only brand fell back to base: %+v", final)
	}
	if !strings.Contains(final.Error, "sources/titan.apk") {
		t.Fatalf("error lacks hint: %q", final.Error)
	}
}

func TestPackagerDegradedSigning(t *testing.T) {
	ctx := context.Background()
	bucket := storage.NewMemoryBucket("installers")
	if err := bucket.Put(ctx, SourceKey("acme"), fixtureArchive(t, true), "application/zip"); err != nil {
		t.Fatalf("seed source: %v", err)
	}

	// An identity without key material makes the signature block fail
	// while the rest of the pipeline proceeds.
	broken := sign.NewSigner(&sign.Identity{})
	p := newTestPackager(t, bucket, broken)

	job := p.Start("acme", "")
	final := waitForJob(t, p.Registry(), job.ID)

	if final.Status != jobs.StatusCompleted {
		t.Fatalf("degraded job should still complete: %+v", final)
	}
	if !final.SigningDegraded {
		t.Fatal("degradation not recorded on job")
	}

	published, err := bucket.Get(ctx, "acme/acme-installer.zip")
	if err != nil {
		t.Fatalf("published bundle missing: %v", err)
	}
	files := readBundle(t, published)
	inner, err := apk.Open(files[bundle.ArchiveName("acme")])
	if err != nil {
		t.Fatalf("open inner archive: %v", err)
	}
	if _, ok := inner.Entry("META-INF/CERT.RSA"); ok {
		t.Fatal("degraded archive should not carry a signature block")
	}
}

func TestPackagerOverwriteSameBrand(t *testing.T) {
	ctx := context.Background()
	bucket := storage.NewMemoryBucket("installers")
	p := newTestPackager(t, bucket, nil)

	if err := bucket.Put(ctx, SourceKey("acme"), fixtureArchive(t, false), "application/zip"); err != nil {
		t.Fatalf("seed source: %v", err)
	}
	first := waitForJob(t, p.Registry(), p.Start("acme", "").ID)
	if first.Status != jobs.StatusCompleted {
		t.Fatalf("first build failed: %+v", first)
	}
	firstInfo, err := bucket.Stat(ctx, "acme/acme-installer.zip")
	if err != nil {
		t.Fatalf("stat first: %v", err)
	}

	if err := bucket.Put(ctx, SourceKey("acme"), fixtureArchive(t, true), "application/zip"); err != nil {
		t.Fatalf("reseed source: %v", err)
	}
	second := waitForJob(t, p.Registry(), p.Start("acme", testEndpoint).ID)
	if second.Status != jobs.StatusCompleted {
		t.Fatalf("second build failed: %+v", second)
	}
	secondInfo, err := bucket.Stat(ctx, "acme/acme-installer.zip")
	if err != nil {
		t.Fatalf("stat second: %v", err)
	}
	if secondInfo.Size == firstInfo.Size {
		t.Fatal("second publish did not overwrite the first")
	}
	if !secondInfo.Updated.After(firstInfo.Updated) {
		t.Fatal("metadata does not reflect the second payload")
	}
}

func TestPackagerPatchSkippedIsNotFatal(t *testing.T) {
	ctx := context.Background()
	bucket := storage.NewMemoryBucket("installers")
	if err := bucket.Put(ctx, SourceKey("acme"), fixtureArchive(t, false), "application/zip"); err != nil {
		t.Fatalf("seed source: %v", err)
	}

	p := newTestPackager(t, bucket, nil)
	final := waitForJob(t, p.Registry(), p.Start("acme", testEndpoint).ID)
	if final.Status != jobs.StatusCompleted {
		t.Fatalf("missing config asset should not fail the job: %+v", final)
	}
}

func TestPackagerStreamEvents(t *testing.T) {
	ctx := context.Background()
	bucket := storage.NewMemoryBucket("installers")
	if err := bucket.Put(ctx, SourceKey("acme"), fixtureArchive(t, true), "application/zip"); err != nil {
		t.Fatalf("seed source: %v", err)
	}

	brands, err := config.LoadBrands("")
	if err != nil {
		t.Fatalf("LoadBrands: %v", err)
	}
	bc := NewBroadcaster(0, nil)
	reg := jobs.NewMemoryRegistry(time.Hour)
	p := New(Options{
		Bucket:       bucket,
		Registry:     reg,
		Broadcaster:  bc,
		Signer:       sign.NewSigner(nil),
		Brands:       brands,
		SignedURLTTL: time.Hour,
	})

	// Open the feed before starting so no events are missed, mirroring
	// what the gateway's stream handler relies on: backlog replay.
	job := p.Start("acme", testEndpoint)
	ch, cancel, err := bc.Subscribe(job.ID)
	if err != nil {
		if !errors.Is(err, ErrNoStream) {
			t.Fatalf("Subscribe: %v", err)
		}
		// Pipeline already finished; the registry holds the outcome.
		final := waitForJob(t, reg, job.ID)
		if final.Status != jobs.StatusCompleted {
			t.Fatalf("job failed: %+v", final)
		}
		return
	}
	defer cancel()

	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				goto done
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
done:
	if len(events) == 0 {
		t.Fatal("no events received")
	}
	last := events[len(events)-1]
	if last.Status != jobs.StatusCompleted {
		t.Fatalf("last event status = %s, error = %q", last.Status, last.Error)
	}
	if last.DownloadURL == "" {
		t.Fatal("terminal event missing download url")
	}
	for _, ev := range events[:len(events)-1] {
		if ev.Status.Terminal() {
			t.Fatalf("terminal status before final event: %+v", ev)
		}
	}
}
