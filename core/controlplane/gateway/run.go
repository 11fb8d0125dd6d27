package gateway

import (
	"context"
	"fmt"
	"os"

	"github.com/paydeck/packager/core/apk/sign"
	"github.com/paydeck/packager/core/infra/bus"
	"github.com/paydeck/packager/core/infra/config"
	"github.com/paydeck/packager/core/infra/logging"
	"github.com/paydeck/packager/core/infra/metrics"
	"github.com/paydeck/packager/core/packaging"
	"github.com/paydeck/packager/core/packaging/jobs"
	"github.com/paydeck/packager/core/storage"
)

// Run wires the gateway's collaborators from configuration and serves
// until the HTTP listener fails.
func Run(cfg *config.Config) error {
	ctx := context.Background()

	brands, err := config.LoadBrands(cfg.BrandsConfigPath)
	if err != nil {
		logging.Error("gateway", "brands config unavailable, using defaults", "error", err)
	}

	bucket, err := storage.NewGCSBucket(ctx, cfg.Bucket, cfg.CredentialsFile)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer bucket.Close()

	var registry jobs.Registry
	if cfg.RedisURL != "" {
		redisReg, err := jobs.NewRedisRegistry(cfg.RedisURL, cfg.JobRetention)
		if err != nil {
			return fmt.Errorf("job registry: %w", err)
		}
		defer redisReg.Close()
		registry = redisReg
		logging.Info("gateway", "using redis job registry")
	} else {
		registry = jobs.NewMemoryRegistry(cfg.JobRetention)
	}
	go jobs.RunPruner(ctx, registry, cfg.JobRetention/4)

	var eventBus bus.Bus
	if cfg.NatsURL != "" {
		natsBus, err := bus.NewNatsBus(cfg.NatsURL)
		if err != nil {
			logging.Error("gateway", "event bus unavailable, continuing without", "error", err)
		} else {
			defer natsBus.Close()
			eventBus = natsBus
			logging.Info("gateway", "mirroring job events to nats")
		}
	}

	signer := loadSigner(cfg)

	packager := packaging.New(packaging.Options{
		Bucket:       bucket,
		Registry:     registry,
		Broadcaster:  packaging.NewBroadcaster(cfg.KeepAliveInterval, eventBus),
		Signer:       signer,
		Brands:       brands,
		Metrics:      metrics.NewProm("packager"),
		SignedURLTTL: cfg.SignedURLTTL,
	})

	srv := New(Options{
		Packager:     packager,
		Bucket:       bucket,
		Metrics:      metrics.NewGatewayProm("packager"),
		SignedURLTTL: cfg.SignedURLTTL,
	})
	return srv.Run(cfg.HTTPAddr, cfg.MetricsAddr)
}

// loadSigner pins the signing identity from operator PEM files when both
// are configured, otherwise lets the signer generate one per process.
func loadSigner(cfg *config.Config) *sign.Signer {
	if cfg.SigningKeyFile == "" || cfg.SigningCertFile == "" {
		return sign.NewSigner(nil)
	}
	keyPEM, err := os.ReadFile(cfg.SigningKeyFile)
	if err != nil {
		logging.Error("gateway", "read signing key failed, generating identity", "error", err)
		return sign.NewSigner(nil)
	}
	certPEM, err := os.ReadFile(cfg.SigningCertFile)
	if err != nil {
		logging.Error("gateway", "read signing cert failed, generating identity", "error", err)
		return sign.NewSigner(nil)
	}
	identity, err := sign.LoadIdentity(keyPEM, certPEM)
	if err != nil {
		logging.Error("gateway", "load signing identity failed, generating identity", "error", err)
		return sign.NewSigner(nil)
	}
	logging.Info("gateway", "signing identity loaded", "cert", cfg.SigningCertFile)
	return sign.NewSigner(identity)
}
