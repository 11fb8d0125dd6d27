package config

import (
	"os"
	"time"
)

const (
	defaultHTTPAddr      = ":8080"
	defaultMetricsAddr   = ":9090"
	defaultBucket        = "paydeck-installers"
	defaultBrandsConfig  = "config/brands.yaml"
	defaultKeepAlive     = 10 * time.Second
	defaultJobRetention  = time.Hour
	defaultSignedURLTTL  = 24 * time.Hour
	envHTTPAddr          = "PACKAGER_HTTP_ADDR"
	envMetricsAddr       = "PACKAGER_METRICS_ADDR"
	envBucket            = "PACKAGER_BUCKET"
	envCredentialsFile   = "PACKAGER_CREDENTIALS_FILE"
	envBrandsConfigPath  = "BRANDS_CONFIG_PATH"
	envRedisURL          = "REDIS_URL"
	envNATSURL           = "NATS_URL"
	envSigningKeyFile    = "SIGNING_KEY_FILE"
	envSigningCertFile   = "SIGNING_CERT_FILE"
	envKeepAliveInterval = "PROGRESS_KEEPALIVE_INTERVAL"
	envJobRetention      = "JOB_RETENTION"
	envSignedURLTTL      = "SIGNED_URL_TTL"
)

// Config holds runtime configuration for the packager gateway.
type Config struct {
	HTTPAddr          string
	MetricsAddr       string
	Bucket            string
	CredentialsFile   string
	BrandsConfigPath  string
	RedisURL          string
	NatsURL           string
	SigningKeyFile    string
	SigningCertFile   string
	KeepAliveInterval time.Duration
	JobRetention      time.Duration
	SignedURLTTL      time.Duration
}

// Load returns configuration using environment variables with sane defaults.
func Load() *Config {
	return &Config{
		HTTPAddr:          envOr(envHTTPAddr, defaultHTTPAddr),
		MetricsAddr:       envOr(envMetricsAddr, defaultMetricsAddr),
		Bucket:            envOr(envBucket, defaultBucket),
		CredentialsFile:   os.Getenv(envCredentialsFile),
		BrandsConfigPath:  envOr(envBrandsConfigPath, defaultBrandsConfig),
		RedisURL:          os.Getenv(envRedisURL),
		NatsURL:           os.Getenv(envNATSURL),
		SigningKeyFile:    os.Getenv(envSigningKeyFile),
		SigningCertFile:   os.Getenv(envSigningCertFile),
		KeepAliveInterval: durationOr(envKeepAliveInterval, defaultKeepAlive),
		JobRetention:      durationOr(envJobRetention, defaultJobRetention),
		SignedURLTTL:      durationOr(envSignedURLTTL, defaultSignedURLTTL),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
