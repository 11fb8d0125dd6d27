package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigAsset    = "assets/config.js"
	defaultLegacyEndpoint = "https://pos.paydeck.example.com"
)

// BrandsConfig describes per-deployment packaging knobs: which brands must
// ship a dedicated source archive, and how the embedded endpoint asset is
// located inside it.
type BrandsConfig struct {
	// DedicatedOnly lists brand keys that never fall back to the shared
	// base archive.
	DedicatedOnly []string `yaml:"dedicated_only"`
	// ConfigAsset is the archive path of the text asset holding the
	// endpoint assignment.
	ConfigAsset string `yaml:"config_asset"`
	// LegacyEndpoint is the hard-coded default URL replaced when the
	// structured assignment pattern is not found.
	LegacyEndpoint string `yaml:"legacy_endpoint"`
}

// LoadBrands loads a YAML brands file; returns defaults if missing.
func LoadBrands(path string) (*BrandsConfig, error) {
	if path == "" {
		return defaultBrands(), nil
	}
	// #nosec G304 -- brands config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return defaultBrands(), fmt.Errorf("read brands config: %w", err)
	}
	var cfg BrandsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return defaultBrands(), fmt.Errorf("parse brands config: %w", err)
	}
	def := defaultBrands()
	if cfg.ConfigAsset == "" {
		cfg.ConfigAsset = def.ConfigAsset
	}
	if cfg.LegacyEndpoint == "" {
		cfg.LegacyEndpoint = def.LegacyEndpoint
	}
	return &cfg, nil
}

// RequiresDedicated reports whether the brand must ship its own archive.
func (c *BrandsConfig) RequiresDedicated(brandKey string) bool {
	if c == nil {
		return false
	}
	for _, b := range c.DedicatedOnly {
		if b == brandKey {
			return true
		}
	}
	return false
}

func defaultBrands() *BrandsConfig {
	return &BrandsConfig{
		ConfigAsset:    defaultConfigAsset,
		LegacyEndpoint: defaultLegacyEndpoint,
	}
}
