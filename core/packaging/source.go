package packaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/paydeck/packager/core/infra/config"
	"github.com/paydeck/packager/core/storage"
)

const baseSourceKey = "sources/base.apk"

// SourceKey is the storage key of a brand's dedicated source archive.
func SourceKey(brandKey string) string {
	return "sources/" + brandKey + ".apk"
}

// PublishKey is the storage key a brand's installer bundle is published
// under. Publishing is idempotent replacement: a new build overwrites the
// previous one at the same key.
func PublishKey(brandKey string) string {
	return fmt.Sprintf("%s/%s-installer.zip", brandKey, brandKey)
}

// resolveSource fetches the brand's source archive. Brands outside the
// dedicated-only list fall back to the shared base archive; the key that
// was actually used is returned for auditability.
func resolveSource(ctx context.Context, bucket storage.Bucket, brands *config.BrandsConfig, brandKey string) ([]byte, string, error) {
	brandKeyPath := SourceKey(brandKey)
	data, err := bucket.Get(ctx, brandKeyPath)
	if err == nil {
		return data, brandKeyPath, nil
	}
	if !errors.Is(err, storage.ErrObjectNotFound) {
		return nil, "", fmt.Errorf("fetch source archive %s: %w", brandKeyPath, err)
	}

	if brands.RequiresDedicated(brandKey) {
		return nil, "", fmt.Errorf("%w: upload the brand archive to %s", ErrSourceNotFound, brandKeyPath)
	}

	data, err = bucket.Get(ctx, baseSourceKey)
	if err == nil {
		return data, baseSourceKey, nil
	}
	if !errors.Is(err, storage.ErrObjectNotFound) {
		return nil, "", fmt.Errorf("fetch base archive %s: %w", baseSourceKey, err)
	}
	return nil, "", fmt.Errorf("%w: upload the brand archive to %s or a shared base to %s",
		ErrSourceNotFound, brandKeyPath, baseSourceKey)
}
