package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSBucket implements Bucket on Google Cloud Storage. When the
// credentials file is a service-account key carrying a private key, the
// bucket can mint signed download URLs; otherwise SignedURL returns
// ErrNoURLSigner and callers fall back to the plain URL.
type GCSBucket struct {
	client *gcs.Client
	bucket string
	signer *urlSigner
}

type urlSigner struct {
	email      string
	privateKey []byte
}

// serviceAccountKey is the subset of a service-account JSON file needed
// to derive a shared-key URL signer.
type serviceAccountKey struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// NewGCSBucket dials GCS. credentialsFile may be empty, in which case
// ambient credentials are used and signed URLs are unavailable.
func NewGCSBucket(ctx context.Context, bucket, credentialsFile string) (*GCSBucket, error) {
	var opts []option.ClientOption
	var signer *urlSigner
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
		signer = signerFromCredentials(credentialsFile)
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial gcs: %w", err)
	}
	return &GCSBucket{client: client, bucket: bucket, signer: signer}, nil
}

func signerFromCredentials(path string) *urlSigner {
	// #nosec G304 -- credentials path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var key serviceAccountKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return nil
	}
	return &urlSigner{email: key.ClientEmail, privateKey: []byte(key.PrivateKey)}
}

func (b *GCSBucket) Put(ctx context.Context, key string, data []byte, contentType string) error {
	wr := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
	wr.ContentType = contentType
	if _, err := wr.Write(data); err != nil {
		_ = wr.Close()
		return fmt.Errorf("upload gs://%s/%s: %w", b.bucket, key, err)
	}
	if err := wr.Close(); err != nil {
		return fmt.Errorf("finalize gs://%s/%s: %w", b.bucket, key, err)
	}
	return nil
}

func (b *GCSBucket) Get(ctx context.Context, key string) ([]byte, error) {
	rd, err := b.client.Bucket(b.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: gs://%s/%s", ErrObjectNotFound, b.bucket, key)
	}
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", b.bucket, key, err)
	}
	defer rd.Close()
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", b.bucket, key, err)
	}
	return data, nil
}

func (b *GCSBucket) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	attrs, err := b.client.Bucket(b.bucket).Object(key).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return ObjectInfo{}, fmt.Errorf("%w: gs://%s/%s", ErrObjectNotFound, b.bucket, key)
	}
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("stat gs://%s/%s: %w", b.bucket, key, err)
	}
	return ObjectInfo{Key: key, Size: attrs.Size, Updated: attrs.Updated}, nil
}

func (b *GCSBucket) Delete(ctx context.Context, key string) error {
	err := b.client.Bucket(b.bucket).Object(key).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("%w: gs://%s/%s", ErrObjectNotFound, b.bucket, key)
	}
	if err != nil {
		return fmt.Errorf("delete gs://%s/%s: %w", b.bucket, key, err)
	}
	return nil
}

func (b *GCSBucket) URL(key string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", b.bucket, key)
}

func (b *GCSBucket) SignedURL(key string, ttl time.Duration) (string, error) {
	if b.signer == nil {
		return "", ErrNoURLSigner
	}
	url, err := gcs.SignedURL(b.bucket, key, &gcs.SignedURLOptions{
		GoogleAccessID: b.signer.email,
		PrivateKey:     b.signer.privateKey,
		Method:         "GET",
		Expires:        time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("sign url for gs://%s/%s: %w", b.bucket, key, err)
	}
	return url, nil
}

// Close releases the underlying client.
func (b *GCSBucket) Close() error {
	return b.client.Close()
}
