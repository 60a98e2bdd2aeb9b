package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSConfig configures a Google Cloud Storage bucket backend.
type GCSConfig struct {
	// Bucket is the bucket name.
	Bucket string
	// CredentialsFile is an optional service-account JSON path. When empty
	// application default credentials are used.
	CredentialsFile string
}

// GCSStore keeps objects in a Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore dials Cloud Storage.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("objectstore: gcs bucket is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads r to key.
func (s *GCSStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType == "" {
		contentType = ContentType(key)
	}
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("objectstore: upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("objectstore: finalize %s: %w", key, err)
	}
	return nil
}

// Get opens a reader on key.
func (s *GCSStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("objectstore: download %s: %w", key, err)
	}
	return rc, nil
}

// Delete removes key.
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrNotExist
	}
	if err != nil {
		return fmt.Errorf("objectstore: delete %s: %w", key, err)
	}
	return nil
}

// Name returns the dependency label used in readiness responses.
func (s *GCSStore) Name() string { return "gcs" }

// Ping reads the bucket attributes.
func (s *GCSStore) Ping(ctx context.Context) error {
	if _, err := s.client.Bucket(s.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("objectstore: gcs: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *GCSStore) Close() error { return s.client.Close() }
