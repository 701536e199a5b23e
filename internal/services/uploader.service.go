package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"sentinel/internal/config"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Uploader pushes a finished archive file to remote storage. It is the only
// remote-sync surface the backup manager knows about.
type Uploader interface {
	Upload(ctx context.Context, localPath, name string) error
}

// GCSUploader copies archives into a Cloud Storage bucket
type GCSUploader struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSUploader creates a client from the upload configuration. A credentials
// file is optional; without one the default application credentials are used.
func NewGCSUploader(ctx context.Context, cfg config.UploadConfig) (*GCSUploader, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}
	return &GCSUploader{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Upload streams localPath to gs://bucket/prefix/name
func (u *GCSUploader) Upload(ctx context.Context, localPath, name string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	object := path.Join(u.prefix, name)
	w := u.client.Bucket(u.bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/zstd"
	w.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("copy %s to gs://%s/%s: %w", localPath, u.bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for gs://%s/%s: %w", u.bucket, object, err)
	}
	return nil
}

// Close releases the storage client
func (u *GCSUploader) Close() error {
	return u.client.Close()
}
