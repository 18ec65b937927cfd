package objectstore

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/molehq/molesearch-backend/internal/config"
	"github.com/molehq/molesearch-backend/internal/platform/ctxutil"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
)

type gcsUploader struct {
	log           *logger.Logger
	client        *storage.Client
	bucket        string
	publicBaseURL string
}

func newGCSUploader(ctx context.Context, log *logger.Logger, cfg config.ObjectStoreConfig) (Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctxutil.Default(ctx), opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &gcsUploader{
		log:           log.With("service", "GCSUploader", "bucket", cfg.Bucket),
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: cfg.PublicBaseURL,
	}, nil
}

func (u *gcsUploader) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	ctx = ctxutil.Default(ctx)
	w := u.client.Bucket(u.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write %s/%s: %w", u.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close %s/%s: %w", u.bucket, key, err)
	}
	url := publicURL(u.publicBaseURL, fmt.Sprintf("https://storage.googleapis.com/%s/%s", u.bucket, key), key)
	u.log.Debug("object uploaded", "key", key)
	return url, nil
}

func (u *gcsUploader) Close() error { return u.client.Close() }
