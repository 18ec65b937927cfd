package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/molehq/molesearch-backend/internal/config"
	"github.com/molehq/molesearch-backend/internal/platform/ctxutil"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
)

// s3Uploader covers every S3-compatible target: MinIO, AWS S3 and
// Aliyun OSS all speak the same wire protocol through minio-go.
type s3Uploader struct {
	log           *logger.Logger
	client        *minio.Client
	bucket        string
	publicBaseURL string
}

func newS3Uploader(log *logger.Logger, cfg config.ObjectStoreConfig) (Uploader, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.AccessKeySecret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return &s3Uploader{
		log:           log.With("service", "S3Uploader", "bucket", cfg.Bucket),
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: cfg.PublicBaseURL,
	}, nil
}

func (u *s3Uploader) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	info, err := u.client.PutObject(ctxutil.Default(ctx), u.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s/%s: %w", u.bucket, key, err)
	}
	url := publicURL(u.publicBaseURL, u.client.EndpointURL().String()+"/"+u.bucket+"/"+key, key)
	u.log.Debug("object uploaded", "key", key, "size", info.Size)
	return url, nil
}

func (u *s3Uploader) Close() error { return nil }
