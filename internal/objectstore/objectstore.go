package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/molehq/molesearch-backend/internal/config"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
)

// Uploader writes one object and returns its public URL. The audio
// extraction flow is the only producer; the returned URL is handed to
// the ASR provider, so it must be reachable from outside.
type Uploader interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Close() error
}

// New selects the uploader implementation from config.
func New(ctx context.Context, log *logger.Logger, cfg config.ObjectStoreConfig) (Uploader, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "s3", "oss", "minio":
		return newS3Uploader(log, cfg)
	case "gcs":
		return newGCSUploader(ctx, log, cfg)
	default:
		return nil, fmt.Errorf("unsupported object store provider %q", cfg.Provider)
	}
}

func publicURL(base, fallback, key string) string {
	if base != "" {
		return strings.TrimRight(base, "/") + "/" + key
	}
	return fallback
}
