package handlers

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/molehq/molesearch-backend/internal/http/response"
	"github.com/molehq/molesearch-backend/internal/objectstore"
	"github.com/molehq/molesearch-backend/internal/platform/apierr"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
)

// 100 MiB; large videos should land in the bucket directly.
const maxUploadBytes = 100 << 20

// FileHandler uploads media to the object store and hands back the
// public URL; insert payloads then reference that URL.
type FileHandler struct {
	log      *logger.Logger
	uploader objectstore.Uploader
	prefix   string
}

func NewFileHandler(log *logger.Logger, uploader objectstore.Uploader, prefix string) *FileHandler {
	if prefix == "" {
		prefix = "uploads"
	}
	return &FileHandler{
		log:      log.With("handler", "FileHandler"),
		uploader: uploader,
		prefix:   strings.Trim(prefix, "/"),
	}
}

func (fh *FileHandler) Upload(c *gin.Context) {
	if fh.uploader == nil {
		response.Error(c, apierr.E(apierr.KindService, "object store is not configured"))
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, apierr.Wrap(apierr.KindValidation, "multipart field 'file' is required", err))
		return
	}
	if header.Size > maxUploadBytes {
		response.Error(c, apierr.Ef(apierr.KindValidation, "file exceeds %d bytes", maxUploadBytes))
		return
	}
	src, err := header.Open()
	if err != nil {
		response.Error(c, apierr.Wrap(apierr.KindValidation, "open uploaded file", err))
		return
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(ext)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := fmt.Sprintf("%s/%s%s", fh.prefix, uuid.NewString(), ext)
	url, err := fh.uploader.Upload(c.Request.Context(), key, src, header.Size, contentType)
	if err != nil {
		response.Error(c, err)
		return
	}
	fh.log.Info("file uploaded", "key", key, "size", header.Size, "content_type", contentType)
	response.Created(c, gin.H{
		"url":          url,
		"key":          key,
		"size":         header.Size,
		"content_type": contentType,
	})
}
