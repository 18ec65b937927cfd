package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure for HTTP mapping and retry decisions.
type Kind string

const (
	KindValidation      Kind = "validation_error"
	KindInvalidMedia    Kind = "invalid_media_format"
	KindMediaDownload   Kind = "media_download_error"
	KindMediaProcessing Kind = "media_processing_error"
	KindNotFound        Kind = "not_found"
	KindUnauthorized    Kind = "unauthorized"
	KindService         Kind = "service_error"
)

// Error is the one error shape that crosses component boundaries.
// VendorCode keeps the upstream provider's own code when there is one.
type Error struct {
	Kind       Kind
	Message    string
	VendorCode string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.VendorCode != "" {
		return fmt.Sprintf("%s (vendor code %s)", msg, e.VendorCode)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Ef(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Kinder lets client-specific error types report a kind without
// depending on this package's Error shape.
type Kinder interface {
	ErrorKind() Kind
}

// KindOf unwraps to the nearest kinded error; unkinded errors are
// classified by message as a legacy fallback.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	var k Kinder
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return Classify(err.Error())
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindInvalidMedia, KindMediaDownload, KindMediaProcessing:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Classify maps an error message to a kind by substring inspection.
// This survives only for errors produced outside the typed taxonomy;
// adapters should classify at the source instead.
func Classify(message string) Kind {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "image format is illegal"),
		strings.Contains(m, "cannot be opened"),
		strings.Contains(m, "unsupported media"):
		return KindInvalidMedia
	case strings.Contains(m, "download error"),
		strings.Contains(m, "download failed"),
		strings.Contains(m, "inaccessible"),
		strings.Contains(m, "unreachable"):
		return KindMediaDownload
	case strings.Contains(m, "image processing"),
		strings.Contains(m, "video processing"),
		strings.Contains(m, "audio extraction"),
		strings.Contains(m, "caption failed"),
		strings.Contains(m, "embedding failed"):
		return KindMediaProcessing
	case strings.Contains(m, "not found"):
		return KindNotFound
	default:
		return KindService
	}
}
