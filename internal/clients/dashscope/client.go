package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/molehq/molesearch-backend/internal/platform/apierr"
	"github.com/molehq/molesearch-backend/internal/platform/ctxutil"
	"github.com/molehq/molesearch-backend/internal/platform/httpx"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
)

const (
	defaultBaseURL    = "https://dashscope.aliyuncs.com"
	maxErrorBodyBytes = 1024
)

// Config is shared by every DashScope-backed adapter; one Client per
// adapter so each carries its own model id and timeout.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Client is a hand-rolled REST client for the DashScope native APIs
// (multimodal embedding, VLM conversation, async transcription). The
// OpenAI-compatible endpoints are not used here; plain text embedding
// goes through the go-openai client instead.
type Client struct {
	log  *logger.Logger
	cfg  Config
	http *http.Client
}

func NewClient(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("dashscope api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("dashscope model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{
		log:  log.With("service", "DashScopeClient", "model", cfg.Model),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// APIError is a failed DashScope call. Code is the vendor's own error
// code; ErrorKind translates it into the service taxonomy so callers
// never have to sniff message strings.
type APIError struct {
	Operation  string
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Cause      error
}

func (e *APIError) Error() string {
	if e == nil {
		return "dashscope call failed"
	}
	if e.Code != "" {
		return fmt.Sprintf("dashscope %s failed (status=%d code=%s): %s",
			e.Operation, e.StatusCode, e.Code, e.Message)
	}
	if e.Cause != nil && e.Message == "" {
		return fmt.Sprintf("dashscope %s failed: %v", e.Operation, e.Cause)
	}
	return fmt.Sprintf("dashscope %s failed (status=%d): %s", e.Operation, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Cause }

func (e *APIError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// ErrorKind maps DashScope vendor codes onto the error taxonomy.
// InvalidParameter and the DataInspection family mean the media itself
// was rejected; download wording means the provider could not fetch
// the URL; other 4xx mean processing failed after download.
func (e *APIError) ErrorKind() apierr.Kind {
	if e == nil {
		return apierr.KindService
	}
	code := strings.ToLower(e.Code)
	msg := strings.ToLower(e.Message)
	switch {
	case strings.HasPrefix(code, "datainspection"),
		code == "invalidparameter" && !strings.Contains(msg, "download"),
		strings.Contains(msg, "format is illegal"),
		strings.Contains(msg, "cannot be decoded"):
		return apierr.KindInvalidMedia
	case strings.Contains(msg, "download"),
		strings.Contains(msg, "inaccessible"),
		strings.Contains(msg, "unreachable"):
		return apierr.KindMediaDownload
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return apierr.KindMediaProcessing
	default:
		return apierr.KindService
	}
}

func (e *APIError) VendorCode() string {
	if e == nil {
		return ""
	}
	return e.Code
}

type errorEnvelope struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

func (c *Client) do(ctx context.Context, op, method, path string, in any, extraHeaders map[string]string, out any) error {
	var payload []byte
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return &APIError{Operation: op, Message: "encode request failed", Cause: err}
		}
		payload = raw
	}
	backoff := 500 * time.Millisecond
	for attempt := 0; ; attempt++ {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		resp, raw, err := c.doOnce(ctx, op, method, path, payload, extraHeaders)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return &APIError{Operation: op, Message: "decode response failed", Cause: uErr}
			}
			return nil
		}
		if !httpx.IsRetryableError(err) || attempt >= c.cfg.MaxRetries {
			return err
		}
		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("dashscope request retrying",
			"op", op,
			"attempt", attempt+1,
			"max_retries", c.cfg.MaxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
}

func (c *Client) doOnce(ctx context.Context, op, method, path string, payload []byte, extraHeaders map[string]string) (*http.Response, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, nil, &APIError{Operation: op, Message: "build request failed", Cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, classifyTransport(op, err)
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, &APIError{Operation: op, StatusCode: resp.StatusCode, Message: "read response failed", Cause: readErr}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var env errorEnvelope
		_ = json.Unmarshal(raw, &env)
		msg := env.Message
		if msg == "" {
			msg = truncateBody(raw)
		}
		return resp, raw, &APIError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			Code:       env.Code,
			Message:    msg,
			RequestID:  env.RequestID,
		}
	}
	return resp, raw, nil
}

func classifyTransport(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &APIError{Operation: op, Message: "request timed out", Cause: context.DeadlineExceeded}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &APIError{Operation: op, Message: "request timed out", Cause: err}
	}
	return &APIError{Operation: op, Message: "transport failed", Cause: err}
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}
