package elastic

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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/molehq/molesearch-backend/internal/platform/ctxutil"
	"github.com/molehq/molesearch-backend/internal/platform/httpx"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
	"github.com/molehq/molesearch-backend/internal/search"
)

const maxErrorBodyBytes = 1024

// Config carries everything the engine needs to reach one index.
// Dimensions is keyed by vector field name; missing entries default
// to 1024.
type Config struct {
	BaseURL       string
	Index         string
	Username      string
	Password      string
	Timeout       time.Duration
	MaxRetries    int
	BatchSize     int
	RefreshPolicy string
	Dimensions    map[string]int
}

func (c Config) dimensionFor(field string) int {
	if d, ok := c.Dimensions[field]; ok && d > 0 {
		return d
	}
	return 1024
}

type engine struct {
	log  *logger.Logger
	cfg  Config
	http *http.Client

	mu    sync.Mutex
	ready bool
}

// NewEngine builds the Elasticsearch-backed index engine. No network
// traffic happens here; the index schema is ensured on first use.
func NewEngine(log *logger.Logger, cfg Config) (search.Engine, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("elasticsearch base url is required")
	}
	if strings.TrimSpace(cfg.Index) == "" {
		return nil, fmt.Errorf("elasticsearch index name is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RefreshPolicy == "" {
		cfg.RefreshPolicy = "wait_for"
	}
	switch cfg.RefreshPolicy {
	case "wait_for", "true", "false":
	default:
		return nil, fmt.Errorf("unsupported refresh policy %q", cfg.RefreshPolicy)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &engine{
		log:  log.With("service", "ElasticEngine", "index", cfg.Index),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// ensureReady creates the index with its mapping the first time any
// operation runs. Failures are not cached so a transient outage at
// startup does not poison the engine.
func (e *engine) ensureReady(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return nil
	}
	exists, err := e.indexExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		if err := e.do(ctx, "create_index", http.MethodPut, e.indexPath(""), e.indexMapping(), nil); err != nil {
			return err
		}
		e.log.Info("search index created", "dims", e.cfg.Dimensions)
	}
	e.ready = true
	return nil
}

func (e *engine) indexExists(ctx context.Context) (bool, error) {
	const op = "index_exists"
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodHead, e.cfg.BaseURL+e.indexPath(""), nil)
	if err != nil {
		return false, opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	e.authorize(req)
	resp, err := e.http.Do(req)
	if err != nil {
		return false, classifyCallError(op, "index existence check failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, &OperationError{
			Code:       OperationErrorRequestFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("index existence check returned status=%d", resp.StatusCode),
		}
	}
}

func (e *engine) indexMapping() map[string]any {
	props := map[string]any{
		"text":             map[string]any{"type": "text", "analyzer": "standard"},
		"image_url":        map[string]any{"type": "keyword"},
		"video_url":        map[string]any{"type": "keyword"},
		"image_caption":    map[string]any{"type": "text", "analyzer": "standard"},
		"video_transcript": map[string]any{"type": "text", "analyzer": "standard"},
	}
	for _, f := range search.VectorFields {
		props[f] = map[string]any{
			"type":       "dense_vector",
			"dims":       e.cfg.dimensionFor(f),
			"index":      true,
			"similarity": "cosine",
		}
	}
	return map[string]any{"mappings": map[string]any{"properties": props}}
}

type esSearchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string          `json:"_id"`
			Score  *float64        `json:"_score"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

type esDocSource struct {
	Text            string `json:"text"`
	ImageURL        string `json:"image_url"`
	VideoURL        string `json:"video_url"`
	ImageCaption    string `json:"image_caption"`
	VideoTranscript string `json:"video_transcript"`
}

func (e *engine) Search(ctx context.Context, q search.Query) ([]search.Hit, error) {
	const op = "search"
	if err := e.ensureReady(ctx); err != nil {
		return nil, err
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}
	body, err := e.buildSearchBody(q, topK)
	if err != nil {
		return nil, err
	}
	var resp esSearchResponse
	if err := e.do(ctx, op, http.MethodPost, e.indexPath("/_search"), body, &resp); err != nil {
		return nil, err
	}
	hits, err := e.decodeHits(op, resp)
	if err != nil {
		return nil, err
	}
	e.log.Debug("search executed", "clauses", len(q.Embeddings), "has_text", q.Text != "", "hits", len(hits))
	return hits, nil
}

// buildSearchBody assembles the hybrid disjunction: one lexical
// multi_match plus one script_score clause per labeled vector. With
// no clauses at all the query degenerates to match_all.
func (e *engine) buildSearchBody(q search.Query, topK int) (map[string]any, error) {
	const op = "search"
	should := make([]any, 0, 1+len(q.Embeddings))
	if strings.TrimSpace(q.Text) != "" {
		should = append(should, map[string]any{
			"multi_match": map[string]any{
				"query":  q.Text,
				"fields": []string{"text^2", "image_caption", "video_transcript"},
				"type":   "best_fields",
			},
		})
	}
	for _, emb := range q.Embeddings {
		field := search.MapLabel(emb.Label)
		if err := e.checkDimension(op, field, emb); err != nil {
			return nil, err
		}
		should = append(should, map[string]any{
			"script_score": map[string]any{
				"query": map[string]any{"match_all": map[string]any{}},
				"script": map[string]any{
					"source": fmt.Sprintf("cosineSimilarity(params.query_vector, '%s') + 1.0", field),
					"params": map[string]any{"query_vector": emb.Vector},
				},
			},
		})
	}
	if len(should) == 0 {
		return map[string]any{
			"query": map[string]any{"match_all": map[string]any{}},
			"size":  topK,
		}, nil
	}
	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"should":               should,
				"minimum_should_match": 1,
			},
		},
		"size": topK,
	}, nil
}

func (e *engine) checkDimension(op, field string, emb search.Embedding) error {
	if len(emb.Vector) == 0 {
		return opErr(op, OperationErrorValidation,
			fmt.Sprintf("embedding %q has an empty vector", emb.Label), nil)
	}
	if want := e.cfg.dimensionFor(field); len(emb.Vector) != want {
		return opErr(op, OperationErrorValidation,
			fmt.Sprintf("embedding %q dimension mismatch for field %s: expected=%d got=%d",
				emb.Label, field, want, len(emb.Vector)), nil)
	}
	return nil
}

func (e *engine) Insert(ctx context.Context, doc search.Document) (string, error) {
	const op = "insert"
	if err := e.ensureReady(ctx); err != nil {
		return "", err
	}
	body, err := e.buildDocument(op, doc)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := e.do(ctx, op, http.MethodPut, e.indexPath("/_doc/"+id), body, nil); err != nil {
		return "", err
	}
	if err := e.refresh(ctx, op); err != nil {
		return "", err
	}
	e.log.Info("document indexed", "doc_id", id)
	return id, nil
}

func (e *engine) buildDocument(op string, doc search.Document) (map[string]any, error) {
	out := map[string]any{
		"text":             doc.Text,
		"image_url":        doc.ImageURL,
		"video_url":        doc.VideoURL,
		"image_caption":    doc.ImageCaption,
		"video_transcript": doc.VideoTranscript,
	}
	for _, emb := range doc.Embeddings {
		field := search.MapLabel(emb.Label)
		if err := e.checkDimension(op, field, emb); err != nil {
			return nil, err
		}
		out[field] = emb.Vector
	}
	return out, nil
}

type esBulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string          `json:"_id"`
		Status int             `json:"status"`
		Error  json.RawMessage `json:"error"`
	} `json:"items"`
}

func (e *engine) BulkInsert(ctx context.Context, docs []search.Document) ([]string, error) {
	const op = "bulk_insert"
	if err := e.ensureReady(ctx); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return []string{}, nil
	}
	ids := make([]string, 0, len(docs))
	for start := 0; start < len(docs); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(docs) {
			end = len(docs)
		}
		chunkIDs, err := e.bulkChunk(ctx, docs[start:end])
		if err != nil {
			return nil, err
		}
		ids = append(ids, chunkIDs...)
	}
	// wait_for already guarantees visibility per chunk.
	if e.cfg.RefreshPolicy != "wait_for" {
		if err := e.refresh(ctx, op); err != nil {
			return nil, err
		}
	}
	e.log.Info("bulk insert committed", "count", len(ids), "refresh_policy", e.cfg.RefreshPolicy)
	return ids, nil
}

func (e *engine) bulkChunk(ctx context.Context, docs []search.Document) ([]string, error) {
	const op = "bulk_insert"
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		body, err := e.buildDocument(op, doc)
		if err != nil {
			return nil, err
		}
		id := uuid.NewString()
		action := map[string]any{"index": map[string]any{"_index": e.cfg.Index, "_id": id}}
		if err := enc.Encode(action); err != nil {
			return nil, opErr(op, OperationErrorEncodeFailed, "encode bulk action failed", err)
		}
		if err := enc.Encode(body); err != nil {
			return nil, opErr(op, OperationErrorEncodeFailed, "encode bulk document failed", err)
		}
		ids = append(ids, id)
	}
	path := e.indexPath("/_bulk") + "?refresh=" + e.cfg.RefreshPolicy
	var resp esBulkResponse
	if err := e.doRaw(ctx, op, http.MethodPost, path, "application/x-ndjson", buf.Bytes(), &resp); err != nil {
		return nil, err
	}
	if resp.Errors {
		return nil, opErr(op, OperationErrorRequestFailed, firstBulkFailure(resp), nil)
	}
	return ids, nil
}

func firstBulkFailure(resp esBulkResponse) string {
	for _, item := range resp.Items {
		for _, result := range item {
			if len(result.Error) > 0 && string(result.Error) != "null" {
				return fmt.Sprintf("bulk item %s failed with status=%d: %s",
					result.ID, result.Status, truncateBody(result.Error))
			}
		}
	}
	return "bulk request reported item failures"
}

func (e *engine) List(ctx context.Context, page, pageSize int) (search.ListResult, error) {
	const op = "list"
	if page < 1 {
		return search.ListResult{}, opErr(op, OperationErrorValidation,
			fmt.Sprintf("page must be >= 1; got %d", page), nil)
	}
	if pageSize < 1 || pageSize > 100 {
		return search.ListResult{}, opErr(op, OperationErrorValidation,
			fmt.Sprintf("page_size must be in [1,100]; got %d", pageSize), nil)
	}
	if err := e.ensureReady(ctx); err != nil {
		return search.ListResult{}, err
	}
	body := map[string]any{
		"query": map[string]any{"match_all": map[string]any{}},
		"from":  (page - 1) * pageSize,
		"size":  pageSize,
		"sort":  []any{map[string]any{"_id": map[string]any{"order": "desc"}}},
	}
	var resp esSearchResponse
	if err := e.do(ctx, op, http.MethodPost, e.indexPath("/_search"), body, &resp); err != nil {
		return search.ListResult{}, err
	}
	hits, err := e.decodeHits(op, resp)
	if err != nil {
		return search.ListResult{}, err
	}
	return search.ListResult{Total: resp.Hits.Total.Value, Items: hits}, nil
}

func (e *engine) decodeHits(op string, resp esSearchResponse) ([]search.Hit, error) {
	hits := make([]search.Hit, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		var src esDocSource
		if len(h.Source) > 0 {
			if err := json.Unmarshal(h.Source, &src); err != nil {
				return nil, opErr(op, OperationErrorDecodeFailed, "decode document source failed", err)
			}
		}
		score := 0.0
		if h.Score != nil {
			score = *h.Score
		}
		hits = append(hits, search.Hit{
			ID:              h.ID,
			Text:            src.Text,
			ImageURL:        src.ImageURL,
			VideoURL:        src.VideoURL,
			ImageCaption:    src.ImageCaption,
			VideoTranscript: src.VideoTranscript,
			Score:           score,
		})
	}
	return hits, nil
}

func (e *engine) DeleteAll(ctx context.Context) error {
	const op = "delete_all"
	if err := e.ensureReady(ctx); err != nil {
		return err
	}
	body := map[string]any{"query": map[string]any{"match_all": map[string]any{}}}
	if err := e.do(ctx, op, http.MethodPost, e.indexPath("/_delete_by_query"), body, nil); err != nil {
		return err
	}
	if err := e.refresh(ctx, op); err != nil {
		return err
	}
	e.log.Warn("all documents deleted")
	return nil
}

func (e *engine) Close(ctx context.Context) error {
	e.http.CloseIdleConnections()
	e.log.Info("elasticsearch connections released")
	return nil
}

func (e *engine) refresh(ctx context.Context, op string) error {
	return e.do(ctx, op, http.MethodPost, e.indexPath("/_refresh"), nil, nil)
}

func (e *engine) indexPath(suffix string) string {
	return "/" + e.cfg.Index + suffix
}

func (e *engine) authorize(req *http.Request) {
	if e.cfg.Username != "" {
		req.SetBasicAuth(e.cfg.Username, e.cfg.Password)
	}
}

type esHTTPError struct {
	StatusCode int
	Body       string
}

func (e *esHTTPError) Error() string {
	return fmt.Sprintf("elasticsearch http %d: %s", e.StatusCode, e.Body)
}

func (e *esHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (e *engine) do(ctx context.Context, op, method, path string, in any, out any) error {
	var payload []byte
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		payload = raw
	}
	return e.doRaw(ctx, op, method, path, "application/json", payload, out)
}

func (e *engine) doRaw(ctx context.Context, op, method, path, contentType string, payload []byte, out any) error {
	backoff := 500 * time.Millisecond
	for attempt := 0; ; attempt++ {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		resp, raw, err := e.doOnce(ctx, method, path, contentType, payload)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return opErr(op, OperationErrorDecodeFailed, "decode response failed", uErr)
			}
			return nil
		}
		if !httpx.IsRetryableError(err) || attempt >= e.cfg.MaxRetries {
			return wrapCallError(op, err)
		}
		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		e.log.Warn("elasticsearch request retrying",
			"op", op,
			"path", path,
			"attempt", attempt+1,
			"max_retries", e.cfg.MaxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
}

func (e *engine) doOnce(ctx context.Context, method, path, contentType string, payload []byte) (*http.Response, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, e.cfg.BaseURL+path, body)
	if err != nil {
		return nil, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", contentType)
	}
	e.authorize(req)

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &esHTTPError{StatusCode: resp.StatusCode, Body: truncateBody(raw)}
	}
	return resp, raw, nil
}

func wrapCallError(op string, err error) error {
	var oe *OperationError
	if errors.As(err, &oe) {
		return err
	}
	var httpErr *esHTTPError
	if errors.As(err, &httpErr) {
		return &OperationError{
			Code:       OperationErrorRequestFailed,
			Operation:  op,
			StatusCode: httpErr.StatusCode,
			Message:    httpErr.Body,
			Cause:      err,
		}
	}
	return classifyCallError(op, "elasticsearch request failed", err)
}

func classifyCallError(op, message string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}
