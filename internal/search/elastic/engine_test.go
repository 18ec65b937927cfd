package elastic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/molehq/molesearch-backend/internal/platform/apierr"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
	"github.com/molehq/molesearch-backend/internal/search"
)

const testDim = 3

// recorder captures every request the engine sends so tests can
// assert on the exact bodies.
type recorder struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request, body []byte) bool
}

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   []byte
}

func (rec *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rec.mu.Lock()
	rec.requests = append(rec.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Body:   body,
	})
	rec.mu.Unlock()

	if rec.handler != nil && rec.handler(w, r, body) {
		return
	}
	// Defaults: the index exists and every mutation succeeds.
	switch {
	case r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case strings.HasSuffix(r.URL.Path, "/_search"):
		_, _ = w.Write([]byte(`{"hits":{"total":{"value":0},"hits":[]}}`))
	case strings.HasSuffix(r.URL.Path, "/_bulk"):
		_, _ = w.Write([]byte(`{"errors":false,"items":[]}`))
	default:
		_, _ = w.Write([]byte(`{}`))
	}
}

func (rec *recorder) byPath(suffix string) []recordedRequest {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	var out []recordedRequest
	for _, r := range rec.requests {
		if strings.HasSuffix(r.Path, suffix) {
			out = append(out, r)
		}
	}
	return out
}

func newTestEngine(t *testing.T, rec *recorder, mutate func(*Config)) search.Engine {
	t.Helper()
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	cfg := Config{
		BaseURL:       srv.URL,
		Index:         "test-index",
		RefreshPolicy: "wait_for",
		Dimensions: map[string]int{
			search.FieldTextEmbedding:            testDim,
			search.FieldImageEmbedding:           testDim,
			search.FieldVideoEmbedding:           testDim,
			search.FieldImageCaptionEmbedding:    testDim,
			search.FieldVideoTranscriptEmbedding: testDim,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	eng, err := NewEngine(log, cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng
}

func vec() []float32 { return []float32{0.1, 0.2, 0.3} }

func decodeJSON(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode body: %v\n%s", err, raw)
	}
	return out
}

func TestSearchBuildsHybridQuery(t *testing.T) {
	rec := &recorder{
		handler: func(w http.ResponseWriter, r *http.Request, body []byte) bool {
			if strings.HasSuffix(r.URL.Path, "/_search") {
				_, _ = w.Write([]byte(`{"hits":{"total":{"value":1},"hits":[
					{"_id":"doc-1","_score":2.5,"_source":{"text":"a cat","image_url":"https://img/cat.jpg"}}
				]}}`))
				return true
			}
			return false
		},
	}
	eng := newTestEngine(t, rec, nil)

	hits, err := eng.Search(context.Background(), search.Query{
		Text: "cat",
		Embeddings: []search.Embedding{
			{Label: "text_embedding", Vector: vec()},
			{Label: "image_embedding", Vector: vec()},
		},
		TopK: 7,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "doc-1" || hits[0].Score != 2.5 || hits[0].Text != "a cat" {
		t.Fatalf("hits: %+v", hits)
	}

	searches := rec.byPath("/_search")
	if len(searches) != 1 {
		t.Fatalf("search requests: %d", len(searches))
	}
	body := decodeJSON(t, searches[0].Body)
	if got := body["size"].(float64); got != 7 {
		t.Fatalf("size: got %v", got)
	}
	boolQ := body["query"].(map[string]any)["bool"].(map[string]any)
	if got := boolQ["minimum_should_match"].(float64); got != 1 {
		t.Fatalf("minimum_should_match: got %v", got)
	}
	should := boolQ["should"].([]any)
	if len(should) != 3 {
		t.Fatalf("should clauses: got %d, want lexical + 2 vectors", len(should))
	}

	mm := should[0].(map[string]any)["multi_match"].(map[string]any)
	if mm["query"] != "cat" || mm["type"] != "best_fields" {
		t.Fatalf("multi_match: %+v", mm)
	}
	fields := mm["fields"].([]any)
	if len(fields) != 3 || fields[0] != "text^2" || fields[1] != "image_caption" || fields[2] != "video_transcript" {
		t.Fatalf("multi_match fields: %+v", fields)
	}

	wantSources := []string{
		"cosineSimilarity(params.query_vector, 'text_embedding') + 1.0",
		"cosineSimilarity(params.query_vector, 'image_embedding') + 1.0",
	}
	for i, want := range wantSources {
		script := should[i+1].(map[string]any)["script_score"].(map[string]any)["script"].(map[string]any)
		if script["source"] != want {
			t.Fatalf("script source %d: got %v want %v", i, script["source"], want)
		}
		params := script["params"].(map[string]any)["query_vector"].([]any)
		if len(params) != testDim {
			t.Fatalf("query_vector length: got %d", len(params))
		}
	}
}

func TestSearchWithoutClausesDegeneratesToMatchAll(t *testing.T) {
	rec := &recorder{}
	eng := newTestEngine(t, rec, nil)

	if _, err := eng.Search(context.Background(), search.Query{TopK: 5}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	body := decodeJSON(t, rec.byPath("/_search")[0].Body)
	if _, ok := body["query"].(map[string]any)["match_all"]; !ok {
		t.Fatalf("expected match_all query, got %v", body["query"])
	}
}

func TestSearchRejectsDimensionMismatch(t *testing.T) {
	rec := &recorder{}
	eng := newTestEngine(t, rec, nil)

	_, err := eng.Search(context.Background(), search.Query{
		Embeddings: []search.Embedding{{Label: "text_embedding", Vector: []float32{0.1}}},
	})
	if apierr.KindOf(err) != apierr.KindValidation {
		t.Fatalf("want Validation, got %v", err)
	}
	if len(rec.byPath("/_search")) != 0 {
		t.Fatalf("search must not reach the cluster on a bad vector")
	}

	_, err = eng.Search(context.Background(), search.Query{
		Embeddings: []search.Embedding{{Label: "text_embedding"}},
	})
	if apierr.KindOf(err) != apierr.KindValidation {
		t.Fatalf("empty vector: want Validation, got %v", err)
	}
}

func TestInsertCreatesIndexOnFirstUse(t *testing.T) {
	rec := &recorder{
		handler: func(w http.ResponseWriter, r *http.Request, body []byte) bool {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return true
			}
			return false
		},
	}
	eng := newTestEngine(t, rec, nil)

	id, err := eng.Insert(context.Background(), search.Document{
		Text:       "hello",
		Embeddings: []search.Embedding{{Label: "text_embedding", Vector: vec()}},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id == "" {
		t.Fatalf("empty document id")
	}

	creates := rec.byPath("/test-index")
	var createBody []byte
	for _, r := range creates {
		if r.Method == http.MethodPut {
			createBody = r.Body
		}
	}
	if createBody == nil {
		t.Fatalf("index was never created")
	}
	mapping := decodeJSON(t, createBody)
	props := mapping["mappings"].(map[string]any)["properties"].(map[string]any)
	for _, f := range search.VectorFields {
		vf, ok := props[f].(map[string]any)
		if !ok {
			t.Fatalf("mapping missing vector field %s", f)
		}
		if vf["type"] != "dense_vector" || vf["dims"].(float64) != testDim || vf["similarity"] != "cosine" {
			t.Fatalf("vector field %s mapping: %+v", f, vf)
		}
	}

	docs := rec.byPath("/_doc/" + id)
	if len(docs) != 1 {
		t.Fatalf("doc index requests: %d", len(docs))
	}
	doc := decodeJSON(t, docs[0].Body)
	if doc["text"] != "hello" {
		t.Fatalf("doc body: %+v", doc)
	}
	if _, ok := doc["text_embedding"]; !ok {
		t.Fatalf("doc missing text_embedding vector")
	}
	if len(rec.byPath("/_refresh")) != 1 {
		t.Fatalf("insert must refresh the index")
	}
}

func TestBulkInsertChunksByBatchSize(t *testing.T) {
	rec := &recorder{}
	eng := newTestEngine(t, rec, func(cfg *Config) { cfg.BatchSize = 2 })

	docs := make([]search.Document, 5)
	for i := range docs {
		docs[i] = search.Document{
			Text:       "doc",
			Embeddings: []search.Embedding{{Label: "text_embedding", Vector: vec()}},
		}
	}
	ids, err := eng.BulkInsert(context.Background(), docs)
	if err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}
	if len(ids) != 5 {
		t.Fatalf("ids: got %d", len(ids))
	}

	bulks := rec.byPath("/_bulk")
	if len(bulks) != 3 {
		t.Fatalf("bulk requests: got %d, want 3 chunks of <=2", len(bulks))
	}
	for i, r := range bulks {
		if r.Query != "refresh=wait_for" {
			t.Fatalf("bulk %d refresh param: %q", i, r.Query)
		}
		lines := 0
		sc := bufio.NewScanner(bytes.NewReader(r.Body))
		for sc.Scan() {
			if len(bytes.TrimSpace(sc.Bytes())) > 0 {
				lines++
			}
		}
		// Two ndjson lines per document.
		if i < 2 && lines != 4 {
			t.Fatalf("bulk %d lines: got %d want 4", i, lines)
		}
		if i == 2 && lines != 2 {
			t.Fatalf("last bulk lines: got %d want 2", lines)
		}
	}
	// wait_for makes the per-chunk refresh param sufficient.
	if len(rec.byPath("/_refresh")) != 0 {
		t.Fatalf("unexpected explicit refresh with wait_for policy")
	}
}

func TestBulkInsertSurfacesItemFailures(t *testing.T) {
	rec := &recorder{
		handler: func(w http.ResponseWriter, r *http.Request, body []byte) bool {
			if strings.HasSuffix(r.URL.Path, "/_bulk") {
				_, _ = w.Write([]byte(`{"errors":true,"items":[
					{"index":{"_id":"bad-doc","status":400,"error":{"type":"mapper_parsing_exception"}}}
				]}`))
				return true
			}
			return false
		},
	}
	eng := newTestEngine(t, rec, nil)

	_, err := eng.BulkInsert(context.Background(), []search.Document{{
		Text:       "doc",
		Embeddings: []search.Embedding{{Label: "text_embedding", Vector: vec()}},
	}})
	if err == nil || !strings.Contains(err.Error(), "bad-doc") {
		t.Fatalf("want item failure naming the doc, got %v", err)
	}
}

func TestListPaginates(t *testing.T) {
	rec := &recorder{
		handler: func(w http.ResponseWriter, r *http.Request, body []byte) bool {
			if strings.HasSuffix(r.URL.Path, "/_search") {
				_, _ = w.Write([]byte(`{"hits":{"total":{"value":42},"hits":[
					{"_id":"a","_source":{"text":"first"}},
					{"_id":"b","_source":{"text":"second"}}
				]}}`))
				return true
			}
			return false
		},
	}
	eng := newTestEngine(t, rec, nil)

	res, err := eng.List(context.Background(), 3, 20)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Total != 42 || len(res.Items) != 2 {
		t.Fatalf("result: %+v", res)
	}
	body := decodeJSON(t, rec.byPath("/_search")[0].Body)
	if body["from"].(float64) != 40 || body["size"].(float64) != 20 {
		t.Fatalf("paging: from=%v size=%v", body["from"], body["size"])
	}
	if _, ok := body["sort"]; !ok {
		t.Fatalf("list must sort for stable pages")
	}
}

func TestListValidatesPaging(t *testing.T) {
	rec := &recorder{}
	eng := newTestEngine(t, rec, nil)

	if _, err := eng.List(context.Background(), 0, 10); apierr.KindOf(err) != apierr.KindValidation {
		t.Fatalf("page=0: want Validation, got %v", err)
	}
	if _, err := eng.List(context.Background(), 1, 101); apierr.KindOf(err) != apierr.KindValidation {
		t.Fatalf("page_size=101: want Validation, got %v", err)
	}
	if len(rec.requests) != 0 {
		t.Fatalf("validation failures must not reach the cluster")
	}
}

func TestSearchRetriesOnServerErrors(t *testing.T) {
	var searches int
	rec := &recorder{}
	rec.handler = func(w http.ResponseWriter, r *http.Request, body []byte) bool {
		if strings.HasSuffix(r.URL.Path, "/_search") {
			searches++
			if searches == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return true
			}
			_, _ = w.Write([]byte(`{"hits":{"total":{"value":0},"hits":[]}}`))
			return true
		}
		return false
	}
	eng := newTestEngine(t, rec, func(cfg *Config) { cfg.MaxRetries = 2 })

	if _, err := eng.Search(context.Background(), search.Query{Text: "retry"}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if searches != 2 {
		t.Fatalf("search attempts: got %d want 2", searches)
	}
}

func TestDeleteAllIssuesDeleteByQuery(t *testing.T) {
	rec := &recorder{}
	eng := newTestEngine(t, rec, nil)

	if err := eng.DeleteAll(context.Background()); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	dels := rec.byPath("/_delete_by_query")
	if len(dels) != 1 {
		t.Fatalf("delete_by_query requests: %d", len(dels))
	}
	body := decodeJSON(t, dels[0].Body)
	if _, ok := body["query"].(map[string]any)["match_all"]; !ok {
		t.Fatalf("delete body: %+v", body)
	}
}
