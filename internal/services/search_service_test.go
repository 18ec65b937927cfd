package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/molehq/molesearch-backend/internal/enrich"
	"github.com/molehq/molesearch-backend/internal/platform/apierr"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
	"github.com/molehq/molesearch-backend/internal/search"
	"github.com/molehq/molesearch-backend/internal/tasks"
)

type queryEmbedder struct{}

func (queryEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.5, 0.5}, nil
}

func (queryEmbedder) EmbedImage(ctx context.Context, url string) ([]float32, error) {
	return []float32{0.1, 0.9}, nil
}

// memoryEngine ranks by naive substring overlap; enough to observe
// the facade's query construction and top_k handling.
type memoryEngine struct {
	docs      []search.Document
	lastQuery search.Query
}

func (e *memoryEngine) Search(ctx context.Context, q search.Query) ([]search.Hit, error) {
	e.lastQuery = q
	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}
	var hits []search.Hit
	for i, d := range e.docs {
		score := 0.0
		if q.Text != "" && strings.Contains(strings.ToLower(d.Text), strings.ToLower(strings.Split(q.Text, " ")[0])) {
			score = 2.0
		} else if len(q.Embeddings) > 0 {
			score = 1.0
		}
		if score > 0 {
			hits = append(hits, search.Hit{ID: d.Text, Text: d.Text, Score: score - float64(i)*0.01})
		}
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (e *memoryEngine) Insert(ctx context.Context, doc search.Document) (string, error) {
	e.docs = append(e.docs, doc)
	return doc.Text, nil
}

func (e *memoryEngine) BulkInsert(ctx context.Context, docs []search.Document) ([]string, error) {
	var ids []string
	for _, d := range docs {
		id, _ := e.Insert(ctx, d)
		ids = append(ids, id)
	}
	return ids, nil
}

func (e *memoryEngine) List(ctx context.Context, page, pageSize int) (search.ListResult, error) {
	return search.ListResult{Total: int64(len(e.docs))}, nil
}

func (e *memoryEngine) DeleteAll(ctx context.Context) error { return nil }
func (e *memoryEngine) Close(ctx context.Context) error     { return nil }

func newTestService(t *testing.T) (*SearchService, *memoryEngine, *tasks.Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	store, err := tasks.NewRedisStore(log, client)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	manager, err := tasks.NewManager(log, store, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	emb := queryEmbedder{}
	pipeline, err := enrich.NewPipeline(log, emb, emb, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	engine := &memoryEngine{}
	svc, err := NewSearchService(log, engine, pipeline, manager)
	if err != nil {
		t.Fatalf("NewSearchService: %v", err)
	}
	return svc, engine, manager
}

func TestSearchTextEnrichesQuery(t *testing.T) {
	svc, engine, _ := newTestService(t)
	engine.docs = []search.Document{{Text: "Artificial intelligence is the future"}}

	hits, err := svc.SearchText(context.Background(), "artificial intelligence", 5)
	if err != nil {
		t.Fatalf("SearchText: %v", err)
	}
	if len(hits) != 1 || hits[0].Score <= 0 {
		t.Fatalf("hits: %+v", hits)
	}
	if engine.lastQuery.Text != "artificial intelligence" {
		t.Fatalf("query text: got %q", engine.lastQuery.Text)
	}
	if len(engine.lastQuery.Embeddings) != 1 || engine.lastQuery.Embeddings[0].Label != enrich.LabelText {
		t.Fatalf("query embeddings: %+v", engine.lastQuery.Embeddings)
	}
}

func TestSearchEmptyCorpusReturnsNoHits(t *testing.T) {
	svc, _, _ := newTestService(t)
	hits, err := svc.SearchText(context.Background(), "anything", 10)
	if err != nil {
		t.Fatalf("SearchText: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("want 0 hits on empty corpus, got %d", len(hits))
	}
}

func TestSearchValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Search(ctx, QueryInput{TopK: 5}); apierr.KindOf(err) != apierr.KindValidation {
		t.Fatalf("no modality: want Validation, got %v", err)
	}
	if _, err := svc.SearchText(ctx, "x", 101); apierr.KindOf(err) != apierr.KindValidation {
		t.Fatalf("top_k=101: want Validation, got %v", err)
	}
	if _, err := svc.SearchText(ctx, "x", -1); apierr.KindOf(err) != apierr.KindValidation {
		t.Fatalf("top_k=-1: want Validation, got %v", err)
	}
	if _, err := svc.SearchText(ctx, "", 5); apierr.KindOf(err) != apierr.KindValidation {
		t.Fatalf("empty text: want Validation, got %v", err)
	}
}

func TestSearchImageUsesImageEmbedding(t *testing.T) {
	svc, engine, _ := newTestService(t)
	engine.docs = []search.Document{{Text: "a picture"}}

	if _, err := svc.SearchImage(context.Background(), "https://example.com/q.jpg", 5); err != nil {
		t.Fatalf("SearchImage: %v", err)
	}
	if engine.lastQuery.Text != "" {
		t.Fatalf("image query must carry no lexical text, got %q", engine.lastQuery.Text)
	}
	found := false
	for _, e := range engine.lastQuery.Embeddings {
		if search.MapLabel(e.Label) == search.FieldImageEmbedding {
			found = true
		}
	}
	if !found {
		t.Fatalf("image embedding missing from query: %+v", engine.lastQuery.Embeddings)
	}
}

func TestInsertCreatesPendingTask(t *testing.T) {
	svc, _, manager := newTestService(t)
	ctx := context.Background()

	id, err := svc.Insert(ctx, tasks.Item{Text: "hello"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	task, err := manager.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if task.Kind != tasks.KindSingleInsert || task.Status != tasks.StatusPending {
		t.Fatalf("task: %+v", task)
	}

	if _, err := svc.Insert(ctx, tasks.Item{}); apierr.KindOf(err) != apierr.KindValidation {
		t.Fatalf("empty item: want Validation, got %v", err)
	}
}

func TestBatchInsertValidation(t *testing.T) {
	svc, _, manager := newTestService(t)
	ctx := context.Background()

	id, err := svc.BatchInsert(ctx, []tasks.Item{{Text: "a"}, {Text: "b"}})
	if err != nil {
		t.Fatalf("BatchInsert: %v", err)
	}
	task, err := manager.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if task.Kind != tasks.KindBatchInsert || len(task.Payload) != 2 {
		t.Fatalf("task: %+v", task)
	}

	if _, err := svc.BatchInsert(ctx, nil); apierr.KindOf(err) != apierr.KindValidation {
		t.Fatalf("empty batch: want Validation, got %v", err)
	}
	if _, err := svc.BatchInsert(ctx, []tasks.Item{{Text: "a"}, {}}); apierr.KindOf(err) != apierr.KindValidation {
		t.Fatalf("batch with empty item: want Validation, got %v", err)
	}
}

func TestTaskStatusNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.TaskStatus(context.Background(), "nope"); apierr.KindOf(err) != apierr.KindNotFound {
		t.Fatalf("want NotFound, got %v", err)
	}
}

func TestListValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.List(ctx, 0, 10); apierr.KindOf(err) != apierr.KindValidation {
		t.Fatalf("page=0: want Validation, got %v", err)
	}
	if _, err := svc.List(ctx, 1, 101); apierr.KindOf(err) != apierr.KindValidation {
		t.Fatalf("page_size=101: want Validation, got %v", err)
	}
	if _, err := svc.List(ctx, 1, 10); err != nil {
		t.Fatalf("List: %v", err)
	}
}
