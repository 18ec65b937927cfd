package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
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

// stubEmbedder backs a real pipeline; the image embedder fails for
// URLs registered in failImages, which drives the batch partial-failure
// scenarios.
type stubEmbedder struct {
	failImages map[string]error
}

func (s *stubEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 2}, nil
}

func (s *stubEmbedder) EmbedImage(ctx context.Context, url string) ([]float32, error) {
	if err, ok := s.failImages[url]; ok {
		return nil, err
	}
	return []float32{3, 4}, nil
}

type countingEngine struct {
	search.Engine
	mu       sync.Mutex
	inserted []search.Document
}

func (e *countingEngine) Insert(ctx context.Context, doc search.Document) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inserted = append(e.inserted, doc)
	return fmt.Sprintf("doc-%d", len(e.inserted)), nil
}

type testRig struct {
	worker  *Worker
	manager *tasks.Manager
	engine  *countingEngine
}

func newTestRig(t *testing.T, failImages map[string]error) *testRig {
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
	emb := &stubEmbedder{failImages: failImages}
	pipeline, err := enrich.NewPipeline(log, emb, emb, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	engine := &countingEngine{}
	w, err := New(log, manager, pipeline, engine, time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testRig{worker: w, manager: manager, engine: engine}
}

func TestSingleInsertLifecycle(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	id, err := rig.manager.Create(ctx, tasks.KindSingleInsert, []tasks.Item{{Text: "hello"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rig.worker.Sweep(ctx)

	final, err := rig.manager.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Status != tasks.StatusCompleted {
		t.Fatalf("status: want=completed got=%s (%s)", final.Status, final.Message)
	}
	if final.Progress != 100 {
		t.Fatalf("progress: want=100 got=%v", final.Progress)
	}
	if final.StartedAt == nil || final.CompletedAt == nil {
		t.Fatalf("timestamps not stamped: %+v", final)
	}
	var result struct {
		Inserted int `json:"inserted"`
	}
	if err := json.Unmarshal(final.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Inserted != 1 {
		t.Fatalf("result.inserted: want=1 got=%d", result.Inserted)
	}
	if len(rig.engine.inserted) != 1 || rig.engine.inserted[0].Text != "hello" {
		t.Fatalf("engine inserts: %+v", rig.engine.inserted)
	}
}

func TestBatchInsertPartialFailure(t *testing.T) {
	rig := newTestRig(t, map[string]error{
		"https://example.com/404.jpg": apierr.E(apierr.KindMediaDownload, "image download failed with status=404"),
	})
	ctx := context.Background()

	id, err := rig.manager.Create(ctx, tasks.KindBatchInsert, []tasks.Item{
		{Text: "dogs playing"},
		{Text: "broken image", ImageURL: "https://example.com/404.jpg"},
		{Text: "a red car"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rig.worker.Sweep(ctx)

	final, err := rig.manager.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Status != tasks.StatusCompleted {
		t.Fatalf("batch must complete despite item failures: got %s (%s)", final.Status, final.Message)
	}
	var result struct {
		Inserted    int     `json:"inserted"`
		Total       int     `json:"total"`
		SuccessRate float64 `json:"success_rate"`
	}
	if err := json.Unmarshal(final.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Inserted != 2 || result.Total != 3 {
		t.Fatalf("result: want inserted=2 total=3 got %+v", result)
	}
	if math.Abs(result.SuccessRate-2.0/3.0) > 1e-9 {
		t.Fatalf("success_rate: want=%v got=%v", 2.0/3.0, result.SuccessRate)
	}
	if len(rig.engine.inserted) != 2 {
		t.Fatalf("engine inserts: want=2 got=%d", len(rig.engine.inserted))
	}
}

func TestFailedEnrichmentFailsSingleTask(t *testing.T) {
	rig := newTestRig(t, map[string]error{
		"https://example.com/bad.jpg": apierr.E(apierr.KindInvalidMedia, "image format is illegal"),
	})
	ctx := context.Background()

	id, _ := rig.manager.Create(ctx, tasks.KindSingleInsert, []tasks.Item{
		{ImageURL: "https://example.com/bad.jpg"},
	})
	rig.worker.Sweep(ctx)

	final, err := rig.manager.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Status != tasks.StatusFailed {
		t.Fatalf("status: want=failed got=%s", final.Status)
	}
	if final.Message == "" || final.CompletedAt == nil {
		t.Fatalf("failed task must carry message and completed_at: %+v", final)
	}
}

func TestSweepClaimsTasksExactlyOnce(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	id, err := rig.manager.Create(ctx, tasks.KindSingleInsert, []tasks.Item{{Text: "once"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Another worker already holds the claim; the sweep must skip the
	// task even though it still reads as pending.
	if won, err := rig.manager.Claim(ctx, id); err != nil || !won {
		t.Fatalf("pre-claim: won=%v err=%v", won, err)
	}
	rig.worker.Sweep(ctx)
	if len(rig.engine.inserted) != 0 {
		t.Fatalf("claimed task must not be processed, got %d inserts", len(rig.engine.inserted))
	}
}

func TestUnknownKindFailsTask(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	id, err := rig.manager.Create(ctx, tasks.Kind("mystery"), []tasks.Item{{Text: "x"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rig.worker.Sweep(ctx)

	final, err := rig.manager.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Status != tasks.StatusFailed {
		t.Fatalf("status: want=failed got=%s", final.Status)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		rig.worker.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("worker did not stop after cancellation")
	}
}
