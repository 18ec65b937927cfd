package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/molehq/molesearch-backend/internal/enrich"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
	"github.com/molehq/molesearch-backend/internal/search"
	"github.com/molehq/molesearch-backend/internal/tasks"
)

// Worker drains pending tasks: every sweep lists them, claims each one
// and processes the claimed ones in parallel, gathering before the
// next tick. Errors never escape a single task.
type Worker struct {
	log      *logger.Logger
	manager  *tasks.Manager
	pipeline *enrich.Pipeline
	engine   search.Engine
	interval time.Duration
}

func New(log *logger.Logger, manager *tasks.Manager, pipeline *enrich.Pipeline, engine search.Engine, interval time.Duration) (*Worker, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if manager == nil {
		return nil, fmt.Errorf("task manager is required")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("enrichment pipeline is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("search engine is required")
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Worker{
		log:      log.With("service", "TaskWorker"),
		manager:  manager,
		pipeline: pipeline,
		engine:   engine,
		interval: interval,
	}, nil
}

// Run loops until ctx is cancelled. In-flight tasks finish; the loop
// exits at the next sleep boundary.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("worker started", "check_interval", w.interval.String())
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one list-claim-process round and waits for every
// dispatched task to finish.
func (w *Worker) Sweep(ctx context.Context) {
	pending, err := w.manager.ListPending(ctx, "")
	if err != nil {
		w.log.Warn("list pending tasks failed", "error", err.Error())
		return
	}
	if len(pending) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, t := range pending {
		claimed, err := w.manager.Claim(ctx, t.ID)
		if err != nil {
			w.log.Warn("task claim failed", "task_id", t.ID, "error", err.Error())
			continue
		}
		if !claimed {
			continue
		}
		wg.Add(1)
		task := t
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					w.log.Error("task processing panic", "task_id", task.ID, "panic", r)
					w.fail(ctx, task.ID, fmt.Sprintf("internal error: %v", r))
				}
			}()
			w.process(ctx, task)
		}()
	}
	wg.Wait()
}

func (w *Worker) process(ctx context.Context, t *tasks.Task) {
	w.log.Info("task processing started", "task_id", t.ID, "task_type", t.Kind)
	if err := w.update(ctx, t.ID, tasks.StatusProcessing, 0, "processing", nil); err != nil {
		w.log.Warn("mark processing failed", "task_id", t.ID, "error", err.Error())
		return
	}
	var err error
	switch t.Kind {
	case tasks.KindSingleInsert:
		err = w.processSingle(ctx, t)
	case tasks.KindBatchInsert:
		err = w.processBatch(ctx, t)
	default:
		err = fmt.Errorf("unknown task type %q", t.Kind)
	}
	if err != nil {
		w.log.Error("task failed", "task_id", t.ID, "error", err.Error())
		w.fail(ctx, t.ID, err.Error())
		return
	}
	w.log.Info("task completed", "task_id", t.ID)
}

func (w *Worker) processSingle(ctx context.Context, t *tasks.Task) error {
	if len(t.Payload) != 1 {
		return fmt.Errorf("single insert task carries %d items", len(t.Payload))
	}
	if err := w.update(ctx, t.ID, tasks.StatusProcessing, 10, "starting insertion", nil); err != nil {
		return err
	}
	id, err := w.insertItem(ctx, t.Payload[0])
	if err != nil {
		return err
	}
	result := map[string]any{
		"inserted": 1,
		"data":     map[string]any{"id": id},
	}
	return w.update(ctx, t.ID, tasks.StatusCompleted, 100, "completed", result)
}

// processBatch keeps going on per-item failures; the task completes
// with partial results as long as the batch itself ran to the end.
func (w *Worker) processBatch(ctx context.Context, t *tasks.Task) error {
	total := len(t.Payload)
	if total == 0 {
		return fmt.Errorf("batch insert task carries no items")
	}
	if err := w.update(ctx, t.ID, tasks.StatusProcessing, 10, "starting insertion", nil); err != nil {
		return err
	}
	inserted := 0
	for i, item := range t.Payload {
		if _, err := w.insertItem(ctx, item); err != nil {
			w.log.Warn("batch item failed",
				"task_id", t.ID,
				"item", i+1,
				"total", total,
				"error", err.Error(),
			)
		} else {
			inserted++
		}
		progress := 10 + 80*float64(i+1)/float64(total)
		message := fmt.Sprintf("processed %d/%d", i+1, total)
		if err := w.update(ctx, t.ID, tasks.StatusProcessing, progress, message, nil); err != nil {
			return err
		}
	}
	result := map[string]any{
		"inserted":     inserted,
		"total":        total,
		"success_rate": float64(inserted) / float64(total),
	}
	return w.update(ctx, t.ID, tasks.StatusCompleted, 100, "completed", result)
}

func (w *Worker) insertItem(ctx context.Context, item tasks.Item) (string, error) {
	in := enrich.Input{
		Text:     item.Text,
		ImageURL: item.ImageURL,
		VideoURL: item.VideoURL,
	}
	rec, err := w.pipeline.Run(ctx, in)
	if err != nil {
		return "", err
	}
	return w.engine.Insert(ctx, rec.Document(in))
}

func (w *Worker) update(ctx context.Context, id string, status tasks.Status, progress float64, message string, result any) error {
	return w.manager.Update(ctx, id, tasks.Update{
		Status:   &status,
		Progress: &progress,
		Message:  &message,
		Result:   result,
	})
}

func (w *Worker) fail(ctx context.Context, id, message string) {
	failed := tasks.StatusFailed
	if err := w.manager.Update(ctx, id, tasks.Update{Status: &failed, Message: &message}); err != nil {
		w.log.Error("mark failed failed", "task_id", id, "error", err.Error())
	}
}
