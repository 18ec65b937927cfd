package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/molehq/molesearch-backend/internal/enrich"
	"github.com/molehq/molesearch-backend/internal/platform/apierr"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
	"github.com/molehq/molesearch-backend/internal/search"
	"github.com/molehq/molesearch-backend/internal/tasks"
)

const (
	defaultTopK = 10
	maxTopK     = 100
)

// SearchService is the facade over the enrichment pipeline, the index
// engine and the task manager: queries are enriched synchronously,
// inserts become tasks for the worker.
type SearchService struct {
	log      *logger.Logger
	engine   search.Engine
	pipeline *enrich.Pipeline
	manager  *tasks.Manager
}

func NewSearchService(log *logger.Logger, engine search.Engine, pipeline *enrich.Pipeline, manager *tasks.Manager) (*SearchService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("search engine is required")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("enrichment pipeline is required")
	}
	if manager == nil {
		return nil, fmt.Errorf("task manager is required")
	}
	return &SearchService{
		log:      log.With("service", "SearchService"),
		engine:   engine,
		pipeline: pipeline,
		manager:  manager,
	}, nil
}

// QueryInput is one search intent: any combination of modalities.
type QueryInput struct {
	Text     string
	ImageURL string
	VideoURL string
	TopK     int
}

// Search enriches the query itself, then runs the hybrid search with
// every embedding the enrichment produced plus the lexical text.
func (s *SearchService) Search(ctx context.Context, in QueryInput) ([]search.Hit, error) {
	topK, err := normalizeTopK(in.TopK)
	if err != nil {
		return nil, err
	}
	if in.Text == "" && in.ImageURL == "" && in.VideoURL == "" {
		return nil, apierr.E(apierr.KindValidation, "at least one of text, image_url or video_url is required")
	}
	rec, err := s.pipeline.Run(ctx, enrich.Input{
		Text:     in.Text,
		ImageURL: in.ImageURL,
		VideoURL: in.VideoURL,
	})
	if err != nil {
		return nil, s.normalize(err)
	}
	hits, err := s.engine.Search(ctx, search.Query{
		Text:       in.Text,
		Embeddings: rec.Embeddings(),
		TopK:       topK,
	})
	if err != nil {
		return nil, s.normalize(err)
	}
	return hits, nil
}

func (s *SearchService) SearchText(ctx context.Context, text string, topK int) ([]search.Hit, error) {
	if text == "" {
		return nil, apierr.E(apierr.KindValidation, "query text is required")
	}
	return s.Search(ctx, QueryInput{Text: text, TopK: topK})
}

func (s *SearchService) SearchImage(ctx context.Context, imageURL string, topK int) ([]search.Hit, error) {
	if imageURL == "" {
		return nil, apierr.E(apierr.KindValidation, "image_url is required")
	}
	return s.Search(ctx, QueryInput{ImageURL: imageURL, TopK: topK})
}

func (s *SearchService) SearchVideo(ctx context.Context, videoURL string, topK int) ([]search.Hit, error) {
	if videoURL == "" {
		return nil, apierr.E(apierr.KindValidation, "video_url is required")
	}
	return s.Search(ctx, QueryInput{VideoURL: videoURL, TopK: topK})
}

// Insert accepts one item for asynchronous insertion and returns the
// task id. Enrichment failures surface later through the task status.
func (s *SearchService) Insert(ctx context.Context, item tasks.Item) (string, error) {
	if item.Empty() {
		return "", apierr.E(apierr.KindValidation, "at least one of text, image_url or video_url is required")
	}
	id, err := s.manager.Create(ctx, tasks.KindSingleInsert, []tasks.Item{item})
	if err != nil {
		return "", s.normalize(err)
	}
	return id, nil
}

// BatchInsert accepts a list of items as one batch task.
func (s *SearchService) BatchInsert(ctx context.Context, items []tasks.Item) (string, error) {
	if len(items) == 0 {
		return "", apierr.E(apierr.KindValidation, "items list is empty")
	}
	for i, item := range items {
		if item.Empty() {
			return "", apierr.Ef(apierr.KindValidation, "item %d carries no modality", i+1)
		}
	}
	id, err := s.manager.Create(ctx, tasks.KindBatchInsert, items)
	if err != nil {
		return "", s.normalize(err)
	}
	return id, nil
}

// List pages through the corpus, newest first.
func (s *SearchService) List(ctx context.Context, page, pageSize int) (search.ListResult, error) {
	if page < 1 {
		return search.ListResult{}, apierr.Ef(apierr.KindValidation, "page must be >= 1; got %d", page)
	}
	if pageSize < 1 || pageSize > 100 {
		return search.ListResult{}, apierr.Ef(apierr.KindValidation, "page_size must be in [1,100]; got %d", pageSize)
	}
	res, err := s.engine.List(ctx, page, pageSize)
	if err != nil {
		return search.ListResult{}, s.normalize(err)
	}
	return res, nil
}

// TaskStatus looks one task up.
func (s *SearchService) TaskStatus(ctx context.Context, id string) (*tasks.Task, error) {
	t, err := s.manager.Get(ctx, id)
	if err != nil {
		return nil, s.normalize(err)
	}
	return t, nil
}

func normalizeTopK(topK int) (int, error) {
	if topK == 0 {
		return defaultTopK, nil
	}
	if topK < 1 || topK > maxTopK {
		return 0, apierr.Ef(apierr.KindValidation, "top_k must be in [1,%d]; got %d", maxTopK, topK)
	}
	return topK, nil
}

// normalize folds any error into the taxonomy: typed kinds pass
// through, everything else is classified by message as the legacy
// fallback.
func (s *SearchService) normalize(err error) error {
	if err == nil {
		return nil
	}
	var ae *apierr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apierr.Wrap(apierr.KindOf(err), err.Error(), err)
}
