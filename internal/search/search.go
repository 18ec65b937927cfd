package search

import "context"

// Vector fields of the index. Every embedding is routed to exactly one
// of these by MapLabel.
const (
	FieldTextEmbedding            = "text_embedding"
	FieldImageEmbedding           = "image_embedding"
	FieldVideoEmbedding           = "video_embedding"
	FieldImageCaptionEmbedding    = "image_caption_embedding"
	FieldVideoTranscriptEmbedding = "video_transcript_embedding"
)

// VectorFields lists the dense-vector fields in schema order.
var VectorFields = []string{
	FieldTextEmbedding,
	FieldImageEmbedding,
	FieldVideoEmbedding,
	FieldImageCaptionEmbedding,
	FieldVideoTranscriptEmbedding,
}

// Embedding is a labeled vector. The label is free-form; consumers
// resolve it to an index field via MapLabel.
type Embedding struct {
	Label  string
	Vector []float32
}

// Document is one indexable item. Any subset of fields may be present;
// absent embeddings are omitted from the stored document entirely.
type Document struct {
	Text            string
	ImageURL        string
	VideoURL        string
	ImageCaption    string
	VideoTranscript string
	Embeddings      []Embedding
}

// Query is a hybrid search request: optional lexical text plus any
// number of labeled vectors. TopK must be in [1,100].
type Query struct {
	Text       string
	Embeddings []Embedding
	TopK       int
}

// Hit is one ranked result.
type Hit struct {
	ID              string  `json:"id"`
	Text            string  `json:"text"`
	ImageURL        string  `json:"image_url"`
	VideoURL        string  `json:"video_url"`
	ImageCaption    string  `json:"image_caption"`
	VideoTranscript string  `json:"video_transcript"`
	Score           float64 `json:"score"`
}

// ListResult is one page of documents plus the corpus total.
type ListResult struct {
	Total int64 `json:"total"`
	Items []Hit `json:"items"`
}

// Engine is the index abstraction the rest of the service programs
// against.
type Engine interface {
	Search(ctx context.Context, q Query) ([]Hit, error)
	Insert(ctx context.Context, doc Document) (string, error)
	BulkInsert(ctx context.Context, docs []Document) ([]string, error)
	List(ctx context.Context, page, pageSize int) (ListResult, error)
	DeleteAll(ctx context.Context) error
	Close(ctx context.Context) error
}
