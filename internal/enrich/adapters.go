package enrich

import "context"

// One interface per adapter kind. Implementations are chosen by
// configuration at service start; the pipeline only sees these
// contracts, never the vendor.

type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

type ImageEmbedder interface {
	EmbedImage(ctx context.Context, imageURL string) ([]float32, error)
}

type VideoEmbedder interface {
	EmbedVideo(ctx context.Context, videoURL string) ([]float32, error)
}

type Captioner interface {
	CaptionImage(ctx context.Context, imageURL string) (string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (string, error)
}

// AudioExtractor downloads a video, extracts its audio track and
// uploads it, returning a public audio URL for the transcriber.
type AudioExtractor interface {
	ExtractAndUpload(ctx context.Context, videoURL string) (string, error)
}
