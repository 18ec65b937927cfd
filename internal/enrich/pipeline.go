package enrich

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/molehq/molesearch-backend/internal/platform/apierr"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
	"github.com/molehq/molesearch-backend/internal/search"
)

// Canonical labels for the embeddings a pipeline run produces. They
// round-trip through search.MapLabel back to the matching fields.
const (
	LabelText            = "text_embedding"
	LabelImage           = "image_embedding"
	LabelVideo           = "video_embedding"
	LabelImageCaption    = "image_text_embedding"
	LabelVideoTranscript = "video_text_embedding"
)

// Input is one raw multimodal item. At least one field must be set.
type Input struct {
	Text     string
	ImageURL string
	VideoURL string
}

func (in Input) Empty() bool {
	return in.Text == "" && in.ImageURL == "" && in.VideoURL == ""
}

// Record is the pipeline output: one optional sub-record per modality.
// Absent embeddings are nil slices, never zero vectors.
type Record struct {
	Text  *TextRecord
	Image *ImageRecord
	Video *VideoRecord
}

type TextRecord struct {
	Embedding []float32
}

type ImageRecord struct {
	Embedding        []float32
	Caption          string
	CaptionEmbedding []float32
}

type VideoRecord struct {
	Embedding           []float32
	Transcript          string
	TranscriptEmbedding []float32
}

// Embeddings flattens the record into labeled vectors, skipping absent
// ones.
func (r *Record) Embeddings() []search.Embedding {
	var out []search.Embedding
	add := func(label string, vec []float32) {
		if len(vec) > 0 {
			out = append(out, search.Embedding{Label: label, Vector: vec})
		}
	}
	if r.Text != nil {
		add(LabelText, r.Text.Embedding)
	}
	if r.Image != nil {
		add(LabelImage, r.Image.Embedding)
		add(LabelImageCaption, r.Image.CaptionEmbedding)
	}
	if r.Video != nil {
		add(LabelVideo, r.Video.Embedding)
		add(LabelVideoTranscript, r.Video.TranscriptEmbedding)
	}
	return out
}

// Document assembles the indexable document for the enriched item.
func (r *Record) Document(in Input) search.Document {
	doc := search.Document{
		Text:       in.Text,
		ImageURL:   in.ImageURL,
		VideoURL:   in.VideoURL,
		Embeddings: r.Embeddings(),
	}
	if r.Image != nil {
		doc.ImageCaption = r.Image.Caption
	}
	if r.Video != nil {
		doc.VideoTranscript = r.Video.Transcript
	}
	return doc
}

// Pipeline fans an item out into three per-modality subgraphs, runs
// them concurrently and merges the results. A fatal error in any
// subgraph cancels the siblings; ASR is the one non-fatal step.
type Pipeline struct {
	log         *logger.Logger
	text        TextEmbedder
	image       ImageEmbedder
	video       VideoEmbedder
	captioner   Captioner
	transcriber Transcriber
	audio       AudioExtractor
}

// NewPipeline wires the adapters. text is required; the others may be
// nil, which disables the steps that need them (missing captioner
// skips captioning, missing transcriber or extractor skips the
// transcript). A nil embedder for a modality rejects items carrying
// that modality.
func NewPipeline(
	log *logger.Logger,
	text TextEmbedder,
	image ImageEmbedder,
	video VideoEmbedder,
	captioner Captioner,
	transcriber Transcriber,
	audio AudioExtractor,
) (*Pipeline, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if text == nil {
		return nil, fmt.Errorf("text embedder is required")
	}
	return &Pipeline{
		log:         log.With("service", "EnrichmentPipeline"),
		text:        text,
		image:       image,
		video:       video,
		captioner:   captioner,
		transcriber: transcriber,
		audio:       audio,
	}, nil
}

// AssertReady probes adapters that depend on local tooling (the audio
// extractor needs ffmpeg). Called once at worker startup.
func (p *Pipeline) AssertReady(ctx context.Context) error {
	if r, ok := p.audio.(interface{ AssertReady(context.Context) error }); ok {
		return r.AssertReady(ctx)
	}
	return nil
}

// Run enriches one item. The three subgraphs execute concurrently;
// ordering inside each subgraph is strict.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Record, error) {
	if in.Empty() {
		return nil, apierr.E(apierr.KindValidation, "at least one of text, image_url or video_url is required")
	}
	rec := &Record{}
	g, gctx := errgroup.WithContext(ctx)
	if in.Text != "" {
		g.Go(func() error {
			tr, err := p.runText(gctx, in.Text)
			if err != nil {
				return err
			}
			rec.Text = tr
			return nil
		})
	}
	if in.ImageURL != "" {
		g.Go(func() error {
			ir, err := p.runImage(gctx, in.ImageURL)
			if err != nil {
				return err
			}
			rec.Image = ir
			return nil
		})
	}
	if in.VideoURL != "" {
		g.Go(func() error {
			vr, err := p.runVideo(gctx, in.VideoURL)
			if err != nil {
				return err
			}
			rec.Video = vr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *Pipeline) runText(ctx context.Context, text string) (*TextRecord, error) {
	vec, err := p.text.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	return &TextRecord{Embedding: vec}, nil
}

// runImage: embedding and caption run in parallel; the caption
// embedding follows the caption and is skipped when it is empty.
func (p *Pipeline) runImage(ctx context.Context, imageURL string) (*ImageRecord, error) {
	if p.image == nil {
		return nil, apierr.E(apierr.KindValidation, "no image embedding adapter is configured")
	}
	rec := &ImageRecord{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, err := p.image.EmbedImage(gctx, imageURL)
		if err != nil {
			return err
		}
		rec.Embedding = vec
		return nil
	})
	if p.captioner != nil {
		g.Go(func() error {
			caption, err := p.captioner.CaptionImage(gctx, imageURL)
			if err != nil {
				return err
			}
			rec.Caption = caption
			if strings.TrimSpace(caption) == "" {
				return nil
			}
			vec, err := p.text.EmbedText(gctx, caption)
			if err != nil {
				return err
			}
			rec.CaptionEmbedding = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rec, nil
}

// runVideo: embedding runs in parallel with the audio chain
// (extract, transcribe, embed transcript). A transcription failure is
// logged and replaced by an empty transcript; everything else is
// fatal.
func (p *Pipeline) runVideo(ctx context.Context, videoURL string) (*VideoRecord, error) {
	if p.video == nil {
		return nil, apierr.E(apierr.KindValidation, "no video embedding adapter is configured")
	}
	rec := &VideoRecord{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, err := p.video.EmbedVideo(gctx, videoURL)
		if err != nil {
			return err
		}
		rec.Embedding = vec
		return nil
	})
	if p.audio != nil && p.transcriber != nil {
		g.Go(func() error {
			audioURL, err := p.audio.ExtractAndUpload(gctx, videoURL)
			if err != nil {
				return err
			}
			transcript, err := p.transcriber.Transcribe(gctx, audioURL)
			if err != nil {
				p.log.Warn("transcription failed, continuing with empty transcript",
					"video_url", videoURL,
					"error", err.Error(),
				)
				transcript = ""
			}
			rec.Transcript = transcript
			if strings.TrimSpace(transcript) == "" {
				return nil
			}
			vec, err := p.text.EmbedText(gctx, transcript)
			if err != nil {
				return err
			}
			rec.TranscriptEmbedding = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rec, nil
}
