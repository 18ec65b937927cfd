package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/molehq/molesearch-backend/internal/clients/dashscope"
	"github.com/molehq/molesearch-backend/internal/clients/gcpspeech"
	"github.com/molehq/molesearch-backend/internal/config"
	"github.com/molehq/molesearch-backend/internal/media"
	"github.com/molehq/molesearch-backend/internal/objectstore"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
)

// Closer collects everything the factory opened so the process can
// release provider connections at shutdown.
type Closer func() error

// Build constructs the pipeline from the extractor configuration,
// selecting one implementation per adapter kind. Adapters with an
// empty impl are left out; the pipeline degrades per its own rules.
func Build(ctx context.Context, log *logger.Logger, cfg config.ExtractorConfig) (*Pipeline, Closer, error) {
	if log == nil {
		return nil, nil, fmt.Errorf("logger is required")
	}
	var closers []func() error
	closer := func() error {
		var firstErr error
		for _, c := range closers {
			if err := c(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	text, err := buildTextEmbedder(log, cfg.TextEmbedding)
	if err != nil {
		return nil, nil, err
	}

	var image ImageEmbedder
	if cfg.ImageEmbedding.Enabled() {
		image, err = buildMultimodalEmbedder(log, "image_embedding", cfg.ImageEmbedding)
		if err != nil {
			return nil, nil, err
		}
	}
	var video VideoEmbedder
	if cfg.VideoEmbedding.Enabled() {
		video, err = buildMultimodalEmbedder(log, "video_embedding", cfg.VideoEmbedding)
		if err != nil {
			return nil, nil, err
		}
	}

	var captioner Captioner
	if cfg.Caption.Enabled() {
		captioner, err = buildCaptioner(log, cfg.Caption)
		if err != nil {
			return nil, nil, err
		}
	}

	var transcriber Transcriber
	var audio AudioExtractor
	if cfg.ASR.Enabled() {
		uploader, err := objectstore.New(ctx, log, cfg.ASR.Audio.ObjectStore)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, uploader.Close)
		extractor, err := media.NewExtractor(log, uploader, cfg.ASR.Audio)
		if err != nil {
			return nil, nil, err
		}
		audio = extractor

		transcriber, err = buildTranscriber(ctx, log, cfg.ASR, &closers)
		if err != nil {
			return nil, nil, err
		}
	}

	p, err := NewPipeline(log, text, image, video, captioner, transcriber, audio)
	if err != nil {
		return nil, nil, err
	}
	return p, closer, nil
}

func buildTextEmbedder(log *logger.Logger, cfg config.AdapterConfig) (TextEmbedder, error) {
	switch strings.ToLower(cfg.Impl) {
	case "qwen", "openai":
		return newOpenAITextEmbedder(log, cfg)
	case "":
		return nil, fmt.Errorf("extractor.text_embedding.impl is required")
	default:
		return nil, fmt.Errorf("unknown text embedding impl %q", cfg.Impl)
	}
}

func buildMultimodalEmbedder(log *logger.Logger, name string, cfg config.AdapterConfig) (*dashscopeMultimodalEmbedder, error) {
	switch strings.ToLower(cfg.Impl) {
	case "qwen":
		client, err := dashscope.NewClient(log, dashscope.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout(),
			MaxRetries: cfg.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("extractor.%s: %w", name, err)
		}
		return &dashscopeMultimodalEmbedder{client: client}, nil
	default:
		return nil, fmt.Errorf("unknown %s impl %q", name, cfg.Impl)
	}
}

func buildCaptioner(log *logger.Logger, cfg config.CaptionConfig) (Captioner, error) {
	switch strings.ToLower(cfg.Impl) {
	case "qwen":
		client, err := dashscope.NewClient(log, dashscope.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout(),
			MaxRetries: cfg.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("extractor.caption: %w", err)
		}
		return newDashscopeCaptioner(client, cfg.PromptPath)
	default:
		return nil, fmt.Errorf("unknown caption impl %q", cfg.Impl)
	}
}

func buildTranscriber(ctx context.Context, log *logger.Logger, cfg config.ASRConfig, closers *[]func() error) (Transcriber, error) {
	switch strings.ToLower(cfg.Impl) {
	case "qwen", "paraformer":
		client, err := dashscope.NewClient(log, dashscope.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout(),
			MaxRetries: cfg.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("extractor.asr: %w", err)
		}
		return &dashscopeTranscriber{client: client, languageHints: cfg.LanguageHints}, nil
	case "gcp":
		client, err := gcpspeech.New(ctx, log, gcpspeech.Config{
			CredentialsFile: cfg.GCP.CredentialsFile,
			LanguageCode:    cfg.GCP.LanguageCode,
			Timeout:         cfg.Timeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("extractor.asr: %w", err)
		}
		*closers = append(*closers, client.Close)
		return &gcpTranscriber{client: client, languageHints: cfg.LanguageHints}, nil
	default:
		return nil, fmt.Errorf("unknown asr impl %q", cfg.Impl)
	}
}

// gcpTranscriber adapts the Cloud Speech client.
type gcpTranscriber struct {
	client        *gcpspeech.Client
	languageHints []string
}

func (t *gcpTranscriber) Transcribe(ctx context.Context, audioURL string) (string, error) {
	return t.client.Transcribe(ctx, audioURL, t.languageHints)
}
