package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/molehq/molesearch-backend/internal/clients/dashscope"
	"github.com/molehq/molesearch-backend/internal/config"
	"github.com/molehq/molesearch-backend/internal/platform/apierr"
	"github.com/molehq/molesearch-backend/internal/platform/ctxutil"
	"github.com/molehq/molesearch-backend/internal/platform/httpx"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
)

const compatibleModeBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// openaiTextEmbedder speaks the OpenAI embeddings API, which covers
// both OpenAI itself and DashScope's compatible mode.
type openaiTextEmbedder struct {
	log        *logger.Logger
	client     *openai.Client
	model      string
	dimension  int
	maxRetries int
}

func newOpenAITextEmbedder(log *logger.Logger, cfg config.AdapterConfig) (*openaiTextEmbedder, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("text embedding api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	} else {
		clientCfg.BaseURL = compatibleModeBaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout()}
	return &openaiTextEmbedder{
		log:        log.With("service", "TextEmbedder", "model", cfg.Model),
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		maxRetries: cfg.MaxRetries,
	}, nil
}

func (e *openaiTextEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apierr.E(apierr.KindValidation, "text to embed is empty")
	}
	req := openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(e.model),
		Input:      []string{text},
		Dimensions: e.dimension,
	}
	backoff := 500 * time.Millisecond
	for attempt := 0; ; attempt++ {
		resp, err := e.client.CreateEmbeddings(ctxutil.Default(ctx), req)
		if err == nil {
			if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
				return nil, apierr.E(apierr.KindService, "embedding response carried no vector")
			}
			return resp.Data[0].Embedding, nil
		}
		if !retryableOpenAIError(err) || attempt >= e.maxRetries {
			return nil, apierr.Wrap(apierr.KindService, "text embedding failed", err)
		}
		sleepFor := httpx.JitterSleep(backoff)
		e.log.Warn("text embedding retrying",
			"attempt", attempt+1,
			"max_retries", e.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
}

func retryableOpenAIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return httpx.IsRetryableHTTPStatus(apiErr.HTTPStatusCode)
	}
	return httpx.IsRetryableError(err)
}

// dashscopeMultimodalEmbedder adapts the DashScope client to the
// image and video embedder contracts.
type dashscopeMultimodalEmbedder struct {
	client *dashscope.Client
}

func (e *dashscopeMultimodalEmbedder) EmbedImage(ctx context.Context, imageURL string) ([]float32, error) {
	return e.client.EmbedImage(ctx, imageURL)
}

func (e *dashscopeMultimodalEmbedder) EmbedVideo(ctx context.Context, videoURL string) ([]float32, error) {
	return e.client.EmbedVideo(ctx, videoURL)
}

// dashscopeCaptioner pairs the VLM client with the caption prompt,
// which is read from the configured file once at construction.
type dashscopeCaptioner struct {
	client *dashscope.Client
	prompt string
}

func newDashscopeCaptioner(client *dashscope.Client, promptPath string) (*dashscopeCaptioner, error) {
	raw, err := os.ReadFile(promptPath)
	if err != nil {
		return nil, fmt.Errorf("read caption prompt %s: %w", promptPath, err)
	}
	prompt := strings.TrimSpace(string(raw))
	if prompt == "" {
		return nil, fmt.Errorf("caption prompt %s is empty", promptPath)
	}
	return &dashscopeCaptioner{client: client, prompt: prompt}, nil
}

func (c *dashscopeCaptioner) CaptionImage(ctx context.Context, imageURL string) (string, error) {
	return c.client.CaptionImage(ctx, imageURL, c.prompt)
}

// dashscopeTranscriber runs the async paraformer transcription flow.
type dashscopeTranscriber struct {
	client        *dashscope.Client
	languageHints []string
}

func (t *dashscopeTranscriber) Transcribe(ctx context.Context, audioURL string) (string, error) {
	return t.client.Transcribe(ctx, audioURL, t.languageHints)
}
