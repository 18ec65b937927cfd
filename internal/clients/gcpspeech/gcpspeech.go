package gcpspeech

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"github.com/molehq/molesearch-backend/internal/platform/apierr"
	"github.com/molehq/molesearch-backend/internal/platform/ctxutil"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
)

// Client is the Cloud Speech alternative ASR implementation. The audio
// bytes are fetched from the extracted-audio URL and sent inline;
// extraction always produces 16 kHz mono WAV, which pins the
// recognition config.
type Client struct {
	log    *logger.Logger
	client *speech.Client
	http   *http.Client
	lang   string
}

type Config struct {
	CredentialsFile string
	LanguageCode    string
	Timeout         time.Duration
}

func New(ctx context.Context, log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	c, err := speech.NewClient(ctxutil.Default(ctx), opts...)
	if err != nil {
		return nil, fmt.Errorf("gcp speech client: %w", err)
	}
	lang := cfg.LanguageCode
	if lang == "" {
		lang = "en-US"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		log:    log.With("service", "GCPSpeech"),
		client: c,
		http:   &http.Client{Timeout: timeout},
		lang:   lang,
	}, nil
}

// Transcribe downloads the audio and runs synchronous recognition.
// languageHints beyond the primary config language become alternative
// language codes.
func (c *Client) Transcribe(ctx context.Context, audioURL string, languageHints []string) (string, error) {
	audio, err := c.fetchAudio(ctx, audioURL)
	if err != nil {
		return "", err
	}
	var alternatives []string
	for _, h := range languageHints {
		if h != "" && h != c.lang {
			alternatives = append(alternatives, h)
		}
	}
	resp, err := c.client.Recognize(ctxutil.Default(ctx), &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                 speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:          16000,
			AudioChannelCount:        1,
			LanguageCode:             c.lang,
			AlternativeLanguageCodes: alternatives,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", apierr.Wrap(apierr.KindMediaProcessing, "speech recognition failed", err)
	}
	var parts []string
	for _, result := range resp.Results {
		if len(result.Alternatives) > 0 && result.Alternatives[0].Transcript != "" {
			parts = append(parts, result.Alternatives[0].Transcript)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " ")), nil
}

func (c *Client) fetchAudio(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodGet, url, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindMediaDownload, "build audio fetch failed", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindMediaDownload, "audio download failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apierr.Ef(apierr.KindMediaDownload, "audio download returned status=%d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindMediaDownload, "read audio failed", err)
	}
	return raw, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
