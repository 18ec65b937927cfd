package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/molehq/molesearch-backend/internal/config"
	"github.com/molehq/molesearch-backend/internal/objectstore"
	"github.com/molehq/molesearch-backend/internal/platform/apierr"
	"github.com/molehq/molesearch-backend/internal/platform/ctxutil"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
)

// Extractor turns a video URL into a public audio URL: download the
// video, transcode to 16 kHz mono WAV with ffmpeg, upload under the
// configured prefix. Temp files are removed on every exit path.
//
// REQUIRED BINARY in worker runtime: ffmpeg.
type Extractor struct {
	log        *logger.Logger
	http       *http.Client
	uploader   objectstore.Uploader
	prefix     string
	ffmpegPath string
	workRoot   string
}

func NewExtractor(log *logger.Logger, uploader objectstore.Uploader, cfg config.AudioExtractConfig) (*Extractor, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if uploader == nil {
		return nil, fmt.Errorf("uploader is required")
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "audio"
	}
	timeout := cfg.DownloadTimeout()
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Extractor{
		log:        log.With("service", "AudioExtractor"),
		http:       &http.Client{Timeout: timeout},
		uploader:   uploader,
		prefix:     prefix,
		ffmpegPath: "ffmpeg",
		workRoot:   filepath.Join(os.TempDir(), "molesearch-media"),
	}, nil
}

// AssertReady probes for ffmpeg and a writable work directory. Called
// once at worker startup so a missing binary fails fast, not mid-task.
func (e *Extractor) AssertReady(ctx context.Context) error {
	if _, err := exec.LookPath(e.ffmpegPath); err != nil {
		return fmt.Errorf("missing required binary %q in PATH: %w", e.ffmpegPath, err)
	}
	if err := os.MkdirAll(e.workRoot, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	return nil
}

// ExtractAndUpload runs the full download, transcode, upload chain and
// returns the public URL of the uploaded WAV file.
func (e *Extractor) ExtractAndUpload(ctx context.Context, videoURL string) (string, error) {
	started := time.Now()
	videoPath, cleanupVideo, err := e.downloadToTemp(ctx, videoURL)
	if err != nil {
		return "", err
	}
	defer cleanupVideo()

	audioPath, cleanupAudio, err := e.transcodeToWAV(ctx, videoPath)
	if err != nil {
		return "", err
	}
	defer cleanupAudio()

	key := path.Join(e.prefix, uuid.NewString()+".wav")
	f, err := os.Open(audioPath)
	if err != nil {
		return "", apierr.Wrap(apierr.KindMediaProcessing, "open extracted audio failed", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", apierr.Wrap(apierr.KindMediaProcessing, "stat extracted audio failed", err)
	}
	url, err := e.uploader.Upload(ctx, key, f, info.Size(), "audio/wav")
	if err != nil {
		return "", apierr.Wrap(apierr.KindMediaProcessing, "audio upload failed", err)
	}
	e.log.Info("audio extracted and uploaded",
		"video_url", videoURL,
		"key", key,
		"audio_bytes", info.Size(),
		"duration", time.Since(started).String(),
	)
	return url, nil
}

func (e *Extractor) downloadToTemp(ctx context.Context, videoURL string) (string, func(), error) {
	noop := func() {}
	if err := os.MkdirAll(e.workRoot, 0o755); err != nil {
		return "", noop, apierr.Wrap(apierr.KindMediaProcessing, "create work dir failed", err)
	}
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodGet, videoURL, nil)
	if err != nil {
		return "", noop, apierr.Wrap(apierr.KindMediaDownload, "build video download failed", err)
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return "", noop, apierr.Wrap(apierr.KindMediaDownload, "video download failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", noop, apierr.Ef(apierr.KindMediaDownload, "video download returned status=%d", resp.StatusCode)
	}

	f, err := os.CreateTemp(e.workRoot, "video-*"+downloadSuffix(videoURL))
	if err != nil {
		return "", noop, apierr.Wrap(apierr.KindMediaProcessing, "create temp video failed", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		cleanup()
		return "", noop, apierr.Wrap(apierr.KindMediaDownload, "video download interrupted", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", noop, apierr.Wrap(apierr.KindMediaProcessing, "write temp video failed", err)
	}
	return f.Name(), cleanup, nil
}

func (e *Extractor) transcodeToWAV(ctx context.Context, videoPath string) (string, func(), error) {
	noop := func() {}
	outPath := strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + ".wav"
	cmd := exec.CommandContext(ctxutil.Default(ctx), e.ffmpegPath,
		"-y",
		"-i", videoPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		outPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(outPath)
		return "", noop, apierr.Wrap(apierr.KindMediaProcessing,
			fmt.Sprintf("audio extraction failed: %s", tail(string(out), 512)), err)
	}
	return outPath, func() { _ = os.Remove(outPath) }, nil
}

func downloadSuffix(videoURL string) string {
	ext := path.Ext(path.Base(strings.SplitN(videoURL, "?", 2)[0]))
	if len(ext) > 8 || strings.ContainsAny(ext, "/\\") {
		return ""
	}
	return ext
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
