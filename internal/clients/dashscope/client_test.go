package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/molehq/molesearch-backend/internal/platform/apierr"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
	}
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	c, err := NewClient(log, Config{
		APIKey:  "test-key",
		Model:   "multimodal-embedding-v1",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.http = &http.Client{Transport: rt}
	return c
}

func TestEmbedImageDecodesVector(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		gotPath = req.URL.Path
		gotAuth = req.Header.Get("Authorization")
		raw, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(raw, &gotBody)
		return jsonResponse(200, `{
			"output": {"embeddings": [{"index": 0, "embedding": [0.1, 0.2, 0.3], "type": "image"}]},
			"request_id": "req-1"
		}`), nil
	})

	vec, err := c.EmbedImage(context.Background(), "https://example.com/cat.jpg")
	if err != nil {
		t.Fatalf("EmbedImage: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Fatalf("vector: want [0.1 0.2 0.3] got %v", vec)
	}
	if gotPath != multimodalEmbeddingPath {
		t.Fatalf("path: want=%s got=%s", multimodalEmbeddingPath, gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("authorization header: got %q", gotAuth)
	}
	input := gotBody["input"].(map[string]any)
	contents := input["contents"].([]any)
	if len(contents) != 1 || contents[0].(map[string]any)["image"] != "https://example.com/cat.jpg" {
		t.Fatalf("request contents: got %v", contents)
	}
}

func TestVendorErrorCarriesKind(t *testing.T) {
	cases := []struct {
		name string
		body string
		want apierr.Kind
	}{
		{
			name: "data inspection",
			body: `{"code": "DataInspectionFailed", "message": "image format is illegal", "request_id": "r1"}`,
			want: apierr.KindInvalidMedia,
		},
		{
			name: "download failure",
			body: `{"code": "InvalidParameter", "message": "url download error, please check", "request_id": "r2"}`,
			want: apierr.KindMediaDownload,
		},
		{
			name: "other 4xx",
			body: `{"code": "Throttling.User", "message": "model busy", "request_id": "r3"}`,
			want: apierr.KindMediaProcessing,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
				return jsonResponse(400, tc.body), nil
			})
			_, err := c.EmbedVideo(context.Background(), "https://example.com/clip.mp4")
			if err == nil {
				t.Fatalf("want vendor error, got nil")
			}
			if got := apierr.KindOf(err); got != tc.want {
				t.Fatalf("kind: want=%s got=%s (%v)", tc.want, got, err)
			}
		})
	}
}

func TestCaptionImageJoinsContentText(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != multimodalGenerationPath {
			t.Fatalf("path: got %s", req.URL.Path)
		}
		return jsonResponse(200, `{
			"output": {"choices": [{"message": {"content": [{"text": "a tabby cat"}, {"text": "on a sofa"}]}}]},
			"request_id": "req-2"
		}`), nil
	})
	caption, err := c.CaptionImage(context.Background(), "https://example.com/cat.jpg", "Describe the image.")
	if err != nil {
		t.Fatalf("CaptionImage: %v", err)
	}
	if caption != "a tabby cat\non a sofa" {
		t.Fatalf("caption: got %q", caption)
	}
}

func TestCaptionImageEmptyIsError(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"output": {"choices": []}, "request_id": "req-3"}`), nil
	})
	if _, err := c.CaptionImage(context.Background(), "https://example.com/x.jpg", "p"); err == nil {
		t.Fatalf("want error for empty caption")
	}
}

func TestTranscribeSubmitPollFetch(t *testing.T) {
	var sawAsyncHeader bool
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		switch {
		case req.Method == http.MethodPost && req.URL.Path == transcriptionSubmitPath:
			sawAsyncHeader = req.Header.Get("X-DashScope-Async") == "enable"
			return jsonResponse(200, `{"output": {"task_id": "t-1", "task_status": "PENDING"}, "request_id": "r1"}`), nil
		case req.Method == http.MethodGet && req.URL.Path == transcriptionTaskPath+"t-1":
			return jsonResponse(200, `{
				"output": {
					"task_id": "t-1",
					"task_status": "SUCCEEDED",
					"results": [{"transcription_url": "https://results.example.com/t-1.json", "subtask_status": "SUCCEEDED"}]
				},
				"request_id": "r2"
			}`), nil
		case req.URL.Host == "results.example.com":
			return jsonResponse(200, `{"transcripts": [{"text": "hello from the video"}]}`), nil
		default:
			t.Fatalf("unexpected request %s %s", req.Method, req.URL)
			return nil, nil
		}
	})

	text, err := c.Transcribe(context.Background(), "https://cdn.example.com/a.wav", []string{"zh", "en"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello from the video" {
		t.Fatalf("transcript: got %q", text)
	}
	if !sawAsyncHeader {
		t.Fatalf("submit request missing X-DashScope-Async header")
	}
}

func TestTranscribeFailedTask(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.Method == http.MethodPost {
			return jsonResponse(200, `{"output": {"task_id": "t-2", "task_status": "PENDING"}}`), nil
		}
		return jsonResponse(200, `{"output": {"task_id": "t-2", "task_status": "FAILED", "message": "corrupt audio"}}`), nil
	})
	_, err := c.Transcribe(context.Background(), "https://cdn.example.com/bad.wav", nil)
	if err == nil || !strings.Contains(err.Error(), "corrupt audio") {
		t.Fatalf("want failed-task error, got %v", err)
	}
}
