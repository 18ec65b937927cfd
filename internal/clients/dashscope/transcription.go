package dashscope

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/molehq/molesearch-backend/internal/platform/ctxutil"
)

const (
	transcriptionSubmitPath = "/api/v1/services/audio/asr/transcription"
	transcriptionTaskPath   = "/api/v1/tasks/"
)

type transcriptionRequest struct {
	Model      string                  `json:"model"`
	Input      transcriptionInput      `json:"input"`
	Parameters transcriptionParameters `json:"parameters"`
}

type transcriptionInput struct {
	FileURLs []string `json:"file_urls"`
}

type transcriptionParameters struct {
	LanguageHints []string `json:"language_hints,omitempty"`
}

type transcriptionTaskResponse struct {
	Output struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
		Results    []struct {
			FileURL          string `json:"file_url"`
			TranscriptionURL string `json:"transcription_url"`
			SubtaskStatus    string `json:"subtask_status"`
		} `json:"results"`
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"output"`
	RequestID string `json:"request_id"`
}

// transcriptionDocument is the JSON the batch ASR service parks at the
// transcription_url.
type transcriptionDocument struct {
	Transcripts []struct {
		Text      string `json:"text"`
		Sentences []struct {
			Text string `json:"text"`
		} `json:"sentences"`
	} `json:"transcripts"`
}

// Transcribe runs the async transcription flow against one audio URL:
// submit, poll until terminal, then fetch the transcription document.
// The caller decides what a failure means; for the enrichment pipeline
// ASR errors are non-fatal.
func (c *Client) Transcribe(ctx context.Context, audioURL string, languageHints []string) (string, error) {
	const op = "transcribe_audio"
	submit := transcriptionRequest{
		Model:      c.cfg.Model,
		Input:      transcriptionInput{FileURLs: []string{audioURL}},
		Parameters: transcriptionParameters{LanguageHints: languageHints},
	}
	var submitted transcriptionTaskResponse
	headers := map[string]string{"X-DashScope-Async": "enable"}
	if err := c.do(ctx, op, "POST", transcriptionSubmitPath, submit, headers, &submitted); err != nil {
		return "", err
	}
	taskID := submitted.Output.TaskID
	if taskID == "" {
		return "", &APIError{Operation: op, RequestID: submitted.RequestID, Message: "transcription submit returned no task id"}
	}

	final, err := c.pollTranscription(ctx, op, taskID)
	if err != nil {
		return "", err
	}
	if len(final.Output.Results) == 0 || final.Output.Results[0].TranscriptionURL == "" {
		return "", &APIError{Operation: op, RequestID: final.RequestID, Message: "transcription succeeded but returned no result url"}
	}
	return c.fetchTranscript(ctx, op, final.Output.Results[0].TranscriptionURL)
}

func (c *Client) pollTranscription(ctx context.Context, op, taskID string) (*transcriptionTaskResponse, error) {
	interval := 2 * time.Second
	for {
		select {
		case <-ctxutil.Default(ctx).Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		var status transcriptionTaskResponse
		if err := c.do(ctx, op, "GET", transcriptionTaskPath+taskID, nil, nil, &status); err != nil {
			return nil, err
		}
		switch status.Output.TaskStatus {
		case "SUCCEEDED":
			return &status, nil
		case "FAILED", "CANCELED", "UNKNOWN":
			return nil, &APIError{
				Operation: op,
				Code:      status.Output.Code,
				Message:   fmt.Sprintf("transcription task %s ended as %s: %s", taskID, status.Output.TaskStatus, status.Output.Message),
				RequestID: status.RequestID,
			}
		}
		if interval < 10*time.Second {
			interval += time.Second
		}
	}
}

// fetchTranscript downloads the transcription document; its URL points
// at the vendor's result bucket, not the API host, so this bypasses do.
func (c *Client) fetchTranscript(ctx context.Context, op, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodGet, url, nil)
	if err != nil {
		return "", &APIError{Operation: op, Message: "build transcript fetch failed", Cause: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyTransport(op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &APIError{Operation: op, StatusCode: resp.StatusCode, Message: "read transcript failed", Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{Operation: op, StatusCode: resp.StatusCode, Message: truncateBody(raw)}
	}
	var doc transcriptionDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", &APIError{Operation: op, Message: "decode transcript failed", Cause: err}
	}
	var parts []string
	for _, tr := range doc.Transcripts {
		if tr.Text != "" {
			parts = append(parts, tr.Text)
			continue
		}
		for _, s := range tr.Sentences {
			if s.Text != "" {
				parts = append(parts, s.Text)
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, " ")), nil
}
