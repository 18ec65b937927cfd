package dashscope

import (
	"context"
	"strings"
)

const multimodalGenerationPath = "/api/v1/services/aigc/multimodal-generation/generation"

type conversationRequest struct {
	Model string            `json:"model"`
	Input conversationInput `json:"input"`
}

type conversationInput struct {
	Messages []conversationMessage `json:"messages"`
}

type conversationMessage struct {
	Role    string              `json:"role"`
	Content []map[string]string `json:"content"`
}

type conversationResponse struct {
	Output struct {
		Choices []struct {
			Message struct {
				Content []struct {
					Text string `json:"text"`
				} `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	RequestID string `json:"request_id"`
}

// CaptionImage asks the VLM to describe one image with the given
// prompt and returns the generated text.
func (c *Client) CaptionImage(ctx context.Context, imageURL, prompt string) (string, error) {
	const op = "caption_image"
	req := conversationRequest{
		Model: c.cfg.Model,
		Input: conversationInput{
			Messages: []conversationMessage{{
				Role: "user",
				Content: []map[string]string{
					{"image": imageURL},
					{"text": prompt},
				},
			}},
		},
	}
	var resp conversationResponse
	if err := c.do(ctx, op, "POST", multimodalGenerationPath, req, nil, &resp); err != nil {
		return "", err
	}
	var parts []string
	for _, choice := range resp.Output.Choices {
		for _, content := range choice.Message.Content {
			if content.Text != "" {
				parts = append(parts, content.Text)
			}
		}
	}
	caption := strings.TrimSpace(strings.Join(parts, "\n"))
	if caption == "" {
		return "", &APIError{
			Operation: op,
			RequestID: resp.RequestID,
			Message:   "vlm returned an empty caption",
		}
	}
	return caption, nil
}
