package dashscope

import (
	"context"
	"fmt"
)

const multimodalEmbeddingPath = "/api/v1/services/embeddings/multimodal-embedding/multimodal-embedding"

type multimodalEmbeddingRequest struct {
	Model      string          `json:"model"`
	Input      multimodalInput `json:"input"`
	Parameters map[string]any  `json:"parameters"`
}

type multimodalInput struct {
	Contents []map[string]string `json:"contents"`
}

type multimodalEmbeddingResponse struct {
	Output struct {
		Embeddings []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
			Type      string    `json:"type"`
		} `json:"embeddings"`
	} `json:"output"`
	RequestID string `json:"request_id"`
}

// EmbedImage returns the multimodal embedding of one image URL.
func (c *Client) EmbedImage(ctx context.Context, imageURL string) ([]float32, error) {
	return c.multimodalEmbed(ctx, "embed_image", map[string]string{"image": imageURL})
}

// EmbedVideo returns the multimodal embedding of one video URL.
func (c *Client) EmbedVideo(ctx context.Context, videoURL string) ([]float32, error) {
	return c.multimodalEmbed(ctx, "embed_video", map[string]string{"video": videoURL})
}

func (c *Client) multimodalEmbed(ctx context.Context, op string, content map[string]string) ([]float32, error) {
	req := multimodalEmbeddingRequest{
		Model:      c.cfg.Model,
		Input:      multimodalInput{Contents: []map[string]string{content}},
		Parameters: map[string]any{},
	}
	var resp multimodalEmbeddingResponse
	if err := c.do(ctx, op, "POST", multimodalEmbeddingPath, req, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Output.Embeddings) == 0 || len(resp.Output.Embeddings[0].Embedding) == 0 {
		return nil, &APIError{
			Operation: op,
			RequestID: resp.RequestID,
			Message:   fmt.Sprintf("response carried no embedding (request_id=%s)", resp.RequestID),
		}
	}
	return resp.Output.Embeddings[0].Embedding, nil
}
