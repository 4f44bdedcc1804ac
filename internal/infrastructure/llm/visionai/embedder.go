package visionai

import (
	"context"
	"fmt"
)

// Embedder calls the embeddings endpoint of the extraction service.
type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.client.wait(ctx); err != nil {
		return nil, err
	}

	var resp embedResponse
	req := embedRequest{Model: e.client.embedModel, Input: texts}
	if err := e.client.postJSON(ctx, "/embeddings", req, &resp, "embed"); err != nil {
		return nil, wrapTemporaryIfNeeded("embed batch", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embed batch: vectors/texts mismatch: %d/%d", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("embed batch: vector index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}
