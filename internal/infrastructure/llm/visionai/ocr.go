package visionai

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/avasilyev/contract-intel/internal/core/domain"
)

const defaultOCRCallTimeout = 700 * time.Second

// OCR performs one verbatim page transcription per call. Retries belong
// to the pipeline's retry policy, not to this client.
type OCR struct {
	client      *Client
	callTimeout time.Duration
}

func NewOCR(client *Client, callTimeout time.Duration) *OCR {
	if callTimeout <= 0 {
		callTimeout = defaultOCRCallTimeout
	}
	return &OCR{client: client, callTimeout: callTimeout}
}

// ExtractPage sends one page image to the extraction service under the
// transcription contract and returns the cleaned text.
func (o *OCR) ExtractPage(ctx context.Context, image []byte, page int) (string, error) {
	if err := o.client.wait(ctx); err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	req := chatRequest{
		Model: o.client.ocrModel,
		Messages: []chatMessage{
			{Role: "system", Content: ocrSystemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: ocrUserPrompt(page)},
				{Type: "image_url", ImageURL: &imageURL{
					URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image),
				}},
			}},
		},
		MaxTokens:   8000,
		Temperature: 0,
	}

	text, err := o.client.chatCompletion(callCtx, req, "ocr")
	if err != nil {
		// Expiry of the per-call timeout is transient; only caller
		// cancellation is terminal.
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return "", domain.WrapError(domain.ErrTemporary, "ocr page timed out", err)
		}
		return "", wrapTemporaryIfNeeded("ocr page", err)
	}
	return domain.CleanText(text), nil
}
