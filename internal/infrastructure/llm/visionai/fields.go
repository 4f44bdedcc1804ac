package visionai

import (
	"context"
	"strings"
	"time"
)

const defaultFieldCallTimeout = 60 * time.Second

// FieldExtractor asks for one structured field value from one page of
// text under the verbatim-or-N/A contract.
type FieldExtractor struct {
	client      *Client
	callTimeout time.Duration
}

func NewFieldExtractor(client *Client, callTimeout time.Duration) *FieldExtractor {
	if callTimeout <= 0 {
		callTimeout = defaultFieldCallTimeout
	}
	return &FieldExtractor{client: client, callTimeout: callTimeout}
}

// ExtractField returns the verbatim field value, or "" when the model
// answered N/A (field absent on this page).
func (f *FieldExtractor) ExtractField(ctx context.Context, pageText, fieldName string) (string, error) {
	if err := f.client.wait(ctx); err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, f.callTimeout)
	defer cancel()

	req := chatRequest{
		Model: f.client.fieldModel,
		Messages: []chatMessage{
			{Role: "system", Content: fieldSystemPrompt(fieldName)},
			{Role: "user", Content: pageText},
		},
		MaxTokens:   100,
		Temperature: 0,
	}

	value, err := f.client.chatCompletion(callCtx, req, "extract_field")
	if err != nil {
		return "", err
	}
	if strings.EqualFold(value, "n/a") {
		return "", nil
	}
	return value, nil
}
