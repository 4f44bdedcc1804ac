package visionai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/avasilyev/contract-intel/internal/core/domain"
)

var errMissingCredentials = errors.New("extraction service base URL and API key are required")

// Client talks to an OpenAI-compatible extraction endpoint. The same
// endpoint serves vision OCR (chat completions with an image part),
// text embeddings and structured field extraction.
type Client struct {
	baseURL    string
	apiKey     string
	ocrModel   string
	embedModel string
	fieldModel string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type Config struct {
	BaseURL    string
	APIKey     string
	OCRModel   string
	EmbedModel string
	FieldModel string

	// RequestsPerSecond caps outbound extraction calls; zero disables
	// the limiter.
	RequestsPerSecond float64
}

// New builds the client. Missing endpoint or credentials are a
// configuration error: the caller must not retry its way out of that.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.WrapError(domain.ErrNotConfigured, "init extraction client", errMissingCredentials)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		ocrModel:   cfg.OCRModel,
		embedModel: cfg.EmbedModel,
		fieldModel: cfg.FieldModel,
		// Per-operation deadlines come from the caller's context; the
		// client-level timeout is only a safety net.
		httpClient: &http.Client{Timeout: 15 * time.Minute},
		limiter:    limiter,
	}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}
