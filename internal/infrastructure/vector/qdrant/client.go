package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/avasilyev/contract-intel/internal/core/domain"
)

const scrollPageSize = 256

// Client is a thin REST client for the points and collections APIs.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) CollectionExists(ctx context.Context, collection string) (bool, error) {
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("create collection info request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("qdrant collection info request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 300:
		return false, statusError("collection info", resp)
	default:
		return true, nil
	}
}

func (c *Client) CreateCollection(ctx context.Context, collection string, dimension int) error {
	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal create collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant create collection request: %w", err)
	}
	defer resp.Body.Close()

	// Another worker may win the create race. 409 (and the "already
	// exists" message some versions return with 400) is benign.
	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if strings.Contains(strings.ToLower(string(raw)), "already exists") {
			return nil
		}
		if msg := strings.TrimSpace(string(raw)); msg != "" {
			return fmt.Errorf("qdrant create collection status: %s: %s", resp.Status, msg)
		}
		return fmt.Errorf("qdrant create collection status: %s", resp.Status)
	}
	return nil
}

// UpsertPoints writes one batch with wait=true so a success means the
// points are durably applied. Point IDs are deterministic, so retried
// batches overwrite instead of duplicating.
func (c *Client) UpsertPoints(ctx context.Context, collection string, points []domain.EmbeddingPoint) error {
	if len(points) == 0 {
		return nil
	}

	body, err := json.Marshal(map[string]any{"points": points})
	if err != nil {
		return fmt.Errorf("marshal upsert body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create upsert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant upsert request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError("upsert", resp)
	}
	return nil
}

// ListCompanies scrolls the whole collection payloads and returns the
// distinct company values, sorted.
func (c *Client) ListCompanies(ctx context.Context, collection string) ([]string, error) {
	seen := map[string]struct{}{}
	err := c.scroll(ctx, collection, nil, func(payload scrollPayload) {
		if payload.Metadata.Company != "" {
			seen[payload.Metadata.Company] = struct{}{}
		}
	})
	if err != nil {
		return nil, err
	}
	return sortedKeys(seen), nil
}

// ListDocuments returns the distinct source file names indexed for one
// company, sorted.
func (c *Client) ListDocuments(ctx context.Context, collection, companyID string) ([]string, error) {
	filter := companyFilter(companyID)
	seen := map[string]struct{}{}
	err := c.scroll(ctx, collection, filter, func(payload scrollPayload) {
		if payload.Metadata.Source != "" {
			seen[payload.Metadata.Source] = struct{}{}
		}
	})
	if err != nil {
		return nil, err
	}
	return sortedKeys(seen), nil
}

// DeleteCompany removes every point whose payload belongs to the
// company.
func (c *Client) DeleteCompany(ctx context.Context, collection, companyID string) error {
	body, err := json.Marshal(map[string]any{"filter": companyFilter(companyID)})
	if err != nil {
		return fmt.Errorf("marshal delete body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", c.baseURL, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant delete request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError("delete", resp)
	}
	return nil
}

type scrollPayload struct {
	Metadata domain.ChunkMeta `json:"metadata"`
}

func (c *Client) scroll(ctx context.Context, collection string, filter map[string]any, visit func(scrollPayload)) error {
	url := fmt.Sprintf("%s/collections/%s/points/scroll", c.baseURL, collection)
	var offset any

	for {
		reqBody := map[string]any{
			"limit":        scrollPageSize,
			"with_payload": true,
			"with_vector":  false,
		}
		if filter != nil {
			reqBody["filter"] = filter
		}
		if offset != nil {
			reqBody["offset"] = offset
		}

		body, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal scroll body: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create scroll request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("qdrant scroll request: %w", err)
		}

		var scrollResp struct {
			Result struct {
				Points []struct {
					Payload scrollPayload `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		if resp.StatusCode >= 300 {
			err := statusError("scroll", resp)
			resp.Body.Close()
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(&scrollResp); err != nil {
			resp.Body.Close()
			return fmt.Errorf("decode scroll response: %w", err)
		}
		resp.Body.Close()

		for _, p := range scrollResp.Result.Points {
			visit(p.Payload)
		}
		if scrollResp.Result.NextPageOffset == nil {
			return nil
		}
		offset = scrollResp.Result.NextPageOffset
	}
}

func companyFilter(companyID string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{
				"key": "metadata.company",
				"match": map[string]any{
					"value": companyID,
				},
			},
		},
	}
}

func statusError(operation string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return fmt.Errorf("qdrant %s status: %s: %s", operation, resp.Status, msg)
	}
	return fmt.Errorf("qdrant %s status: %s", operation, resp.Status)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
