package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/avasilyev/contract-intel/internal/core/domain"
)

func TestCollectionExists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/contracts":
			_, _ = w.Write([]byte(`{"result":{"status":"green"}}`))
		case "/collections/missing":
			http.NotFound(w, r)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := New(server.URL)
	ok, err := client.CollectionExists(context.Background(), "contracts")
	if err != nil || !ok {
		t.Fatalf("CollectionExists(contracts) = %v, %v", ok, err)
	}
	ok, err = client.CollectionExists(context.Background(), "missing")
	if err != nil || ok {
		t.Fatalf("CollectionExists(missing) = %v, %v", ok, err)
	}
	if _, err = client.CollectionExists(context.Background(), "broken"); err == nil {
		t.Fatalf("expected error for server failure")
	}
}

func TestCreateCollectionTreatsExistingAsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/conflict":
			w.WriteHeader(http.StatusConflict)
		case "/collections/exists-msg":
			http.Error(w, `{"status":{"error":"collection already exists"}}`, http.StatusBadRequest)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := New(server.URL)
	if err := client.CreateCollection(context.Background(), "conflict", 768); err != nil {
		t.Fatalf("409 should be benign, got %v", err)
	}
	if err := client.CreateCollection(context.Background(), "exists-msg", 768); err != nil {
		t.Fatalf("already-exists body should be benign, got %v", err)
	}
	err := client.CreateCollection(context.Background(), "broken", 768)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected error with body, got %v", err)
	}
}

func TestUpsertPointsWaitsAndSendsDeterministicIDs(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/collections/contracts/points" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("wait") != "true" {
			t.Errorf("expected wait=true, got %q", r.URL.RawQuery)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	docID := domain.DocumentID("acme", "contract.pdf")
	point := domain.EmbeddingPoint{
		ID:     domain.PointID(docID, 1),
		Vector: []float32{0.1, 0.2},
		Payload: domain.PointPayload{
			Content:  "Company: acme\nDocument: contract.pdf\nPage: 1\n---\ntext",
			Metadata: domain.ChunkMeta{Company: "acme", Source: "contract.pdf", Page: 1, DocID: docID},
		},
	}

	client := New(server.URL)
	if err := client.UpsertPoints(context.Background(), "contracts", []domain.EmbeddingPoint{point}); err != nil {
		t.Fatalf("UpsertPoints() error = %v", err)
	}

	points, _ := captured["points"].([]any)
	if len(points) != 1 {
		t.Fatalf("expected 1 point in body, got %v", captured)
	}
	first, _ := points[0].(map[string]any)
	if first["id"] != point.ID {
		t.Fatalf("expected deterministic id %q, got %v", point.ID, first["id"])
	}
}

func TestUpsertPointsSkipsEmptyBatch(t *testing.T) {
	client := New("http://127.0.0.1:1")
	if err := client.UpsertPoints(context.Background(), "contracts", nil); err != nil {
		t.Fatalf("empty batch should be a no-op, got %v", err)
	}
}

func TestListCompaniesScrollsAllPages(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/contracts/points/scroll" {
			http.NotFound(w, r)
			return
		}
		calls++
		if calls == 1 {
			_, _ = w.Write([]byte(`{"result":{"points":[
				{"payload":{"metadata":{"company":"acme"}}},
				{"payload":{"metadata":{"company":"globex"}}}
			],"next_page_offset":"cursor-1"}}`))
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["offset"] != "cursor-1" {
			t.Errorf("expected offset cursor-1 on second page, got %v", body["offset"])
		}
		_, _ = w.Write([]byte(`{"result":{"points":[
			{"payload":{"metadata":{"company":"acme"}}}
		],"next_page_offset":null}}`))
	}))
	defer server.Close()

	client := New(server.URL)
	companies, err := client.ListCompanies(context.Background(), "contracts")
	if err != nil {
		t.Fatalf("ListCompanies() error = %v", err)
	}
	if !reflect.DeepEqual(companies, []string{"acme", "globex"}) {
		t.Fatalf("unexpected companies: %v", companies)
	}
	if calls != 2 {
		t.Fatalf("expected 2 scroll pages, got %d", calls)
	}
}

func TestListDocumentsFiltersByCompany(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		raw, _ := json.Marshal(body["filter"])
		if !strings.Contains(string(raw), "metadata.company") || !strings.Contains(string(raw), "acme") {
			t.Errorf("expected company filter in scroll body, got %s", raw)
		}
		_, _ = w.Write([]byte(`{"result":{"points":[
			{"payload":{"metadata":{"company":"acme","source":"b.pdf"}}},
			{"payload":{"metadata":{"company":"acme","source":"a.pdf"}}}
		],"next_page_offset":null}}`))
	}))
	defer server.Close()

	client := New(server.URL)
	docs, err := client.ListDocuments(context.Background(), "contracts", "acme")
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if !reflect.DeepEqual(docs, []string{"a.pdf", "b.pdf"}) {
		t.Fatalf("unexpected documents: %v", docs)
	}
}

func TestDeleteCompanySendsFilter(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/collections/contracts/points/delete" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := New(server.URL)
	if err := client.DeleteCompany(context.Background(), "contracts", "acme"); err != nil {
		t.Fatalf("DeleteCompany() error = %v", err)
	}
	raw, _ := json.Marshal(captured["filter"])
	if !strings.Contains(string(raw), "acme") {
		t.Fatalf("expected company filter in delete body, got %s", raw)
	}
}
