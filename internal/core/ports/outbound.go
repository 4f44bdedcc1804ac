package ports

import (
	"context"
	"time"

	"github.com/avasilyev/contract-intel/internal/core/domain"
)

// PageRasterizer turns one PDF page into an image blob for the OCR
// service. Rendering internals live behind this port.
type PageRasterizer interface {
	PageCount(ctx context.Context, pdfPath string) (int, error)
	RenderPage(ctx context.Context, pdfPath string, page int) ([]byte, error)
}

// OCRService extracts verbatim text from a page image under the
// transcription instruction contract.
type OCRService interface {
	ExtractPage(ctx context.Context, image []byte, page int) (string, error)
}

// Embedder builds vectors for chunk texts. EmbedQuery doubles as the
// dimensionality probe.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorStore is the vector index: collection lifecycle plus batched
// idempotent upsert and the filtered listing/deletion surface.
type VectorStore interface {
	CollectionExists(ctx context.Context, collection string) (bool, error)
	CreateCollection(ctx context.Context, collection string, dimension int) error
	UpsertPoints(ctx context.Context, collection string, points []domain.EmbeddingPoint) error
	ListCompanies(ctx context.Context, collection string) ([]string, error)
	ListDocuments(ctx context.Context, collection, companyID string) ([]string, error)
	DeleteCompany(ctx context.Context, collection, companyID string) error
}

// FieldExtractor asks the extraction service for one structured field
// value under the strict verbatim-or-N/A contract. An empty result with
// a nil error means the field was not found on that page.
type FieldExtractor interface {
	ExtractField(ctx context.Context, pageText, fieldName string) (string, error)
}

// ExtractedField is one relational row keyed by (document, field).
type ExtractedField struct {
	DocID     string
	CompanyID string
	FileName  string
	FieldName string
	Value     string
	Page      int
}

// FieldStore persists structured-extraction results.
type FieldStore interface {
	UpsertExtractedField(ctx context.Context, field ExtractedField) error
	ListFieldNames(ctx context.Context) ([]string, error)
	ListExtractedFields(ctx context.Context, companyID string) ([]ExtractedField, error)
}

// OCRCache is the disk-backed store of per-document OCR results.
type OCRCache interface {
	Get(companyID, fileName string) ([]domain.PageResult, bool)
	Put(companyID, fileName string, pages []domain.PageResult) error
	PurgeCompany(companyID string) error
}

// ProgressStore persists per-company job-state snapshots. Update
// serializes the whole load-mutate-save sequence for a scope so
// concurrent stage executors never lose writes.
type ProgressStore interface {
	Load(scope string) (map[string]*domain.DocumentJob, error)
	Save(scope string, states map[string]*domain.DocumentJob) error
	Update(scope string, mutate func(states map[string]*domain.DocumentJob)) error
	LoadAll() (map[string]*domain.DocumentJob, error)
	Sweep(maxAge time.Duration) (int, error)
}

// EventSink receives progress events; publication must never block the
// publisher.
type EventSink interface {
	Publish(event domain.ProgressEvent)
}
