package domain

// Progress event types emitted by the pipeline. Events are ephemeral:
// they are fanned out to live subscribers and never persisted, so a late
// subscriber has to fetch a state snapshot instead of relying on replay.
const (
	EventStarted       = "started"
	EventProcessing    = "processing"
	EventPageCompleted = "page_completed"
	EventPageFailed    = "page_failed"
	EventRetry         = "retry"
	EventCompleted     = "completed"

	EventEmbeddingStarted        = "embedding_started"
	EventEmbeddingBatch          = "embedding_batch"
	EventEmbeddingBatchCompleted = "embedding_batch_completed"
	EventEmbeddingFailed         = "embedding_failed"
	EventEmbeddingCompleted      = "embedding_completed"

	EventIngestionStarted        = "ingestion_started"
	EventIngestionBatch          = "ingestion_batch"
	EventIngestionBatchCompleted = "ingestion_batch_completed"
	EventIngestionError          = "ingestion_error"
	EventIngestionCompleted      = "ingestion_completed"
	EventCollectionCreated       = "collection_created"
	EventCollectionExists        = "collection_exists"

	EventEnrichmentStarted   = "enrichment_started"
	EventFieldExtracted      = "field_extracted"
	EventEnrichmentCompleted = "enrichment_completed"

	EventFileError     = "file_error"
	EventFileCompleted = "file_completed"
	EventAllCompleted  = "all_completed"
	EventProcessError  = "process_error"
	EventStatesUpdated = "states_updated"
)

// ProgressEvent is the single envelope broadcast over the event bus.
// Only the fields relevant to the event type are set.
type ProgressEvent struct {
	Type      string `json:"type"`
	CompanyID string `json:"company_id,omitempty"`
	DocID     string `json:"doc_id,omitempty"`
	File      string `json:"file,omitempty"`
	Stage     Stage  `json:"stage,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`

	Page           int `json:"page,omitempty"`
	TotalPages     int `json:"total_pages,omitempty"`
	CompletedPages int `json:"completed_pages,omitempty"`
	SuccessPages   int `json:"success_pages,omitempty"`
	FailedPages    int `json:"failed_pages,omitempty"`
	Words          int `json:"words,omitempty"`
	Attempt        int `json:"attempt,omitempty"`

	Dimension  int `json:"dimension,omitempty"`
	ChunkCount int `json:"chunk_count,omitempty"`

	Batch        int `json:"batch,omitempty"`
	TotalBatches int `json:"total_batches,omitempty"`
	Uploaded     int `json:"uploaded,omitempty"`
	TotalPoints  int `json:"total_points,omitempty"`

	Field string `json:"field,omitempty"`

	FileIndex  int `json:"file_index,omitempty"`
	TotalFiles int `json:"total_files,omitempty"`
	Progress   int `json:"progress,omitempty"`
}
