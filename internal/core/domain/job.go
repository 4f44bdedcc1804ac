package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

var statusRank = map[JobStatus]int{
	StatusQueued:     0,
	StatusProcessing: 1,
	StatusCompleted:  2,
	StatusFailed:     2,
}

// CanTransitionTo reports whether moving to next keeps the job status
// monotonically forward. Completed and failed are both terminal.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	cur, ok := statusRank[s]
	if !ok {
		return true
	}
	nxt, ok := statusRank[next]
	if !ok {
		return false
	}
	if cur >= 2 {
		return false
	}
	return nxt > cur || next == s
}

type Stage string

const (
	StageOCR        Stage = "ocr"
	StageEmbedding  Stage = "embedding"
	StageIngestion  Stage = "ingestion"
	StageEnrichment Stage = "structured_extraction"
)

// StageState tracks per-stage progress counters inside a DocumentJob.
type StageState struct {
	Message        string    `json:"message,omitempty"`
	CurrentPage    int       `json:"current_page,omitempty"`
	TotalPages     int       `json:"total_pages,omitempty"`
	CompletedPages int       `json:"completed_pages,omitempty"`
	Batch          int       `json:"batch,omitempty"`
	TotalBatches   int       `json:"total_batches,omitempty"`
	StartedAt      time.Time `json:"started_at,omitzero"`
}

type JobLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
}

// DocumentJob is the persisted processing state for one file within a
// company batch. It is mutated in place by the stage executors and
// snapshotted to the progress log store after every mutation.
type DocumentJob struct {
	DocID        string                 `json:"doc_id"`
	CompanyID    string                 `json:"company_id"`
	FileName     string                 `json:"file_name"`
	Status       JobStatus              `json:"status"`
	CurrentStage Stage                  `json:"current_stage,omitempty"`
	FileIndex    int                    `json:"file_index"`
	TotalFiles   int                    `json:"total_files"`
	Progress     int                    `json:"progress"`
	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Stages       map[Stage]*StageState  `json:"stages,omitempty"`
	Logs         []JobLogEntry          `json:"logs,omitempty"`
	QueuedAt     time.Time              `json:"queued_at,omitzero"`
	StartedAt    time.Time              `json:"started_at,omitzero"`
	CompletedAt  time.Time              `json:"completed_at,omitzero"`
}

// SetStatus applies a forward-only status transition; regressions are ignored.
func (j *DocumentJob) SetStatus(next JobStatus) {
	if j.Status == "" || j.Status.CanTransitionTo(next) {
		j.Status = next
	}
}

func (j *DocumentJob) StageState(stage Stage) *StageState {
	if j.Stages == nil {
		j.Stages = make(map[Stage]*StageState)
	}
	st, ok := j.Stages[stage]
	if !ok {
		st = &StageState{}
		j.Stages[stage] = st
	}
	return st
}

// Clone returns a deep copy safe to hand to the progress store while
// the pipeline keeps mutating the original.
func (j *DocumentJob) Clone() *DocumentJob {
	cp := *j
	if j.Stages != nil {
		cp.Stages = make(map[Stage]*StageState, len(j.Stages))
		for stage, st := range j.Stages {
			stCopy := *st
			cp.Stages[stage] = &stCopy
		}
	}
	if j.Logs != nil {
		cp.Logs = append([]JobLogEntry(nil), j.Logs...)
	}
	return &cp
}

func (j *DocumentJob) AppendLog(status, message string) {
	j.Logs = append(j.Logs, JobLogEntry{
		Timestamp: time.Now().UTC(),
		Status:    status,
		Message:   message,
	})
}

// CompanyJobBatch is one accepted submission: a company and its ordered
// file list, processed sequentially by a single worker.
type CompanyJobBatch struct {
	CompanyID   string    `json:"company_id"`
	Files       []string  `json:"files"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// PageResult is the OCR output for a single page. Failed pages carry a
// sentinel text produced by FailedPageResult and zero words.
type PageResult struct {
	Page  int    `json:"page"`
	Text  string `json:"text"`
	Words int    `json:"words"`
}

// FailedPageResult records a page whose OCR retries were exhausted.
// The document still completes; the sentinel keeps page numbering intact.
func FailedPageResult(page int, reason string) PageResult {
	return PageResult{
		Page:  page,
		Text:  fmt.Sprintf("[OCR FAILED: %s]", reason),
		Words: 0,
	}
}

// Failed reports whether this page carries the OCR failure sentinel.
func (p PageResult) Failed() bool {
	return strings.HasPrefix(p.Text, "[OCR FAILED")
}

// ChunkMeta travels with every chunk into the vector index payload.
type ChunkMeta struct {
	Company    string  `json:"company"`
	Source     string  `json:"source"`
	Page       int     `json:"page"`
	DocID      string  `json:"doc_id"`
	Words      int     `json:"words"`
	UploadTime float64 `json:"upload_time"`
}

// Chunk is one page of extracted text prefixed with its metadata header.
type Chunk struct {
	Text string    `json:"text"`
	Page int       `json:"page"`
	Meta ChunkMeta `json:"meta"`
}

// MetaHeader renders the header prepended to every chunk so retrieval
// results stay self-describing.
func (m ChunkMeta) MetaHeader() string {
	return fmt.Sprintf("Company: %s\nDocument: %s\nPage: %d\n---\n", m.Company, m.Source, m.Page)
}

// NewChunk builds the chunk for one OCR page result.
func NewChunk(companyID, fileName, docID string, page PageResult, uploadTime time.Time) Chunk {
	meta := ChunkMeta{
		Company:    companyID,
		Source:     fileName,
		Page:       page.Page,
		DocID:      docID,
		Words:      page.Words,
		UploadTime: float64(uploadTime.UnixNano()) / float64(time.Second),
	}
	return Chunk{
		Text: meta.MetaHeader() + page.Text,
		Page: page.Page,
		Meta: meta,
	}
}

// EmbeddingPoint is one vector ready for ingestion. Its ID is stable
// across re-runs so upserts overwrite instead of duplicating.
type EmbeddingPoint struct {
	ID      string       `json:"id"`
	Vector  []float32    `json:"vector"`
	Payload PointPayload `json:"payload"`
}

type PointPayload struct {
	Content  string    `json:"content"`
	Metadata ChunkMeta `json:"metadata"`
}

// DocumentID derives the deterministic job identifier for a
// (company, file) pair. Resubmitting the same pair always yields the
// same id, which makes submissions idempotent.
func DocumentID(companyID, fileName string) string {
	sum := sha1.Sum([]byte(companyID + ":" + fileName))
	return hex.EncodeToString(sum[:])[:16]
}

// PointID derives the deterministic vector-point identifier for a page
// of a document (UUIDv5 over "docID:page").
func PointID(docID string, page int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s:%d", docID, page))).String()
}
