package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/avasilyev/contract-intel/internal/core/domain"
	"github.com/avasilyev/contract-intel/internal/core/ports"
)

// Pipeline drives one company batch through the stages:
// OCR -> embedding -> ingestion -> enrichment. Files are processed
// sequentially; a failed file never stops the rest of the batch.
type Pipeline struct {
	ocr    *OCRStage
	embed  *EmbeddingStage
	ingest *IngestionStage
	enrich *EnrichmentStage

	progress ports.ProgressStore
	events   ports.EventSink

	knowledgeDir string
	gracePeriod  time.Duration
	logger       *slog.Logger
}

func NewPipeline(
	ocr *OCRStage,
	embed *EmbeddingStage,
	ingest *IngestionStage,
	enrich *EnrichmentStage,
	progress ports.ProgressStore,
	events ports.EventSink,
	knowledgeDir string,
	gracePeriod time.Duration,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		ocr:          ocr,
		embed:        embed,
		ingest:       ingest,
		enrich:       enrich,
		progress:     progress,
		events:       events,
		knowledgeDir: knowledgeDir,
		gracePeriod:  gracePeriod,
		logger:       logger,
	}
}

// ProcessBatch runs the whole batch. A panic anywhere in the stages
// marks every non-terminal job failed instead of killing the worker.
func (p *Pipeline) ProcessBatch(ctx context.Context, batch domain.CompanyJobBatch) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("batch processing panicked", "company_id", batch.CompanyID, "panic", r)
			p.failInFlight(batch.CompanyID, fmt.Sprintf("internal error: %v", r))
			p.events.Publish(domain.ProgressEvent{
				Type: domain.EventProcessError, CompanyID: batch.CompanyID,
				Error: fmt.Sprintf("%v", r),
			})
		}
	}()

	for i, fileName := range batch.Files {
		p.processFile(ctx, batch.CompanyID, fileName, i+1, len(batch.Files))
	}

	p.events.Publish(domain.ProgressEvent{
		Type: domain.EventAllCompleted, CompanyID: batch.CompanyID, TotalFiles: len(batch.Files),
	})
	p.scheduleCleanup(batch.CompanyID)
}

func (p *Pipeline) processFile(ctx context.Context, companyID, fileName string, fileIndex, totalFiles int) {
	docID := domain.DocumentID(companyID, fileName)
	job := &domain.DocumentJob{
		DocID:      docID,
		CompanyID:  companyID,
		FileName:   fileName,
		Status:     domain.StatusQueued,
		FileIndex:  fileIndex,
		TotalFiles: totalFiles,
	}
	save := p.saver(companyID, job)

	pdfPath, err := p.resolvePDFPath(companyID, fileName)
	if err != nil {
		p.failFile(companyID, job, save, err)
		return
	}

	save(func(j *domain.DocumentJob) {
		j.SetStatus(domain.StatusProcessing)
		j.CurrentStage = domain.StageOCR
		j.StartedAt = time.Now().UTC()
		j.AppendLog("processing", "started")
	})

	pages, err := p.ocr.Run(ctx, job, pdfPath, save)
	if err != nil {
		p.failFile(companyID, job, save, fmt.Errorf("ocr: %w", err))
		return
	}

	// A zero-page document has nothing to embed or ingest; it completes
	// immediately with an empty result set.
	if len(pages) == 0 {
		save(func(j *domain.DocumentJob) {
			j.SetStatus(domain.StatusCompleted)
			j.Progress = 100
			j.CompletedAt = time.Now().UTC()
			j.AppendLog("completed", "no pages to process")
		})
		p.events.Publish(domain.ProgressEvent{
			Type: domain.EventFileCompleted, CompanyID: companyID, DocID: docID, File: fileName,
			FileIndex: fileIndex, TotalFiles: totalFiles,
		})
		return
	}

	save(func(j *domain.DocumentJob) {
		j.CurrentStage = domain.StageEmbedding
		j.Progress = 40
	})
	points, dimension, err := p.embed.Run(ctx, job, pages, time.Now().UTC(), save)
	if err != nil {
		p.failFile(companyID, job, save, fmt.Errorf("embedding: %w", err))
		return
	}

	save(func(j *domain.DocumentJob) {
		j.CurrentStage = domain.StageIngestion
		j.Progress = 70
	})
	if err := p.ingest.Run(ctx, job, points, dimension, save); err != nil {
		p.failFile(companyID, job, save, fmt.Errorf("ingestion: %w", err))
		return
	}

	if p.enrich.Enabled() {
		save(func(j *domain.DocumentJob) {
			j.CurrentStage = domain.StageEnrichment
			j.Progress = 90
		})
		// Enrichment never fails the job.
		p.enrich.Run(ctx, job, pages)
	}

	save(func(j *domain.DocumentJob) {
		j.SetStatus(domain.StatusCompleted)
		j.Progress = 100
		j.CompletedAt = time.Now().UTC()
		j.AppendLog("completed", "all stages finished")
	})
	p.events.Publish(domain.ProgressEvent{
		Type: domain.EventFileCompleted, CompanyID: companyID, DocID: docID, File: fileName,
		FileIndex: fileIndex, TotalFiles: totalFiles,
	})
}

func (p *Pipeline) failFile(companyID string, job *domain.DocumentJob, save jobSaver, err error) {
	p.logger.Error("file processing failed",
		"company_id", companyID, "file", job.FileName, "error", err)
	save(func(j *domain.DocumentJob) {
		j.SetStatus(domain.StatusFailed)
		j.ErrorMessage = err.Error()
		j.CompletedAt = time.Now().UTC()
		j.AppendLog("failed", err.Error())
	})
	p.events.Publish(domain.ProgressEvent{
		Type: domain.EventFileError, CompanyID: companyID, DocID: job.DocID, File: job.FileName,
		Error: err.Error(),
	})
}

// saver snapshots the in-memory job into the progress store after each
// mutation. The store serializes writers per scope; no lock is held
// while a stage talks to the network.
func (p *Pipeline) saver(companyID string, job *domain.DocumentJob) jobSaver {
	return func(mutate func(j *domain.DocumentJob)) {
		mutate(job)
		err := p.progress.Update(companyID, func(states map[string]*domain.DocumentJob) {
			states[job.DocID] = job.Clone()
		})
		if err != nil {
			p.logger.Warn("progress snapshot failed",
				"company_id", companyID, "doc_id", job.DocID, "error", err)
		}
	}
}

// resolvePDFPath finds the submitted file under the company's knowledge
// directory, falling back to the URL-decoded name for files submitted
// with encoded paths.
func (p *Pipeline) resolvePDFPath(companyID, fileName string) (string, error) {
	base := filepath.Base(fileName)
	candidates := []string{filepath.Join(p.knowledgeDir, companyID, base)}
	if decoded, err := url.QueryUnescape(base); err == nil && decoded != base {
		candidates = append(candidates, filepath.Join(p.knowledgeDir, companyID, decoded))
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", domain.WrapError(domain.ErrInvalidInput, "resolve pdf path",
		fmt.Errorf("file %s not found for company %s", fileName, companyID))
}

func (p *Pipeline) failInFlight(companyID, reason string) {
	err := p.progress.Update(companyID, func(states map[string]*domain.DocumentJob) {
		for _, job := range states {
			if job.Status == domain.StatusCompleted || job.Status == domain.StatusFailed {
				continue
			}
			job.SetStatus(domain.StatusFailed)
			job.ErrorMessage = reason
			job.CompletedAt = time.Now().UTC()
		}
	})
	if err != nil {
		p.logger.Error("marking in-flight jobs failed", "company_id", companyID, "error", err)
	}
}

// scheduleCleanup drops terminal job entries from the scope once the
// grace period has passed, so late UI polls still see the final states.
func (p *Pipeline) scheduleCleanup(companyID string) {
	if p.gracePeriod <= 0 {
		return
	}
	time.AfterFunc(p.gracePeriod, func() {
		err := p.progress.Update(companyID, func(states map[string]*domain.DocumentJob) {
			for docID, job := range states {
				if job.Status == domain.StatusCompleted || job.Status == domain.StatusFailed {
					delete(states, docID)
				}
			}
		})
		if err != nil {
			p.logger.Warn("progress cleanup failed", "company_id", companyID, "error", err)
		}
	})
}
