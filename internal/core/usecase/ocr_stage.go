package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avasilyev/contract-intel/internal/core/domain"
	"github.com/avasilyev/contract-intel/internal/core/ports"
	"github.com/avasilyev/contract-intel/internal/infrastructure/resilience"
)

// jobSaver applies one mutation to the in-memory job and persists the
// snapshot through the progress store.
type jobSaver func(mutate func(job *domain.DocumentJob))

// OCRStage extracts text page by page. Pages that exhaust their retries
// are recorded with a failure sentinel so the document still completes
// with stable page numbering.
type OCRStage struct {
	raster   ports.PageRasterizer
	ocr      ports.OCRService
	cache    ports.OCRCache
	executor *resilience.Executor
	classify resilience.ErrorClassifier
	events   ports.EventSink
	logger   *slog.Logger
}

func NewOCRStage(
	raster ports.PageRasterizer,
	ocr ports.OCRService,
	cache ports.OCRCache,
	executor *resilience.Executor,
	classify resilience.ErrorClassifier,
	events ports.EventSink,
	logger *slog.Logger,
) *OCRStage {
	return &OCRStage{
		raster:   raster,
		ocr:      ocr,
		cache:    cache,
		executor: executor,
		classify: classify,
		events:   events,
		logger:   logger,
	}
}

func (s *OCRStage) Run(ctx context.Context, job *domain.DocumentJob, pdfPath string, save jobSaver) ([]domain.PageResult, error) {
	companyID, fileName, docID := job.CompanyID, job.FileName, job.DocID

	if pages, ok := s.cache.Get(companyID, fileName); ok {
		success, failed := countPages(pages)
		s.events.Publish(domain.ProgressEvent{
			Type: domain.EventStarted, CompanyID: companyID, DocID: docID, File: fileName,
			TotalPages: len(pages), Message: "loaded from cache",
		})
		s.events.Publish(domain.ProgressEvent{
			Type: domain.EventCompleted, CompanyID: companyID, DocID: docID, File: fileName,
			TotalPages: len(pages), SuccessPages: success, FailedPages: failed,
			Message: "loaded from cache",
		})
		save(func(j *domain.DocumentJob) {
			st := j.StageState(domain.StageOCR)
			st.TotalPages = len(pages)
			st.CompletedPages = len(pages)
			st.Message = "loaded from cache"
		})
		return pages, nil
	}

	total, err := s.raster.PageCount(ctx, pdfPath)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStageFailed, "count pages", err)
	}

	s.events.Publish(domain.ProgressEvent{
		Type: domain.EventStarted, CompanyID: companyID, DocID: docID, File: fileName,
		TotalPages: total,
	})
	save(func(j *domain.DocumentJob) {
		st := j.StageState(domain.StageOCR)
		st.TotalPages = total
		st.StartedAt = time.Now().UTC()
	})

	pages := make([]domain.PageResult, 0, total)
	failed := 0

	for page := 1; page <= total; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.events.Publish(domain.ProgressEvent{
			Type: domain.EventProcessing, CompanyID: companyID, DocID: docID, File: fileName,
			Page: page, TotalPages: total,
		})
		save(func(j *domain.DocumentJob) {
			st := j.StageState(domain.StageOCR)
			st.CurrentPage = page
		})

		result, pageErr := s.extractPage(ctx, companyID, docID, fileName, pdfPath, page)
		if pageErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Error("page extraction exhausted retries",
				"company_id", companyID, "file", fileName, "page", page, "error", pageErr)
			result = domain.FailedPageResult(page, pageErr.Error())
			failed++
			s.events.Publish(domain.ProgressEvent{
				Type: domain.EventPageFailed, CompanyID: companyID, DocID: docID, File: fileName,
				Page: page, TotalPages: total, Error: pageErr.Error(),
			})
		} else {
			s.events.Publish(domain.ProgressEvent{
				Type: domain.EventPageCompleted, CompanyID: companyID, DocID: docID, File: fileName,
				Page: page, TotalPages: total, Words: result.Words,
			})
		}

		pages = append(pages, result)
		completed := len(pages)
		save(func(j *domain.DocumentJob) {
			st := j.StageState(domain.StageOCR)
			st.CompletedPages = completed
		})
	}

	if err := s.cache.Put(companyID, fileName, pages); err != nil {
		s.logger.Warn("cache write failed", "company_id", companyID, "file", fileName, "error", err)
	}

	s.events.Publish(domain.ProgressEvent{
		Type: domain.EventCompleted, CompanyID: companyID, DocID: docID, File: fileName,
		TotalPages: total, SuccessPages: total - failed, FailedPages: failed,
	})
	return pages, nil
}

func (s *OCRStage) extractPage(ctx context.Context, companyID, docID, fileName, pdfPath string, page int) (domain.PageResult, error) {
	image, err := s.raster.RenderPage(ctx, pdfPath, page)
	if err != nil {
		return domain.PageResult{}, fmt.Errorf("render page: %w", err)
	}

	var text string
	err = s.executor.ExecuteObserved(ctx, "ocr_extract_page",
		func(ctx context.Context) error {
			extracted, err := s.ocr.ExtractPage(ctx, image, page)
			if err != nil {
				return err
			}
			text = extracted
			return nil
		},
		s.classify,
		func(attempt int, wait time.Duration, err error) {
			s.events.Publish(domain.ProgressEvent{
				Type: domain.EventRetry, CompanyID: companyID, DocID: docID, File: fileName,
				Page: page, Attempt: attempt, Error: err.Error(),
			})
		},
	)
	if err != nil {
		return domain.PageResult{}, err
	}

	return domain.PageResult{Page: page, Text: text, Words: domain.WordCount(text)}, nil
}

func countPages(pages []domain.PageResult) (success, failed int) {
	for _, p := range pages {
		if p.Failed() {
			failed++
		} else {
			success++
		}
	}
	return success, failed
}
