package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"testing"

	"github.com/avasilyev/contract-intel/internal/core/domain"
)

func testJob(companyID, fileName string) *domain.DocumentJob {
	return &domain.DocumentJob{
		DocID:     domain.DocumentID(companyID, fileName),
		CompanyID: companyID,
		FileName:  fileName,
		Status:    domain.StatusProcessing,
	}
}

func noopSaver(job *domain.DocumentJob) jobSaver {
	return func(mutate func(*domain.DocumentJob)) { mutate(job) }
}

func newOCRStageForTest(raster *rasterFake, ocr *ocrFake, cache *cacheFake, events *eventRecorder) *OCRStage {
	return NewOCRStage(raster, ocr, cache, newTestExecutor(), testClassifier, events, slog.Default())
}

func TestOCRStageCacheHitSkipsExtraction(t *testing.T) {
	cache := newCacheFake()
	cached := []domain.PageResult{{Page: 1, Text: "cached text", Words: 2}}
	_ = cache.Put("acme", "a.pdf", cached)

	ocr := &ocrFake{}
	events := &eventRecorder{}
	stage := newOCRStageForTest(&rasterFake{pages: 5}, ocr, cache, events)

	job := testJob("acme", "a.pdf")
	pages, err := stage.Run(context.Background(), job, "/kb/acme/a.pdf", noopSaver(job))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !reflect.DeepEqual(pages, cached) {
		t.Fatalf("expected cached pages, got %v", pages)
	}
	if ocr.calls != 0 {
		t.Fatalf("expected no extraction calls on cache hit, got %d", ocr.calls)
	}
	want := []string{domain.EventStarted, domain.EventCompleted}
	if got := events.types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected events: %v", got)
	}
}

func TestOCRStageEmitsPerPageEventsInOrder(t *testing.T) {
	cache := newCacheFake()
	events := &eventRecorder{}
	stage := newOCRStageForTest(&rasterFake{pages: 2}, &ocrFake{}, cache, events)

	job := testJob("acme", "a.pdf")
	pages, err := stage.Run(context.Background(), job, "/kb/acme/a.pdf", noopSaver(job))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}

	want := []string{
		domain.EventStarted,
		domain.EventProcessing, domain.EventPageCompleted,
		domain.EventProcessing, domain.EventPageCompleted,
		domain.EventCompleted,
	}
	if got := events.types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected event order: %v", got)
	}

	last := events.all()[len(events.all())-1]
	if last.SuccessPages != 2 || last.FailedPages != 0 || last.TotalPages != 2 {
		t.Fatalf("unexpected completion counters: %+v", last)
	}

	if cached, ok := cache.Get("acme", "a.pdf"); !ok || len(cached) != 2 {
		t.Fatalf("expected pages cached after run")
	}
}

func TestOCRStageRetriesTransientFailuresAndEmitsRetryEvents(t *testing.T) {
	ocr := &ocrFake{failures: map[int]int{1: 2}}
	events := &eventRecorder{}
	stage := newOCRStageForTest(&rasterFake{pages: 1}, ocr, newCacheFake(), events)

	job := testJob("acme", "a.pdf")
	pages, err := stage.Run(context.Background(), job, "/kb/acme/a.pdf", noopSaver(job))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if pages[0].Failed() {
		t.Fatalf("expected page to succeed after retries, got %q", pages[0].Text)
	}

	retries := 0
	for _, e := range events.all() {
		if e.Type == domain.EventRetry {
			retries++
		}
	}
	if retries != 2 {
		t.Fatalf("expected 2 retry events, got %d", retries)
	}
}

func TestOCRStageRecordsSentinelAfterExhaustedRetries(t *testing.T) {
	ocr := &ocrFake{alwaysErr: map[int]error{3: fmt.Errorf("page is unreadable")}}
	events := &eventRecorder{}
	stage := newOCRStageForTest(&rasterFake{pages: 5}, ocr, newCacheFake(), events)

	job := testJob("acme", "big.pdf")
	pages, err := stage.Run(context.Background(), job, "/kb/acme/big.pdf", noopSaver(job))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(pages) != 5 {
		t.Fatalf("expected all 5 pages present, got %d", len(pages))
	}
	if !pages[2].Failed() || pages[2].Words != 0 {
		t.Fatalf("expected failure sentinel on page 3, got %+v", pages[2])
	}
	if pages[3].Failed() || pages[4].Failed() {
		t.Fatalf("pages after the failed one must still be processed")
	}

	last := events.all()[len(events.all())-1]
	if last.Type != domain.EventCompleted || last.SuccessPages != 4 || last.FailedPages != 1 {
		t.Fatalf("unexpected completion event: %+v", last)
	}
}

func TestOCRStageZeroPagesCompletesEmpty(t *testing.T) {
	events := &eventRecorder{}
	stage := newOCRStageForTest(&rasterFake{pages: 0}, &ocrFake{}, newCacheFake(), events)

	job := testJob("acme", "empty.pdf")
	pages, err := stage.Run(context.Background(), job, "/kb/acme/empty.pdf", noopSaver(job))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(pages) != 0 {
		t.Fatalf("expected no pages, got %d", len(pages))
	}
	want := []string{domain.EventStarted, domain.EventCompleted}
	if got := events.types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected events: %v", got)
	}
}

func TestOCRStagePageCountFailureFailsStage(t *testing.T) {
	stage := newOCRStageForTest(&rasterFake{pageCountErr: fmt.Errorf("broken pdf")}, &ocrFake{}, newCacheFake(), &eventRecorder{})

	job := testJob("acme", "broken.pdf")
	_, err := stage.Run(context.Background(), job, "/kb/acme/broken.pdf", noopSaver(job))
	if !domain.IsKind(err, domain.ErrStageFailed) {
		t.Fatalf("expected stage failure, got %v", err)
	}
}

func TestOCRStageUpdatesProgressCounters(t *testing.T) {
	stage := newOCRStageForTest(&rasterFake{pages: 3}, &ocrFake{}, newCacheFake(), &eventRecorder{})

	job := testJob("acme", "a.pdf")
	if _, err := stage.Run(context.Background(), job, "/kb/acme/a.pdf", noopSaver(job)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	st := job.StageState(domain.StageOCR)
	if st.TotalPages != 3 || st.CompletedPages != 3 || st.CurrentPage != 3 {
		t.Fatalf("unexpected stage counters: %+v", st)
	}
}
