package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/avasilyev/contract-intel/internal/core/domain"
	"github.com/avasilyev/contract-intel/internal/core/ports"
)

// Scheduler admits company batches into a bounded worker pool. A company
// can have at most one active batch; submissions for a busy company are
// rejected, not queued.
type Scheduler struct {
	pipeline *Pipeline
	progress ports.ProgressStore
	pool     *ants.Pool
	logger   *slog.Logger

	runCtx context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[string]struct{}
}

func NewScheduler(pipeline *Pipeline, progress ports.ProgressStore, poolSize int, logger *slog.Logger) (*Scheduler, error) {
	if poolSize <= 0 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		pipeline: pipeline,
		progress: progress,
		pool:     pool,
		logger:   logger,
		runCtx:   ctx,
		cancel:   cancel,
		active:   make(map[string]struct{}),
	}, nil
}

func (s *Scheduler) Submit(ctx context.Context, companyID string, files []string) error {
	if companyID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "submit batch", errors.New("empty company id"))
	}
	if len(files) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "submit batch", errors.New("empty file list"))
	}

	if !s.tryAcquire(companyID) {
		return domain.WrapError(domain.ErrDuplicateJob, "submit batch",
			fmt.Errorf("company %s already has an active batch", companyID))
	}

	batch := domain.CompanyJobBatch{
		CompanyID:   companyID,
		Files:       append([]string(nil), files...),
		SubmittedAt: time.Now().UTC(),
	}
	if err := s.enqueueStates(batch); err != nil {
		s.release(companyID)
		return fmt.Errorf("record queued states: %w", err)
	}

	// Dispatch off the caller's goroutine: when the pool is saturated,
	// pool.Submit blocks until a slot frees, which is the desired
	// queued-overflow behavior but must not block the submitter.
	go func() {
		err := s.pool.Submit(func() {
			defer s.release(companyID)
			s.pipeline.ProcessBatch(s.runCtx, batch)
		})
		if err != nil {
			s.release(companyID)
			s.logger.Error("pool submission failed", "company_id", companyID, "error", err)
		}
	}()

	s.logger.Info("batch accepted", "company_id", companyID, "files", len(files))
	return nil
}

func (s *Scheduler) States(scope string) (map[string]*domain.DocumentJob, error) {
	return s.progress.Load(scope)
}

func (s *Scheduler) AllStates() (map[string]*domain.DocumentJob, error) {
	return s.progress.LoadAll()
}

// ActiveCompanies returns the companies with a batch running or queued.
func (s *Scheduler) ActiveCompanies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.active))
	for companyID := range s.active {
		out = append(out, companyID)
	}
	return out
}

// Close stops accepting work and cancels running batches.
func (s *Scheduler) Close() {
	s.cancel()
	s.pool.Release()
}

func (s *Scheduler) tryAcquire(companyID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[companyID]; ok {
		return false
	}
	s.active[companyID] = struct{}{}
	return true
}

func (s *Scheduler) release(companyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, companyID)
}

func (s *Scheduler) enqueueStates(batch domain.CompanyJobBatch) error {
	now := time.Now().UTC()
	return s.progress.Update(batch.CompanyID, func(states map[string]*domain.DocumentJob) {
		for i, fileName := range batch.Files {
			docID := domain.DocumentID(batch.CompanyID, fileName)
			states[docID] = &domain.DocumentJob{
				DocID:      docID,
				CompanyID:  batch.CompanyID,
				FileName:   fileName,
				Status:     domain.StatusQueued,
				FileIndex:  i + 1,
				TotalFiles: len(batch.Files),
				QueuedAt:   now,
			}
		}
	})
}
