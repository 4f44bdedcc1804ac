package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/avasilyev/contract-intel/internal/core/domain"
	"github.com/avasilyev/contract-intel/internal/core/ports"
)

const defaultIngestBatchSize = 64

// IngestionStage upserts embedding points into the vector collection in
// idempotent batches.
type IngestionStage struct {
	store      ports.VectorStore
	collection string
	events     ports.EventSink
	batchSize  int
	logger     *slog.Logger
}

func NewIngestionStage(store ports.VectorStore, collection string, events ports.EventSink, batchSize int, logger *slog.Logger) *IngestionStage {
	if batchSize <= 0 {
		batchSize = defaultIngestBatchSize
	}
	return &IngestionStage{
		store:      store,
		collection: collection,
		events:     events,
		batchSize:  batchSize,
		logger:     logger,
	}
}

func (s *IngestionStage) Run(ctx context.Context, job *domain.DocumentJob, points []domain.EmbeddingPoint, dimension int, save jobSaver) error {
	companyID, fileName, docID := job.CompanyID, job.FileName, job.DocID

	s.events.Publish(domain.ProgressEvent{
		Type: domain.EventIngestionStarted, CompanyID: companyID, DocID: docID, File: fileName,
		TotalPoints: len(points),
	})
	save(func(j *domain.DocumentJob) {
		st := j.StageState(domain.StageIngestion)
		st.StartedAt = time.Now().UTC()
	})

	if err := s.ensureCollection(ctx, companyID, dimension); err != nil {
		s.events.Publish(domain.ProgressEvent{
			Type: domain.EventIngestionError, CompanyID: companyID, DocID: docID, File: fileName,
			Error: err.Error(),
		})
		return domain.WrapError(domain.ErrStageFailed, "ensure collection", err)
	}

	totalBatches := (len(points) + s.batchSize - 1) / s.batchSize
	uploaded := 0
	for batch := 1; batch <= totalBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := (batch - 1) * s.batchSize
		end := min(start+s.batchSize, len(points))
		part := points[start:end]

		s.events.Publish(domain.ProgressEvent{
			Type: domain.EventIngestionBatch, CompanyID: companyID, DocID: docID, File: fileName,
			Batch: batch, TotalBatches: totalBatches,
		})

		if err := s.store.UpsertPoints(ctx, s.collection, part); err != nil {
			s.events.Publish(domain.ProgressEvent{
				Type: domain.EventIngestionError, CompanyID: companyID, DocID: docID, File: fileName,
				Batch: batch, TotalBatches: totalBatches, Uploaded: uploaded, Error: err.Error(),
			})
			return domain.WrapError(domain.ErrStageFailed, "upsert points", err)
		}
		uploaded += len(part)

		s.events.Publish(domain.ProgressEvent{
			Type: domain.EventIngestionBatchCompleted, CompanyID: companyID, DocID: docID, File: fileName,
			Batch: batch, TotalBatches: totalBatches, Uploaded: uploaded,
		})
		save(func(j *domain.DocumentJob) {
			st := j.StageState(domain.StageIngestion)
			st.Batch = batch
			st.TotalBatches = totalBatches
		})
	}

	s.events.Publish(domain.ProgressEvent{
		Type: domain.EventIngestionCompleted, CompanyID: companyID, DocID: docID, File: fileName,
		Uploaded: uploaded, TotalPoints: len(points),
	})
	return nil
}

func (s *IngestionStage) ensureCollection(ctx context.Context, companyID string, dimension int) error {
	exists, err := s.store.CollectionExists(ctx, s.collection)
	if err != nil {
		return err
	}
	if exists {
		s.events.Publish(domain.ProgressEvent{
			Type: domain.EventCollectionExists, CompanyID: companyID, Message: s.collection,
		})
		return nil
	}
	// Concurrent workers may race on the first document; the client
	// treats an already-created collection as success.
	if err := s.store.CreateCollection(ctx, s.collection, dimension); err != nil {
		return err
	}
	s.events.Publish(domain.ProgressEvent{
		Type: domain.EventCollectionCreated, CompanyID: companyID, Message: s.collection, Dimension: dimension,
	})
	return nil
}
