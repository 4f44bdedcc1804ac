package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avasilyev/contract-intel/internal/core/domain"
	"github.com/avasilyev/contract-intel/internal/core/ports"
)

const defaultEmbedBatchSize = 64

// dimensionProbe is the throwaway text embedded once to learn the model's
// vector dimensionality before committing a collection to it.
const dimensionProbe = "hello world"

// EmbeddingStage turns OCR pages into vectors. Any batch failure fails
// the whole stage: a partially embedded document must never be ingested.
type EmbeddingStage struct {
	embedder  ports.Embedder
	events    ports.EventSink
	batchSize int
	logger    *slog.Logger
}

func NewEmbeddingStage(embedder ports.Embedder, events ports.EventSink, batchSize int, logger *slog.Logger) *EmbeddingStage {
	if batchSize <= 0 {
		batchSize = defaultEmbedBatchSize
	}
	return &EmbeddingStage{embedder: embedder, events: events, batchSize: batchSize, logger: logger}
}

func (s *EmbeddingStage) Run(ctx context.Context, job *domain.DocumentJob, pages []domain.PageResult, uploadTime time.Time, save jobSaver) ([]domain.EmbeddingPoint, int, error) {
	companyID, fileName, docID := job.CompanyID, job.FileName, job.DocID

	chunks := make([]domain.Chunk, 0, len(pages))
	for _, page := range pages {
		chunks = append(chunks, domain.NewChunk(companyID, fileName, docID, page, uploadTime))
	}
	if len(chunks) == 0 {
		return nil, 0, domain.WrapError(domain.ErrInvalidInput, "embed document", errors.New("no pages to embed"))
	}

	probe, err := s.embedder.EmbedQuery(ctx, dimensionProbe)
	if err != nil {
		s.events.Publish(domain.ProgressEvent{
			Type: domain.EventEmbeddingFailed, CompanyID: companyID, DocID: docID, File: fileName,
			Error: err.Error(),
		})
		return nil, 0, domain.WrapError(domain.ErrStageFailed, "probe embedding dimension", err)
	}
	dimension := len(probe)

	totalBatches := (len(chunks) + s.batchSize - 1) / s.batchSize
	s.events.Publish(domain.ProgressEvent{
		Type: domain.EventEmbeddingStarted, CompanyID: companyID, DocID: docID, File: fileName,
		Dimension: dimension, ChunkCount: len(chunks), TotalBatches: totalBatches,
	})
	save(func(j *domain.DocumentJob) {
		st := j.StageState(domain.StageEmbedding)
		st.TotalBatches = totalBatches
		st.StartedAt = time.Now().UTC()
	})

	points := make([]domain.EmbeddingPoint, 0, len(chunks))
	for batch := 1; batch <= totalBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		start := (batch - 1) * s.batchSize
		end := min(start+s.batchSize, len(chunks))
		part := chunks[start:end]

		s.events.Publish(domain.ProgressEvent{
			Type: domain.EventEmbeddingBatch, CompanyID: companyID, DocID: docID, File: fileName,
			Batch: batch, TotalBatches: totalBatches,
		})

		texts := make([]string, len(part))
		for i, chunk := range part {
			texts[i] = chunk.Text
		}
		vectors, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			s.events.Publish(domain.ProgressEvent{
				Type: domain.EventEmbeddingFailed, CompanyID: companyID, DocID: docID, File: fileName,
				Batch: batch, TotalBatches: totalBatches, Error: err.Error(),
			})
			return nil, 0, domain.WrapError(domain.ErrStageFailed, "embed batch", err)
		}

		for i, chunk := range part {
			points = append(points, domain.EmbeddingPoint{
				ID:     domain.PointID(docID, chunk.Page),
				Vector: vectors[i],
				Payload: domain.PointPayload{
					Content:  chunk.Text,
					Metadata: chunk.Meta,
				},
			})
		}

		s.events.Publish(domain.ProgressEvent{
			Type: domain.EventEmbeddingBatchCompleted, CompanyID: companyID, DocID: docID, File: fileName,
			Batch: batch, TotalBatches: totalBatches,
		})
		save(func(j *domain.DocumentJob) {
			st := j.StageState(domain.StageEmbedding)
			st.Batch = batch
		})
	}

	s.events.Publish(domain.ProgressEvent{
		Type: domain.EventEmbeddingCompleted, CompanyID: companyID, DocID: docID, File: fileName,
		Dimension: dimension, ChunkCount: len(points),
	})
	return points, dimension, nil
}
