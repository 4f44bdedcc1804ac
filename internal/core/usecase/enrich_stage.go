package usecase

import (
	"context"
	"log/slog"

	"github.com/avasilyev/contract-intel/internal/core/domain"
	"github.com/avasilyev/contract-intel/internal/core/ports"
)

// EnrichmentStage extracts registered structured fields from OCR text.
// It is best-effort end to end: extraction failures are logged and the
// job still completes.
type EnrichmentStage struct {
	fields     ports.FieldStore
	extractor  ports.FieldExtractor
	seedFields []string
	events     ports.EventSink
	logger     *slog.Logger
}

func NewEnrichmentStage(
	fields ports.FieldStore,
	extractor ports.FieldExtractor,
	seedFields []string,
	events ports.EventSink,
	logger *slog.Logger,
) *EnrichmentStage {
	return &EnrichmentStage{
		fields:     fields,
		extractor:  extractor,
		seedFields: seedFields,
		events:     events,
		logger:     logger,
	}
}

// Enabled reports whether the stage has the collaborators it needs.
// Postgres is optional, so a worker without it skips enrichment.
func (s *EnrichmentStage) Enabled() bool {
	return s != nil && s.fields != nil && s.extractor != nil
}

func (s *EnrichmentStage) Run(ctx context.Context, job *domain.DocumentJob, pages []domain.PageResult) {
	if !s.Enabled() {
		return
	}
	companyID, fileName, docID := job.CompanyID, job.FileName, job.DocID

	fieldNames := s.fieldRegistry(ctx)
	if len(fieldNames) == 0 {
		return
	}

	s.events.Publish(domain.ProgressEvent{
		Type: domain.EventEnrichmentStarted, CompanyID: companyID, DocID: docID, File: fileName,
	})

	for _, fieldName := range fieldNames {
		if ctx.Err() != nil {
			return
		}
		s.extractOne(ctx, companyID, docID, fileName, fieldName, pages)
	}

	s.events.Publish(domain.ProgressEvent{
		Type: domain.EventEnrichmentCompleted, CompanyID: companyID, DocID: docID, File: fileName,
	})
}

// extractOne walks the pages until the field turns up, then stores the
// first hit. A miss on every page stores nothing.
func (s *EnrichmentStage) extractOne(ctx context.Context, companyID, docID, fileName, fieldName string, pages []domain.PageResult) {
	for _, page := range pages {
		if ctx.Err() != nil {
			return
		}
		if page.Failed() || page.Words == 0 {
			continue
		}

		value, err := s.extractor.ExtractField(ctx, page.Text, fieldName)
		if err != nil {
			s.logger.Warn("field extraction call failed",
				"company_id", companyID, "file", fileName, "field", fieldName, "page", page.Page, "error", err)
			continue
		}
		if value == "" {
			continue
		}

		err = s.fields.UpsertExtractedField(ctx, ports.ExtractedField{
			DocID:     docID,
			CompanyID: companyID,
			FileName:  fileName,
			FieldName: fieldName,
			Value:     value,
			Page:      page.Page,
		})
		if err != nil {
			s.logger.Warn("field persistence failed",
				"company_id", companyID, "file", fileName, "field", fieldName, "error", err)
			return
		}

		s.events.Publish(domain.ProgressEvent{
			Type: domain.EventFieldExtracted, CompanyID: companyID, DocID: docID, File: fileName,
			Field: fieldName, Page: page.Page,
		})
		return
	}
}

// fieldRegistry unions the configured seed fields with every field name
// already present in the store, seeds first.
func (s *EnrichmentStage) fieldRegistry(ctx context.Context) []string {
	names := make([]string, 0, len(s.seedFields))
	seen := make(map[string]struct{}, len(s.seedFields))
	for _, name := range s.seedFields {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	stored, err := s.fields.ListFieldNames(ctx)
	if err != nil {
		s.logger.Warn("listing stored field names failed", "error", err)
		return names
	}
	for _, name := range stored {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}
