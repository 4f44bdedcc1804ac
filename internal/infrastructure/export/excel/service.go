package excel

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/avasilyev/contract-intel/internal/core/ports"
)

// Service produces XLSX reports of extracted contract fields.
type Service struct {
	fields ports.FieldStore
	logger *slog.Logger
}

func NewService(fields ports.FieldStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{fields: fields, logger: logger}
}

// ExportFieldsXLSX returns an XLSX workbook (as bytes) with one row per
// extracted field for the company.
func (s *Service) ExportFieldsXLSX(ctx context.Context, companyID string) ([]byte, error) {
	start := time.Now()

	rows, err := s.fields.ListExtractedFields(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("query extracted fields: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Extracted Fields"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	if defaultIndex, _ := f.GetSheetIndex("Sheet1"); defaultIndex != -1 {
		_ = f.DeleteSheet("Sheet1")
	}

	headers := []string{"Document", "Field", "Value", "Page"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, r := range rows {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, r.FileName)
		write(2, r.FieldName)
		write(3, r.Value)
		write(4, r.Page)
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 36)
	_ = f.SetColWidth(sheet, "B", "B", 28)
	_ = f.SetColWidth(sheet, "C", "C", 48)
	_ = f.SetColWidth(sheet, "D", "D", 8)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}

	s.logger.Info("fields export built",
		"company_id", companyID,
		"rows", len(rows),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
