package fscache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/avasilyev/contract-intel/internal/core/domain"
)

// Cache is the disk-backed OCR result store: one JSON artifact per
// (company, document). While the artifact exists the extraction service
// is never called again for that document. Entries have no TTL; only an
// explicit purge removes them.
type Cache struct {
	root   string
	logger *slog.Logger
}

func New(root string, logger *slog.Logger) (*Cache, error) {
	if root == "" {
		root = "./data/ocr_cache"
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	return &Cache{root: root, logger: logger}, nil
}

// Get loads the cached page results. A missing or unreadable artifact is
// reported as absent so the document is simply re-processed.
func (c *Cache) Get(companyID, fileName string) ([]domain.PageResult, bool) {
	raw, err := os.ReadFile(c.artifactPath(companyID, fileName))
	if err != nil {
		return nil, false
	}

	var pages []domain.PageResult
	if err := json.Unmarshal(raw, &pages); err != nil {
		c.logger.Warn("discarding corrupt ocr cache artifact",
			"company_id", companyID, "file", fileName, "error", err)
		return nil, false
	}
	return pages, true
}

// Put persists the page results for a document.
func (c *Cache) Put(companyID, fileName string, pages []domain.PageResult) error {
	path := c.artifactPath(companyID, fileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create company cache dir: %w", err)
	}

	raw, err := json.MarshalIndent(pages, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache artifact: %w", err)
	}

	// Write-then-rename so a crash mid-write never leaves a partial
	// artifact that Get would discard as corrupt.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ocr-*")
	if err != nil {
		return fmt.Errorf("create temp cache artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp cache artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp cache artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace cache artifact: %w", err)
	}
	return nil
}

// PurgeCompany removes every cached document for a company.
func (c *Cache) PurgeCompany(companyID string) error {
	dir := filepath.Join(c.root, SanitizeCompanyID(companyID))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("purge company cache: %w", err)
	}
	return nil
}

func (c *Cache) artifactPath(companyID, fileName string) string {
	return filepath.Join(c.root, SanitizeCompanyID(companyID), filepath.Base(fileName)+".json")
}

// SanitizeCompanyID maps a company identifier onto a safe path segment.
func SanitizeCompanyID(companyID string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\\', '/', '*', '?', ':', '"', '<', '>', '|':
			return '_'
		default:
			return r
		}
	}, companyID)
}
