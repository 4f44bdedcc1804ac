package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/avasilyev/contract-intel/internal/core/ports"
)

// FieldRepository persists structured-extraction results. One row per
// (document, field); the first extracted value wins.
type FieldRepository struct {
	db *sql.DB
}

func NewFieldRepository(db *sql.DB) *FieldRepository {
	return &FieldRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *FieldRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082301)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS extracted_data (
	document_id TEXT NOT NULL,
	company_id TEXT NOT NULL,
	file_name TEXT NOT NULL,
	field_name TEXT NOT NULL,
	field_value TEXT NOT NULL,
	page INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (document_id, field_name)
);

CREATE INDEX IF NOT EXISTS idx_extracted_data_company ON extracted_data(company_id);
CREATE INDEX IF NOT EXISTS idx_extracted_data_field ON extracted_data(field_name);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// UpsertExtractedField inserts one extracted value. Conflicts keep the
// existing row so re-runs never overwrite an earlier hit.
func (r *FieldRepository) UpsertExtractedField(ctx context.Context, field ports.ExtractedField) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO extracted_data (document_id, company_id, file_name, field_name, field_value, page)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (document_id, field_name) DO NOTHING
`,
		field.DocID, field.CompanyID, field.FileName, field.FieldName, field.Value, field.Page,
	)
	if err != nil {
		return fmt.Errorf("insert extracted field: %w", err)
	}
	return nil
}

// ListFieldNames returns the distinct registered field names, the set
// the enrichment stage extracts for every document.
func (r *FieldRepository) ListFieldNames(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT field_name FROM extracted_data ORDER BY field_name`)
	if err != nil {
		return nil, fmt.Errorf("query field names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan field name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate field names: %w", err)
	}
	return names, nil
}

func (r *FieldRepository) ListExtractedFields(ctx context.Context, companyID string) ([]ports.ExtractedField, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT document_id, company_id, file_name, field_name, field_value, page
FROM extracted_data
WHERE company_id = $1
ORDER BY file_name, field_name
`, companyID)
	if err != nil {
		return nil, fmt.Errorf("query extracted fields: %w", err)
	}
	defer rows.Close()

	var out []ports.ExtractedField
	for rows.Next() {
		var f ports.ExtractedField
		if err := rows.Scan(&f.DocID, &f.CompanyID, &f.FileName, &f.FieldName, &f.Value, &f.Page); err != nil {
			return nil, fmt.Errorf("scan extracted field: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate extracted fields: %w", err)
	}
	return out, nil
}
