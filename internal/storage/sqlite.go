package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Epistemic-Technology/batiment-compare/models"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Each connection to ":memory:" would see its own empty database.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database tables if they don't exist
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		reference_id TEXT,
		final_id TEXT,
		summary TEXT,
		report TEXT,
		annotated_pdf BLOB,
		pdf_size INTEGER NOT NULL DEFAULT 0,
		reference_pdf BLOB,
		reference_pdf_size INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_documents ON runs(reference_id, final_id);
	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	// Databases created before reference PDFs were stored.
	return s.addColumns("runs", map[string]string{
		"reference_pdf":      "BLOB",
		"reference_pdf_size": "INTEGER NOT NULL DEFAULT 0",
	})
}

// addColumns adds the columns table is missing.
func (s *SQLiteStore) addColumns(table string, columns map[string]string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var cid, notNull, pk int
		var name, colType string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan %s columns: %w", table, err)
		}
		existing[name] = true
	}
	if err := rows.Close(); err != nil {
		return err
	}

	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if existing[name] {
			continue
		}
		if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, name, columns[name])); err != nil {
			return fmt.Errorf("failed to add column %s: %w", name, err)
		}
	}
	return nil
}

// SaveRun stores a run with its annotated PDF lz4-compressed
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	if run.Info.RunID == "" {
		return errors.New("run id is required")
	}
	createdAt := run.Info.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	blob, err := compressPDF(run.AnnotatedPDF)
	if err != nil {
		return fmt.Errorf("failed to compress annotated PDF: %w", err)
	}
	refBlob, err := compressPDF(run.ReferencePDF)
	if err != nil {
		return fmt.Errorf("failed to compress annotated reference PDF: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, mode, reference_id, final_id, summary, report, annotated_pdf, pdf_size, reference_pdf, reference_pdf_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.Info.RunID, string(run.Info.Mode), run.Info.ReferenceID, run.Info.FinalID,
		run.Info.Summary, string(run.Report), blob, len(run.AnnotatedPDF), refBlob, len(run.ReferencePDF), createdAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	return nil
}

// GetRun retrieves a run's summary and report
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	var run Run
	var mode, report string
	var pdfSize, refSize int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, mode, reference_id, final_id, summary, report, pdf_size, reference_pdf_size, created_at
		FROM runs
		WHERE id = ?
	`, runID).Scan(&run.Info.RunID, &mode, &run.Info.ReferenceID, &run.Info.FinalID,
		&run.Info.Summary, &report, &pdfSize, &refSize, &run.Info.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	run.Info.Mode = models.Mode(mode)
	run.Info.HasPDF = pdfSize > 0
	run.Info.HasReferencePDF = refSize > 0
	run.Report = []byte(report)
	return &run, nil
}

// GetRunPDF retrieves and decompresses the annotated final PDF of a run
func (s *SQLiteStore) GetRunPDF(ctx context.Context, runID string) ([]byte, error) {
	return s.getPDF(ctx, runID, "annotated_pdf", "pdf_size", "annotated PDF")
}

// GetRunReferencePDF retrieves and decompresses the annotated reference PDF
// of a run
func (s *SQLiteStore) GetRunReferencePDF(ctx context.Context, runID string) ([]byte, error) {
	return s.getPDF(ctx, runID, "reference_pdf", "reference_pdf_size", "annotated reference PDF")
}

func (s *SQLiteStore) getPDF(ctx context.Context, runID, column, sizeColumn, what string) ([]byte, error) {
	var blob []byte
	var pdfSize int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s, %s FROM runs WHERE id = ?`, column, sizeColumn),
		runID).Scan(&blob, &pdfSize)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", what, err)
	}
	if pdfSize == 0 {
		return nil, fmt.Errorf("run %s has no %s", runID, what)
	}

	data, err := decompress(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s for run %s: %w", what, runID, err)
	}
	if len(data) != pdfSize {
		return nil, fmt.Errorf("%s for run %s is corrupt: got %d bytes, want %d", what, runID, len(data), pdfSize)
	}
	return data, nil
}

// ListRuns returns all stored runs, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]models.RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, reference_id, final_id, summary, pdf_size, reference_pdf_size, created_at
		FROM runs
		ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunInfo
	for rows.Next() {
		var info models.RunInfo
		var mode string
		var pdfSize, refSize int
		if err := rows.Scan(&info.RunID, &mode, &info.ReferenceID, &info.FinalID,
			&info.Summary, &pdfSize, &refSize, &info.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		info.Mode = models.Mode(mode)
		info.HasPDF = pdfSize > 0
		info.HasReferencePDF = refSize > 0
		runs = append(runs, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun removes a run
func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
