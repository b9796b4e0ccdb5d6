// Package sqlite implements registry.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/dgallion1/filingest/internal/filing"
	"github.com/dgallion1/filingest/internal/registry"
	"github.com/dgallion1/filingest/internal/store/sqlite/migrations"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a registry.Store backed by SQLite in WAL mode. Write
// transactions begin IMMEDIATE so a claim's read and write cannot
// interleave with another writer.
type Store struct {
	db   *sql.DB
	path string
}

var _ registry.Store = (*Store)(nil)

// Open opens or creates the database file at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %s: %w", name, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, time.Now().UTC().Format(timeLayout)); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
	}
	return nil
}

// Update runs fn inside one IMMEDIATE transaction.
func (s *Store) Update(ctx context.Context, fn func(registry.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const documentColumns = `id, company_id, ticker, filing_type, filing_date, source_locator,
	storage_locator, parsed_locator, format, content_fingerprint, word_count, chunk_count,
	status, error_kind, error_message, created_at, updated_at, processed_at`

func (s *Store) Document(ctx context.Context, id string) (*filing.Document, error) {
	return getDocument(ctx, s.db, id)
}

func getDocument(ctx context.Context, q queryer, id string) (*filing.Document, error) {
	row := q.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, filing.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) Documents(ctx context.Context, f filing.Filter) ([]filing.Document, error) {
	var (
		where []string
		args  []any
	)
	if f.CompanyID != "" {
		where = append(where, "company_id = ?")
		args = append(args, f.CompanyID)
	}
	if f.Ticker != "" {
		where = append(where, "ticker = ? COLLATE NOCASE")
		args = append(args, f.Ticker)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		where = append(where, "filing_type = ?")
		args = append(args, string(f.Type))
	}
	if !f.From.IsZero() {
		where = append(where, "filing_date >= ?")
		args = append(args, f.From.Format(filing.DateLayout))
	}
	if !f.To.IsZero() {
		where = append(where, "filing_date <= ?")
		args = append(args, f.To.Format(filing.DateLayout))
	}

	query := "SELECT " + documentColumns + " FROM documents"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY filing_date DESC, created_at ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return queryDocuments(ctx, s.db, query, args...)
}

func queryDocuments(ctx context.Context, q queryer, query string, args ...any) ([]filing.Document, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []filing.Document //nolint:prealloc // size unknown from query
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

func (s *Store) Chunks(ctx context.Context, documentID string) ([]filing.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, content, section, start_char, end_char, word_count, created_at
		FROM chunks WHERE document_id = ?
		ORDER BY chunk_index
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []filing.Chunk //nolint:prealloc // size unknown from query
	for rows.Next() {
		var (
			c       filing.Chunk
			created string
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Text, &c.Section,
			&c.StartChar, &c.EndChar, &c.WordCount, &created); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if c.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("parsing chunk created_at: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[filing.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM documents GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}
	defer rows.Close()

	out := make(map[filing.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		out[filing.Status(status)] = n
	}
	return out, rows.Err()
}

// sqlTx implements registry.Tx.
type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Document(ctx context.Context, id string) (*filing.Document, error) {
	return getDocument(ctx, t.tx, id)
}

func (t *sqlTx) FindByKey(ctx context.Context, key filing.Key, fingerprint, excludeID string) ([]filing.Document, error) {
	return queryDocuments(ctx, t.tx, "SELECT "+documentColumns+` FROM documents
		WHERE company_id = ? AND filing_type = ? AND filing_date = ? AND content_fingerprint = ? AND id <> ?
		ORDER BY created_at`,
		key.CompanyID, string(key.Type), key.Date.Format(filing.DateLayout), fingerprint, excludeID)
}

func (t *sqlTx) PutDocument(ctx context.Context, d *filing.Document) error {
	var processed any
	if d.ProcessedAt != nil {
		processed = d.ProcessedAt.UTC().Format(timeLayout)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			company_id = excluded.company_id,
			ticker = excluded.ticker,
			filing_type = excluded.filing_type,
			filing_date = excluded.filing_date,
			source_locator = excluded.source_locator,
			storage_locator = excluded.storage_locator,
			parsed_locator = excluded.parsed_locator,
			format = excluded.format,
			content_fingerprint = excluded.content_fingerprint,
			word_count = excluded.word_count,
			chunk_count = excluded.chunk_count,
			status = excluded.status,
			error_kind = excluded.error_kind,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at,
			processed_at = excluded.processed_at
	`, d.ID, d.CompanyID, d.Ticker, string(d.Type), d.Date.Format(filing.DateLayout),
		d.SourceLocator, d.StorageLocator, d.ParsedLocator, d.Format, d.Fingerprint,
		d.WordCount, d.ChunkCount, string(d.Status), string(d.ErrorKind), d.ErrorMessage,
		d.CreatedAt.UTC().Format(timeLayout), d.UpdatedAt.UTC().Format(timeLayout), processed)
	if isUniqueViolation(err) {
		return filing.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

func (t *sqlTx) DeleteDocument(ctx context.Context, id string) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

func (t *sqlTx) ReplaceChunks(ctx context.Context, documentID string, chunks []filing.Chunk) error {
	if err := t.DeleteChunks(ctx, documentID); err != nil {
		return err
	}
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, chunk_index, content, section, start_char, end_char, word_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, documentID, c.Index, c.Text, c.Section,
			c.StartChar, c.EndChar, c.WordCount, c.CreatedAt.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("inserting chunk %d: %w", c.Index, err)
		}
	}
	return nil
}

func (t *sqlTx) DeleteChunks(ctx context.Context, documentID string) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*filing.Document, error) {
	var (
		d                       filing.Document
		typ, date, status, kind string
		created, updated        string
		processed               sql.NullString
	)
	err := row.Scan(&d.ID, &d.CompanyID, &d.Ticker, &typ, &date, &d.SourceLocator,
		&d.StorageLocator, &d.ParsedLocator, &d.Format, &d.Fingerprint, &d.WordCount, &d.ChunkCount,
		&status, &kind, &d.ErrorMessage, &created, &updated, &processed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	d.Type = filing.Type(typ)
	d.Status = filing.Status(status)
	d.ErrorKind = filing.ErrorKind(kind)
	if d.Date, err = time.Parse(filing.DateLayout, date); err != nil {
		return nil, fmt.Errorf("parsing filing_date: %w", err)
	}
	if d.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if processed.Valid {
		t, err := time.Parse(timeLayout, processed.String)
		if err != nil {
			return nil, fmt.Errorf("parsing processed_at: %w", err)
		}
		d.ProcessedAt = &t
	}
	return &d, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
