package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for documents and sections.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "procdex.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	// Section rows are deleted together with their parent document.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for the retrieval layer, which runs
// its own scan queries over section embeddings.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Documents ---

func (s *Store) SaveDocument(d Document) error {
	status := d.Status
	if status == "" {
		status = StatusDraft
	}
	if !ValidStatus(status) {
		return fmt.Errorf("invalid document status %q", status)
	}
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO documents (id, title, department, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.Title, d.Department, status, createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetDocument(id string) (Document, error) {
	row := s.db.QueryRow(`
		SELECT id, title, department, status, created_at
		FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	return d, err
}

// ListDocuments returns documents newest first, optionally filtered by status.
func (s *Store) ListDocuments(status string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, title, department, status, created_at FROM documents`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *Store) UpdateDocumentStatus(id, status string) error {
	if !ValidStatus(status) {
		return fmt.Errorf("invalid document status %q", status)
	}
	res, err := s.db.Exec(`UPDATE documents SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("updating document status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDocument removes a document; its sections cascade.
func (s *Store) DeleteDocument(id string) error {
	res, err := s.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CountDocuments(status string) (int, error) {
	query := `SELECT COUNT(*) FROM documents`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	var count int
	err := s.db.QueryRow(query, args...).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (Document, error) {
	var d Document
	var createdAt string
	if err := r.Scan(&d.ID, &d.Title, &d.Department, &d.Status, &createdAt); err != nil {
		return Document{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Document{}, fmt.Errorf("parsing created_at for document %s: %w", d.ID, err)
	}
	d.CreatedAt = t
	return d, nil
}

// --- Sections ---

// SaveSections inserts sections in one transaction.
func (s *Store) SaveSections(sections []Section) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO sections (id, document_id, title, content, embedding, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, sec := range sections {
		createdAt := sec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.Exec(sec.ID, sec.DocumentID, sec.Title, sec.Content, sec.Embedding, sec.Position, createdAt.UTC().Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting section %s: %w", sec.ID, err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetSection(id string) (Section, error) {
	row := s.db.QueryRow(`
		SELECT id, document_id, title, content, embedding, position, created_at
		FROM sections WHERE id = ?`, id)
	sec, err := scanSection(row)
	if err == sql.ErrNoRows {
		return Section{}, ErrNotFound
	}
	return sec, err
}

func (s *Store) ListSectionsByDocument(documentID string) ([]Section, error) {
	rows, err := s.db.Query(`
		SELECT id, document_id, title, content, embedding, position, created_at
		FROM sections WHERE document_id = ? ORDER BY position ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing sections for document %s: %w", documentID, err)
	}
	defer rows.Close()
	return collectSections(rows)
}

// ListSectionsMissingEmbedding returns sections whose embedding has not been
// generated yet, oldest first. Used by the idempotent batch population job.
func (s *Store) ListSectionsMissingEmbedding() ([]Section, error) {
	rows, err := s.db.Query(`
		SELECT id, document_id, title, content, embedding, position, created_at
		FROM sections WHERE embedding IS NULL ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing sections missing embedding: %w", err)
	}
	defer rows.Close()
	return collectSections(rows)
}

// ListAllSections returns every section, oldest first. Used when the batch
// job is asked to regenerate all embeddings.
func (s *Store) ListAllSections() ([]Section, error) {
	rows, err := s.db.Query(`
		SELECT id, document_id, title, content, embedding, position, created_at
		FROM sections ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing sections: %w", err)
	}
	defer rows.Close()
	return collectSections(rows)
}

// UpdateSectionEmbedding overwrites a section's embedding blob. This is the
// only write the retrieval core performs on authored content.
func (s *Store) UpdateSectionEmbedding(id string, embedding []byte) error {
	res, err := s.db.Exec(`UPDATE sections SET embedding = ? WHERE id = ?`, embedding, id)
	if err != nil {
		return fmt.Errorf("updating embedding for section %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CountSections() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sections`).Scan(&count)
	return count, err
}

func (s *Store) CountSectionsMissingEmbedding() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sections WHERE embedding IS NULL`).Scan(&count)
	return count, err
}

func collectSections(rows *sql.Rows) ([]Section, error) {
	var sections []Section
	for rows.Next() {
		sec, err := scanSection(rows)
		if err != nil {
			return nil, err
		}
		sections = append(sections, sec)
	}
	return sections, rows.Err()
}

func scanSection(r rowScanner) (Section, error) {
	var sec Section
	var createdAt string
	if err := r.Scan(&sec.ID, &sec.DocumentID, &sec.Title, &sec.Content, &sec.Embedding, &sec.Position, &createdAt); err != nil {
		return Section{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Section{}, fmt.Errorf("parsing created_at for section %s: %w", sec.ID, err)
	}
	sec.CreatedAt = t
	return sec, nil
}
