// Package store persists documents, per-chapter character records, merged
// profiles, and job records in SQLite. It backs incremental persistence
// during analysis and the resume-on-restart scan after an unclean shutdown.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"voxcast/internal/character"
	"voxcast/internal/merge"
)

// DocumentStatus tracks a document through analysis.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentInProgress DocumentStatus = "in_progress"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
	DocumentCancelled  DocumentStatus = "cancelled"
)

// Store wraps the SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the database at path and applies the
// schema. The parent directory is created if needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.applySchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    id            TEXT PRIMARY KEY,
    title         TEXT NOT NULL,
    status        TEXT NOT NULL,
    chapter_count INTEGER NOT NULL DEFAULT 0,
    source_paths  TEXT NOT NULL DEFAULT '[]',
    error         TEXT,
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entities (
    document_id TEXT NOT NULL,
    chapter     INTEGER NOT NULL,
    key         TEXT NOT NULL,
    name        TEXT NOT NULL,
    payload     TEXT NOT NULL,
    updated_at  TEXT NOT NULL,
    PRIMARY KEY (document_id, chapter, key)
);

CREATE TABLE IF NOT EXISTS merged_entities (
    document_id TEXT NOT NULL,
    key         TEXT NOT NULL,
    payload     TEXT NOT NULL,
    updated_at  TEXT NOT NULL,
    PRIMARY KEY (document_id, key)
);

CREATE TABLE IF NOT EXISTS jobs (
    id            TEXT PRIMARY KEY,
    document_id   TEXT NOT NULL,
    job_type      TEXT NOT NULL,
    chapter_index INTEGER NOT NULL DEFAULT -1,
    priority      INTEGER NOT NULL DEFAULT 0,
    status        TEXT NOT NULL,
    error         TEXT,
    created_at    TEXT NOT NULL,
    started_at    TEXT,
    completed_at  TEXT
);

CREATE INDEX IF NOT EXISTS idx_entities_document ON entities(document_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`

func (s *Store) applySchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Document is the persisted view of an analyzed text. SourcePaths points at
// the chapter files so an interrupted document can be reloaded on restart.
type Document struct {
	ID           string
	Title        string
	Status       DocumentStatus
	ChapterCount int
	SourcePaths  []string
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UpsertDocument inserts or refreshes a document row.
func (s *Store) UpsertDocument(ctx context.Context, doc *Document) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	paths, err := json.Marshal(doc.SourcePaths)
	if err != nil {
		return fmt.Errorf("encode source paths: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, status, chapter_count, source_paths, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			chapter_count = excluded.chapter_count,
			source_paths = excluded.source_paths,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		doc.ID, doc.Title, string(doc.Status), doc.ChapterCount, string(paths), doc.Error, now, now)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// SetDocumentStatus transitions a document and records an optional error.
func (s *Store) SetDocumentStatus(ctx context.Context, id string, status DocumentStatus, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, now, id)
	if err != nil {
		return fmt.Errorf("set document status: %w", err)
	}
	return nil
}

// GetDocument returns a document by id, or nil when absent.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, status, chapter_count, source_paths, COALESCE(error, ''), created_at, updated_at
		FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return doc, err
}

// ListDocumentsByStatus returns documents in any of the given states,
// oldest first. This is the resume-on-restart scan.
func (s *Store) ListDocumentsByStatus(ctx context.Context, statuses ...DocumentStatus) ([]*Document, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query := `SELECT id, title, status, chapter_count, source_paths, COALESCE(error, ''), created_at, updated_at
		FROM documents WHERE status IN (?` + repeat(",?", len(statuses)-1) + `) ORDER BY created_at ASC`
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var status, paths, created, updated string
	if err := row.Scan(&doc.ID, &doc.Title, &status, &doc.ChapterCount, &paths, &doc.Error, &created, &updated); err != nil {
		return nil, err
	}
	if paths != "" {
		if err := json.Unmarshal([]byte(paths), &doc.SourcePaths); err != nil {
			return nil, fmt.Errorf("decode source paths: %w", err)
		}
	}
	doc.Status = DocumentStatus(status)
	doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &doc, nil
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}

// UpsertEntity persists one per-chapter character record. Called
// incrementally during Passes 1 and 2 and again after Pass 3.
func (s *Store) UpsertEntity(ctx context.Context, documentID string, rec *character.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal entity: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (document_id, chapter, key, name, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, chapter, key) DO UPDATE SET
			name = excluded.name,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		documentID, rec.Chapter, character.Key(rec.CanonicalName), rec.CanonicalName, string(payload), now)
	if err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}
	return nil
}

// FetchEntities returns every per-chapter record for a document, ordered by
// chapter then key.
func (s *Store) FetchEntities(ctx context.Context, documentID string) ([]*character.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM entities WHERE document_id = ? ORDER BY chapter ASC, key ASC`,
		documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch entities: %w", err)
	}
	defer rows.Close()

	var records []*character.Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec character.Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("decode entity payload: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// ReplaceMergedProfiles replaces a document's merged profiles atomically.
func (s *Store) ReplaceMergedProfiles(ctx context.Context, documentID string, profiles []*merge.Profile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM merged_entities WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("clear merged profiles: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, p := range profiles {
		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal merged profile: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO merged_entities (document_id, key, payload, updated_at)
			VALUES (?, ?, ?, ?)`,
			documentID, character.Key(p.Name), string(payload), now); err != nil {
			return fmt.Errorf("insert merged profile: %w", err)
		}
	}
	return tx.Commit()
}

// FetchMergedProfiles returns a document's merged profiles ordered by key.
func (s *Store) FetchMergedProfiles(ctx context.Context, documentID string) ([]*merge.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM merged_entities WHERE document_id = ? ORDER BY key ASC`,
		documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch merged profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*merge.Profile
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var p merge.Profile
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("decode merged payload: %w", err)
		}
		profiles = append(profiles, &p)
	}
	return profiles, rows.Err()
}

// DeleteDocumentData removes a document's entities and merged profiles,
// used when a document is cancelled and its results discarded.
func (s *Store) DeleteDocumentData(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("delete entities: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM merged_entities WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("delete merged profiles: %w", err)
	}
	return nil
}
