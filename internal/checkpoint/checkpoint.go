// Package checkpoint persists chapter analysis progress so an interrupted
// run resumes exactly where it stopped.
//
// One JSON file exists per (document, chapter). Writes go to a temp file
// followed by an atomic rename, so a crash mid-write never leaves a partial
// record. A checkpoint is only trusted when its schema version matches, its
// content hash matches the current chapter text, and its age is within the
// TTL; anything else is deleted on load rather than partially trusted.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"voxcast/internal/character"
)

// SchemaVersion identifies the on-disk checkpoint format. Files written by
// a different version are discarded on load.
const SchemaVersion = 1

// DefaultTTL is how long a checkpoint remains resumable.
const DefaultTTL = 24 * time.Hour

// Checkpoint is a durable snapshot of one chapter's pipeline progress.
type Checkpoint struct {
	SchemaVersion     int                          `json:"schema_version"`
	DocumentID        string                       `json:"document_id"`
	ChapterIndex      int                          `json:"chapter_index"`
	Timestamp         time.Time                    `json:"timestamp"`
	ContentHash       string                       `json:"content_hash"`
	LastCompletedPass int                          `json:"last_completed_pass"`
	LastCompletedUnit int                          `json:"last_completed_unit"`
	Entities          map[string]*character.Record `json:"entities"`
	Pass3Completed    map[string]bool              `json:"pass3_completed,omitempty"`
}

// HashContent returns the hex SHA-256 of chapter text, used to invalidate
// checkpoints when the source text changes.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Store reads and writes checkpoint files under a single directory.
type Store struct {
	dir    string
	ttl    time.Duration
	logger *slog.Logger

	// Serializes writes so concurrent saves never interleave.
	mu sync.Mutex
}

// NewStore creates a checkpoint store rooted at dir, creating it if needed.
// A non-positive ttl uses DefaultTTL.
func NewStore(dir string, ttl time.Duration, logger *slog.Logger) (*Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Store{dir: dir, ttl: ttl, logger: logger.With("component", "checkpoint")}, nil
}

// path returns the deterministic file name for a (document, chapter) pair.
func (s *Store) path(documentID string, chapterIndex int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_ch%03d.json", sanitize(documentID), chapterIndex))
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}

// Load returns the checkpoint for a chapter, or nil when none is usable.
// Unreadable, version-mismatched, stale, or hash-mismatched records are
// deleted and reported as absent.
func (s *Store) Load(documentID string, chapterIndex int, contentHash string) (*Checkpoint, error) {
	path := s.path(documentID, chapterIndex)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.logger.Warn("discarding corrupt checkpoint", "path", path, "error", err)
		s.remove(path)
		return nil, nil
	}
	if cp.SchemaVersion != SchemaVersion {
		s.logger.Warn("discarding checkpoint with unknown schema version",
			"path", path, "version", cp.SchemaVersion)
		s.remove(path)
		return nil, nil
	}
	if cp.ContentHash != contentHash {
		s.logger.Info("discarding checkpoint: chapter text changed",
			"document_id", documentID, "chapter", chapterIndex)
		s.remove(path)
		return nil, nil
	}
	if time.Since(cp.Timestamp) > s.ttl {
		s.logger.Info("discarding expired checkpoint",
			"document_id", documentID, "chapter", chapterIndex, "age", time.Since(cp.Timestamp))
		s.remove(path)
		return nil, nil
	}
	if cp.Entities == nil {
		cp.Entities = make(map[string]*character.Record)
	}

	return &cp, nil
}

// Save durably writes a checkpoint. The timestamp and schema version are
// stamped here so callers only fill in progress fields.
func (s *Store) Save(cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp.SchemaVersion = SchemaVersion
	cp.Timestamp = time.Now().UTC()

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	target := s.path(cp.DocumentID, cp.ChapterIndex)
	tmp, err := os.CreateTemp(s.dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// Delete removes the checkpoint for a chapter. Called on successful chapter
// completion or when the owning document is cancelled.
func (s *Store) Delete(documentID string, chapterIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(s.path(documentID, chapterIndex))
}

// DeleteDocument removes every checkpoint belonging to a document.
func (s *Store) DeleteDocument(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pattern := filepath.Join(s.dir, sanitize(documentID)+"_ch*.json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	for _, m := range matches {
		s.remove(m)
	}
}

func (s *Store) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove checkpoint", "path", path, "error", err)
	}
}
