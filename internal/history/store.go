// Package history persists finished transcriptions in SQLite with a
// full-text index over the transcript text.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/loqalabs/loqa-scribe/internal/config"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an entry ID does not exist.
var ErrNotFound = errors.New("history entry not found")

// Entry is one persisted transcription.
type Entry struct {
	ID         int64
	Text       string
	Language   string
	DurationMS int64
	Service    string
	CreatedAt  time.Time
}

// Store wraps the SQLite-backed transcription history.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the history database, creating it when missing.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log.With(slog.String("component", "history")), clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    text TEXT NOT NULL,
    language TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    service TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_created ON entries(created_at DESC);
CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(text, content='entries', content_rowid='id');
CREATE TRIGGER IF NOT EXISTS entries_ai AFTER INSERT ON entries BEGIN
    INSERT INTO entries_fts(rowid, text) VALUES (new.id, new.text);
END;
CREATE TRIGGER IF NOT EXISTS entries_ad AFTER DELETE ON entries BEGIN
    INSERT INTO entries_fts(entries_fts, rowid, text) VALUES ('delete', old.id, old.text);
END;
CREATE TRIGGER IF NOT EXISTS entries_au AFTER UPDATE ON entries BEGIN
    INSERT INTO entries_fts(entries_fts, rowid, text) VALUES ('delete', old.id, old.text);
    INSERT INTO entries_fts(rowid, text) VALUES (new.id, new.text);
END;
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init history schema: %w", err)
	}
	return nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert stores one transcription and returns the entry with its assigned ID
// and timestamp.
func (s *Store) Insert(ctx context.Context, e Entry) (Entry, error) {
	e.CreatedAt = s.clock().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO entries(text, language, duration_ms, service, created_at) VALUES(?, ?, ?, ?, ?)`,
		e.Text, e.Language, e.DurationMS, e.Service, e.CreatedAt.UnixMilli())
	if err != nil {
		return Entry{}, fmt.Errorf("insert history entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Entry{}, fmt.Errorf("history entry id: %w", err)
	}
	e.ID = id
	return e, nil
}

// Recent returns the newest entries, newest first. A non-positive limit uses
// the configured default.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, language, duration_ms, service, created_at
		 FROM entries ORDER BY created_at DESC, id DESC LIMIT ?`, s.effLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Search matches entries against a full-text query, newest first. Queries
// are matched per word with prefix expansion; a query with no searchable
// tokens behaves like Recent.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	match := ftsQuery(query)
	if match == "" {
		return s.Recent(ctx, limit)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.text, e.language, e.duration_ms, e.service, e.created_at
		 FROM entries e JOIN entries_fts ON entries_fts.rowid = e.id
		 WHERE entries_fts MATCH ?
		 ORDER BY e.created_at DESC, e.id DESC LIMIT ?`, match, s.effLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("search history: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Get looks up a single entry by ID.
func (s *Store) Get(ctx context.Context, id int64) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, text, language, duration_ms, service, created_at FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get history entry: %w", err)
	}
	return e, nil
}

// Delete removes a single entry.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete history entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete history entry: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear removes every entry and reports how many were deleted.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries`)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	s.log.Info("history cleared", slog.Int64("removed", removed))
	return removed, nil
}

func (s *Store) effLimit(limit int) int {
	if limit > 0 {
		return limit
	}
	if s.cfg.DefaultLimit > 0 {
		return s.cfg.DefaultLimit
	}
	return 50
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var createdMS int64
	if err := row.Scan(&e.ID, &e.Text, &e.Language, &e.DurationMS, &e.Service, &createdMS); err != nil {
		return Entry{}, err
	}
	e.CreatedAt = time.UnixMilli(createdMS).UTC()
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ftsQuery rewrites free text into an FTS5 match expression: each word is
// quoted and prefix-expanded. Tokens with no letters or digits are dropped,
// they would tokenize to empty phrases.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if !containsAlnum(f) {
			continue
		}
		f = strings.ReplaceAll(f, `"`, `""`)
		terms = append(terms, `"`+f+`"*`)
	}
	return strings.Join(terms, " ")
}

func containsAlnum(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
