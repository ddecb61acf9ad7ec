// Package cache persists segment translations in a SQLite database keyed by
// a fingerprint of the source content and the translation-affecting
// configuration (target language, model, source language).
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed translation cache. database/sql serializes access,
// so one Store is safe to share across goroutines.
type Store struct {
	db *sql.DB
}

// Open creates or opens the cache database at dbPath, creating parent
// directories as needed.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS translations (
		cache_key TEXT PRIMARY KEY,
		translation TEXT NOT NULL,
		metadata TEXT,
		hits INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_used TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ChunkHash fingerprints segment content. Unicode NFC normalization keeps
// the key stable across equivalent encodings of the same text.
func ChunkHash(content string) string {
	sum := sha256.Sum256([]byte(norm.NFC.String(content)))
	return fmt.Sprintf("%x", sum)
}

// Key derives the cache key for a segment under the given translation
// configuration. Identical keys imply identical expected translations.
func (s *Store) Key(content, targetLang, model, sourceLang string) string {
	base := fmt.Sprintf("%s:%s:%s:%s", ChunkHash(content), targetLang, model, sourceLang)
	sum := sha256.Sum256([]byte(base))
	return fmt.Sprintf("%x", sum)
}

// Get returns the cached translation for key. A hit bumps the usage counter.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var translation string
	err := s.db.QueryRowContext(ctx,
		`SELECT translation FROM translations WHERE cache_key = ?`, key).Scan(&translation)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE translations SET hits = hits + 1, last_used = ? WHERE cache_key = ?`,
		time.Now(), key)
	return translation, true, err
}

// Set stores a translation under key, replacing any previous entry.
func (s *Store) Set(ctx context.Context, key, translation string, metadata map[string]string) error {
	var payload []byte
	if len(metadata) > 0 {
		var err error
		payload, err = json.Marshal(metadata)
		if err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO translations
			(cache_key, translation, metadata, hits, created_at, last_used)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		key, translation, nullable(payload), time.Now(), time.Now())
	return err
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// Stats summarises cache contents and usage.
type Stats struct {
	Entries   int
	TotalHits int
}

// Stats returns entry and hit counts.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(hits), 0) FROM translations`).Scan(&stats.Entries, &stats.TotalHits)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Clear removes every cached translation and returns the number removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM translations`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}
