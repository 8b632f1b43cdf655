// Package knowledge is a small personal knowledge base: notes and captured
// search results, deduplicated by content hash, with substring search over
// the stored text.
package knowledge

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"huginn/internal/browserpool"
	logx "huginn/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const defaultTopK = 5

// Document is a stored knowledge entry.
type Document struct {
	ID      int64
	Content string
	Meta    map[string]string
	AddedAt time.Time
}

// Config configures the store.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Store is a SQLite-backed document store safe for concurrent use.
type Store struct {
	db  *sql.DB
	log logx.Logger

	now func() time.Time
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("knowledge: path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: log, now: time.Now}
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(context.Background(), string(b)); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AddDocument stores content with its metadata. It reports false when an
// identical document already exists.
func (s *Store) AddDocument(ctx context.Context, content string, meta map[string]string) (bool, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return false, errors.New("knowledge: empty content")
	}
	if meta == nil {
		meta = map[string]string{}
	}
	mb, err := json.Marshal(meta)
	if err != nil {
		return false, err
	}

	sum := sha256.Sum256([]byte(content))
	h := hex.EncodeToString(sum[:])

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents(hash, content, meta, added_at) VALUES(?,?,?,?)
		 ON CONFLICT(hash) DO NOTHING`,
		h, content, string(mb), s.now().UTC().UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		s.log.Debug("duplicate document skipped", logx.String("hash", h[:12]))
		return false, nil
	}
	s.log.Debug("document added", logx.String("hash", h[:12]), logx.Int("len", len(content)))
	return true, nil
}

// AddSearchResults captures search hits as documents, one per result, and
// returns how many were newly stored. Title and snippet form the content;
// the URL and originating query go into metadata.
func (s *Store) AddSearchResults(ctx context.Context, query string, results []browserpool.SearchResult) (int, error) {
	added := 0
	retrievedAt := s.now().UTC().Format(time.RFC3339)
	for _, r := range results {
		content := strings.TrimSpace(r.Title + "\n" + r.Snippet)
		if content == "" {
			continue
		}
		ok, err := s.AddDocument(ctx, content, map[string]string{
			"url":          r.URL,
			"title":        r.Title,
			"source_query": query,
			"retrieved_at": retrievedAt,
		})
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	s.log.Info("search results captured",
		logx.String("query", query),
		logx.Int("added", added),
		logx.Int("total", len(results)),
	)
	return added, nil
}

// Search returns up to topK documents containing the query, newest first.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]Document, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("knowledge: empty query")
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, meta, added_at FROM documents
		 WHERE content LIKE ? ESCAPE '\'
		 ORDER BY added_at DESC LIMIT ?`,
		"%"+escapeLike(query)+"%", topK,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var (
			d       Document
			meta    string
			addedMS int64
		)
		if err := rows.Scan(&d.ID, &d.Content, &meta, &addedMS); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &d.Meta); err != nil {
			return nil, fmt.Errorf("knowledge: decode meta for doc %d: %w", d.ID, err)
		}
		d.AddedAt = time.UnixMilli(addedMS).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
