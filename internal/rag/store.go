package rag

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/agentplexus/omnivoice-bridge/internal/logging"
)

// Document is a tenant-owned knowledge base entry.
type Document struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Snippet is a ranked search hit.
type Snippet struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// Store is a SQLite FTS5 knowledge base.
type Store struct {
	sql *sql.DB
	log *logging.Logger
}

// Open opens (or creates) the knowledge base at path and runs migrations.
// Use ":memory:" for an in-memory database (useful for tests).
func Open(path string, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Nop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise see its own empty database.
		sqlDB.SetMaxOpenConns(1)
	}

	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	s := &Store{sql: sqlDB, log: log.Sub("knowledge")}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	s.log.Debug().Str("path", path).Msg("knowledge base opened")
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sql.Close()
}

// ErrForeignDocument is returned when a document id is already owned by
// another tenant.
var ErrForeignDocument = errors.New("document belongs to another tenant")

// Add inserts or replaces a document. Replacing a document owned by another
// tenant fails with ErrForeignDocument.
func (s *Store) Add(ctx context.Context, doc Document) (*Document, error) {
	if doc.TenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if strings.TrimSpace(doc.Content) == "" {
		return nil, fmt.Errorf("content is required")
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	doc.CreatedAt = time.Now().UTC()

	res, err := s.sql.ExecContext(ctx,
		`INSERT INTO documents (id, tenant_id, title, content, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   content = excluded.content
		 WHERE documents.tenant_id = excluded.tenant_id`,
		doc.ID, doc.TenantID, doc.Title, doc.Content, doc.CreatedAt.Format(time.DateTime),
	)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrForeignDocument, doc.ID)
	}
	return &doc, nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, tenantID, id string) error {
	_, err := s.sql.ExecContext(ctx, "DELETE FROM documents WHERE id = ? AND tenant_id = ?", id, tenantID)
	return err
}

// List returns a tenant's documents, newest first.
func (s *Store) List(ctx context.Context, tenantID string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.sql.QueryContext(ctx,
		`SELECT id, tenant_id, title, content, created_at
		 FROM documents
		 WHERE tenant_id = ?
		 ORDER BY created_at DESC, id
		 LIMIT ?`,
		tenantID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var created string
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Title, &d.Content, &created); err != nil {
			return nil, err
		}
		d.CreatedAt, _ = time.Parse(time.DateTime, created)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Search returns the tenant's documents matching query, best first. The
// score is the negated bm25 rank, so higher is more relevant.
func (s *Store) Search(ctx context.Context, tenantID, query string, limit int) ([]Snippet, error) {
	match := matchExpression(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.sql.QueryContext(ctx,
		`SELECT d.id, d.title, d.content, bm25(knowledge_fts)
		 FROM knowledge_fts
		 JOIN documents d ON d.rowid = knowledge_fts.rowid
		 WHERE knowledge_fts MATCH ?
		   AND d.tenant_id = ?
		 ORDER BY bm25(knowledge_fts)
		 LIMIT ?`,
		match, tenantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search knowledge base: %w", err)
	}
	defer rows.Close()

	var out []Snippet
	for rows.Next() {
		var sn Snippet
		var rank float64
		if err := rows.Scan(&sn.DocumentID, &sn.Title, &sn.Content, &rank); err != nil {
			return nil, err
		}
		sn.Score = -rank
		out = append(out, sn)
	}
	return out, rows.Err()
}

// matchExpression turns free text into an FTS5 query that ORs quoted terms,
// so punctuation in caller speech never reaches the FTS5 parser.
func matchExpression(query string) string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(words))
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) < 2 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"can": true, "do": true, "does": true, "for": true, "from": true, "how": true,
	"i": true, "in": true, "is": true, "it": true, "me": true, "my": true, "of": true,
	"on": true, "or": true, "the": true, "to": true, "what": true, "when": true,
	"where": true, "which": true, "who": true, "why": true, "with": true, "you": true,
	"your": true,
}

// migrate runs all pending migrations.
func (s *Store) migrate() error {
	if _, err := s.sql.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		s.log.Debug().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")

		tx, err := s.sql.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
