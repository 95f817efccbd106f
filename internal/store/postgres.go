package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

// PostgresStore persists knowledge records in a single documents table,
// partitioned by category. Used when several instances share one store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection and ensures the schema exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS knowledge_documents (
		category TEXT NOT NULL,
		id TEXT NOT NULL,
		document JSONB NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (category, id)
	);
	CREATE INDEX IF NOT EXISTS idx_knowledge_category ON knowledge_documents(category);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create knowledge schema: %w", err)
	}
	return nil
}

// rebind converts ? placeholders to $N for PostgreSQL.
func rebind(query string) string {
	n := 1
	var out strings.Builder
	for _, ch := range query {
		if ch == '?' {
			fmt.Fprintf(&out, "$%d", n)
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// Save upserts the record document.
func (s *PostgresStore) Save(ctx context.Context, category, id string, record interface{}) error {
	doc, err := marshalDocument(record)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", category, id, err)
	}
	_, err = s.db.ExecContext(ctx, rebind(`
		INSERT INTO knowledge_documents (category, id, document, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (category, id) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`),
		category, id, doc, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save %s/%s: %w", category, id, err)
	}
	return nil
}

// Load reads the document into out.
func (s *PostgresStore) Load(ctx context.Context, category, id string, out interface{}) error {
	var doc []byte
	err := s.db.QueryRowContext(ctx, rebind(
		`SELECT document FROM knowledge_documents WHERE category = ? AND id = ?`),
		category, id,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s/%s: %w", category, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load %s/%s: %w", category, id, err)
	}
	return unmarshalDocument(doc, out)
}

// List returns the ids of all documents in a category.
func (s *PostgresStore) List(ctx context.Context, category string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, rebind(
		`SELECT id FROM knowledge_documents WHERE category = ? ORDER BY updated_at`),
		category,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", category, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes a document. Missing documents are ignored.
func (s *PostgresStore) Delete(ctx context.Context, category, id string) error {
	_, err := s.db.ExecContext(ctx, rebind(
		`DELETE FROM knowledge_documents WHERE category = ? AND id = ?`),
		category, id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", category, id, err)
	}
	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error { return s.db.Close() }

var _ Store = (*PostgresStore)(nil)
