// Package postgres is a DocumentStore on PostgreSQL with pgvector. The fused
// score is computed in SQL: one ts_rank term per match clause plus
// 2 - cosine distance for the similarity clause.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/rag-agent/backend/internal/apperr"
	"github.com/rag-agent/backend/internal/store"
	"github.com/rag-agent/backend/pkg/logger"
)

type Store struct {
	db  *sqlx.DB
	dim int
}

type documentRow struct {
	ID        string           `db:"id"`
	Title     string           `db:"title"`
	Content   string           `db:"content"`
	Embedding *pgvector.Vector `db:"embedding"`
	CreatedAt time.Time        `db:"created_at"`
	UpdatedAt time.Time        `db:"updated_at"`
}

type hitRow struct {
	ID         string  `db:"id"`
	DocumentID string  `db:"document_id"`
	Title      string  `db:"title"`
	Content    string  `db:"content"`
	Score      float64 `db:"score"`
}

func New(ctx context.Context, dsn string, dim int) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := &Store{db: db, dim: dim}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Postgres store initialized", zap.Int("vector_dim", dim))
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rag_documents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, s.dim),
		`CREATE INDEX IF NOT EXISTS idx_rag_documents_title ON rag_documents(title)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rag_chunks (
			seq BIGSERIAL,
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			position INTEGER NOT NULL,
			embedding vector(%d),
			tsv tsvector GENERATED ALWAYS AS (to_tsvector('simple', content)) STORED
		)`, s.dim),
		`CREATE INDEX IF NOT EXISTS idx_rag_chunks_document ON rag_chunks(document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_rag_chunks_title ON rag_chunks(title)`,
		`CREATE INDEX IF NOT EXISTS idx_rag_chunks_tsv ON rag_chunks USING GIN (tsv)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Search(ctx context.Context, q store.Query, k int) ([]store.Hit, error) {
	query, args, ok := buildSearchQuery(q, k)
	if !ok {
		return nil, nil
	}

	var rows []hitRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperr.Collaborator("postgres search", err)
	}

	hits := make([]store.Hit, len(rows))
	for i, r := range rows {
		hits[i] = store.Hit{
			ID:         r.ID,
			DocumentID: r.DocumentID,
			Title:      r.Title,
			Content:    r.Content,
			Score:      r.Score,
		}
	}
	return hits, nil
}

// buildSearchQuery renders the bool/should query. ok is false when q has
// neither a lexical clause nor a vector.
func buildSearchQuery(q store.Query, k int) (string, []interface{}, bool) {
	var (
		args    []interface{}
		scores  []string
		filters []string
	)

	for _, clause := range q.Clauses() {
		tokens := store.Tokenize(clause)
		if len(tokens) == 0 {
			continue
		}
		args = append(args, strings.Join(tokens, " | "))
		tsq := fmt.Sprintf("to_tsquery('simple', $%d)", len(args))
		scores = append(scores, fmt.Sprintf("CASE WHEN tsv @@ %[1]s THEN ts_rank(tsv, %[1]s) ELSE 0 END", tsq))
		filters = append(filters, "tsv @@ "+tsq)
	}

	if len(q.Vector) > 0 {
		args = append(args, pgvector.NewVector(q.Vector))
		scores = append(scores, fmt.Sprintf("COALESCE(%.1f - (embedding <=> $%d), 0)", 1+store.SimilarityOffset, len(args)))
		filters = append(filters, "embedding IS NOT NULL")
	}

	if len(scores) == 0 {
		return "", nil, false
	}

	args = append(args, k)
	query := fmt.Sprintf(`
		SELECT id, document_id, title, content, (%s) AS score
		FROM rag_chunks
		WHERE %s
		ORDER BY score DESC, seq ASC
		LIMIT $%d`,
		strings.Join(scores, " + "),
		strings.Join(filters, " OR "),
		len(args),
	)
	return query, args, true
}

func (s *Store) Get(ctx context.Context, documentID string) (*store.Document, error) {
	var row documentRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, title, content, embedding, created_at, updated_at FROM rag_documents WHERE id = $1`,
		documentID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound(documentID)
	}
	if err != nil {
		return nil, apperr.Collaborator("postgres get", err)
	}

	doc := &store.Document{
		ID:        row.ID,
		Title:     row.Title,
		Content:   row.Content,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.Embedding != nil {
		doc.Embedding = row.Embedding.Slice()
	}
	return doc, nil
}

func (s *Store) Delete(ctx context.Context, sel store.Selector) (int, error) {
	sel, err := sel.Normalize()
	if err != nil {
		return 0, err
	}

	column, chunkColumn := "id", "document_id"
	if sel.Field == store.FieldTitle {
		column, chunkColumn = "title", "title"
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, apperr.Collaborator("postgres delete", err)
	}
	defer tx.Rollback()

	var ids []string
	err = tx.SelectContext(ctx, &ids, fmt.Sprintf(
		`SELECT id FROM rag_documents WHERE %s = $1 UNION SELECT document_id FROM rag_chunks WHERE %s = $1`,
		column, chunkColumn,
	), sel.Value)
	if err != nil {
		return 0, apperr.Collaborator("postgres delete", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	for _, table := range []struct{ name, column string }{
		{"rag_chunks", "document_id"},
		{"rag_documents", "id"},
	} {
		query, args, err := sqlx.In(fmt.Sprintf(`DELETE FROM %s WHERE %s IN (?)`, table.name, table.column), ids)
		if err != nil {
			return 0, fmt.Errorf("failed to build delete: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return 0, apperr.Collaborator("postgres delete", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, apperr.Collaborator("postgres delete", err)
	}
	return len(ids), nil
}

func (s *Store) Index(ctx context.Context, rec store.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rag_chunks (id, document_id, title, content, position, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			position = EXCLUDED.position,
			embedding = EXCLUDED.embedding`,
		rec.ID, rec.DocumentID, rec.Title, rec.Content, rec.Position, nullableVector(rec.Embedding),
	)
	if err != nil {
		return apperr.Collaborator("postgres index", err)
	}
	return nil
}

func (s *Store) SaveDocument(ctx context.Context, doc *store.Document) error {
	now := time.Now()
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rag_documents (id, title, content, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at`,
		doc.ID, doc.Title, doc.Content, nullableVector(doc.Embedding), createdAt, now,
	)
	if err != nil {
		return apperr.Collaborator("postgres save document", err)
	}
	return nil
}

func nullableVector(v []float32) interface{} {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}
