// Package sqlite is a DocumentStore backed by a local SQLite database.
// Relevance is computed in process with store.Rank.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/rag-agent/backend/internal/apperr"
	"github.com/rag-agent/backend/internal/store"
	"github.com/rag-agent/backend/pkg/logger"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite store initialized", zap.String("path", dbPath))

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_title ON documents(title);

	CREATE TABLE IF NOT EXISTS chunks (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		document_id TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		position INTEGER NOT NULL,
		embedding TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_title ON chunks(title);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug("SQLite schema initialized")
	return nil
}

func (s *Store) Search(ctx context.Context, q store.Query, k int) ([]store.Hit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, document_id, title, content, position, embedding FROM chunks ORDER BY seq`)
	if err != nil {
		return nil, apperr.Collaborator("sqlite search", err)
	}
	defer rows.Close()

	var records []store.Record
	for rows.Next() {
		var (
			rec       store.Record
			embedding sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.DocumentID, &rec.Title, &rec.Content, &rec.Position, &embedding); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rec.Embedding, err = decodeVector(embedding)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Collaborator("sqlite search", err)
	}

	hits := store.Rank(records, q, k)

	logger.Debug("SQLite search completed",
		zap.Int("candidates", len(records)),
		zap.Int("hits", len(hits)),
	)

	return hits, nil
}

func (s *Store) Get(ctx context.Context, documentID string) (*store.Document, error) {
	query := `SELECT id, title, content, embedding, created_at, updated_at FROM documents WHERE id = ?`

	var (
		doc                  store.Document
		embedding            sql.NullString
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, documentID).Scan(
		&doc.ID,
		&doc.Title,
		&doc.Content,
		&embedding,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound(documentID)
	}
	if err != nil {
		return nil, apperr.Collaborator("sqlite get", err)
	}

	doc.Embedding, err = decodeVector(embedding)
	if err != nil {
		return nil, err
	}
	doc.CreatedAt = time.Unix(createdAt, 0)
	doc.UpdatedAt = time.Unix(updatedAt, 0)

	return &doc, nil
}

func (s *Store) Delete(ctx context.Context, sel store.Selector) (int, error) {
	sel, err := sel.Normalize()
	if err != nil {
		return 0, err
	}

	column := "id"
	chunkColumn := "document_id"
	if sel.Field == store.FieldTitle {
		column, chunkColumn = "title", "title"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Collaborator("sqlite delete", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT id FROM documents WHERE %s = ? UNION SELECT document_id FROM chunks WHERE %s = ?`, column, chunkColumn),
		sel.Value, sel.Value,
	)
	if err != nil {
		return 0, apperr.Collaborator("sqlite delete", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan row: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id IN (`+placeholders+`)`, args...); err != nil {
		return 0, apperr.Collaborator("sqlite delete", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return 0, apperr.Collaborator("sqlite delete", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, apperr.Collaborator("sqlite delete", err)
	}

	logger.Debug("Documents deleted", zap.String("selector", sel.String()), zap.Int("count", len(ids)))
	return len(ids), nil
}

func (s *Store) Index(ctx context.Context, rec store.Record) error {
	embedding, err := encodeVector(rec.Embedding)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO chunks (id, document_id, title, content, position, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			title = excluded.title,
			content = excluded.content,
			position = excluded.position,
			embedding = excluded.embedding
	`
	_, err = s.db.ExecContext(ctx, query, rec.ID, rec.DocumentID, rec.Title, rec.Content, rec.Position, embedding)
	if err != nil {
		return apperr.Collaborator("sqlite index", err)
	}
	return nil
}

func (s *Store) SaveDocument(ctx context.Context, doc *store.Document) error {
	embedding, err := encodeVector(doc.Embedding)
	if err != nil {
		return err
	}

	now := time.Now()
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO documents (id, title, content, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query, doc.ID, doc.Title, doc.Content, embedding, createdAt.Unix(), now.Unix())
	if err != nil {
		return apperr.Collaborator("sqlite save document", err)
	}

	logger.Debug("Document saved", zap.String("doc_id", doc.ID))
	return nil
}

func encodeVector(v []float32) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal embedding: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeVector(s sql.NullString) ([]float32, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(s.String), &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}
	return v, nil
}
