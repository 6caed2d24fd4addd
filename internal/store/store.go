// Package store defines the document store used for hybrid retrieval and the
// relevance model its backends share.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rag-agent/backend/internal/apperr"
)

const (
	FieldID         = "id"
	FieldDocumentID = "document_id"
	FieldTitle      = "title"
)

// Document is the full source record for one indexed document.
type Document struct {
	ID        string    `json:"doc_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Record is one indexed chunk of a document.
type Record struct {
	ID         string
	DocumentID string
	Title      string
	Content    string
	Position   int
	Embedding  []float32
}

// Query is the disjunctive search request. Vector may be nil, in which case
// the similarity clause is left out.
type Query struct {
	Text          string
	ExpandedTerms []string
	Vector        []float32
}

type Hit struct {
	ID         string  `json:"chunk_id"`
	DocumentID string  `json:"doc_id"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// Selector picks the documents a Delete removes: either by ID or by a field
// value. Chunks of every matched document go with it.
type Selector struct {
	ID    string
	Field string
	Value string
}

func ByID(id string) Selector {
	return Selector{ID: id}
}

func ByField(field, value string) Selector {
	return Selector{Field: field, Value: value}
}

// Normalize folds ID and document_id selectors into one form and rejects
// unsupported fields.
func (s Selector) Normalize() (Selector, error) {
	if s.ID != "" {
		return Selector{Field: FieldDocumentID, Value: s.ID}, nil
	}
	switch s.Field {
	case FieldID, FieldDocumentID:
		if s.Value == "" {
			return Selector{}, apperr.Validation("selector value is required")
		}
		return Selector{Field: FieldDocumentID, Value: s.Value}, nil
	case FieldTitle:
		if s.Value == "" {
			return Selector{}, apperr.Validation("selector value is required")
		}
		return s, nil
	case "":
		return Selector{}, apperr.Validation("selector needs an id or a field")
	default:
		return Selector{}, apperr.Validation("unsupported selector field %q", s.Field)
	}
}

func (s Selector) String() string {
	if s.ID != "" {
		return s.ID
	}
	return fmt.Sprintf("%s=%s", s.Field, s.Value)
}

type DocumentStore interface {
	// Search returns at most k hits ordered by fused score, highest first.
	Search(ctx context.Context, q Query, k int) ([]Hit, error)
	// Get returns the full document or an error wrapping apperr.ErrNotFound.
	Get(ctx context.Context, documentID string) (*Document, error)
	// Delete removes matching documents and their chunks and reports how many
	// documents were removed.
	Delete(ctx context.Context, sel Selector) (int, error)
	Index(ctx context.Context, rec Record) error
	SaveDocument(ctx context.Context, doc *Document) error
	Ping(ctx context.Context) error
	Close() error
}

// NotFound builds the error backends return from Get for a missing document.
func NotFound(documentID string) error {
	return fmt.Errorf("document %q: %w", documentID, apperr.ErrNotFound)
}
