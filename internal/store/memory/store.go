// Package memory is an in-process DocumentStore for tests and local runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rag-agent/backend/internal/store"
)

type Store struct {
	mu      sync.RWMutex
	records []store.Record
	docs    map[string]*store.Document
}

func New() *Store {
	return &Store{docs: make(map[string]*store.Document)}
}

func (s *Store) Search(_ context.Context, q store.Query, k int) ([]store.Hit, error) {
	s.mu.RLock()
	records := make([]store.Record, len(s.records))
	copy(records, s.records)
	s.mu.RUnlock()

	return store.Rank(records, q, k), nil
}

func (s *Store) Get(_ context.Context, documentID string) (*store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[documentID]
	if !ok {
		return nil, store.NotFound(documentID)
	}
	out := *doc
	return &out, nil
}

func (s *Store) Delete(_ context.Context, sel store.Selector) (int, error) {
	sel, err := sel.Normalize()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make(map[string]struct{})
	for id, doc := range s.docs {
		if matches(sel, doc.ID, doc.Title) {
			matched[id] = struct{}{}
		}
	}
	for _, rec := range s.records {
		if matches(sel, rec.DocumentID, rec.Title) {
			matched[rec.DocumentID] = struct{}{}
		}
	}

	kept := s.records[:0]
	for _, rec := range s.records {
		if _, ok := matched[rec.DocumentID]; !ok {
			kept = append(kept, rec)
		}
	}
	s.records = kept
	for id := range matched {
		delete(s.docs, id)
	}

	return len(matched), nil
}

func (s *Store) Index(_ context.Context, rec store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.records {
		if existing.ID == rec.ID {
			s.records[i] = rec
			return nil
		}
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *Store) SaveDocument(_ context.Context, doc *store.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := *doc
	now := time.Now()
	if existing, ok := s.docs[doc.ID]; ok {
		saved.CreatedAt = existing.CreatedAt
	} else if saved.CreatedAt.IsZero() {
		saved.CreatedAt = now
	}
	saved.UpdatedAt = now
	s.docs[doc.ID] = &saved
	return nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) Close() error {
	return nil
}

func matches(sel store.Selector, documentID, title string) bool {
	switch sel.Field {
	case store.FieldTitle:
		return title == sel.Value
	default:
		return documentID == sel.Value
	}
}
