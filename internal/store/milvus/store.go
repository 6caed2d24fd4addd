// Package milvus is a DocumentStore on Milvus or Zilliz Cloud. Pure vector
// queries use the ANN index directly; queries with lexical clauses scan the
// chunk collection and rank in process with store.Rank.
package milvus

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/rag-agent/backend/internal/apperr"
	"github.com/rag-agent/backend/internal/store"
	"github.com/rag-agent/backend/pkg/logger"
)

const (
	fieldID         = "id"
	fieldDocumentID = "document_id"
	fieldTitle      = "title"
	fieldContent    = "content"
	fieldPosition   = "position"
	fieldEmbedding  = "embedding"
	fieldCreatedAt  = "created_at"
	fieldUpdatedAt  = "updated_at"
)

type Config struct {
	Endpoint   string
	APIKey     string
	Collection string
	VectorDim  int
}

type Store struct {
	client      client.Client
	chunks      string
	documents   string
	vectorDim   int
	searchParam entity.SearchParam
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: cfg.Endpoint,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	s := &Store{
		client:      c,
		chunks:      cfg.Collection + "_chunks",
		documents:   cfg.Collection + "_documents",
		vectorDim:   cfg.VectorDim,
		searchParam: sp,
	}

	for _, schema := range []*entity.Schema{s.chunkSchema(), s.documentSchema()} {
		if err := s.ensureCollection(ctx, schema); err != nil {
			c.Close()
			return nil, err
		}
	}

	logger.Info("Milvus store initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("collection", cfg.Collection),
	)
	return s, nil
}

func varchar(name string, maxLength int, primary bool) *entity.Field {
	return &entity.Field{
		Name:       name,
		DataType:   entity.FieldTypeVarChar,
		PrimaryKey: primary,
		TypeParams: map[string]string{"max_length": strconv.Itoa(maxLength)},
	}
}

func (s *Store) vectorField() *entity.Field {
	return &entity.Field{
		Name:       fieldEmbedding,
		DataType:   entity.FieldTypeFloatVector,
		TypeParams: map[string]string{"dim": strconv.Itoa(s.vectorDim)},
	}
}

func (s *Store) chunkSchema() *entity.Schema {
	return &entity.Schema{
		CollectionName: s.chunks,
		Description:    "document chunks",
		Fields: []*entity.Field{
			varchar(fieldID, 256, true),
			varchar(fieldDocumentID, 256, false),
			varchar(fieldTitle, 1024, false),
			varchar(fieldContent, 65535, false),
			{Name: fieldPosition, DataType: entity.FieldTypeInt64},
			s.vectorField(),
		},
	}
}

func (s *Store) documentSchema() *entity.Schema {
	return &entity.Schema{
		CollectionName: s.documents,
		Description:    "source documents",
		Fields: []*entity.Field{
			varchar(fieldID, 256, true),
			varchar(fieldTitle, 1024, false),
			varchar(fieldContent, 65535, false),
			{Name: fieldCreatedAt, DataType: entity.FieldTypeInt64},
			{Name: fieldUpdatedAt, DataType: entity.FieldTypeInt64},
			s.vectorField(),
		},
	}
}

func (s *Store) ensureCollection(ctx context.Context, schema *entity.Schema) error {
	has, err := s.client.HasCollection(ctx, schema.CollectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !has {
		if err := s.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx, err := entity.NewIndexIvfFlat(entity.COSINE, 1024)
		if err != nil {
			return fmt.Errorf("failed to build index: %w", err)
		}
		if err := s.client.CreateIndex(ctx, schema.CollectionName, fieldEmbedding, idx, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		logger.Info("Collection created", zap.String("collection", schema.CollectionName))
	}

	if err := s.client.LoadCollection(ctx, schema.CollectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.HasCollection(ctx, s.chunks)
	return err
}

func (s *Store) Search(ctx context.Context, q store.Query, k int) ([]store.Hit, error) {
	if len(q.Clauses()) == 0 {
		if len(q.Vector) != s.vectorDim {
			return nil, nil
		}
		return s.vectorSearch(ctx, q.Vector, k)
	}

	records, err := s.scanChunks(ctx)
	if err != nil {
		return nil, err
	}

	hits := store.Rank(records, q, k)
	logger.Debug("Milvus search completed",
		zap.Int("candidates", len(records)),
		zap.Int("hits", len(hits)),
	)
	return hits, nil
}

func (s *Store) vectorSearch(ctx context.Context, vector []float32, k int) ([]store.Hit, error) {
	results, err := s.client.Search(
		ctx,
		s.chunks,
		[]string{},
		"",
		[]string{fieldID, fieldDocumentID, fieldTitle, fieldContent},
		[]entity.Vector{entity.FloatVector(vector)},
		fieldEmbedding,
		entity.COSINE,
		k,
		s.searchParam,
	)
	if err != nil {
		return nil, apperr.Collaborator("milvus search", err)
	}

	hits := make([]store.Hit, 0, k)
	for _, sr := range results {
		for i := 0; i < sr.ResultCount; i++ {
			hit := store.Hit{Score: float64(sr.Scores[i]) + store.SimilarityOffset}
			hit.ID = stringAt(sr.Fields.GetColumn(fieldID), i)
			hit.DocumentID = stringAt(sr.Fields.GetColumn(fieldDocumentID), i)
			hit.Title = stringAt(sr.Fields.GetColumn(fieldTitle), i)
			hit.Content = stringAt(sr.Fields.GetColumn(fieldContent), i)
			hits = append(hits, hit)
		}
	}
	store.SortHits(hits)
	return hits, nil
}

// scanPageSize stays well under the server's query result window.
const scanPageSize = 1000

func (s *Store) scanChunks(ctx context.Context) ([]store.Record, error) {
	var records []store.Record
	err := scanPages(func(expr string, limit int) ([]string, error) {
		rs, err := s.client.Query(ctx, s.chunks, []string{}, expr,
			[]string{fieldID, fieldDocumentID, fieldTitle, fieldContent, fieldPosition, fieldEmbedding},
			client.WithLimit(int64(limit)),
		)
		if err != nil {
			return nil, apperr.Collaborator("milvus query", err)
		}

		ids := rs.GetColumn(fieldID)
		if ids == nil {
			return nil, nil
		}
		page := make([]string, ids.Len())
		for i := range page {
			page[i] = stringAt(ids, i)
			records = append(records, store.Record{
				ID:         page[i],
				DocumentID: stringAt(rs.GetColumn(fieldDocumentID), i),
				Title:      stringAt(rs.GetColumn(fieldTitle), i),
				Content:    stringAt(rs.GetColumn(fieldContent), i),
				Position:   int(int64At(rs.GetColumn(fieldPosition), i)),
				Embedding:  vectorAt(rs.GetColumn(fieldEmbedding), i),
			})
		}
		return page, nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].DocumentID != records[j].DocumentID {
			return records[i].DocumentID < records[j].DocumentID
		}
		return records[i].Position < records[j].Position
	})
	return records, nil
}

// scanPages walks the chunk collection in primary key order. fetch runs the
// filter expression with a row limit and returns the ids it read; paging
// stops at the first short page.
func scanPages(fetch func(expr string, limit int) ([]string, error)) error {
	after := ""
	for {
		ids, err := fetch(pageExpr(after), scanPageSize)
		if err != nil {
			return err
		}

		last := after
		for _, id := range ids {
			if id > last {
				last = id
			}
		}
		if len(ids) < scanPageSize {
			return nil
		}
		if last == after {
			return fmt.Errorf("milvus query: page after %q did not advance", after)
		}
		after = last
	}
}

func pageExpr(after string) string {
	if after == "" {
		return `document_id != ""`
	}
	return fmt.Sprintf(`document_id != "" && %s > %s`, fieldID, strconv.Quote(after))
}

func (s *Store) Get(ctx context.Context, documentID string) (*store.Document, error) {
	rs, err := s.client.Query(ctx, s.documents, []string{}, inExpr(fieldID, []string{documentID}),
		[]string{fieldID, fieldTitle, fieldContent, fieldEmbedding, fieldCreatedAt, fieldUpdatedAt},
	)
	if err != nil {
		return nil, apperr.Collaborator("milvus get", err)
	}

	ids := rs.GetColumn(fieldID)
	if ids == nil || ids.Len() == 0 {
		return nil, store.NotFound(documentID)
	}

	return &store.Document{
		ID:        stringAt(ids, 0),
		Title:     stringAt(rs.GetColumn(fieldTitle), 0),
		Content:   stringAt(rs.GetColumn(fieldContent), 0),
		Embedding: vectorAt(rs.GetColumn(fieldEmbedding), 0),
		CreatedAt: time.Unix(int64At(rs.GetColumn(fieldCreatedAt), 0), 0),
		UpdatedAt: time.Unix(int64At(rs.GetColumn(fieldUpdatedAt), 0), 0),
	}, nil
}

func (s *Store) Delete(ctx context.Context, sel store.Selector) (int, error) {
	sel, err := sel.Normalize()
	if err != nil {
		return 0, err
	}

	docExpr := inExpr(fieldID, []string{sel.Value})
	chunkExpr := inExpr(fieldDocumentID, []string{sel.Value})
	if sel.Field == store.FieldTitle {
		docExpr = inExpr(fieldTitle, []string{sel.Value})
		chunkExpr = docExpr
	}

	matched := make(map[string]struct{})
	for _, lookup := range []struct{ collection, expr, field string }{
		{s.documents, docExpr, fieldID},
		{s.chunks, chunkExpr, fieldDocumentID},
	} {
		rs, err := s.client.Query(ctx, lookup.collection, []string{}, lookup.expr, []string{lookup.field})
		if err != nil {
			return 0, apperr.Collaborator("milvus delete", err)
		}
		col := rs.GetColumn(lookup.field)
		if col == nil {
			continue
		}
		for i := 0; i < col.Len(); i++ {
			matched[stringAt(col, i)] = struct{}{}
		}
	}
	if len(matched) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(matched))
	for id := range matched {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if err := s.client.Delete(ctx, s.chunks, "", inExpr(fieldDocumentID, ids)); err != nil {
		return 0, apperr.Collaborator("milvus delete", err)
	}
	if err := s.client.Delete(ctx, s.documents, "", inExpr(fieldID, ids)); err != nil {
		return 0, apperr.Collaborator("milvus delete", err)
	}

	logger.Debug("Documents deleted", zap.String("selector", sel.String()), zap.Int("count", len(ids)))
	return len(ids), nil
}

func (s *Store) Index(ctx context.Context, rec store.Record) error {
	_, err := s.client.Upsert(
		ctx,
		s.chunks,
		"",
		entity.NewColumnVarChar(fieldID, []string{rec.ID}),
		entity.NewColumnVarChar(fieldDocumentID, []string{rec.DocumentID}),
		entity.NewColumnVarChar(fieldTitle, []string{rec.Title}),
		entity.NewColumnVarChar(fieldContent, []string{rec.Content}),
		entity.NewColumnInt64(fieldPosition, []int64{int64(rec.Position)}),
		entity.NewColumnFloatVector(fieldEmbedding, s.vectorDim, [][]float32{s.storedVector(rec.Embedding)}),
	)
	if err != nil {
		return apperr.Collaborator("milvus index", err)
	}
	return nil
}

func (s *Store) SaveDocument(ctx context.Context, doc *store.Document) error {
	now := time.Now()
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		if existing, err := s.Get(ctx, doc.ID); err == nil {
			createdAt = existing.CreatedAt
		} else {
			createdAt = now
		}
	}

	_, err := s.client.Upsert(
		ctx,
		s.documents,
		"",
		entity.NewColumnVarChar(fieldID, []string{doc.ID}),
		entity.NewColumnVarChar(fieldTitle, []string{doc.Title}),
		entity.NewColumnVarChar(fieldContent, []string{doc.Content}),
		entity.NewColumnInt64(fieldCreatedAt, []int64{createdAt.Unix()}),
		entity.NewColumnInt64(fieldUpdatedAt, []int64{now.Unix()}),
		entity.NewColumnFloatVector(fieldEmbedding, s.vectorDim, [][]float32{s.storedVector(doc.Embedding)}),
	)
	if err != nil {
		return apperr.Collaborator("milvus save document", err)
	}
	return nil
}

// storedVector pads a missing embedding with zeros; Milvus requires a vector
// on every row.
func (s *Store) storedVector(v []float32) []float32 {
	if len(v) == s.vectorDim {
		return v
	}
	return make([]float32, s.vectorDim)
}

// inExpr renders `field in ["a", "b"]` with quoted values.
func inExpr(field string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return fmt.Sprintf("%s in [%s]", field, strings.Join(quoted, ", "))
}

func stringAt(col entity.Column, i int) string {
	if col == nil {
		return ""
	}
	v, err := col.Get(i)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func int64At(col entity.Column, i int) int64 {
	if col == nil {
		return 0
	}
	v, err := col.Get(i)
	if err != nil {
		return 0
	}
	n, _ := v.(int64)
	return n
}

// vectorAt returns nil for the zero vector written in place of a missing
// embedding.
func vectorAt(col entity.Column, i int) []float32 {
	if col == nil {
		return nil
	}
	v, err := col.Get(i)
	if err != nil {
		return nil
	}
	vec, _ := v.([]float32)
	if isZero(vec) {
		return nil
	}
	return vec
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
