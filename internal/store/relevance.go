package store

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/rag-agent/backend/pkg/utils"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75

	// SimilarityOffset keeps the similarity clause non-negative.
	SimilarityOffset = 1.0
)

// Tokenize lowercases text and splits it on anything that is not a letter or
// digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Clauses returns the lexical match clauses of q: the query text followed by
// each expanded term.
func (q Query) Clauses() []string {
	clauses := make([]string, 0, len(q.ExpandedTerms)+1)
	if strings.TrimSpace(q.Text) != "" {
		clauses = append(clauses, q.Text)
	}
	for _, term := range q.ExpandedTerms {
		if strings.TrimSpace(term) != "" {
			clauses = append(clauses, term)
		}
	}
	return clauses
}

type analyzed struct {
	rec    Record
	terms  map[string]int
	length int
}

// Rank scores records against q the way a bool/should query does. Each match
// clause contributes its BM25 score when any of its terms occurs in the
// content. When q has a vector, every record also gets cosine similarity plus
// SimilarityOffset and is eligible even without a lexical match. Ties keep
// the input order.
func Rank(records []Record, q Query, k int) []Hit {
	if len(records) == 0 {
		return nil
	}

	docs := make([]analyzed, len(records))
	totalLength := 0
	docFreq := make(map[string]int)
	for i, rec := range records {
		tokens := Tokenize(rec.Content)
		terms := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			terms[tok]++
		}
		for term := range terms {
			docFreq[term]++
		}
		docs[i] = analyzed{rec: rec, terms: terms, length: len(tokens)}
		totalLength += len(tokens)
	}
	avgLength := float64(totalLength) / float64(len(docs))
	if avgLength == 0 {
		avgLength = 1
	}

	clauses := make([][]string, 0)
	for _, clause := range q.Clauses() {
		if terms := uniqueTokens(clause); len(terms) > 0 {
			clauses = append(clauses, terms)
		}
	}

	n := float64(len(docs))
	hits := make([]Hit, 0, len(docs))
	for _, d := range docs {
		score := 0.0
		matched := false

		for _, clause := range clauses {
			for _, term := range clause {
				tf := d.terms[term]
				if tf == 0 {
					continue
				}
				matched = true
				df := float64(docFreq[term])
				idf := math.Log(1 + (n-df+0.5)/(df+0.5))
				norm := float64(tf) + bm25K1*(1-bm25B+bm25B*float64(d.length)/avgLength)
				score += idf * float64(tf) * (bm25K1 + 1) / norm
			}
		}

		if len(q.Vector) > 0 && len(d.rec.Embedding) == len(q.Vector) {
			score += utils.CosineSimilarity(q.Vector, d.rec.Embedding) + SimilarityOffset
			matched = true
		}

		if !matched {
			continue
		}

		hits = append(hits, Hit{
			ID:         d.rec.ID,
			DocumentID: d.rec.DocumentID,
			Title:      d.rec.Title,
			Content:    d.rec.Content,
			Score:      score,
		})
	}

	SortHits(hits)
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// SortHits orders hits by score, highest first, keeping the existing order
// for equal scores.
func SortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
}

func uniqueTokens(text string) []string {
	tokens := Tokenize(text)
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0]
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}
