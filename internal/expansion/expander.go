// Package expansion widens a query with synonyms of its terms.
package expansion

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/rag-agent/backend/internal/thesaurus"
	"github.com/rag-agent/backend/pkg/logger"
)

type Expander struct {
	thesaurus  thesaurus.Thesaurus
	maxPerTerm int
}

// NewExpander builds an expander. maxPerTerm caps the synonyms taken for each
// token; zero means no cap.
func NewExpander(th thesaurus.Thesaurus, maxPerTerm int) *Expander {
	return &Expander{thesaurus: th, maxPerTerm: maxPerTerm}
}

// Expand returns the query's whitespace tokens plus their synonyms, with
// duplicates removed and sorted. A failed lookup skips that token's synonyms.
func (e *Expander) Expand(ctx context.Context, query string) []string {
	tokens := strings.Fields(query)
	set := make(map[string]struct{}, len(tokens))

	for _, token := range tokens {
		set[token] = struct{}{}
	}

	if e.thesaurus != nil {
		for _, token := range tokens {
			syns, err := e.thesaurus.SynonymsOf(ctx, token)
			if err != nil {
				logger.Warn("Synonym lookup failed, skipping token",
					zap.String("token", token),
					zap.Error(err),
				)
				continue
			}

			added := 0
			for _, syn := range syns {
				if e.maxPerTerm > 0 && added >= e.maxPerTerm {
					break
				}
				variant := strings.TrimSpace(strings.ReplaceAll(syn, "_", " "))
				if variant == "" {
					continue
				}
				if _, ok := set[variant]; !ok {
					set[variant] = struct{}{}
					added++
				}
			}
		}
	}

	terms := make([]string, 0, len(set))
	for term := range set {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	return terms
}
