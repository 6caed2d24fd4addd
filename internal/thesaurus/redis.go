package thesaurus

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// SetStore is the subset of the redis cache client used for synonym sets.
type SetStore interface {
	Members(ctx context.Context, key string) ([]string, error)
	AddMembers(ctx context.Context, key string, members ...string) error
}

// Redis looks synonyms up in sets named synonyms:<word>.
type Redis struct {
	store SetStore
}

func NewRedis(store SetStore) *Redis {
	return &Redis{store: store}
}

func (r *Redis) SynonymsOf(ctx context.Context, word string) ([]string, error) {
	key := normalize(word)
	if key == "" {
		return nil, nil
	}
	members, err := r.store.Members(ctx, SynonymKey(key))
	if err != nil {
		return nil, fmt.Errorf("failed to read synonyms for %q: %w", word, err)
	}
	return members, nil
}

// Import adds every entry of src to the synonym sets and returns the number
// of words written.
func (r *Redis) Import(ctx context.Context, src *Static) (int, error) {
	words := make([]string, 0, len(src.entries))
	for word := range src.entries {
		words = append(words, word)
	}
	sort.Strings(words)

	for _, word := range words {
		if err := r.store.AddMembers(ctx, SynonymKey(word), src.entries[word]...); err != nil {
			return 0, fmt.Errorf("failed to import synonyms for %q: %w", word, err)
		}
	}
	return len(words), nil
}

func SynonymKey(word string) string {
	return "synonyms:" + strings.ToLower(word)
}
