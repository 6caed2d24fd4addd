// Package thesaurus provides synonym lookups used for query expansion.
package thesaurus

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type Thesaurus interface {
	SynonymsOf(ctx context.Context, word string) ([]string, error)
}

// Static is an in-memory thesaurus. Lookups are case-insensitive and
// multiword lemmas keep their underscores.
type Static struct {
	entries map[string][]string
}

// fileFormat is the on-disk layout. Every word in a group is a synonym of the
// others; Synonyms adds one-directional entries.
type fileFormat struct {
	Groups   [][]string          `yaml:"groups"`
	Synonyms map[string][]string `yaml:"synonyms"`
}

func NewStatic(entries map[string][]string) *Static {
	s := &Static{entries: make(map[string][]string, len(entries))}
	for word, syns := range entries {
		s.add(word, syns...)
	}
	return s
}

// LoadFile reads a YAML synonym file.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read thesaurus file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Static, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse thesaurus: %w", err)
	}

	s := NewStatic(f.Synonyms)
	for _, group := range f.Groups {
		for _, word := range group {
			s.add(word, group...)
		}
	}
	return s, nil
}

func (s *Static) SynonymsOf(_ context.Context, word string) ([]string, error) {
	syns := s.entries[normalize(word)]
	if len(syns) == 0 {
		return nil, nil
	}
	out := make([]string, len(syns))
	copy(out, syns)
	return out, nil
}

func (s *Static) Len() int {
	return len(s.entries)
}

func (s *Static) add(word string, syns ...string) {
	key := normalize(word)
	if key == "" {
		return
	}

	seen := make(map[string]struct{}, len(s.entries[key]))
	for _, existing := range s.entries[key] {
		seen[existing] = struct{}{}
	}
	for _, syn := range syns {
		syn = strings.TrimSpace(syn)
		if syn == "" || normalize(syn) == key {
			continue
		}
		if _, ok := seen[syn]; ok {
			continue
		}
		seen[syn] = struct{}{}
		s.entries[key] = append(s.entries[key], syn)
	}
	sort.Strings(s.entries[key])
}

func normalize(word string) string {
	return strings.ToLower(strings.TrimSpace(word))
}
