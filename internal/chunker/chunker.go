// Package chunker splits document text into overlapping windows for indexing.
//
// Lengths are counted in runes. Consecutive chunks share exactly overlap
// runes, so the original text is recovered by Reassemble.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/rag-agent/backend/internal/apperr"
	"github.com/rag-agent/backend/pkg/logger"
)

const (
	DefaultSize    = 512
	DefaultOverlap = 51
)

var ErrInvalidChunkConfig = fmt.Errorf("%w: invalid chunk configuration", apperr.ErrValidation)

var sentenceEndPattern = regexp.MustCompile(`[.!?]+["')\]]*\s+`)

// Validate checks a size/overlap pair without chunking anything.
func Validate(size, overlap int) error {
	if size <= 0 || overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidChunkConfig, size, overlap)
	}
	return nil
}

// Chunk splits text into windows of at most size runes. A window ends at the
// last paragraph break, sentence end or whitespace in its second half, in
// that order of preference, and is cut hard when none exists.
func Chunk(text string, size, overlap int) ([]string, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}, nil
	}

	sentenceEnds := sentenceBoundaries(text)

	var chunks []string
	start := 0
	for {
		if len(runes)-start <= size {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		end := breakPoint(runes, start, size, overlap, sentenceEnds)
		chunks = append(chunks, string(runes[start:end]))
		start = end - overlap
	}

	return chunks, nil
}

// Reassemble is the inverse of Chunk for the same overlap.
func Reassemble(chunks []string, overlap int) string {
	var b strings.Builder
	for i, c := range chunks {
		if i == 0 || overlap <= 0 {
			b.WriteString(c)
			continue
		}
		r := []rune(c)
		if overlap < len(r) {
			b.WriteString(string(r[overlap:]))
		}
	}
	return b.String()
}

func breakPoint(runes []rune, start, size, overlap int, sentenceEnds map[int]struct{}) int {
	limit := start + size
	// end must leave room for progress past the shared overlap and keep the
	// chunk at least half full
	minEnd := start + max(overlap+1, size/2)

	for end := limit; end >= minEnd; end-- {
		if end >= 2 && runes[end-1] == '\n' && runes[end-2] == '\n' {
			return end
		}
	}

	for end := limit; end >= minEnd; end-- {
		if _, ok := sentenceEnds[end]; ok {
			return end
		}
	}

	for end := limit; end >= minEnd; end-- {
		if unicode.IsSpace(runes[end-1]) {
			return end
		}
	}

	return limit
}

// sentenceBoundaries returns the rune offsets just past each sentence and its
// trailing whitespace.
func sentenceBoundaries(text string) map[int]struct{} {
	ends := make(map[int]struct{})

	doc, err := prose.NewDocument(text,
		prose.WithTokenization(false),
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		logger.Debug("Sentence segmentation unavailable, scanning punctuation", zap.Error(err))
		for _, loc := range sentenceEndPattern.FindAllStringIndex(text, -1) {
			ends[utf8.RuneCountInString(text[:loc[1]])] = struct{}{}
		}
		return ends
	}

	cursor, runeCursor := 0, 0
	for _, sentence := range doc.Sentences() {
		if sentence.Text == "" {
			continue
		}
		idx := strings.Index(text[cursor:], sentence.Text)
		if idx < 0 {
			continue
		}
		end := cursor + idx + len(sentence.Text)
		for end < len(text) {
			r, width := utf8.DecodeRuneInString(text[end:])
			if !unicode.IsSpace(r) {
				break
			}
			end += width
		}
		runeCursor += utf8.RuneCountInString(text[cursor:end])
		ends[runeCursor] = struct{}{}
		cursor = end
	}

	return ends
}
