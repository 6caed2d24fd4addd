package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type scriptedCompleter struct {
	output  string
	err     error
	prompts []string
}

func (s *scriptedCompleter) Complete(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.output, s.err
}

func TestClassifyLabels(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   Kind
	}{
		{"remove", "remove_document", RemoveDocument},
		{"search", "search_document", SearchDocument},
		{"answer", "answer_question", AnswerQuestion},
		{"uppercase and padded", "  SEARCH_DOCUMENT \n", SearchDocument},
		{"quoted with period", "`remove_document`.", RemoveDocument},
		{"trailing explanation line", "search_document\nBecause the user asked to find files.", SearchDocument},
		{"unknown label", "delete_everything", AnswerQuestion},
		{"empty output", "", AnswerQuestion},
		{"sentence", "I think this is a question", AnswerQuestion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(&scriptedCompleter{output: tt.output}, FormatLabel)
			assert.Equal(t, tt.want, c.Classify(context.Background(), "some input").Kind)
		})
	}
}

func TestClassifyJSON(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   Intent
	}{
		{
			name:   "full object",
			output: `{"intent": "remove_document", "doc_id": "DOC7", "title": "", "content": ""}`,
			want:   Intent{Kind: RemoveDocument, DocID: "DOC7"},
		},
		{
			name:   "code fence and trailing prose",
			output: "```json\n{\"intent\": \"search_document\", \"title\": \"Budget\"}\n```\nHope that helps {really}.",
			want:   Intent{Kind: SearchDocument, Title: "Budget"},
		},
		{
			name:   "missing fields",
			output: `{"intent": "answer_question"}`,
			want:   Intent{Kind: AnswerQuestion},
		},
		{
			name:   "null fields",
			output: `{"intent": "search_document", "doc_id": null}`,
			want:   Intent{Kind: SearchDocument},
		},
		{
			name:   "malformed",
			output: `{"intent": "remove_document", "doc_id": `,
			want:   Intent{Kind: AnswerQuestion},
		},
		{
			name:   "not json",
			output: "remove_document",
			want:   Intent{Kind: AnswerQuestion},
		},
		{
			name:   "unknown intent",
			output: `{"intent": "format_disk", "doc_id": "x"}`,
			want:   Intent{Kind: AnswerQuestion},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(&scriptedCompleter{output: tt.output}, FormatJSON)
			assert.Equal(t, tt.want, c.Classify(context.Background(), "some input"))
		})
	}
}

func TestClassifyCallFailureDefaults(t *testing.T) {
	c := NewClassifier(&scriptedCompleter{err: errors.New("model down")}, FormatJSON)
	assert.Equal(t, Intent{Kind: AnswerQuestion}, c.Classify(context.Background(), "remove | DOC1"))
}

func TestClassifyEmptyInputSkipsModel(t *testing.T) {
	completer := &scriptedCompleter{output: "remove_document"}
	c := NewClassifier(completer, FormatLabel)

	for _, input := range []string{"", "   ", "\n\t"} {
		assert.Equal(t, AnswerQuestion, c.Classify(context.Background(), input).Kind)
	}
	assert.Empty(t, completer.prompts)
}

func TestClassifyRemoveFallsBackToPipeCommand(t *testing.T) {
	c := NewClassifier(&scriptedCompleter{output: "remove_document"}, FormatLabel)

	got := c.Classify(context.Background(), "remove | DOC42")
	assert.Equal(t, Intent{Kind: RemoveDocument, DocID: "DOC42"}, got)
}

func TestClassifyRemoveWithoutPipeCommandHasNoID(t *testing.T) {
	c := NewClassifier(&scriptedCompleter{output: "remove_document"}, FormatLabel)

	got := c.Classify(context.Background(), "please delete the old report")
	assert.Equal(t, RemoveDocument, got.Kind)
	assert.Empty(t, got.DocID)
}

func TestClassifyPromptEmbedsQuery(t *testing.T) {
	completer := &scriptedCompleter{output: "answer_question"}
	NewClassifier(completer, "").Classify(context.Background(), "  What is BM25?  ")

	if assert.Len(t, completer.prompts, 1) {
		assert.Contains(t, completer.prompts[0], "Query: What is BM25?\n")
		assert.Contains(t, completer.prompts[0], "Return only the intent name")
	}
}

func TestClassifyTotality(t *testing.T) {
	outputs := []string{"", "{", "}", "{}", "null", `{"intent": 42}`, "\x00\xff", "answer_question answer_question"}
	for _, format := range []string{FormatLabel, FormatJSON} {
		for _, out := range outputs {
			got := NewClassifier(&scriptedCompleter{output: out}, format).Classify(context.Background(), "x")
			assert.Contains(t, []Kind{RemoveDocument, SearchDocument, AnswerQuestion}, got.Kind)
		}
	}
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind(" Remove_Document ")
	assert.True(t, ok)
	assert.Equal(t, RemoveDocument, k)

	k, ok = ParseKind("nope")
	assert.False(t, ok)
	assert.Equal(t, AnswerQuestion, k)
	assert.Equal(t, "answer_question", Kind(99).String())
}
