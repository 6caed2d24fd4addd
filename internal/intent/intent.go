// Package intent decides what a user request asks for.
package intent

import "strings"

type Kind int

const (
	AnswerQuestion Kind = iota
	SearchDocument
	RemoveDocument
)

func (k Kind) String() string {
	switch k {
	case RemoveDocument:
		return "remove_document"
	case SearchDocument:
		return "search_document"
	default:
		return "answer_question"
	}
}

// ParseKind maps a label to its Kind. ok is false for anything outside the
// known set, in which case AnswerQuestion is returned.
func ParseKind(label string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "remove_document":
		return RemoveDocument, true
	case "search_document":
		return SearchDocument, true
	case "answer_question":
		return AnswerQuestion, true
	default:
		return AnswerQuestion, false
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Intent is the classified request plus whatever fields the model pulled
// out of it.
type Intent struct {
	Kind    Kind   `json:"intent"`
	DocID   string `json:"doc_id,omitempty"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
}
