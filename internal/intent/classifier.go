package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rag-agent/backend/internal/apperr"
	"github.com/rag-agent/backend/internal/llm"
	"github.com/rag-agent/backend/internal/metrics"
	"github.com/rag-agent/backend/pkg/logger"
)

const (
	FormatLabel = "label"
	FormatJSON  = "json"
)

const labelPrompt = `You are an intent classification assistant.

Classify the user's query into **one** of the following intents:

- ` + "`remove_document`" + `: if the query is a command to remove a document, typically in the format "remove | doc_id" or similar.
- ` + "`search_document`" + `: if the query is asking to search, list, or retrieve documents.
- ` + "`answer_question`" + `: for all other types of queries, such as general questions or instructions that do not match the above two patterns.

Return only the intent name (exactly as shown), with no explanation or extra text.

Query: %s
Intent:
`

const jsonPrompt = `You are an intent classification assistant.

Classify the user's query into **one** of the following intents:

- "remove_document": the query is a command to remove a document, typically in the format "remove | doc_id" or similar.
- "search_document": the query is asking to search, list, or retrieve documents.
- "answer_question": any other query, such as a general question or an instruction that matches neither pattern above.

Extract any document ID, title or content mentioned in the query.

Respond with a single JSON object and nothing else:
{"intent": "<intent>", "doc_id": "<document id or empty>", "title": "<title or empty>", "content": "<content or empty>"}

Query: %s
JSON:
`

type Classifier struct {
	llm    llm.Completer
	format string
}

// NewClassifier builds a classifier that asks the model for a bare label or,
// with FormatJSON, a structured object.
func NewClassifier(completer llm.Completer, format string) *Classifier {
	if format != FormatJSON {
		format = FormatLabel
	}
	return &Classifier{llm: completer, format: format}
}

// Classify never fails: empty input, a failed call or unusable output all
// yield AnswerQuestion.
func (c *Classifier) Classify(ctx context.Context, query string) Intent {
	query = strings.TrimSpace(query)
	if query == "" {
		return Intent{Kind: AnswerQuestion}
	}

	prompt := fmt.Sprintf(labelPrompt, query)
	if c.format == FormatJSON {
		prompt = fmt.Sprintf(jsonPrompt, query)
	}

	output, err := c.llm.Complete(ctx, prompt)
	if err != nil {
		metrics.ClassifierFallbacks.WithLabelValues("call_failed").Inc()
		logger.FromContext(ctx).Warn("Intent classification call failed, defaulting to answer_question", zap.Error(err))
		return Intent{Kind: AnswerQuestion}
	}

	var in Intent
	if c.format == FormatJSON {
		in, err = parseJSON(output)
	} else {
		in, err = parseLabel(output)
	}
	if err != nil {
		metrics.ClassifierFallbacks.WithLabelValues("unparsable").Inc()
		logger.FromContext(ctx).Warn("Unusable classifier output, defaulting to answer_question",
			zap.String("output", output),
			zap.Error(err),
		)
		return Intent{Kind: AnswerQuestion}
	}

	if in.Kind == RemoveDocument && in.DocID == "" {
		in.DocID = pipeArgument(query, "remove")
	}

	logger.FromContext(ctx).Debug("Intent classified",
		zap.String("intent", in.Kind.String()),
		zap.String("doc_id", in.DocID),
	)
	return in
}

func parseLabel(output string) (Intent, error) {
	label := strings.TrimSpace(output)
	if i := strings.IndexAny(label, "\r\n"); i >= 0 {
		label = label[:i]
	}
	label = strings.Trim(label, " \t\"'`*.:;,!")

	kind, ok := ParseKind(label)
	if !ok {
		return Intent{}, fmt.Errorf("%w: label %q", apperr.ErrClassificationAmbiguous, label)
	}
	return Intent{Kind: kind}, nil
}

type rawIntent struct {
	Intent  string `json:"intent"`
	DocID   string `json:"doc_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func parseJSON(output string) (Intent, error) {
	start := strings.Index(output, "{")
	if start < 0 {
		return Intent{}, fmt.Errorf("%w: no JSON object in output", apperr.ErrClassificationAmbiguous)
	}

	// Decode only the first object; models often append prose after it.
	var raw rawIntent
	if err := json.NewDecoder(strings.NewReader(output[start:])).Decode(&raw); err != nil {
		return Intent{}, fmt.Errorf("%w: %w", apperr.ErrClassificationAmbiguous, err)
	}

	kind, ok := ParseKind(raw.Intent)
	if !ok {
		return Intent{}, fmt.Errorf("%w: intent %q", apperr.ErrClassificationAmbiguous, raw.Intent)
	}
	return Intent{
		Kind:    kind,
		DocID:   strings.TrimSpace(raw.DocID),
		Title:   strings.TrimSpace(raw.Title),
		Content: raw.Content,
	}, nil
}

// pipeArgument returns the argument of a "<command> | <arg>" input, or "" if
// query is not in that form.
func pipeArgument(query, command string) string {
	head, arg, found := strings.Cut(query, "|")
	if !found || !strings.EqualFold(strings.TrimSpace(head), command) {
		return ""
	}
	return strings.TrimSpace(arg)
}
