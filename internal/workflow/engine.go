// Package workflow routes one user request through classification,
// retrieval, optional summarization and answering.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rag-agent/backend/internal/apperr"
	"github.com/rag-agent/backend/internal/intent"
	"github.com/rag-agent/backend/internal/llm"
	"github.com/rag-agent/backend/internal/metrics"
	"github.com/rag-agent/backend/internal/retrieval"
	"github.com/rag-agent/backend/internal/store"
	"github.com/rag-agent/backend/internal/summarize"
	"github.com/rag-agent/backend/pkg/logger"
)

const (
	EmptyInputResponse = "Please enter a question or a command."
	NoMatchesResponse  = "No matching documents found."
	MissingIDResponse  = "Error: Document ID is required to remove a document."
)

const qaPrompt = `
You are a helpful assistant. Use the provided context to answer the question as accurately as possible.

Context:
%s

Question:
%s

Instructions:
- If the answer is clearly stated in the context, provide a direct and concise answer.
- If the question is relevant to the context but the answer is **not fully available**, say so and explain briefly.
- If the question is **not related** to the context at all, politely state that the context does not contain relevant information.

Answer:
`

type Classifier interface {
	Classify(ctx context.Context, query string) intent.Intent
}

type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]retrieval.SearchResult, error)
	FindDocument(ctx context.Context, query string, k int) (*retrieval.DocumentMatch, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, docs []retrieval.SearchResult) []summarize.Summary
	Merge(ctx context.Context, summaries []summarize.Summary) (string, error)
}

type Remover interface {
	Delete(ctx context.Context, sel store.Selector) (int, error)
}

type Options struct {
	UseSummarization bool
	TopK             int
	// Timeout bounds a whole request. Zero leaves it to the caller's context.
	Timeout time.Duration
}

type Engine struct {
	classifier Classifier
	retriever  Retriever
	summarizer Summarizer
	llm        llm.Completer
	remover    Remover
	opts       Options
	steps      map[Node]step
}

type step func(ctx context.Context, s State) (State, Node, error)

func NewEngine(classifier Classifier, retriever Retriever, summarizer Summarizer, completer llm.Completer, remover Remover, opts Options) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = retrieval.DefaultTopK
	}
	e := &Engine{
		classifier: classifier,
		retriever:  retriever,
		summarizer: summarizer,
		llm:        completer,
		remover:    remover,
		opts:       opts,
	}
	e.steps = map[Node]step{
		NodeClassifyIntent:     e.classifyIntent,
		NodeRemoveDocument:     e.removeDocument,
		NodeSearchDocument:     e.searchDocument,
		NodeSummarizeDocuments: e.summarizeDocuments,
		NodeMergeSummaries:     e.mergeSummaries,
		NodeAnswerQuestion:     e.answerQuestion,
	}
	return e
}

// Run processes input and returns the response text, which is never empty.
func (e *Engine) Run(ctx context.Context, input string) string {
	return e.Execute(ctx, input).Response
}

// Execute processes input and returns the final state. Failures, including
// panics in a node, become a plain-language Response.
func (e *Engine) Execute(ctx context.Context, input string) (final State) {
	start := time.Now()
	st := newState(uuid.New().String(), input)
	outcome := "ok"
	ctx = logger.ContextWith(ctx, zap.String("request_id", st.RequestID))
	log := logger.FromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Workflow panicked",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			outcome = "panic"
			final = st.withResponse(apperr.UserMessage(fmt.Errorf("panic: %v", r)))
		}
		if final.Response == "" {
			final = final.withResponse(apperr.UserMessage(nil))
		}

		metrics.WorkflowRuns.WithLabelValues(final.Intent.Kind.String(), outcome).Inc()
		metrics.WorkflowDuration.Observe(time.Since(start).Seconds())
		log.Info("Workflow finished",
			zap.String("intent", final.Intent.Kind.String()),
			zap.String("outcome", outcome),
			zap.Int("retrieved", len(final.RetrievedDocs)),
			zap.Duration("duration", time.Since(start)),
		)
	}()

	if strings.TrimSpace(input) == "" {
		outcome = "empty_input"
		return st.withResponse(EmptyInputResponse)
	}

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	node := NodeClassifyIntent
	for node != NodeEnd {
		st = st.visit(node)

		run, ok := e.steps[node]
		if !ok {
			outcome = "failed"
			return st.withResponse(apperr.UserMessage(fmt.Errorf("unknown workflow node %q", node)))
		}

		nodeStart := time.Now()
		next, nextNode, err := run(ctx, st)
		metrics.NodeDuration.WithLabelValues(string(node)).Observe(time.Since(nodeStart).Seconds())

		if err != nil {
			log.Error("Workflow node failed",
				zap.String("node", string(node)),
				zap.Error(err),
			)
			outcome = "failed"
			return st.withResponse(apperr.UserMessage(err))
		}

		log.Debug("Workflow transition",
			zap.String("from", string(node)),
			zap.String("to", string(nextNode)),
		)
		st, node = next, nextNode
	}

	return st
}

func (e *Engine) classifyIntent(ctx context.Context, s State) (State, Node, error) {
	in := e.classifier.Classify(ctx, s.UserInput)
	s = s.withIntent(in)

	switch in.Kind {
	case intent.RemoveDocument:
		return s, NodeRemoveDocument, nil
	default:
		// Answering needs retrieval first, so questions go through search too.
		return s, NodeSearchDocument, nil
	}
}

func (e *Engine) removeDocument(ctx context.Context, s State) (State, Node, error) {
	id := s.Intent.DocID
	if id == "" {
		return s.withResponse(MissingIDResponse), NodeEnd, nil
	}

	n, err := e.remover.Delete(ctx, store.ByID(id))
	switch {
	case n == 0 && err == nil, apperr.IsNotFound(err):
		return s.withResponse(fmt.Sprintf("Document '%s' not found.", id)), NodeEnd, nil
	case err != nil:
		logger.FromContext(ctx).Error("Failed to remove document", zap.String("doc_id", id), zap.Error(err))
		return s.withResponse(fmt.Sprintf("Failed to remove document '%s': %s.", id, plainReason(err))), NodeEnd, nil
	}

	metrics.DocumentsRemoved.Add(float64(n))
	logger.FromContext(ctx).Info("Document removed", zap.String("doc_id", id), zap.Int("count", n))
	return s.withResponse(fmt.Sprintf("Successfully removed document '%s'.", id)), NodeEnd, nil
}

// searchDocument treats a failed search as an empty result.
func (e *Engine) searchDocument(ctx context.Context, s State) (State, Node, error) {
	var (
		docs []retrieval.SearchResult
		doc  *store.Document
		err  error
	)
	if s.Intent.Kind == intent.SearchDocument {
		var match *retrieval.DocumentMatch
		match, err = e.retriever.FindDocument(ctx, s.UserInput, e.opts.TopK)
		if match != nil {
			docs, doc = match.Hits, match.Document
		}
	} else {
		docs, err = e.retriever.Search(ctx, s.UserInput, e.opts.TopK)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return s, NodeEnd, err
		}
		logger.FromContext(ctx).Warn("Retrieval failed, continuing with no documents", zap.Error(err))
		docs, doc = nil, nil
	}
	s = s.withRetrieved(docs, doc)

	switch {
	case e.opts.UseSummarization:
		return s, NodeSummarizeDocuments, nil
	case s.Intent.Kind == intent.AnswerQuestion:
		return s, NodeAnswerQuestion, nil
	default:
		return s.withResponse(listMatches(docs)), NodeEnd, nil
	}
}

func (e *Engine) summarizeDocuments(ctx context.Context, s State) (State, Node, error) {
	return s.withSummaries(e.summarizer.Summarize(ctx, s.RetrievedDocs)), NodeMergeSummaries, nil
}

func (e *Engine) mergeSummaries(ctx context.Context, s State) (State, Node, error) {
	merged, err := e.summarizer.Merge(ctx, s.Summaries)
	if err != nil {
		return s, NodeEnd, err
	}
	return s.withMergedContext(merged), NodeAnswerQuestion, nil
}

func (e *Engine) answerQuestion(ctx context.Context, s State) (State, Node, error) {
	var docContext string
	if e.opts.UseSummarization {
		docContext = s.MergedContext
		if docContext == summarize.NoRelevantInformation {
			docContext = ""
		}
	} else {
		docContext = formatContext(s.RetrievedDocs)
	}
	if strings.TrimSpace(docContext) == "" {
		return s.withResponse(summarize.NoRelevantInformation), NodeEnd, nil
	}

	answer, err := e.llm.Complete(ctx, fmt.Sprintf(qaPrompt, docContext, strings.TrimSpace(s.UserInput)))
	if err != nil {
		return s, NodeEnd, err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = summarize.NoRelevantInformation
	}
	return s.withResponse(answer), NodeEnd, nil
}

func formatContext(docs []retrieval.SearchResult) string {
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = fmt.Sprintf("Document ID: %s\nTitle: %s\n\nContent:\n%s\n", d.DocID, d.Title, d.Content)
	}
	return strings.Join(parts, "\n---\n")
}

// listMatches renders one line per distinct document, in rank order.
func listMatches(docs []retrieval.SearchResult) string {
	if len(docs) == 0 {
		return NoMatchesResponse
	}

	seen := make(map[string]struct{}, len(docs))
	var lines []string
	for _, d := range docs {
		if _, ok := seen[d.DocID]; ok {
			continue
		}
		seen[d.DocID] = struct{}{}
		lines = append(lines, fmt.Sprintf("- %s (%s)", d.Title, d.DocID))
	}
	return fmt.Sprintf("Found %d matching document(s):\n%s", len(lines), strings.Join(lines, "\n"))
}

func plainReason(err error) string {
	switch apperr.Kind(err) {
	case apperr.ErrTimeout:
		return "the document store did not respond in time"
	case apperr.ErrUnavailable:
		return "the document store is unavailable"
	case apperr.ErrValidation:
		return "the document ID is not valid"
	default:
		return "an unexpected error occurred"
	}
}
