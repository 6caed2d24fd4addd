package workflow

import (
	"github.com/rag-agent/backend/internal/intent"
	"github.com/rag-agent/backend/internal/retrieval"
	"github.com/rag-agent/backend/internal/store"
	"github.com/rag-agent/backend/internal/summarize"
)

type Node string

const (
	NodeClassifyIntent     Node = "classify_intent"
	NodeRemoveDocument     Node = "remove_document"
	NodeSearchDocument     Node = "search_document"
	NodeSummarizeDocuments Node = "summarize_documents"
	NodeMergeSummaries     Node = "merge_summaries"
	NodeAnswerQuestion     Node = "answer_question"
	NodeEnd                Node = "end"
)

// State is the context of one request. Nodes never modify a State in place;
// each with method returns a new value, copying any slice it touches.
type State struct {
	RequestID     string
	UserInput     string
	Intent        intent.Intent
	RetrievedDocs []retrieval.SearchResult
	Document      *store.Document
	Summaries     []summarize.Summary
	MergedContext string
	Response      string
	Trace         []Node
}

func newState(requestID, input string) State {
	return State{RequestID: requestID, UserInput: input}
}

func (s State) withIntent(in intent.Intent) State {
	s.Intent = in
	return s
}

func (s State) withRetrieved(docs []retrieval.SearchResult, doc *store.Document) State {
	s.RetrievedDocs = append([]retrieval.SearchResult(nil), docs...)
	if doc != nil {
		d := *doc
		d.Embedding = append([]float32(nil), doc.Embedding...)
		s.Document = &d
	} else {
		s.Document = nil
	}
	return s
}

func (s State) withSummaries(summaries []summarize.Summary) State {
	s.Summaries = append([]summarize.Summary(nil), summaries...)
	return s
}

func (s State) withMergedContext(merged string) State {
	s.MergedContext = merged
	return s
}

func (s State) withResponse(response string) State {
	s.Response = response
	return s
}

func (s State) visit(n Node) State {
	trace := make([]Node, len(s.Trace), len(s.Trace)+1)
	copy(trace, s.Trace)
	s.Trace = append(trace, n)
	return s
}
