package summarize

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rag-agent/backend/internal/apperr"
	"github.com/rag-agent/backend/internal/retrieval"
)

// echoCompleter answers with the first line after "Title: " and fails for
// prompts containing failOn.
type echoCompleter struct {
	mu       sync.Mutex
	prompts  []string
	failOn   string
	err      error
	delay    time.Duration
	inFlight int32
	peak     int32
}

func (e *echoCompleter) Complete(_ context.Context, prompt string) (string, error) {
	n := atomic.AddInt32(&e.inFlight, 1)
	defer atomic.AddInt32(&e.inFlight, -1)
	for {
		p := atomic.LoadInt32(&e.peak)
		if n <= p || atomic.CompareAndSwapInt32(&e.peak, p, n) {
			break
		}
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}

	e.mu.Lock()
	e.prompts = append(e.prompts, prompt)
	e.mu.Unlock()

	if e.err != nil {
		return "", e.err
	}
	if e.failOn != "" && strings.Contains(prompt, e.failOn) {
		return "", apperr.Collaborator("complete", errors.New("boom"))
	}
	if _, rest, ok := strings.Cut(prompt, "Title: "); ok {
		line, _, _ := strings.Cut(rest, "\n")
		return " summary of " + line + " ", nil
	}
	return "merged", nil
}

func docs(titles ...string) []retrieval.SearchResult {
	out := make([]retrieval.SearchResult, len(titles))
	for i, t := range titles {
		out[i] = retrieval.SearchResult{DocID: "id-" + t, Title: t, Content: "content of " + t}
	}
	return out
}

func TestSummarizeKeepsOrder(t *testing.T) {
	s := NewSummarizer(&echoCompleter{delay: time.Millisecond}, 3)

	got := s.Summarize(context.Background(), docs("a", "b", "c", "d", "e"))
	require.Len(t, got, 5)
	for i, title := range []string{"a", "b", "c", "d", "e"} {
		assert.Equal(t, "id-"+title, got[i].DocID)
		assert.Equal(t, "summary of "+title, got[i].Text)
	}
}

func TestSummarizeRespectsConcurrencyLimit(t *testing.T) {
	completer := &echoCompleter{delay: 5 * time.Millisecond}
	s := NewSummarizer(completer, 2)

	s.Summarize(context.Background(), docs("a", "b", "c", "d", "e", "f"))
	assert.LessOrEqual(t, atomic.LoadInt32(&completer.peak), int32(2))
}

func TestSummarizeFailureLeavesEmptySlot(t *testing.T) {
	s := NewSummarizer(&echoCompleter{failOn: "Title: b"}, 0)

	got := s.Summarize(context.Background(), docs("a", "b", "c"))
	require.Len(t, got, 3)
	assert.Equal(t, "summary of a", got[0].Text)
	assert.Equal(t, "id-b", got[1].DocID)
	assert.Empty(t, got[1].Text)
	assert.Equal(t, "summary of c", got[2].Text)
}

func TestSummarizeEmpty(t *testing.T) {
	completer := &echoCompleter{}
	got := NewSummarizer(completer, 1).Summarize(context.Background(), nil)
	assert.Empty(t, got)
	assert.Empty(t, completer.prompts)
}

func TestMergeJoinsNonEmptyInOrder(t *testing.T) {
	completer := &echoCompleter{}
	s := NewSummarizer(completer, 1)

	merged, err := s.Merge(context.Background(), []Summary{{Text: "first"}, {Text: ""}, {Text: "third"}})
	require.NoError(t, err)
	assert.Equal(t, "merged", merged)
	require.Len(t, completer.prompts, 1)
	assert.Contains(t, completer.prompts[0], "Summaries:\nfirst\nthird\n")
}

func TestMergeWithNothingSkipsModel(t *testing.T) {
	completer := &echoCompleter{}
	s := NewSummarizer(completer, 1)

	for _, in := range [][]Summary{nil, {}, {{DocID: "x"}, {DocID: "y"}}} {
		merged, err := s.Merge(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, NoRelevantInformation, merged)
	}
	assert.Empty(t, completer.prompts)
}

func TestMergeFailureIsReturned(t *testing.T) {
	s := NewSummarizer(&echoCompleter{err: apperr.Collaborator("complete", context.DeadlineExceeded)}, 1)

	_, err := s.Merge(context.Background(), []Summary{{Text: "only"}})
	assert.ErrorIs(t, err, apperr.ErrTimeout)
}
