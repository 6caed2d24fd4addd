package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rag-agent/backend/pkg/circuitbreaker"
)

func TestCollaboratorClassifiesDeadline(t *testing.T) {
	err := Collaborator("embed", fmt.Errorf("request: %w", context.DeadlineExceeded))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsTransient(err))
}

func TestCollaboratorTagsBareDeadline(t *testing.T) {
	err := Collaborator("store search", context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, ErrTimeout, Kind(err))
}

func TestCollaboratorTagsOpenCircuit(t *testing.T) {
	err := Collaborator("llm", fmt.Errorf("call: %w", circuitbreaker.ErrCircuitOpen))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
}

func TestCollaboratorDefaultsToUnavailable(t *testing.T) {
	err := Collaborator("search", errors.New("connection refused"))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCollaboratorKeepsExistingKind(t *testing.T) {
	err := Collaborator("get", fmt.Errorf("doc 7: %w", ErrNotFound))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestCollaboratorNil(t *testing.T) {
	assert.NoError(t, Collaborator("noop", nil))
}

func TestKindOfOpenCircuit(t *testing.T) {
	assert.Equal(t, ErrUnavailable, Kind(circuitbreaker.ErrCircuitOpen))
	assert.Nil(t, Kind(errors.New("plain")))
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"timeout", Collaborator("complete", context.DeadlineExceeded), "took too long"},
		{"unavailable", ErrUnavailable, "currently unavailable"},
		{"validation", Validation("title is required"), "missing required information"},
		{"not found", ErrNotFound, "could not be found"},
		{"other", errors.New("boom"), "something went wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := UserMessage(tt.err)
			assert.Contains(t, msg, tt.want)
			assert.NotContains(t, msg, "boom")
		})
	}
}
