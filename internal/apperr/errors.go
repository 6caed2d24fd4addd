// Package apperr holds the error kinds shared by the agent's packages and the
// rules for turning them into text a user can read.
package apperr

import (
	"context"
	"errors"
	"fmt"

	"github.com/rag-agent/backend/pkg/circuitbreaker"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrNotFound                = errors.New("not found")
	ErrTimeout                 = errors.New("collaborator timeout")
	ErrUnavailable             = errors.New("collaborator unavailable")
	ErrClassificationAmbiguous = errors.New("classification ambiguous")
)

// Collaborator tags a failure returned by the store, model or embedder with
// ErrTimeout or ErrUnavailable. Errors that already carry a kind keep it.
func Collaborator(op string, err error) error {
	if err == nil {
		return nil
	}
	if hasSentinel(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func hasSentinel(err error) bool {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrTimeout, ErrUnavailable, ErrClassificationAmbiguous} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Kind returns the sentinel err belongs to, or nil for unclassified errors.
func Kind(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation):
		return ErrValidation
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, circuitbreaker.ErrCircuitOpen),
		errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return ErrUnavailable
	case errors.Is(err, ErrClassificationAmbiguous):
		return ErrClassificationAmbiguous
	default:
		return nil
	}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTransient reports whether retrying the call could succeed.
func IsTransient(err error) bool {
	k := Kind(err)
	return k == ErrTimeout || k == ErrUnavailable
}

// UserMessage renders err as a sentence suitable for an end user. Internal
// details are left out.
func UserMessage(err error) string {
	switch Kind(err) {
	case ErrTimeout:
		return "Sorry, a backend service took too long to respond. Please try again in a moment."
	case ErrUnavailable:
		return "Sorry, a backend service is currently unavailable. Please try again later."
	case ErrValidation:
		return "Sorry, the request is missing required information and could not be processed."
	case ErrNotFound:
		return "Sorry, the requested document could not be found."
	default:
		return "Sorry, something went wrong while processing your request. Please try again."
	}
}
