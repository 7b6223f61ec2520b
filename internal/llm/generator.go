// Package llm turns prompts into Anton's replies through a pluggable text
// generation backend and maps every backend failure to user-safe text.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Request is a single generation call.
type Request struct {
	Prompt    string
	MaxTokens int
}

// Generator is a stateless text generation backend.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Name() string
}

var (
	// ErrUnauthenticated means the backend rejected the configured credential.
	ErrUnauthenticated = errors.New("generation credential rejected")
	// ErrTimeout means the backend did not answer in time.
	ErrTimeout = errors.New("generation timed out")
	// ErrUnavailable covers every other backend failure.
	ErrUnavailable = errors.New("generation unavailable")
)

// MissingCredentialError is returned before any network call when the
// backend has no credential configured.
type MissingCredentialError struct {
	Variable string
	Provider string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("%s environment variable not set", e.Variable)
}

// Outcome labels the result of a generation call.
type Outcome string

const (
	OutcomeOK                Outcome = "ok"
	OutcomeMissingCredential Outcome = "missing_credential"
	OutcomeUnauthenticated   Outcome = "unauthenticated"
	OutcomeTimeout           Outcome = "timeout"
	OutcomeUnavailable       Outcome = "unavailable"
)

// Classify maps an error returned by a Generator to an Outcome.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	var missing *MissingCredentialError
	if errors.As(err, &missing) {
		return OutcomeMissingCredential
	}
	if errors.Is(err, ErrUnauthenticated) {
		return OutcomeUnauthenticated
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout
	}
	return OutcomeUnavailable
}
