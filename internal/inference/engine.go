// Package inference defines the text-generation engine interface, an
// OpenAI-compatible client implementation, and the exclusive gate that
// serializes every model call against the single inference resource.
package inference

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Engine is the narrow interface the pipeline consumes. Implementations
// must be safely callable repeatedly in sequence; concurrency control is
// the gate's job, not the engine's.
type Engine interface {
	// Generate produces text for a system/user prompt pair.
	Generate(ctx context.Context, req *Request) (*Result, error)

	// Name identifies the engine (e.g. "openai", "mock").
	Name() string
}

// Request carries one generation call's parameters.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Result is a completed generation.
type Result struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
}

// ErrorKind classifies engine failures. All kinds are recoverable at the
// unit/batch level; the pipeline treats the failed call as an empty result.
type ErrorKind string

const (
	KindTimeout ErrorKind = "timeout"
	KindEmpty   ErrorKind = "empty_output"
	KindBackend ErrorKind = "backend"
)

// Error is a classified engine failure.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inference %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("inference %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified engine failure.
func NewError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// IsInferenceError reports whether err is a classified engine failure.
func IsInferenceError(err error) bool {
	var ie *Error
	return errors.As(err, &ie)
}
