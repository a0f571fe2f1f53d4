// Package ai isolates the generative model behind a small interface so the
// summary pipeline can be retried, mocked in tests, and pointed at a
// different backend without touching the rest of the pipeline.
package ai

import "context"

// Request carries one completion request to the model.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float32
}

// Stream yields incremental text chunks from the model. Recv returns io.EOF
// when the model is done; Close releases the upstream connection and must be
// safe to call after any Recv result.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Client is the generative model boundary. Calls are slow (seconds) and
// non-deterministic; both methods honour context cancellation.
type Client interface {
	// Complete runs a request to completion and returns the full text.
	Complete(ctx context.Context, req Request) (string, error)
	// Stream starts a request and returns the chunk stream.
	Stream(ctx context.Context, req Request) (Stream, error)
	// Model reports the backing model name for audit records.
	Model() string
}
