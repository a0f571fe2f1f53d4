// Package aitest provides a scripted model client for tests.
package aitest

import (
	"context"
	"io"
	"sync"

	"github.com/clinicbridge/intake/internal/ai"
)

// Client replays a scripted response instead of calling a real model.
// Chunks drive the streaming path; batch completions return the chunks
// joined. A non-nil Err is returned by Complete and surfaces from the stream
// after FailAfter chunks.
type Client struct {
	mu sync.Mutex

	Chunks    []string
	Err       error
	FailAfter int // chunk count before Err surfaces mid-stream; 0 fails immediately

	// CompleteCalls and StreamCalls count invocations for assertions.
	CompleteCalls int
	StreamCalls   int

	// LastPrompt captures the most recent request text.
	LastPrompt string
	LastSystem string
}

var _ ai.Client = (*Client)(nil)

func (c *Client) Model() string { return "scripted-test-model" }

// Complete returns the scripted chunks joined, or the scripted error.
func (c *Client) Complete(ctx context.Context, req ai.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.CompleteCalls++
	c.LastPrompt = req.Prompt
	c.LastSystem = req.System

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.Err != nil {
		return "", c.Err
	}

	var out string
	for _, chunk := range c.Chunks {
		out += chunk
	}
	return out, nil
}

// Stream returns a stream that replays the scripted chunks.
func (c *Client) Stream(ctx context.Context, req ai.Request) (ai.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.StreamCalls++
	c.LastPrompt = req.Prompt
	c.LastSystem = req.System

	if c.Err != nil && c.FailAfter == 0 {
		return nil, c.Err
	}

	return &scriptedStream{
		ctx:       ctx,
		chunks:    c.Chunks,
		err:       c.Err,
		failAfter: c.FailAfter,
	}, nil
}

type scriptedStream struct {
	ctx       context.Context
	chunks    []string
	err       error
	failAfter int
	pos       int
	closed    bool
}

func (s *scriptedStream) Recv() (string, error) {
	if s.closed {
		return "", io.EOF
	}
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.err != nil && s.pos >= s.failAfter {
		return "", s.err
	}
	if s.pos >= len(s.chunks) {
		return "", io.EOF
	}

	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}
