package llm

import (
	"context"
)

// Completer defines the interface for LLM completion backends
type Completer interface {
	// Complete sends a prompt to the model and returns the raw text response
	Complete(ctx context.Context, prompt string) (string, error)
	// Close closes the client and releases resources
	Close() error
}
