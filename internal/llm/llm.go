package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrInvalidJSON is returned when the model response cannot be used as JSON.
var ErrInvalidJSON = errors.New("llm: invalid JSON from model")

// Client is the opaque language-model capability handed to stages. Stages
// that can work without a model treat a nil client as "no LLM configured"
// and fall back to their deterministic behavior.
type Client interface {
	Name() string
	// GenerateText renders the prompt and returns the raw text completion.
	GenerateText(ctx context.Context, prompt string) (string, error)
	// GenerateJSON sends the prompt plus a JSON-encoded input block and
	// requests an application/json response.
	GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error)
	Close() error
}
