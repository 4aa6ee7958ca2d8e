// Package embeddings provides the embedding driver interface and the
// two shipped drivers: OpenAI (1536d) and Ollama (768d). The configured
// driver fixes the vector width for the whole deployment.
package embeddings

import (
	"context"

	"github.com/actionchat/actionchat/pkg/models"
)

// Driver produces dense vectors for operation descriptions and query
// text. Implementations must be safe for concurrent use.
type Driver interface {
	// Kind returns the driver identifier (e.g. "openai", "ollama").
	Kind() string

	// Dimensions returns the vector width this driver produces.
	Dimensions() int

	// MaxBatchSize returns the max texts per Embed call.
	MaxBatchSize() int

	// Embed generates vector embeddings for a batch of texts,
	// preserving input order.
	Embed(ctx context.Context, texts []string) ([][]float64, error)

	// HealthCheck verifies the provider is reachable.
	HealthCheck(ctx context.Context) error
}

// embedTextCap bounds the text sent to the provider. Generous for the
// description field while staying far under every provider's token
// ceiling.
const embedTextCap = 1024

// OperationText builds the canonical embedding input for an operation:
// "{name}: {description} ({method} {path})".
func OperationText(op *models.Operation) string {
	path := op.Path
	if op.Method == models.MethodMCP {
		path = op.MCPToolName
	}
	text := op.Name + ": " + op.Description + " (" + op.Method + " " + path + ")"
	if len(text) > embedTextCap {
		text = text[:embedTextCap]
	}
	return text
}
