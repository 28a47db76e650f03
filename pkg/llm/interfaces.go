// Package llm wraps the external language model collaborator. The model is
// treated as an untrusted structured-output generator: everything it returns
// is schema-validated before the pipeline acts on it.
package llm

import "context"

// Client is the interface the classifier and semantic memory depend on.
// Use it for dependency injection so tests run against MockClient.
type Client interface {
	// Complete generates a single chat completion.
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error)

	// Embed generates an embedding vector for the input text.
	Embed(ctx context.Context, input string) ([]float32, error)

	// Model returns the configured model name.
	Model() string
}
