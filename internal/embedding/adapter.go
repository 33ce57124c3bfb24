// Package embedding adapts an external embedding function to the indexing
// pipeline. The model itself is a black box behind the Embedder contract; the
// adapter owns input construction, token-budget truncation, and the
// transient-vs-permanent failure split the orchestrator relies on.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"

	"github.com/goodpocket/curator/pkg/models"
)

// DefaultMaxTokens caps the embedding input length.
const DefaultMaxTokens = 512

// Embedder is the external embedding function. Implementations return one
// vector per input text, all of Dimension() width.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// TransientError marks an embedding failure worth retrying on a later pass.
// Any other error from the Embedder is treated as permanent and the affected
// bookmarks are marked failed.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient embedding failure: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable embedding failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Adapter prepares bookmark text and invokes the Embedder in batches.
type Adapter struct {
	embedder  Embedder
	codec     tokenizer.Codec
	maxTokens int
}

// NewAdapter wraps an Embedder. maxTokens <= 0 selects DefaultMaxTokens.
func NewAdapter(embedder Embedder, maxTokens int) (*Adapter, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Adapter{embedder: embedder, codec: codec, maxTokens: maxTokens}, nil
}

// Dimension returns the embedding width of the underlying model.
func (a *Adapter) Dimension() int { return a.embedder.Dimension() }

// BuildText assembles the text embedded for a bookmark: title, tags, excerpt.
func BuildText(title string, tags []models.TagWeight, excerpt string) string {
	parts := make([]string, 0, 3)
	if t := strings.TrimSpace(title); t != "" {
		parts = append(parts, t)
	}
	if len(tags) > 0 {
		labels := make([]string, 0, len(tags))
		for _, tw := range tags {
			labels = append(labels, tw.Label)
		}
		parts = append(parts, strings.Join(labels, " "))
	}
	if e := strings.TrimSpace(excerpt); e != "" {
		parts = append(parts, e)
	}
	return strings.Join(parts, "\n")
}

// Truncate cuts text to the adapter's token budget.
func (a *Adapter) Truncate(text string) string {
	ids, _, err := a.codec.Encode(text)
	if err != nil || len(ids) <= a.maxTokens {
		return text
	}
	truncated, err := a.codec.Decode(ids[:a.maxTokens])
	if err != nil {
		return text
	}
	return truncated
}

// EmbedTexts truncates each input and calls the Embedder once for the batch.
// The result has one entry per input: a vector at the model's dimensionality,
// or nil when the model produced nothing usable for that input. A nil entry
// is a per-input permanent failure; callers mark that bookmark failed and
// keep going. Only a batch-level problem returns an error.
func (a *Adapter) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	prepared := make([]string, len(texts))
	for i, t := range texts {
		prepared[i] = a.Truncate(t)
	}
	vectors, err := a.embedder.Embed(ctx, prepared)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}
	dim := a.embedder.Dimension()
	for i, v := range vectors {
		if v != nil && len(v) != dim {
			// A wrong-width vector is as unusable as a missing one.
			vectors[i] = nil
		}
	}
	return vectors, nil
}
