package gateway

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"

	"github.com/cascadeflow/gateway/internal/cascade"
	"github.com/cascadeflow/gateway/internal/usage"
)

// mockCompleter synthesizes deterministic responses without touching
// any upstream. Used in mock mode and for demos.
type mockCompleter struct {
	model string
}

func newMockCompleter(model string) *mockCompleter {
	return &mockCompleter{model: model}
}

func (m *mockCompleter) Name() string { return m.model }

func (m *mockCompleter) Stream(ctx context.Context, req *cascade.CompletionRequest) (<-chan cascade.Chunk, error) {
	query := req.Query()
	text := mockAnswer(query)
	inTokens := len(strings.Fields(query))
	outTokens := len(strings.Fields(text))

	ch := make(chan cascade.Chunk, 8)
	go func() {
		defer close(ch)
		for _, word := range strings.SplitAfter(text, " ") {
			select {
			case <-ctx.Done():
				return
			case ch <- cascade.Chunk{Content: word}:
			}
		}
		ch <- cascade.Chunk{Usage: &usage.Usage{InputTokens: inTokens, OutputTokens: outTokens}}
	}()
	return ch, nil
}

// mockAnswer is deterministic per query so tests can assert on content.
func mockAnswer(query string) string {
	q := strings.TrimSpace(query)
	if q == "" {
		return "Hello! How can I help you today?"
	}
	short := q
	if len(short) > 60 {
		short = short[:60]
	}
	return fmt.Sprintf("This is a mock gateway response to: %s", short)
}

// embeddingDim matches text-embedding-3-small's truncated demo size.
const embeddingDim = 384

// mockEmbedding returns a deterministic 384-dim vector per input text.
func mockEmbedding(text string) []float64 {
	h := fnv.New64a()
	h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float64, embeddingDim)
	for i := range vec {
		vec[i] = rng.Float64()*2 - 1
	}
	return vec
}
