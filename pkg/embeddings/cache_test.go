package embeddings

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	calls atomic.Int64
}

func (p *countingProvider) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	p.calls.Add(1)
	return []float32{float32(len(text)), 1}, nil
}

func (p *countingProvider) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		e, _ := p.GenerateEmbedding(ctx, t)
		out[i] = e
	}
	return out, nil
}

func (p *countingProvider) GetModel() EmbeddingModel {
	return EmbeddingModel{Name: "counting", Dimensions: 2}
}

func TestCachedProviderReusesEmbeddings(t *testing.T) {
	inner := &countingProvider{}
	cached := NewCachedProvider(inner, 10)

	ctx := context.Background()
	first, err := cached.GenerateEmbedding(ctx, "hello")
	require.NoError(t, err)
	second, err := cached.GenerateEmbedding(ctx, "hello")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.calls.Load())
}

func TestCachedProviderEvictsOldest(t *testing.T) {
	inner := &countingProvider{}
	cached := NewCachedProvider(inner, 2)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := cached.GenerateEmbedding(ctx, fmt.Sprintf("text-%d", i))
		require.NoError(t, err)
	}

	assert.Equal(t, 2, cached.Size())

	// text-0 was evicted, so requesting it again hits the provider
	_, err := cached.GenerateEmbedding(ctx, "text-0")
	require.NoError(t, err)
	assert.Equal(t, int64(4), inner.calls.Load())
}

func TestCachedProviderBatchMixesHitsAndMisses(t *testing.T) {
	inner := &countingProvider{}
	cached := NewCachedProvider(inner, 10)

	ctx := context.Background()
	_, err := cached.GenerateEmbedding(ctx, "a")
	require.NoError(t, err)

	out, err := cached.GenerateBatchEmbeddings(ctx, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	// only "b" required a provider call
	assert.Equal(t, int64(2), inner.calls.Load())
}
