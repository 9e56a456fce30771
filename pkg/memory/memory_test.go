package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/go-go-golems/helix/pkg/embeddings"
)

// wordProvider embeds known words on fixed axes so similarity is predictable.
type wordProvider struct{}

func (wordProvider) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	switch text {
	case "cats", "likes cats":
		return []float32{1, 0, 0}, nil
	case "dogs", "likes dogs":
		return []float32{0, 1, 0}, nil
	default:
		return []float32{0, 0, 1}, nil
	}
}

func (p wordProvider) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		e, err := p.GenerateEmbedding(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func (wordProvider) GetModel() embeddings.EmbeddingModel {
	return embeddings.EmbeddingModel{Name: "word", Dimensions: 3}
}

func testMemoryStore(t *testing.T, options ...Option) *DBStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	s, err := NewDBStore(db, wordProvider{}, options...)
	require.NoError(t, err)
	return s
}

func TestSearchRanksBySimilarity(t *testing.T) {
	s := testMemoryStore(t)
	ctx := context.Background()
	conversationID := uuid.New()

	_, err := s.Upsert(ctx, "alice", conversationID, "likes cats")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	s.dedupWindow = 0
	_, err = s.Upsert(ctx, "alice", conversationID, "likes dogs")
	require.NoError(t, err)

	hits, err := s.Search(ctx, "alice", "cats", 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "likes cats", hits[0].Content)
	assert.InDelta(t, 1.0, hits[0].Score, 0.001)
}

func TestSearchScopedToUser(t *testing.T) {
	s := testMemoryStore(t, WithDedupWindow(0))
	ctx := context.Background()

	_, err := s.Upsert(ctx, "alice", uuid.New(), "likes cats")
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "bob", uuid.New(), "likes dogs")
	require.NoError(t, err)

	hits, err := s.Search(ctx, "bob", "cats", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "likes dogs", hits[0].Content)
}

func TestSearchCreatedBeforeCut(t *testing.T) {
	s := testMemoryStore(t, WithDedupWindow(0))
	ctx := context.Background()

	early, err := s.Upsert(ctx, "alice", uuid.New(), "likes cats")
	require.NoError(t, err)

	cut := early.CreatedAt.Add(time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	_, err = s.Upsert(ctx, "alice", uuid.New(), "likes dogs")
	require.NoError(t, err)

	hits, err := s.Search(ctx, "alice", "dogs", 10, &cut)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "likes cats", hits[0].Content)
}

func TestUpsertDedupWindow(t *testing.T) {
	s := testMemoryStore(t, WithDedupWindow(time.Minute))
	ctx := context.Background()
	conversationID := uuid.New()

	first, err := s.Upsert(ctx, "alice", conversationID, "likes cats")
	require.NoError(t, err)
	second, err := s.Upsert(ctx, "alice", conversationID, "likes dogs")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "a write inside the window updates in place")

	all, err := s.ListAll(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "likes dogs", all[0].Content)
}

