package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	redis "gopkg.in/redis.v5"
)

const redisKeyPrefix = "_HELIX_EMB_"

// RedisCachedProvider caches embeddings in redis so concurrent server
// processes share one cache. Cache failures fall through to the underlying
// provider.
type RedisCachedProvider struct {
	provider Provider
	client   *redis.Client
	ttl      time.Duration
}

func NewRedisCachedProvider(provider Provider, url string, ttl time.Duration) (*RedisCachedProvider, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCachedProvider{
		provider: provider,
		client:   redis.NewClient(opts),
		ttl:      ttl,
	}, nil
}

func (c *RedisCachedProvider) key(text string) string {
	sum := sha256.Sum256([]byte(c.provider.GetModel().Name + "\x00" + text))
	return redisKeyPrefix + hex.EncodeToString(sum[:])
}

func (c *RedisCachedProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if b, err := c.client.Get(key).Bytes(); err == nil {
		var embedding []float32
		if err := json.Unmarshal(b, &embedding); err == nil {
			return embedding, nil
		}
	}

	embedding, err := c.provider.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}

	if b, err := json.Marshal(embedding); err == nil {
		if err := c.client.Set(key, b, c.ttl).Err(); err != nil {
			log.Warn().Err(err).Msg("failed to cache embedding in redis")
		}
	}
	return embedding, nil
}

func (c *RedisCachedProvider) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		embedding, err := c.GenerateEmbedding(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = embedding
	}
	return out, nil
}

func (c *RedisCachedProvider) GetModel() EmbeddingModel {
	return c.provider.GetModel()
}

var _ Provider = &RedisCachedProvider{}
