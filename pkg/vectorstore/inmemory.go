package vectorstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/go-go-golems/helix/pkg/embeddings"
)

// InMemoryIndex is a process-local Index for tests and single-node setups
// without a weaviate deployment.
type InMemoryIndex struct {
	provider embeddings.Provider

	mu      sync.RWMutex
	docs    []Document
	vectors [][]float32
}

func NewInMemoryIndex(provider embeddings.Provider) *InMemoryIndex {
	return &InMemoryIndex{provider: provider}
}

var _ Index = (*InMemoryIndex)(nil)

func (i *InMemoryIndex) AddDocuments(ctx context.Context, documents []Document) error {
	if len(documents) == 0 {
		return nil
	}
	texts := make([]string, len(documents))
	for idx, doc := range documents {
		texts[idx] = doc.Content
	}
	vectors, err := i.provider.GenerateBatchEmbeddings(ctx, texts)
	if err != nil {
		return errors.Wrap(err, "embed documents")
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	for idx, doc := range documents {
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		i.docs = append(i.docs, doc)
		i.vectors = append(i.vectors, vectors[idx])
	}
	return nil
}

func (i *InMemoryIndex) Retrieve(ctx context.Context, query string, limit int, filter map[string]string) ([]Document, error) {
	queryVector, err := i.provider.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "embed query")
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	var matches []Document
	for idx, doc := range i.docs {
		if !matchesFilter(doc, filter) {
			continue
		}
		doc.Score = embeddings.CosineSimilarity(queryVector, i.vectors[idx])
		matches = append(matches, doc)
	}
	sort.SliceStable(matches, func(a, b int) bool { return matches[a].Score > matches[b].Score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func matchesFilter(doc Document, filter map[string]string) bool {
	for key, value := range filter {
		if doc.Metadata[key] != value {
			return false
		}
	}
	return true
}
