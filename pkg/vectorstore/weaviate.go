package vectorstore

import (
	"context"
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/go-go-golems/helix/pkg/embeddings"
)

// DefaultClassName is the weaviate class conversation chunks are stored in.
const DefaultClassName = "ConversationChunk"

// WeaviateIndex stores documents in a weaviate class with externally computed
// vectors (vectorizer "none").
type WeaviateIndex struct {
	client    *weaviate.Client
	provider  embeddings.Provider
	className string
}

type WeaviateOption func(*WeaviateIndex)

func WithClassName(className string) WeaviateOption {
	return func(i *WeaviateIndex) {
		i.className = className
	}
}

func NewWeaviateIndex(client *weaviate.Client, provider embeddings.Provider, options ...WeaviateOption) *WeaviateIndex {
	i := &WeaviateIndex{
		client:    client,
		provider:  provider,
		className: DefaultClassName,
	}
	for _, o := range options {
		o(i)
	}
	return i
}

var _ Index = (*WeaviateIndex)(nil)

// EnsureSchema creates the class if it does not exist yet.
func (i *WeaviateIndex) EnsureSchema(ctx context.Context) error {
	exists, err := i.client.Schema().ClassExistenceChecker().WithClassName(i.className).Do(ctx)
	if err != nil {
		return errors.Wrap(err, "check class existence")
	}
	if exists {
		return nil
	}
	class := &models.Class{
		Class:      i.className,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "content", DataType: []string{"text"}},
			{Name: MetaConversationID, DataType: []string{"text"}},
			{Name: MetaMessageID, DataType: []string{"text"}},
			{Name: MetaRole, DataType: []string{"text"}},
		},
	}
	err = i.client.Schema().ClassCreator().WithClass(class).Do(ctx)
	return errors.Wrap(err, "create class")
}

func (i *WeaviateIndex) AddDocuments(ctx context.Context, documents []Document) error {
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

	objects := make([]*models.Object, len(documents))
	for idx, doc := range documents {
		id := doc.ID
		if id == "" {
			id = uuid.NewString()
		}
		properties := map[string]interface{}{"content": doc.Content}
		for k, v := range doc.Metadata {
			properties[k] = v
		}
		objects[idx] = &models.Object{
			Class:      i.className,
			ID:         strfmt.UUID(id),
			Properties: properties,
			Vector:     vectors[idx],
		}
	}

	responses, err := i.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return errors.Wrap(err, "batch insert")
	}
	for _, r := range responses {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return errors.Errorf("batch insert object %s: %s", r.ID, r.Result.Errors.Error[0].Message)
		}
	}
	log.Debug().Int("count", len(documents)).Str("class", i.className).Msg("documents indexed")
	return nil
}

func (i *WeaviateIndex) Retrieve(ctx context.Context, query string, limit int, filter map[string]string) ([]Document, error) {
	queryVector, err := i.provider.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "embed query")
	}

	fields := []graphql.Field{
		{Name: "content"},
		{Name: MetaConversationID},
		{Name: MetaMessageID},
		{Name: MetaRole},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}}},
	}

	builder := i.client.GraphQL().Get().
		WithClassName(i.className).
		WithFields(fields...).
		WithNearVector(i.client.GraphQL().NearVectorArgBuilder().WithVector(queryVector)).
		WithLimit(limit)

	if where := buildWhere(filter); where != nil {
		builder = builder.WithWhere(where)
	}

	resp, err := builder.Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "graphql get")
	}
	if len(resp.Errors) > 0 {
		return nil, errors.Errorf("graphql get: %s", resp.Errors[0].Message)
	}
	return parseGetResponse(resp.Data, i.className)
}

func buildWhere(filter map[string]string) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder
	for key, value := range filter {
		operands = append(operands, filters.Where().
			WithPath([]string{key}).
			WithOperator(filters.Equal).
			WithValueText(value))
	}
	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return filters.Where().WithOperator(filters.And).WithOperands(operands)
	}
}

func parseGetResponse(data map[string]models.JSONObject, className string) ([]Document, error) {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil, errors.New("malformed graphql response: missing Get")
	}
	rows, ok := get[className].([]interface{})
	if !ok {
		return nil, nil
	}

	documents := make([]Document, 0, len(rows))
	for _, row := range rows {
		obj, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		doc := Document{Metadata: map[string]string{}}
		if content, ok := obj["content"].(string); ok {
			doc.Content = content
		}
		for _, key := range []string{MetaConversationID, MetaMessageID, MetaRole} {
			if v, ok := obj[key].(string); ok && v != "" {
				doc.Metadata[key] = v
			}
		}
		if additional, ok := obj["_additional"].(map[string]interface{}); ok {
			if id, ok := additional["id"].(string); ok {
				doc.ID = id
			}
			if distance, ok := additional["distance"].(float64); ok {
				doc.Score = 1 - float32(distance)
			}
		}
		documents = append(documents, doc)
	}
	return documents, nil
}

// NewWeaviateClient builds a client for the given host, e.g. "localhost:8080".
func NewWeaviateClient(scheme, host string) (*weaviate.Client, error) {
	if scheme == "" {
		scheme = "http"
	}
	client, err := weaviate.NewClient(weaviate.Config{Scheme: scheme, Host: host})
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("weaviate client for %s://%s", scheme, host))
	}
	return client, nil
}
