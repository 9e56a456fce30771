// Package vectorstore indexes conversation turns for semantic retrieval,
// scoped per conversation.
package vectorstore

import "context"

// Document is one indexable chunk of conversation text.
type Document struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float32 `json:"score,omitempty"`

	// Metadata carries flat string fields such as conversationId, messageId
	// and role that retrieval can filter on.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Index stores documents with their embeddings and retrieves the closest ones
// to a query. Filter entries must all match a document's metadata.
type Index interface {
	AddDocuments(ctx context.Context, documents []Document) error
	Retrieve(ctx context.Context, query string, limit int, filter map[string]string) ([]Document, error)
}

// MetaConversationID is the metadata key retrieval filters on to keep search
// scoped to a single conversation.
const MetaConversationID = "conversationId"

// MetaMessageID links a document back to its source message.
const MetaMessageID = "messageId"

// MetaRole records which side of the exchange the chunk came from.
const MetaRole = "role"
