package tools

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const conversationIDKey ctxKey = "helix-conversation-id"

// WithConversationID scopes tool executions to a conversation. Tools such as
// the history search read it back to constrain retrieval.
func WithConversationID(ctx context.Context, conversationID uuid.UUID) context.Context {
	return context.WithValue(ctx, conversationIDKey, conversationID)
}

func ConversationIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(conversationIDKey).(uuid.UUID)
	return id, ok
}
