package tools

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/go-go-golems/helix/pkg/vectorstore"
)

// HistorySearchLimit is how many past exchanges the history search returns.
const HistorySearchLimit = 3

// HistorySearchInput is a semantic query over the current conversation.
type HistorySearchInput struct {
	Query string `json:"query" jsonschema:"description=What to look for in the conversation history"`
}

// NewHistorySearchTool searches earlier parts of the current conversation.
// The conversation scope comes from the execution context, never from the
// model's arguments.
func NewHistorySearchTool(index vectorstore.Index) Definition {
	return NewTool("history_vector_search", "Search earlier parts of this conversation for relevant context.",
		func(ctx context.Context, input HistorySearchInput) (interface{}, error) {
			conversationID, ok := ConversationIDFromContext(ctx)
			if !ok {
				return nil, errors.New("no conversation in scope")
			}

			docs, err := index.Retrieve(ctx, input.Query, HistorySearchLimit, map[string]string{
				vectorstore.MetaConversationID: conversationID.String(),
			})
			if err != nil {
				return nil, errors.Wrap(err, "retrieve history")
			}
			if len(docs) == 0 {
				return "nothing relevant found in the conversation history", nil
			}

			var sb bytes.Buffer
			for _, doc := range docs {
				role := doc.Metadata[vectorstore.MetaRole]
				if role == "" {
					role = "unknown"
				}
				fmt.Fprintf(&sb, "[%s] %s\n", role, doc.Content)
			}
			return sb.String(), nil
		})
}
