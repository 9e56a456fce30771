// Package history assembles the model-facing context for a turn: relevant
// memories, the rolling conversation summary and the recent turns along the
// active branch of each version group.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/helix/pkg/chat"
	"github.com/go-go-golems/helix/pkg/memory"
	"github.com/go-go-golems/helix/pkg/store"
	"github.com/go-go-golems/helix/pkg/versions"
)

const (
	// DefaultLookback is how many recent version groups feed a fresh turn.
	DefaultLookback = 25
	// EditLookback is the shorter window used when regenerating an edited
	// turn, where only the context that preceded the turn matters.
	EditLookback = 5
	// MaxEntries caps the assembled history; older entries beyond the cap are
	// dropped in favor of the rolling summary.
	MaxEntries = 15
	// MemoryLimit is how many memory hits are folded into the preamble.
	MemoryLimit = 5
)

// Assembly is the assembled context for one model call. Messages alternates
// user and assistant entries in chronological order, preceded by synthetic
// preamble entries for the summary and memories when present.
type Assembly struct {
	Messages []chat.Message
	Memories []memory.ScoredEntry
	Summary  string

	// Conversation is the owned conversation row, loaded during the fan-out.
	Conversation *store.Conversation

	// EntryCount is the number of real history entries before capping, used
	// to decide when the conversation is due for summarization.
	EntryCount int
}

type Assembler struct {
	store    *store.Store
	memories memory.Store

	lookback     int
	editLookback int
	maxEntries   int
	memoryLimit  int
}

type Option func(*Assembler)

func WithLookback(lookback int) Option {
	return func(a *Assembler) {
		a.lookback = lookback
	}
}

func WithMaxEntries(maxEntries int) Option {
	return func(a *Assembler) {
		a.maxEntries = maxEntries
	}
}

func NewAssembler(s *store.Store, memories memory.Store, options ...Option) *Assembler {
	a := &Assembler{
		store:        s,
		memories:     memories,
		lookback:     DefaultLookback,
		editLookback: EditLookback,
		maxEntries:   MaxEntries,
		memoryLimit:  MemoryLimit,
	}
	for _, o := range options {
		o(a)
	}
	return a
}

// Assemble gathers context for a new turn. Memory search, the recent turn
// window and the conversation row are fetched concurrently.
func (a *Assembler) Assemble(ctx context.Context, userID string, conversationID uuid.UUID, query string) (*Assembly, error) {
	return a.assemble(ctx, userID, conversationID, query, a.lookback, nil)
}

// AssembleForEdit gathers context for regenerating an edited turn. Only
// groups created before the edited one and memories that existed at that time
// are considered, so the regeneration sees the world as it was.
func (a *Assembler) AssembleForEdit(ctx context.Context, userID string, conversationID uuid.UUID, edited *store.VersionGroup, query string) (*Assembly, error) {
	cut := edited.CreatedAt
	return a.assemble(ctx, userID, conversationID, query, a.editLookback, &cut)
}

func (a *Assembler) assemble(ctx context.Context, userID string, conversationID uuid.UUID, query string, lookback int, before *time.Time) (*Assembly, error) {
	var (
		hits         []memory.ScoredEntry
		groups       []store.VersionGroup
		conversation *store.Conversation
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hits, err = a.memories.Search(gctx, userID, query, a.memoryLimit, before)
		if err != nil {
			// degraded context beats a failed turn
			log.Warn().Err(err).Str("user_id", userID).Msg("memory search failed, continuing without memories")
			hits = nil
		}
		return nil
	})
	g.Go(func() error {
		var err error
		groups, err = a.store.RecentVersionGroups(gctx, conversationID, lookback, before)
		return errors.Wrap(err, "load recent turns")
	})
	g.Go(func() error {
		var err error
		conversation, err = a.store.GetConversation(gctx, userID, conversationID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := entriesFromGroups(groups)
	assembly := &Assembly{
		Memories:     hits,
		Summary:      conversation.HistorySummary,
		Conversation: conversation,
		EntryCount:   len(entries),
	}
	if len(entries) > a.maxEntries {
		entries = entries[len(entries)-a.maxEntries:]
	}

	if preamble := buildPreamble(conversation.HistorySummary, hits); preamble != "" {
		assembly.Messages = append(assembly.Messages, chat.NewAssistantMessage(preamble))
	}
	assembly.Messages = append(assembly.Messages, entries...)
	return assembly, nil
}

// entriesFromGroups flattens the active pair of each group into chronological
// user/assistant entries. Groups arrive newest first. Unfinalized pairs and
// pairs whose assistant message is still empty are skipped.
func entriesFromGroups(groups []store.VersionGroup) []chat.Message {
	var entries []chat.Message
	for i := len(groups) - 1; i >= 0; i-- {
		group := groups[i]
		if len(group.Versions) == 0 {
			continue
		}
		user, assistant, ok := versions.ActivePair(&group)
		if !ok {
			continue
		}
		idx := versions.NormalizeIndex(group.ActiveIndex)
		if idx+1 < len(group.Versions) {
			// the index addresses ids in Versions; resolve against loaded
			// messages which may include pairs from other branches
			user, assistant = resolvePair(&group, group.Versions[idx], group.Versions[idx+1], user, assistant)
		}
		if user == nil || assistant == nil || assistant.Content == "" {
			continue
		}
		entries = append(entries,
			chat.NewUserMessage(user.Content),
			chat.NewAssistantMessage(assistant.Content),
		)
	}
	return entries
}

func resolvePair(group *store.VersionGroup, userID, assistantID string, fallbackUser, fallbackAssistant *store.Message) (*store.Message, *store.Message) {
	var user, assistant *store.Message
	for i := range group.Messages {
		switch group.Messages[i].ID.String() {
		case userID:
			user = &group.Messages[i]
		case assistantID:
			assistant = &group.Messages[i]
		}
	}
	if user == nil || assistant == nil {
		return fallbackUser, fallbackAssistant
	}
	return user, assistant
}

func buildPreamble(summary string, hits []memory.ScoredEntry) string {
	var sb strings.Builder
	if summary != "" {
		sb.WriteString("Summary of the earlier conversation:\n")
		sb.WriteString(summary)
	}
	if len(hits) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("Things I remember about this user:\n")
		for _, hit := range hits {
			fmt.Fprintf(&sb, "- %s\n", hit.Content)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
