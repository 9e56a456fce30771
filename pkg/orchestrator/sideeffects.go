package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/helix/pkg/history"
	"github.com/go-go-golems/helix/pkg/prompts"
	"github.com/go-go-golems/helix/pkg/vectorstore"
)

type sideEffectInput struct {
	userID             string
	conversationID     uuid.UUID
	userMessageID      uuid.UUID
	assistantMessageID uuid.UUID
	query              string
	answer             string
}

// spawnSideEffects runs the fire-and-forget work of a completed turn. Each
// effect runs in its own goroutine with a recover boundary so one failure
// never disturbs the others or the response already sent.
func (o *Orchestrator) spawnSideEffects(ctx context.Context, assembly *history.Assembly, input sideEffectInput) {
	o.spawn("memory-upsert", func() { o.rememberFact(ctx, input) })
	o.spawn("vector-index", func() { o.indexTurn(ctx, input) })
	if assembly.Conversation.Title == nil {
		o.spawn("title", func() { o.generateTitle(ctx, input) })
	}
	if assembly.EntryCount+2 >= SummaryThreshold {
		o.spawn("summary", func() { o.refreshSummary(ctx, assembly, input) })
	}
}

func (o *Orchestrator) spawn(name string, f func()) {
	o.sideEffects.Add(1)
	go func() {
		defer o.sideEffects.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("side_effect", name).Interface("panic", r).Msg("side effect panicked")
			}
		}()
		f()
	}()
}

func (o *Orchestrator) rememberFact(ctx context.Context, input sideEffectInput) {
	if o.memories == nil || o.completer == nil {
		return
	}
	fact, err := o.completer.Complete(ctx, o.defaultModel, "", prompts.MemoryExtraction(input.query, input.answer))
	if err != nil {
		log.Warn().Err(err).Msg("memory extraction failed")
		return
	}
	fact = strings.TrimSpace(fact)
	if fact == "" || strings.EqualFold(fact, "NONE") {
		return
	}
	if _, err := o.memories.Upsert(ctx, input.userID, input.conversationID, fact); err != nil {
		log.Warn().Err(err).Msg("memory upsert failed")
	}
}

func (o *Orchestrator) indexTurn(ctx context.Context, input sideEffectInput) {
	if o.index == nil {
		return
	}
	documents := []vectorstore.Document{
		{
			ID:      input.userMessageID.String(),
			Content: input.query,
			Metadata: map[string]string{
				vectorstore.MetaConversationID: input.conversationID.String(),
				vectorstore.MetaMessageID:      input.userMessageID.String(),
				vectorstore.MetaRole:           "user",
			},
		},
		{
			ID:      input.assistantMessageID.String(),
			Content: input.answer,
			Metadata: map[string]string{
				vectorstore.MetaConversationID: input.conversationID.String(),
				vectorstore.MetaMessageID:      input.assistantMessageID.String(),
				vectorstore.MetaRole:           "assistant",
			},
		},
	}
	if err := o.index.AddDocuments(ctx, documents); err != nil {
		log.Warn().Err(err).Str("conversation_id", input.conversationID.String()).Msg("turn indexing failed")
	}
}

func (o *Orchestrator) generateTitle(ctx context.Context, input sideEffectInput) {
	if o.completer == nil {
		return
	}
	title, err := o.completer.Complete(ctx, o.defaultModel, "", prompts.TitleInstruction(input.query, input.answer))
	if err != nil {
		log.Warn().Err(err).Msg("title generation failed")
		return
	}
	title = strings.Trim(strings.TrimSpace(title), `"`)
	if title == "" {
		return
	}
	if err := o.store.SetConversationTitle(ctx, input.conversationID, title); err != nil {
		log.Warn().Err(err).Msg("title update failed")
	}
}

func (o *Orchestrator) refreshSummary(ctx context.Context, assembly *history.Assembly, input sideEffectInput) {
	if o.completer == nil {
		return
	}
	var transcript strings.Builder
	for _, m := range assembly.Messages {
		transcript.WriteString(string(m.Role))
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
		transcript.WriteString("\n")
	}
	transcript.WriteString("user: " + input.query + "\n")
	transcript.WriteString("assistant: " + input.answer + "\n")

	raw, err := o.completer.Complete(ctx, o.defaultModel, "", prompts.SummaryPrompt(assembly.Summary, transcript.String()))
	if err != nil {
		log.Warn().Err(err).Msg("summary generation failed")
		return
	}
	var parsed struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil || parsed.Summary == "" {
		log.Warn().Str("raw", raw).Msg("summary reply was not usable JSON, discarding")
		return
	}
	if err := o.store.SetHistorySummary(ctx, input.conversationID, parsed.Summary); err != nil {
		log.Warn().Err(err).Msg("summary update failed")
	}
}

func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return raw
	}
	return raw[start : end+1]
}
