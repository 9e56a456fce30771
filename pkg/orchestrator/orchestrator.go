// Package orchestrator runs complete turns: it assembles context, persists
// the turn skeleton, drives the model (optionally through the tool loop),
// finalizes the result and kicks off the background side effects.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/helix/pkg/blob"
	"github.com/go-go-golems/helix/pkg/chat"
	"github.com/go-go-golems/helix/pkg/engine"
	"github.com/go-go-golems/helix/pkg/events"
	"github.com/go-go-golems/helix/pkg/history"
	"github.com/go-go-golems/helix/pkg/memory"
	"github.com/go-go-golems/helix/pkg/prompts"
	"github.com/go-go-golems/helix/pkg/store"
	"github.com/go-go-golems/helix/pkg/toolloop"
	"github.com/go-go-golems/helix/pkg/tools"
	"github.com/go-go-golems/helix/pkg/vectorstore"
)

// Strategy selects how the model is driven for streamed turns.
type Strategy string

const (
	// StrategyPlain streams a single completion without tools.
	StrategyPlain Strategy = "plain"
	// StrategyTools offers all registered tools on every round.
	StrategyTools Strategy = "tools"
	// StrategySuggest runs a cheap pre-step asking which tools could help and
	// folds the hint into the system prompt before running with tools.
	StrategySuggest Strategy = "suggest"
)

// SummaryThreshold is the assembled-entry count past which a turn triggers a
// background summary refresh.
const SummaryThreshold = history.MaxEntries

// Upload is one attachment received with a query.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

var ErrEmptyQuery = errors.New("query must not be empty")

// ErrNotEditable is returned when the edit target is not a user message.
var ErrNotEditable = errors.New("only user messages can be edited")

type Orchestrator struct {
	store     *store.Store
	assembler *history.Assembler
	eng       engine.Engine
	completer engine.Completer
	registry  tools.Registry
	memories  memory.Store
	index     vectorstore.Index
	blobs     blob.Store

	strategy     Strategy
	defaultModel string

	sideEffects sync.WaitGroup
}

type Option func(*Orchestrator)

func WithStrategy(strategy Strategy) Option {
	return func(o *Orchestrator) {
		o.strategy = strategy
	}
}

func WithDefaultModel(model string) Option {
	return func(o *Orchestrator) {
		o.defaultModel = model
	}
}

func WithCompleter(completer engine.Completer) Option {
	return func(o *Orchestrator) {
		o.completer = completer
	}
}

func WithBlobStore(blobs blob.Store) Option {
	return func(o *Orchestrator) {
		o.blobs = blobs
	}
}

func WithVectorIndex(index vectorstore.Index) Option {
	return func(o *Orchestrator) {
		o.index = index
	}
}

func WithMemories(memories memory.Store) Option {
	return func(o *Orchestrator) {
		o.memories = memories
	}
}

func New(s *store.Store, assembler *history.Assembler, eng engine.Engine, registry tools.Registry, options ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     s,
		assembler: assembler,
		eng:       eng,
		registry:  registry,
		strategy:  StrategyTools,
	}
	for _, opt := range options {
		opt(o)
	}
	if o.completer == nil {
		if c, ok := eng.(engine.Completer); ok {
			o.completer = c
		}
	}
	return o
}

// WaitForSideEffects blocks until all background work spawned by completed
// turns has finished. Used by tests and graceful shutdown.
func (o *Orchestrator) WaitForSideEffects() {
	o.sideEffects.Wait()
}

// RunTurn executes one streamed turn. Events are published to the sinks
// carried in ctx. The turn skeleton (user message plus empty assistant
// placeholder) is persisted before the model runs; the pair only enters the
// group's versions once a result is finalized.
func (o *Orchestrator) RunTurn(ctx context.Context, userID string, conversationID uuid.UUID, query string, uploads []Upload) error {
	if strings.TrimSpace(query) == "" {
		return ErrEmptyQuery
	}

	assembly, err := o.assembler.Assemble(ctx, userID, conversationID, query)
	if err != nil {
		return err
	}

	group, err := o.store.CreateVersionGroupWithPair(ctx, conversationID, userID, query)
	if err != nil {
		return err
	}
	userMessage := group.Messages[0]
	assistantMessage := group.Messages[1]

	metadata := events.EventMetadata{
		ID:             uuid.New(),
		ConversationID: conversationID.String(),
		MessageID:      assistantMessage.ID.String(),
	}
	o.publishSnapshot(ctx, metadata, group)

	attachments, fileRows, err := o.storeUploads(ctx, userID, conversationID, userMessage.ID, uploads)
	if err != nil {
		return err
	}
	if err := o.store.CreateFiles(ctx, fileRows); err != nil {
		return err
	}

	queryMessage := chat.NewUserMessage(query)
	queryMessage.Attachments = attachments

	response, runErr := o.runModel(ctx, assembly, queryMessage, conversationID, metadata)
	if runErr != nil && (response == nil || response.Text == "") {
		return runErr
	}
	if runErr != nil {
		log.Info().Err(runErr).Str("message_id", metadata.MessageID).Msg("finalizing interrupted turn with partial text")
	}

	fctx := context.WithoutCancel(ctx)
	if err := o.finalizePair(fctx, group.ID, userMessage.ID, assistantMessage.ID, conversationID, response.Text); err != nil {
		return err
	}

	o.spawnSideEffects(fctx, assembly, sideEffectInput{
		userID:             userID,
		conversationID:     conversationID,
		userMessageID:      userMessage.ID,
		assistantMessageID: assistantMessage.ID,
		query:              query,
		answer:             response.Text,
	})
	return nil
}

// RunEdit regenerates a turn from an edited user message. The assembled
// context is cut at the edited group's creation time, so the regeneration
// only sees what preceded the original turn. New message rows are created
// only once a result exists. Files listed in keepFileIDs are fetched back
// from blob storage and carried over to the new branch.
func (o *Orchestrator) RunEdit(ctx context.Context, userID string, messageID uuid.UUID, newContent string, uploads []Upload, keepFileIDs []uuid.UUID) error {
	if strings.TrimSpace(newContent) == "" {
		return ErrEmptyQuery
	}

	original, err := o.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if original.Role != store.RoleUser {
		return ErrNotEditable
	}

	group, err := o.store.GetVersionGroup(ctx, original.VersionGroupID)
	if err != nil {
		return err
	}
	conversationID := group.ConversationID

	assembly, err := o.assembler.AssembleForEdit(ctx, userID, conversationID, group, newContent)
	if err != nil {
		return err
	}

	newUserID := uuid.New()
	newAssistantID := uuid.New()
	metadata := events.EventMetadata{
		ID:             uuid.New(),
		ConversationID: conversationID.String(),
		MessageID:      newAssistantID.String(),
	}

	attachments, fileRows, err := o.storeUploads(ctx, userID, conversationID, newUserID, uploads)
	if err != nil {
		return err
	}
	kept, keptRows, err := o.keepFiles(ctx, newUserID, keepFileIDs)
	if err != nil {
		return err
	}
	attachments = append(attachments, kept...)
	fileRows = append(fileRows, keptRows...)

	queryMessage := chat.NewUserMessage(newContent)
	queryMessage.Attachments = attachments

	response, runErr := o.runModel(ctx, assembly, queryMessage, conversationID, metadata)
	if runErr != nil && (response == nil || response.Text == "") {
		return runErr
	}
	if runErr != nil {
		log.Info().Err(runErr).Str("message_id", metadata.MessageID).Msg("finalizing interrupted edit with partial text")
	}

	fctx := context.WithoutCancel(ctx)
	newUser := &store.Message{
		ID:             newUserID,
		ConversationID: conversationID,
		VersionGroupID: group.ID,
		Role:           store.RoleUser,
		Sender:         userID,
		Content:        newContent,
	}
	if err := o.store.CreateMessage(fctx, newUser); err != nil {
		return err
	}
	newAssistant := &store.Message{
		ID:             newAssistantID,
		ConversationID: conversationID,
		VersionGroupID: group.ID,
		Role:           store.RoleAssistant,
		Sender:         store.RoleAssistant,
		Content:        response.Text,
	}
	if err := o.store.CreateMessage(fctx, newAssistant); err != nil {
		return err
	}
	if err := o.store.CreateFiles(fctx, fileRows); err != nil {
		return err
	}

	updated, err := o.store.AppendVersionPair(fctx, group.ID, newUserID, newAssistantID)
	if err != nil {
		return err
	}
	if err := o.store.TouchConversation(fctx, conversationID); err != nil {
		return err
	}
	o.publishSnapshot(ctx, metadata, updated)

	o.spawnSideEffects(fctx, assembly, sideEffectInput{
		userID:             userID,
		conversationID:     conversationID,
		userMessageID:      newUserID,
		assistantMessageID: newAssistantID,
		query:              newContent,
		answer:             response.Text,
	})
	return nil
}

func (o *Orchestrator) runModel(ctx context.Context, assembly *history.Assembly, queryMessage chat.Message, conversationID uuid.UUID, metadata events.EventMetadata) (*engine.Response, error) {
	model := o.defaultModel
	if assembly.Conversation.Model != nil && *assembly.Conversation.Model != "" {
		model = *assembly.Conversation.Model
	}

	system := prompts.System()
	ctx = tools.WithConversationID(ctx, conversationID)

	req := &engine.Request{
		Model:    model,
		System:   system,
		Messages: append(append([]chat.Message{}, assembly.Messages...), queryMessage),
		Metadata: metadata,
	}

	switch o.strategy {
	case StrategyPlain:
		return o.eng.RunInference(ctx, req)
	case StrategySuggest:
		if o.completer != nil {
			if hint := toolloop.SuggestTools(ctx, o.completer, o.registry, model, queryMessage.Content, prompts.ToolSuggestionPrompt); hint != "" {
				req.System = system + "\n\n" + hint
			}
		}
		fallthrough
	default:
		return toolloop.NewLoop(o.eng, o.registry).Run(ctx, req)
	}
}

// finalizePair commits a completed turn: the assistant text, the group's new
// version pair and the conversation activity bump.
func (o *Orchestrator) finalizePair(ctx context.Context, groupID, userMessageID, assistantMessageID, conversationID uuid.UUID, text string) error {
	if err := o.store.UpdateMessageContent(ctx, assistantMessageID, text); err != nil {
		return err
	}
	if _, err := o.store.AppendVersionPair(ctx, groupID, userMessageID, assistantMessageID); err != nil {
		return err
	}
	return o.store.TouchConversation(ctx, conversationID)
}

func (o *Orchestrator) publishSnapshot(ctx context.Context, metadata events.EventMetadata, group *store.VersionGroup) {
	payload, err := json.Marshal(group)
	if err != nil {
		log.Warn().Err(err).Msg("failed to marshal turn snapshot")
		return
	}
	events.PublishEventToContext(ctx, events.NewTurnSnapshotEvent(metadata, payload))
}

// storeUploads writes attachment bytes to blob storage and prepares both the
// model-facing attachments and the file rows to persist.
func (o *Orchestrator) storeUploads(ctx context.Context, userID string, conversationID, messageID uuid.UUID, uploads []Upload) ([]chat.Attachment, []store.File, error) {
	if len(uploads) == 0 {
		return nil, nil, nil
	}
	if o.blobs == nil {
		return nil, nil, errors.New("no blob store configured for attachments")
	}

	var (
		attachments []chat.Attachment
		fileRows    []store.File
	)
	for _, upload := range uploads {
		key := fmt.Sprintf("%s/%s/%s", conversationID, messageID, upload.Name)
		obj, err := o.blobs.Upload(ctx, key, upload.ContentType, upload.Data)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "upload %s", upload.Name)
		}
		attachments = append(attachments, chat.Attachment{
			Name:      upload.Name,
			MediaType: upload.ContentType,
			URL:       obj.URL,
			Data:      upload.Data,
		})
		fileRows = append(fileRows, store.File{
			UserID:         userID,
			ConversationID: &conversationID,
			MessageID:      messageID,
			FileName:       upload.Name,
			FileType:       upload.ContentType,
			StorageURL:     obj.URL,
		})
	}
	return attachments, fileRows, nil
}

// keepFiles carries previously uploaded files over to an edited turn: their
// bytes are fetched back from blob storage for the model and fresh file rows
// are prepared against the new user message.
func (o *Orchestrator) keepFiles(ctx context.Context, messageID uuid.UUID, fileIDs []uuid.UUID) ([]chat.Attachment, []store.File, error) {
	if len(fileIDs) == 0 {
		return nil, nil, nil
	}
	if o.blobs == nil {
		return nil, nil, errors.New("no blob store configured for attachments")
	}

	files, err := o.store.GetFilesByIDs(ctx, fileIDs)
	if err != nil {
		return nil, nil, err
	}

	var (
		attachments []chat.Attachment
		fileRows    []store.File
	)
	for _, f := range files {
		data, err := o.blobs.Fetch(ctx, f.StorageURL)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "fetch %s", f.FileName)
		}
		attachments = append(attachments, chat.Attachment{
			Name:      f.FileName,
			MediaType: f.FileType,
			URL:       f.StorageURL,
			Data:      data,
		})
		fileRows = append(fileRows, store.File{
			UserID:         f.UserID,
			ConversationID: f.ConversationID,
			MessageID:      messageID,
			FileName:       f.FileName,
			FileType:       f.FileType,
			StorageURL:     f.StorageURL,
		})
	}
	return attachments, fileRows, nil
}
