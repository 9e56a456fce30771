package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/go-go-golems/helix/pkg/blob"
	"github.com/go-go-golems/helix/pkg/chat"
	"github.com/go-go-golems/helix/pkg/embeddings"
	"github.com/go-go-golems/helix/pkg/engine"
	"github.com/go-go-golems/helix/pkg/events"
	"github.com/go-go-golems/helix/pkg/history"
	"github.com/go-go-golems/helix/pkg/memory"
	"github.com/go-go-golems/helix/pkg/store"
	"github.com/go-go-golems/helix/pkg/tools"
	"github.com/go-go-golems/helix/pkg/vectorstore"
)

type scriptedEngine struct {
	mu        sync.Mutex
	responses []*engine.Response
	errs      []error
	requests  []engine.Request
}

func (e *scriptedEngine) RunInference(_ context.Context, req *engine.Request) (*engine.Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, *req)
	if len(e.responses) == 0 {
		return &engine.Response{Text: "fallback"}, nil
	}
	response := e.responses[0]
	e.responses = e.responses[1:]
	var err error
	if len(e.errs) > 0 {
		err = e.errs[0]
		e.errs = e.errs[1:]
	}
	return response, err
}

type fixedCompleter struct {
	mu      sync.Mutex
	replies map[string]string // matched by substring of the prompt
	calls   []string
}

func (c *fixedCompleter) Complete(_ context.Context, _, _ string, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, prompt)
	for needle, reply := range c.replies {
		if needle != "" && strings.Contains(prompt, needle) {
			return reply, nil
		}
	}
	return "NONE", nil
}

type recordingMemories struct {
	mu      sync.Mutex
	upserts []string
}

func (m *recordingMemories) Search(_ context.Context, _, _ string, _ int, _ *time.Time) ([]memory.ScoredEntry, error) {
	return nil, nil
}

func (m *recordingMemories) Upsert(_ context.Context, _ string, _ uuid.UUID, content string) (*memory.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts = append(m.upserts, content)
	return &memory.Entry{Content: content}, nil
}

func (m *recordingMemories) ListAll(_ context.Context, _ string) ([]memory.Entry, error) {
	return nil, nil
}

type constProvider struct{}

func (constProvider) GenerateEmbedding(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (p constProvider) GenerateBatchEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (constProvider) GetModel() embeddings.EmbeddingModel {
	return embeddings.EmbeddingModel{Name: "const", Dimensions: 2}
}

type collectingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *collectingSink) PublishEvent(e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *collectingSink) types() []events.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type()
	}
	return out
}

type fixture struct {
	store     *store.Store
	eng       *scriptedEngine
	completer *fixedCompleter
	memories  *recordingMemories
	index     *vectorstore.InMemoryIndex
	orch      *Orchestrator
	sink      *collectingSink
	ctx       context.Context
}

func newFixture(t *testing.T, responses []*engine.Response, options ...Option) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	s := store.New(db)
	require.NoError(t, s.AutoMigrate())

	memories := &recordingMemories{}
	eng := &scriptedEngine{responses: responses}
	completer := &fixedCompleter{replies: map[string]string{
		"title":     "Trip Planning",
		"Summarize": `{"summary":"they discussed travel"}`,
		"remember":  "prefers trains",
	}}
	index := vectorstore.NewInMemoryIndex(constProvider{})
	registry := tools.NewInMemoryRegistry()
	require.NoError(t, registry.RegisterTool("calculator", tools.NewCalculatorTool()))

	assembler := history.NewAssembler(s, memories)
	orch := New(s, assembler, eng, registry,
		append([]Option{
			WithCompleter(completer),
			WithMemories(memories),
			WithVectorIndex(index),
			WithDefaultModel("test-model"),
		}, options...)...)

	sink := &collectingSink{}
	ctx := events.WithEventSinks(context.Background(), sink)

	return &fixture{
		store: s, eng: eng, completer: completer, memories: memories,
		index: index, orch: orch, sink: sink, ctx: ctx,
	}
}

func (f *fixture) conversation(t *testing.T) *store.Conversation {
	t.Helper()
	conversation, err := f.store.CreateConversation(f.ctx, "alice")
	require.NoError(t, err)
	return conversation
}

func TestRunTurnPersistsAndFinalizes(t *testing.T) {
	f := newFixture(t, []*engine.Response{{Text: "Paris is the capital of France."}})
	conversation := f.conversation(t)

	err := f.orch.RunTurn(f.ctx, "alice", conversation.ID, "capital of france?", nil)
	require.NoError(t, err)
	f.orch.WaitForSideEffects()

	groups, err := f.store.ListVersionGroups(f.ctx, conversation.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	group := groups[0]

	require.Len(t, group.Versions, 2)
	assert.Equal(t, 0, group.ActiveIndex)
	require.Len(t, group.Messages, 2)
	assert.Equal(t, "capital of france?", group.Messages[0].Content)
	assert.Equal(t, "Paris is the capital of France.", group.Messages[1].Content)
	assert.Equal(t, group.Messages[0].ID.String(), group.Versions[0])
	assert.Equal(t, group.Messages[1].ID.String(), group.Versions[1])

	// activity bumped
	got, err := f.store.GetConversation(f.ctx, "alice", conversation.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastActivityAt)

	// first turn generates a title
	require.NotNil(t, got.Title)
	assert.Equal(t, "Trip Planning", *got.Title)

	// memory extracted and stored
	assert.Equal(t, []string{"prefers trains"}, f.memories.upserts)

	// both sides of the turn indexed for retrieval
	docs, err := f.index.Retrieve(f.ctx, "anything", 10, map[string]string{
		vectorstore.MetaConversationID: conversation.ID.String(),
	})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	// the snapshot event went out before any streaming
	types := f.sink.types()
	require.NotEmpty(t, types)
	assert.Equal(t, events.EventTypeTurnSnapshot, types[0])
}

func TestRunTurnEmptyQuery(t *testing.T) {
	f := newFixture(t, nil)
	conversation := f.conversation(t)

	err := f.orch.RunTurn(f.ctx, "alice", conversation.ID, "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestRunTurnOwnership(t *testing.T) {
	f := newFixture(t, []*engine.Response{{Text: "hi"}})
	conversation := f.conversation(t)

	err := f.orch.RunTurn(f.ctx, "bob", conversation.ID, "hello", nil)
	assert.ErrorIs(t, err, store.ErrNotOwned)
}

func TestRunTurnWithToolRound(t *testing.T) {
	f := newFixture(t, []*engine.Response{
		{ToolCalls: []chat.ToolCall{{ID: "call_1", Name: "calculator", Arguments: `{"a":6,"b":7,"operator":"*"}`}}},
		{Text: "6 times 7 is 42."},
	})
	conversation := f.conversation(t)

	err := f.orch.RunTurn(f.ctx, "alice", conversation.ID, "what is 6*7?", nil)
	require.NoError(t, err)
	f.orch.WaitForSideEffects()

	groups, err := f.store.ListVersionGroups(f.ctx, conversation.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "6 times 7 is 42.", groups[0].Messages[1].Content)

	types := f.sink.types()
	assert.Contains(t, types, events.EventTypeToolResult)
}

func TestRunTurnEngineFailureLeavesPairUnversioned(t *testing.T) {
	f := newFixture(t, []*engine.Response{nil}, WithStrategy(StrategyPlain))
	f.eng.errs = []error{assert.AnError}
	conversation := f.conversation(t)

	err := f.orch.RunTurn(f.ctx, "alice", conversation.ID, "hello", nil)
	require.Error(t, err)

	groups, err := f.store.ListVersionGroups(f.ctx, conversation.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Empty(t, groups[0].Versions, "failed turns must not enter the version list")
}

func TestRunTurnInterruptedFinalizesPartial(t *testing.T) {
	f := newFixture(t, []*engine.Response{{Text: "Paris is"}}, WithStrategy(StrategyPlain))
	f.eng.errs = []error{context.Canceled}
	conversation := f.conversation(t)

	err := f.orch.RunTurn(f.ctx, "alice", conversation.ID, "capital of france?", nil)
	require.NoError(t, err)
	f.orch.WaitForSideEffects()

	groups, err := f.store.ListVersionGroups(f.ctx, conversation.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Paris is", groups[0].Messages[1].Content)
	assert.Len(t, groups[0].Versions, 2)
}

func TestRunEditAddsSiblingPairAndSelectsIt(t *testing.T) {
	f := newFixture(t, []*engine.Response{
		{Text: "first answer"},
		{Text: "regenerated answer"},
	}, WithStrategy(StrategyPlain))
	conversation := f.conversation(t)

	require.NoError(t, f.orch.RunTurn(f.ctx, "alice", conversation.ID, "original question", nil))
	f.orch.WaitForSideEffects()

	groups, err := f.store.ListVersionGroups(f.ctx, conversation.ID)
	require.NoError(t, err)
	originalUser := groups[0].Messages[0]

	require.NoError(t, f.orch.RunEdit(f.ctx, "alice", originalUser.ID, "edited question", nil, nil))
	f.orch.WaitForSideEffects()

	group, err := f.store.GetVersionGroup(f.ctx, groups[0].ID)
	require.NoError(t, err)
	require.Len(t, group.Versions, 4)
	assert.Equal(t, 2, group.ActiveIndex, "the new pair becomes active")
	require.Len(t, group.Messages, 4)
	assert.Equal(t, "edited question", group.Messages[2].Content)
	assert.Equal(t, "regenerated answer", group.Messages[3].Content)

	// the original pair is still intact for navigation
	assert.Equal(t, "original question", group.Messages[0].Content)
	assert.Equal(t, "first answer", group.Messages[1].Content)
}

func TestRunEditKeepsExistingFiles(t *testing.T) {
	blobs, err := blob.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	f := newFixture(t, []*engine.Response{
		{Text: "first answer"},
		{Text: "regenerated answer"},
	}, WithStrategy(StrategyPlain), WithBlobStore(blobs))
	conversation := f.conversation(t)

	uploads := []Upload{{Name: "notes.txt", ContentType: "text/plain", Data: []byte("packing list")}}
	require.NoError(t, f.orch.RunTurn(f.ctx, "alice", conversation.ID, "what should I pack?", uploads))
	f.orch.WaitForSideEffects()

	groups, err := f.store.ListVersionGroups(f.ctx, conversation.ID)
	require.NoError(t, err)
	originalUser := groups[0].Messages[0]
	require.Len(t, originalUser.Files, 1)
	fileID := originalUser.Files[0].ID

	require.NoError(t, f.orch.RunEdit(f.ctx, "alice", originalUser.ID, "what should I pack for winter?", nil, []uuid.UUID{fileID}))
	f.orch.WaitForSideEffects()

	group, err := f.store.GetVersionGroup(f.ctx, groups[0].ID)
	require.NoError(t, err)
	require.Len(t, group.Messages, 4)
	newUser := group.Messages[2]
	require.Len(t, newUser.Files, 1, "the kept file follows the edited message")
	assert.Equal(t, "notes.txt", newUser.Files[0].FileName)
	assert.Equal(t, originalUser.Files[0].StorageURL, newUser.Files[0].StorageURL)
	assert.NotEqual(t, fileID, newUser.Files[0].ID)
}

func TestRunEditRejectsAssistantMessage(t *testing.T) {
	f := newFixture(t, []*engine.Response{{Text: "answer"}}, WithStrategy(StrategyPlain))
	conversation := f.conversation(t)

	require.NoError(t, f.orch.RunTurn(f.ctx, "alice", conversation.ID, "question", nil))
	f.orch.WaitForSideEffects()

	groups, err := f.store.ListVersionGroups(f.ctx, conversation.ID)
	require.NoError(t, err)
	assistant := groups[0].Messages[1]

	err = f.orch.RunEdit(f.ctx, "alice", assistant.ID, "nope", nil, nil)
	assert.ErrorIs(t, err, ErrNotEditable)
}

func TestRunEditUnknownMessage(t *testing.T) {
	f := newFixture(t, nil)
	err := f.orch.RunEdit(f.ctx, "alice", uuid.New(), "edited", nil, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSummaryRefreshPastThreshold(t *testing.T) {
	f := newFixture(t, nil, WithStrategy(StrategyPlain))
	conversation := f.conversation(t)

	// seed enough finalized turns to cross the threshold
	ctx := f.ctx
	for i := 0; i < SummaryThreshold; i++ {
		group, err := f.store.CreateVersionGroupWithPair(ctx, conversation.ID, "alice", "q")
		require.NoError(t, err)
		require.NoError(t, f.store.UpdateMessageContent(ctx, group.Messages[1].ID, "a"))
		_, err = f.store.AppendVersionPair(ctx, group.ID, group.Messages[0].ID, group.Messages[1].ID)
		require.NoError(t, err)
	}

	require.NoError(t, f.orch.RunTurn(ctx, "alice", conversation.ID, "one more", nil))
	f.orch.WaitForSideEffects()

	got, err := f.store.GetConversation(ctx, "alice", conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, "they discussed travel", got.HistorySummary)
}
