package toolloop

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/helix/pkg/chat"
	"github.com/go-go-golems/helix/pkg/engine"
	"github.com/go-go-golems/helix/pkg/tools"
)

// scriptedEngine returns canned responses in order and records the requests
// it saw.
type scriptedEngine struct {
	responses []*engine.Response
	requests  []engine.Request
}

func (e *scriptedEngine) RunInference(_ context.Context, req *engine.Request) (*engine.Response, error) {
	e.requests = append(e.requests, *req)
	if len(e.responses) == 0 {
		return nil, errors.New("no scripted response left")
	}
	response := e.responses[0]
	e.responses = e.responses[1:]
	return response, nil
}

func calculatorRegistry(t *testing.T) tools.Registry {
	t.Helper()
	registry := tools.NewInMemoryRegistry()
	require.NoError(t, registry.RegisterTool("calculator", tools.NewCalculatorTool()))
	return registry
}

func TestLoopWithoutToolCalls(t *testing.T) {
	eng := &scriptedEngine{responses: []*engine.Response{{Text: "hello"}}}
	loop := NewLoop(eng, calculatorRegistry(t))

	response, err := loop.Run(context.Background(), &engine.Request{
		Messages: []chat.Message{chat.NewUserMessage("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", response.Text)

	require.Len(t, eng.requests, 1)
	require.Len(t, eng.requests[0].Tools, 1)
	assert.Equal(t, "calculator", eng.requests[0].Tools[0].Name)
}

func TestLoopExecutesToolAndFeedsResultBack(t *testing.T) {
	eng := &scriptedEngine{responses: []*engine.Response{
		{ToolCalls: []chat.ToolCall{{ID: "call_1", Name: "calculator", Arguments: `{"a":6,"b":7,"operator":"*"}`}}},
		{Text: "The answer is 42."},
	}}
	loop := NewLoop(eng, calculatorRegistry(t))

	response, err := loop.Run(context.Background(), &engine.Request{
		Messages: []chat.Message{chat.NewUserMessage("what is 6*7?")},
	})
	require.NoError(t, err)
	assert.Equal(t, "The answer is 42.", response.Text)

	require.Len(t, eng.requests, 2)
	second := eng.requests[1].Messages
	require.Len(t, second, 3)

	assert.Equal(t, chat.RoleAssistant, second[1].Role)
	require.Len(t, second[1].ToolCalls, 1)
	assert.Equal(t, "call_1", second[1].ToolCalls[0].ID)

	assert.Equal(t, chat.RoleTool, second[2].Role)
	assert.Equal(t, "call_1", second[2].ToolCallID)
	assert.Equal(t, "42", second[2].Content)
}

func TestLoopToolFailureDoesNotAbortTurn(t *testing.T) {
	registry := tools.NewInMemoryRegistry()
	require.NoError(t, registry.RegisterTool("boom", tools.NewTool("boom", "panics",
		func(_ context.Context, _ struct{}) (interface{}, error) {
			panic("kaboom")
		})))

	eng := &scriptedEngine{responses: []*engine.Response{
		{ToolCalls: []chat.ToolCall{{ID: "call_1", Name: "boom", Arguments: `{}`}}},
		{Text: "I could not run that tool."},
	}}
	loop := NewLoop(eng, registry)

	response, err := loop.Run(context.Background(), &engine.Request{
		Messages: []chat.Message{chat.NewUserMessage("go")},
	})
	require.NoError(t, err)
	assert.Equal(t, "I could not run that tool.", response.Text)

	second := eng.requests[1].Messages
	require.Len(t, second, 3)
	assert.Contains(t, second[2].Content, "error:")
	assert.Contains(t, second[2].Content, "kaboom")
}

func TestLoopIterationCapForcesPlainAnswer(t *testing.T) {
	loopingCall := []chat.ToolCall{{ID: "c", Name: "calculator", Arguments: `{"a":1,"b":1,"operator":"+"}`}}
	eng := &scriptedEngine{responses: []*engine.Response{
		{ToolCalls: loopingCall},
		{ToolCalls: loopingCall},
		{Text: "done"},
	}}
	loop := NewLoop(eng, calculatorRegistry(t), WithMaxIterations(2))

	response, err := loop.Run(context.Background(), &engine.Request{
		Messages: []chat.Message{chat.NewUserMessage("loop forever")},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", response.Text)

	require.Len(t, eng.requests, 3)
	assert.Empty(t, eng.requests[2].Tools, "the forced final round must not offer tools")
}

type fixedCompleter struct {
	reply string
	err   error
}

func (c fixedCompleter) Complete(_ context.Context, _, _, _ string) (string, error) {
	return c.reply, c.err
}

func suggestionPrompt(names []string, query string) string {
	return "tools: " + query
}

func TestSuggestTools(t *testing.T) {
	registry := calculatorRegistry(t)
	ctx := context.Background()

	hint := SuggestTools(ctx, fixedCompleter{reply: `{"suggested_tools":["calculator"],"description":"the query is arithmetic"}`}, registry, "m", "what is 2+2", suggestionPrompt)
	assert.Contains(t, hint, "calculator")
	assert.Contains(t, hint, "arithmetic")
}

func TestSuggestToolsTolerantOfFencedJSON(t *testing.T) {
	registry := calculatorRegistry(t)
	reply := "```json\n{\"suggested_tools\":[\"calculator\"],\"description\":\"\"}\n```"
	hint := SuggestTools(context.Background(), fixedCompleter{reply: reply}, registry, "m", "q", suggestionPrompt)
	assert.Contains(t, hint, "calculator")
}

func TestSuggestToolsSwallowsFailures(t *testing.T) {
	registry := calculatorRegistry(t)
	ctx := context.Background()

	assert.Empty(t, SuggestTools(ctx, fixedCompleter{err: errors.New("down")}, registry, "m", "q", suggestionPrompt))
	assert.Empty(t, SuggestTools(ctx, fixedCompleter{reply: "not json"}, registry, "m", "q", suggestionPrompt))
	assert.Empty(t, SuggestTools(ctx, fixedCompleter{reply: `{"suggested_tools":[]}`}, registry, "m", "q", suggestionPrompt))
}
