// Package toolloop drives the inference / tool execution cycle: run the
// model, execute any requested tools, feed the results back, and repeat until
// the model answers in plain text.
package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/helix/pkg/chat"
	"github.com/go-go-golems/helix/pkg/engine"
	"github.com/go-go-golems/helix/pkg/events"
	"github.com/go-go-golems/helix/pkg/tools"
)

// DefaultMaxIterations caps the number of inference rounds per turn. When the
// cap is hit the model is forced to answer without tools.
const DefaultMaxIterations = 5

type Loop struct {
	eng           engine.Engine
	registry      tools.Registry
	executor      *tools.Executor
	maxIterations int
}

type Option func(*Loop)

func WithMaxIterations(maxIterations int) Option {
	return func(l *Loop) {
		l.maxIterations = maxIterations
	}
}

func NewLoop(eng engine.Engine, registry tools.Registry, options ...Option) *Loop {
	l := &Loop{
		eng:           eng,
		registry:      registry,
		executor:      tools.NewExecutor(registry),
		maxIterations: DefaultMaxIterations,
	}
	for _, o := range options {
		o(l)
	}
	return l
}

// Run executes the tool loop for one turn. The request's message list grows
// with assistant tool-call entries and tool results as rounds proceed. On
// context cancellation the partial response is returned with the context
// error, like Engine.RunInference.
func (l *Loop) Run(ctx context.Context, req *engine.Request) (*engine.Response, error) {
	req.Tools = l.toolDefinitions()

	for iteration := 0; iteration < l.maxIterations; iteration++ {
		response, err := l.eng.RunInference(ctx, req)
		if err != nil {
			return response, err
		}
		if len(response.ToolCalls) == 0 {
			return response, nil
		}

		log.Debug().
			Int("iteration", iteration).
			Int("tool_call_count", len(response.ToolCalls)).
			Msg("executing tool calls")

		req.Messages = append(req.Messages, chat.NewToolCallMessage(response.Text, response.ToolCalls))
		for _, call := range response.ToolCalls {
			result := l.executor.ExecuteCall(ctx, call)

			content := result.Result
			if result.Error != "" {
				content = fmt.Sprintf("error: %s", result.Error)
			}
			events.PublishEventToContext(ctx, events.NewToolResultEvent(req.Metadata, events.ToolResult{
				ID:     call.ID,
				Result: content,
			}))
			req.Messages = append(req.Messages, chat.NewToolResultMessage(call.ID, call.Name, content))
		}
	}

	// iteration cap reached; force a plain answer
	log.Warn().Int("max_iterations", l.maxIterations).Msg("tool loop cap reached, finishing without tools")
	req.Tools = nil
	return l.eng.RunInference(ctx, req)
}

func (l *Loop) toolDefinitions() []engine.ToolDefinition {
	var defs []engine.ToolDefinition
	for _, tool := range l.registry.ListTools() {
		defs = append(defs, engine.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}
	return defs
}

type suggestion struct {
	SuggestedTools []string `json:"suggested_tools"`
	Description    string   `json:"description"`
}

// SuggestTools asks a cheap completion which tools could help with the query
// and renders a hint for the main inference call. Any failure yields an empty
// hint; suggestion is advisory only.
func SuggestTools(ctx context.Context, completer engine.Completer, registry tools.Registry, model, query string, prompt func([]string, string) string) string {
	var names []string
	for _, tool := range registry.ListTools() {
		names = append(names, tool.Name)
	}
	if len(names) == 0 {
		return ""
	}

	raw, err := completer.Complete(ctx, model, "", prompt(names, query))
	if err != nil {
		log.Warn().Err(err).Msg("tool suggestion failed, continuing without hint")
		return ""
	}

	var s suggestion
	if err := json.Unmarshal([]byte(extractJSON(raw)), &s); err != nil {
		log.Warn().Err(err).Str("raw", raw).Msg("tool suggestion was not valid JSON, discarding")
		return ""
	}
	if len(s.SuggestedTools) == 0 {
		return ""
	}
	hint := fmt.Sprintf("Consider using these tools: %s.", strings.Join(s.SuggestedTools, ", "))
	if s.Description != "" {
		hint += " " + s.Description
	}
	return hint
}

// extractJSON trims markdown fencing and surrounding prose from a model reply
// that should contain a single JSON object.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return raw
	}
	return raw[start : end+1]
}
