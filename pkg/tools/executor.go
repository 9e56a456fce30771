package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/helix/pkg/chat"
)

// Result is the outcome of one tool invocation. Either Result or Error is
// set; a failed call never aborts the turn.
type Result struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Result   string        `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Executor resolves tool calls against a registry and runs them with per-call
// isolation: a panic or error in one tool is captured into its Result.
type Executor struct {
	registry Registry
}

func NewExecutor(registry Registry) *Executor {
	return &Executor{registry: registry}
}

func (e *Executor) ExecuteCall(ctx context.Context, call chat.ToolCall) (result Result) {
	started := time.Now()
	result = Result{ID: call.ID, Name: call.Name}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("tool", call.Name).Interface("panic", r).Msg("tool panicked")
			result.Error = fmt.Sprintf("tool %s panicked: %v", call.Name, r)
		}
		result.Duration = time.Since(started)
	}()

	tool, err := e.registry.GetTool(call.Name)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	out, err := tool.Call(ctx, []byte(call.Arguments))
	if err != nil {
		log.Warn().Err(err).Str("tool", call.Name).Msg("tool execution failed")
		result.Error = err.Error()
		return result
	}
	result.Result = formatResult(out)

	log.Debug().
		Str("tool", call.Name).
		Str("tool_id", call.ID).
		Dur("duration", result.Duration).
		Msg("tool executed")
	return result
}

// formatResult renders a tool's return value for the model. Values that do
// not marshal cleanly (Inf, NaN) fall back to their Go formatting.
func formatResult(out interface{}) string {
	switch v := out.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
