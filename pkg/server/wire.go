package server

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/helix/pkg/events"
)

// wireEvent is one NDJSON line of a streamed turn.
type wireEvent struct {
	Type      string      `json:"type"`
	MessageID string      `json:"messageId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

type wireToolCall struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input string `json:"input"`
}

type wireToolResult struct {
	ID     string `json:"id"`
	Result string `json:"result"`
}

// wireLine converts a typed event to its client representation. Events the
// client has no use for (start) are dropped.
func wireLine(event events.Event) ([]byte, bool) {
	messageID := event.Metadata().MessageID

	var wire wireEvent
	switch e := event.(type) {
	case *events.EventTurnSnapshot:
		wire = wireEvent{Type: "vg", MessageID: messageID, Data: json.RawMessage(e.Snapshot)}
	case *events.EventPartialCompletion:
		wire = wireEvent{Type: "stream", MessageID: messageID, Data: e.Delta}
	case *events.EventFinal:
		wire = wireEvent{Type: "final", MessageID: messageID, Data: e.Text}
	case *events.EventToolCall:
		wire = wireEvent{Type: "tool", MessageID: messageID, Data: wireToolCall(e.ToolCall)}
	case *events.EventToolResult:
		wire = wireEvent{Type: "tool_result", MessageID: messageID, Data: wireToolResult(e.ToolResult)}
	case *events.EventInterrupt:
		wire = wireEvent{Type: "interrupt", MessageID: messageID, Data: e.Text}
	case *events.EventError:
		wire = wireEvent{Type: "error", MessageID: messageID, Error: e.ErrorString}
	default:
		return nil, false
	}

	line, err := json.Marshal(wire)
	if err != nil {
		log.Warn().Err(err).Str("event_type", string(event.Type())).Msg("failed to marshal wire event")
		return nil, false
	}
	return line, true
}
