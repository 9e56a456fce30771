package events

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypeTurnSnapshot carries the freshly persisted version group so the
	// client can render placeholders before any token arrives.
	EventTypeTurnSnapshot EventType = "vg"

	EventTypeStart             EventType = "start"
	EventTypePartialCompletion EventType = "stream"
	EventTypeFinal             EventType = "final"
	EventTypeToolCall          EventType = "tool"
	EventTypeToolResult        EventType = "tool_result"
	EventTypeError             EventType = "error"
	EventTypeInterrupt         EventType = "interrupt"
)

// EventMetadata correlates every event of one turn with the assistant message
// the client renders deltas against.
type EventMetadata struct {
	ID             uuid.UUID `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("id", em.ID.String())
	if em.ConversationID != "" {
		ev.Str("conversation_id", em.ConversationID)
	}
	if em.MessageID != "" {
		ev.Str("message_id", em.MessageID)
	}
}

type Event interface {
	Type() EventType
	Metadata() EventMetadata
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`
}

func (e *EventImpl) Type() EventType         { return e.Type_ }
func (e *EventImpl) Metadata() EventMetadata { return e.Metadata_ }

var _ Event = &EventImpl{}

// EventTurnSnapshot wraps an application-defined snapshot payload. The events
// package stays ignorant of the storage model.
type EventTurnSnapshot struct {
	EventImpl
	Snapshot json.RawMessage `json:"snapshot"`
}

func NewTurnSnapshotEvent(metadata EventMetadata, snapshot json.RawMessage) *EventTurnSnapshot {
	return &EventTurnSnapshot{
		EventImpl: EventImpl{Type_: EventTypeTurnSnapshot, Metadata_: metadata},
		Snapshot:  snapshot,
	}
}

type EventStart struct {
	EventImpl
}

func NewStartEvent(metadata EventMetadata) *EventStart {
	return &EventStart{EventImpl: EventImpl{Type_: EventTypeStart, Metadata_: metadata}}
}

// EventPartialCompletion carries one streamed content delta plus the text
// accumulated so far.
type EventPartialCompletion struct {
	EventImpl
	Delta      string `json:"delta"`
	Completion string `json:"completion"`
}

func NewPartialCompletionEvent(metadata EventMetadata, delta, completion string) *EventPartialCompletion {
	return &EventPartialCompletion{
		EventImpl:  EventImpl{Type_: EventTypePartialCompletion, Metadata_: metadata},
		Delta:      delta,
		Completion: completion,
	}
}

type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{EventImpl: EventImpl{Type_: EventTypeFinal, Metadata_: metadata}, Text: text}
}

type ToolCall struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input string `json:"input"`
}

type EventToolCall struct {
	EventImpl
	ToolCall ToolCall `json:"tool_call"`
}

func NewToolCallEvent(metadata EventMetadata, toolCall ToolCall) *EventToolCall {
	return &EventToolCall{
		EventImpl: EventImpl{Type_: EventTypeToolCall, Metadata_: metadata},
		ToolCall:  toolCall,
	}
}

type ToolResult struct {
	ID     string `json:"id"`
	Result string `json:"result"`
}

type EventToolResult struct {
	EventImpl
	ToolResult ToolResult `json:"tool_result"`
}

func NewToolResultEvent(metadata EventMetadata, toolResult ToolResult) *EventToolResult {
	return &EventToolResult{
		EventImpl:  EventImpl{Type_: EventTypeToolResult, Metadata_: metadata},
		ToolResult: toolResult,
	}
}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: metadata},
		ErrorString: err.Error(),
	}
}

// EventInterrupt is published when streaming is cancelled mid-flight. Text
// holds the partial completion accumulated server-side.
type EventInterrupt struct {
	EventImpl
	Text string `json:"text"`
}

func NewInterruptEvent(metadata EventMetadata, text string) *EventInterrupt {
	return &EventInterrupt{EventImpl: EventImpl{Type_: EventTypeInterrupt, Metadata_: metadata}, Text: text}
}

// NewEventFromJSON decodes an event serialized by any of the concrete types
// above, dispatching on the "type" field.
func NewEventFromJSON(b []byte) (Event, error) {
	var peek struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(b, &peek); err != nil {
		return nil, errors.Wrap(err, "peek event type")
	}

	var (
		ev  Event
		err error
	)
	switch peek.Type {
	case EventTypeTurnSnapshot:
		e := &EventTurnSnapshot{}
		err, ev = json.Unmarshal(b, e), e
	case EventTypeStart:
		e := &EventStart{}
		err, ev = json.Unmarshal(b, e), e
	case EventTypePartialCompletion:
		e := &EventPartialCompletion{}
		err, ev = json.Unmarshal(b, e), e
	case EventTypeFinal:
		e := &EventFinal{}
		err, ev = json.Unmarshal(b, e), e
	case EventTypeToolCall:
		e := &EventToolCall{}
		err, ev = json.Unmarshal(b, e), e
	case EventTypeToolResult:
		e := &EventToolResult{}
		err, ev = json.Unmarshal(b, e), e
	case EventTypeError:
		e := &EventError{}
		err, ev = json.Unmarshal(b, e), e
	case EventTypeInterrupt:
		e := &EventInterrupt{}
		err, ev = json.Unmarshal(b, e), e
	default:
		return nil, errors.Errorf("unknown event type %q", peek.Type)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s event", peek.Type)
	}
	return ev, nil
}
