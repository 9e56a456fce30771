// Package engine abstracts the model provider behind a single streaming
// inference call. Engines publish typed events to their configured sinks and
// to any sinks carried in the context while the response streams in.
package engine

import (
	"context"

	"github.com/go-go-golems/helix/pkg/chat"
	"github.com/go-go-golems/helix/pkg/events"
)

// ToolDefinition describes one callable function offered to the model.
// Parameters holds a JSON schema value the provider client can marshal.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

// Request is one inference call. Messages must alternate sensibly; the system
// prompt is carried separately so engines can place it per provider rules.
type Request struct {
	Model    string
	System   string
	Messages []chat.Message
	Tools    []ToolDefinition

	Temperature *float32
	MaxTokens   int

	// Metadata is stamped onto every event published for this request.
	Metadata events.EventMetadata
}

// Response is the completed inference result. When the model requested tool
// invocations, ToolCalls is non-empty and Text may be empty.
type Response struct {
	Text      string
	ToolCalls []chat.ToolCall
}

// Engine runs one streaming inference call. On context cancellation engines
// return the partial Response alongside the context error so callers can
// persist what was streamed.
type Engine interface {
	RunInference(ctx context.Context, req *Request) (*Response, error)
}

// Completer runs a one-shot, non-streaming completion. Used for the ambient
// model calls (titles, summaries, tool suggestions) that never reach clients.
type Completer interface {
	Complete(ctx context.Context, model, system, prompt string) (string, error)
}

// Config holds cross-provider engine configuration.
type Config struct {
	EventSinks []events.EventSink
}

type Option func(*Config)

// WithSink adds an event sink every inference call publishes to.
func WithSink(sink events.EventSink) Option {
	return func(c *Config) {
		c.EventSinks = append(c.EventSinks, sink)
	}
}

func NewConfig(options ...Option) *Config {
	c := &Config{}
	for _, o := range options {
		o(c)
	}
	return c
}
