package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/helix/pkg/chat"
	"github.com/go-go-golems/helix/pkg/events"
)

// OpenAIEngine streams chat completions through the OpenAI API (or any
// compatible endpoint the client was built against).
type OpenAIEngine struct {
	client       *go_openai.Client
	defaultModel string
	config       *Config
}

func NewOpenAIEngine(client *go_openai.Client, defaultModel string, options ...Option) *OpenAIEngine {
	return &OpenAIEngine{
		client:       client,
		defaultModel: defaultModel,
		config:       NewConfig(options...),
	}
}

var _ Engine = (*OpenAIEngine)(nil)
var _ Completer = (*OpenAIEngine)(nil)

func (e *OpenAIEngine) RunInference(ctx context.Context, req *Request) (*Response, error) {
	completionReq := e.makeCompletionRequest(req)
	metadata := req.Metadata

	log.Debug().
		Object("meta", metadata).
		Str("model", completionReq.Model).
		Int("num_messages", len(completionReq.Messages)).
		Int("num_tools", len(completionReq.Tools)).
		Msg("starting streaming inference")

	e.publishEvent(ctx, events.NewStartEvent(metadata))

	stream, err := e.client.CreateChatCompletionStream(ctx, completionReq)
	if err != nil {
		e.publishEvent(ctx, events.NewErrorEvent(metadata, err))
		return nil, errors.Wrap(err, "create completion stream")
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close completion stream")
		}
	}()

	message := ""
	merger := NewToolCallMerger()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Object("meta", metadata).Int("partial_length", len(message)).Msg("streaming cancelled")
			e.publishEvent(ctx, events.NewInterruptEvent(metadata, message))
			return &Response{Text: message}, ctx.Err()

		default:
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return e.finish(ctx, metadata, message, merger)
			}
			if err != nil {
				// Recv surfaces the cancellation before the ctx.Done case can
				// fire; the partial text still has to reach the caller.
				if ctx.Err() != nil {
					log.Debug().Object("meta", metadata).Int("partial_length", len(message)).Msg("streaming cancelled")
					e.publishEvent(ctx, events.NewInterruptEvent(metadata, message))
					return &Response{Text: message}, ctx.Err()
				}
				e.publishEvent(ctx, events.NewErrorEvent(metadata, err))
				return nil, errors.Wrap(err, "receive stream chunk")
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if len(delta.ToolCalls) > 0 {
				merger.AddToolCalls(delta.ToolCalls)
			}
			if delta.Content != "" {
				message += delta.Content
				e.publishEvent(ctx, events.NewPartialCompletionEvent(metadata, delta.Content, message))
			}
		}
	}
}

func (e *OpenAIEngine) finish(ctx context.Context, metadata events.EventMetadata, message string, merger *ToolCallMerger) (*Response, error) {
	toolCalls := merger.GetToolCalls()
	for _, tc := range toolCalls {
		e.publishEvent(ctx, events.NewToolCallEvent(metadata, events.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: tc.Function.Arguments,
		}))
	}
	e.publishEvent(ctx, events.NewFinalEvent(metadata, message))

	response := &Response{Text: message}
	for _, tc := range toolCalls {
		response.ToolCalls = append(response.ToolCalls, chat.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	log.Debug().
		Object("meta", metadata).
		Int("final_length", len(message)).
		Int("tool_call_count", len(toolCalls)).
		Msg("streaming inference complete")
	return response, nil
}

// Complete runs a plain, non-streaming completion and returns the text of the
// first choice. No events are published.
func (e *OpenAIEngine) Complete(ctx context.Context, model, system, prompt string) (string, error) {
	if model == "" {
		model = e.defaultModel
	}
	var messages []go_openai.ChatCompletionMessage
	if system != "" {
		messages = append(messages, go_openai.ChatCompletionMessage{
			Role:    go_openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, go_openai.ChatCompletionMessage{
		Role:    go_openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := e.client.CreateChatCompletion(ctx, go_openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return "", errors.Wrap(err, "create completion")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (e *OpenAIEngine) makeCompletionRequest(req *Request) go_openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = e.defaultModel
	}

	var messages []go_openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, go_openai.ChatCompletionMessage{
			Role:    go_openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	completionReq := go_openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		completionReq.Temperature = *req.Temperature
	}
	for _, tool := range req.Tools {
		completionReq.Tools = append(completionReq.Tools, go_openai.Tool{
			Type: go_openai.ToolTypeFunction,
			Function: &go_openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return completionReq
}

func convertMessage(m chat.Message) go_openai.ChatCompletionMessage {
	switch m.Role {
	case chat.RoleTool:
		return go_openai.ChatCompletionMessage{
			Role:       go_openai.ChatMessageRoleTool,
			Content:    m.Content,
			Name:       m.ToolName,
			ToolCallID: m.ToolCallID,
		}
	case chat.RoleAssistant:
		out := go_openai.ChatCompletionMessage{
			Role:    go_openai.ChatMessageRoleAssistant,
			Content: m.Content,
		}
		for _, tc := range m.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, go_openai.ToolCall{
				ID:   tc.ID,
				Type: go_openai.ToolTypeFunction,
				Function: go_openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return out
	case chat.RoleSystem:
		return go_openai.ChatCompletionMessage{
			Role:    go_openai.ChatMessageRoleSystem,
			Content: m.Content,
		}
	default:
		return convertUserMessage(m)
	}
}

// convertUserMessage folds attachments into the message. Images become
// multi-content parts; anything else is inlined as text.
func convertUserMessage(m chat.Message) go_openai.ChatCompletionMessage {
	images, text := splitAttachments(m)
	if len(images) == 0 {
		return go_openai.ChatCompletionMessage{
			Role:    go_openai.ChatMessageRoleUser,
			Content: text,
		}
	}

	parts := []go_openai.ChatMessagePart{{
		Type: go_openai.ChatMessagePartTypeText,
		Text: text,
	}}
	for _, part := range images {
		parts = append(parts, part)
	}
	return go_openai.ChatCompletionMessage{
		Role:         go_openai.ChatMessageRoleUser,
		MultiContent: parts,
	}
}

func splitAttachments(m chat.Message) ([]go_openai.ChatMessagePart, string) {
	var images []go_openai.ChatMessagePart
	text := m.Content
	for _, a := range m.Attachments {
		isImage := len(a.MediaType) > 6 && a.MediaType[:6] == "image/"
		switch {
		case isImage && len(a.Data) > 0:
			images = append(images, go_openai.ChatMessagePart{
				Type: go_openai.ChatMessagePartTypeImageURL,
				ImageURL: &go_openai.ChatMessageImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", a.MediaType, base64.StdEncoding.EncodeToString(a.Data)),
				},
			})
		case isImage && a.URL != "":
			images = append(images, go_openai.ChatMessagePart{
				Type:     go_openai.ChatMessagePartTypeImageURL,
				ImageURL: &go_openai.ChatMessageImageURL{URL: a.URL},
			})
		case len(a.Data) > 0:
			text += fmt.Sprintf("\n\nAttached file %s:\n%s", a.Name, string(a.Data))
		}
	}
	return images, text
}

func (e *OpenAIEngine) publishEvent(ctx context.Context, event events.Event) {
	for _, sink := range e.config.EventSinks {
		if err := sink.PublishEvent(event); err != nil {
			log.Warn().Err(err).Str("event_type", string(event.Type())).Msg("failed to publish event to sink")
		}
	}
	events.PublishEventToContext(ctx, event)
}
