// Package prompts holds the model-facing prompt text used across the
// service. Keeping them in one place makes wording changes reviewable.
package prompts

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a helpful, knowledgeable assistant. Answer the user directly and concisely. When you used a tool, weave its result into your answer instead of describing the tool call. If you are unsure, say so rather than guessing.`

// System returns the base system prompt for a streamed turn.
func System() string {
	return systemPrompt
}

// TitleInstruction asks for a short conversation title. Sent after the first
// completed turn.
func TitleInstruction(query, answer string) string {
	return fmt.Sprintf(`Write a title of at most 5 words for a conversation that starts like this. Reply with the title only, no quotes.

User: %s
Assistant: %s`, query, answer)
}

// SummaryPrompt asks for a rolling conversation summary as JSON so the
// response can be parsed without trusting the model's framing. The previous
// summary, when present, is folded in.
func SummaryPrompt(previousSummary string, transcript string) string {
	var sb strings.Builder
	sb.WriteString("Summarize the following conversation in at most 400 words, keeping facts, decisions and open questions. ")
	sb.WriteString(`Reply with JSON of the form {"summary": "..."} and nothing else.`)
	if previousSummary != "" {
		sb.WriteString("\n\nEarlier summary to fold in:\n")
		sb.WriteString(previousSummary)
	}
	sb.WriteString("\n\nConversation:\n")
	sb.WriteString(transcript)
	return sb.String()
}

// ToolSuggestionPrompt asks which of the available tools would help with a
// query. The reply is JSON so a malformed answer can be discarded cheaply.
func ToolSuggestionPrompt(toolNames []string, query string) string {
	return fmt.Sprintf(`Given the available tools [%s], which would help answer the user's query? Reply with JSON of the form {"suggested_tools": ["name"], "description": "why"} and nothing else. Suggest no tools if none apply.

Query: %s`, strings.Join(toolNames, ", "), query)
}

// MemoryExtraction asks for a one-line fact about the user worth remembering,
// or NONE.
func MemoryExtraction(query, answer string) string {
	return fmt.Sprintf(`Extract one short fact about the user worth remembering across conversations from this exchange, phrased in third person. Reply with the fact only, or NONE if there is nothing durable.

User: %s
Assistant: %s`, query, answer)
}
