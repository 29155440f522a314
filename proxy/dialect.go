package proxy

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// OllamaMessage is the message object embedded in a translated /api/chat
// response body.
type OllamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Thinking  string           `json:"thinking,omitempty"`
	ToolCalls []OllamaToolCall `json:"tool_calls,omitempty"`
}

// OllamaToolCall is a single reassembled tool invocation in Ollama's shape.
type OllamaToolCall struct {
	Function OllamaToolCallFunction `json:"function"`
}

type OllamaToolCallFunction struct {
	Name      string      `json:"name"`
	Arguments interface{} `json:"arguments"`
}

type ollamaChatResult struct {
	Model   string        `json:"model"`
	Message OllamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

type ollamaGenerateResult struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// ollamaChatToOpenAIChat converts a (policy-applied) /api/chat request body
// into the OpenAI Chat Completions request shape. Fields the OpenAI dialect
// doesn't recognize are dropped rather than carried through.
func ollamaChatToOpenAIChat(body []byte) ([]byte, error) {
	out := map[string]interface{}{
		"model":      gjson.GetBytes(body, "model").Value(),
		"stream":     gjson.GetBytes(body, "stream").Bool(),
		"max_tokens": -1,
	}
	if messages := gjson.GetBytes(body, "messages"); messages.Exists() {
		out["messages"] = messages.Value()
	}
	if tools := gjson.GetBytes(body, "tools"); tools.Exists() {
		out["tools"] = tools.Value()
	}
	if gjson.GetBytes(body, "think").Bool() {
		out["enable_thinking"] = true
	}
	return json.Marshal(out)
}

// ollamaGenerateToOpenAIGenerate converts an /api/generate request body into
// the OpenAI legacy Completions request shape.
func ollamaGenerateToOpenAIGenerate(body []byte) ([]byte, error) {
	out := map[string]interface{}{
		"model":      gjson.GetBytes(body, "model").Value(),
		"prompt":     gjson.GetBytes(body, "prompt").String(),
		"stream":     gjson.GetBytes(body, "stream").Bool(),
		"max_tokens": -1,
	}
	return json.Marshal(out)
}

// openAIChatToOllamaChat converts a non-streaming OpenAI Chat Completions
// response into an Ollama /api/chat response.
func openAIChatToOllamaChat(body []byte, model string, includeThinking bool) ([]byte, error) {
	msg := gjson.GetBytes(body, "choices.0.message")

	message := OllamaMessage{
		Role:    "assistant",
		Content: msg.Get("content").String(), // null or absent both stringify to ""
	}

	if includeThinking {
		if reasoning := msg.Get("reasoning_content"); reasoning.Exists() {
			message.Thinking = reasoning.String()
		}
	}

	if toolCalls := msg.Get("tool_calls"); toolCalls.IsArray() {
		message.ToolCalls = convertOpenAIToolCalls(toolCalls)
	}

	return json.Marshal(ollamaChatResult{Model: model, Message: message, Done: true})
}

// openAIGenerateToOllamaGenerate converts a non-streaming OpenAI legacy
// Completions response into an Ollama /api/generate response.
func openAIGenerateToOllamaGenerate(body []byte, model string) ([]byte, error) {
	text := gjson.GetBytes(body, "choices.0.text").String()
	return json.Marshal(ollamaGenerateResult{Model: model, Response: text, Done: true})
}

// convertOpenAIToolCalls converts an OpenAI tool_calls array into Ollama
// tool calls, preserving array order.
func convertOpenAIToolCalls(toolCalls gjson.Result) []OllamaToolCall {
	items := toolCalls.Array()
	out := make([]OllamaToolCall, 0, len(items))
	for _, item := range items {
		out = append(out, OllamaToolCall{
			Function: OllamaToolCallFunction{
				Name:      item.Get("function.name").String(),
				Arguments: parseToolArguments(item.Get("function.arguments")),
			},
		})
	}
	return out
}

// parseToolArguments parses item.function.arguments as JSON when it is a
// string, or returns the raw value otherwise; a parse failure preserves the
// raw string rather than raising.
func parseToolArguments(raw gjson.Result) interface{} {
	if raw.Type != gjson.String {
		return raw.Value()
	}
	return parseJSONStringOrRaw(raw.String())
}

// parseJSONStringOrRaw tries to decode s as JSON, falling back to s itself
// on failure. Shared with the streaming tool-call buffer, whose arguments
// accumulator is always a concatenated string.
func parseJSONStringOrRaw(s string) interface{} {
	var parsed interface{}
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return s
	}
	return parsed
}
