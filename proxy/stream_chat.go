package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// flusher is satisfied by gin's ResponseWriter and httptest's; streaming
// writes are flushed after every record so the client sees them promptly.
type flusher interface{ Flush() }

// streamOpenAIChatToOllama translates an OpenAI SSE chat completion stream
// into Ollama NDJSON, writing each translated record to w as it arrives.
// Tool-call fragments are reassembled across deltas and emitted once, on
// the terminal record. Cancelling ctx aborts translation promptly.
func streamOpenAIChatToOllama(ctx context.Context, w io.Writer, upstream io.Reader, model string, includeThinking bool) error {
	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	calls := newToolCallBuffer()

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, ok := sseDataPayload(scanner.Text())
		if !ok {
			continue
		}
		if payload == "[DONE]" {
			return writeTerminalChatRecord(w, model, calls)
		}
		if !gjson.Valid(payload) {
			continue // malformed upstream SSE line: skip silently
		}

		delta := gjson.Get(payload, "choices.0.delta")
		if !delta.Exists() {
			continue
		}

		if includeThinking {
			thinking := delta.Get("reasoning_content")
			if !thinking.Exists() {
				thinking = delta.Get("thinking")
			}
			if thinking.Exists() && thinking.String() != "" {
				if err := writeChatChunk(w, model, OllamaMessage{Role: "assistant", Thinking: thinking.String()}, false); err != nil {
					return err
				}
			}
		}

		if content := delta.Get("content"); content.Exists() && content.String() != "" {
			if err := writeChatChunk(w, model, OllamaMessage{Role: "assistant", Content: content.String()}, false); err != nil {
				return err
			}
		}

		if toolCalls := delta.Get("tool_calls"); toolCalls.IsArray() {
			for _, fragment := range toolCalls.Array() {
				slot := calls.slot(int(fragment.Get("index").Int()))
				if id := fragment.Get("id"); id.Exists() {
					slot.id = id.String()
				}
				if name := fragment.Get("function.name"); name.Exists() {
					slot.name = name.String()
				}
				if args := fragment.Get("function.arguments"); args.Exists() {
					slot.argsRaw += args.String()
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	// upstream closed without a [DONE] sentinel; still emit the terminal record
	return writeTerminalChatRecord(w, model, calls)
}

func writeTerminalChatRecord(w io.Writer, model string, calls *toolCallBuffer) error {
	message := OllamaMessage{Role: "assistant", Content: ""}
	if !calls.empty() {
		message.ToolCalls = calls.finalize()
	}
	return writeChatChunk(w, model, message, true)
}

func writeChatChunk(w io.Writer, model string, message OllamaMessage, done bool) error {
	record, err := json.Marshal(ollamaChatResult{Model: model, Message: message, Done: done})
	if err != nil {
		return err
	}
	record = append(record, '\n')
	if _, err := w.Write(record); err != nil {
		return err
	}
	if f, ok := w.(flusher); ok {
		f.Flush()
	}
	return nil
}

// sseDataPayload extracts the JSON payload from an SSE line. Blank lines
// and lines without the data: prefix are not data frames.
func sseDataPayload(line string) (string, bool) {
	if line == "" || !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}
