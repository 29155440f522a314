package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/tidwall/gjson"
)

// streamOpenAIGenerateToOllama translates an OpenAI SSE legacy Completions
// stream into Ollama NDJSON.
func streamOpenAIGenerateToOllama(ctx context.Context, w io.Writer, upstream io.Reader, model string) error {
	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

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
			return writeGenerateChunk(w, model, "", true)
		}
		if !gjson.Valid(payload) {
			continue
		}

		text := gjson.Get(payload, "choices.0.text")
		if !text.Exists() || text.Type == gjson.Null {
			continue
		}
		if err := writeGenerateChunk(w, model, text.String(), false); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return writeGenerateChunk(w, model, "", true)
}

// writeGenerateChunk emits {model, response, done:false} for content
// chunks, or the terminal {model, done:true} with no response field.
func writeGenerateChunk(w io.Writer, model, text string, done bool) error {
	out := map[string]interface{}{"model": model, "done": done}
	if !done {
		out["response"] = text
	}
	record, err := json.Marshal(out)
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
