package proxy

import (
	"bufio"
	"context"
	"io"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// streamOllamaThinkingFilter forwards a native-dialect Ollama NDJSON stream,
// stripping message.thinking (and suppressing any chunk left with neither
// content nor done) unless the request opted into thinking passthrough.
func streamOllamaThinkingFilter(ctx context.Context, w io.Writer, upstream io.Reader, includeThinking bool) error {
	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if line == "" {
			continue
		}

		if includeThinking {
			if err := writeLine(w, line); err != nil {
				return err
			}
			continue
		}

		if !gjson.Valid(line) {
			if err := writeLine(w, line); err != nil {
				return err
			}
			continue
		}

		body := []byte(line)
		if gjson.GetBytes(body, "message.thinking").Exists() {
			var err error
			body, err = sjson.DeleteBytes(body, "message.thinking")
			if err != nil {
				return err
			}
		}

		content := gjson.GetBytes(body, "message.content")
		done := gjson.GetBytes(body, "done").Bool()
		contentFalsy := !content.Exists() || content.String() == ""
		if contentFalsy && !done {
			continue
		}

		if err := writeLine(w, string(body)); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func writeLine(w io.Writer, line string) error {
	if _, err := w.Write([]byte(line + "\n")); err != nil {
		return err
	}
	if f, ok := w.(flusher); ok {
		f.Flush()
	}
	return nil
}
