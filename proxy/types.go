package proxy

import "sort"

// RequestContext is the per-request state the pipeline accumulates while
// handling one inbound call. It never outlives the request.
type RequestContext struct {
	Method           string
	Path             string
	Model            string
	IncludeThinking  bool
	UpstreamBase     string
	UseOpenAIDialect bool
	Stream           bool
}

// ResolvedPolicy is the num_ctx/keep_alive pair to inject into a
// chat/generate payload after merging policy defaults with any
// per-model override. A nil field means "leave unset".
type ResolvedPolicy struct {
	NumCtx    *int
	KeepAlive interface{}
}

// toolCallBuffer accumulates streamed OpenAI tool-call fragments
// keyed by their delta index, so a multi-chunk call can be reassembled
// into a single Ollama tool_calls entry once the stream ends.
type toolCallBuffer struct {
	order []int
	slots map[int]*toolCallSlot
}

type toolCallSlot struct {
	id      string
	name    string
	argsRaw string
	fnType  string
}

func newToolCallBuffer() *toolCallBuffer {
	return &toolCallBuffer{slots: make(map[int]*toolCallSlot)}
}

func (b *toolCallBuffer) slot(index int) *toolCallSlot {
	s, ok := b.slots[index]
	if !ok {
		s = &toolCallSlot{fnType: "function"}
		b.slots[index] = s
		b.order = append(b.order, index)
	}
	return s
}

func (b *toolCallBuffer) empty() bool {
	return len(b.order) == 0
}

// finalize converts the buffered slots into Ollama tool calls in ascending
// index order, regardless of the order their fragments first arrived in.
func (b *toolCallBuffer) finalize() []OllamaToolCall {
	indices := make([]int, len(b.order))
	copy(indices, b.order)
	sort.Ints(indices)

	out := make([]OllamaToolCall, 0, len(indices))
	for _, idx := range indices {
		s := b.slots[idx]
		out = append(out, OllamaToolCall{
			Function: OllamaToolCallFunction{
				Name:      s.name,
				Arguments: parseJSONStringOrRaw(s.argsRaw),
			},
		})
	}
	return out
}
