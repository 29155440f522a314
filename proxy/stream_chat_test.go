package proxy

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestStreamOpenAIChatToOllama_ContentThenDone(t *testing.T) {
	input := strings.NewReader(
		"data: {\"choices\":[{\"delta\":{\"content\":\"こんにちは\"}}]}\n" +
			"data: [DONE]\n",
	)
	var out bytes.Buffer

	err := streamOpenAIChatToOllama(context.Background(), &out, input, "m", false)
	require.NoError(t, err)

	lines := splitNDJSON(out.String())
	require.Len(t, lines, 2)

	assert.Equal(t, "m", gjson.Get(lines[0], "model").String())
	assert.Equal(t, "こんにちは", gjson.Get(lines[0], "message.content").String())
	assert.False(t, gjson.Get(lines[0], "done").Bool())

	assert.Equal(t, "", gjson.Get(lines[1], "message.content").String())
	assert.True(t, gjson.Get(lines[1], "done").Bool())
}

func TestStreamOpenAIChatToOllama_ToolCallReassembly(t *testing.T) {
	input := strings.NewReader(
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"fn","arguments":""}}]}}]}` + "\n" +
			`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"k\":"}}]}}]}` + "\n" +
			`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"v\"}"}}]}}]}` + "\n" +
			"data: [DONE]\n",
	)
	var out bytes.Buffer

	err := streamOpenAIChatToOllama(context.Background(), &out, input, "m", false)
	require.NoError(t, err)

	lines := splitNDJSON(out.String())
	require.Len(t, lines, 1)

	last := lines[len(lines)-1]
	assert.True(t, gjson.Get(last, "done").Bool())
	assert.Equal(t, "fn", gjson.Get(last, "message.tool_calls.0.function.name").String())
	assert.Equal(t, "v", gjson.Get(last, "message.tool_calls.0.function.arguments.k").String())
}

func TestStreamOpenAIChatToOllama_ToolCallsEmittedInAscendingIndexOrder(t *testing.T) {
	input := strings.NewReader(
		`data: {"choices":[{"delta":{"tool_calls":[{"index":1,"function":{"name":"second","arguments":"{}"}}]}}]}` + "\n" +
			`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"name":"first","arguments":"{}"}}]}}]}` + "\n" +
			"data: [DONE]\n",
	)
	var out bytes.Buffer

	err := streamOpenAIChatToOllama(context.Background(), &out, input, "m", false)
	require.NoError(t, err)

	lines := splitNDJSON(out.String())
	require.Len(t, lines, 1)

	last := lines[0]
	assert.Equal(t, "first", gjson.Get(last, "message.tool_calls.0.function.name").String())
	assert.Equal(t, "second", gjson.Get(last, "message.tool_calls.1.function.name").String())
}

func TestStreamOpenAIChatToOllama_ExactlyOneDoneRecordAndItIsLast(t *testing.T) {
	input := strings.NewReader(
		`data: {"choices":[{"delta":{"content":"a"}}]}` + "\n" +
			`data: {"choices":[{"delta":{"content":"b"}}]}` + "\n" +
			"data: [DONE]\n",
	)
	var out bytes.Buffer

	err := streamOpenAIChatToOllama(context.Background(), &out, input, "m", false)
	require.NoError(t, err)

	lines := splitNDJSON(out.String())
	doneCount := 0
	for i, l := range lines {
		if gjson.Get(l, "done").Bool() {
			doneCount++
			assert.Equal(t, len(lines)-1, i, "done record must be last")
		}
	}
	assert.Equal(t, 1, doneCount)
}

func TestStreamOpenAIChatToOllama_ThinkingOnlyWhenRequested(t *testing.T) {
	input := strings.NewReader(
		`data: {"choices":[{"delta":{"reasoning_content":"because"}}]}` + "\n" +
			"data: [DONE]\n",
	)

	var withThinking bytes.Buffer
	require.NoError(t, streamOpenAIChatToOllama(context.Background(), &withThinking, input, "m", true))
	lines := splitNDJSON(withThinking.String())
	assert.Equal(t, "because", gjson.Get(lines[0], "message.thinking").String())

	input2 := strings.NewReader(
		`data: {"choices":[{"delta":{"reasoning_content":"because"}}]}` + "\n" +
			"data: [DONE]\n",
	)
	var withoutThinking bytes.Buffer
	require.NoError(t, streamOpenAIChatToOllama(context.Background(), &withoutThinking, input2, "m", false))
	lines2 := splitNDJSON(withoutThinking.String())
	// only the terminal done:true record should be present; no thinking chunk
	require.Len(t, lines2, 1)
	assert.True(t, gjson.Get(lines2[0], "done").Bool())
}

func TestStreamOpenAIChatToOllama_MalformedLineSkipped(t *testing.T) {
	input := strings.NewReader(
		"data: not json\n" +
			`data: {"choices":[{"delta":{"content":"ok"}}]}` + "\n" +
			"data: [DONE]\n",
	)
	var out bytes.Buffer

	err := streamOpenAIChatToOllama(context.Background(), &out, input, "m", false)
	require.NoError(t, err)

	lines := splitNDJSON(out.String())
	require.Len(t, lines, 2)
	assert.Equal(t, "ok", gjson.Get(lines[0], "message.content").String())
}

func splitNDJSON(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
