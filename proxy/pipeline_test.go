package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ollamarelay/gateway/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestPipeline(cfg *config.AppConfig) *Pipeline {
	return &Pipeline{Config: cfg, Logger: NewLogger()}
}

func TestPipeline_NativePassthrough(t *testing.T) {
	var receivedPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"models":[]}`))
	}))
	defer upstream.Close()

	cfg := &config.AppConfig{Server: config.ServerConfig{Listen: "x:1", Upstream: upstream.URL}}
	p := newTestPipeline(cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/tags", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, "/api/tags", receivedPath)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"models":[]}`, rec.Body.String())
}

func TestPipeline_PolicyInjectedIntoUpstreamBody(t *testing.T) {
	var receivedBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"llama3","message":{"role":"assistant","content":"hi"},"done":true}`))
	}))
	defer upstream.Close()

	cfg := &config.AppConfig{
		Server: config.ServerConfig{Listen: "x:1", Upstream: upstream.URL},
		Policy: config.PolicyConfig{
			Defaults: config.PolicyDefaults{NumCtx: intPtr(8192)},
			Models: map[string]config.ModelPolicy{
				"llama3": {NumCtx: intPtr(32768), KeepAlive: "60s"},
			},
		},
	}
	p := newTestPipeline(cfg)

	body := strings.NewReader(`{"model":"llama3","messages":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", body)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.NotNil(t, receivedBody)
	assert.Equal(t, int64(32768), gjson.GetBytes(receivedBody, "options.num_ctx").Int())
	assert.Equal(t, "60s", gjson.GetBytes(receivedBody, "keep_alive").String())
}

func TestPipeline_IncludeThinkingNeverForwardedUpstream(t *testing.T) {
	var receivedBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"model":"m","message":{"role":"assistant","content":""},"done":true}`))
	}))
	defer upstream.Close()

	cfg := &config.AppConfig{Server: config.ServerConfig{Listen: "x:1", Upstream: upstream.URL}}
	p := newTestPipeline(cfg)

	body := strings.NewReader(`{"model":"m","messages":[],"include_thinking":true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", body)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.NotNil(t, receivedBody)
	assert.False(t, gjson.GetBytes(receivedBody, "include_thinking").Exists())
}

func TestPipeline_OpenAIDialectBuffered(t *testing.T) {
	var receivedPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`))
	}))
	defer upstream.Close()
	defaultUpstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not hit default upstream")
	}))
	defer defaultUpstream.Close()

	cfg := &config.AppConfig{
		Server: config.ServerConfig{Listen: "x:1", Upstream: defaultUpstream.URL},
		Policy: config.PolicyConfig{
			Models: map[string]config.ModelPolicy{
				"gpt-backed": {Upstream: upstream.URL},
			},
		},
	}
	p := newTestPipeline(cfg)

	body := strings.NewReader(`{"model":"gpt-backed","messages":[{"role":"user","content":"hi"}],"stream":false}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", body)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, "/v1/chat/completions", receivedPath)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", gjson.GetBytes(rec.Body.Bytes(), "message.content").String())
	assert.True(t, gjson.GetBytes(rec.Body.Bytes(), "done").Bool())
}

func TestPipeline_OpenAIDialectStreaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n"))
		w.Write([]byte("data: [DONE]\n"))
	}))
	defer upstream.Close()

	cfg := &config.AppConfig{
		Server: config.ServerConfig{Listen: "x:1", Upstream: "http://default.invalid"},
		Policy: config.PolicyConfig{
			Models: map[string]config.ModelPolicy{
				"gpt-backed": {Upstream: upstream.URL},
			},
		},
	}
	p := newTestPipeline(cfg)

	body := strings.NewReader(`{"model":"gpt-backed","messages":[],"stream":true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", body)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	lines := splitNDJSON(rec.Body.String())
	require.Len(t, lines, 2)
	assert.Equal(t, "hi", gjson.Get(lines[0], "message.content").String())
	assert.True(t, gjson.Get(lines[1], "done").Bool())
}

func TestPipeline_UpstreamUnreachableReturns502(t *testing.T) {
	cfg := &config.AppConfig{Server: config.ServerConfig{Listen: "x:1", Upstream: "http://127.0.0.1:1"}}
	p := newTestPipeline(cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/tags", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Upstream request failed")
}

func TestPipeline_NativeChatThinkingFilterApplied(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{\"message\":{\"thinking\":\"x\",\"content\":\"\"},\"done\":false}\n"))
		w.Write([]byte("{\"message\":{\"content\":\"hi\"},\"done\":false}\n"))
	}))
	defer upstream.Close()

	cfg := &config.AppConfig{Server: config.ServerConfig{Listen: "x:1", Upstream: upstream.URL}}
	p := newTestPipeline(cfg)

	body := strings.NewReader(`{"model":"m","messages":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", body)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	lines := splitNDJSON(rec.Body.String())
	require.Len(t, lines, 1)
	assert.False(t, gjson.Get(lines[0], "message.thinking").Exists())
}
