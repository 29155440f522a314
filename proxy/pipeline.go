package proxy

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ollamarelay/gateway/config"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.opentelemetry.io/otel/trace"
)

// Pipeline is the per-process request orchestrator: read body, apply
// policy, select an upstream, optionally translate dialect, forward, and
// stream the response back. It holds only immutable, process-lifetime
// state; everything per-request lives in RequestContext.
type Pipeline struct {
	Config *config.AppConfig
	Logger *Logger
	Tracer trace.Tracer
}

// ServeHTTP implements the single catch-all route described in the HTTP
// surface: any method, any path.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")

	ctx, span := startPipelineSpan(r.Context(), p.Tracer, r.Method, path)
	defer func() { endPipelineSpan(span, nil) }()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		p.Logger.Errorf("reading request body: %v", err)
		http.Error(w, "Upstream request failed", http.StatusBadGateway)
		return
	}
	r.Body.Close()

	headers := r.Header.Clone()

	rc := RequestContext{Method: r.Method, Path: path}
	isChatOrGenerate := path == "api/chat" || path == "api/generate"
	payloadParsed := false
	// Upstream routing keys on the client-facing model name, read before
	// applyPolicy applies any upstream_model rewrite.
	routeModel := ""

	if isChatOrGenerate && len(body) > 0 {
		if gjson.ValidBytes(body) && gjson.ParseBytes(body).IsObject() {
			payloadParsed = true

			rc.IncludeThinking = gjson.GetBytes(body, "include_thinking").Bool()
			body, err = sjson.DeleteBytes(body, "include_thinking")
			if err != nil {
				p.Logger.Errorf("stripping include_thinking: %v", err)
				http.Error(w, "Upstream request failed", http.StatusBadGateway)
				return
			}

			routeModel = gjson.GetBytes(body, "model").String()
			body, err = applyPolicy(body, p.Config)
			if err != nil {
				p.Logger.Errorf("applying policy: %v", err)
				http.Error(w, "Upstream request failed", http.StatusBadGateway)
				return
			}

			rc.Model = gjson.GetBytes(body, "model").String()
			headers.Set("Content-Length", strconv.Itoa(len(body)))
		} else {
			p.Logger.Debugf("body on %s is not a JSON object; forwarding unmodified", path)
		}
	}

	rc.UpstreamBase = resolveUpstream(routeModel, p.Config)
	rc.UseOpenAIDialect = rc.UpstreamBase != p.Config.Server.Upstream && isChatOrGenerate && payloadParsed

	isChat := path == "api/chat"
	targetPath := path

	if rc.UseOpenAIDialect {
		if isChat {
			targetPath = "v1/chat/completions"
			body, err = ollamaChatToOpenAIChat(body)
		} else {
			targetPath = "v1/completions"
			body, err = ollamaGenerateToOpenAIGenerate(body)
		}
		if err != nil {
			p.Logger.Errorf("translating request dialect: %v", err)
			http.Error(w, "Upstream request failed", http.StatusBadGateway)
			return
		}
		headers.Set("Content-Type", "application/json")
		headers.Set("Content-Length", strconv.Itoa(len(body)))
		rc.Stream = gjson.GetBytes(body, "stream").Bool()
	}

	annotatePipelineSpan(span, rc.Model, rc.UpstreamBase, rc.UseOpenAIDialect, rc.Stream)

	target := joinUpstreamURL(rc.UpstreamBase, targetPath)
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	upstreamReq, err := http.NewRequestWithContext(ctx, r.Method, target, bytes.NewReader(body))
	if err != nil {
		p.Logger.Errorf("building upstream request: %v", err)
		http.Error(w, "Upstream request failed", http.StatusBadGateway)
		return
	}
	upstreamReq.Header = headers

	client := &http.Client{}
	resp, err := client.Do(upstreamReq)
	if err != nil {
		p.Logger.Errorf("upstream request failed: %s %s: %v", r.Method, target, err)
		client.CloseIdleConnections()
		http.Error(w, "Upstream request failed", http.StatusBadGateway)
		return
	}

	cleanup := func() {
		resp.Body.Close()
		client.CloseIdleConnections()
	}

	if resp.StatusCode >= 400 || !rc.UseOpenAIDialect {
		defer cleanup()
		copyResponseHeaders(w, resp)
		w.WriteHeader(resp.StatusCode)

		if isChat && !rc.UseOpenAIDialect && !rc.IncludeThinking && resp.StatusCode < 400 {
			if err := streamOllamaThinkingFilter(ctx, w, resp.Body, rc.IncludeThinking); err != nil {
				p.Logger.Debugf("thinking filter ended: %v", err)
			}
		} else {
			if err := streamPassthrough(ctx, w, resp.Body); err != nil {
				p.Logger.Debugf("passthrough ended: %v", err)
			}
		}
		return
	}

	// use_openai_dialect && status < 400
	if rc.Stream {
		defer cleanup()
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)

		if isChat {
			if err := streamOpenAIChatToOllama(ctx, w, resp.Body, rc.Model, rc.IncludeThinking); err != nil {
				p.Logger.Debugf("chat stream translation ended: %v", err)
			}
		} else {
			if err := streamOpenAIGenerateToOllama(ctx, w, resp.Body, rc.Model); err != nil {
				p.Logger.Debugf("generate stream translation ended: %v", err)
			}
		}
		return
	}

	upstreamBody, readErr := io.ReadAll(resp.Body)
	cleanup()
	if readErr != nil {
		p.Logger.Errorf("reading upstream response: %v", readErr)
		http.Error(w, "Upstream request failed", http.StatusBadGateway)
		return
	}

	if !gjson.ValidBytes(upstreamBody) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		w.Write(upstreamBody)
		return
	}

	var converted []byte
	if isChat {
		converted, err = openAIChatToOllamaChat(upstreamBody, rc.Model, rc.IncludeThinking)
	} else {
		converted, err = openAIGenerateToOllamaGenerate(upstreamBody, rc.Model)
	}
	if err != nil {
		p.Logger.Debugf("malformed upstream final JSON; forwarding raw: %v", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		w.Write(upstreamBody)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(converted)
}

// copyResponseHeaders copies the upstream response headers, dropping the
// ones that no longer describe the body once it's been (possibly)
// rewritten by a stream translator.
func copyResponseHeaders(w http.ResponseWriter, resp *http.Response) {
	dst := w.Header()
	for key, values := range resp.Header {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
	dst.Del("Content-Length")
	dst.Del("Transfer-Encoding")
}

// joinUpstreamURL joins a base URL and a path with exactly one separating
// slash, regardless of whether either side already carries one.
func joinUpstreamURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
