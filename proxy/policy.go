package proxy

import (
	"github.com/ollamarelay/gateway/config"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// resolvePolicy merges policy defaults with any per-model override.
// Unset fields in the override leave the default (or absence) in place.
func resolvePolicy(model string, cfg *config.AppConfig) ResolvedPolicy {
	resolved := ResolvedPolicy{
		NumCtx:    cfg.Policy.Defaults.NumCtx,
		KeepAlive: cfg.Policy.Defaults.KeepAlive,
	}

	mp, found := cfg.ModelPolicyFor(model)
	if !found {
		return resolved
	}
	if mp.NumCtx != nil {
		resolved.NumCtx = mp.NumCtx
	}
	if mp.KeepAlive != nil {
		resolved.KeepAlive = mp.KeepAlive
	}
	return resolved
}

// resolveUpstream returns the base URL a model's requests should be
// sent to: its own override if configured, else the default upstream.
func resolveUpstream(model string, cfg *config.AppConfig) string {
	if mp, found := cfg.ModelPolicyFor(model); found && mp.Upstream != "" {
		return mp.Upstream
	}
	return cfg.Server.Upstream
}

// applyPolicy mutates a chat/generate JSON body in place: it fills in
// options.num_ctx and top-level keep_alive from the resolved policy,
// but never overwrites a value the caller already supplied, and
// rewrites payload.model to the configured upstream alias if one is
// set. It returns the (possibly reallocated) body bytes.
func applyPolicy(body []byte, cfg *config.AppConfig) ([]byte, error) {
	model := gjson.GetBytes(body, "model").String()
	resolved := resolvePolicy(model, cfg)

	var err error
	if absentOrNull(body, "options") {
		body, err = sjson.SetRawBytes(body, "options", []byte("{}"))
		if err != nil {
			return nil, err
		}
	}

	if resolved.NumCtx != nil && absentOrNull(body, "options.num_ctx") {
		body, err = sjson.SetBytes(body, "options.num_ctx", *resolved.NumCtx)
		if err != nil {
			return nil, err
		}
	}

	if resolved.KeepAlive != nil && absentOrNull(body, "keep_alive") {
		body, err = sjson.SetBytes(body, "keep_alive", resolved.KeepAlive)
		if err != nil {
			return nil, err
		}
	}

	if mp, found := cfg.ModelPolicyFor(model); found && mp.UpstreamModel != "" {
		body, err = sjson.SetBytes(body, "model", mp.UpstreamModel)
		if err != nil {
			return nil, err
		}
	}

	return body, nil
}

// absentOrNull reports whether path is missing from body or explicitly
// set to JSON null. Both cases are "not yet supplied by the caller" for
// policy-injection purposes.
func absentOrNull(body []byte, path string) bool {
	r := gjson.GetBytes(body, path)
	return !r.Exists() || r.Type == gjson.Null
}
