// Package planner implements component C6: turning a ParsedRequest plus the
// active ApiConfig into a ForwardPlan the Forwarder can execute.
//
// Body field inspection/rewriting uses github.com/tidwall/gjson and
// github.com/tidwall/sjson so a multi-megabyte chat-completion body never
// needs a full unmarshal/marshal round trip just to read or rewrite one
// "model" or "stream" field — directly grounded in the teacher's own use of
// gjson for field extraction on provider payloads
// (internal/errors/provider_errors.go, internal/translator/reasoning/*.go).
package planner

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/lightapirouter/router/internal/configcache"
	"github.com/lightapirouter/router/internal/httpparse"
)

// ForwardPlan is the output of Plan, per spec.md §3.
type ForwardPlan struct {
	Method                  string
	URL                     string
	Headers                 *Headers
	Body                    []byte
	IsStream                bool
	IsMultipart             bool
	EffectiveStreamSettings configcache.StreamSettings
	ProviderTag             string
}

// passThroughHeaders are forwarded from the client verbatim, per spec.md
// §4.4. content-type and anthropic-version are conditional, handled in Plan.
var passThroughHeaders = []string{"authorization", "accept", "user-agent", "x-request-id"}

// Plan builds a ForwardPlan from a parsed request and the active config,
// per spec.md §4.4.
func Plan(req *httpparse.ParsedRequest, cfg *configcache.ApiConfig) (*ForwardPlan, error) {
	endpoint, hasEndpoint := cfg.Endpoint(req.Route)

	method := req.Method
	if hasEndpoint && endpoint.Method != "" {
		method = endpoint.Method
	}

	upstreamPath := buildUpstreamPath(req, endpoint, hasEndpoint)

	url, err := joinURL(cfg.BaseURL, upstreamPath)
	if err != nil {
		return nil, err
	}

	headers := buildHeaders(req, cfg, endpoint, hasEndpoint)

	body := req.Body
	isMultipart := hasEndpoint && endpoint.RequiresMultipart
	if !isMultipart {
		body = rewriteModel(body, cfg.ModelMapping)
	}

	isStream := hasEndpoint && endpoint.StreamSupport && bodyWantsStream(body)

	streamSettings := resolveStreamSettings(endpoint, hasEndpoint, cfg)

	return &ForwardPlan{
		Method:                  method,
		URL:                     url,
		Headers:                 headers,
		Body:                    body,
		IsStream:                isStream,
		IsMultipart:             isMultipart,
		EffectiveStreamSettings: streamSettings,
		ProviderTag:             providerTag(cfg.BaseURL),
	}, nil
}

func buildUpstreamPath(req *httpparse.ParsedRequest, endpoint configcache.EndpointConfig, hasEndpoint bool) string {
	clientQuery := ""
	if idx := strings.IndexByte(req.Target, '?'); idx >= 0 {
		clientQuery = req.Target[idx+1:]
	}

	if !hasEndpoint || endpoint.UpstreamPath == "" {
		if clientQuery == "" {
			return req.Route
		}
		return req.Route + "?" + clientQuery
	}

	path := endpoint.UpstreamPath
	if clientQuery == "" {
		return path
	}
	if strings.Contains(path, "?") {
		return path + "&" + clientQuery
	}
	return path + "?" + clientQuery
}

func buildHeaders(req *httpparse.ParsedRequest, cfg *configcache.ApiConfig, endpoint configcache.EndpointConfig, hasEndpoint bool) *Headers {
	h := NewHeaders()

	for name, value := range cfg.DefaultHeaders {
		h.Set(name, value)
	}
	if hasEndpoint {
		for name, value := range endpoint.Headers {
			h.Set(name, value)
		}
	}

	for _, name := range passThroughHeaders {
		if value, ok := req.Headers[name]; ok {
			h.Set(name, value)
		}
	}
	if hasEndpoint && endpoint.RequiresMultipart {
		if value, ok := req.Headers["content-type"]; ok {
			h.Set("content-type", value)
		}
	}
	if value, ok := req.Headers["anthropic-version"]; ok {
		h.Set("anthropic-version", value)
	}

	return h
}

// rewriteModel implements spec.md §4.4's model-name rewrite with a single
// mapping lookup. A second pass over its output is a no-op when the mapped
// name is not itself a mapping key; when it is (chained mappings such as
// a->b, b->c), the second pass rewrites it again, so the rewrite is not
// idempotent for such mappings.
func rewriteModel(body []byte, mapping map[string]string) []byte {
	if len(mapping) == 0 || len(body) == 0 {
		return body
	}
	model := gjson.GetBytes(body, "model")
	if !model.Exists() {
		return body
	}
	mapped, ok := mapping[model.String()]
	if !ok || mapped == model.String() {
		return body
	}
	out, err := sjson.SetBytes(body, "model", mapped)
	if err != nil {
		return body
	}
	return out
}

func bodyWantsStream(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	return gjson.GetBytes(body, "stream").Bool()
}

func resolveStreamSettings(endpoint configcache.EndpointConfig, hasEndpoint bool, cfg *configcache.ApiConfig) configcache.StreamSettings {
	if hasEndpoint && endpoint.StreamConfig != nil {
		return endpoint.StreamConfig.Resolved()
	}
	return cfg.GlobalStreamConfig.Resolved()
}

// providerTag derives a short logging/metrics tag from the upstream host,
// per spec.md §4.4 (e.g. api.openai.com -> openai).
func providerTag(baseURL string) string {
	host := hostOf(baseURL)
	labels := strings.Split(host, ".")
	if len(labels) >= 3 && labels[0] == "api" {
		return labels[1]
	}
	if len(labels) > 0 && labels[0] != "" {
		return labels[0]
	}
	return host
}

func hostOf(baseURL string) string {
	rest := baseURL
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
	}
	if idx := strings.IndexAny(rest, "/:"); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}
