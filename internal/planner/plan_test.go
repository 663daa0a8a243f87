package planner

import (
	"strings"
	"testing"

	"github.com/lightapirouter/router/internal/configcache"
	"github.com/lightapirouter/router/internal/httpparse"
)

func baseConfig() *configcache.ApiConfig {
	return &configcache.ApiConfig{
		BaseURL:        "https://api.openai.com",
		DefaultHeaders: map[string]string{"x-default": "1"},
		ModelMapping:   map[string]string{"gpt-4": "gpt-4-internal"},
		Endpoints: map[string]configcache.EndpointConfig{
			"/v1/chat/completions": {
				UpstreamPath:  "/v1beta/chat/completions",
				StreamSupport: true,
			},
		},
	}
}

func parsedRequest(route, body, authorization string) *httpparse.ParsedRequest {
	headers := map[string]string{"accept": "application/json"}
	if authorization != "" {
		headers["authorization"] = authorization
	}
	return &httpparse.ParsedRequest{
		Method:       "POST",
		Target:       route,
		Route:        strings.SplitN(route, "?", 2)[0],
		Headers:      headers,
		Body:         []byte(body),
		ClientAPIKey: "sk-client",
		RequestID:    "req-1",
	}
}

func TestPlanRewritesModelAndBuildsURL(t *testing.T) {
	cfg := baseConfig()
	req := parsedRequest("/v1/chat/completions", `{"model":"gpt-4","stream":true}`, "Bearer sk-client")

	plan, err := Plan(req, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.URL != "https://api.openai.com/v1beta/chat/completions" {
		t.Fatalf("unexpected url: %q", plan.URL)
	}
	if !strings.Contains(string(plan.Body), `"gpt-4-internal"`) {
		t.Fatalf("expected rewritten model in body, got %s", plan.Body)
	}
	if !plan.IsStream {
		t.Fatal("expected stream to be requested")
	}
	if v, _ := plan.Headers.Get("x-default"); v != "1" {
		t.Fatalf("expected default header applied, got %q", v)
	}
	if v, _ := plan.Headers.Get("authorization"); v != "Bearer sk-client" {
		t.Fatalf("expected authorization passed through, got %q", v)
	}
	if plan.ProviderTag != "openai" {
		t.Fatalf("expected provider tag 'openai', got %q", plan.ProviderTag)
	}
}

func TestPlanModelRewriteIsIdempotent(t *testing.T) {
	cfg := baseConfig()
	req := parsedRequest("/v1/chat/completions", `{"model":"gpt-4"}`, "")

	plan1, err := Plan(req, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req2 := parsedRequest("/v1/chat/completions", string(plan1.Body), "")
	plan2, err := Plan(req2, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(plan1.Body) != string(plan2.Body) {
		t.Fatalf("expected idempotent rewrite, got %s vs %s", plan1.Body, plan2.Body)
	}
}

func TestPlanWithoutEndpointOverridePassesRouteThrough(t *testing.T) {
	cfg := baseConfig()
	req := parsedRequest("/v1/embeddings", `{"model":"text-embedding-3"}`, "")

	plan, err := Plan(req, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.URL != "https://api.openai.com/v1/embeddings" {
		t.Fatalf("unexpected url: %q", plan.URL)
	}
	if plan.IsStream {
		t.Fatal("expected no streaming without endpoint stream support")
	}
}

func TestPlanMergesClientQueryWithUpstreamPath(t *testing.T) {
	cfg := baseConfig()
	req := parsedRequest("/v1/chat/completions?trace=1", `{}`, "")
	req.Target = "/v1/chat/completions?trace=1"

	plan, err := Plan(req, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(plan.URL, "trace=1") {
		t.Fatalf("expected client query merged into upstream url, got %q", plan.URL)
	}
}

func TestProviderTagFromHost(t *testing.T) {
	cases := map[string]string{
		"https://api.openai.com":    "openai",
		"https://api.anthropic.com": "anthropic",
		"https://ollama.local":      "ollama",
	}
	for baseURL, want := range cases {
		got := providerTag(baseURL)
		if got != want {
			t.Errorf("providerTag(%q) = %q, want %q", baseURL, got, want)
		}
	}
}
