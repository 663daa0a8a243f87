package configcache

import "strings"

// normalizeBaseURL prepends https:// when no scheme is present and strips a
// trailing slash, per spec.md §4.1.
func normalizeBaseURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return trimmed
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	return strings.TrimSuffix(trimmed, "/")
}

// Endpoint looks up an endpoint override by route. The lookup is
// case-sensitive on the path, per spec.md §4.1.
func (c *ApiConfig) Endpoint(route string) (EndpointConfig, bool) {
	if c == nil || c.Endpoints == nil {
		return EndpointConfig{}, false
	}
	ep, ok := c.Endpoints[route]
	return ep, ok
}
