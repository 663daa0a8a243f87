// Package configcache loads and hot-reloads the JSON transformer file that
// describes an upstream provider (base URL, header overlays, model mapping,
// per-route overrides, rate limits, and streaming behaviour).
//
// It is grounded on the teacher's internal/config/sdk_config.go layout (a
// single struct tree with yaml/json tags and DefaultXxxConfig constructors)
// generalised from YAML to the JSON camelCase schema spec.md §6 requires, and
// on its use of github.com/fsnotify/fsnotify elsewhere in the pack for file
// watching, here applied to eagerly re-parse a changed file ahead of the
// next Load, which still compares the mtime on every call.
package configcache

// ApiConfig is a loaded transformer: everything the Planner needs to turn a
// ParsedRequest into a ForwardPlan for one upstream provider.
type ApiConfig struct {
	// BaseURL is the upstream origin, normalized (scheme added, trailing
	// slash stripped) by normalizeBaseURL when the file is parsed.
	BaseURL string `json:"baseUrl"`

	// DefaultHeaders are applied to every forwarded request before
	// per-endpoint overlays and client pass-through headers.
	DefaultHeaders map[string]string `json:"headers,omitempty"`

	// ModelMapping rewrites a client-supplied model name to the name the
	// upstream expects.
	ModelMapping map[string]string `json:"modelMapping,omitempty"`

	// Endpoints holds per-route overrides, keyed by the local route path
	// (case-sensitive).
	Endpoints map[string]EndpointConfig `json:"endpoints,omitempty"`

	// GlobalRateLimit is the fallback rate-limit settings used when an
	// endpoint doesn't specify its own.
	GlobalRateLimit *RateLimitSettings `json:"rateLimit,omitempty"`

	// GlobalStreamConfig is the fallback stream settings used when an
	// endpoint doesn't specify its own.
	GlobalStreamConfig *StreamSettings `json:"streamConfig,omitempty"`

	// ListenPort is the port the Acceptor binds to, absent a CLI override.
	ListenPort int `json:"port,omitempty"`
}

// EndpointConfig carries per-route overrides layered on top of ApiConfig.
type EndpointConfig struct {
	// UpstreamPath overrides the forwarded path; it may include a query
	// string, which is merged with the client's own query string.
	UpstreamPath string `json:"upstreamPath,omitempty"`

	// Method overrides the client's HTTP method when set.
	Method string `json:"method,omitempty"`

	// Headers are overlaid on top of ApiConfig.DefaultHeaders.
	Headers map[string]string `json:"headers,omitempty"`

	// StreamSupport indicates this route is allowed to stream via SSE.
	StreamSupport bool `json:"streamSupport,omitempty"`

	// RequiresMultipart indicates this route forwards a multipart body
	// unmodified rather than JSON.
	RequiresMultipart bool `json:"requiresMultipart,omitempty"`

	// RateLimit overrides the global rate-limit settings for this route.
	RateLimit *RateLimitSettings `json:"rateLimit,omitempty"`

	// StreamConfig overrides the global stream settings for this route.
	StreamConfig *StreamSettings `json:"streamConfig,omitempty"`
}

// RateLimitSettings configures a token bucket. RequestsPerMinute == 0 means
// unlimited; Burst defaults to RequestsPerMinute and is floored at 1 by
// Resolve.
type RateLimitSettings struct {
	RequestsPerMinute int `json:"requestsPerMinute"`
	Burst             int `json:"burst,omitempty"`
}

// StreamSettings configures the SSE copy loop.
type StreamSettings struct {
	BufferSize              int `json:"bufferSize,omitempty"`
	HeartbeatIntervalSecond int `json:"heartbeatIntervalSeconds,omitempty"`
}

const (
	defaultBufferSize        = 8192
	defaultHeartbeatInterval = 30
	defaultListenPort        = 8000
)

// Resolved returns settings with every default from spec.md §3 applied:
// a nil receiver, or any field that is zero or negative, gets its default.
func (s *StreamSettings) Resolved() StreamSettings {
	out := StreamSettings{
		BufferSize:              defaultBufferSize,
		HeartbeatIntervalSecond: defaultHeartbeatInterval,
	}
	if s == nil {
		return out
	}
	if s.BufferSize > 0 {
		out.BufferSize = s.BufferSize
	}
	if s.HeartbeatIntervalSecond > 0 {
		out.HeartbeatIntervalSecond = s.HeartbeatIntervalSecond
	}
	return out
}

// applyDefaults fills in struct-level defaults after JSON decode (port).
func (c *ApiConfig) applyDefaults() {
	if c.ListenPort <= 0 {
		c.ListenPort = defaultListenPort
	}
}
