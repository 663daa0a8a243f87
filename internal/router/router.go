// Package router implements component C8: the per-connection pipeline
// (read → parse → rate-limit → plan → forward → write) and the static
// route table from spec.md §4.5.
package router

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lightapirouter/router/internal/apierrors"
	"github.com/lightapirouter/router/internal/clockid"
	"github.com/lightapirouter/router/internal/configcache"
	"github.com/lightapirouter/router/internal/forwarder"
	"github.com/lightapirouter/router/internal/httpparse"
	"github.com/lightapirouter/router/internal/metrics"
	"github.com/lightapirouter/router/internal/planner"
	"github.com/lightapirouter/router/internal/ratelimit"
)

// maxHeaderBytes is the header-read cap from spec.md §4.5 ("at least 32 KiB").
const maxHeaderBytes = 32 * 1024

// EnvRateLimitDefaults carries the RATE_LIMIT_REQUESTS_PER_MINUTE /
// RATE_LIMIT_BURST environment fallback used by ratelimit.Resolve.
type EnvRateLimitDefaults struct {
	RequestsPerMinute int
	Burst             int
}

// Router wires together the components C8 depends on.
type Router struct {
	ConfigCache     *configcache.Cache
	ConfigPath      string
	Limiter         *ratelimit.Limiter
	Forwarder       *forwarder.Forwarder
	Metrics         metrics.Recorder
	MetricsRenderer metrics.Renderer
	Clock           clockid.Clock
	DefaultAPIKey   string
	EnvDefaults     EnvRateLimitDefaults

	activeConnections int64
}

// postRoutes is the subset of §4.5's route table that carries a body
// forwarded to an upstream, looked up by exact route path.
var postRoutes = map[string]routeKind{
	"/v1/chat/completions":     kindJSON,
	"/v1/completions":          kindJSON,
	"/v1/embeddings":           kindJSON,
	"/v1/audio/transcriptions": kindMultipart,
	"/v1/audio/translations":   kindMultipart,
	"/v1/messages":             kindJSON,
}

type routeKind int

const (
	kindJSON routeKind = iota
	kindMultipart
)

// HandleConnection implements the per-connection pipeline from spec.md
// §4.5. It reads exactly one request off conn, dispatches it, and returns
// once the response has been written (or an error occurred).
func (rt *Router) HandleConnection(conn net.Conn) {
	defer conn.Close()

	rt.Metrics.SetActiveConnections(float64(rt.incActive()))
	defer func() { rt.Metrics.SetActiveConnections(float64(rt.decActive())) }()

	start := rt.Clock.Now()
	requestID := rt.Clock.NewRequestID()

	reader := bufio.NewReader(conn)
	headBytes, err := readHeaderBlock(reader, maxHeaderBytes)
	if err != nil {
		writeError(conn, apierrors.New(apierrors.KindBadRequest, "malformed request"))
		rt.record("", "", 400, start)
		return
	}

	head, err := httpparse.ParseHead(headBytes)
	if err != nil {
		writeError(conn, err)
		rt.record("", "", 400, start)
		return
	}

	contentLength, err := head.ContentLength()
	if err != nil {
		writeError(conn, err)
		rt.record(routeOnly(head.Target()), head.Method(), 400, start)
		return
	}

	body := make([]byte, contentLength)
	if contentLength > 0 {
		if _, err := io.ReadFull(reader, body); err != nil {
			writeError(conn, apierrors.Wrap(apierrors.KindBadRequest, "failed to read request body", err))
			rt.record(routeOnly(head.Target()), head.Method(), 400, start)
			return
		}
	}

	clientAddr := ""
	if conn.RemoteAddr() != nil {
		clientAddr = conn.RemoteAddr().String()
	}
	req := head.Finish(body, requestID, clientAddr, rt.DefaultAPIKey)

	rt.dispatch(conn, req, start)
}

func (rt *Router) dispatch(conn net.Conn, req *httpparse.ParsedRequest, start time.Time) {
	switch {
	case req.Method == "GET" && req.Route == "/health":
		rt.handleHealth(conn)
		rt.record(req.Route, req.Method, 200, start)
		return
	case req.Method == "GET" && req.Route == "/metrics":
		rt.handleMetrics(conn)
		rt.record(req.Route, req.Method, 200, start)
		return
	case req.Method == "GET" && req.Route == "/v1/models":
		rt.handleModels(conn)
		rt.record(req.Route, req.Method, 200, start)
		return
	}

	kind, ok := postRoutes[req.Route]
	if !ok || req.Method != "POST" {
		writeError(conn, apierrors.New(apierrors.KindNotFound, "route not found"))
		rt.record(req.Route, req.Method, 404, start)
		return
	}

	cfg, err := rt.ConfigCache.Load(rt.ConfigPath)
	if err != nil {
		writeError(conn, err)
		rt.record(req.Route, req.Method, 500, start)
		return
	}

	endpoint, hasEndpoint := cfg.Endpoint(req.Route)
	var endpointLimit *configcache.RateLimitSettings
	if hasEndpoint {
		endpointLimit = endpoint.RateLimit
	}
	settings := ratelimit.Resolve(endpointLimit, cfg.GlobalRateLimit, rt.EnvDefaults.RequestsPerMinute, rt.EnvDefaults.Burst)

	decision := rt.Limiter.Check(req.Route, req.ClientAPIKey, settings)
	rt.Metrics.SetRateLimiterBuckets(float64(rt.Limiter.Snapshot().ActiveBuckets))
	if !decision.Allowed {
		writeError(conn, apierrors.RateLimited(decision.RetryAfterSeconds))
		rt.record(req.Route, req.Method, 429, start)
		return
	}

	if kind == kindMultipart && !hasEndpoint {
		// No endpoint configured for a multipart route: nothing to plan
		// against, fall through to 404 semantics via config.
		writeError(conn, apierrors.New(apierrors.KindNotFound, "route not configured"))
		rt.record(req.Route, req.Method, 404, start)
		return
	}

	plan, err := planner.Plan(req, cfg)
	if err != nil {
		writeError(conn, err)
		status := 502
		if apiErr, ok := err.(*apierrors.Error); ok {
			status = apiErr.Kind.HTTPStatus()
		}
		rt.record(req.Route, req.Method, status, start)
		return
	}

	result, err := rt.Forwarder.Forward(context.Background(), conn, plan, req.RequestID)
	if err != nil {
		apiErr, _ := err.(*apierrors.Error)
		writeError(conn, err)
		status := 502
		if apiErr != nil {
			status = apiErr.Kind.HTTPStatus()
			rt.Metrics.ObserveUpstreamError(apiErr.Kind.ErrorTypeLabel())
		}
		rt.record(req.Route, req.Method, status, start)
		return
	}

	rt.record(req.Route, req.Method, result.StatusCode, start)
}

func (rt *Router) record(route, method string, status int, start time.Time) {
	rt.Metrics.ObserveRequest(route, method, strconv.Itoa(status))
	rt.Metrics.ObserveLatency(route, rt.Clock.Now().Sub(start).Seconds())
}

func (rt *Router) incActive() int64 {
	rt.activeConnections++
	return rt.activeConnections
}

func (rt *Router) decActive() int64 {
	rt.activeConnections--
	return rt.activeConnections
}

// readHeaderBlock reads from r until it observes the CRLFCRLF header
// terminator, or returns an error once cap bytes have been read without
// finding one, per spec.md §4.5 step 2.
func readHeaderBlock(r *bufio.Reader, cap int) ([]byte, error) {
	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, apierrors.Wrap(apierrors.KindBadRequest, "failed to read request headers", err)
		}
		buf = append(buf, b)
		if len(buf) > cap {
			return nil, apierrors.New(apierrors.KindBadRequest, "request headers too large")
		}
		if len(buf) >= 4 && string(buf[len(buf)-4:]) == "\r\n\r\n" {
			return buf[:len(buf)-4], nil
		}
	}
}

func routeOnly(target string) string {
	if idx := strings.IndexByte(target, '?'); idx >= 0 {
		return target[:idx]
	}
	return target
}

func writeError(conn net.Conn, err error) {
	apiErr, ok := err.(*apierrors.Error)
	if !ok {
		apiErr = apierrors.Wrap(apierrors.KindIO, "internal error", err)
	}
	status := apiErr.Kind.HTTPStatus()
	body := `{"error":{"message":"` + escapeJSON(apiErr.Message) + `"}}`

	var extraHeaders string
	if apiErr.Kind == apierrors.KindRateLimited {
		extraHeaders = "Retry-After: " + strconv.Itoa(apiErr.RetryAfterSeconds) + "\r\n"
	}

	resp := "HTTP/1.1 " + strconv.Itoa(status) + " " + statusText(status) + "\r\n" +
		"Content-Type: application/json\r\n" +
		extraHeaders +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body

	if _, werr := conn.Write([]byte(resp)); werr != nil {
		log.WithError(werr).Debug("router: failed to write error response")
	}
}

func escapeJSON(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", "")
	return replacer.Replace(s)
}

func statusText(status int) string {
	switch status {
	case 200:
		return "OK"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 429:
		return "Too Many Requests"
	case 500:
		return "Internal Server Error"
	case 502:
		return "Bad Gateway"
	default:
		return "Error"
	}
}
