package router

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/lightapirouter/router/internal/circuitbreaker"
	"github.com/lightapirouter/router/internal/configcache"
	"github.com/lightapirouter/router/internal/connpool"
	"github.com/lightapirouter/router/internal/forwarder"
	"github.com/lightapirouter/router/internal/ratelimit"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time       { return c.now }
func (c *fakeClock) NewRequestID() string { return "fixed-request-id" }

type fakeSource struct {
	mtime   time.Time
	content []byte
}

func (f *fakeSource) ModTime(path string) (time.Time, error) { return f.mtime, nil }
func (f *fakeSource) ReadFile(path string) ([]byte, error)   { return f.content, nil }

type fakeRecorder struct{}

func (fakeRecorder) ObserveRequest(route, method, status string) {}
func (fakeRecorder) ObserveLatency(route string, seconds float64) {}
func (fakeRecorder) ObserveUpstreamError(errorType string)        {}
func (fakeRecorder) SetActiveConnections(n float64)                {}
func (fakeRecorder) SetRateLimiterBuckets(n float64)                {}
func (fakeRecorder) Render() ([]byte, string)                       { return []byte("# metrics\n"), "text/plain" }

type tcpDialer struct{ addr string }

func (d tcpDialer) Dial(ctx context.Context, dest connpool.Destination) (net.Conn, error) {
	return net.Dial("tcp", d.addr)
}

func startFakeUpstream(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start fake upstream: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		body := `{"id":"chatcmpl-1"}`
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: 19\r\n\r\n" + body))
	}()
	return ln.Addr().String()
}

func newTestRouter(t *testing.T, configJSON string) *Router {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cache := configcache.New(&fakeSource{mtime: time.Unix(1, 0), content: []byte(configJSON)})

	addr := startFakeUpstream(t)
	pool := connpool.New(connpool.DefaultConfig(), tcpDialer{addr: addr}, clock)
	fwd := &forwarder.Forwarder{
		Pool:    pool,
		Clock:   clock,
		Metrics: fakeRecorder{},
		Tracker: circuitbreaker.New(func() time.Time { return clock.now }),
	}

	return &Router{
		ConfigCache:     cache,
		ConfigPath:      "cfg.json",
		Limiter:         ratelimit.New(clock),
		Forwarder:       fwd,
		Metrics:         fakeRecorder{},
		MetricsRenderer: fakeRecorder{},
		Clock:           clock,
		DefaultAPIKey:   "default-key",
	}
}

func roundTrip(t *testing.T, rt *Router, request string) string {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	done := make(chan struct{})
	go func() {
		rt.HandleConnection(serverConn)
		close(done)
	}()

	clientConn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := clientConn.Write([]byte(request)); err != nil {
		t.Fatalf("failed to write request: %v", err)
	}

	var out strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := clientConn.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	<-done
	return out.String()
}

const minimalConfig = `{"baseUrl":"api.example.com","endpoints":{"/v1/chat/completions":{"streamSupport":false}}}`

func TestHealthEndpoint(t *testing.T) {
	rt := newTestRouter(t, minimalConfig)
	resp := roundTrip(t, rt, "GET /health HTTP/1.1\r\nHost: localhost\r\n\r\n")
	if !strings.Contains(resp, "200 OK") {
		t.Fatalf("expected 200 OK, got %q", resp)
	}
	if !strings.Contains(resp, `"status":"ok"`) {
		t.Fatalf("expected status ok in body, got %q", resp)
	}
}

func TestModelsEndpoint(t *testing.T) {
	rt := newTestRouter(t, minimalConfig)
	resp := roundTrip(t, rt, "GET /v1/models HTTP/1.1\r\nHost: localhost\r\n\r\n")
	if !strings.Contains(resp, "200 OK") || !strings.Contains(resp, `"object":"list"`) {
		t.Fatalf("unexpected models response: %q", resp)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	rt := newTestRouter(t, minimalConfig)
	resp := roundTrip(t, rt, "GET /nope HTTP/1.1\r\nHost: localhost\r\n\r\n")
	if !strings.Contains(resp, "404") {
		t.Fatalf("expected 404, got %q", resp)
	}
}

func TestChatCompletionsForwardsToUpstream(t *testing.T) {
	rt := newTestRouter(t, minimalConfig)
	body := `{"model":"gpt-4"}`
	req := "POST /v1/chat/completions HTTP/1.1\r\nHost: localhost\r\nContent-Length: " +
		strconvItoa(len(body)) + "\r\n\r\n" + body
	resp := roundTrip(t, rt, req)
	if !strings.Contains(resp, "200 OK") || !strings.Contains(resp, "chatcmpl-1") {
		t.Fatalf("expected forwarded upstream response, got %q", resp)
	}
}

func TestRateLimitExceededReturns429(t *testing.T) {
	configJSON := `{"baseUrl":"api.example.com","endpoints":{"/v1/chat/completions":` +
		`{"streamSupport":false,"rateLimit":{"requestsPerMinute":60,"burst":1}}}}`
	rt := newTestRouter(t, configJSON)

	body := `{"model":"gpt-4"}`
	req := "POST /v1/chat/completions HTTP/1.1\r\nHost: localhost\r\nContent-Length: " +
		strconvItoa(len(body)) + "\r\n\r\n" + body

	first := roundTrip(t, rt, req)
	if !strings.Contains(first, "200 OK") {
		t.Fatalf("expected first request to succeed, got %q", first)
	}

	second := roundTrip(t, rt, req)
	if !strings.Contains(second, "429") {
		t.Fatalf("expected second request to be rate limited, got %q", second)
	}
	if !strings.Contains(second, "Retry-After") {
		t.Fatalf("expected Retry-After header on 429, got %q", second)
	}
}

func strconvItoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
