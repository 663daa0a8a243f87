// Package forwarder implements component C7: executing a ForwardPlan
// against a pooled upstream connection, either reading one JSON response
// fully or copying an SSE stream with heartbeats and backpressure.
//
// The repeated-failure alerting hook is grounded on the teacher's
// circuit-breaker failure-window tracking
// (internal/runtime/executor/circuit_breaker.go), adapted in
// internal/circuitbreaker into a pure alert-throttle tracker.
package forwarder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/lightapirouter/router/internal/alertsink"
	"github.com/lightapirouter/router/internal/apierrors"
	"github.com/lightapirouter/router/internal/circuitbreaker"
	"github.com/lightapirouter/router/internal/clockid"
	"github.com/lightapirouter/router/internal/connpool"
	"github.com/lightapirouter/router/internal/logging"
	"github.com/lightapirouter/router/internal/metrics"
	"github.com/lightapirouter/router/internal/planner"
)

// Forwarder is the production implementation of component C7.
type Forwarder struct {
	Pool    *connpool.Pool
	Clock   clockid.Clock
	Metrics metrics.Recorder
	Tracker *circuitbreaker.Tracker
	Sink    alertsink.Sink
}

// Result carries the outcome the Router needs to finish its own response
// bookkeeping: the upstream status code it records in requests_total.
type Result struct {
	StatusCode int
}

// Forward executes plan against the pooled connection for its destination,
// writing the result to client. For a JSON plan, Forward writes the status
// line, headers, and body itself. For a streaming plan it writes headers
// then enters the SSE copy loop until upstream EOF or client disconnect.
func (f *Forwarder) Forward(ctx context.Context, client net.Conn, plan *planner.ForwardPlan, requestID string) (*Result, error) {
	scheme, host, port, err := planner.DestinationOf(plan.URL)
	if err != nil {
		return nil, err
	}
	dest := connpool.Destination{Scheme: scheme, Host: host, Port: port}

	pc, err := f.Pool.Acquire(ctx, dest)
	if err != nil {
		f.onFailure(plan.ProviderTag, "connect to upstream")
		return nil, apierrors.Wrap(apierrors.KindUpstream, "acquire upstream connection", err)
	}

	wire, err := encodeRequest(plan, host)
	if err != nil {
		f.Pool.Release(pc, true)
		return nil, err
	}

	if _, err := pc.Conn.Write(wire); err != nil {
		f.Pool.Release(pc, true)
		f.onFailure(plan.ProviderTag, "send request to upstream")
		return nil, apierrors.Wrap(apierrors.KindIO, "write upstream request", err)
	}

	reader := bufio.NewReader(pc.Conn)
	head, err := readUpstreamHead(reader)
	if err != nil {
		f.Pool.Release(pc, true)
		f.onFailure(plan.ProviderTag, "read upstream headers")
		return nil, err
	}

	if plan.IsStream {
		return f.forwardSSE(client, pc, reader, head, plan, requestID)
	}
	return f.forwardJSON(client, pc, reader, head, plan)
}

func (f *Forwarder) forwardJSON(client net.Conn, pc *connpool.PooledConnection, reader *bufio.Reader, head *upstreamHead, plan *planner.ForwardPlan) (*Result, error) {
	body, poolable, err := head.readBody(reader)
	if err != nil {
		f.Pool.Release(pc, true)
		f.onFailure(plan.ProviderTag, "read upstream body")
		return nil, err
	}
	f.Pool.Release(pc, !poolable)

	var out bytes.Buffer
	out.WriteString(head.statusLine)
	out.WriteString("\r\n")
	for _, line := range head.forwardableHeaders() {
		out.WriteString(line)
		out.WriteString("\r\n")
	}
	fmt.Fprintf(&out, "Content-Length: %d\r\n\r\n", len(body))
	out.Write(body)

	if _, err := client.Write(out.Bytes()); err != nil {
		// Client already gone; nothing more to do.
		return &Result{StatusCode: head.statusCode}, nil
	}
	return &Result{StatusCode: head.statusCode}, nil
}

func (f *Forwarder) forwardSSE(client net.Conn, pc *connpool.PooledConnection, reader *bufio.Reader, head *upstreamHead, plan *planner.ForwardPlan, requestID string) (*Result, error) {
	var headerBuf bytes.Buffer
	headerBuf.WriteString(head.statusLine)
	headerBuf.WriteString("\r\n")
	for _, line := range head.forwardableHeaders() {
		headerBuf.WriteString(line)
		headerBuf.WriteString("\r\n")
	}
	headerBuf.WriteString("Cache-Control: no-cache\r\n")
	headerBuf.WriteString("X-Accel-Buffering: no\r\n")
	headerBuf.WriteString("\r\n")

	if _, err := client.Write(headerBuf.Bytes()); err != nil {
		f.Pool.Release(pc, true)
		return &Result{StatusCode: head.statusCode}, nil
	}

	settings := plan.EffectiveStreamSettings
	heartbeat := time.Duration(settings.HeartbeatIntervalSecond) * time.Second

	err := copyStream(client, pc.Conn, reader, heartbeat, settings.BufferSize, requestID, plan.ProviderTag)
	switch {
	case err == nil:
		f.Pool.Release(pc, false)
	case isClientDisconnect(err):
		// Client is gone; recycle (do not pool) the upstream connection and
		// stop reading it, per spec.md §4.6.
		f.Pool.Release(pc, true)
		sseLog(requestID, plan.ProviderTag, "sse client disconnected")
		return &Result{StatusCode: head.statusCode}, nil
	default:
		f.Pool.Release(pc, true)
		f.onFailure(plan.ProviderTag, "upstream stream read failed")
		return nil, apierrors.Wrap(apierrors.KindUpstream, "sse copy loop", err)
	}
	return &Result{StatusCode: head.statusCode}, nil
}

// copyStream implements spec.md §4.6 step 3: a read/heartbeat race with
// backpressure. Each loop iteration blocks on exactly one upstream Read
// bounded by a deadline equal to heartbeat, and awaits the client Write
// before issuing the next Read — so peak memory is the single read buffer
// and no auxiliary queue is needed.
//
// Using SetReadDeadline per iteration (rather than a separate timer
// goroutine racing the read) is what gives the "a woken timer does not
// consume the unread upstream bytes" guarantee from spec.md §9 for free: a
// timed-out net.Conn.Read returns zero bytes and an error, never partial
// data that then needs to be replayed.
func copyStream(client net.Conn, upstream net.Conn, reader *bufio.Reader, heartbeat time.Duration, bufSize int, requestID, providerTag string) error {
	if bufSize <= 0 {
		bufSize = 8192
	}
	buf := make([]byte, bufSize)

	for {
		if heartbeat > 0 {
			if err := upstream.SetReadDeadline(time.Now().Add(heartbeat)); err != nil {
				return err
			}
		}

		n, readErr := reader.Read(buf)
		if n > 0 {
			if _, writeErr := client.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
		}

		if readErr == nil {
			continue
		}
		if isTimeout(readErr) {
			if _, writeErr := client.Write([]byte(": heartbeat\r\n\r\n")); writeErr != nil {
				return writeErr
			}
			sseLog(requestID, providerTag, "sse heartbeat sent")
			continue
		}
		if errors.Is(readErr, io.EOF) {
			return nil
		}
		return readErr
	}
}

// sseLog emits one log line for the SSE hot loop. It prefers the optional
// zap fast path (internal/logging) since this loop can fire once per
// heartbeat interval per open stream; it falls back to logrus only when the
// zap logger was never initialized. Both paths log at debug level, so the
// line is only written when that level is enabled.
func sseLog(requestID, providerTag, msg string) {
	if zl := logging.Zap(); zl != nil {
		zl.Debug(msg, zap.String("request_id", requestID), zap.String("provider_tag", providerTag))
		return
	}
	log.WithFields(log.Fields{"request_id": requestID, "provider_tag": providerTag}).Debug(msg)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isClientDisconnect classifies a client write failure as
// BrokenPipe/ConnectionReset, per spec.md §4.6 step 3.
func isClientDisconnect(err error) bool {
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset")
}

func (f *Forwarder) onFailure(providerTag, reason string) {
	f.Metrics.ObserveUpstreamError(apierrors.KindUpstream.ErrorTypeLabel())
	if f.Tracker == nil {
		return
	}
	if f.Tracker.RecordFailure(providerTag) && f.Sink != nil {
		f.Sink.Alert(alertsink.Event{
			Provider: providerTag,
			Message:  fmt.Sprintf("repeated upstream failures for provider %q: %s", providerTag, reason),
		})
	}
}
