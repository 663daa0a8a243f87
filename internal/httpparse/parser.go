// Package httpparse implements component C5: parsing of exactly one
// HTTP/1.1 request out of a byte buffer whose headers have already been
// fully read by the Router (spec.md §4.4).
//
// It is a hand-rolled request-line/header scanner rather than a wrapper
// around net/http.ReadRequest, because spec.md §2/§5 requires the data
// plane to own byte-level framing itself (the Router reads raw bytes off
// the socket, not through net/http's request/response abstraction). Header
// token validation reuses golang.org/x/net/http/httpguts
// (ValidHeaderFieldName), the same RFC 7230 grammar net/http itself depends
// on, instead of re-deriving that grammar.
package httpparse

import (
	"bytes"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/lightapirouter/router/internal/apierrors"
)

// ParsedRequest is the output of ParseHead followed by Finish, per spec.md §3.
type ParsedRequest struct {
	Method        string
	Target        string
	Route         string
	Headers       map[string]string // lowercased header name -> raw value
	Body          []byte
	ClientAPIKey  string
	RequestID     string
	ClientAddr    string
}

// HeaderTerminator is the CRLFCRLF sequence the Router scans for before
// invoking ParseHead.
var HeaderTerminator = []byte("\r\n\r\n")

// headResult is the intermediate parse of the request line and headers,
// before the Router has read the body off the wire.
type headResult struct {
	method  string
	target  string
	headers map[string]string
}

// ParseHead parses the request line and headers from headBytes, which must
// not include the trailing CRLFCRLF. It returns apierrors.KindBadRequest on
// any malformed request line or header line, per spec.md §4.4.
func ParseHead(headBytes []byte) (*headResult, error) {
	lines := bytes.Split(headBytes, []byte("\r\n"))
	if len(lines) == 0 || len(lines[0]) == 0 {
		return nil, apierrors.New(apierrors.KindBadRequest, "empty request line")
	}

	method, target, err := parseRequestLine(string(lines[0]))
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(lines)-1)
	for _, line := range lines[1:] {
		if len(line) == 0 {
			continue
		}
		name, value, err := parseHeaderLine(string(line))
		if err != nil {
			return nil, err
		}
		headers[strings.ToLower(name)] = value
	}

	return &headResult{method: method, target: target, headers: headers}, nil
}

func parseRequestLine(line string) (method, target string, err error) {
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return "", "", apierrors.New(apierrors.KindBadRequest, "malformed request line")
	}
	method, target, version := parts[0], parts[1], parts[2]
	if !strings.HasPrefix(version, "HTTP/1.") {
		return "", "", apierrors.New(apierrors.KindBadRequest, "unsupported HTTP version: "+version)
	}
	if method == "" || target == "" {
		return "", "", apierrors.New(apierrors.KindBadRequest, "malformed request line")
	}
	return method, target, nil
}

func parseHeaderLine(line string) (name, value string, err error) {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return "", "", apierrors.New(apierrors.KindBadRequest, "malformed header line")
	}
	name = line[:idx]
	value = strings.TrimSpace(line[idx+1:])
	if !httpguts.ValidHeaderFieldName(name) {
		return "", "", apierrors.New(apierrors.KindBadRequest, "invalid header field name: "+name)
	}
	return name, value, nil
}

// Method returns the parsed request method.
func (h *headResult) Method() string {
	return h.method
}

// Target returns the raw request-target, including any query string.
func (h *headResult) Target() string {
	return h.target
}

// ContentLength returns the parsed Content-Length header value, or 0 when
// absent, per spec.md §4.5 ("If Content-Length is absent on a method that
// requires a body, treat as empty").
func (h *headResult) ContentLength() (int, error) {
	raw, ok := h.headers["content-length"]
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apierrors.New(apierrors.KindBadRequest, "invalid content-length")
	}
	return n, nil
}

// Finish attaches the body (already read to ContentLength() bytes by the
// Router) and the connection-level metadata, producing the final
// ParsedRequest.
func (h *headResult) Finish(body []byte, requestID, clientAddr, defaultAPIKey string) *ParsedRequest {
	return &ParsedRequest{
		Method:       h.method,
		Target:       h.target,
		Route:        routeOf(h.target),
		Headers:      h.headers,
		Body:         body,
		ClientAPIKey: extractAPIKey(h.headers["authorization"], defaultAPIKey),
		RequestID:    requestID,
		ClientAddr:   clientAddr,
	}
}

// routeOf strips the query string from a request-target, per spec.md §3.
func routeOf(target string) string {
	if idx := strings.IndexByte(target, '?'); idx >= 0 {
		return target[:idx]
	}
	return target
}

// extractAPIKey implements spec.md §4.4's Bearer-token extraction: missing
// Authorization yields defaultAPIKey; a case-insensitive "Bearer <token>"
// yields <token>; any other form is passed through verbatim.
func extractAPIKey(authorization, defaultAPIKey string) string {
	if authorization == "" {
		return defaultAPIKey
	}
	const prefix = "bearer "
	if len(authorization) > len(prefix) && strings.EqualFold(authorization[:len(prefix)], prefix) {
		return strings.TrimSpace(authorization[len(prefix):])
	}
	return authorization
}
