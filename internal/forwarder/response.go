package forwarder

import (
	"bufio"
	"io"
	"net/http/httputil"
	"strconv"
	"strings"

	"github.com/lightapirouter/router/internal/apierrors"
)

// upstreamHead is the parsed status line and headers of an upstream
// response, read off a bufio.Reader wrapping the pooled connection.
type upstreamHead struct {
	statusLine string
	statusCode int
	headerRaw  []string          // original "Name: value" lines, in order
	lowered    map[string]string // lowercased name -> value
}

func readUpstreamHead(r *bufio.Reader) (*upstreamHead, error) {
	statusLine, err := readCRLFLine(r)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindUpstream, "read upstream status line", err)
	}
	code := parseStatusCode(statusLine)

	var raw []string
	lowered := make(map[string]string)
	for {
		line, err := readCRLFLine(r)
		if err != nil {
			return nil, apierrors.Wrap(apierrors.KindUpstream, "read upstream headers", err)
		}
		if line == "" {
			break
		}
		idx := strings.IndexByte(line, ':')
		if idx <= 0 {
			return nil, apierrors.New(apierrors.KindUpstream, "malformed upstream header line")
		}
		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		raw = append(raw, name+": "+value)
		lowered[strings.ToLower(name)] = value
	}

	return &upstreamHead{statusLine: statusLine, statusCode: code, headerRaw: raw, lowered: lowered}, nil
}

func readCRLFLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func parseStatusCode(statusLine string) int {
	parts := strings.Fields(statusLine)
	if len(parts) < 2 {
		return 0
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}
	return code
}

// forwardableHeaders returns the upstream response headers with hop-by-hop
// names stripped, per spec.md §4.6 step 4.
func (h *upstreamHead) forwardableHeaders() []string {
	out := make([]string, 0, len(h.headerRaw))
	for _, line := range h.headerRaw {
		idx := strings.IndexByte(line, ':')
		name := strings.ToLower(strings.TrimSpace(line[:idx]))
		if hopByHop[name] {
			continue
		}
		out = append(out, line)
	}
	return out
}

// readBody reads the response body per spec.md §4.3's framing rules:
// Content-Length when present; chunked transfer-encoding is read fully but
// flagged as non-poolable (see DESIGN.md Open Question resolution);
// otherwise the connection is read to EOF and likewise flagged
// non-poolable, since no definite end-of-body was announced.
func (h *upstreamHead) readBody(r *bufio.Reader) (body []byte, poolable bool, err error) {
	if cl, ok := h.lowered["content-length"]; ok {
		n, convErr := strconv.Atoi(cl)
		if convErr != nil || n < 0 {
			return nil, false, apierrors.New(apierrors.KindUpstream, "invalid upstream content-length")
		}
		buf := make([]byte, n)
		if _, readErr := io.ReadFull(r, buf); readErr != nil {
			return nil, false, apierrors.Wrap(apierrors.KindUpstream, "read upstream body", readErr)
		}
		return buf, true, nil
	}

	if strings.EqualFold(h.lowered["transfer-encoding"], "chunked") {
		decoded, readErr := io.ReadAll(httputil.NewChunkedReader(r))
		if readErr != nil {
			return nil, false, apierrors.Wrap(apierrors.KindUpstream, "read chunked upstream body", readErr)
		}
		return decoded, false, nil
	}

	decoded, readErr := io.ReadAll(r)
	if readErr != nil {
		return nil, false, apierrors.Wrap(apierrors.KindUpstream, "read upstream body", readErr)
	}
	return decoded, false, nil
}
