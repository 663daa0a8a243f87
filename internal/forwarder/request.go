package forwarder

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/lightapirouter/router/internal/planner"
)

// hopByHop header names the Forwarder strips from client-supplied plan
// headers before writing the upstream request line, and from the upstream
// response before relaying it to the client, per spec.md §4.6.
var hopByHop = map[string]bool{
	"connection":        true,
	"transfer-encoding": true,
	"keep-alive":        true,
	"content-length":    true,
}

// encodeRequest serializes a ForwardPlan into the raw bytes written to a
// pooled upstream connection: request line, Host header, plan headers,
// Content-Length, CRLF, body — per spec.md §4.6 step 2.
func encodeRequest(plan *planner.ForwardPlan, host string) ([]byte, error) {
	u, err := url.Parse(plan.URL)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\n", plan.Method, requestTarget(u))
	fmt.Fprintf(&buf, "Host: %s\r\n", host)
	buf.WriteString("Connection: keep-alive\r\n")

	plan.Headers.Each(func(name, value string) {
		if hopByHop[strings.ToLower(name)] || strings.EqualFold(name, "host") {
			return
		}
		fmt.Fprintf(&buf, "%s: %s\r\n", name, value)
	})

	fmt.Fprintf(&buf, "Content-Length: %s\r\n", strconv.Itoa(len(plan.Body)))
	buf.WriteString("\r\n")
	buf.Write(plan.Body)

	return buf.Bytes(), nil
}

func requestTarget(u *url.URL) string {
	target := u.EscapedPath()
	if target == "" {
		target = "/"
	}
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return target
}
