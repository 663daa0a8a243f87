package planner

import (
	"net/url"
	"strings"

	"github.com/lightapirouter/router/internal/apierrors"
)

// joinURL joins a normalized base URL with an upstream path (which may carry
// its own query string), per spec.md §4.4.
func joinURL(baseURL, upstreamPath string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", apierrors.Wrap(apierrors.KindURL, "invalid base_url", err)
	}

	pathPart, queryPart := upstreamPath, ""
	if idx := strings.IndexByte(upstreamPath, '?'); idx >= 0 {
		pathPart, queryPart = upstreamPath[:idx], upstreamPath[idx+1:]
	}
	if !strings.HasPrefix(pathPart, "/") {
		pathPart = "/" + pathPart
	}

	ref, err := url.Parse(pathPart)
	if err != nil {
		return "", apierrors.Wrap(apierrors.KindURL, "invalid upstream_path", err)
	}
	ref.RawQuery = queryPart

	return base.ResolveReference(ref).String(), nil
}

// DestinationOf splits a forward-plan URL into the (scheme, host, port)
// triple the ConnectionPool keys on, per spec.md §4.3.
func DestinationOf(rawURL string) (scheme, host, port string, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil {
		return "", "", "", apierrors.Wrap(apierrors.KindURL, "invalid forward-plan url", parseErr)
	}
	scheme = u.Scheme
	host = u.Hostname()
	port = u.Port()
	if port == "" {
		if scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return scheme, host, port, nil
}
