package apierrors

import (
	"errors"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindBadRequest:  400,
		KindJSON:        400,
		KindNotFound:    404,
		KindRateLimited: 429,
		KindConfigRead:  500,
		KindConfigParse: 500,
		KindTLS:         502,
		KindUpstream:    502,
		KindIO:          502,
		KindURL:         502,
	}
	for kind, want := range cases {
		if got := kind.HTTPStatus(); got != want {
			t.Errorf("Kind(%d).HTTPStatus() = %d, want %d", kind, got, want)
		}
	}
}

func TestRateLimitedFloorsRetryAfter(t *testing.T) {
	e := RateLimited(0)
	if e.RetryAfterSeconds != 1 {
		t.Fatalf("expected retry-after floored to 1, got %d", e.RetryAfterSeconds)
	}
	if e.Kind != KindRateLimited {
		t.Fatalf("expected KindRateLimited, got %v", e.Kind)
	}
}

func TestWrapUnwrapsCause(t *testing.T) {
	cause := errors.New("dial failed")
	e := Wrap(KindUpstream, "acquire upstream connection", cause)

	if !errors.Is(e, cause) {
		t.Fatal("expected errors.Is to see through to the wrapped cause")
	}
	if e.Error() == "" {
		t.Fatal("expected a non-empty error string")
	}
}

func TestErrorTypeLabel(t *testing.T) {
	if KindBadRequest.ErrorTypeLabel() != "" {
		t.Fatal("expected client-facing kinds to have no error_type label")
	}
	if KindUpstream.ErrorTypeLabel() != "upstream_error" {
		t.Fatalf("unexpected label: %q", KindUpstream.ErrorTypeLabel())
	}
}
