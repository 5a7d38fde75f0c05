package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
)

func TestPersistParseRoundTrip(t *testing.T) {
	orig := New(CodeSSL, "certificate has expired")
	parsed := Parse(orig.Persist())

	if parsed.Code != CodeSSL {
		t.Errorf("code = %q, want %q", parsed.Code, CodeSSL)
	}
	if parsed.Message != "certificate has expired" {
		t.Errorf("message = %q", parsed.Message)
	}
	if parsed.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("status = %d", parsed.HTTPStatus)
	}
}

func TestParse_Degenerate(t *testing.T) {
	if got := Parse(""); got.Code != CodeInternal {
		t.Errorf("empty string should parse as internal error, got %q", got.Code)
	}
	if got := Parse("no code here"); got.Code != CodeInternal || got.Message != "no code here" {
		t.Errorf("codeless string should keep its text as the message, got %+v", got)
	}
}

func TestIs_MatchesByCode(t *testing.T) {
	a := New(CodeScrapeTimeout, "fetch took too long")
	b := New(CodeScrapeTimeout, "different message")
	if !errors.Is(a, b) {
		t.Errorf("errors with the same code should match")
	}
	if errors.Is(a, New(CodeSSL, "")) {
		t.Errorf("errors with different codes should not match")
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := fmt.Errorf("underlying")
	wrapped := Wrap(CodeScrapeFailed, "fetch failed", cause)
	if !errors.Is(wrapped, cause) {
		t.Errorf("wrapped error should unwrap to its cause")
	}
}

func TestClassifyFetchError(t *testing.T) {
	if got := ClassifyFetchError(nil); got != nil {
		t.Fatalf("nil error should classify to nil")
	}

	dns := &net.DNSError{Err: "no such host", Name: "nope.invalid"}
	if got := ClassifyFetchError(fmt.Errorf("dial: %w", dns)); got.Code != CodeDNS {
		t.Errorf("DNS error classified as %q", got.Code)
	}

	transient := &net.DNSError{Err: "timeout", Name: "slow.invalid", IsTimeout: true}
	if got := ClassifyFetchError(transient); !got.Retryable {
		t.Errorf("DNS timeout should be retryable")
	}

	if got := ClassifyFetchError(context.DeadlineExceeded); got.Code != CodeScrapeTimeout {
		t.Errorf("deadline classified as %q", got.Code)
	}
	if got := ClassifyFetchError(fmt.Errorf("connection reset")); got.Code != CodeScrapeFailed {
		t.Errorf("unrecognized error classified as %q", got.Code)
	}
}
