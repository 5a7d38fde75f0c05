package crawler

import (
	"net/url"
	"testing"
)

func TestInScope_HostRules(t *testing.T) {
	base := ScopeOptions{BaseHost: "example.com"}

	if !InScope(base, "example.com") {
		t.Errorf("exact host should be in scope")
	}
	if !InScope(base, "EXAMPLE.com") {
		t.Errorf("host comparison should be case-insensitive")
	}
	if InScope(base, "docs.example.com") {
		t.Errorf("subdomain should be out of scope without allowSubdomains")
	}
	if InScope(base, "other.com") {
		t.Errorf("foreign host should be out of scope")
	}

	withSubs := ScopeOptions{BaseHost: "example.com", AllowSubdomains: true}
	if !InScope(withSubs, "docs.example.com") {
		t.Errorf("subdomain should be in scope with allowSubdomains")
	}
	if InScope(withSubs, "notexample.com") {
		t.Errorf("suffix-similar host must not match as a subdomain")
	}

	external := ScopeOptions{BaseHost: "example.com", AllowExternal: true}
	if !InScope(external, "other.com") {
		t.Errorf("allowExternal should bypass the host check")
	}
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestPathFilter_IncludeExclude(t *testing.T) {
	f := PathFilter{IncludePaths: []string{"^/pricing"}}
	if !f.Allowed(mustParse(t, "https://example.com/pricing")) {
		t.Errorf("include pattern should admit /pricing")
	}
	if f.Allowed(mustParse(t, "https://example.com/blog")) {
		t.Errorf("include pattern should reject /blog")
	}

	f = PathFilter{ExcludePaths: []string{"/private"}}
	if f.Allowed(mustParse(t, "https://example.com/private/data")) {
		t.Errorf("exclude pattern should reject matches")
	}
	if !f.Allowed(mustParse(t, "https://example.com/public")) {
		t.Errorf("non-matching URL should pass with only excludes set")
	}

	// Excludes win over includes when both match.
	f = PathFilter{IncludePaths: []string{"^/docs"}, ExcludePaths: []string{"/docs/internal"}}
	if f.Allowed(mustParse(t, "https://example.com/docs/internal/x")) {
		t.Errorf("exclude should take precedence over include")
	}
}

func TestPathFilter_RegexOnFullURL(t *testing.T) {
	f := PathFilter{IncludePaths: []string{"example\\.com/pricing"}, RegexOnFullURL: true}
	if !f.Allowed(mustParse(t, "https://example.com/pricing")) {
		t.Errorf("full-URL pattern should match host plus path")
	}

	f.RegexOnFullURL = false
	if f.Allowed(mustParse(t, "https://example.com/pricing")) {
		t.Errorf("path-only matching should not see the host")
	}
}

func TestPathFilter_BadRegexRejects(t *testing.T) {
	f := PathFilter{IncludePaths: []string{"(["}}
	if f.Allowed(mustParse(t, "https://example.com/anything")) {
		t.Errorf("an unparsable include pattern should admit nothing")
	}
}

func TestFrontier_DedupAndLimit(t *testing.T) {
	f := NewFrontier(2)

	if !f.Admit("https://example.com/a", 0) {
		t.Fatalf("first URL should be admitted")
	}
	if f.Admit("https://example.com/a", 1) {
		t.Errorf("duplicate URL should be rejected regardless of depth")
	}
	if !f.Admit("https://example.com/b", 1) {
		t.Fatalf("second URL should be admitted")
	}
	if f.Admit("https://example.com/c", 1) {
		t.Errorf("URL beyond the limit should be rejected")
	}
	if got := f.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}
}
