package ratelimit

import "testing"

func TestOpForPath(t *testing.T) {
	cases := map[string]Op{
		"/v1/scrape":          OpScrape,
		"/v2/scrape":          OpScrape,
		"/v1/scrape/abc-123":  OpScrape,
		"/v1/map":             OpMap,
		"/v1/crawl":           OpCrawl,
		"/v2/crawl/ongoing":   OpCrawl,
		"/v1/extract":         OpExtract,
		"/v1/batch/scrape":    OpBatchScrape,
		"/v1/search":          OpSearch,
		"/healthz":            OpUnclassified,
		"/admin/teams":        OpUnclassified,
		"/v1/team/credit-usage": OpUnclassified,
	}

	for path, want := range cases {
		if got := OpForPath(path); got != want {
			t.Errorf("OpForPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestLimitFor_Precedence(t *testing.T) {
	l := &Limiter{limits: Config{
		DefaultPerMinute: 30,
		PerOperation:     map[string]int{"scrape": 120},
	}}

	if got := l.limitFor(OpScrape); got != 120 {
		t.Errorf("per-operation limit should win, got %d", got)
	}
	if got := l.limitFor(OpCrawl); got != 30 {
		t.Errorf("default limit should apply to unlisted ops, got %d", got)
	}

	empty := &Limiter{}
	if got := empty.limitFor(OpScrape); got != 60 {
		t.Errorf("built-in fallback should be 60, got %d", got)
	}
}
