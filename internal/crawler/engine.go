package crawler

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	robotstxt "github.com/temoto/robotstxt"
)

// ScopeOptions determines which discovered links a crawl is allowed to
// follow relative to its seed URL.
type ScopeOptions struct {
	BaseHost      string
	AllowSubdomains bool
	// EntireDomain, when true, allows following links that lead away
	// from the seed URL's path prefix (the legacy allowBackwardLinks
	// behavior) as long as they remain in-domain.
	EntireDomain bool
	AllowExternal bool
}

// InScope reports whether host is reachable from BaseHost given the
// configured scope. AllowExternal bypasses the host check entirely.
func InScope(opts ScopeOptions, host string) bool {
	if opts.AllowExternal {
		return true
	}
	return sameHostOrSubdomain(opts.BaseHost, host, opts.AllowSubdomains)
}

// PathFilter narrows a crawl to URLs matching includePaths/excludePaths
// regular expressions. An empty IncludePaths allows everything not
// rejected by ExcludePaths.
type PathFilter struct {
	IncludePaths   []string
	ExcludePaths   []string
	RegexOnFullURL bool
}

// Allowed reports whether u passes the path filter. Malformed regexes
// are treated as non-matching rather than failing the whole crawl.
func (f PathFilter) Allowed(u *url.URL) bool {
	subject := u.Path
	if f.RegexOnFullURL {
		subject = u.String()
	}

	if len(f.ExcludePaths) > 0 {
		for _, pattern := range f.ExcludePaths {
			if matches(pattern, subject) {
				return false
			}
		}
	}

	if len(f.IncludePaths) == 0 {
		return true
	}
	for _, pattern := range f.IncludePaths {
		if matches(pattern, subject) {
			return true
		}
	}
	return false
}

func matches(pattern, subject string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(subject)
}

// RobotsChecker caches robots.txt parses per host so a crawl with many
// same-host pages fetches /robots.txt once instead of per page.
type RobotsChecker struct {
	client *http.Client
	mu     sync.Mutex
	cache  map[string]*robotstxt.RobotsData
}

func NewRobotsChecker(client *http.Client) *RobotsChecker {
	return &RobotsChecker{client: client, cache: make(map[string]*robotstxt.RobotsData)}
}

func (r *RobotsChecker) dataFor(ctx context.Context, u *url.URL, userAgent string) *robotstxt.RobotsData {
	host := strings.ToLower(u.Host)

	r.mu.Lock()
	data, ok := r.cache[host]
	r.mu.Unlock()
	if ok {
		return data
	}

	data, _ = fetchRobots(ctx, r.client, u, userAgent)

	r.mu.Lock()
	r.cache[host] = data
	r.mu.Unlock()
	return data
}

// Allowed reports whether userAgent may fetch u per the host's
// robots.txt. A missing or unparsable robots.txt allows everything.
func (r *RobotsChecker) Allowed(ctx context.Context, u *url.URL, userAgent string) bool {
	data := r.dataFor(ctx, u, userAgent)
	if data == nil {
		return true
	}
	return data.FindGroup(userAgent).Test(u.String())
}

// CrawlDelay returns the robots.txt crawl-delay directive for the
// host, or 0 if none is set. Callers combine this with the request's
// own delay option and use whichever is larger.
func (r *RobotsChecker) CrawlDelay(ctx context.Context, u *url.URL, userAgent string) time.Duration {
	data := r.dataFor(ctx, u, userAgent)
	if data == nil {
		return 0
	}
	return data.FindGroup(userAgent).CrawlDelay
}

// Frontier tracks crawl state across BFS levels: which URLs have been
// discovered (to dedupe) and at what depth each was first seen.
type Frontier struct {
	mu      sync.Mutex
	depth   map[string]int
	limit   int
}

func NewFrontier(limit int) *Frontier {
	return &Frontier{depth: make(map[string]int), limit: limit}
}

// Admit records url at the given depth if it has not been seen before
// and the discovery limit has not been reached. It returns false if
// the URL should be skipped (already seen, or limit reached).
func (f *Frontier) Admit(url string, depth int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, seen := f.depth[url]; seen {
		return false
	}
	if f.limit > 0 && len(f.depth) >= f.limit {
		return false
	}
	f.depth[url] = depth
	return true
}

// Count returns the number of URLs admitted so far.
func (f *Frontier) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.depth)
}
