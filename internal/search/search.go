package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"raito/internal/apperr"
	"raito/internal/config"
)

// Request represents a provider-agnostic search request.
type Request struct {
	Query            string
	Sources          []string
	Limit            int
	Country          string
	Location         string
	TBS              string
	Timeout          time.Duration
	IgnoreInvalidURL bool
}

// Result represents a single search hit from a provider.
type Result struct {
	Title       string
	Description string
	URL         string
}

// Results groups provider results per logical source.
type Results struct {
	Web    []Result
	News   []Result
	Images []Result
}

// Provider defines the contract for pluggable search providers.
// Implementations map a provider-agnostic Request into provider-specific
// API calls and normalize hits back into the shared Results shape,
// respecting Limit and Timeout and filtering per IgnoreInvalidURL.
// Failures are classified through the shared error taxonomy so callers
// can tell a retryable upstream hiccup from a permanent misconfiguration.
type Provider interface {
	Search(ctx context.Context, req *Request) (*Results, error)
}

// NewProviderFromConfig constructs a search Provider based on configuration.
// Today this supports only a SearxNG-backed provider, but the Provider
// interface is intentionally narrow so additional providers (e.g. direct
// web search APIs) can be added without touching callers.
func NewProviderFromConfig(cfg *config.Config) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if !cfg.Search.Enabled {
		return nil, fmt.Errorf("search disabled in configuration")
	}

	providerName := strings.ToLower(strings.TrimSpace(cfg.Search.Provider))
	if providerName == "" {
		providerName = "searxng"
	}

	switch providerName {
	case "searxng":
		return NewSearxngProvider(cfg.Search)
	default:
		return nil, fmt.Errorf("unsupported search provider: %s", providerName)
	}
}

// SearxngProvider implements Provider using a SearxNG instance with JSON API enabled.
type SearxngProvider struct {
	baseURL      string
	client       *http.Client
	defaultLimit int
	timeout      time.Duration
}

// NewSearxngProvider creates a new SearxngProvider from SearchConfig.
func NewSearxngProvider(cfg config.SearchConfig) (*SearxngProvider, error) {
	base := strings.TrimRight(cfg.Searxng.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("searxng.baseURL is required when search is enabled")
	}

	// Prefer provider-specific timeout, then generic search timeout, with a
	// conservative fallback.
	timeoutMs := cfg.Searxng.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = cfg.TimeoutMs
	}
	if timeoutMs <= 0 {
		timeoutMs = 10000
	}

	defaultLimit := cfg.Searxng.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = 5
	}

	return &SearxngProvider{
		baseURL:      base,
		client:       &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		defaultLimit: defaultLimit,
		timeout:      time.Duration(timeoutMs) * time.Millisecond,
	}, nil
}

// searxngResponse models only the subset of the SearxNG JSON response
// that we care about: each hit's title/url/content plus the category it
// came from, so hits can be routed back to their logical source.
type searxngResponse struct {
	Results []struct {
		Title    string `json:"title"`
		URL      string `json:"url"`
		Content  string `json:"content"`
		Category string `json:"category"`
	} `json:"results"`
}

// categoriesFor maps the request's logical sources onto SearxNG
// category names, defaulting to general web results.
func categoriesFor(sources []string) []string {
	var categories []string
	for _, s := range sources {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "images":
			categories = append(categories, "images")
		case "news":
			categories = append(categories, "news")
		default:
			categories = append(categories, "general")
		}
	}
	if len(categories) == 0 {
		categories = []string{"general"}
	}
	return categories
}

// normalizeHitURL validates a hit's URL the same way the crawler treats
// discovered links: absolute http(s) only, fragment dropped. It returns
// "" for anything unusable.
func normalizeHitURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if u.Host == "" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

// Search executes a search query against the configured SearxNG instance.
func (p *SearxngProvider) Search(ctx context.Context, req *Request) (*Results, error) {
	if req == nil {
		return nil, apperr.New(apperr.CodeBadRequest, "nil search request")
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, apperr.New(apperr.CodeBadRequest, "empty search query")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = p.defaultLimit
	}
	if limit <= 0 {
		limit = 5
	}

	// Build SearxNG query parameters. The JSON API has no per-request
	// result cap, so the limit is enforced client-side after routing.
	values := url.Values{}
	values.Set("q", req.Query)
	values.Set("format", "json")
	values.Set("categories", strings.Join(categoriesFor(req.Sources), ","))

	// Use country/location as a best-effort hint for language/region.
	if req.Country != "" {
		values.Set("language", strings.ToLower(req.Country))
	} else if req.Location != "" {
		values.Set("language", req.Location)
	}

	// Time-based search parameter, if provided. SearxNG supports a
	// `time_range` parameter with values like "day", "week", etc.
	if req.TBS != "" {
		values.Set("time_range", req.TBS)
	}

	// SearxNG exposes its search API on /search and, by default,
	// expects POST requests. To align with that and avoid 403s from
	// method restrictions, we send a form-encoded POST.
	endpoint := p.baseURL + "/search"

	encoded := values.Encode()

	// Apply a request-scoped timeout on top of the client's own timeout.
	timeout := p.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeSearchFailed, "searxng request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		e := apperr.New(apperr.CodeSearchFailed, fmt.Sprintf("searxng search failed with status %d", resp.StatusCode))
		// An overloaded or briefly broken instance is worth retrying;
		// a 4xx means the query or deployment is wrong.
		e.Retryable = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, e
	}

	var payload searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperr.Wrap(apperr.CodeSearchFailed, "searxng returned unparsable JSON", err)
	}

	// Route hits back to their logical source, dropping duplicates of
	// the same normalized URL across categories.
	out := &Results{}
	seen := make(map[string]struct{}, len(payload.Results))
	for _, r := range payload.Results {
		hitURL := normalizeHitURL(r.URL)
		if hitURL == "" && req.IgnoreInvalidURL {
			continue
		}
		if hitURL != "" {
			if _, dup := seen[hitURL]; dup {
				continue
			}
			seen[hitURL] = struct{}{}
		}

		hit := Result{
			Title:       r.Title,
			Description: r.Content,
			URL:         hitURL,
		}

		switch strings.ToLower(r.Category) {
		case "news":
			if len(out.News) < limit {
				out.News = append(out.News, hit)
			}
		case "images":
			if len(out.Images) < limit {
				out.Images = append(out.Images, hit)
			}
		default:
			if len(out.Web) < limit {
				out.Web = append(out.Web, hit)
			}
		}
	}

	return out, nil
}
