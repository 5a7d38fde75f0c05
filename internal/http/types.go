package http

import "raito/internal/model"

// Public API request/response types (subset).

// ScrapeFormat is a structured format descriptor.
// We focus on the common string formats for now (markdown, html, rawHtml, links, images, metadata).
type ScrapeFormat struct {
	Type string `json:"type"`
}

// ScrapeRequest is the input shape for a scrape request, including
// only the fields most relevant for Raito v1.
type ScrapeRequest struct {
	URL                 string            `json:"url"`
	Formats             []interface{}     `json:"formats,omitempty"`
	Headers             map[string]string `json:"headers,omitempty"`
	IncludeTags         []string          `json:"includeTags,omitempty"`
	ExcludeTags         []string          `json:"excludeTags,omitempty"`
	OnlyMainContent     *bool             `json:"onlyMainContent,omitempty"`
	Timeout             *int              `json:"timeout,omitempty"`
	WaitFor             *int              `json:"waitFor,omitempty"`
	Mobile              *bool             `json:"mobile,omitempty"`
	SkipTLSVerification *bool             `json:"skipTlsVerification,omitempty"`
	RemoveBase64Images  *bool             `json:"removeBase64Images,omitempty"`
	FastMode            *bool             `json:"fastMode,omitempty"`
	BlockAds            *bool             `json:"blockAds,omitempty"`
	Proxy               string            `json:"proxy,omitempty"`
	Origin              string            `json:"origin,omitempty"`
	UseBrowser          *bool             `json:"useBrowser,omitempty"`
	ZeroDataRetention   *bool             `json:"zeroDataRetention,omitempty"`

	// Actions are page interactions (wait, click, write, press,
	// scroll) executed in order before content extraction. Any actions
	// at all force the browser engine and make the request's cache
	// fingerprint unique to that action sequence.
	Actions []ScrapeAction `json:"actions,omitempty"`

	// MaxAge bounds how stale a result-index cache hit may be, in
	// milliseconds. Unset accepts entries up to four hours old; an
	// explicit 0 forces a cache miss so the request reaches the network.
	MaxAge *int64 `json:"maxAge,omitempty"`

	// StoreInCache, when explicitly false, suppresses writing the
	// result to the shared result index; reads are still permitted.
	StoreInCache *bool `json:"storeInCache,omitempty"`

	ChangeTracking *ChangeTrackingOptions `json:"changeTrackingOptions,omitempty"`

	Location    *LocationOptions `json:"location,omitempty"`
	Integration string           `json:"integration,omitempty"`
}

// ScrapeAction is a single browser interaction step.
type ScrapeAction struct {
	Type         string `json:"type"`
	Selector     string `json:"selector,omitempty"`
	Text         string `json:"text,omitempty"`
	Key          string `json:"key,omitempty"`
	Milliseconds int    `json:"milliseconds,omitempty"`
	Direction    string `json:"direction,omitempty"`
}

// ChangeTrackingOptions configures comparison of the scraped page
// against its most recent indexed version. Tag partitions the
// comparison namespace; Modes selects git-diff text and/or an
// LLM-structured JSON diff.
type ChangeTrackingOptions struct {
	Tag    string                 `json:"tag,omitempty"`
	Modes  []string               `json:"modes,omitempty"`
	Prompt string                 `json:"prompt,omitempty"`
	Schema map[string]interface{} `json:"schema,omitempty"`
}

// LocationOptions describes geo-related options for scraping.
type LocationOptions struct {
	Country   string   `json:"country,omitempty"`
	Languages []string `json:"languages,omitempty"`
}

// Re-export shared types from the model package.
type Metadata = model.Metadata

type Document = model.Document

type LinkMetadata = model.LinkMetadata

// ErrorResponse is the standard error envelope shape.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// ScrapeResponse is the response union shape for a scrape request.
type ScrapeResponse struct {
	Success  bool      `json:"success"`
	Warning  string    `json:"warning,omitempty"`
	Data     *Document `json:"data,omitempty"`
	ScrapeID string    `json:"scrape_id,omitempty"`
	Code     string    `json:"code,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// MapRequest is the input shape for POST /v1/map.
type MapRequest struct {
	URL               string `json:"url"`
	Origin            string `json:"origin,omitempty"`
	Search            string `json:"search,omitempty"`
	IncludeSubdomains *bool  `json:"includeSubdomains,omitempty"`
	IgnoreQueryParams *bool  `json:"ignoreQueryParameters,omitempty"`
	AllowExternal     *bool  `json:"allowExternalLinks,omitempty"`
	Sitemap           string `json:"sitemap,omitempty"`
	Limit             *int   `json:"limit,omitempty"`
	Timeout           *int   `json:"timeout,omitempty"`
}

type MapLink struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// MapResponseMetadata summarizes a map result set.
type MapResponseMetadata struct {
	TotalCount  int    `json:"totalCount"`
	HasMore     bool   `json:"hasMore"`
	SearchQuery string `json:"searchQuery,omitempty"`
}

type MapResponse struct {
	Success bool `json:"success"`

	// Web carries the discovered pages with title/description metadata;
	// Links is the bare URL list for clients that only want addresses.
	Web      []MapLink            `json:"web,omitempty"`
	Links    []string             `json:"links"`
	Metadata *MapResponseMetadata `json:"metadata,omitempty"`

	Warning string `json:"warning,omitempty"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CrawlRequest is the input shape for POST /v1/crawl.
// For now, formats are provided at the top level and control which
// fields are included in crawl documents when retrieved.
type CrawlRequest struct {
	URL                string        `json:"url"`
	Origin             string        `json:"origin,omitempty"`
	IncludePaths       []string      `json:"includePaths,omitempty"`
	ExcludePaths       []string      `json:"excludePaths,omitempty"`
	Limit              *int          `json:"limit,omitempty"`
	MaxDepth           *int          `json:"maxDepth,omitempty"`
	MaxDiscoveryDepth  *int          `json:"maxDiscoveryDepth,omitempty"`
	AllowExternalLinks *bool         `json:"allowExternalLinks,omitempty"`
	AllowBackwardLinks *bool         `json:"allowBackwardLinks,omitempty"`
	AllowSubdomains    *bool         `json:"allowSubdomains,omitempty"`
	IgnoreRobotsTxt    *bool         `json:"ignoreRobotsTxt,omitempty"`
	Sitemap            string        `json:"sitemap,omitempty"`
	DeduplicateSimilar bool          `json:"deduplicateSimilarURLs,omitempty"`
	IgnoreQueryParams  *bool         `json:"ignoreQueryParameters,omitempty"`
	RegexOnFullURL     *bool         `json:"regexOnFullURL,omitempty"`
	Delay              *int          `json:"delay,omitempty"`
	Webhook            string        `json:"webhook,omitempty"`
	Formats            []interface{} `json:"formats,omitempty"`

	// Advanced crawl options (Phase 10)
	CrawlEntireDomain *bool          `json:"crawlEntireDomain,omitempty"`
	MaxConcurrency    *int           `json:"maxConcurrency,omitempty"`
	ScrapeOptions     *ScrapeOptions `json:"scrapeOptions,omitempty"`
	ZeroDataRetention *bool          `json:"zeroDataRetention,omitempty"`
}

// EntireDomain resolves the crawlEntireDomain option, honoring the
// legacy allowBackwardLinks alias when crawlEntireDomain is unset.
func (r *CrawlRequest) EntireDomain() bool {
	if r.CrawlEntireDomain != nil {
		return *r.CrawlEntireDomain
	}
	if r.AllowBackwardLinks != nil {
		return *r.AllowBackwardLinks
	}
	return false
}

// ScrapeOptions captures per-page scrape configuration that can be
// passed through from crawl-level options.
type ScrapeOptions struct {
	Formats             []interface{}     `json:"formats,omitempty"`
	Headers             map[string]string `json:"headers,omitempty"`
	IncludeTags         []string          `json:"includeTags,omitempty"`
	ExcludeTags         []string          `json:"excludeTags,omitempty"`
	OnlyMainContent     *bool             `json:"onlyMainContent,omitempty"`
	Timeout             *int              `json:"timeout,omitempty"`
	WaitFor             *int              `json:"waitFor,omitempty"`
	Mobile              *bool             `json:"mobile,omitempty"`
	SkipTLSVerification *bool             `json:"skipTlsVerification,omitempty"`
	RemoveBase64Images  *bool             `json:"removeBase64Images,omitempty"`
	FastMode            *bool             `json:"fastMode,omitempty"`
	BlockAds            *bool             `json:"blockAds,omitempty"`
	Proxy               string            `json:"proxy,omitempty"`
	Origin              string            `json:"origin,omitempty"`
	UseBrowser          *bool             `json:"useBrowser,omitempty"`
	Location            *LocationOptions  `json:"location,omitempty"`
	Integration         string            `json:"integration,omitempty"`

	Actions        []ScrapeAction         `json:"actions,omitempty"`
	ChangeTracking *ChangeTrackingOptions `json:"changeTrackingOptions,omitempty"`

	MaxAge       *int64   `json:"maxAge,omitempty"`
	StoreInCache *bool    `json:"storeInCache,omitempty"`
	Parsers      []string `json:"parsers,omitempty"`
}

type CrawlStatus string

// ExtractField describes a single field to be extracted
// from a scraped document.
type ExtractField struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"` // optional hint: string, number, boolean
}

// ExtractRequest defines the payload for POST /v1/extract.
// v2 focuses on a list of URLs plus a JSON schema. Provider/model
// are optional and fall back to server configuration.
//
// Legacy `url` and `fields` modes have been removed from the public
// API; requests must provide `urls` and a `schema`.
type ExtractRequest struct {
	URLs               []string               `json:"urls"`
	Schema             map[string]interface{} `json:"schema,omitempty"`
	Prompt             string                 `json:"prompt,omitempty"`
	SystemPrompt       string                 `json:"systemPrompt,omitempty"`
	Provider           string                 `json:"provider,omitempty"` // openai, anthropic, google
	Model              string                 `json:"model,omitempty"`
	Strict             bool                   `json:"strict,omitempty"`
	IgnoreInvalidURLs  *bool                  `json:"ignoreInvalidURLs,omitempty"`
	EnableWebSearch    *bool                  `json:"enableWebSearch,omitempty"`
	AllowExternalLinks *bool                  `json:"allowExternalLinks,omitempty"`
	ShowSources        *bool                  `json:"showSources,omitempty"`
	ScrapeOptions      *ScrapeOptions         `json:"scrapeOptions,omitempty"`
	Integration        string                 `json:"integration,omitempty"`
	ZeroDataRetention  *bool                  `json:"zeroDataRetention,omitempty"`
}

type ExtractResult struct {
	URL    string                 `json:"url"`
	Fields map[string]interface{} `json:"fields"`
	Raw    *Document              `json:"raw,omitempty"`
}

type ExtractResponse struct {
	Success bool            `json:"success"`
	Data    []ExtractResult `json:"data,omitempty"`
	Code    string          `json:"code,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type ExtractJobStatus string

const (
	ExtractStatusPending   ExtractJobStatus = "pending"
	ExtractStatusRunning   ExtractJobStatus = "running"
	ExtractStatusCompleted ExtractJobStatus = "completed"
	ExtractStatusFailed    ExtractJobStatus = "failed"
)

type ExtractStatusResponse struct {
	Success     bool                   `json:"success"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Status      ExtractJobStatus       `json:"status"`
	ExpiresAt   string                 `json:"expiresAt,omitempty"`
	TokensUsed  int                    `json:"tokensUsed,omitempty"`
	CreditsUsed int                    `json:"creditsUsed,omitempty"`
	Code        string                 `json:"code,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

const (
	CrawlStatusPending   CrawlStatus = "pending"
	CrawlStatusRunning   CrawlStatus = "running"
	CrawlStatusCompleted CrawlStatus = "completed"
	CrawlStatusFailed    CrawlStatus = "failed"
	CrawlStatusCancelled CrawlStatus = "cancelled"
)

type CrawlResponse struct {
	Success     bool        `json:"success"`
	ID          string      `json:"id,omitempty"`
	URL         string      `json:"url,omitempty"`
	Status      CrawlStatus `json:"status,omitempty"`
	Total       int         `json:"total,omitempty"`
	CreditsUsed int         `json:"creditsUsed,omitempty"`
	ExpiresAt   string      `json:"expiresAt,omitempty"`
	Data        []Document  `json:"data,omitempty"`
	Code        string      `json:"code,omitempty"`
	Error       string      `json:"error,omitempty"`
	Warning     string      `json:"warning,omitempty"`
}

// CrawlErrorEntry describes a single page within a crawl that did not
// complete successfully.
type CrawlErrorEntry struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Error string `json:"error,omitempty"`
}

// CrawlErrorsResponse is the payload for GET /v1/crawl/:id/errors.
// RobotsBlocked is reported separately from Errors since a robots.txt
// disallow is an expected skip, not a fetch failure.
type CrawlErrorsResponse struct {
	Success       bool              `json:"success"`
	Errors        []CrawlErrorEntry `json:"errors"`
	RobotsBlocked []string          `json:"robotsBlocked,omitempty"`
	Code          string            `json:"code,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// CrawlOngoingEntry identifies a crawl that has not yet reached a
// terminal status.
type CrawlOngoingEntry struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CrawlOngoingResponse is the payload for GET /v1/crawl/ongoing.
type CrawlOngoingResponse struct {
	Success bool                `json:"success"`
	Crawls  []CrawlOngoingEntry `json:"crawls"`
	Code    string              `json:"code,omitempty"`
	Error   string              `json:"error,omitempty"`
}

type BatchScrapeRequest struct {
	URLs              []string      `json:"urls"`
	Formats           []interface{} `json:"formats,omitempty"`
	ZeroDataRetention *bool         `json:"zeroDataRetention,omitempty"`
}

type BatchScrapeStatus string

const (
	BatchStatusPending   BatchScrapeStatus = "pending"
	BatchStatusRunning   BatchScrapeStatus = "running"
	BatchStatusCompleted BatchScrapeStatus = "completed"
	BatchStatusFailed    BatchScrapeStatus = "failed"
)

type BatchScrapeResponse struct {
	Success bool              `json:"success"`
	ID      string            `json:"id,omitempty"`
	URL     string            `json:"url,omitempty"`
	Status  BatchScrapeStatus `json:"status,omitempty"`
	Total   int               `json:"total,omitempty"`
	Data    []Document        `json:"data,omitempty"`
	Code    string            `json:"code,omitempty"`
	Error   string            `json:"error,omitempty"`
	Warning string            `json:"warning,omitempty"`
}

// SearchRequest defines the payload for POST /v1/search, remaining
// forward-compatible with additional sources/categories.
type SearchRequest struct {
	Query             string         `json:"query"`
	Sources           []string       `json:"sources,omitempty"`
	Categories        []string       `json:"categories,omitempty"`
	Limit             *int           `json:"limit,omitempty"`
	Country           string         `json:"country,omitempty"`
	Location          string         `json:"location,omitempty"`
	TBS               string         `json:"tbs,omitempty"`
	Timeout           *int           `json:"timeout,omitempty"`
	IgnoreInvalidURLs *bool          `json:"ignoreInvalidURLs,omitempty"`
	ScrapeOptions     *ScrapeOptions `json:"scrapeOptions,omitempty"`
	Integration       string         `json:"integration,omitempty"`
}

// SearchWebResult represents a single web search result which may
// optionally include a scraped Document when scrapeOptions are used.
type SearchWebResult struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url"`
	Document    *Document `json:"document,omitempty"`

	// Lightweight metadata about the scraped page is
	// exposed at the top level for convenience.
	Metadata Metadata `json:"metadata,omitempty"`
	Engine   string   `json:"engine,omitempty"`
}

// SearchData groups results per source type. v1 only populates
// the Web slice; News and Images are reserved for future use.
type SearchData struct {
	Web    []SearchWebResult `json:"web,omitempty"`
	News   []SearchWebResult `json:"news,omitempty"`
	Images []SearchWebResult `json:"images,omitempty"`
}

// SearchResponse wraps search results in the standard envelope.
type SearchResponse struct {
	Success bool        `json:"success"`
	Data    *SearchData `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error,omitempty"`
	Warning string      `json:"warning,omitempty"`
}
