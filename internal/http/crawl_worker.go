package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"raito/internal/apperr"
	"raito/internal/billing"
	"raito/internal/concurrency"
	"raito/internal/config"
	"raito/internal/crawler"
	"raito/internal/extract"
	"raito/internal/formats"
	"raito/internal/index"
	"raito/internal/llm"
	"raito/internal/metrics"
	"raito/internal/model"
	"raito/internal/scraper"
	"raito/internal/scrapeutil"
	"raito/internal/services"
	"raito/internal/store"
)

// WorkerDeps bundles the shared, Redis-backed collaborators the job
// executors below use in addition to the store: the per-team
// concurrency governor, the result index cache, and the billing
// batcher. Any of these may be nil (e.g. no Redis configured), in
// which case the corresponding behavior is skipped or done inline.
type WorkerDeps struct {
	Governor *concurrency.Governor
	Cache    *index.Cache
	Billing  *billing.Batcher
}

// leaseForTeam acquires a concurrency slot for job's team, if the job
// carries a team and a governor is configured. A nil lease is always
// safe to Release.
func leaseForTeam(ctx context.Context, cfg *config.Config, st *store.Store, gov *concurrency.Governor, teamID uuid.NullUUID) (*concurrency.Lease, error) {
	if gov == nil || !teamID.Valid {
		return nil, nil
	}
	teamMax := 0
	if team, err := st.GetTeamByID(ctx, teamID.UUID); err == nil {
		teamMax = int(team.ConcurrencyMax)
	}
	waitTimeout := time.Duration(cfg.Concurrency.WaitTimeoutMs) * time.Millisecond
	if waitTimeout <= 0 {
		waitTimeout = 30 * time.Second
	}
	return gov.Acquire(ctx, teamID.UUID.String(), 0, teamMax, waitTimeout)
}

// queueBilling enqueues a billable credit debit for job's team. It is a
// no-op for jobs with no team (e.g. admin-triggered work) or a zero
// credit cost.
func queueBilling(ctx context.Context, batcher *billing.Batcher, teamID uuid.NullUUID, credits int64, isExtract bool) {
	if batcher == nil || !teamID.Valid || credits <= 0 {
		return
	}
	_ = batcher.QueueOp(ctx, billing.Op{TeamID: teamID.UUID, Credits: credits, IsExtract: isExtract})
}

// scrapeFingerprint derives the result-index cache key for a single
// scrape request given its resolved headers. changeTracking is left
// out of the key on purpose: it post-processes content rather than
// changing it, so tracked and untracked requests may share an entry.
func scrapeFingerprint(req ScrapeRequest, headers map[string]string) (string, error) {
	mobile := false
	if req.Mobile != nil {
		mobile = *req.Mobile
	}
	blockAds := false
	if req.BlockAds != nil {
		blockAds = *req.BlockAds
	}
	onlyMainContent := false
	if req.OnlyMainContent != nil {
		onlyMainContent = *req.OnlyMainContent
	}
	var country string
	var languages []string
	if req.Location != nil {
		country = req.Location.Country
		languages = req.Location.Languages
	}

	var fmts []string
	for _, name := range formats.Names(req.Formats) {
		if name == "changetracking" {
			continue
		}
		fmts = append(fmts, name)
	}

	var actions []string
	for _, a := range req.Actions {
		if encoded, err := json.Marshal(a); err == nil {
			actions = append(actions, string(encoded))
		}
	}

	return index.Fingerprint(index.FingerprintInput{
		URL:               req.URL,
		Headers:           headers,
		Mobile:            mobile,
		LocationCountry:   country,
		LocationLanguages: languages,
		BlockAds:          blockAds,
		Proxy:             req.Proxy,
		Formats:           fmts,
		Actions:           actions,
		OnlyMainContent:   onlyMainContent,
	})
}

// ScrapeExecutor implements jobs.ScrapeJobExecutor against the legacy
// job-queue request/response shapes.
type ScrapeExecutor struct {
	cfg  *config.Config
	st   *store.Store
	deps WorkerDeps
}

func NewScrapeExecutor(cfg *config.Config, st *store.Store, deps WorkerDeps) *ScrapeExecutor {
	return &ScrapeExecutor{cfg: cfg, st: st, deps: deps}
}

func (e *ScrapeExecutor) ExecuteScrapeJob(ctx context.Context, job store.Job) {
	var req ScrapeRequest
	if err := json.Unmarshal(job.Input, &req); err != nil {
		msg := "SCRAPE_FAILED: invalid scrape job input: " + err.Error()
		_ = e.st.UpdateCrawlJobStatus(context.Background(), job.ID, "failed", &msg)
		return
	}
	if req.URL == "" {
		req.URL = job.URL
	}
	runScrapeJob(ctx, e.cfg, e.st, e.deps, job, req)
}

// CrawlExecutor implements jobs.CrawlJobExecutor.
type CrawlExecutor struct {
	cfg  *config.Config
	st   *store.Store
	deps WorkerDeps
}

func NewCrawlExecutor(cfg *config.Config, st *store.Store, deps WorkerDeps) *CrawlExecutor {
	return &CrawlExecutor{cfg: cfg, st: st, deps: deps}
}

func (e *CrawlExecutor) ExecuteCrawlJob(ctx context.Context, job store.Job) {
	var req CrawlRequest
	if err := json.Unmarshal(job.Input, &req); err != nil {
		msg := "CRAWL_FAILED: invalid crawl job input: " + err.Error()
		_ = e.st.UpdateCrawlJobStatus(context.Background(), job.ID, "failed", &msg)
		return
	}
	if req.URL == "" {
		req.URL = job.URL
	}
	runCrawlJob(ctx, e.cfg, e.st, e.deps, job, req)
}

// MapExecutor implements jobs.MapJobExecutor.
type MapExecutor struct {
	cfg *config.Config
	st  *store.Store
}

func NewMapExecutor(cfg *config.Config, st *store.Store) *MapExecutor {
	return &MapExecutor{cfg: cfg, st: st}
}

func (e *MapExecutor) ExecuteMapJob(ctx context.Context, job store.Job) {
	var req MapRequest
	if err := json.Unmarshal(job.Input, &req); err != nil {
		msg := "MAP_FAILED: invalid map job input: " + err.Error()
		_ = e.st.UpdateCrawlJobStatus(context.Background(), job.ID, "failed", &msg)
		return
	}
	if req.URL == "" {
		req.URL = job.URL
	}
	runMapJob(ctx, e.cfg, e.st, job.ID, req)
}

// ExtractExecutor implements jobs.ExtractJobExecutor.
type ExtractExecutor struct {
	cfg *config.Config
	st  *store.Store
}

func NewExtractExecutor(cfg *config.Config, st *store.Store) *ExtractExecutor {
	return &ExtractExecutor{cfg: cfg, st: st}
}

func (e *ExtractExecutor) ExecuteExtractJob(ctx context.Context, job store.Job) {
	var req ExtractRequest
	if err := json.Unmarshal(job.Input, &req); err != nil {
		msg := "EXTRACT_FAILED: invalid extract job input: " + err.Error()
		_ = e.st.UpdateCrawlJobStatus(context.Background(), job.ID, "failed", &msg)
		return
	}
	if len(req.URLs) == 0 && job.URL != "" {
		req.URLs = []string{job.URL}
	}
	runExtractJob(ctx, e.cfg, e.st, job.ID, req)
}

// BatchScrapeExecutor implements jobs.BatchScrapeJobExecutor.
type BatchScrapeExecutor struct {
	cfg  *config.Config
	st   *store.Store
	deps WorkerDeps
}

func NewBatchScrapeExecutor(cfg *config.Config, st *store.Store, deps WorkerDeps) *BatchScrapeExecutor {
	return &BatchScrapeExecutor{cfg: cfg, st: st, deps: deps}
}

func (e *BatchScrapeExecutor) ExecuteBatchScrapeJob(ctx context.Context, job store.Job) {
	var req BatchScrapeRequest
	if err := json.Unmarshal(job.Input, &req); err != nil {
		msg := "BATCH_SCRAPE_FAILED: invalid batch scrape job input: " + err.Error()
		_ = e.st.UpdateCrawlJobStatus(context.Background(), job.ID, "failed", &msg)
		return
	}
	runBatchScrapeJob(ctx, e.cfg, e.st, e.deps, job, req)
}

// runCrawlJob performs the actual crawl for a single job ID using the
// provided crawl request options.
func runCrawlJob(ctx context.Context, cfg *config.Config, st *store.Store, deps WorkerDeps, job store.Job, req CrawlRequest) {
	jobID := job.ID
	_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "running", nil)

	// Derive discovery options from request and config.
	limit := cfg.Crawler.MaxPagesDefault
	if req.Limit != nil && *req.Limit > 0 {
		limit = *req.Limit
	}

	// An explicit maxDepth of 0 is meaningful (crawl only the seed), so
	// only fall back to the config default when the field is absent.
	maxDepth := cfg.Crawler.MaxDepthDefault
	if req.MaxDepth != nil && *req.MaxDepth >= 0 {
		maxDepth = *req.MaxDepth
	}

	includeSubdomains := false
	if req.AllowSubdomains != nil {
		includeSubdomains = *req.AllowSubdomains
	}
	// When crawlEntireDomain is requested, always include subdomains for
	// broader coverage of the site.
	entireDomain := req.EntireDomain()
	if entireDomain {
		includeSubdomains = true
	}

	ignoreQueryParams := true
	if req.IgnoreQueryParams != nil {
		ignoreQueryParams = *req.IgnoreQueryParams
	}

	allowExternal := false
	if req.AllowExternalLinks != nil {
		allowExternal = *req.AllowExternalLinks
	}

	regexOnFullURL := false
	if req.RegexOnFullURL != nil {
		regexOnFullURL = *req.RegexOnFullURL
	}

	respectRobots := cfg.Robots.Respect
	if req.IgnoreRobotsTxt != nil && *req.IgnoreRobotsTxt {
		respectRobots = false
	}

	sitemapMode := req.Sitemap
	if sitemapMode == "" {
		sitemapMode = "include"
	}

	timeout := time.Duration(cfg.Scraper.TimeoutMs) * time.Millisecond

	seedURL, err := neturl.Parse(strings.TrimSpace(req.URL))
	if err != nil || seedURL.Host == "" {
		msg := "INVALID_URL: " + req.URL
		_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
		return
	}

	// The crawl may go maxDepth path segments beyond the seed's own
	// depth; a seed at /a/b with maxDepth 1 admits /a/b/c but not
	// /a/b/c/d.
	maxCrawledDepth := pathSegmentDepth(seedURL.Path) + maxDepth

	seedPathPrefix := strings.TrimSuffix(seedURL.Path, "/")

	scope := crawler.ScopeOptions{
		BaseHost:        seedURL.Host,
		AllowSubdomains: includeSubdomains,
		EntireDomain:    entireDomain,
		AllowExternal:   allowExternal,
	}
	pathFilter := crawler.PathFilter{
		IncludePaths:   req.IncludePaths,
		ExcludePaths:   req.ExcludePaths,
		RegexOnFullURL: regexOnFullURL,
	}
	frontier := crawler.NewFrontier(limit)

	var robotsChecker *crawler.RobotsChecker
	if respectRobots {
		robotsChecker = crawler.NewRobotsChecker(&http.Client{Timeout: timeout})
	}

	// admit reports whether u should be fetched: in scope, passes the
	// path filter, not already seen, under the discovery limit, and
	// (if enabled) allowed by the host's robots.txt.
	admit := func(raw string, depth int) (*neturl.URL, bool) {
		u, err := neturl.Parse(raw)
		if err != nil || u.Host == "" {
			return nil, false
		}
		if ignoreQueryParams {
			u.RawQuery = ""
			u.ForceQuery = false
		}
		if pathSegmentDepth(u.Path) > maxCrawledDepth {
			return nil, false
		}
		if !crawler.InScope(scope, u.Host) {
			return nil, false
		}
		// Without crawlEntireDomain the crawl stays under the seed's
		// path prefix; with it, anywhere in-domain is fair game.
		if !entireDomain && !allowExternal && seedPathPrefix != "" && !strings.HasPrefix(u.Path, seedPathPrefix) {
			return nil, false
		}
		if !pathFilter.Allowed(u) {
			return nil, false
		}
		if !frontier.Admit(u.String(), depth) {
			return nil, false
		}
		if robotsChecker != nil && !robotsChecker.Allowed(ctx, u, cfg.Scraper.UserAgent) {
			// Robots denials are an expected skip, recorded separately
			// from fetch failures for the errors endpoint.
			msg := "ROBOTS_DISALLOWED: blocked by robots.txt"
			_ = st.RecordCrawlChild(ctx, jobID, u.String(), "failed", &msg, job.TeamID, job.ZDR)
			return nil, false
		}
		return u, true
	}

	// Seed the frontier with the crawl root plus, unless skipped,
	// every URL discovered from the site's sitemap.
	var urls []string
	if u, ok := admit(seedURL.String(), 0); ok {
		urls = append(urls, u.String())
	}
	if sitemapMode != "skip" {
		if sm, smErr := crawler.Map(ctx, crawler.MapOptions{
			URL:           req.URL,
			Limit:         limit,
			SitemapMode:   "only",
			Timeout:       time.Duration(cfg.Crawler.SitemapTimeoutMs) * time.Millisecond,
			RespectRobots: respectRobots,
			UserAgent:     cfg.Scraper.UserAgent,
		}); smErr == nil {
			for _, l := range sm.Links {
				if u, ok := admit(l.URL, 0); ok {
					urls = append(urls, u.String())
				}
			}
		}
	}

	// Determine whether we should compute summaries and/or json/branding for this crawl.
	wantSummary := scrapeutil.WantsFormat(req.Formats, "summary")
	hasJSON, jsonPrompt, jsonSchema := scrapeutil.GetJSONFormatConfig(req.Formats)
	wantBranding, brandingPrompt := scrapeutil.GetBrandingFormatConfig(req.Formats)
	wantLLM := wantSummary || hasJSON || wantBranding

	var (
		llmClient  llm.Client
		provider   llm.Provider
		modelName  string
		llmTimeout time.Duration
	)
	if wantLLM {
		var err error
		llmClient, provider, modelName, err = llm.NewClientFromConfig(cfg, "", "")
		if err != nil {
			msg := err.Error()
			_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
			return
		}
		llmTimeout = timeout
	}

	s := scraper.NewHTTPScraper(timeout)

	// Derive per-page scrape headers if provided at the crawl level.
	scrapeHeaders := map[string]string{}
	if req.ScrapeOptions != nil {
		for k, v := range req.ScrapeOptions.Headers {
			scrapeHeaders[k] = v
		}
	}

	maxPerJob := cfg.Worker.MaxConcurrentURLsPerJob

	if maxPerJob <= 0 {
		maxPerJob = 1
	}
	// Allow per-crawl overrides of URL concurrency, but never exceed the
	// global worker limit.
	if req.MaxConcurrency != nil && *req.MaxConcurrency > 0 && *req.MaxConcurrency < maxPerJob {
		maxPerJob = *req.MaxConcurrency
	}

	// Minimum inter-page gap: the larger of the user's delay and the
	// seed host's robots.txt crawl-delay wins. Any gap at all forces
	// the crawl serial, since a concurrent fan-out can't honor spacing.
	var crawlDelay time.Duration
	if req.Delay != nil && *req.Delay > 0 {
		crawlDelay = time.Duration(*req.Delay) * time.Second
	}
	if robotsChecker != nil {
		if rd := robotsChecker.CrawlDelay(ctx, seedURL, cfg.Scraper.UserAgent); rd > crawlDelay {
			crawlDelay = rd
		}
	}
	if crawlDelay > 0 {
		maxPerJob = 1
	}

	// Depth ceiling for URLs found through link extraction; sitemap
	// URLs enter at depth 0 and are exempt.
	maxDiscoveryDepth := 0
	if req.MaxDiscoveryDepth != nil && *req.MaxDiscoveryDepth > 0 {
		maxDiscoveryDepth = *req.MaxDiscoveryDepth
	}

	var successCount int32

	// scrapePage fetches u, runs any requested LLM post-processing,
	// persists the resulting document, and returns the page's
	// outbound links as candidates for the next BFS level. A nil
	// return means the page was not added to the result set.
	scrapePage := func(u string) []string {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Build per-request headers, including crawl-level scrapeOptions
		// and any location-derived Accept-Language settings.
		headers := map[string]string{}
		for k, v := range scrapeHeaders {
			headers[k] = v
		}
		if req.ScrapeOptions != nil && req.ScrapeOptions.Location != nil {
			loc := req.ScrapeOptions.Location
			if len(loc.Languages) > 0 {
				headers["Accept-Language"] = strings.Join(loc.Languages, ",")
			} else if loc.Country != "" {
				headers["Accept-Language"] = loc.Country
			}
		}

		lease, leaseErr := leaseForTeam(ctx, cfg, st, deps.Governor, job.TeamID)
		if leaseErr != nil {
			return nil
		}
		defer func() {
			if lease != nil {
				_ = lease.Release(context.Background())
			}
		}()

		res, err := s.Scrape(ctx, scraper.Request{
			URL:       u,
			Headers:   headers,
			Timeout:   timeout,
			UserAgent: cfg.Scraper.UserAgent,
		})
		if err != nil {
			// A child failure is recorded and non-fatal; the crawl
			// keeps going.
			msg := apperr.ClassifyFetchError(err).Persist()
			_ = st.RecordCrawlChild(ctx, jobID, u, "failed", &msg, job.TeamID, job.ZDR)
			return nil
		}

		engine := res.Engine
		md := model.Metadata{
			Title:       scrapeutil.ToString(res.Metadata["title"]),
			Description: scrapeutil.ToString(res.Metadata["description"]),
			SourceURL:   scrapeutil.ToString(res.Metadata["sourceURL"]),
			StatusCode:  res.Status,
		}

		if wantSummary {
			fieldSpecs := []llm.FieldSpec{{
				Name:        "summary",
				Description: "Short natural-language summary of the page content.",
				Type:        "string",
			}}

			llmCtx, llmCancel := context.WithTimeout(ctx, llmTimeout)
			llmRes, err := llmClient.ExtractFields(llmCtx, llm.ExtractRequest{
				URL:      md.SourceURL,
				Markdown: res.Markdown,
				Fields:   fieldSpecs,
				Prompt:   "",
				Timeout:  llmTimeout,
				Strict:   false,
			})
			llmCancel()
			if err != nil {
				metrics.RecordLLMExtract(string(provider), modelName, false)
			} else {
				metrics.RecordLLMExtract(string(provider), modelName, true)
				if v, ok := llmRes.Fields["summary"]; ok {
					if s, ok2 := v.(string); ok2 {
						md.Summary = s
					}
				}
			}
		}

		if hasJSON {
			desc := "Arbitrary JSON object extracted from the page content."
			if len(jsonSchema) > 0 {
				if schemaBytes, err := json.Marshal(jsonSchema); err == nil {
					desc = desc + " Schema: " + string(schemaBytes)
				}
			}

			fieldSpecs := []llm.FieldSpec{{
				Name:        "json",
				Description: desc,
				Type:        "object",
			}}

			llmCtx, llmCancel := context.WithTimeout(ctx, llmTimeout)
			llmRes, err := llmClient.ExtractFields(llmCtx, llm.ExtractRequest{
				URL:      md.SourceURL,
				Markdown: res.Markdown,
				Fields:   fieldSpecs,
				Prompt:   jsonPrompt,
				Timeout:  llmTimeout,
				Strict:   false,
			})
			llmCancel()
			if err != nil {
				metrics.RecordLLMExtract(string(provider), modelName, false)
			} else {
				metrics.RecordLLMExtract(string(provider), modelName, true)
				if v, ok := llmRes.Fields["json"]; ok {
					if m, ok2 := v.(map[string]interface{}); ok2 {
						md.JSON = m
					} else {
						md.JSON = map[string]interface{}{"_value": v}
					}
				}
			}
		}

		if wantBranding {
			// Fall back to a default prompt if the user did not
			// provide one in the formats array.
			if brandingPrompt == "" {
				brandingPrompt = "You are a brand design expert analyzing a website. Analyze the page and return a single JSON object describing the brand, matching this structure as closely as possible: " +
					"{colorScheme?: 'light'|'dark', colors?: {primary?: string, secondary?: string, accent?: string, background?: string, textPrimary?: string, textSecondary?: string, link?: string, success?: string, warning?: string, error?: string}, " +
					"typography?: {fontFamilies?: {primary?: string, heading?: string, code?: string}, fontStacks?: {primary?: string[], heading?: string[], body?: string[], paragraph?: string[]}, fontSizes?: {h1?: string, h2?: string, h3?: string, body?: string, small?: string}}, " +
					"spacing?: {baseUnit?: number, borderRadius?: string}, components?: {buttonPrimary?: {background?: string, textColor?: string, borderColor?: string, borderRadius?: string}, buttonSecondary?: {...}}, " +
					"images?: {logo?: string|null, favicon?: string|null, ogImage?: string|null}, personality?: {tone?: string, energy?: string, targetAudience?: string}}. " +
					"Only include fields you can infer with reasonable confidence."
			}

			descBranding := "Brand identity and design system information (colors, typography, logo, components, personality, etc.) extracted from the page."

			fieldSpecs := []llm.FieldSpec{{
				Name:        "branding",
				Description: descBranding,
				Type:        "object",
			}}

			llmCtx, llmCancel := context.WithTimeout(ctx, llmTimeout)
			llmRes, err := llmClient.ExtractFields(llmCtx, llm.ExtractRequest{
				URL:      md.SourceURL,
				Markdown: res.Markdown,
				Fields:   fieldSpecs,
				Prompt:   brandingPrompt,
				Timeout:  llmTimeout,
				Strict:   false,
			})
			llmCancel()
			if err != nil {
				metrics.RecordLLMExtract(string(provider), modelName, false)
			} else {
				metrics.RecordLLMExtract(string(provider), modelName, true)
				if v, ok := llmRes.Fields["branding"]; ok {
					if m, ok2 := v.(map[string]interface{}); ok2 {
						scrapeutil.NormalizeBrandingImages(m)
						md.Branding = m
					} else {
						md.Branding = map[string]interface{}{"_value": v}
					}
				}
			}
		}

		metaBytes, err := json.Marshal(md)
		if err != nil {
			return nil
		}

		statusCode := int32(res.Status)
		markdown := res.Markdown
		html := res.HTML
		raw := res.RawHTML

		urlKey, urlKeyErr := index.NormalizeForIndex(u)
		if urlKeyErr != nil {
			urlKey = ""
		}

		doc, addErr := st.AddDocument(ctx, jobID, res.URL, urlKey, "", &markdown, &html, &raw, metaBytes, &statusCode, &engine)
		if addErr != nil {
			return nil
		}
		if deps.Cache != nil {
			if fp, fpErr := scrapeFingerprint(ScrapeRequest{URL: u, Headers: headers}, headers); fpErr == nil {
				_ = deps.Cache.Store(ctx, fp, teamIDPtr(job.TeamID), doc, res.Status, !job.ZDR)
			}
		}
		queueBilling(ctx, deps.Billing, job.TeamID, billing.CostForFormats(req.Formats), hasJSON)
		atomic.AddInt32(&successCount, 1)

		return res.Links
	}

	// Breadth-first fan-out: each depth level is scraped with bounded
	// concurrency, and the links discovered on a page become the next
	// level's candidates, filtered back through admit(). The frontier
	// stops expanding once maxDepth or the discovery limit is hit.
	currentLevel := urls
	for depth := 0; len(currentLevel) > 0 && depth <= maxDepth; depth++ {
		select {
		case <-ctx.Done():
			msg := ctx.Err().Error()
			_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
			return
		default:
		}

		var mu sync.Mutex
		var nextLevel []string
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(maxPerJob)

		for _, u := range currentLevel {
			u := u
			if crawlDelay > 0 {
				// With the group serialized this spaces page starts by
				// at least the crawl delay.
				select {
				case <-ctx.Done():
				case <-time.After(crawlDelay):
				}
			}
			group.Go(func() error {
				select {
				case <-groupCtx.Done():
					return nil
				default:
				}

				links := scrapePage(u)
				if links == nil || depth == maxDepth {
					return nil
				}
				if maxDiscoveryDepth > 0 && depth+1 > maxDiscoveryDepth {
					return nil
				}
				for _, l := range links {
					if next, ok := admit(l, depth+1); ok {
						mu.Lock()
						nextLevel = append(nextLevel, next.String())
						mu.Unlock()
					}
				}
				return nil
			})
		}
		_ = group.Wait()
		currentLevel = nextLevel
	}

	if atomic.LoadInt32(&successCount) == 0 {
		msg := "no pages successfully scraped"
		_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
		return
	}

	_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "completed", nil)
}

// pathSegmentDepth counts the non-empty segments of a URL path, the
// depth measure the crawl's maxDepth bound is expressed in.
func pathSegmentDepth(path string) int {
	depth := 0
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg != "" {
			depth++
		}
	}
	return depth
}

// teamIDPtr converts a nullable team id to a *uuid.UUID for APIs that
// expect "no team" to be a nil pointer rather than a zero UUID.
func teamIDPtr(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := id.UUID
	return &v
}

// buildMapResponse projects a crawler.MapResult into the API shape:
// rich entries under web, bare URLs under links, plus a result-set
// summary. hasMore is inferred from the discovery limit being hit.
func buildMapResponse(res *crawler.MapResult, searchQuery string, limit int) MapResponse {
	web := make([]MapLink, 0, len(res.Links))
	links := make([]string, 0, len(res.Links))
	for _, l := range res.Links {
		web = append(web, MapLink{
			URL:         l.URL,
			Title:       l.Title,
			Description: l.Description,
		})
		links = append(links, l.URL)
	}

	return MapResponse{
		Success: true,
		Web:     web,
		Links:   links,
		Metadata: &MapResponseMetadata{
			TotalCount:  len(links),
			HasMore:     limit > 0 && len(links) >= limit,
			SearchQuery: searchQuery,
		},
		Warning: res.Warning,
	}
}

// runMapJob performs a map operation for a map job and stores the
// resulting MapResponse into the job's output field.
func runMapJob(ctx context.Context, cfg *config.Config, st *store.Store, jobID uuid.UUID, req MapRequest) {
	// Derive options from request and config
	limit := cfg.Crawler.MaxPagesDefault
	if req.Limit != nil && *req.Limit > 0 {
		limit = *req.Limit
	}

	includeSubdomains := false
	if req.IncludeSubdomains != nil {
		includeSubdomains = *req.IncludeSubdomains
	}

	ignoreQueryParams := true
	if req.IgnoreQueryParams != nil {
		ignoreQueryParams = *req.IgnoreQueryParams
	}

	allowExternal := false
	if req.AllowExternal != nil {
		allowExternal = *req.AllowExternal
	}

	sitemapMode := req.Sitemap
	if sitemapMode == "" {
		sitemapMode = "include"
	}

	timeoutMs := cfg.Scraper.TimeoutMs
	if req.Timeout != nil && *req.Timeout > 0 {
		timeoutMs = *req.Timeout
	}

	mapCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	res, err := crawler.Map(mapCtx, crawler.MapOptions{
		URL:               req.URL,
		Limit:             limit,
		Search:            req.Search,
		IncludeSubdomains: includeSubdomains,
		IgnoreQueryParams: ignoreQueryParams,
		AllowExternal:     allowExternal,
		SitemapMode:       sitemapMode,
		Timeout:           time.Duration(timeoutMs) * time.Millisecond,
		RespectRobots:     cfg.Robots.Respect,
		UserAgent:         cfg.Scraper.UserAgent,
	})
	if err != nil {
		msg := "MAP_FAILED: " + err.Error()
		_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
		return
	}

	out := buildMapResponse(res, req.Search, limit)

	output, err := json.Marshal(out)
	if err != nil {
		msg := "MAP_FAILED: failed to marshal map response: " + err.Error()
		_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
		return
	}

	if err := st.SetJobOutput(context.Background(), jobID, output); err != nil {
		msg := "MAP_FAILED: failed to persist job output: " + err.Error()
		_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
		return
	}

	_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "completed", nil)
}

// runExtractJob performs a multi-URL extract for an extract job and
// stores the resulting JSON object into the job's output field.
func runExtractJob(ctx context.Context, cfg *config.Config, st *store.Store, jobID uuid.UUID, req ExtractRequest) {
	urls := req.URLs
	if len(urls) == 0 {
		msg := "EXTRACT_FAILED: no urls provided for extract job"
		_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
		return
	}

	// Use the scraper timeout for both scraping and LLM operations.
	timeoutMs := cfg.Scraper.TimeoutMs

	// Scrape all URLs using the HTTP scraper (no browser for extract).
	s := scraper.NewHTTPScraper(time.Duration(timeoutMs) * time.Millisecond)

	scrapeCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	var combinedMarkdown strings.Builder
	for i, u := range urls {
		res, err := s.Scrape(scrapeCtx, scraper.Request{
			URL:       u,
			Headers:   map[string]string{},
			Timeout:   time.Duration(timeoutMs) * time.Millisecond,
			UserAgent: cfg.Scraper.UserAgent,
		})
		if err != nil {
			msg := "SCRAPE_FAILED: " + err.Error()
			_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
			return
		}

		if i > 0 {
			combinedMarkdown.WriteString("\n\n---\n\n")
		}
		combinedMarkdown.WriteString(fmt.Sprintf("URL: %s\n\n", u))
		combinedMarkdown.WriteString(res.Markdown)
	}

	markdown := combinedMarkdown.String()

	// Prepare LLM client.
	client, provider, modelName, err := llm.NewClientFromConfig(cfg, req.Provider, req.Model)
	if err != nil {
		msg := "LLM_NOT_CONFIGURED: " + err.Error()
		_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
		return
	}

	llmTimeout := time.Duration(timeoutMs) * time.Millisecond
	llmCtx, llmCancel := context.WithTimeout(ctx, llmTimeout)
	defer llmCancel()

	// Schema-driven JSON extraction mode; legacy field-based extract
	// has been removed from the public API.
	filtered, err := extract.Run(llmCtx, client, urls[0], markdown, req.Schema, req.Prompt, llmTimeout)
	if err != nil {
		metrics.RecordLLMExtract(string(provider), modelName, false)
		msg := "EXTRACT_FAILED: " + err.Error()
		_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
		return
	}

	metrics.RecordLLMExtract(string(provider), modelName, true)

	if len(filtered) == 0 {
		msg := "EXTRACT_EMPTY_RESULT: LLM did not return any fields"
		_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
		return
	}

	// Persist only the structured JSON object (filtered) into job output.
	output, err := json.Marshal(filtered)
	if err != nil {
		msg := "EXTRACT_FAILED: failed to marshal extract result: " + err.Error()
		_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
		return
	}

	if err := st.SetJobOutput(context.Background(), jobID, output); err != nil {
		msg := "EXTRACT_FAILED: failed to persist job output: " + err.Error()
		_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
		return
	}

	_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "completed", nil)
}

// runBatchScrapeJob performs a batch scrape for a fixed list of URLs and
// stores each scraped page as a document associated with the job.
func runBatchScrapeJob(ctx context.Context, cfg *config.Config, st *store.Store, deps WorkerDeps, job store.Job, req BatchScrapeRequest) {
	jobID := job.ID
	_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "running", nil)

	if len(req.URLs) == 0 {
		msg := "BATCH_SCRAPE_FAILED: no urls provided for batch scrape job"
		_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
		return
	}

	timeout := time.Duration(cfg.Scraper.TimeoutMs) * time.Millisecond
	s := scraper.NewHTTPScraper(timeout)

	maxPerJob := cfg.Worker.MaxConcurrentURLsPerJob
	if maxPerJob <= 0 {
		maxPerJob = 1
	}

	var successCount int32
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxPerJob)

	for _, u := range req.URLs {
		u := u
		group.Go(func() error {
			select {
			case <-groupCtx.Done():
				return nil
			default:
			}

			lease, leaseErr := leaseForTeam(ctx, cfg, st, deps.Governor, job.TeamID)
			if leaseErr != nil {
				return nil
			}
			defer func() {
				if lease != nil {
					_ = lease.Release(context.Background())
				}
			}()

			res, err := s.Scrape(ctx, scraper.Request{
				URL:       u,
				Headers:   map[string]string{},
				Timeout:   timeout,
				UserAgent: cfg.Scraper.UserAgent,
			})
			if err != nil {
				return nil
			}

			engine := res.Engine
			md := model.Metadata{
				Title:       scrapeutil.ToString(res.Metadata["title"]),
				Description: scrapeutil.ToString(res.Metadata["description"]),
				SourceURL:   scrapeutil.ToString(res.Metadata["sourceURL"]),
				StatusCode:  res.Status,
			}

			metaBytes, err := json.Marshal(md)
			if err != nil {
				return nil
			}

			statusCode := int32(res.Status)
			markdown := res.Markdown
			html := res.HTML
			raw := res.RawHTML

			urlKey, urlKeyErr := index.NormalizeForIndex(u)
			if urlKeyErr != nil {
				urlKey = ""
			}

			doc, addErr := st.AddDocument(ctx, jobID, res.URL, urlKey, "", &markdown, &html, &raw, metaBytes, &statusCode, &engine)
			if addErr != nil {
				return nil
			}
			if deps.Cache != nil {
				if fp, fpErr := scrapeFingerprint(ScrapeRequest{URL: u}, map[string]string{}); fpErr == nil {
					_ = deps.Cache.Store(ctx, fp, teamIDPtr(job.TeamID), doc, res.Status, !job.ZDR)
				}
			}
			queueBilling(ctx, deps.Billing, job.TeamID, billing.CostForFormats(req.Formats), false)
			atomic.AddInt32(&successCount, 1)
			return nil
		})
	}
	_ = group.Wait()

	if ctx.Err() != nil {
		msg := ctx.Err().Error()
		_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
		return
	}

	if atomic.LoadInt32(&successCount) == 0 {
		msg := "BATCH_SCRAPE_FAILED: no pages successfully scraped"
		_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
		return
	}

	_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "completed", nil)
}

// runScrapeJob performs a single-page scrape for a scrape job and stores
// the resulting Document into the job's output field.
func runScrapeJob(ctx context.Context, cfg *config.Config, st *store.Store, deps WorkerDeps, job store.Job, req ScrapeRequest) {
	jobID := job.ID
	_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "running", nil)

	// Derive timeout from request and config.
	timeoutMs := cfg.Scraper.TimeoutMs
	if req.Timeout != nil && *req.Timeout > 0 {
		timeoutMs = *req.Timeout
	}

	if req.WaitFor != nil && *req.WaitFor > timeoutMs/2 {
		msg := "VALIDATION_ERROR: waitFor must not exceed half of timeout"
		_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
		return
	}

	if err := formats.Validate(req.Formats); err != nil {
		msg := "VALIDATION_ERROR: " + err.Error()
		_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
		return
	}

	if scraper.IsUnsupportedFileURL(req.URL) {
		msg := "UNSUPPORTED_FILE_ERROR: URL points to a file format with no supported extractor"
		_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
		return
	}

	hasFormats := len(req.Formats) > 0

	// Determine whether screenshot format was requested and its options.
	hasScreenshot, screenshotFullPage := getScreenshotFormatConfig(req.Formats)

	// Choose scraper engine: HTTP by default, rod when requested and enabled.
	useBrowser := false
	if req.UseBrowser != nil {
		useBrowser = *req.UseBrowser
	}
	if hasScreenshot || len(req.Actions) > 0 {
		// Screenshots and page actions always use the browser engine.
		useBrowser = true
	}

	isPDFRequest := scraper.IsLikelyPDFURL(req.URL)
	if _, ok := scraper.RewriteDocumentViewURL(req.URL); ok {
		isPDFRequest = true
	}

	if isPDFRequest && time.Duration(timeoutMs)*time.Millisecond < scraper.MinPDFTimeout {
		msg := fmt.Sprintf("INSUFFICIENT_PDF_TIME: timeout must be at least %s for PDF documents", scraper.MinPDFTimeout)
		_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
		return
	}

	var engine scraper.Scraper
	switch {
	case isPDFRequest:
		engine = scraper.NewPDFScraper(time.Duration(timeoutMs) * time.Millisecond)
	case useBrowser:
		if !cfg.Rod.Enabled {
			if hasScreenshot {
				msg := "SCREENSHOT_NOT_AVAILABLE: screenshot format requires browser scraping, but rod is disabled in server configuration"
				_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
				return
			}
			engine = scraper.NewHTTPScraper(time.Duration(timeoutMs) * time.Millisecond)
		} else {
			engine = scraper.NewRodScraper(time.Duration(timeoutMs) * time.Millisecond)
		}
	default:
		engine = scraper.NewHTTPScraper(time.Duration(timeoutMs) * time.Millisecond)
	}

	headers := map[string]string{}
	for k, v := range req.Headers {
		headers[k] = v
	}
	// Apply location settings to Accept-Language when provided.
	if req.Location != nil {
		if len(req.Location.Languages) > 0 {
			headers["Accept-Language"] = strings.Join(req.Location.Languages, ",")
		} else if req.Location.Country != "" {
			headers["Accept-Language"] = req.Location.Country
		}
	}

	// Check the result index before touching the network: a fresh-enough
	// cache entry lets the caller skip the fetch entirely. An
	// unspecified maxAge accepts entries up to four hours old; an
	// explicit 0 forces a miss.
	fingerprint, fpErr := scrapeFingerprint(req, headers)
	maxAge := 4 * time.Hour
	if req.MaxAge != nil {
		maxAge = time.Duration(*req.MaxAge) * time.Millisecond
	}
	if fpErr == nil && deps.Cache != nil {
		if entry, lookupErr := deps.Cache.Lookup(ctx, fingerprint, maxAge); lookupErr == nil && entry != nil {
			cached := documentFromCacheEntry(entry, req, hasFormats)
			if output, marshalErr := json.Marshal(cached); marshalErr == nil {
				if setErr := st.SetJobOutput(context.Background(), jobID, output); setErr == nil {
					queueBilling(ctx, deps.Billing, job.TeamID, billing.CostForFormats(req.Formats), false)
					_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "completed", nil)
					return
				}
			}
		}
	}

	lease, leaseErr := leaseForTeam(ctx, cfg, st, deps.Governor, job.TeamID)
	if leaseErr != nil {
		msg := "CONCURRENCY_LIMIT_EXCEEDED: " + leaseErr.Error()
		_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
		return
	}
	defer func() {
		if lease != nil {
			_ = lease.Release(context.Background())
		}
	}()

	var waitFor time.Duration
	if req.WaitFor != nil && *req.WaitFor > 0 {
		waitFor = time.Duration(*req.WaitFor) * time.Millisecond
	}

	var actions []scraper.Action
	for _, a := range req.Actions {
		actions = append(actions, scraper.Action{
			Type:         a.Type,
			Selector:     a.Selector,
			Text:         a.Text,
			Key:          a.Key,
			Milliseconds: a.Milliseconds,
			Direction:    a.Direction,
		})
	}

	scrapeReq := scraper.Request{
		URL:           req.URL,
		Headers:       headers,
		Timeout:       time.Duration(timeoutMs) * time.Millisecond,
		UserAgent:     cfg.Scraper.UserAgent,
		WaitFor:       waitFor,
		SkipTLSVerify: req.SkipTLSVerification != nil && *req.SkipTLSVerification,
		Actions:       actions,
	}

	scrapeCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	res, err := engine.Scrape(scrapeCtx, scrapeReq)
	if err != nil {
		classified := apperr.ClassifyFetchError(err)
		msg := classified.Persist()
		// Transient failures get another pass through the queue until
		// the retry policy is exhausted; permanent ones fail now.
		if classified.Retryable && int(job.Attempts) < cfg.Queue.MaxAttempts {
			_ = st.RequeueJobForRetry(context.Background(), jobID, msg)
			return
		}
		_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
		return
	}

	// Assemble the base document (metadata, filtered links, images,
	// format-gated fields) through the scrape service so the worker and
	// the search-with-scrape path share one projection.
	svc := services.NewScrapeService(cfg)
	svcRes, svcErr := svc.Scrape(ctx, &services.ScrapeRequest{
		Result:  res,
		Formats: req.Formats,
	})
	if svcErr != nil || svcRes == nil || svcRes.Document == nil {
		msg := "SCRAPE_FAILED: failed to assemble document"
		if svcErr != nil {
			msg += ": " + svcErr.Error()
		}
		_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
		return
	}

	doc := svcRes.Document
	// This result came from the network, not the index.
	doc.Metadata.CacheState = "miss"
	md := doc.Metadata

	// Optional screenshot format using the browser engine when requested.
	if hasScreenshot {
		screenshotCtx, screenshotCancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer screenshotCancel()

		shot, err := scraper.CaptureScreenshot(screenshotCtx, res.URL, time.Duration(timeoutMs)*time.Millisecond, screenshotFullPage)
		if err != nil {
			msg := "SCREENSHOT_FAILED: " + err.Error()
			_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
			return
		}

		doc.Screenshot = base64.StdEncoding.EncodeToString(shot)
	}

	// Optional summary format using the configured LLM provider when requested.
	if scrapeutil.WantsFormat(req.Formats, "summary") {
		client, provider, modelName, err := llm.NewClientFromConfig(cfg, "", "")
		if err != nil {
			msg := "LLM_NOT_CONFIGURED: " + err.Error()
			_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
			return
		}

		fieldSpecs := []llm.FieldSpec{
			{
				Name:        "summary",
				Description: "Short natural-language summary of the page content.",
				Type:        "string",
			},
		}

		llmTimeout := time.Duration(timeoutMs) * time.Millisecond
		llmCtx, llmCancel := context.WithTimeout(ctx, llmTimeout)
		defer llmCancel()

		llmRes, err := client.ExtractFields(llmCtx, llm.ExtractRequest{
			URL:      req.URL,
			Markdown: res.Markdown,
			Fields:   fieldSpecs,
			Prompt:   "",
			Timeout:  llmTimeout,
			Strict:   false,
		})
		if err != nil {
			metrics.RecordLLMExtract(string(provider), modelName, false)
			msg := "SUMMARY_FAILED: " + err.Error()
			_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
			return
		}

		metrics.RecordLLMExtract(string(provider), modelName, true)

		if v, ok := llmRes.Fields["summary"]; ok {
			if s, ok := v.(string); ok {
				doc.Summary = s
			}
		}
	}

	// Optional json format (or its legacy extract alias) using the
	// configured LLM provider when requested.
	if hasJSON, legacy, jsonPrompt, jsonSchema := scrapeutil.GetExtractionFormatConfig(req.Formats); hasJSON {
		client, provider, modelName, err := llm.NewClientFromConfig(cfg, "", "")
		if err != nil {
			msg := "LLM_NOT_CONFIGURED: " + err.Error()
			_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
			return
		}

		llmTimeout := time.Duration(timeoutMs) * time.Millisecond
		llmCtx, llmCancel := context.WithTimeout(ctx, llmTimeout)
		defer llmCancel()

		extracted, err := extract.Run(llmCtx, client, md.SourceURL, res.Markdown, jsonSchema, jsonPrompt, llmTimeout)
		if err != nil {
			metrics.RecordLLMExtract(string(provider), modelName, false)
			msg := "JSON_EXTRACT_FAILED: " + err.Error()
			_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
			return
		}

		metrics.RecordLLMExtract(string(provider), modelName, true)

		if legacy {
			doc.Extract = extracted
		} else {
			doc.JSON = extracted
		}
	}

	// Optional branding format using the configured LLM provider when requested.
	if hasBranding, brandingPrompt := scrapeutil.GetBrandingFormatConfig(req.Formats); hasBranding {
		client, provider, modelName, err := llm.NewClientFromConfig(cfg, "", "")
		if err != nil {
			msg := "LLM_NOT_CONFIGURED: " + err.Error()
			_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
			return
		}

		// Default branding prompt, asking for a structured object with
		// keys like colorScheme, colors,
		// typography, spacing, components, images, fonts, tone, and personality.
		if brandingPrompt == "" {
			brandingPrompt = "You are a brand design expert analyzing a website. Analyze the page and return a single JSON object describing the brand, matching this structure as closely as possible: " +
				"{colorScheme?: 'light'|'dark', colors?: {primary?: string, secondary?: string, accent?: string, background?: string, textPrimary?: string, textSecondary?: string, link?: string, success?: string, warning?: string, error?: string}, " +
				"typography?: {fontFamilies?: {primary?: string, heading?: string, code?: string}, fontStacks?: {primary?: string[], heading?: string[], body?: string[], paragraph?: string[]}, fontSizes?: {h1?: string, h2?: string, h3?: string, body?: string, small?: string}}, " +
				"spacing?: {baseUnit?: number, borderRadius?: string}, components?: {buttonPrimary?: {background?: string, textColor?: string, borderColor?: string, borderRadius?: string}, buttonSecondary?: {...}}, " +
				"images?: {logo?: string|null, favicon?: string|null, ogImage?: string|null}, personality?: {tone?: string, energy?: string, targetAudience?: string}}. " +
				"Only include fields you can infer with reasonable confidence."
		}

		descBranding := "Brand identity and design system information (colors, typography, logo, components, personality, etc.) extracted from the page."

		fieldSpecs := []llm.FieldSpec{
			{
				Name:        "branding",
				Description: descBranding,
				Type:        "object",
			},
		}

		llmTimeout := time.Duration(timeoutMs) * time.Millisecond
		llmCtx, llmCancel := context.WithTimeout(ctx, llmTimeout)
		defer llmCancel()

		llmRes, err := client.ExtractFields(llmCtx, llm.ExtractRequest{
			URL:      req.URL,
			Markdown: res.Markdown,
			Fields:   fieldSpecs,
			Prompt:   brandingPrompt,
			Timeout:  llmTimeout,
			Strict:   false,
		})
		if err != nil {
			metrics.RecordLLMExtract(string(provider), modelName, false)
			msg := "BRANDING_FAILED: " + err.Error()
			_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
			return
		}

		metrics.RecordLLMExtract(string(provider), modelName, true)

		if v, ok := llmRes.Fields["branding"]; ok {
			if m, ok := v.(map[string]interface{}); ok {
				scrapeutil.NormalizeBrandingImages(m)
				doc.Branding = m
			} else {
				doc.Branding = map[string]interface{}{"_value": v}
			}
		}
	}

	urlKey, urlKeyErr := index.NormalizeForIndex(req.URL)
	if urlKeyErr != nil {
		urlKey = ""
	}

	// Optional change tracking: compare against the most recent stored
	// version of this URL (within the request's tag namespace) before
	// the current scrape joins the document log.
	ctTag := ""
	if req.ChangeTracking != nil {
		ctTag = req.ChangeTracking.Tag
	}
	trackChanges := scrapeutil.WantsFormat(req.Formats, "changeTracking") || req.ChangeTracking != nil
	if trackChanges && urlKey != "" {
		ct, ctErr := computeChangeTracking(ctx, cfg, st, urlKey, req.ChangeTracking, res)
		if ctErr == nil && ct != nil {
			doc.ChangeTracking = ct
		}
	}

	output, err := json.Marshal(doc)
	if err != nil {
		msg := "SCRAPE_FAILED: failed to marshal document: " + err.Error()
		_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
		return
	}

	if err := st.SetJobOutput(context.Background(), jobID, output); err != nil {
		msg := "SCRAPE_FAILED: failed to persist job output: " + err.Error()
		_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "failed", &msg)
		return
	}

	// Record the page in the result index so a subsequent request for
	// the same fingerprint can skip the fetch, unless this job is under
	// zero-data-retention or the caller opted out of cache writes.
	storeInCache := req.StoreInCache == nil || *req.StoreInCache
	if fpErr == nil && !job.ZDR {
		statusCode := int32(res.Status)
		markdown, html, raw := res.Markdown, res.HTML, res.RawHTML
		metaBytes, _ := json.Marshal(md)
		if cacheDoc, addErr := st.AddDocument(ctx, jobID, res.URL, urlKey, ctTag, &markdown, &html, &raw, metaBytes, &statusCode, &res.Engine); addErr == nil && deps.Cache != nil {
			_ = deps.Cache.Store(ctx, fingerprint, teamIDPtr(job.TeamID), cacheDoc, res.Status, storeInCache)
		}
	}

	hasExtraction, _, _, _ := scrapeutil.GetExtractionFormatConfig(req.Formats)
	queueBilling(ctx, deps.Billing, job.TeamID, billing.CostForFormats(req.Formats), hasExtraction)

	_ = st.UpdateCrawlJobStatus(context.Background(), jobID, "completed", nil)
}

// computeChangeTracking compares the freshly scraped content against
// the most recent stored version of the same normalized URL and tag.
// changeStatus is new when no prior version exists, removed when the
// page now errors where it previously existed, and otherwise same or
// changed by markdown comparison.
func computeChangeTracking(ctx context.Context, cfg *config.Config, st *store.Store, urlKey string, opts *ChangeTrackingOptions, res *scraper.Result) (*model.ChangeTracking, error) {
	tag := ""
	var modes []string
	if opts != nil {
		tag = opts.Tag
		modes = opts.Modes
	}

	prev, err := st.GetLatestDocumentByURLKey(ctx, urlKey, tag)
	if err != nil {
		return nil, err
	}

	ct := &model.ChangeTracking{Visibility: "visible"}
	if prev == nil {
		ct.ChangeStatus = "new"
		return ct, nil
	}

	ct.PreviousScrapeAt = prev.CreatedAt.UTC().Format(time.RFC3339)

	prevMarkdown := ""
	if prev.Markdown.Valid {
		prevMarkdown = prev.Markdown.String
	}

	switch {
	case res.Status >= 400:
		ct.ChangeStatus = "removed"
	case prevMarkdown == res.Markdown:
		ct.ChangeStatus = "same"
	default:
		ct.ChangeStatus = "changed"
	}

	for _, mode := range modes {
		switch strings.ToLower(mode) {
		case "git-diff":
			if ct.ChangeStatus == "changed" {
				ct.Diff = scrapeutil.UnifiedDiff(prevMarkdown, res.Markdown)
			}
		case "json":
			if ct.ChangeStatus != "changed" {
				continue
			}
			client, provider, modelName, llmErr := llm.NewClientFromConfig(cfg, "", "")
			if llmErr != nil {
				continue
			}
			prompt := opts.Prompt
			if prompt == "" {
				prompt = "Compare the previous and current versions of this page and describe what changed as a structured object.\n\nPREVIOUS VERSION:\n" + prevMarkdown
			} else {
				prompt = prompt + "\n\nPREVIOUS VERSION:\n" + prevMarkdown
			}
			llmTimeout := time.Duration(cfg.Scraper.TimeoutMs) * time.Millisecond
			llmCtx, llmCancel := context.WithTimeout(ctx, llmTimeout)
			structured, diffErr := extract.Run(llmCtx, client, res.URL, res.Markdown, opts.Schema, prompt, llmTimeout)
			llmCancel()
			if diffErr != nil {
				metrics.RecordLLMExtract(string(provider), modelName, false)
				continue
			}
			metrics.RecordLLMExtract(string(provider), modelName, true)
			ct.JSON = structured
		}
	}

	return ct, nil
}

// documentFromCacheEntry reconstructs a Document response from a cached
// result-index entry, honoring the same per-format inclusion rules a
// live scrape would apply.
func documentFromCacheEntry(entry *index.Entry, req ScrapeRequest, hasFormats bool) *Document {
	var md model.Metadata
	_ = json.Unmarshal(entry.Document.Metadata, &md)
	md.CacheState = "hit"
	md.CachedAt = entry.CachedAt.UTC().Format(time.RFC3339)

	doc := &Document{Metadata: md}
	if entry.Document.Engine.Valid {
		doc.Engine = entry.Document.Engine.String
	}
	if (!hasFormats || scrapeutil.WantsFormat(req.Formats, "markdown")) && entry.Document.Markdown.Valid {
		doc.Markdown = entry.Document.Markdown.String
	}
	if (!hasFormats || scrapeutil.WantsFormat(req.Formats, "html")) && entry.Document.Html.Valid {
		doc.HTML = entry.Document.Html.String
	}
	if (!hasFormats || scrapeutil.WantsFormat(req.Formats, "rawHtml")) && entry.Document.RawHtml.Valid {
		doc.RawHTML = entry.Document.RawHtml.String
	}
	return doc
}
