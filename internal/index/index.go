// Package index implements the Result Index: a content-addressed cache
// of previously scraped pages keyed by a fingerprint of everything that
// could change a scrape's output. A cache hit lets a scrape request
// with a maxAge skip re-fetching the page entirely; a miss always
// results in a fresh scrape. The fingerprint intentionally excludes
// changeTracking, since enabling or disabling it doesn't alter the
// underlying page content.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"raito/internal/config"
	"raito/internal/store"
)

// FingerprintInput captures every request dimension that can change a
// scrape's resulting content. Two requests that differ in any of these
// fields must land in different cache entries.
type FingerprintInput struct {
	URL               string
	Headers           map[string]string
	Mobile            bool
	LocationCountry   string
	LocationLanguages []string
	BlockAds          bool
	Proxy             string

	// Formats is the normalized requested-format set. changeTracking
	// must already be filtered out by the caller: enabling change
	// tracking doesn't alter the fetched content, so a plain request
	// may reuse a change-tracked entry and vice versa. The two
	// screenshot variants are distinct members.
	Formats []string

	// Actions is the serialized action sequence; any action at all
	// makes the fingerprint unique to that sequence.
	Actions []string

	OnlyMainContent bool
}

// NormalizeForIndex canonicalizes a URL so that equivalent requests
// (differing only by trailing slash, default port, or key order in the
// query string) collapse onto the same cache entry. It is idempotent:
// normalizing an already-normalized URL returns it unchanged.
func NormalizeForIndex(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}

	u.Scheme = "https"
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimSuffix(u.Host, ":80")
	u.Host = strings.TrimSuffix(u.Host, ":443")
	u.Host = strings.TrimPrefix(u.Host, "www.")
	u.Fragment = ""

	if u.Path == "" {
		u.Path = "/"
	}
	for _, suffix := range []string{"/index.html", "/index.htm", "/index.php", "/index.shtml", "/index.xml"} {
		if strings.HasSuffix(u.Path, suffix) {
			u.Path = strings.TrimSuffix(u.Path, suffix)
			if u.Path == "" {
				u.Path = "/"
			}
			break
		}
	}
	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	if u.RawQuery != "" {
		values := u.Query()
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		for i, k := range keys {
			vals := values[k]
			sort.Strings(vals)
			for j, v := range vals {
				if i > 0 || j > 0 {
					sb.WriteByte('&')
				}
				sb.WriteString(url.QueryEscape(k))
				sb.WriteByte('=')
				sb.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = sb.String()
	}

	return u.String(), nil
}

// Fingerprint derives a stable cache key from a FingerprintInput. The
// same logical request always yields the same fingerprint regardless
// of map/slice ordering; a proxy of "auto" is treated the same as
// "basic" since auto resolves to basic absent an explicit override.
func Fingerprint(in FingerprintInput) (string, error) {
	normURL, err := NormalizeForIndex(in.URL)
	if err != nil {
		return "", err
	}

	headerKeys := make([]string, 0, len(in.Headers))
	for k := range in.Headers {
		headerKeys = append(headerKeys, k)
	}
	sort.Strings(headerKeys)
	orderedHeaders := make([][2]string, 0, len(headerKeys))
	for _, k := range headerKeys {
		orderedHeaders = append(orderedHeaders, [2]string{strings.ToLower(k), in.Headers[k]})
	}

	proxy := in.Proxy
	if proxy == "" || proxy == "auto" {
		proxy = "basic"
	}

	languages := append([]string(nil), in.LocationLanguages...)
	sort.Strings(languages)

	// Formats are a set for equivalence purposes: order in the request
	// doesn't change the scrape, so it mustn't change the key.
	fmts := make([]string, 0, len(in.Formats))
	for _, f := range in.Formats {
		fmts = append(fmts, strings.ToLower(f))
	}
	sort.Strings(fmts)

	// Actions stay ordered: the same steps in a different order are a
	// different page state.
	actions := append([]string(nil), in.Actions...)

	payload := struct {
		URL             string
		Headers         [][2]string
		Mobile          bool
		Country         string
		Languages       []string
		BlockAds        bool
		Proxy           string
		Formats         []string
		Actions         []string
		OnlyMainContent bool
	}{
		URL:             normURL,
		Headers:         orderedHeaders,
		Mobile:          in.Mobile,
		Country:         in.LocationCountry,
		Languages:       languages,
		BlockAds:        in.BlockAds,
		Proxy:           proxy,
		Formats:         fmts,
		Actions:         actions,
		OnlyMainContent: in.OnlyMainContent,
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// Cache resolves and records result-index entries against the store.
type Cache struct {
	store        *store.Store
	freshnessTTL time.Duration
}

// NewFromConfig builds a Cache from application configuration.
func NewFromConfig(cfg *config.Config, st *store.Store) *Cache {
	ttl := time.Duration(cfg.Index.FreshnessTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &Cache{store: st, freshnessTTL: ttl}
}

// Entry is a cache hit: the stored document plus when it was cached.
type Entry struct {
	Document store.Document
	CachedAt time.Time
}

// Lookup returns a cache hit for fingerprint if one exists and is no
// older than maxAge. maxAge <= 0 means the caller did not request
// caching at all, and Lookup always reports a miss.
func (c *Cache) Lookup(ctx context.Context, fingerprint string, maxAge time.Duration) (*Entry, error) {
	if maxAge <= 0 {
		return nil, nil
	}

	rec, doc, err := c.store.GetIndexEntry(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	age := time.Since(doc.CreatedAt)
	if age > maxAge {
		return nil, nil
	}

	return &Entry{Document: doc, CachedAt: doc.CreatedAt}, nil
}

// Store records a freshly scraped document against fingerprint,
// provided it is eligible for caching: only successful (2xx) and
// non-empty responses are stored, matching the Result Index's contract
// that a cache entry always represents a usable page.
func (c *Cache) Store(ctx context.Context, fingerprint string, teamID *uuid.UUID, doc store.Document, statusCode int, storeInCache bool) error {
	if !storeInCache {
		return nil
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil
	}
	if !doc.Markdown.Valid && !doc.Html.Valid && !doc.RawHtml.Valid {
		return nil
	}

	expiresAt := time.Now().Add(c.freshnessTTL)
	return c.store.UpsertIndexEntry(ctx, fingerprint, doc.ID, teamID, expiresAt)
}
