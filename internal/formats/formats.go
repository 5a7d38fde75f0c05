package formats

import (
	"fmt"
	"strings"

	"raito/internal/scrapeutil"
)

// Format represents a logical output format supported by Raito.
type Format string

const (
	FormatMarkdown           Format = "markdown"
	FormatHTML               Format = "html"
	FormatRawHTML            Format = "rawHtml"
	FormatLinks              Format = "links"
	FormatImages             Format = "images"
	FormatSummary            Format = "summary"
	FormatJSON               Format = "json"
	FormatExtract            Format = "extract"
	FormatBranding           Format = "branding"
	FormatScreenshot         Format = "screenshot"
	FormatScreenshotFullPage Format = "screenshot@fullPage"
	FormatChangeTracking     Format = "changeTracking"
)

// knownFormats is the closed set a scrape request may ask for. An
// unknown member of the formats array is a validation error, not a
// silently ignored no-op.
var knownFormats = map[string]struct{}{
	"markdown":            {},
	"html":                {},
	"rawhtml":             {},
	"links":               {},
	"images":              {},
	"summary":             {},
	"json":                {},
	"extract":             {},
	"branding":            {},
	"screenshot":          {},
	"screenshot@fullpage": {},
	"changetracking":      {},
}

// HasFormat reports whether the given formats array contains the
// specified format name. It is a thin wrapper around
// scrapeutil.WantsFormat so callers do not need to depend on helpers.
func HasFormat(formats []any, name string) bool {
	return scrapeutil.WantsFormat(formats, name)
}

// normalizeFormatName converts a format descriptor (either a string or
// {type: string}) into a lowercased name.
func normalizeFormatName(f any) string {
	switch v := f.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case map[string]any:
		if t, ok := v["type"].(string); ok {
			// A screenshot descriptor may carry fullPage as a sibling
			// option; fold it into the name so the two variants stay
			// distinct everywhere downstream (cache keys included).
			name := strings.ToLower(strings.TrimSpace(t))
			if name == "screenshot" {
				if fp, ok := v["fullPage"].(bool); ok && fp {
					return "screenshot@fullpage"
				}
			}
			return name
		}
	}
	return ""
}

// Names flattens a formats array into normalized format names,
// dropping empty or unrecognizable entries. Order is preserved.
func Names(formats []any) []string {
	var out []string
	for _, f := range formats {
		if name := normalizeFormatName(f); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// Validate checks every member of a formats array against the known
// set. The first unknown name is returned as a user-facing error.
func Validate(formats []any) error {
	for _, f := range formats {
		name := normalizeFormatName(f)
		if name == "" {
			return fmt.Errorf("unrecognized entry in formats array")
		}
		if _, ok := knownFormats[name]; !ok {
			return fmt.Errorf("unknown format %q", name)
		}
	}

	// json and its legacy alias extract are mutually exclusive: they
	// route to the same LLM extraction but place the result in
	// different response fields.
	names := Names(formats)
	hasJSON, hasExtract := false, false
	for _, n := range names {
		if n == "json" {
			hasJSON = true
		}
		if n == "extract" {
			hasExtract = true
		}
	}
	if hasJSON && hasExtract {
		return fmt.Errorf("formats json and extract are mutually exclusive")
	}
	return nil
}

// ValidateFormatsForEndpoint validates a formats array for a specific
// endpoint. Currently only /v1/search applies extra restrictions; for
// every endpoint (search included) the formats are then checked
// against the known set and the json/extract exclusion by Validate.
//
// The returned error message is intended to be user-facing and is
// wired directly into HTTP error responses.
func ValidateFormatsForEndpoint(endpoint string, formats []any) error {
	if len(formats) == 0 {
		return nil
	}

	switch endpoint {
	case "search":
		// /v1/search only supports a limited subset of formats when
		// scrapeOptions are provided, to keep payloads small and
		// behavior predictable.
		allowed := map[string]struct{}{
			"markdown": {},
			"html":     {},
			"rawhtml":  {},
		}

		for _, f := range formats {
			name := normalizeFormatName(f)
			if name == "" {
				return fmt.Errorf("Unsupported format for /v1/search; allowed formats are: markdown, html, rawHtml")
			}
			if _, ok := allowed[name]; !ok {
				// Preserve the existing error wording used by the HTTP
				// handler so clients see consistent messages.
				return fmt.Errorf("Unsupported format %q for /v1/search; allowed formats are: markdown, html, rawHtml", name)
			}
		}
	}

	return Validate(formats)
}
