package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
)

// IsLikelyPDFURL reports whether a URL's path suggests a PDF document,
// independent of the response's actual Content-Type (which is only known
// after the request completes).
func IsLikelyPDFURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}

// RewriteDocumentViewURL rewrites a Google Docs/Slides "view" URL to its
// PDF export form, so the PDF adapter can fetch a downloadable document
// instead of an HTML viewer shell. Other URLs, Google Sheets included,
// are returned unchanged with ok=false.
func RewriteDocumentViewURL(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || !strings.HasSuffix(u.Host, "docs.google.com") {
		return rawURL, false
	}

	var kind string
	switch {
	case strings.HasPrefix(u.Path, "/document/d/"):
		kind = "document"
	case strings.HasPrefix(u.Path, "/presentation/d/"):
		kind = "presentation"
	default:
		return rawURL, false
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	var id string
	for i, p := range parts {
		if p == "d" && i+1 < len(parts) {
			id = parts[i+1]
			break
		}
	}
	if id == "" {
		return rawURL, false
	}

	exportURL := fmt.Sprintf("https://docs.google.com/%s/d/%s/export?format=pdf", kind, id)
	return exportURL, true
}

// unsupportedFileExtensions are binary formats no adapter in this chain
// can extract text from; requests for these fail fast with
// apperr.CodeUnsupportedFile instead of downloading the body.
var unsupportedFileExtensions = []string{
	".zip", ".exe", ".dmg", ".mp4", ".mp3", ".avi", ".mov",
	".iso", ".tar", ".gz", ".7z", ".rar", ".bin",
}

// IsUnsupportedFileURL reports whether a URL's path extension names a
// binary format with no Fetcher adapter in this chain.
func IsUnsupportedFileURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, ext := range unsupportedFileExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// MinPDFTimeout is the minimum scrape timeout the PDF adapter needs to
// download and parse a document; requests with a shorter timeout are
// rejected before any network call is made (apperr.CodeInsufficientPDF).
const MinPDFTimeout = 10 * time.Second

// PDFScraper fetches a PDF document and extracts its plain text, used for
// URLs that resolve to a PDF Content-Type or carry a .pdf extension, and
// for Google Docs/Slides view URLs rewritten by RewriteDocumentViewURL.
type PDFScraper struct {
	client   *http.Client
	MaxPages int
}

// NewPDFScraper builds a PDFScraper. timeout bounds the HTTP download only;
// callers are expected to have already validated it against MinPDFTimeout.
func NewPDFScraper(timeout time.Duration) *PDFScraper {
	return &PDFScraper{client: &http.Client{Timeout: timeout}}
}

func (s *PDFScraper) Scrape(ctx context.Context, req Request) (*Result, error) {
	fetchURL := req.URL
	if rewritten, ok := RewriteDocumentViewURL(req.URL); ok {
		fetchURL = rewritten
	}

	u, err := url.Parse(fetchURL)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.UserAgent != "" {
		httpReq.Header.Set("User-Agent", req.UserAgent)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	content := buf.Bytes()

	text, pageCount, extractErr := extractPDFText(content, s.MaxPages)
	if extractErr != nil {
		return nil, extractErr
	}

	return &Result{
		URL:      u.String(),
		Markdown: text,
		RawHTML:  "",
		Status:   resp.StatusCode,
		Engine:   "pdf",
		Metadata: map[string]any{
			"statusCode": resp.StatusCode,
			"sourceURL":  u.String(),
			"pages":      pageCount,
			"contentType": resp.Header.Get("Content-Type"),
		},
	}, nil
}

// extractPDFText parses raw PDF bytes and returns concatenated plain text
// across pages (bounded by maxPages when > 0), following the same
// page-by-page GetPlainText walk as other PDF-ingestion code in this
// ecosystem. A PDF with no extractable text (e.g. scanned-image-only) is
// reported as an error rather than silently returning an empty document.
func extractPDFText(content []byte, maxPages int) (string, int, error) {
	if len(content) < 4 || string(content[:4]) != "%PDF" {
		return "", 0, fmt.Errorf("not a valid PDF document")
	}

	reader := bytes.NewReader(content)
	doc, err := pdf.NewReader(reader, int64(len(content)))
	if err != nil {
		return "", 0, fmt.Errorf("failed to parse PDF: %w", err)
	}

	var out strings.Builder
	pageCount := 0
	for i := 1; i <= doc.NumPage(); i++ {
		if maxPages > 0 && pageCount >= maxPages {
			break
		}
		page := doc.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		out.WriteString(pageText)
		out.WriteString("\n\n")
		pageCount++
	}

	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", pageCount, fmt.Errorf("PDF contains no extractable text")
	}
	return text, pageCount, nil
}
