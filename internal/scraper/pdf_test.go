package scraper

import "testing"

func TestIsLikelyPDFURL(t *testing.T) {
	if !IsLikelyPDFURL("https://example.com/whitepaper.pdf") {
		t.Errorf(".pdf path should be detected")
	}
	if !IsLikelyPDFURL("https://example.com/Whitepaper.PDF?dl=1") {
		t.Errorf("detection should ignore case and query string")
	}
	if IsLikelyPDFURL("https://example.com/page?file=x.pdf") {
		t.Errorf("query-only .pdf should not trigger the PDF path")
	}
	if IsLikelyPDFURL("https://example.com/page") {
		t.Errorf("plain page should not be detected as PDF")
	}
}

func TestRewriteDocumentViewURL(t *testing.T) {
	got, ok := RewriteDocumentViewURL("https://docs.google.com/document/d/abc123/view")
	if !ok {
		t.Fatalf("document view URL should be rewritten")
	}
	want := "https://docs.google.com/document/d/abc123/export?format=pdf"
	if got != want {
		t.Errorf("rewritten URL = %q, want %q", got, want)
	}

	got, ok = RewriteDocumentViewURL("https://docs.google.com/presentation/d/xyz/edit")
	if !ok {
		t.Fatalf("presentation URL should be rewritten")
	}
	if got != "https://docs.google.com/presentation/d/xyz/export?format=pdf" {
		t.Errorf("rewritten URL = %q", got)
	}

	if _, ok := RewriteDocumentViewURL("https://example.com/document/d/abc/view"); ok {
		t.Errorf("non-Google host should not be rewritten")
	}
	if _, ok := RewriteDocumentViewURL("https://docs.google.com/spreadsheets/d/abc"); ok {
		t.Errorf("unsupported doc kind should not be rewritten")
	}
}

func TestIsUnsupportedFileURL(t *testing.T) {
	for _, u := range []string{
		"https://example.com/archive.zip",
		"https://example.com/video.MP4",
		"https://example.com/release.tar.gz",
	} {
		if !IsUnsupportedFileURL(u) {
			t.Errorf("%q should be rejected as an unsupported file", u)
		}
	}
	for _, u := range []string{
		"https://example.com/report.pdf",
		"https://example.com/page.html",
		"https://example.com/",
	} {
		if IsUnsupportedFileURL(u) {
			t.Errorf("%q should not be rejected", u)
		}
	}
}
