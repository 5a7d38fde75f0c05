package formats

import "testing"

func TestValidateFormatsForEndpoint_Search_AllowsMarkdownHtmlRawHtml(t *testing.T) {
	formats := []interface{}{"markdown", "html", "rawHtml"}
	if err := ValidateFormatsForEndpoint("search", formats); err != nil {
		t.Fatalf("expected allowed formats to pass, got error: %v", err)
	}
}

func TestValidateFormatsForEndpoint_Search_RejectsUnsupportedString(t *testing.T) {
	formats := []interface{}{"markdown", "summary"}
	err := ValidateFormatsForEndpoint("search", formats)
	if err == nil {
		t.Fatalf("expected error for unsupported format, got nil")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error message")
	}
}

func TestValidateFormatsForEndpoint_Search_RejectsUnsupportedObject(t *testing.T) {
	formats := []interface{}{
		map[string]interface{}{"type": "json"},
	}
	err := ValidateFormatsForEndpoint("search", formats)
	if err == nil {
		t.Fatalf("expected error for unsupported object format, got nil")
	}
}

func TestValidateFormatsForEndpoint_OtherEndpointNoRestriction(t *testing.T) {
	formats := []interface{}{"markdown", "summary", map[string]interface{}{"type": "json"}}
	if err := ValidateFormatsForEndpoint("scrape", formats); err != nil {
		t.Fatalf("expected no restriction for non-search endpoint, got %v", err)
	}
}

func TestValidate_RejectsUnknownFormat(t *testing.T) {
	if err := Validate([]interface{}{"markdown", "pdf"}); err == nil {
		t.Fatalf("expected error for unknown format name")
	}
	if err := Validate([]interface{}{"markdown", "screenshot@fullPage", "changeTracking"}); err != nil {
		t.Fatalf("known formats should validate, got %v", err)
	}
}

func TestValidate_JSONExtractExclusive(t *testing.T) {
	if err := Validate([]interface{}{"json", "extract"}); err == nil {
		t.Fatalf("json and extract together should be rejected")
	}
	if err := Validate([]interface{}{"extract"}); err != nil {
		t.Fatalf("extract alone should validate, got %v", err)
	}
}

func TestNames_FoldsScreenshotVariant(t *testing.T) {
	names := Names([]interface{}{
		"markdown",
		map[string]interface{}{"type": "screenshot", "fullPage": true},
	})
	if len(names) != 2 || names[1] != "screenshot@fullpage" {
		t.Fatalf("object screenshot with fullPage should fold into its variant name, got %v", names)
	}
}
