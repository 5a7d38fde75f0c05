package http

import "testing"

func TestGetScreenshotFormatConfig(t *testing.T) {
	has, fullPage := getScreenshotFormatConfig([]interface{}{"markdown"})
	if has {
		t.Errorf("no screenshot requested, got has=true")
	}

	has, fullPage = getScreenshotFormatConfig([]interface{}{"screenshot"})
	if !has || fullPage {
		t.Errorf("plain screenshot should be viewport-sized, got has=%v fullPage=%v", has, fullPage)
	}

	has, fullPage = getScreenshotFormatConfig([]interface{}{"screenshot@fullPage"})
	if !has || !fullPage {
		t.Errorf("screenshot@fullPage should set fullPage, got has=%v fullPage=%v", has, fullPage)
	}

	has, fullPage = getScreenshotFormatConfig([]interface{}{
		map[string]interface{}{"type": "screenshot", "fullPage": true},
	})
	if !has || !fullPage {
		t.Errorf("object form with fullPage:true should set fullPage")
	}
}

func TestCrawlRequest_EntireDomain(t *testing.T) {
	boolPtr := func(v bool) *bool { return &v }

	r := CrawlRequest{}
	if r.EntireDomain() {
		t.Errorf("unset options should default to false")
	}

	r = CrawlRequest{AllowBackwardLinks: boolPtr(true)}
	if !r.EntireDomain() {
		t.Errorf("legacy allowBackwardLinks alias should apply when crawlEntireDomain is unset")
	}

	// crawlEntireDomain supersedes the legacy alias in both directions.
	r = CrawlRequest{CrawlEntireDomain: boolPtr(false), AllowBackwardLinks: boolPtr(true)}
	if r.EntireDomain() {
		t.Errorf("crawlEntireDomain=false should override allowBackwardLinks=true")
	}
	r = CrawlRequest{CrawlEntireDomain: boolPtr(true), AllowBackwardLinks: boolPtr(false)}
	if !r.EntireDomain() {
		t.Errorf("crawlEntireDomain=true should override allowBackwardLinks=false")
	}
}
