package search

import "testing"

func TestNormalizeHitURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://example.com/page#section", "https://example.com/page"},
		{"  http://example.com/a  ", "http://example.com/a"},
		{"ftp://example.com/file", ""},
		{"javascript:alert(1)", ""},
		{"/relative/path", ""},
		{"", ""},
	}

	for _, tc := range cases {
		if got := normalizeHitURL(tc.in); got != tc.want {
			t.Errorf("normalizeHitURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCategoriesFor(t *testing.T) {
	got := categoriesFor(nil)
	if len(got) != 1 || got[0] != "general" {
		t.Errorf("no sources should default to general, got %v", got)
	}

	got = categoriesFor([]string{"web", "News", " images "})
	want := []string{"general", "news", "images"}
	if len(got) != len(want) {
		t.Fatalf("categoriesFor returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("categoriesFor[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
