package index

import "testing"

func TestNormalizeForIndex_CanonicalForms(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"http://www.Example.com/", "https://example.com/"},
		{"https://example.com:443/pricing/", "https://example.com/pricing"},
		{"http://example.com:80/pricing", "https://example.com/pricing"},
		{"https://example.com/docs/index.html", "https://example.com/docs"},
		{"https://example.com/index.php", "https://example.com/"},
		{"https://example.com/page#section-2", "https://example.com/page"},
		{"https://example.com/p?b=2&a=1", "https://example.com/p?a=1&b=2"},
	}

	for _, tc := range cases {
		got, err := NormalizeForIndex(tc.in)
		if err != nil {
			t.Fatalf("NormalizeForIndex(%q) returned error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("NormalizeForIndex(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeForIndex_Idempotent(t *testing.T) {
	inputs := []string{
		"http://www.Example.com/Docs/index.html?b=2&a=1#frag",
		"https://sub.example.co.uk:443/path/",
		"https://example.com",
	}

	for _, in := range inputs {
		once, err := NormalizeForIndex(in)
		if err != nil {
			t.Fatalf("first pass on %q: %v", in, err)
		}
		twice, err := NormalizeForIndex(once)
		if err != nil {
			t.Fatalf("second pass on %q: %v", once, err)
		}
		if once != twice {
			t.Errorf("normalization not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func fingerprintOrFail(t *testing.T, in FingerprintInput) string {
	t.Helper()
	fp, err := Fingerprint(in)
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	return fp
}

func TestFingerprint_StableAcrossOrdering(t *testing.T) {
	a := fingerprintOrFail(t, FingerprintInput{
		URL:     "https://example.com/page",
		Headers: map[string]string{"X-B": "2", "X-A": "1"},
		Formats: []string{"links", "markdown"},
	})
	b := fingerprintOrFail(t, FingerprintInput{
		URL:     "https://www.example.com/page",
		Headers: map[string]string{"X-A": "1", "X-B": "2"},
		Formats: []string{"markdown", "links"},
	})
	if a != b {
		t.Errorf("equivalent requests produced different fingerprints")
	}
}

func TestFingerprint_SensitiveDimensions(t *testing.T) {
	base := FingerprintInput{URL: "https://example.com/page"}
	baseFP := fingerprintOrFail(t, base)

	variants := map[string]FingerprintInput{
		"headers":            {URL: base.URL, Headers: map[string]string{"X-Custom": "1"}},
		"mobile":             {URL: base.URL, Mobile: true},
		"country":            {URL: base.URL, LocationCountry: "DE"},
		"blockAds":           {URL: base.URL, BlockAds: true},
		"proxy stealth":      {URL: base.URL, Proxy: "stealth"},
		"actions":            {URL: base.URL, Actions: []string{`{"type":"wait"}`}},
		"screenshot":         {URL: base.URL, Formats: []string{"screenshot"}},
		"screenshot variant": {URL: base.URL, Formats: []string{"screenshot@fullPage"}},
	}

	seen := map[string]string{"base": baseFP}
	for name, in := range variants {
		fp := fingerprintOrFail(t, in)
		if fp == baseFP {
			t.Errorf("variant %q did not change the fingerprint", name)
		}
		for prior, priorFP := range seen {
			if fp == priorFP {
				t.Errorf("variants %q and %q collided", name, prior)
			}
		}
		seen[name] = fp
	}
}

func TestFingerprint_ProxyAutoResolvesToBasic(t *testing.T) {
	auto := fingerprintOrFail(t, FingerprintInput{URL: "https://example.com/", Proxy: "auto"})
	basic := fingerprintOrFail(t, FingerprintInput{URL: "https://example.com/", Proxy: "basic"})
	unset := fingerprintOrFail(t, FingerprintInput{URL: "https://example.com/"})

	if auto != basic {
		t.Errorf("proxy auto should share the basic entry")
	}
	if unset != basic {
		t.Errorf("unset proxy should share the basic entry")
	}
}
