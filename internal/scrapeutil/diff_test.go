package scrapeutil

import (
	"strings"
	"testing"
)

func TestUnifiedDiff_IdenticalInputs(t *testing.T) {
	if d := UnifiedDiff("a\nb\nc", "a\nb\nc"); d != "" {
		t.Errorf("identical inputs should produce an empty diff, got %q", d)
	}
}

func TestUnifiedDiff_ChangedLine(t *testing.T) {
	before := "# Title\n\nPrice: $10\n\nFooter"
	after := "# Title\n\nPrice: $12\n\nFooter"

	d := UnifiedDiff(before, after)
	if d == "" {
		t.Fatalf("changed inputs should produce a diff")
	}
	if !strings.Contains(d, "-Price: $10") {
		t.Errorf("diff missing removed line:\n%s", d)
	}
	if !strings.Contains(d, "+Price: $12") {
		t.Errorf("diff missing added line:\n%s", d)
	}
	if !strings.HasPrefix(d, "--- previous\n+++ current\n") {
		t.Errorf("diff missing file header:\n%s", d)
	}
	if !strings.Contains(d, "@@ ") {
		t.Errorf("diff missing hunk header:\n%s", d)
	}
}

func TestUnifiedDiff_AdditionAndRemoval(t *testing.T) {
	d := UnifiedDiff("one\ntwo", "one\ntwo\nthree")
	if !strings.Contains(d, "+three") {
		t.Errorf("appended line should show as an addition:\n%s", d)
	}

	d = UnifiedDiff("one\ntwo\nthree", "one\nthree")
	if !strings.Contains(d, "-two") {
		t.Errorf("dropped line should show as a removal:\n%s", d)
	}
}

func TestUnifiedDiff_EmptySides(t *testing.T) {
	d := UnifiedDiff("", "hello")
	if !strings.Contains(d, "+hello") {
		t.Errorf("diff from empty should add every line:\n%s", d)
	}

	d = UnifiedDiff("hello", "")
	if !strings.Contains(d, "-hello") {
		t.Errorf("diff to empty should remove every line:\n%s", d)
	}
}
