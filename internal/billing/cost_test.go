package billing

import "testing"

func TestCostForFormats_Baseline(t *testing.T) {
	if got := CostForFormats(nil); got != 1 {
		t.Errorf("no formats should cost 1 credit, got %d", got)
	}
	if got := CostForFormats([]interface{}{"markdown", "links", "screenshot"}); got != 1 {
		t.Errorf("plain formats should cost 1 credit, got %d", got)
	}
}

func TestCostForFormats_LLMMultiplier(t *testing.T) {
	for _, f := range []interface{}{"json", "extract", "summary"} {
		if got := CostForFormats([]interface{}{f}); got != 5 {
			t.Errorf("format %v should cost 5 credits, got %d", f, got)
		}
	}

	// Object-shaped descriptors carry the same cost as their string forms.
	obj := []interface{}{map[string]interface{}{"type": "json", "schema": map[string]interface{}{}}}
	if got := CostForFormats(obj); got != 5 {
		t.Errorf("object json format should cost 5 credits, got %d", got)
	}
}

func TestCostForFormats_LLMChargedOnce(t *testing.T) {
	mixed := []interface{}{"markdown", "json", "summary"}
	if got := CostForFormats(mixed); got != 5 {
		t.Errorf("combined LLM formats should charge the multiplier once, got %d", got)
	}
}
