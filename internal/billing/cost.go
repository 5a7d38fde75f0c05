package billing

import "strings"

// CostForFormats computes the credit cost of a single scrape given its
// requested formats. Formats that require an LLM call (json, extract,
// summary) carry a 5x multiplier over the baseline per-page cost; a
// request combining both baseline and LLM formats is charged the
// higher, LLM rate once, not once per format.
func CostForFormats(formats []interface{}) int64 {
	const baseline = 1
	const llmMultiplier = 5

	if len(formats) == 0 {
		return baseline
	}

	usesLLM := false
	for _, f := range formats {
		name := formatName(f)
		switch name {
		case "json", "extract", "summary":
			usesLLM = true
		}
	}

	if usesLLM {
		return baseline * llmMultiplier
	}
	return baseline
}

func formatName(f interface{}) string {
	switch v := f.(type) {
	case string:
		return strings.ToLower(v)
	case map[string]interface{}:
		if t, ok := v["type"].(string); ok {
			return strings.ToLower(t)
		}
	}
	return ""
}

// CostForMap is the flat per-call cost of a map operation.
const CostForMap int64 = 1

// CostForSearchResult is the per-returned-document cost of a search
// operation; callers multiply by the number of documents returned.
const CostForSearchResult int64 = 1
