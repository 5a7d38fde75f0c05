// Package extract holds the schema-guided LLM extraction shared by
// the extract worker, the json/extract scrape formats, and the
// structured change-tracking diff: build a single "json" field spec
// carrying the caller's JSON schema, run the LLM, and unwrap the
// result object.
package extract

import (
	"context"
	"encoding/json"
	"time"

	"raito/internal/llm"
)

// SchemaFieldSpec builds the field spec handed to the LLM for a
// schema-driven extraction. The schema, when present, is embedded in
// the field description so every provider sees it the same way.
func SchemaFieldSpec(schema map[string]interface{}) llm.FieldSpec {
	desc := "Arbitrary JSON object extracted from the page content."
	if len(schema) > 0 {
		if schemaBytes, err := json.Marshal(schema); err == nil {
			desc = desc + " Schema: " + string(schemaBytes)
		}
	}
	return llm.FieldSpec{
		Name:        "json",
		Description: desc,
		Type:        "object",
	}
}

// Run performs one schema-guided extraction over markdown content and
// returns the structured object. A non-object LLM response is wrapped
// into a single-field object so callers always receive a map.
func Run(ctx context.Context, client llm.Client, url, markdown string, schema map[string]interface{}, prompt string, timeout time.Duration) (map[string]interface{}, error) {
	res, err := client.ExtractFields(ctx, llm.ExtractRequest{
		URL:      url,
		Markdown: markdown,
		Fields:   []llm.FieldSpec{SchemaFieldSpec(schema)},
		Prompt:   prompt,
		Timeout:  timeout,
		Strict:   false,
	})
	if err != nil {
		return nil, err
	}

	if v, ok := res.Fields["json"]; ok {
		if m, ok := v.(map[string]interface{}); ok {
			return m, nil
		}
		return map[string]interface{}{"_value": v}, nil
	}
	if len(res.Fields) > 0 {
		return res.Fields, nil
	}
	return nil, nil
}
