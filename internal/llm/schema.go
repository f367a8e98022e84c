package llm

// BuildExtractionResponseSchema returns the JSON-Schema the service response must satisfy.
func BuildExtractionResponseSchema() map[string]any {
	interval := map[string]any{
		"type": []any{"object", "null"},
		"properties": map[string]any{
			"start_pos": map[string]any{"type": "integer", "minimum": 0},
			"end_pos":   map[string]any{"type": "integer", "minimum": 0},
		},
		"required": []string{"start_pos", "end_pos"},
	}
	item := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"extraction_class": map[string]any{"type": "string", "minLength": 1},
			"extraction_text":  map[string]any{"type": "string", "minLength": 1},
			"attributes": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"char_interval": interval,
		},
		"required": []string{"extraction_class", "extraction_text"},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"extractions": map[string]any{"type": "array", "items": item},
		},
		"required": []string{"extractions"},
	}
}
