package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/loan-extractor/constants"
)

// NormalizeExtractions repairs a service response that failed strict validation.
// - Renames known synonyms (text -> extraction_text, class -> extraction_class)
// - Drops entities without text
// - Coerces attribute values to strings and drops null/empty ones
// - Nulls char intervals that are not a valid non-negative [start, end) pair
// It returns the cleaned JSON and a list of what was changed.
func NormalizeExtractions(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	items, ok := m["extractions"].([]any)
	if !ok {
		return nil, nil, fmt.Errorf("sanitize: missing extractions list")
	}
	dropped := make([]string, 0, 8)
	kept := make([]any, 0, len(items))
	for i, it := range items {
		e, ok := it.(map[string]any)
		if !ok {
			dropped = append(dropped, fmt.Sprintf("extractions[%d](type)", i))
			continue
		}
		rename(e, "text", "extraction_text", &dropped)
		rename(e, "class", "extraction_class", &dropped)

		text, _ := e["extraction_text"].(string)
		if strings.TrimSpace(text) == "" {
			dropped = append(dropped, fmt.Sprintf("extractions[%d](empty)", i))
			continue
		}
		class, _ := e["extraction_class"].(string)
		if strings.TrimSpace(class) == "" {
			e["extraction_class"] = string(constants.ClassOther)
		}

		if attrs, ok := e["attributes"].(map[string]any); ok {
			for k, v := range attrs {
				s, ok := attributeString(v)
				if !ok {
					delete(attrs, k)
					dropped = append(dropped, fmt.Sprintf("extractions[%d].attributes.%s", i, k))
					continue
				}
				attrs[k] = s
			}
		} else if _, present := e["attributes"]; present {
			delete(e, "attributes")
			dropped = append(dropped, fmt.Sprintf("extractions[%d].attributes(type)", i))
		}

		if iv, present := e["char_interval"]; present && iv != nil {
			if !validInterval(iv) {
				e["char_interval"] = nil
				dropped = append(dropped, fmt.Sprintf("extractions[%d].char_interval(invalid)", i))
			}
		}
		kept = append(kept, e)
	}
	m["extractions"] = kept

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("extract.service.normalize_sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}

func rename(m map[string]any, from, to string, changes *[]string) {
	v, ok := m[from]
	if !ok {
		return
	}
	// don't overwrite existing value if already present
	if _, exists := m[to]; !exists {
		m[to] = v
	}
	delete(m, from)
	*changes = append(*changes, from+"->"+to)
}

func attributeString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	case []any:
		parts := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := attributeString(x); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", "), len(parts) > 0
	default:
		return "", false
	}
}

func validInterval(v any) bool {
	iv, ok := v.(map[string]any)
	if !ok {
		return false
	}
	start, ok1 := nonNegativeInt(iv["start_pos"])
	end, ok2 := nonNegativeInt(iv["end_pos"])
	return ok1 && ok2 && start <= end
}

func nonNegativeInt(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || f < 0 || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// canonicalClass maps a service class name onto the known set, keeping unknown names lowercased.
func canonicalClass(class string) string {
	if c, ok := constants.CanonicalClass(class); ok {
		return string(c)
	}
	s := strings.ToLower(strings.TrimSpace(class))
	if s == "" {
		return string(constants.ClassOther)
	}
	return s
}

// cleanAttributes trims values and drops empty ones. Keys are lowercased.
func cleanAttributes(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
