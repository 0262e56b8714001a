package document

import (
	"encoding/json"

	"golang.org/x/text/unicode/norm"
)

// CanonicalJSON renders v as deterministic, human-diffable JSON: object
// keys sorted, strings NFC-normalized, two-space indentation. Used for
// golden graph snapshots, where byte-stable output is the whole point.
func CanonicalJSON(v any) ([]byte, error) {
	return json.MarshalIndent(normalize(v), "", "  ")
}

func normalize(v any) any {
	switch val := v.(type) {
	case Value:
		return normalize(GoValue(val))
	case string:
		return norm.NFC.String(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[norm.NFC.String(k)] = normalize(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalize(elem)
		}
		return out
	default:
		return val
	}
}
