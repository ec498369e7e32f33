package suggest

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Suggestion is a parsed structured answer: response key to code identifiers.
type Suggestion map[string][]string

// ParseSuggestion turns raw service output into a Suggestion. It tries a strict
// parse, then the last top-level {...} object embedded in the text, and
// otherwise returns an empty Suggestion. It never fails.
func ParseSuggestion(raw string) Suggestion {
	if obj, ok := decodeObject(raw); ok {
		return toSuggestion(obj)
	}
	if obj, ok := lastEmbeddedObject(raw); ok {
		return toSuggestion(obj)
	}
	return Suggestion{}
}

func decodeObject(s string) (map[string]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// lastEmbeddedObject scans left to right for objects that decode cleanly and
// keeps the last one. Objects nested inside an accepted one are skipped.
func lastEmbeddedObject(s string) (map[string]json.RawMessage, bool) {
	var (
		found map[string]json.RawMessage
		ok    bool
	)
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(s[i:]))
		var obj map[string]json.RawMessage
		if err := dec.Decode(&obj); err != nil || obj == nil {
			continue
		}
		found, ok = obj, true
		i += int(dec.InputOffset()) - 1
	}
	return found, ok
}

// toSuggestion folds keys to lower case. Keys that fold together are merged:
// the exact lower-case key first, the rest in sorted order, and repeated codes
// are kept once.
func toSuggestion(obj map[string]json.RawMessage) Suggestion {
	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		li, lj := strings.ToLower(keys[i]), strings.ToLower(keys[j])
		if li != lj {
			return li < lj
		}
		if (keys[i] == li) != (keys[j] == lj) {
			return keys[i] == li
		}
		return keys[i] < keys[j]
	})

	out := make(Suggestion, len(obj))
	seen := make(map[string]bool)
	for _, key := range keys {
		var items []json.RawMessage
		if err := json.Unmarshal(obj[key], &items); err != nil {
			continue
		}
		folded := strings.ToLower(key)
		codes, ok := out[folded]
		if !ok {
			codes = make([]string, 0, len(items))
		}
		for _, item := range items {
			code, ok := scalarString(item)
			if !ok || code == "" {
				continue
			}
			dedup := folded + "\x00" + strings.ToLower(code)
			if seen[dedup] {
				continue
			}
			seen[dedup] = true
			codes = append(codes, code)
		}
		out[folded] = codes
	}
	return out
}

func scalarString(raw json.RawMessage) (string, bool) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}
