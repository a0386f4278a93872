package snapshot

import (
	"encoding/json"
	"strings"
)

// ParseBodyJSON decodes a Body cell into a JSON object. It handles the
// three shapes capture tooling produces:
//   - a plain JSON object string
//   - a TSV-quoted string with doubled inner quotes
//   - a double-encoded object (JSON string containing a JSON object)
//
// Returns nil for anything that does not decode to an object.
func ParseBodyJSON(raw string) map[string]interface{} {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}

	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	s = strings.ReplaceAll(s, `""`, `"`)

	var obj interface{}
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil
	}

	if inner, ok := obj.(string); ok {
		if err := json.Unmarshal([]byte(inner), &obj); err != nil {
			return nil
		}
	}

	if m, ok := obj.(map[string]interface{}); ok {
		return m
	}
	return nil
}

// ParseTags decodes a tags/attributes cell into a flat map. Metric TSVs
// store tags either as JSON objects or as python-repr dicts with single
// quotes; both are accepted. Unparseable input yields an empty map.
func ParseTags(raw string) map[string]string {
	s := strings.TrimSpace(raw)
	if s == "" || !strings.HasPrefix(s, "{") {
		return map[string]string{}
	}

	if strings.Contains(s, `"`) {
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(s), &m); err == nil {
			return stringifyMap(m)
		}
	}

	return parseLiteralDict(s)
}

func stringifyMap(m map[string]interface{}) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			b, _ := json.Marshal(val)
			out[k] = string(b)
		case bool:
			if val {
				out[k] = "true"
			} else {
				out[k] = "false"
			}
		case nil:
			out[k] = ""
		default:
			b, _ := json.Marshal(val)
			out[k] = string(b)
		}
	}
	return out
}

// parseLiteralDict handles the python-repr dict shape {'k': 'v', 'n': 1}.
// It only supports flat string/number/bool values, which is all the
// capture tooling emits for tags.
func parseLiteralDict(s string) map[string]string {
	out := map[string]string{}
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return out
	}
	body := s[1 : len(s)-1]

	for _, pair := range splitTopLevel(body, ',') {
		kv := splitTopLevel(pair, ':')
		if len(kv) != 2 {
			continue
		}
		key := unquoteLiteral(strings.TrimSpace(kv[0]))
		val := unquoteLiteral(strings.TrimSpace(kv[1]))
		if key != "" {
			out[key] = val
		}
	}
	return out
}

// splitTopLevel splits on sep outside of quotes.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote && (i == 0 || s[i-1] != '\\') {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == sep:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func unquoteLiteral(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	switch s {
	case "True":
		return "true"
	case "False":
		return "false"
	case "None":
		return ""
	}
	return s
}
