// Package redact implements the single redaction predicate shared by the
// audit log writer (C6) and the observability logging middleware (C10).
// Leaking a credential once is leaking it forever, so both call sites run
// the exact same recursive scan before anything is serialized or persisted.
package redact

import "strings"

const Placeholder = "***REDACTED***"

var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"token":         {},
	"secret":        {},
	"api_key":       {},
	"apikey":        {},
	"authorization": {},
	"auth":          {},
	"credentials":   {},
	"credit_card":   {},
	"ssn":           {},
}

// IsSensitiveKey reports whether key (case-insensitively) names a field the
// redactor must scrub.
func IsSensitiveKey(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}

// Value recursively walks a deserialized structure (the output of
// json.Unmarshal into any, or a map[string]any built by hand) and replaces
// the value of any sensitive key with Placeholder. It operates on
// deserialized structures, never on raw JSON text, per spec.
func Value(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if IsSensitiveKey(k) {
				out[k] = Placeholder
				continue
			}
			out[k] = Value(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Value(val)
		}
		return out
	default:
		return v
	}
}
