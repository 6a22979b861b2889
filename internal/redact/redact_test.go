package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueRedactsNestedSensitiveKeys(t *testing.T) {
	in := map[string]any{
		"title": "hello",
		"auth": map[string]any{
			"Authorization": "Bearer xyz",
			"password":      "hunter2",
		},
		"items": []any{
			map[string]any{"api_key": "abc123", "name": "ok"},
		},
	}

	out := Value(in).(map[string]any)
	assert.Equal(t, "hello", out["title"])
	assert.Equal(t, Placeholder, out["auth"])

	items := out["items"].([]any)
	item := items[0].(map[string]any)
	assert.Equal(t, Placeholder, item["api_key"])
	assert.Equal(t, "ok", item["name"])
}

func TestIsSensitiveKeyCaseInsensitive(t *testing.T) {
	assert.True(t, IsSensitiveKey("API_KEY"))
	assert.True(t, IsSensitiveKey("Secret"))
	assert.False(t, IsSensitiveKey("title"))
}
