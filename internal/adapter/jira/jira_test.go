package jira

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opsgateway/issuegateway/internal/model"
)

func TestNormalizeStatusCoversDocumentedAliases(t *testing.T) {
	a := &Adapter{}
	cases := map[string]model.WorkItemStatus{
		"To Do":       model.StatusTodo,
		"open":        model.StatusTodo,
		"Backlog":     model.StatusTodo,
		"In Progress": model.StatusInProgress,
		"Blocked":     model.StatusBlocked,
		"In Review":   model.StatusInReview,
		"Done":        model.StatusDone,
		"Resolved":    model.StatusDone,
		"Cancelled":   model.StatusCancelled,
		"nonsense":    model.StatusTodo,
	}
	for raw, want := range cases {
		assert.Equal(t, want, a.NormalizeStatus(raw), "raw=%q", raw)
	}
}

func TestNormalizePriorityCoversDocumentedAliases(t *testing.T) {
	a := &Adapter{}
	assert.Equal(t, model.PriorityCritical, a.NormalizePriority("Highest"))
	assert.Equal(t, model.PriorityCritical, a.NormalizePriority("Critical"))
	assert.Equal(t, model.PriorityLow, a.NormalizePriority("Lowest"))
	assert.Equal(t, model.PriorityNone, a.NormalizePriority("unmapped"))
}

func TestStatusRoundTripsThroughDenormalize(t *testing.T) {
	a := &Adapter{}
	for _, s := range []model.WorkItemStatus{
		model.StatusTodo, model.StatusInProgress, model.StatusBlocked,
		model.StatusInReview, model.StatusDone, model.StatusCancelled,
	} {
		raw := a.DenormalizeStatus(s)
		assert.Equal(t, s, a.NormalizeStatus(raw), "status=%v raw=%q", s, raw)
	}
}

func TestADFToPlainTextExtractsParagraphs(t *testing.T) {
	doc := map[string]any{
		"type":    "doc",
		"version": 1.0,
		"content": []any{
			map[string]any{
				"type": "paragraph",
				"content": []any{
					map[string]any{"type": "text", "text": "first line"},
				},
			},
			map[string]any{
				"type": "paragraph",
				"content": []any{
					map[string]any{"type": "text", "text": "second line"},
				},
			},
		},
	}
	out := adfToPlainText(doc)
	assert.Contains(t, out, "first line")
	assert.Contains(t, out, "second line")
}

func TestADFToPlainTextAcceptsPlainStringLegacyField(t *testing.T) {
	assert.Equal(t, "just text", adfToPlainText("just text"))
}

func TestNormalizeJiraTimeInsertsOffsetColon(t *testing.T) {
	assert.Equal(t, "2024-01-02T15:04:05.000+00:00", normalizeJiraTime("2024-01-02T15:04:05.000+0000"))
}
