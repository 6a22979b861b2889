package githubadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opsgateway/issuegateway/internal/model"
)

func TestPriorityFromLabelsChecksNamedAndShorthandAliases(t *testing.T) {
	assert.Equal(t, model.PriorityCritical, priorityFromLabels([]string{"priority: critical"}))
	assert.Equal(t, model.PriorityHigh, priorityFromLabels([]string{"p1"}))
	assert.Equal(t, model.PriorityNone, priorityFromLabels([]string{"good first issue"}))
}

func TestTypeFromLabelsPrefersBugOverEnhancement(t *testing.T) {
	assert.Equal(t, model.TypeBug, typeFromLabels([]string{"enhancement", "bug"}))
}

func TestParseIssueNumberAcceptsPlainAndKeyedIDs(t *testing.T) {
	n, err := parseIssueNumber("42")
	assert.NoError(t, err)
	assert.Equal(t, 42, n)

	n, err = parseIssueNumber("acme/widgets#42")
	assert.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = parseIssueNumber("not-a-number")
	assert.Error(t, err)
}

func TestDenormalizeStatusCollapsesToOpenClosed(t *testing.T) {
	a := &Adapter{}
	assert.Equal(t, "closed", a.DenormalizeStatus(model.StatusDone))
	assert.Equal(t, "open", a.DenormalizeStatus(model.StatusCancelled))
	assert.Equal(t, "open", a.DenormalizeStatus(model.StatusInProgress))
}

func TestLabelsForRoundTripsPriorityAndType(t *testing.T) {
	labels := labelsFor(model.PriorityHigh, model.TypeBug)
	assert.Contains(t, labels, "priority: high")
	assert.Contains(t, labels, "bug")
}
