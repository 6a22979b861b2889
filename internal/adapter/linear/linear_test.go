package linear

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opsgateway/issuegateway/internal/model"
)

func TestNormalizePriorityAcceptsNumericScale(t *testing.T) {
	a := &Adapter{}
	assert.Equal(t, model.PriorityLow, a.NormalizePriority("1"))
	assert.Equal(t, model.PriorityCritical, a.NormalizePriority("4"))
	assert.Equal(t, model.PriorityNone, a.NormalizePriority("0"))
}

func TestNormalizePriorityAcceptsNamedAliases(t *testing.T) {
	a := &Adapter{}
	assert.Equal(t, model.PriorityCritical, a.NormalizePriority("Urgent"))
	assert.Equal(t, model.PriorityNone, a.NormalizePriority("No Priority"))
}

func TestPriorityNumberRoundTrips(t *testing.T) {
	a := &Adapter{}
	for p, n := range priorityToNumber {
		assert.Equal(t, p, priorityFromNumber[n])
		assert.Equal(t, n, priorityToNumber[a.NormalizePriority(a.DenormalizePriority(p))])
	}
}

func TestNormalizeStatusCoversWorkflowStateCategories(t *testing.T) {
	a := &Adapter{}
	assert.Equal(t, model.StatusTodo, a.NormalizeStatus("Backlog"))
	assert.Equal(t, model.StatusInProgress, a.NormalizeStatus("In Progress"))
	assert.Equal(t, model.StatusDone, a.NormalizeStatus("Completed"))
	assert.Equal(t, model.StatusCancelled, a.NormalizeStatus("Canceled"))
}
