package clickup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opsgateway/issuegateway/internal/model"
)

func TestNormalizeStatusMatchesByKeyword(t *testing.T) {
	a := &Adapter{}
	assert.Equal(t, model.StatusInProgress, a.NormalizeStatus("in progress"))
	assert.Equal(t, model.StatusInProgress, a.NormalizeStatus("doing"))
	assert.Equal(t, model.StatusDone, a.NormalizeStatus("complete"))
	assert.Equal(t, model.StatusBlocked, a.NormalizeStatus("blocked by design review"))
	assert.Equal(t, model.StatusTodo, a.NormalizeStatus("some custom status"))
}

func TestNormalizePriorityAcceptsNamedAndNumeric(t *testing.T) {
	a := &Adapter{}
	assert.Equal(t, model.PriorityCritical, a.NormalizePriority("urgent"))
	assert.Equal(t, model.PriorityCritical, a.NormalizePriority("1"))
	assert.Equal(t, model.PriorityLow, a.NormalizePriority("low"))
}

func TestFetchTransitionsReturnsEmptyNotError(t *testing.T) {
	a := &Adapter{}
	out, err := a.FetchTransitions(nil, "task-id")
	assert.NoError(t, err)
	assert.Nil(t, out)
}
