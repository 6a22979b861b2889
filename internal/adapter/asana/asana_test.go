package asana

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opsgateway/issuegateway/internal/model"
)

func TestStatusFromCompletedIsBinary(t *testing.T) {
	a := &Adapter{}
	assert.Equal(t, model.StatusDone, a.statusFromCompleted(true))
	assert.Equal(t, model.StatusTodo, a.statusFromCompleted(false))
}

func TestNormalizeStatusAcceptsBooleanLikeStrings(t *testing.T) {
	a := &Adapter{}
	assert.Equal(t, model.StatusDone, a.NormalizeStatus("true"))
	assert.Equal(t, model.StatusDone, a.NormalizeStatus("completed"))
	assert.Equal(t, model.StatusTodo, a.NormalizeStatus("false"))
}

func TestTypeFromTagsFallsBackToTask(t *testing.T) {
	assert.Equal(t, model.TypeBug, typeFromTags([]string{"bug"}))
	assert.Equal(t, model.TypeTask, typeFromTags([]string{"unrelated-tag"}))
}

func TestDenormalizeStatusMapsOnlyDoneToTrue(t *testing.T) {
	a := &Adapter{}
	assert.Equal(t, "true", a.DenormalizeStatus(model.StatusDone))
	assert.Equal(t, "false", a.DenormalizeStatus(model.StatusCancelled))
	assert.Equal(t, "false", a.DenormalizeStatus(model.StatusTodo))
}
