package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskEventIsTerminal(t *testing.T) {
	t.Run("completed and failed are terminal", func(t *testing.T) {
		assert.True(t, NewCompletedEvent("t1", json.RawMessage(`{}`)).IsTerminal())
		assert.True(t, NewFailedEvent("t1", "boom").IsTerminal())
	})

	t.Run("blocked progress is not terminal", func(t *testing.T) {
		ev := NewProgressEvent("t1", TaskProgress{State: StateBlocked, Message: "awaiting input"})
		assert.False(t, ev.IsTerminal())
	})

	t.Run("running progress is not terminal", func(t *testing.T) {
		ev := NewProgressEvent("t1", TaskProgress{State: StateRunning, Percent: 40})
		assert.False(t, ev.IsTerminal())
	})
}

func TestProgressClamp(t *testing.T) {
	assert.Equal(t, float64(0), TaskProgress{Percent: -5}.Clamp().Percent)
	assert.Equal(t, float64(100), TaskProgress{Percent: 250}.Clamp().Percent)
	assert.Equal(t, float64(42), TaskProgress{Percent: 42}.Clamp().Percent)
}

func TestTaskValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		require.NoError(t, NewTask("t1", "demo", nil).Validate())
	})

	t.Run("generates task id when empty", func(t *testing.T) {
		task := NewTask("", "demo", nil)
		assert.NotEmpty(t, task.TaskID)
		assert.NoError(t, task.Validate())
	})

	t.Run("missing target agent", func(t *testing.T) {
		err := NewTask("t1", "  ", nil).Validate()
		require.Error(t, err)
		assert.Equal(t, ErrInvalidRequest, GetErrorCode(err))
	})
}

func TestTaskSessionContext(t *testing.T) {
	task := NewTask("t1", "demo", nil)
	task.Context = map[string]any{"session_id": "s1", "exchange_id": "e1"}
	assert.Equal(t, "s1", task.SessionID())
	assert.Equal(t, "e1", task.ExchangeID())

	bare := NewTask("t2", "demo", nil)
	assert.Empty(t, bare.SessionID())
}

func TestErrorSummaryOmitsCause(t *testing.T) {
	err := NewError(ErrValidation, "payload rejected").WithCause(assert.AnError)
	assert.Contains(t, err.Error(), assert.AnError.Error())
	assert.NotContains(t, err.Summary(), assert.AnError.Error())
	assert.Equal(t, "task execution failed", Summarize(assert.AnError))
}
