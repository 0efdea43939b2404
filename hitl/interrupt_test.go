package hitl

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/taskbridge/types"
)

// --- test doubles (function callback pattern) ---

type testCheckpointStore struct {
	saveFn   func(ctx context.Context, checkpoint *types.Checkpoint) error
	loadFn   func(ctx context.Context, sessionID, exchangeID string) (*types.Checkpoint, error)
	deleteFn func(ctx context.Context, sessionID, exchangeID string) error
}

func (s *testCheckpointStore) Save(ctx context.Context, checkpoint *types.Checkpoint) error {
	if s.saveFn != nil {
		return s.saveFn(ctx, checkpoint)
	}
	return nil
}

func (s *testCheckpointStore) Load(ctx context.Context, sessionID, exchangeID string) (*types.Checkpoint, error) {
	if s.loadFn != nil {
		return s.loadFn(ctx, sessionID, exchangeID)
	}
	return nil, ErrCheckpointNotFound
}

func (s *testCheckpointStore) Delete(ctx context.Context, sessionID, exchangeID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, sessionID, exchangeID)
	}
	return nil
}

type testNotifier struct {
	emitFn func(ctx context.Context, notification *Notification) error
}

func (n *testNotifier) Emit(ctx context.Context, notification *Notification) error {
	if n.emitFn != nil {
		return n.emitFn(ctx, notification)
	}
	return nil
}

func validInterrupt() *Interrupt {
	return &Interrupt{
		SessionID:  "s1",
		ExchangeID: "e1",
		Payload:    map[string]any{"question": "proceed?"},
		Checkpoint: &types.Checkpoint{
			SessionID:  "s1",
			ExchangeID: "e1",
			TaskID:     "t1",
			State:      json.RawMessage(`{"step":2}`),
			CreatedAt:  time.Now(),
		},
	}
}

func TestLiveHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("persists then notifies", func(t *testing.T) {
		var saved *types.Checkpoint
		var notified *Notification
		handler := NewLiveHandler(
			&testCheckpointStore{saveFn: func(_ context.Context, cp *types.Checkpoint) error {
				saved = cp
				return nil
			}},
			&testNotifier{emitFn: func(_ context.Context, n *Notification) error {
				notified = n
				return nil
			}},
			nil,
		)

		require.NoError(t, handler.HandleInterrupt(ctx, validInterrupt()))
		require.NotNil(t, saved)
		require.NotNil(t, notified)
		assert.Equal(t, "s1", notified.SessionID)
		assert.Equal(t, "proceed?", notified.Payload["question"])
	})

	t.Run("missing checkpoint fails loudly", func(t *testing.T) {
		handler := NewLiveHandler(&testCheckpointStore{}, &testNotifier{}, nil)

		interrupt := validInterrupt()
		interrupt.Checkpoint = nil
		err := handler.HandleInterrupt(ctx, interrupt)
		assert.ErrorIs(t, err, ErrCheckpointRequired)

		interrupt = validInterrupt()
		interrupt.Checkpoint.State = nil
		err = handler.HandleInterrupt(ctx, interrupt)
		assert.ErrorIs(t, err, ErrCheckpointRequired)
	})

	t.Run("persistence failure does not block notification", func(t *testing.T) {
		notified := false
		handler := NewLiveHandler(
			&testCheckpointStore{saveFn: func(context.Context, *types.Checkpoint) error {
				return errors.New("disk full")
			}},
			&testNotifier{emitFn: func(context.Context, *Notification) error {
				notified = true
				return nil
			}},
			nil,
		)

		require.NoError(t, handler.HandleInterrupt(ctx, validInterrupt()))
		assert.True(t, notified)
	})

	t.Run("notification failure propagates", func(t *testing.T) {
		handler := NewLiveHandler(
			&testCheckpointStore{},
			&testNotifier{emitFn: func(context.Context, *Notification) error {
				return errors.New("listener gone")
			}},
			nil,
		)
		assert.Error(t, handler.HandleInterrupt(ctx, validInterrupt()))
	})
}

func TestDurableHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("persists checkpoint", func(t *testing.T) {
		var saved *types.Checkpoint
		handler := NewDurableHandler(
			&testCheckpointStore{saveFn: func(_ context.Context, cp *types.Checkpoint) error {
				saved = cp
				return nil
			}},
			nil,
		)
		require.NoError(t, handler.HandleInterrupt(ctx, validInterrupt()))
		assert.Equal(t, "t1", saved.TaskID)
	})

	t.Run("missing checkpoint fails loudly", func(t *testing.T) {
		handler := NewDurableHandler(&testCheckpointStore{}, nil)
		interrupt := validInterrupt()
		interrupt.Checkpoint = nil
		assert.ErrorIs(t, handler.HandleInterrupt(ctx, interrupt), ErrCheckpointRequired)
	})
}

func TestResumer(t *testing.T) {
	ctx := context.Background()

	t.Run("loads checkpoint and signals", func(t *testing.T) {
		checkpoint := validInterrupt().Checkpoint
		var signaled *types.Checkpoint
		var gotResponse string
		deleted := false

		resumer := NewResumer(
			&testCheckpointStore{
				loadFn: func(_ context.Context, sessionID, exchangeID string) (*types.Checkpoint, error) {
					assert.Equal(t, "s1", sessionID)
					assert.Equal(t, "e1", exchangeID)
					return checkpoint, nil
				},
				deleteFn: func(context.Context, string, string) error {
					deleted = true
					return nil
				},
			},
			signalFunc(func(_ context.Context, cp *types.Checkpoint, response string) error {
				signaled = cp
				gotResponse = response
				return nil
			}),
			nil,
		)

		require.NoError(t, resumer.Resume(ctx, "s1", "e1", "approved"))
		assert.Equal(t, checkpoint, signaled)
		assert.Equal(t, "approved", gotResponse)
		assert.True(t, deleted)
	})

	t.Run("unknown checkpoint", func(t *testing.T) {
		resumer := NewResumer(&testCheckpointStore{}, signalFunc(nil), nil)
		err := resumer.Resume(ctx, "s1", "missing", "x")
		assert.ErrorIs(t, err, ErrCheckpointNotFound)
	})

	t.Run("signal failure propagates and keeps checkpoint", func(t *testing.T) {
		deleted := false
		resumer := NewResumer(
			&testCheckpointStore{
				loadFn: func(context.Context, string, string) (*types.Checkpoint, error) {
					return validInterrupt().Checkpoint, nil
				},
				deleteFn: func(context.Context, string, string) error {
					deleted = true
					return nil
				},
			},
			signalFunc(func(context.Context, *types.Checkpoint, string) error {
				return errors.New("workflow not found")
			}),
			nil,
		)
		assert.Error(t, resumer.Resume(ctx, "s1", "e1", "x"))
		assert.False(t, deleted)
	})
}

type signalFunc func(ctx context.Context, checkpoint *types.Checkpoint, userResponse string) error

func (f signalFunc) SignalResume(ctx context.Context, checkpoint *types.Checkpoint, userResponse string) error {
	if f == nil {
		return nil
	}
	return f(ctx, checkpoint, userResponse)
}
