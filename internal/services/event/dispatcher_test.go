package event

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type LedgerMock struct{ mock.Mock }

func (m *LedgerMock) ClaimEvent(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *LedgerMock) ReleaseEvent(ctx context.Context, eventID string) error {
	return m.Called(ctx, eventID).Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestDispatcher_Process(t *testing.T) {
	ctx := context.Background()

	t.Run("первая доставка применяется", func(t *testing.T) {
		ledger := new(LedgerMock)
		ledger.On("ClaimEvent", mock.Anything, "evt_1").Return(true, nil)

		var workCalls int
		d := NewDispatcher(ledger, newNoopLogger())
		outcome, err := d.Process(ctx, "evt_1", func(context.Context) error {
			workCalls++
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, OutcomeProcessed, outcome)
		assert.Equal(t, 1, workCalls)
		ledger.AssertNotCalled(t, "ReleaseEvent", mock.Anything, mock.Anything)
	})

	t.Run("дубликат пропускается без вызова работы", func(t *testing.T) {
		ledger := new(LedgerMock)
		ledger.On("ClaimEvent", mock.Anything, "evt_1").Return(false, nil)

		d := NewDispatcher(ledger, newNoopLogger())
		outcome, err := d.Process(ctx, "evt_1", func(context.Context) error {
			t.Fatal("work should not be called for duplicate")
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, outcome)
	})

	t.Run("провал работы снимает занятие", func(t *testing.T) {
		ledger := new(LedgerMock)
		ledger.On("ClaimEvent", mock.Anything, "evt_1").Return(true, nil)
		ledger.On("ReleaseEvent", mock.Anything, "evt_1").Return(nil)

		d := NewDispatcher(ledger, newNoopLogger())
		workErr := errors.New("storage is down")
		outcome, err := d.Process(ctx, "evt_1", func(context.Context) error {
			return workErr
		})

		require.ErrorIs(t, err, workErr)
		assert.Equal(t, OutcomeFailed, outcome)
		ledger.AssertCalled(t, "ReleaseEvent", mock.Anything, "evt_1")
	})

	t.Run("ошибка занятия не вызывает работу", func(t *testing.T) {
		ledger := new(LedgerMock)
		claimErr := errors.New("connection lost")
		ledger.On("ClaimEvent", mock.Anything, "evt_1").Return(false, claimErr)

		d := NewDispatcher(ledger, newNoopLogger())
		outcome, err := d.Process(ctx, "evt_1", func(context.Context) error {
			t.Fatal("work should not be called when claim fails")
			return nil
		})

		require.ErrorIs(t, err, claimErr)
		assert.Equal(t, OutcomeFailed, outcome)
	})

	t.Run("занятие снимается даже при отменённом контексте", func(t *testing.T) {
		ledger := new(LedgerMock)
		ledger.On("ClaimEvent", mock.Anything, "evt_1").Return(true, nil)
		ledger.On("ReleaseEvent", mock.MatchedBy(func(ctx context.Context) bool {
			return ctx.Err() == nil
		}), "evt_1").Return(nil)

		canceledCtx, cancel := context.WithCancel(ctx)

		d := NewDispatcher(ledger, newNoopLogger())
		outcome, err := d.Process(canceledCtx, "evt_1", func(ctx context.Context) error {
			cancel()
			return ctx.Err()
		})

		require.Error(t, err)
		assert.Equal(t, OutcomeFailed, outcome)
		ledger.AssertExpectations(t)
	})
}

func TestDispatcher_Idempotency(t *testing.T) {
	// Одно и то же событие N раз: ровно одно применение, N-1 пропусков.
	ledger := new(LedgerMock)
	ledger.On("ClaimEvent", mock.Anything, "evt_1").Return(true, nil).Once()
	ledger.On("ClaimEvent", mock.Anything, "evt_1").Return(false, nil)

	var workCalls int
	d := NewDispatcher(ledger, newNoopLogger())
	for range 5 {
		_, err := d.Process(context.Background(), "evt_1", func(context.Context) error {
			workCalls++
			return nil
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, workCalls)
}
