package charge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudge/internal/constants"
	pkgerrors "nudge/pkg/errors"
)

func TestChargeIsDue(t *testing.T) {
	now := time.Date(2025, 12, 28, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		charge Charge
		want   bool
	}{
		{
			name:   "pending and past dispatch time",
			charge: Charge{Status: StatusPending, DispatchAt: now.Add(-time.Minute)},
			want:   true,
		},
		{
			name:   "dispatch time exactly now",
			charge: Charge{Status: StatusPending, DispatchAt: now},
			want:   true,
		},
		{
			name:   "dispatch time in the future",
			charge: Charge{Status: StatusPending, DispatchAt: now.Add(time.Minute)},
			want:   false,
		},
		{
			name:   "failed charges are not due without reprocess",
			charge: Charge{Status: StatusFailed, DispatchAt: now.Add(-time.Minute), AttemptCount: 1},
			want:   false,
		},
		{
			name:   "processed is terminal",
			charge: Charge{Status: StatusProcessed, DispatchAt: now.Add(-time.Minute)},
			want:   false,
		},
		{
			name:   "cancelled is terminal",
			charge: Charge{Status: StatusCancelled, DispatchAt: now.Add(-time.Minute)},
			want:   false,
		},
		{
			name:   "attempt cap reached",
			charge: Charge{Status: StatusPending, DispatchAt: now.Add(-time.Minute), AttemptCount: constants.MaxAttempts},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.charge.IsDue(now))
		})
	}
}

func TestMarkProcessed(t *testing.T) {
	now := time.Now()
	c := &Charge{Status: StatusPending, LastError: "previous failure"}

	require.NoError(t, c.MarkProcessed(now))
	assert.Equal(t, StatusProcessed, c.Status)
	require.NotNil(t, c.ProcessedAt)
	assert.True(t, c.ProcessedAt.Equal(now))
	assert.Empty(t, c.LastError)

	err := c.MarkProcessed(now)
	assert.ErrorIs(t, err, pkgerrors.ErrTerminalState)
}

func TestMarkFailedIncrementsAttempts(t *testing.T) {
	c := &Charge{Status: StatusPending}

	require.NoError(t, c.MarkFailed("provider timeout"))
	assert.Equal(t, StatusFailed, c.Status)
	assert.Equal(t, 1, c.AttemptCount)
	assert.Equal(t, "provider timeout", c.LastError)

	err := c.MarkFailed("again")
	assert.ErrorIs(t, err, pkgerrors.ErrTerminalState)
	assert.Equal(t, 1, c.AttemptCount, "failed charge must not be failed twice without rearm")
}

func TestCancelTransitions(t *testing.T) {
	pending := &Charge{Status: StatusPending}
	require.NoError(t, pending.Cancel())
	assert.Equal(t, StatusCancelled, pending.Status)

	failed := &Charge{Status: StatusFailed, AttemptCount: 2}
	require.NoError(t, failed.Cancel())

	processed := &Charge{Status: StatusProcessed}
	assert.ErrorIs(t, processed.Cancel(), pkgerrors.ErrTerminalState)

	cancelled := &Charge{Status: StatusCancelled}
	assert.ErrorIs(t, cancelled.Cancel(), pkgerrors.ErrTerminalState)
}

func TestRearm(t *testing.T) {
	c := &Charge{Status: StatusFailed, AttemptCount: 2}
	require.NoError(t, c.Rearm())
	assert.Equal(t, StatusPending, c.Status)

	capped := &Charge{Status: StatusFailed, AttemptCount: constants.MaxAttempts}
	assert.ErrorIs(t, capped.Rearm(), pkgerrors.ErrTerminalState)

	pending := &Charge{Status: StatusPending}
	assert.ErrorIs(t, pending.Rearm(), pkgerrors.ErrTerminalState)
}

func TestAttemptCountNeverExceedsCap(t *testing.T) {
	c := &Charge{Status: StatusPending}

	for i := 0; i < constants.MaxAttempts; i++ {
		require.NoError(t, c.MarkFailed("boom"))
		if i < constants.MaxAttempts-1 {
			require.NoError(t, c.Rearm())
		}
	}

	assert.Equal(t, constants.MaxAttempts, c.AttemptCount)
	assert.ErrorIs(t, c.Rearm(), pkgerrors.ErrTerminalState)
	assert.True(t, c.IsTerminal())
	assert.False(t, c.IsDue(time.Now()))
}
