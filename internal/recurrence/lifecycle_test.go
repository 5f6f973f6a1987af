package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionProfile(t *testing.T) {
	tests := []struct {
		name    string
		from    ProfileStatus
		to      ProfileStatus
		wantErr bool
	}{
		{name: "active pauses", from: ProfileActive, to: ProfilePaused},
		{name: "active cancels", from: ProfileActive, to: ProfileCancelled},
		{name: "paused resumes", from: ProfilePaused, to: ProfileActive},
		{name: "paused cancels", from: ProfilePaused, to: ProfileCancelled},
		{name: "active cannot re-activate", from: ProfileActive, to: ProfileActive, wantErr: true},
		{name: "paused cannot re-pause", from: ProfilePaused, to: ProfilePaused, wantErr: true},
		{name: "cancelled cannot resume", from: ProfileCancelled, to: ProfileActive, wantErr: true},
		{name: "cancelled cannot pause", from: ProfileCancelled, to: ProfilePaused, wantErr: true},
		{name: "cancelled cannot re-cancel", from: ProfileCancelled, to: ProfileCancelled, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TransitionProfile(tt.from, tt.to)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, tt.to, got)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.from, got, "state must be unchanged on refusal")
			var te *TransitionError
			require.ErrorAs(t, err, &te)
			// The already-terminal split belongs to instances only; every
			// refused profile transition is a plain invalid transition.
			assert.False(t, IsAlreadyTerminal(err))
		})
	}
}

func TestInstanceStatus_Terminal(t *testing.T) {
	assert.False(t, InstanceUpcoming.Terminal())
	assert.False(t, InstanceInProgress.Terminal())
	assert.True(t, InstanceDone.Terminal())
	assert.True(t, InstanceSkipped.Terminal())
}

func TestMarkDone(t *testing.T) {
	now := time.Date(2024, 4, 26, 10, 0, 0, 0, time.UTC)
	inst := Instance{ID: "i1", TemplateID: "t1", Status: InstanceUpcoming}

	done, err := MarkDone(inst, "user-7", "filed online", now)
	require.NoError(t, err)
	assert.Equal(t, InstanceDone, done.Status)
	require.NotNil(t, done.DoneAt)
	assert.Equal(t, now, *done.DoneAt)
	assert.Equal(t, "user-7", done.DoneByID)
	assert.Equal(t, "filed online", done.Note)

	// Input is untouched: transitions return copies.
	assert.Equal(t, InstanceUpcoming, inst.Status)
	assert.Nil(t, inst.DoneAt)
}

func TestMarkSkip_FromInProgress(t *testing.T) {
	now := time.Date(2024, 4, 26, 10, 0, 0, 0, time.UTC)
	inst := Instance{Status: InstanceInProgress}

	skipped, err := MarkSkip(inst, "user-7", "", now)
	require.NoError(t, err)
	assert.Equal(t, InstanceSkipped, skipped.Status)
}

func TestMarkDone_AlreadyTerminal(t *testing.T) {
	firstDone := time.Date(2024, 4, 20, 9, 0, 0, 0, time.UTC)
	inst := Instance{Status: InstanceDone, DoneAt: &firstDone, DoneByID: "user-1", Note: "original"}

	for _, op := range []func(Instance, string, string, time.Time) (Instance, error){MarkDone, MarkSkip} {
		got, err := op(inst, "user-2", "overwrite attempt", time.Now())
		require.Error(t, err)
		assert.True(t, IsAlreadyTerminal(err))
		// Audit fields survive the refused re-mark.
		assert.Equal(t, firstDone, *got.DoneAt)
		assert.Equal(t, "user-1", got.DoneByID)
		assert.Equal(t, "original", got.Note)
	}

	inst.Status = InstanceSkipped
	_, err := MarkDone(inst, "user-2", "", time.Now())
	assert.True(t, IsAlreadyTerminal(err))
}

func TestStart(t *testing.T) {
	inst := Instance{Status: InstanceUpcoming}
	started, err := Start(inst)
	require.NoError(t, err)
	assert.Equal(t, InstanceInProgress, started.Status)

	_, err = Start(started)
	require.Error(t, err)
	assert.False(t, IsAlreadyTerminal(err))

	_, err = Start(Instance{Status: InstanceDone})
	require.Error(t, err)
	assert.True(t, IsAlreadyTerminal(err))
}

func TestEffectiveStatus(t *testing.T) {
	due := time.Date(2024, 4, 25, 18, 0, 0, 0, time.UTC)
	before := due.Add(-time.Hour)
	after := due.Add(time.Hour)

	tests := []struct {
		name     string
		status   InstanceStatus
		now      time.Time
		expected InstanceStatus
	}{
		{name: "upcoming before due", status: InstanceUpcoming, now: before, expected: InstanceUpcoming},
		{name: "upcoming past due is overdue", status: InstanceUpcoming, now: after, expected: InstanceOverdue},
		{name: "in progress past due is overdue", status: InstanceInProgress, now: after, expected: InstanceOverdue},
		{name: "done never turns overdue", status: InstanceDone, now: after, expected: InstanceDone},
		{name: "skipped never turns overdue", status: InstanceSkipped, now: after, expected: InstanceSkipped},
		{name: "exactly at due is not yet overdue", status: InstanceUpcoming, now: due, expected: InstanceUpcoming},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := Instance{Status: tt.status, DueAt: due}
			assert.Equal(t, tt.expected, EffectiveStatus(inst, tt.now))
		})
	}
}

func TestEffectiveStatus_DerivedNotStored(t *testing.T) {
	// The same instance queried at two simulated times reports different
	// statuses while the stored field stays put.
	due := time.Date(2024, 4, 25, 18, 0, 0, 0, time.UTC)
	inst := Instance{Status: InstanceUpcoming, DueAt: due}

	assert.Equal(t, InstanceOverdue, EffectiveStatus(inst, due.Add(time.Minute)))
	assert.Equal(t, InstanceUpcoming, EffectiveStatus(inst, due.Add(-time.Minute)))
	assert.Equal(t, InstanceUpcoming, inst.Status)
}
