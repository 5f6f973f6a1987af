package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgercraft/be-recurring-billing/internal/repository"
)

type recordingDispatcher struct {
	issued []string
	fail   bool
}

func (d *recordingDispatcher) DispatchIssue(_ context.Context, profile *repository.ScheduleProfile, _ time.Time) error {
	if d.fail {
		return assert.AnError
	}
	d.issued = append(d.issued, profile.ID)
	return nil
}

func seedProfile(store *fakeProfileStore, id string, nextRun time.Time, status string) {
	store.profiles[id] = &repository.ScheduleProfile{
		ID:             id,
		OrganizationID: "org-1",
		IntervalUnit:   "MONTH",
		IntervalCount:  1,
		AnchorAt:       time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		NextRunAt:      nextRun,
		Status:         status,
	}
}

func TestSchedulerService_RunSweep(t *testing.T) {
	store := newFakeProfileStore()
	dispatcher := &recordingDispatcher{}
	svc := NewSchedulerService(store, dispatcher, testLogger())

	now := time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	seedProfile(store, "due-1", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), "ACTIVE")
	seedProfile(store, "future", time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), "ACTIVE")
	seedProfile(store, "paused", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), "PAUSED")

	dispatched, err := svc.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)
	assert.Equal(t, []string{"due-1"}, dispatcher.issued)

	// The claimed profile advanced one clamped month: Jan 31 to Feb 29.
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), store.profiles["due-1"].NextRunAt)
	// Paused profiles keep their schedule untouched.
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), store.profiles["paused"].NextRunAt)
}

func TestSchedulerService_RunSweep_Idempotent(t *testing.T) {
	store := newFakeProfileStore()
	dispatcher := &recordingDispatcher{}
	svc := NewSchedulerService(store, dispatcher, testLogger())
	svc.now = func() time.Time { return time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC) }

	seedProfile(store, "due-1", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), "ACTIVE")

	_, err := svc.RunSweep(context.Background())
	require.NoError(t, err)
	dispatched, err := svc.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, dispatched, "a claimed occurrence is not dispatched twice")
	assert.Len(t, dispatcher.issued, 1)
}

// staleListStore serves listings from a snapshot while claims go against
// live state, reproducing a competing sweep winning between list and claim.
type staleListStore struct {
	*fakeProfileStore
	snapshot []*repository.ScheduleProfile
}

func (s *staleListStore) ListDue(_ context.Context, _ time.Time, _ int) ([]*repository.ScheduleProfile, error) {
	return s.snapshot, nil
}

func TestSchedulerService_RunSweep_LostClaimSkipsDispatch(t *testing.T) {
	store := newFakeProfileStore()
	seedProfile(store, "due-1", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), "ACTIVE")

	stale := *store.profiles["due-1"]
	wrapped := &staleListStore{
		fakeProfileStore: store,
		snapshot:         []*repository.ScheduleProfile{&stale},
	}
	// The competing sweep already advanced the live row.
	store.profiles["due-1"].NextRunAt = time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)

	dispatcher := &recordingDispatcher{}
	svc := NewSchedulerService(wrapped, dispatcher, testLogger())
	svc.now = func() time.Time { return time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC) }

	dispatched, err := svc.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, dispatched)
	assert.Empty(t, dispatcher.issued)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), store.profiles["due-1"].NextRunAt)
}

func TestSchedulerService_RunSweep_DispatchFailureKeepsClaim(t *testing.T) {
	store := newFakeProfileStore()
	dispatcher := &recordingDispatcher{fail: true}
	svc := NewSchedulerService(store, dispatcher, testLogger())
	svc.now = func() time.Time { return time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC) }

	seedProfile(store, "due-1", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), "ACTIVE")

	dispatched, err := svc.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, dispatched)
	// The advance already happened, so the occurrence is not re-dispatched
	// on the next sweep.
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), store.profiles["due-1"].NextRunAt)
}
