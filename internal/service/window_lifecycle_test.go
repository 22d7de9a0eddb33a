package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-window-api/internal/models"
	"github.com/noah-isme/exam-window-api/pkg/clock"
	appErrors "github.com/noah-isme/exam-window-api/pkg/errors"
)

type lifecycleHarness struct {
	store       *memoryStore
	clock       *clock.Fake
	observer    *recordingObserver
	transitions *WindowTransitionService
	scheduler   *WindowScheduler
	sweep       *WindowSweepService
	capacity    *CapacityService
	windows     *WindowService
	enrollments *EnrollmentService
}

func newLifecycleHarness(t *testing.T, windows ...*models.ExamWindow) *lifecycleHarness {
	t.Helper()
	h := &lifecycleHarness{
		store:    newMemoryStore(windows...),
		clock:    clock.NewFake(epoch),
		observer: &recordingObserver{},
	}
	metrics := NewMetricsService()
	h.transitions = NewWindowTransitionService(h.store, h.store, nil, h.clock, metrics, nil)
	h.scheduler = NewWindowScheduler(h.store, h.transitions, h.observer, h.clock, SchedulerConfig{Horizon: time.Hour}, metrics, nil)
	h.sweep = NewWindowSweepService(h.store, h.store, h.transitions, h.observer, h.clock, time.Second, metrics, nil)
	h.capacity = NewCapacityService(h.transitions, h.observer, time.Second, nil)
	h.windows = NewWindowService(h.store, h.store, h.scheduler, h.sweep, h.transitions, h.observer, h.clock, nil, nil)
	h.enrollments = NewEnrollmentService(h.store, h.store, h.capacity, h.clock, nil, nil)
	t.Cleanup(h.scheduler.stopAll)
	return h
}

func (h *lifecycleHarness) enroll(t *testing.T, windowID, participantID string) (*models.Enrollment, error) {
	t.Helper()
	return h.enrollments.Enroll(context.Background(), models.CreateEnrollmentRequest{WindowID: windowID, ParticipantID: participantID})
}

func TestScenarioCapacityThenStart(t *testing.T) {
	start := epoch.Add(1000 * time.Millisecond)
	h := newLifecycleHarness(t, timedWindow("w-1", "owner-1", start, 30, 2))
	ctx := context.Background()

	require.NoError(t, h.scheduler.Reschedule(ctx, "w-1"))
	require.True(t, h.clock.BlockUntil(2, time.Second))

	first, err := h.enroll(t, "w-1", "p-1")
	require.NoError(t, err)
	assert.Equal(t, models.WindowStateScheduled, h.store.state("w-1"))

	_, err = h.enroll(t, "w-1", "p-2")
	require.NoError(t, err)
	assert.Equal(t, models.WindowStateEnrollmentClosed, h.store.state("w-1"))

	_, err = h.enroll(t, "w-1", "p-3")
	assert.True(t, errors.Is(err, appErrors.ErrCapacityFull))

	require.NoError(t, h.enrollments.Cancel(ctx, "p-1", first.ID))
	assert.Equal(t, models.WindowStateScheduled, h.store.state("w-1"))

	h.clock.Advance(1000 * time.Millisecond)
	require.Eventually(t, func() bool {
		return h.store.state("w-1") == models.WindowStateInProgress
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool { return len(h.observer.States("w-1")) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []models.WindowState{
		models.WindowStateEnrollmentClosed,
		models.WindowStateScheduled,
		models.WindowStateInProgress,
	}, h.observer.States("w-1"))

	_, err = h.enroll(t, "w-1", "p-3")
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyStarted))
}

func TestScenarioOpenEndedManualLifecycle(t *testing.T) {
	h := newLifecycleHarness(t, openWindow("w-1", "owner-1", 1))
	ctx := context.Background()

	first, err := h.enroll(t, "w-1", "p-1")
	require.NoError(t, err)
	assert.Equal(t, models.WindowStateEnrollmentClosed, h.store.state("w-1"))

	_, err = h.enroll(t, "w-1", "p-2")
	assert.True(t, errors.Is(err, appErrors.ErrCapacityFull))

	require.NoError(t, h.enrollments.Cancel(ctx, "p-1", first.ID))
	assert.Equal(t, models.WindowStateScheduled, h.store.state("w-1"))

	_, err = h.windows.SetState(ctx, "owner-2", "w-1", models.ManualStateRequest{State: models.WindowStateInProgress})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	window, err := h.windows.SetState(ctx, "owner-1", "w-1", models.ManualStateRequest{State: models.WindowStateInProgress})
	require.NoError(t, err)
	assert.Equal(t, models.WindowStateInProgress, window.State)

	_, err = h.enroll(t, "w-1", "p-2")
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyStarted))

	h.clock.Advance(1000 * time.Hour)
	changes, err := h.sweep.TriggerSweep(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Equal(t, models.WindowStateInProgress, h.store.state("w-1"))

	window, err = h.windows.SetState(ctx, "owner-1", "w-1", models.ManualStateRequest{State: models.WindowStateFinished})
	require.NoError(t, err)
	assert.Equal(t, models.WindowStateFinished, window.State)

	assert.Equal(t, []models.WindowState{
		models.WindowStateEnrollmentClosed,
		models.WindowStateScheduled,
		models.WindowStateInProgress,
		models.WindowStateFinished,
	}, h.observer.States("w-1"))
}

func TestManualStateRejectedForTimedWindow(t *testing.T) {
	h := newLifecycleHarness(t, timedWindow("w-1", "owner-1", epoch.Add(time.Hour), 30, 5))

	_, err := h.windows.SetState(context.Background(), "owner-1", "w-1", models.ManualStateRequest{State: models.WindowStateInProgress})
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
	assert.Equal(t, models.WindowStateScheduled, h.store.state("w-1"))
}

func TestScenarioSweepConverges(t *testing.T) {
	h := newLifecycleHarness(t,
		timedWindow("w-1", "owner-1", epoch.Add(-time.Minute), 30, 5),
		timedWindow("w-2", "owner-2", epoch.Add(time.Hour), 30, 1),
		timedWindow("w-3", "owner-1", epoch.Add(-2*time.Hour), 30, 5),
		openWindow("w-4", "owner-2", 5),
	)
	ctx := context.Background()

	_, err := h.store.Enroll(ctx, "w-2", "p-1", epoch, nil)
	require.NoError(t, err)

	changes, err := h.sweep.TriggerSweep(ctx, "")
	require.NoError(t, err)
	require.Len(t, changes, 3)
	assert.Equal(t, models.WindowStateInProgress, h.store.state("w-1"))
	assert.Equal(t, models.WindowStateEnrollmentClosed, h.store.state("w-2"))
	assert.Equal(t, models.WindowStateFinished, h.store.state("w-3"))
	assert.Equal(t, models.WindowStateScheduled, h.store.state("w-4"))

	batches := h.observer.Batches()
	require.Len(t, batches, 2)
	assert.Equal(t, "owner-1", batches[0].ownerID)
	assert.Len(t, batches[0].changes, 2)
	assert.Equal(t, "owner-2", batches[1].ownerID)

	again, err := h.sweep.TriggerSweep(ctx, "")
	require.NoError(t, err)
	assert.NotNil(t, again)
	assert.Empty(t, again)
	assert.Len(t, h.observer.Batches(), 2)
}

func TestOwnerSweepOnlyTouchesOwnWindows(t *testing.T) {
	h := newLifecycleHarness(t,
		timedWindow("w-1", "owner-1", epoch.Add(-time.Minute), 30, 5),
		timedWindow("w-2", "owner-2", epoch.Add(-time.Minute), 30, 5),
	)

	changes, err := h.windows.UpdateStatuses(context.Background(), "owner-1", nil)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "w-1", changes[0].WindowID)
	assert.Equal(t, models.WindowStateScheduled, h.store.state("w-2"))
}

func TestOwnerSweepOfSubsetLeavesOtherWindows(t *testing.T) {
	h := newLifecycleHarness(t,
		timedWindow("w-1", "owner-1", epoch.Add(-time.Minute), 30, 5),
		timedWindow("w-2", "owner-1", epoch.Add(-time.Minute), 30, 5),
		timedWindow("w-3", "owner-2", epoch.Add(-time.Minute), 30, 5),
	)

	changes, err := h.windows.UpdateStatuses(context.Background(), "owner-1", []string{"w-2", "w-3"})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "w-2", changes[0].WindowID)
	assert.Equal(t, models.WindowStateScheduled, h.store.state("w-1"))
	assert.Equal(t, models.WindowStateScheduled, h.store.state("w-3"))

	none, err := h.sweep.TriggerSweepWindows(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.Equal(t, models.WindowStateScheduled, h.store.state("w-1"))
}

func TestCapacityFailureLeavesEnrollmentAndSweepRepairs(t *testing.T) {
	h := newLifecycleHarness(t, timedWindow("w-1", "owner-1", epoch.Add(time.Hour), 30, 1))
	h.store.failStateWrites = 1

	enrollment, err := h.enroll(t, "w-1", "p-1")
	require.NoError(t, err)
	require.NotNil(t, enrollment)
	assert.Equal(t, models.WindowStateScheduled, h.store.state("w-1"))
	assert.Empty(t, h.observer.Batches())

	changes, err := h.sweep.TriggerSweep(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, models.WindowStateEnrollmentClosed, changes[0].NewState)
	assert.Equal(t, models.ChangeSourceSweep, changes[0].Source)
}

func TestSweepSkipsFailedWindowAndContinues(t *testing.T) {
	h := newLifecycleHarness(t,
		timedWindow("w-1", "owner-1", epoch.Add(-time.Minute), 30, 5),
		timedWindow("w-2", "owner-1", epoch.Add(-time.Minute), 30, 5),
	)
	h.store.failStateWrites = 1

	changes, err := h.sweep.TriggerSweep(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "w-2", changes[0].WindowID)

	changes, err = h.sweep.TriggerSweep(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "w-1", changes[0].WindowID)
}

func TestScenarioEditReplacesScheduledStart(t *testing.T) {
	start := epoch.Add(time.Minute)
	h := newLifecycleHarness(t, timedWindow("w-1", "owner-1", start, 10, 5))
	ctx := context.Background()

	require.NoError(t, h.scheduler.Reschedule(ctx, "w-1"))
	target, ok := h.scheduler.Target("w-1", TimerStart)
	require.True(t, ok)
	assert.Equal(t, start, target)

	moved := epoch.Add(20 * time.Minute)
	_, err := h.windows.Update(ctx, "owner-1", "w-1", models.UpdateWindowRequest{StartsAt: &moved})
	require.NoError(t, err)

	target, ok = h.scheduler.Target("w-1", TimerStart)
	require.True(t, ok)
	assert.Equal(t, moved, target)
	end, ok := h.scheduler.Target("w-1", TimerEnd)
	require.True(t, ok)
	assert.Equal(t, moved.Add(10*time.Minute+time.Nanosecond), end)
	assert.Equal(t, 2, h.scheduler.Pending())
}
