package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-window-api/internal/models"
	"github.com/noah-isme/exam-window-api/pkg/clock"
)

func newTestScheduler(store *memoryStore, fake *clock.Fake, observer StatusObserver) *WindowScheduler {
	transitions := newTransitions(store, fake)
	return NewWindowScheduler(store, transitions, observer, fake, SchedulerConfig{Horizon: time.Hour}, NewMetricsService(), nil)
}

func TestScheduleReplacesAndIgnoresDuplicates(t *testing.T) {
	fake := clock.NewFake(epoch)
	sched := newTestScheduler(newMemoryStore(), fake, nil)
	defer sched.stopAll()

	require.True(t, sched.Schedule("w-1", epoch.Add(time.Second), TimerStart))
	require.True(t, sched.Schedule("w-1", epoch.Add(2*time.Second), TimerStart))
	require.True(t, sched.Schedule("w-1", epoch.Add(2*time.Second), TimerStart))

	target, ok := sched.Target("w-1", TimerStart)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(2*time.Second), target)
	assert.Equal(t, 1, sched.Pending())
}

func TestScheduleOutsideHorizonClearsRegistration(t *testing.T) {
	fake := clock.NewFake(epoch)
	sched := newTestScheduler(newMemoryStore(), fake, nil)
	defer sched.stopAll()

	require.True(t, sched.Schedule("w-1", epoch.Add(time.Minute), TimerEnd))
	assert.False(t, sched.Schedule("w-1", epoch.Add(-time.Second), TimerEnd))
	assert.Equal(t, 0, sched.Pending())

	assert.False(t, sched.Schedule("w-2", epoch.Add(2*time.Hour), TimerEnd))
	_, ok := sched.Target("w-2", TimerEnd)
	assert.False(t, ok)
}

func TestScheduledStartTransitionsWindow(t *testing.T) {
	start := epoch.Add(time.Second)
	store := newMemoryStore(timedWindow("w-1", "owner-1", start, 30, 10))
	fake := clock.NewFake(epoch)
	observer := &recordingObserver{}
	sched := newTestScheduler(store, fake, observer)
	defer sched.stopAll()

	require.True(t, sched.Schedule("w-1", start, TimerStart))
	require.True(t, fake.BlockUntil(1, time.Second))

	fake.Advance(time.Second)

	require.Eventually(t, func() bool {
		return store.state("w-1") == models.WindowStateInProgress
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(observer.Batches()) == 1 }, time.Second, time.Millisecond)

	batch := observer.Batches()[0]
	assert.Equal(t, "owner-1", batch.ownerID)
	assert.Equal(t, models.ChangeSourceScheduler, batch.changes[0].Source)
	assert.Equal(t, 0, sched.Pending())
}

func TestStaleFireRecomputesFromCurrentWindow(t *testing.T) {
	start := epoch.Add(time.Second)
	store := newMemoryStore(timedWindow("w-1", "owner-1", start, 30, 10))
	fake := clock.NewFake(epoch)
	observer := &recordingObserver{}
	sched := newTestScheduler(store, fake, observer)

	require.True(t, sched.Schedule("w-1", start, TimerStart))
	require.True(t, fake.BlockUntil(1, time.Second))

	store.setStart("w-1", epoch.Add(10*time.Minute))
	fake.Advance(time.Second)

	require.Eventually(t, func() bool { return sched.Pending() == 0 }, time.Second, time.Millisecond)
	sched.stopAll()

	assert.Equal(t, models.WindowStateScheduled, store.state("w-1"))
	assert.Empty(t, observer.Batches())
	assert.Equal(t, 0, store.stateWrites)
}

func TestPlanReplacesStaleAndDropsRemovedWindows(t *testing.T) {
	store := newMemoryStore(
		timedWindow("w-1", "owner-1", epoch.Add(time.Minute), 10, 5),
		timedWindow("w-2", "owner-1", epoch.Add(2*time.Minute), 10, 5),
		openWindow("w-3", "owner-1", 5),
	)
	fake := clock.NewFake(epoch)
	sched := newTestScheduler(store, fake, nil)
	defer sched.stopAll()

	pending, err := sched.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, pending)

	store.setStart("w-1", epoch.Add(5*time.Minute))
	_, err = store.Delete(context.Background(), "w-2")
	require.NoError(t, err)

	pending, err = sched.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, pending)

	target, ok := sched.Target("w-1", TimerStart)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(5*time.Minute), target)
	end, ok := sched.Target("w-1", TimerEnd)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(15*time.Minute+time.Nanosecond), end)
	_, ok = sched.Target("w-2", TimerStart)
	assert.False(t, ok)
}

func TestRescheduleSkipsStartOfRunningWindow(t *testing.T) {
	w := timedWindow("w-1", "owner-1", epoch.Add(-time.Minute), 10, 5)
	w.State = models.WindowStateInProgress
	store := newMemoryStore(w)
	fake := clock.NewFake(epoch)
	sched := newTestScheduler(store, fake, nil)
	defer sched.stopAll()

	require.NoError(t, sched.Reschedule(context.Background(), "w-1"))
	_, ok := sched.Target("w-1", TimerStart)
	assert.False(t, ok)
	end, ok := sched.Target("w-1", TimerEnd)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(9*time.Minute+time.Nanosecond), end)

	_, err := store.Delete(context.Background(), "w-1")
	require.NoError(t, err)
	require.NoError(t, sched.Reschedule(context.Background(), "w-1"))
	assert.Equal(t, 0, sched.Pending())
}

func TestTimerAndSweepRaceTransitionOnce(t *testing.T) {
	start := epoch.Add(time.Second)
	store := newMemoryStore(timedWindow("w-1", "owner-1", start, 30, 10))
	fake := clock.NewFake(epoch)
	observer := &recordingObserver{}
	transitions := newTransitions(store, fake)
	sched := NewWindowScheduler(store, transitions, observer, fake, SchedulerConfig{Horizon: time.Hour}, nil, nil)
	sweep := NewWindowSweepService(store, store, transitions, observer, fake, time.Second, nil, nil)

	require.True(t, sched.Schedule("w-1", start, TimerStart))
	require.True(t, fake.BlockUntil(1, time.Second))
	fake.Advance(time.Second)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := sweep.TriggerSweep(context.Background(), "")
		assert.NoError(t, err)
	}()
	wg.Wait()
	require.Eventually(t, func() bool { return sched.Pending() == 0 }, time.Second, time.Millisecond)
	sched.stopAll()

	assert.Equal(t, []models.WindowState{models.WindowStateInProgress}, observer.States("w-1"))
}

func TestRunPlansAndStopsTimers(t *testing.T) {
	store := newMemoryStore(timedWindow("w-1", "owner-1", epoch.Add(time.Minute), 10, 5))
	fake := clock.NewFake(epoch)
	sched := newTestScheduler(store, fake, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	require.Eventually(t, func() bool { return sched.Pending() == 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, 0, sched.Pending())
	assert.False(t, sched.Schedule("w-1", epoch.Add(time.Minute), TimerStart))
}

// editingStore runs onList after taking the plannable snapshot, so edits land while Plan is in flight.
type editingStore struct {
	*memoryStore
	onList func()
}

func (s *editingStore) ListPlannable(ctx context.Context, from, to time.Time) ([]models.ExamWindow, error) {
	windows, err := s.memoryStore.ListPlannable(ctx, from, to)
	if s.onList != nil {
		s.onList()
		s.onList = nil
	}
	return windows, err
}

func TestPlanKeepsTimersRescheduledDuringPass(t *testing.T) {
	store := newMemoryStore(timedWindow("w-existing", "owner-1", epoch.Add(time.Minute), 10, 5))
	fake := clock.NewFake(epoch)
	editing := &editingStore{memoryStore: store}
	sched := NewWindowScheduler(editing, newTransitions(store, fake), nil, fake, SchedulerConfig{Horizon: time.Hour}, NewMetricsService(), nil)
	defer sched.stopAll()

	created := timedWindow("", "owner-1", epoch.Add(20*time.Minute), 10, 5)
	editing.onList = func() {
		require.NoError(t, store.Create(context.Background(), created))
		require.NoError(t, sched.Reschedule(context.Background(), created.ID))
		store.setStart("w-existing", epoch.Add(30*time.Minute))
		require.NoError(t, sched.Reschedule(context.Background(), "w-existing"))
	}

	_, err := sched.Plan(context.Background())
	require.NoError(t, err)

	start, ok := sched.Target(created.ID, TimerStart)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(20*time.Minute), start)

	moved, ok := sched.Target("w-existing", TimerStart)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(30*time.Minute), moved)
	assert.Equal(t, 4, sched.Pending())

	// A later pass sees the committed state and keeps the same targets.
	_, err = sched.Plan(context.Background())
	require.NoError(t, err)
	moved, ok = sched.Target("w-existing", TimerStart)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(30*time.Minute), moved)
	assert.Equal(t, 4, sched.Pending())
}
