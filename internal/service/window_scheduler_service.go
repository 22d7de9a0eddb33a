package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/exam-window-api/internal/models"
	"github.com/noah-isme/exam-window-api/pkg/clock"
)

// TimerKind distinguishes the two time-driven instants of a window.
type TimerKind string

const (
	TimerStart TimerKind = "START"
	TimerEnd   TimerKind = "END"
)

type timerKey struct {
	windowID string
	kind     TimerKind
}

type timerHandle struct {
	target time.Time
	gen    uint64
	cancel context.CancelFunc
}

type plannableWindowStore interface {
	GetWindow(ctx context.Context, id string) (*models.ExamWindow, error)
	ListPlannable(ctx context.Context, from, to time.Time) ([]models.ExamWindow, error)
}

// SchedulerConfig tunes the window scheduler.
type SchedulerConfig struct {
	PlanInterval time.Duration
	Horizon      time.Duration
	Wait         clock.WaitOptions
}

// WindowScheduler arms one precise timer per upcoming start or end instant within the look-ahead
// horizon. Timers only shorten the delay before a transition becomes visible; the sweep remains
// responsible for correctness, including after a restart.
type WindowScheduler struct {
	windows     plannableWindowStore
	transitions windowReconciler
	observer    StatusObserver
	clock       clock.Clock
	cfg         SchedulerConfig
	metrics     *MetricsService
	logger      *zap.Logger

	mu      sync.Mutex
	timers  map[timerKey]*timerHandle
	touched map[timerKey]uint64
	gen     uint64
	ctx     context.Context
	wg      sync.WaitGroup
}

// NewWindowScheduler constructs a scheduler with no armed timers.
func NewWindowScheduler(windows plannableWindowStore, transitions windowReconciler, observer StatusObserver, clk clock.Clock, cfg SchedulerConfig, metrics *MetricsService, logger *zap.Logger) *WindowScheduler {
	if cfg.PlanInterval <= 0 {
		cfg.PlanInterval = 2 * time.Minute
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = 12 * time.Hour
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WindowScheduler{
		windows:     windows,
		transitions: transitions,
		observer:    observer,
		clock:       clk,
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger,
		timers:      make(map[timerKey]*timerHandle),
		touched:     make(map[timerKey]uint64),
		ctx:         context.Background(),
	}
}

// Schedule arms a one-shot timer for (windowID, kind) at target, replacing any earlier registration
// for the same pair. Issuing the same target again keeps the existing timer. Targets in the past or
// beyond the horizon are not armed and clear the pair instead. It reports whether a timer is armed.
func (s *WindowScheduler) Schedule(windowID string, target time.Time, kind TimerKind) bool {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(timerKey{windowID: windowID, kind: kind}, target, now)
}

func (s *WindowScheduler) scheduleLocked(key timerKey, target, now time.Time) bool {
	if s.ctx.Err() != nil {
		return false
	}
	existing := s.timers[key]
	if target.Before(now) || target.After(now.Add(s.cfg.Horizon)) {
		if existing != nil {
			s.cancelLocked(key, existing)
		}
		return false
	}
	if existing != nil {
		if existing.target.Equal(target) {
			return true
		}
		s.cancelLocked(key, existing)
	}

	s.gen++
	ctx, cancel := context.WithCancel(s.ctx)
	handle := &timerHandle{target: target, gen: s.gen, cancel: cancel}
	s.timers[key] = handle
	s.metrics.SetPendingTimers(len(s.timers))

	s.wg.Add(1)
	go s.wait(ctx, key, handle)
	return true
}

// Cancel disarms the timer for (windowID, kind), if any.
func (s *WindowScheduler) Cancel(windowID string, kind TimerKind) {
	key := timerKey{windowID: windowID, kind: kind}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.timers[key]; existing != nil {
		s.cancelLocked(key, existing)
	}
}

// Pending returns the number of armed timers.
func (s *WindowScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Target returns the armed target for (windowID, kind).
func (s *WindowScheduler) Target(windowID string, kind TimerKind) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle, ok := s.timers[timerKey{windowID: windowID, kind: kind}]
	if !ok {
		return time.Time{}, false
	}
	return handle.target, true
}

// Plan arms timers for every start and end instant inside the horizon and disarms timers whose
// window no longer has a matching instant. Keys armed or rescheduled after the snapshot was taken
// are left alone. It returns the number of armed timers after the pass.
func (s *WindowScheduler) Plan(ctx context.Context) (int, error) {
	s.mu.Lock()
	snapshot := s.gen
	s.mu.Unlock()

	now := s.clock.Now()
	windows, err := s.windows.ListPlannable(ctx, now, now.Add(s.cfg.Horizon))
	if err != nil {
		return 0, err
	}

	wanted := make(map[timerKey]time.Time, len(windows)*2)
	for _, w := range windows {
		for kind, target := range dueInstants(w) {
			wanted[timerKey{windowID: w.ID, kind: kind}] = target
		}
	}

	s.mu.Lock()
	for key, handle := range s.timers {
		if _, ok := wanted[key]; ok || handle.gen > snapshot || s.touched[key] > snapshot {
			continue
		}
		s.cancelLocked(key, handle)
	}
	for key, target := range wanted {
		if s.touched[key] <= snapshot {
			s.scheduleLocked(key, target, now)
		}
	}
	for key, gen := range s.touched {
		if gen <= snapshot {
			delete(s.touched, key)
		}
	}
	pending := len(s.timers)
	s.mu.Unlock()

	s.logger.Sugar().Debugw("scheduler planned", "windows", len(windows), "pending_timers", pending)
	return pending, nil
}

// Reschedule re-plans a single window right after it was edited, created or deleted. A Plan pass
// whose snapshot predates this call does not override its outcome.
func (s *WindowScheduler) Reschedule(ctx context.Context, windowID string) error {
	s.mu.Lock()
	s.gen++
	for _, kind := range []TimerKind{TimerStart, TimerEnd} {
		s.touched[timerKey{windowID: windowID, kind: kind}] = s.gen
	}
	s.mu.Unlock()

	window, err := s.windows.GetWindow(ctx, windowID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.Cancel(windowID, TimerStart)
			s.Cancel(windowID, TimerEnd)
			return nil
		}
		return err
	}

	due := dueInstants(*window)
	for _, kind := range []TimerKind{TimerStart, TimerEnd} {
		if target, ok := due[kind]; ok {
			s.Schedule(windowID, target, kind)
		} else {
			s.Cancel(windowID, kind)
		}
	}
	return nil
}

// Run plans immediately and then every plan interval until ctx is cancelled. All timers are
// disarmed before it returns.
func (s *WindowScheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	defer s.stopAll()

	s.logger.Sugar().Infow("window scheduler started", "plan_interval", s.cfg.PlanInterval, "horizon", s.cfg.Horizon)
	for {
		if _, err := s.Plan(ctx); err != nil && ctx.Err() == nil {
			s.logger.Sugar().Warnw("scheduler planning failed", "error", err)
		}

		timer := s.clock.NewTimer(s.cfg.PlanInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Sugar().Infow("window scheduler stopped")
			return nil
		case <-timer.C():
		}
	}
}

func (s *WindowScheduler) wait(ctx context.Context, key timerKey, handle *timerHandle) {
	defer s.wg.Done()

	firedAt, err := clock.WaitUntil(ctx, s.clock, handle.target, s.cfg.Wait)
	if err != nil {
		return
	}

	s.mu.Lock()
	current := s.timers[key]
	if current == nil || current.gen != handle.gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	s.metrics.SetPendingTimers(len(s.timers))
	base := s.ctx
	s.mu.Unlock()
	handle.cancel()

	s.fire(base, key, handle.target, firedAt)
}

func (s *WindowScheduler) fire(ctx context.Context, key timerKey, target, firedAt time.Time) {
	lag := firedAt.Sub(target)
	s.metrics.ObserveFireLag(lag)

	change, err := s.transitions.Reconcile(ctx, key.windowID, RulesTime, models.ChangeSourceScheduler)
	if err != nil {
		s.logger.Sugar().Warnw("scheduled transition failed, left for sweep",
			"window_id", key.windowID, "kind", key.kind, "error", err)
		return
	}
	s.logger.Sugar().Debugw("window timer fired",
		"window_id", key.windowID, "kind", key.kind, "target", target, "lag", lag, "changed", change != nil)
	if change != nil && s.observer != nil {
		s.observer.Publish(change.OwnerID, []models.StatusChange{*change})
	}
}

func (s *WindowScheduler) cancelLocked(key timerKey, handle *timerHandle) {
	handle.cancel()
	delete(s.timers, key)
	s.metrics.SetPendingTimers(len(s.timers))
}

func (s *WindowScheduler) stopAll() {
	s.mu.Lock()
	for key, handle := range s.timers {
		s.cancelLocked(key, handle)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// dueInstants returns the pending time-driven instants of a timed, unfinished window.
func dueInstants(w models.ExamWindow) map[TimerKind]time.Time {
	start, end, ok := w.Bounds()
	if !ok || w.State == models.WindowStateFinished {
		return nil
	}
	due := map[TimerKind]time.Time{TimerEnd: finishInstant(end)}
	if !w.State.Started() {
		due[TimerStart] = start
	}
	return due
}
