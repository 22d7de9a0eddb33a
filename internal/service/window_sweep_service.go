package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/exam-window-api/internal/models"
	"github.com/noah-isme/exam-window-api/pkg/clock"
)

type sweepWindowStore interface {
	ListWindows(ctx context.Context, filter models.WindowFilter) ([]models.ExamWindow, error)
}

type activeCountBatcher interface {
	CountActiveByWindows(ctx context.Context, windowIDs []string) (map[string]int, error)
}

// WindowSweepService periodically recomputes the state of every unfinished window and persists
// whatever differs. It is the correctness backstop for missed timers, restarts and failed
// capacity writes.
type WindowSweepService struct {
	windows     sweepWindowStore
	counts      activeCountBatcher
	transitions windowReconciler
	observer    StatusObserver
	clock       clock.Clock
	interval    time.Duration
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewWindowSweepService constructs the sweep.
func NewWindowSweepService(windows sweepWindowStore, counts activeCountBatcher, transitions windowReconciler, observer StatusObserver, clk clock.Clock, interval time.Duration, metrics *MetricsService, logger *zap.Logger) *WindowSweepService {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WindowSweepService{
		windows:     windows,
		counts:      counts,
		transitions: transitions,
		observer:    observer,
		clock:       clk,
		interval:    interval,
		metrics:     metrics,
		logger:      logger,
	}
}

// TriggerSweep reconciles every unfinished window, or only ownerID's when it is not empty, and
// returns the applied changes. A window whose write fails is logged and skipped; the pass goes on.
func (s *WindowSweepService) TriggerSweep(ctx context.Context, ownerID string) ([]models.StatusChange, error) {
	return s.sweep(ctx, models.WindowFilter{OwnerID: ownerID, ExcludeFinished: true})
}

// TriggerSweepWindows is TriggerSweep restricted to windowIDs. An empty list sweeps nothing.
func (s *WindowSweepService) TriggerSweepWindows(ctx context.Context, ownerID string, windowIDs []string) ([]models.StatusChange, error) {
	if len(windowIDs) == 0 {
		return []models.StatusChange{}, nil
	}
	return s.sweep(ctx, models.WindowFilter{OwnerID: ownerID, IDs: windowIDs, ExcludeFinished: true})
}

func (s *WindowSweepService) sweep(ctx context.Context, filter models.WindowFilter) ([]models.StatusChange, error) {
	began := time.Now()

	windows, err := s.windows.ListWindows(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("sweep list windows: %w", err)
	}
	ids := make([]string, len(windows))
	for i, w := range windows {
		ids[i] = w.ID
	}
	counts, err := s.counts.CountActiveByWindows(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("sweep count enrollments: %w", err)
	}

	now := s.clock.Now()
	changes := make([]models.StatusChange, 0)
	failures := 0
	for _, w := range windows {
		if _, due := NextState(w, now, counts[w.ID], RulesAll); !due {
			continue
		}
		change, err := s.transitions.Reconcile(ctx, w.ID, RulesAll, models.ChangeSourceSweep)
		if err != nil {
			failures++
			s.logger.Sugar().Warnw("sweep could not persist transition", "window_id", w.ID, "error", err)
			continue
		}
		if change != nil {
			changes = append(changes, *change)
		}
	}

	s.publish(changes)
	s.metrics.ObserveSweep(time.Since(began), failures)
	if len(changes) > 0 || failures > 0 {
		s.logger.Sugar().Infow("sweep completed",
			"owner_id", filter.OwnerID, "subset", len(filter.IDs), "windows", len(windows), "changes", len(changes), "failures", failures)
	}
	return changes, nil
}

// ReconcileWindow sweeps a single window.
func (s *WindowSweepService) ReconcileWindow(ctx context.Context, windowID string) (*models.StatusChange, error) {
	change, err := s.transitions.Reconcile(ctx, windowID, RulesAll, models.ChangeSourceSweep)
	if err != nil {
		return nil, err
	}
	if change != nil {
		s.publish([]models.StatusChange{*change})
	}
	return change, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *WindowSweepService) Run(ctx context.Context) error {
	s.logger.Sugar().Infow("window sweep started", "interval", s.interval)
	for {
		timer := s.clock.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Sugar().Infow("window sweep stopped")
			return nil
		case <-timer.C():
		}
		if _, err := s.TriggerSweep(ctx, ""); err != nil && ctx.Err() == nil {
			s.logger.Sugar().Warnw("sweep failed", "error", err)
		}
	}
}

// publish groups changes by owner, keeping their order, and hands each group to the observer.
func (s *WindowSweepService) publish(changes []models.StatusChange) {
	if s.observer == nil || len(changes) == 0 {
		return
	}
	var owners []string
	grouped := make(map[string][]models.StatusChange)
	for _, change := range changes {
		if _, seen := grouped[change.OwnerID]; !seen {
			owners = append(owners, change.OwnerID)
		}
		grouped[change.OwnerID] = append(grouped[change.OwnerID], change)
	}
	for _, owner := range owners {
		s.observer.Publish(owner, grouped[owner])
	}
}
