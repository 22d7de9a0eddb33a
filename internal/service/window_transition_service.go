package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/exam-window-api/internal/models"
	"github.com/noah-isme/exam-window-api/pkg/clock"
	appErrors "github.com/noah-isme/exam-window-api/pkg/errors"
	"github.com/noah-isme/exam-window-api/pkg/keymutex"
)

// StatusObserver receives applied transitions grouped by owner.
type StatusObserver interface {
	Publish(ownerID string, changes []models.StatusChange)
}

type windowStateStore interface {
	GetWindow(ctx context.Context, id string) (*models.ExamWindow, error)
	UpdateWindowState(ctx context.Context, current models.ExamWindow, to models.WindowState, at time.Time) (bool, error)
}

type activeEnrollmentCounter interface {
	CountActive(ctx context.Context, windowID string) (int, error)
}

// windowReconciler is the single write path for lifecycle transitions.
type windowReconciler interface {
	Reconcile(ctx context.Context, windowID string, rules RuleSet, source models.ChangeSource) (*models.StatusChange, error)
}

// WindowTransitionService evaluates and persists lifecycle transitions. Every trigger goes through
// it so that reading, deciding and writing a window's state never interleave for the same window.
type WindowTransitionService struct {
	windows     windowStateStore
	enrollments activeEnrollmentCounter
	locks       *keymutex.Map
	clock       clock.Clock
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewWindowTransitionService constructs the transition applier.
func NewWindowTransitionService(windows windowStateStore, enrollments activeEnrollmentCounter, locks *keymutex.Map, clk clock.Clock, metrics *MetricsService, logger *zap.Logger) *WindowTransitionService {
	if locks == nil {
		locks = keymutex.New()
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WindowTransitionService{windows: windows, enrollments: enrollments, locks: locks, clock: clk, metrics: metrics, logger: logger}
}

// Lock holds the window's transition lock until the returned function is called. Edits to the
// schedule take it so that no transition is decided from a configuration being replaced.
func (s *WindowTransitionService) Lock(windowID string) (unlock func()) {
	return s.locks.Lock(windowID)
}

// Reconcile loads the current window and, when rules yield a transition, writes it with a
// compare-and-swap on the previous state and schedule. It returns nil when nothing changed,
// including when another writer moved or edited the window first or the window no longer exists.
func (s *WindowTransitionService) Reconcile(ctx context.Context, windowID string, rules RuleSet, source models.ChangeSource) (*models.StatusChange, error) {
	unlock := s.locks.Lock(windowID)
	defer unlock()

	window, err := s.windows.GetWindow(ctx, windowID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Transient(err, "load window")
	}

	enrolled := 0
	if rules.Has(RuleCapacity) && window.State != models.WindowStateFinished {
		if enrolled, err = s.enrollments.CountActive(ctx, windowID); err != nil {
			return nil, appErrors.Transient(err, "count active enrollments")
		}
	}

	now := s.clock.Now()
	next, ok := NextState(*window, now, enrolled, rules)
	if !ok {
		return nil, nil
	}
	return s.write(ctx, window, next, now, source)
}

// Force applies an explicit transition chosen by the owner. check runs under the window lock and
// may reject the move.
func (s *WindowTransitionService) Force(ctx context.Context, windowID string, to models.WindowState, check func(models.ExamWindow) error) (*models.StatusChange, error) {
	unlock := s.locks.Lock(windowID)
	defer unlock()

	window, err := s.windows.GetWindow(ctx, windowID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load window")
	}
	if check != nil {
		if err := check(*window); err != nil {
			return nil, err
		}
	}
	if window.State == to {
		return nil, nil
	}

	change, err := s.write(ctx, window, to, s.clock.Now(), models.ChangeSourceManual)
	if err != nil {
		return nil, err
	}
	if change == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "window state changed concurrently")
	}
	return change, nil
}

func (s *WindowTransitionService) write(ctx context.Context, window *models.ExamWindow, to models.WindowState, now time.Time, source models.ChangeSource) (*models.StatusChange, error) {
	if !CanTransition(window.State, to) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move window from %s to %s", window.State, to))
	}

	swapped, err := s.windows.UpdateWindowState(ctx, *window, to, now)
	if err != nil {
		return nil, appErrors.Transient(err, "persist window state")
	}
	if !swapped {
		s.logger.Sugar().Debugw("window changed by another writer", "window_id", window.ID, "expected", window.State, "source", source)
		return nil, nil
	}

	change := &models.StatusChange{
		WindowID:      window.ID,
		OwnerID:       window.OwnerID,
		PreviousState: window.State,
		NewState:      to,
		Timestamp:     now,
		Source:        source,
	}
	s.metrics.ObserveTransition(string(source), string(to))
	s.logger.Sugar().Infow("window transitioned",
		"window_id", window.ID,
		"owner_id", window.OwnerID,
		"from", window.State,
		"to", to,
		"source", source,
	)
	return change, nil
}
