package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/exam-window-api/internal/models"
)

// CapacityService applies capacity-driven transitions right after an enrollment mutation.
type CapacityService struct {
	transitions windowReconciler
	observer    StatusObserver
	timeout     time.Duration
	logger      *zap.Logger
}

// NewCapacityService constructs the capacity trigger.
func NewCapacityService(transitions windowReconciler, observer StatusObserver, timeout time.Duration, logger *zap.Logger) *CapacityService {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CapacityService{transitions: transitions, observer: observer, timeout: timeout, logger: logger}
}

// OnEnrollmentChanged closes or reopens enrollment for windowID according to its active count and
// publishes the change. It never fails: a write error is logged and left for the sweep, and the
// enrollment that triggered the call stands. The work is bounded by the configured timeout and
// survives cancellation of the triggering request.
func (s *CapacityService) OnEnrollmentChanged(ctx context.Context, windowID string) *models.StatusChange {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	change, err := s.transitions.Reconcile(ctx, windowID, RulesCapacity, models.ChangeSourceCapacity)
	if err != nil {
		s.logger.Sugar().Warnw("capacity transition not persisted, left for sweep", "window_id", windowID, "error", err)
		return nil
	}
	if change != nil && s.observer != nil {
		s.observer.Publish(change.OwnerID, []models.StatusChange{*change})
	}
	return change
}
