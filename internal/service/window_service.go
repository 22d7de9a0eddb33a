package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/exam-window-api/internal/models"
	"github.com/noah-isme/exam-window-api/pkg/clock"
	appErrors "github.com/noah-isme/exam-window-api/pkg/errors"
)

type windowReader interface {
	GetWindow(ctx context.Context, id string) (*models.ExamWindow, error)
}

type windowRepository interface {
	windowReader
	ListSummariesByOwner(ctx context.Context, ownerID string) ([]models.ExamWindowSummary, error)
	ListAvailable(ctx context.Context, participantID string, now time.Time) ([]models.AvailableWindow, error)
	Create(ctx context.Context, window *models.ExamWindow) error
	Update(ctx context.Context, window *models.ExamWindow) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) (bool, error)
}

type windowEnrollmentCounter interface {
	CountAll(ctx context.Context, windowID string) (int, error)
}

type windowPlanner interface {
	Reschedule(ctx context.Context, windowID string) error
}

type windowSweeper interface {
	TriggerSweep(ctx context.Context, ownerID string) ([]models.StatusChange, error)
	TriggerSweepWindows(ctx context.Context, ownerID string, windowIDs []string) ([]models.StatusChange, error)
	ReconcileWindow(ctx context.Context, windowID string) (*models.StatusChange, error)
}

type windowStateForcer interface {
	Lock(windowID string) (unlock func())
	Force(ctx context.Context, windowID string, to models.WindowState, check func(models.ExamWindow) error) (*models.StatusChange, error)
}

// WindowService implements the owner-facing window operations and keeps the scheduler and sweep
// in step with every edit.
type WindowService struct {
	repo        windowRepository
	enrollments windowEnrollmentCounter
	planner     windowPlanner
	sweeper     windowSweeper
	transitions windowStateForcer
	observer    StatusObserver
	clock       clock.Clock
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewWindowService constructs WindowService. planner may be nil when the scheduler is disabled.
func NewWindowService(repo windowRepository, enrollments windowEnrollmentCounter, planner windowPlanner, sweeper windowSweeper, transitions windowStateForcer, observer StatusObserver, clk clock.Clock, validate *validator.Validate, logger *zap.Logger) *WindowService {
	if clk == nil {
		clk = clock.New()
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WindowService{
		repo:        repo,
		enrollments: enrollments,
		planner:     planner,
		sweeper:     sweeper,
		transitions: transitions,
		observer:    observer,
		clock:       clk,
		validator:   validate,
		logger:      logger,
	}
}

// Create registers a new window in SCHEDULED state.
func (s *WindowService) Create(ctx context.Context, req models.CreateWindowRequest) (*models.ExamWindow, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid window payload")
	}
	if err := validateSchedule(req.Mode, req.StartsAt, req.DurationMinutes, s.clock.Now(), true); err != nil {
		return nil, err
	}

	window := &models.ExamWindow{
		OwnerID:         req.OwnerID,
		ExamID:          req.ExamID,
		Mode:            req.Mode,
		StartsAt:        utcPtr(req.StartsAt),
		DurationMinutes: req.DurationMinutes,
		Capacity:        req.Capacity,
		State:           models.WindowStateScheduled,
		Active:          true,
		Notes:           req.Notes,
	}
	if err := s.repo.Create(ctx, window); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create window")
	}
	s.logger.Sugar().Infow("exam window created", "window_id", window.ID, "owner_id", window.OwnerID, "mode", window.Mode)

	s.afterEdit(ctx, window.ID)
	return window, nil
}

// Update edits the schedule, capacity or notes of an owned window. The start instant cannot move
// once the window started, and finished windows are read-only.
func (s *WindowService) Update(ctx context.Context, ownerID, windowID string, req models.UpdateWindowRequest) (*models.ExamWindow, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid window payload")
	}
	window, err := s.applyUpdate(ctx, ownerID, windowID, req)
	if err != nil {
		return nil, err
	}

	s.afterEdit(ctx, window.ID)
	return s.reload(ctx, window)
}

// applyUpdate loads, validates and saves the edit while holding the window's transition lock.
func (s *WindowService) applyUpdate(ctx context.Context, ownerID, windowID string, req models.UpdateWindowRequest) (*models.ExamWindow, error) {
	unlock := s.transitions.Lock(windowID)
	defer unlock()

	window, err := loadOwnedWindow(ctx, s.repo, ownerID, windowID)
	if err != nil {
		return nil, err
	}
	if window.State == models.WindowStateFinished {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "finished windows cannot be edited")
	}
	if req.StartsAt != nil && window.State.Started() {
		return nil, appErrors.Clone(appErrors.ErrAlreadyStarted, "start cannot move once the window started")
	}

	startsAt, duration := window.StartsAt, window.DurationMinutes
	if req.StartsAt != nil {
		startsAt = utcPtr(req.StartsAt)
	}
	if req.DurationMinutes != nil {
		duration = req.DurationMinutes
	}
	if err := validateSchedule(window.Mode, startsAt, duration, s.clock.Now(), req.StartsAt != nil); err != nil {
		return nil, err
	}

	window.StartsAt = startsAt
	window.DurationMinutes = duration
	if req.Capacity != nil {
		window.Capacity = *req.Capacity
	}
	if req.Notes != nil {
		window.Notes = req.Notes
	}
	if err := s.repo.Update(ctx, window); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update window")
	}
	return window, nil
}

// Toggle flips the visibility flag of an owned window. State is not affected.
func (s *WindowService) Toggle(ctx context.Context, ownerID, windowID string) (*models.ExamWindow, error) {
	window, err := loadOwnedWindow(ctx, s.repo, ownerID, windowID)
	if err != nil {
		return nil, err
	}
	window.Active = !window.Active
	if err := s.repo.SetActive(ctx, window.ID, window.Active); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to toggle window")
	}
	return window, nil
}

// SetState moves an open-ended window to IN_PROGRESS or FINISHED by hand.
func (s *WindowService) SetState(ctx context.Context, ownerID, windowID string, req models.ManualStateRequest) (*models.ExamWindow, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid state payload")
	}
	change, err := s.transitions.Force(ctx, windowID, req.State, func(w models.ExamWindow) error {
		if w.OwnerID != ownerID {
			return appErrors.ErrForbidden
		}
		if w.Mode != models.SchedulingModeOpenEnded {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "only open-ended windows are moved manually")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if change != nil {
		s.cancelTimers(ctx, windowID)
		if s.observer != nil {
			s.observer.Publish(change.OwnerID, []models.StatusChange{*change})
		}
	}
	return s.reload(ctx, &models.ExamWindow{ID: windowID})
}

// Delete removes an owned window that never had an enrollment.
func (s *WindowService) Delete(ctx context.Context, ownerID, windowID string) error {
	if _, err := loadOwnedWindow(ctx, s.repo, ownerID, windowID); err != nil {
		return err
	}
	count, err := s.enrollments.CountAll(ctx, windowID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}
	if count > 0 {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "window has enrollments")
	}
	deleted, err := s.repo.Delete(ctx, windowID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete window")
	}
	if !deleted {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "window has enrollments")
	}
	s.cancelTimers(ctx, windowID)
	return nil
}

// ListMine sweeps the owner's windows and returns them with their enrollment counts.
func (s *WindowService) ListMine(ctx context.Context, ownerID string) ([]models.ExamWindowSummary, error) {
	if _, err := s.sweeper.TriggerSweep(ctx, ownerID); err != nil {
		s.logger.Sugar().Warnw("owner sweep before listing failed", "owner_id", ownerID, "error", err)
	}
	windows, err := s.repo.ListSummariesByOwner(ctx, ownerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list windows")
	}
	return windows, nil
}

// UpdateStatuses runs an on-demand sweep of the owner's windows, limited to windowIDs when any
// are given.
func (s *WindowService) UpdateStatuses(ctx context.Context, ownerID string, windowIDs []string) ([]models.StatusChange, error) {
	var (
		changes []models.StatusChange
		err     error
	)
	if len(windowIDs) > 0 {
		changes, err = s.sweeper.TriggerSweepWindows(ctx, ownerID, windowIDs)
	} else {
		changes, err = s.sweeper.TriggerSweep(ctx, ownerID)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update window statuses")
	}
	return changes, nil
}

// ListAvailable returns the windows a participant can see in the enrollment catalogue.
func (s *WindowService) ListAvailable(ctx context.Context, participantID string) ([]models.AvailableWindow, error) {
	windows, err := s.repo.ListAvailable(ctx, participantID, s.clock.Now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list available windows")
	}
	return windows, nil
}

// afterEdit re-plans the window's timers and reconciles its state immediately. Failures are left to
// the planning pass and the sweep.
func (s *WindowService) afterEdit(ctx context.Context, windowID string) {
	if s.planner != nil {
		if err := s.planner.Reschedule(ctx, windowID); err != nil {
			s.logger.Sugar().Warnw("reschedule after edit failed", "window_id", windowID, "error", err)
		}
	}
	if _, err := s.sweeper.ReconcileWindow(ctx, windowID); err != nil {
		s.logger.Sugar().Warnw("reconcile after edit failed", "window_id", windowID, "error", err)
	}
}

func (s *WindowService) cancelTimers(ctx context.Context, windowID string) {
	if s.planner == nil {
		return
	}
	if err := s.planner.Reschedule(ctx, windowID); err != nil {
		s.logger.Sugar().Warnw("cancel window timers failed", "window_id", windowID, "error", err)
	}
}

func (s *WindowService) reload(ctx context.Context, fallback *models.ExamWindow) (*models.ExamWindow, error) {
	window, err := s.repo.GetWindow(ctx, fallback.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "window not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load window")
	}
	return window, nil
}

// loadOwnedWindow returns the window when ownerID owns it.
func loadOwnedWindow(ctx context.Context, reader windowReader, ownerID, windowID string) (*models.ExamWindow, error) {
	window, err := reader.GetWindow(ctx, windowID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "window not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load window")
	}
	if window.OwnerID != ownerID {
		return nil, appErrors.ErrForbidden
	}
	return window, nil
}

// validateSchedule rejects malformed schedules. Timed windows need a start and a duration, and a
// newly set start must lie in the future; open-ended windows carry neither.
func validateSchedule(mode models.SchedulingMode, startsAt *time.Time, duration *int, now time.Time, startChanged bool) error {
	switch mode {
	case models.SchedulingModeTimed:
		if startsAt == nil || duration == nil {
			return appErrors.Clone(appErrors.ErrInvalidWindow, "timed windows require starts_at and duration_minutes")
		}
		if *duration <= 0 {
			return appErrors.Clone(appErrors.ErrInvalidWindow, "duration_minutes must be positive")
		}
		if startChanged && !startsAt.After(now) {
			return appErrors.Clone(appErrors.ErrInvalidWindow, "starts_at must be in the future")
		}
	case models.SchedulingModeOpenEnded:
		if startsAt != nil || duration != nil {
			return appErrors.Clone(appErrors.ErrInvalidWindow, "open-ended windows have no starts_at or duration_minutes")
		}
	default:
		return appErrors.Clone(appErrors.ErrInvalidWindow, "unknown scheduling mode")
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
