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

type enrollmentRepository interface {
	Enroll(ctx context.Context, windowID, participantID string, at time.Time, guard models.EnrollmentGuard) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	Cancel(ctx context.Context, id string, at time.Time) (bool, error)
	SetAttendance(ctx context.Context, id string, attended bool) error
	ListByWindow(ctx context.Context, windowID string) ([]models.Enrollment, error)
	ListByParticipant(ctx context.Context, participantID string) ([]models.EnrollmentDetail, error)
}

type capacityTrigger interface {
	OnEnrollmentChanged(ctx context.Context, windowID string) *models.StatusChange
}

// EnrollmentService orchestrates enrollment workflows.
type EnrollmentService struct {
	repo      enrollmentRepository
	windows   windowReader
	capacity  capacityTrigger
	clock     clock.Clock
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, windows windowReader, capacity capacityTrigger, clk clock.Clock, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if clk == nil {
		clk = clock.New()
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, windows: windows, capacity: capacity, clock: clk, validator: validate, logger: logger}
}

// Enroll registers the participant in a window, reactivating a cancelled enrollment when one exists.
func (s *EnrollmentService) Enroll(ctx context.Context, req models.CreateEnrollmentRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	now := s.clock.Now()
	enrollment, err := s.repo.Enroll(ctx, req.WindowID, req.ParticipantID, now, enrollmentGuard(now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "window not found")
		}
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll")
	}
	s.logger.Sugar().Infow("participant enrolled", "window_id", req.WindowID, "participant_id", req.ParticipantID, "enrollment_id", enrollment.ID)

	if s.capacity != nil {
		s.capacity.OnEnrollmentChanged(ctx, req.WindowID)
	}
	return enrollment, nil
}

// Cancel withdraws the participant's own enrollment. Enrollments cannot be cancelled once the window
// started.
func (s *EnrollmentService) Cancel(ctx context.Context, participantID, enrollmentID string) error {
	detail, err := s.loadDetail(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if detail.ParticipantID != participantID {
		return appErrors.ErrForbidden
	}
	if !detail.Active() {
		return appErrors.Clone(appErrors.ErrConflict, "enrollment already cancelled")
	}
	now := s.clock.Now()
	if windowStarted(detail.WindowState, detail.StartsAt, now) {
		return appErrors.Clone(appErrors.ErrAlreadyStarted, "enrollment cannot be cancelled after the window started")
	}
	cancelled, err := s.repo.Cancel(ctx, enrollmentID, now)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel enrollment")
	}
	if !cancelled {
		return appErrors.Clone(appErrors.ErrConflict, "enrollment already cancelled")
	}
	s.logger.Sugar().Infow("enrollment cancelled", "window_id", detail.WindowID, "enrollment_id", enrollmentID)

	if s.capacity != nil {
		s.capacity.OnEnrollmentChanged(ctx, detail.WindowID)
	}
	return nil
}

// ListMine returns the participant's active enrollments.
func (s *EnrollmentService) ListMine(ctx context.Context, participantID string) ([]models.EnrollmentDetail, error) {
	enrollments, err := s.repo.ListByParticipant(ctx, participantID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, nil
}

// ListByWindow returns the active enrollments of a window owned by ownerID.
func (s *EnrollmentService) ListByWindow(ctx context.Context, ownerID, windowID string) ([]models.Enrollment, error) {
	if _, err := loadOwnedWindow(ctx, s.windows, ownerID, windowID); err != nil {
		return nil, err
	}
	enrollments, err := s.repo.ListByWindow(ctx, windowID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, nil
}

// MarkAttendance records attendance for an active enrollment once its window has started.
func (s *EnrollmentService) MarkAttendance(ctx context.Context, ownerID, enrollmentID string, req models.AttendanceRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}
	detail, err := s.loadDetail(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if detail.OwnerID != ownerID {
		return nil, appErrors.ErrForbidden
	}
	if !detail.Active() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment is cancelled")
	}
	if !windowStarted(detail.WindowState, detail.StartsAt, s.clock.Now()) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "attendance opens when the window starts")
	}
	if err := s.repo.SetAttendance(ctx, enrollmentID, *req.Attended); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attendance")
	}
	detail.Attended = req.Attended
	return detail, nil
}

func (s *EnrollmentService) loadDetail(ctx context.Context, enrollmentID string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}

// enrollmentGuard runs under the window row lock with the current active count.
func enrollmentGuard(now time.Time) models.EnrollmentGuard {
	return func(window models.ExamWindow, active int, existing *models.Enrollment) error {
		switch {
		case !window.Active:
			return appErrors.Clone(appErrors.ErrWindowNotEnrollable, "window is not active")
		case windowStarted(window.State, window.StartsAt, now):
			return appErrors.ErrAlreadyStarted
		case existing != nil && existing.Active():
			return appErrors.Clone(appErrors.ErrConflict, "already enrolled in this window")
		case window.State == models.WindowStateEnrollmentClosed:
			return appErrors.ErrCapacityFull
		case window.State != models.WindowStateScheduled:
			return appErrors.ErrWindowNotEnrollable
		case active >= window.Capacity:
			return appErrors.ErrCapacityFull
		}
		return nil
	}
}

// windowStarted reports whether a window has begun, either by state or because its start instant
// passed before the scheduler caught up.
func windowStarted(state models.WindowState, startsAt *time.Time, now time.Time) bool {
	if state.Started() {
		return true
	}
	return startsAt != nil && !now.Before(*startsAt)
}
