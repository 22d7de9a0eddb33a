package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/exam-window-api/internal/models"
)

const enrollmentColumns = `id, window_id, participant_id, enrolled_at, cancelled_at, attended`

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Enroll creates or reactivates participantID's enrollment in windowID. The window row is locked
// for the duration of the transaction so that concurrent enrollments cannot exceed capacity; guard
// sees the locked window and the current active count and may veto the write.
func (r *EnrollmentRepository) Enroll(ctx context.Context, windowID, participantID string, at time.Time, guard models.EnrollmentGuard) (*models.Enrollment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enrollment tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var window models.ExamWindow
	if err = tx.GetContext(ctx, &window, `SELECT `+windowColumns+` FROM exam_windows WHERE id = $1 FOR UPDATE`, windowID); err != nil {
		return nil, err
	}

	var existing *models.Enrollment
	var found models.Enrollment
	err = tx.GetContext(ctx, &found, `SELECT `+enrollmentColumns+` FROM enrollments WHERE window_id = $1 AND participant_id = $2`, windowID, participantID)
	switch {
	case err == nil:
		existing = &found
	case errors.Is(err, sql.ErrNoRows):
		err = nil
	default:
		return nil, fmt.Errorf("find enrollment: %w", err)
	}

	var active int
	if err = tx.GetContext(ctx, &active, `SELECT COUNT(*) FROM enrollments WHERE window_id = $1 AND cancelled_at IS NULL`, windowID); err != nil {
		return nil, fmt.Errorf("count enrollments: %w", err)
	}

	if guard != nil {
		if err = guard(window, active, existing); err != nil {
			return nil, err
		}
	}

	var enrollment models.Enrollment
	if existing != nil {
		enrollment = *existing
		enrollment.EnrolledAt = at
		enrollment.CancelledAt = nil
		enrollment.Attended = nil
		if _, err = tx.ExecContext(ctx, `UPDATE enrollments SET enrolled_at = $2, cancelled_at = NULL, attended = NULL WHERE id = $1`, enrollment.ID, at); err != nil {
			return nil, fmt.Errorf("reactivate enrollment: %w", err)
		}
	} else {
		enrollment = models.Enrollment{ID: uuid.NewString(), WindowID: windowID, ParticipantID: participantID, EnrolledAt: at}
		if _, err = tx.NamedExecContext(ctx, `INSERT INTO enrollments (id, window_id, participant_id, enrolled_at, cancelled_at, attended)
VALUES (:id, :window_id, :participant_id, :enrolled_at, :cancelled_at, :attended)`, enrollment); err != nil {
			return nil, fmt.Errorf("create enrollment: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enrollment tx: %w", err)
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment joined with its window schedule.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.window_id, e.participant_id, e.enrolled_at, e.cancelled_at, e.attended,
       w.exam_id, w.owner_id, w.mode, w.starts_at, w.duration_minutes, w.state AS window_state
FROM enrollments e
JOIN exam_windows w ON w.id = e.window_id
WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Cancel marks an active enrollment as cancelled. It reports false when it was already cancelled.
func (r *EnrollmentRepository) Cancel(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE enrollments SET cancelled_at = $2 WHERE id = $1 AND cancelled_at IS NULL`, id, at)
	if err != nil {
		return false, fmt.Errorf("cancel enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel enrollment: %w", err)
	}
	return affected == 1, nil
}

// SetAttendance records the attendance flag of an enrollment.
func (r *EnrollmentRepository) SetAttendance(ctx context.Context, id string, attended bool) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE enrollments SET attended = $2 WHERE id = $1`, id, attended); err != nil {
		return fmt.Errorf("set attendance: %w", err)
	}
	return nil
}

// CountActive returns the number of active enrollments of a window.
func (r *EnrollmentRepository) CountActive(ctx context.Context, windowID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM enrollments WHERE window_id = $1 AND cancelled_at IS NULL`, windowID); err != nil {
		return 0, fmt.Errorf("count active enrollments: %w", err)
	}
	return count, nil
}

// CountActiveByWindows returns active enrollment counts keyed by window id. Windows without active
// enrollments are absent from the map.
func (r *EnrollmentRepository) CountActiveByWindows(ctx context.Context, windowIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(windowIDs))
	if len(windowIDs) == 0 {
		return counts, nil
	}
	const query = `SELECT window_id, COUNT(*) FROM enrollments WHERE cancelled_at IS NULL AND window_id = ANY($1) GROUP BY window_id`
	rows, err := r.db.QueryxContext(ctx, query, pq.Array(windowIDs))
	if err != nil {
		return nil, fmt.Errorf("count active enrollments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("scan enrollment count: %w", err)
		}
		counts[id] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrollment counts: %w", err)
	}
	return counts, nil
}

// CountAll returns the number of enrollments of a window, cancelled ones included.
func (r *EnrollmentRepository) CountAll(ctx context.Context, windowID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM enrollments WHERE window_id = $1`, windowID); err != nil {
		return 0, fmt.Errorf("count enrollments: %w", err)
	}
	return count, nil
}

// ListByWindow returns the active enrollments of a window in enrollment order.
func (r *EnrollmentRepository) ListByWindow(ctx context.Context, windowID string) ([]models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE window_id = $1 AND cancelled_at IS NULL ORDER BY enrolled_at ASC`
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, windowID); err != nil {
		return nil, fmt.Errorf("list window enrollments: %w", err)
	}
	return enrollments, nil
}

// ListByParticipant returns a participant's active enrollments with their windows.
func (r *EnrollmentRepository) ListByParticipant(ctx context.Context, participantID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.window_id, e.participant_id, e.enrolled_at, e.cancelled_at, e.attended,
       w.exam_id, w.owner_id, w.mode, w.starts_at, w.duration_minutes, w.state AS window_state
FROM enrollments e
JOIN exam_windows w ON w.id = e.window_id
WHERE e.participant_id = $1 AND e.cancelled_at IS NULL
ORDER BY w.starts_at ASC NULLS LAST`
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, participantID); err != nil {
		return nil, fmt.Errorf("list participant enrollments: %w", err)
	}
	return enrollments, nil
}
