package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/exam-window-api/internal/models"
)

const windowColumns = `id, owner_id, exam_id, mode, starts_at, duration_minutes, capacity, state, active, notes, created_at, updated_at`

// WindowRepository persists exam windows.
type WindowRepository struct {
	db *sqlx.DB
}

// NewWindowRepository constructs the repository.
func NewWindowRepository(db *sqlx.DB) *WindowRepository {
	return &WindowRepository{db: db}
}

// GetWindow returns a window by id. sql.ErrNoRows is returned unwrapped when it does not exist.
func (r *WindowRepository) GetWindow(ctx context.Context, id string) (*models.ExamWindow, error) {
	query := `SELECT ` + windowColumns + ` FROM exam_windows WHERE id = $1`
	var window models.ExamWindow
	if err := r.db.GetContext(ctx, &window, query, id); err != nil {
		return nil, err
	}
	return &window, nil
}

// ListWindows returns windows matching filter ordered by start instant, open-ended last.
func (r *WindowRepository) ListWindows(ctx context.Context, filter models.WindowFilter) ([]models.ExamWindow, error) {
	var conditions []string
	var args []interface{}

	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if len(filter.IDs) > 0 {
		args = append(args, pq.Array(filter.IDs))
		conditions = append(conditions, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	if filter.ExcludeFinished {
		args = append(args, models.WindowStateFinished)
		conditions = append(conditions, fmt.Sprintf("state <> $%d", len(args)))
	}

	query := `SELECT ` + windowColumns + ` FROM exam_windows`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY starts_at ASC NULLS LAST, created_at ASC"

	var windows []models.ExamWindow
	if err := r.db.SelectContext(ctx, &windows, query, args...); err != nil {
		return nil, fmt.Errorf("list exam windows: %w", err)
	}
	return windows, nil
}

// ListPlannable returns timed, unfinished windows whose start or end instant lies in [from, to].
func (r *WindowRepository) ListPlannable(ctx context.Context, from, to time.Time) ([]models.ExamWindow, error) {
	query := `SELECT ` + windowColumns + ` FROM exam_windows
WHERE mode = $1 AND state <> $2 AND starts_at IS NOT NULL AND duration_minutes IS NOT NULL
  AND (starts_at BETWEEN $3 AND $4
       OR starts_at + make_interval(mins => duration_minutes) BETWEEN $3 AND $4)
ORDER BY starts_at ASC`
	var windows []models.ExamWindow
	if err := r.db.SelectContext(ctx, &windows, query, models.SchedulingModeTimed, models.WindowStateFinished, from, to); err != nil {
		return nil, fmt.Errorf("list plannable windows: %w", err)
	}
	return windows, nil
}

// ListSummariesByOwner returns an owner's windows with their active enrollment counts.
func (r *WindowRepository) ListSummariesByOwner(ctx context.Context, ownerID string) ([]models.ExamWindowSummary, error) {
	const query = `SELECT w.id, w.owner_id, w.exam_id, w.mode, w.starts_at, w.duration_minutes, w.capacity, w.state,
       w.active, w.notes, w.created_at, w.updated_at,
       COUNT(e.id) FILTER (WHERE e.cancelled_at IS NULL) AS enrolled_count
FROM exam_windows w
LEFT JOIN enrollments e ON e.window_id = w.id
WHERE w.owner_id = $1
GROUP BY w.id
ORDER BY w.starts_at ASC NULLS LAST, w.created_at ASC`
	var windows []models.ExamWindowSummary
	if err := r.db.SelectContext(ctx, &windows, query, ownerID); err != nil {
		return nil, fmt.Errorf("list owner windows: %w", err)
	}
	return windows, nil
}

// ListAvailable returns active windows that are still enrollable or that participantID already
// holds a seat in, flagged accordingly.
func (r *WindowRepository) ListAvailable(ctx context.Context, participantID string, now time.Time) ([]models.AvailableWindow, error) {
	const query = `SELECT w.id, w.owner_id, w.exam_id, w.mode, w.starts_at, w.duration_minutes, w.capacity, w.state,
       w.active, w.notes, w.created_at, w.updated_at,
       COUNT(e.id) FILTER (WHERE e.cancelled_at IS NULL) AS enrolled_count,
       COALESCE(BOOL_OR(e.participant_id = $1 AND e.cancelled_at IS NULL), FALSE) AS already_enrolled
FROM exam_windows w
LEFT JOIN enrollments e ON e.window_id = w.id
WHERE w.active = TRUE AND w.state IN ($2, $3) AND (w.starts_at IS NULL OR w.starts_at > $4)
GROUP BY w.id
ORDER BY w.starts_at ASC NULLS LAST, w.created_at ASC`
	var windows []models.AvailableWindow
	if err := r.db.SelectContext(ctx, &windows, query, participantID, models.WindowStateScheduled, models.WindowStateEnrollmentClosed, now); err != nil {
		return nil, fmt.Errorf("list available windows: %w", err)
	}
	for i := range windows {
		if left := windows[i].Capacity - windows[i].EnrolledCount; left > 0 {
			windows[i].SeatsLeft = left
		}
	}
	return windows, nil
}

// UpdateWindowState moves a window from current.State to another state. The write only applies while
// the persisted state, start, duration and capacity still match current; otherwise it reports false
// without error.
func (r *WindowRepository) UpdateWindowState(ctx context.Context, current models.ExamWindow, to models.WindowState, at time.Time) (bool, error) {
	const query = `UPDATE exam_windows SET state = $2, updated_at = $3
WHERE id = $1 AND state = $4 AND starts_at IS NOT DISTINCT FROM $5 AND duration_minutes IS NOT DISTINCT FROM $6 AND capacity = $7`
	res, err := r.db.ExecContext(ctx, query, current.ID, to, at, current.State, current.StartsAt, current.DurationMinutes, current.Capacity)
	if err != nil {
		return false, fmt.Errorf("update window %s state: %w", current.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update window %s state: %w", current.ID, err)
	}
	return affected == 1, nil
}

// Create persists a new window.
func (r *WindowRepository) Create(ctx context.Context, window *models.ExamWindow) error {
	if window.ID == "" {
		window.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if window.CreatedAt.IsZero() {
		window.CreatedAt = now
	}
	window.UpdatedAt = window.CreatedAt
	const query = `INSERT INTO exam_windows (id, owner_id, exam_id, mode, starts_at, duration_minutes, capacity, state, active, notes, created_at, updated_at)
VALUES (:id, :owner_id, :exam_id, :mode, :starts_at, :duration_minutes, :capacity, :state, :active, :notes, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, window); err != nil {
		return fmt.Errorf("create exam window: %w", err)
	}
	return nil
}

// Update saves the editable schedule fields of a window. State is never written here.
func (r *WindowRepository) Update(ctx context.Context, window *models.ExamWindow) error {
	window.UpdatedAt = time.Now().UTC()
	const query = `UPDATE exam_windows SET starts_at = :starts_at, duration_minutes = :duration_minutes, capacity = :capacity,
    notes = :notes, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, window); err != nil {
		return fmt.Errorf("update exam window: %w", err)
	}
	return nil
}

// SetActive updates the visibility flag.
func (r *WindowRepository) SetActive(ctx context.Context, id string, active bool) error {
	const query = `UPDATE exam_windows SET active = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, active, time.Now().UTC()); err != nil {
		return fmt.Errorf("toggle exam window: %w", err)
	}
	return nil
}

// Delete removes a window that has never had an enrollment. It reports false when the window
// has enrollments or does not exist.
func (r *WindowRepository) Delete(ctx context.Context, id string) (bool, error) {
	const query = `DELETE FROM exam_windows WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM enrollments WHERE window_id = $1)`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("delete exam window: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete exam window: %w", err)
	}
	return affected == 1, nil
}
