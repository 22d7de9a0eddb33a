package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-window-api/internal/models"
)

func TestWindowRepositoryUpdateWindowStateCompareAndSwap(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWindowRepository(db)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	start := at.Add(-time.Minute)
	duration := 30
	current := models.ExamWindow{ID: "win-1", State: models.WindowStateScheduled, StartsAt: &start, DurationMinutes: &duration, Capacity: 20}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE exam_windows SET state = $2, updated_at = $3")).
		WithArgs("win-1", models.WindowStateInProgress, at, models.WindowStateScheduled, start, 30, 20).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("starts_at IS NOT DISTINCT FROM $5 AND duration_minutes IS NOT DISTINCT FROM $6 AND capacity = $7")).
		WithArgs("win-1", models.WindowStateInProgress, at, models.WindowStateScheduled, start, 30, 20).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.UpdateWindowState(context.Background(), current, models.WindowStateInProgress, at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateWindowState(context.Background(), current, models.WindowStateInProgress, at)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWindowRepositoryUpdateWindowStateOpenEnded(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWindowRepository(db)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	current := models.ExamWindow{ID: "win-2", Mode: models.SchedulingModeOpenEnded, State: models.WindowStateScheduled, Capacity: 5}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE exam_windows SET state = $2")).
		WithArgs("win-2", models.WindowStateFinished, at, models.WindowStateScheduled, nil, nil, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.UpdateWindowState(context.Background(), current, models.WindowStateFinished, at)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWindowRepositoryGetWindow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWindowRepository(db)
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM exam_windows WHERE id = $1")).
		WithArgs("win-1").
		WillReturnRows(timedWindowRow("win-1", start, 30, models.WindowStateScheduled))

	window, err := repo.GetWindow(context.Background(), "win-1")

	require.NoError(t, err)
	assert.True(t, window.Timed())
	_, end, ok := window.Bounds()
	require.True(t, ok)
	assert.Equal(t, start.Add(10*time.Minute), end)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWindowRepositoryListWindowsBuildsFilter(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWindowRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM exam_windows WHERE owner_id = $1 AND state <> $2 ORDER BY starts_at ASC NULLS LAST")).
		WithArgs("prof-1", models.WindowStateFinished).
		WillReturnRows(sqlmock.NewRows(windowRowColumns))

	windows, err := repo.ListWindows(context.Background(), models.WindowFilter{OwnerID: "prof-1", ExcludeFinished: true})

	require.NoError(t, err)
	assert.Empty(t, windows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWindowRepositoryListWindowsBySubset(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWindowRepository(db)
	ids := []string{"win-1", "win-2"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM exam_windows WHERE owner_id = $1 AND id = ANY($2) AND state <> $3")).
		WithArgs("prof-1", pq.Array(ids), models.WindowStateFinished).
		WillReturnRows(sqlmock.NewRows(windowRowColumns))

	_, err := repo.ListWindows(context.Background(), models.WindowFilter{OwnerID: "prof-1", IDs: ids, ExcludeFinished: true})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWindowRepositoryListPlannable(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWindowRepository(db)
	from := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	to := from.Add(12 * time.Hour)

	mock.ExpectQuery("WHERE mode = \\$1 AND state <> \\$2").
		WithArgs(models.SchedulingModeTimed, models.WindowStateFinished, from, to).
		WillReturnRows(timedWindowRow("win-1", from.Add(time.Hour), 5, models.WindowStateScheduled))

	windows, err := repo.ListPlannable(context.Background(), from, to)

	require.NoError(t, err)
	require.Len(t, windows, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWindowRepositoryListAvailableComputesSeats(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWindowRepository(db)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	start := now.Add(time.Hour)

	columns := append(append([]string{}, windowRowColumns...), "enrolled_count", "already_enrolled")
	rows := sqlmock.NewRows(columns).
		AddRow("win-1", "prof-1", "exam-1", models.SchedulingModeTimed, start, 10, 3, models.WindowStateScheduled, true, nil, now, now, 1, true).
		AddRow("win-2", "prof-1", "exam-1", models.SchedulingModeOpenEnded, nil, nil, 2, models.WindowStateEnrollmentClosed, true, nil, now, now, 3, false)
	mock.ExpectQuery("FROM exam_windows w").
		WithArgs("stu-1", models.WindowStateScheduled, models.WindowStateEnrollmentClosed, now).
		WillReturnRows(rows)

	windows, err := repo.ListAvailable(context.Background(), "stu-1", now)

	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, 2, windows[0].SeatsLeft)
	assert.True(t, windows[0].AlreadyEnrolled)
	assert.Equal(t, 0, windows[1].SeatsLeft)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWindowRepositoryDeleteGatedOnEnrollments(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWindowRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM exam_windows WHERE id = $1 AND NOT EXISTS")).
		WithArgs("win-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Delete(context.Background(), "win-1")

	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWindowRepositoryCreateAssignsID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWindowRepository(db)

	mock.ExpectExec("INSERT INTO exam_windows").
		WillReturnResult(sqlmock.NewResult(1, 1))

	window := &models.ExamWindow{OwnerID: "prof-1", ExamID: "exam-1", Mode: models.SchedulingModeOpenEnded, Capacity: 5, State: models.WindowStateScheduled, Active: true}
	require.NoError(t, repo.Create(context.Background(), window))

	assert.NotEmpty(t, window.ID)
	assert.False(t, window.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}
