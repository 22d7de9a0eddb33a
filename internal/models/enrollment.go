package models

import "time"

// Enrollment is a participant's registration for a window. CancelledAt nil means active.
type Enrollment struct {
	ID            string     `db:"id" json:"id"`
	WindowID      string     `db:"window_id" json:"window_id"`
	ParticipantID string     `db:"participant_id" json:"participant_id"`
	EnrolledAt    time.Time  `db:"enrolled_at" json:"enrolled_at"`
	CancelledAt   *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	Attended      *bool      `db:"attended" json:"attended,omitempty"`
}

// Active reports whether the enrollment has not been cancelled.
func (e Enrollment) Active() bool {
	return e.CancelledAt == nil
}

// EnrollmentGuard decides, under the window row lock, whether an enrollment may be created.
// existing is the participant's previous enrollment for the window, if any.
type EnrollmentGuard func(window ExamWindow, activeCount int, existing *Enrollment) error

// EnrollmentDetail enriches an enrollment with its window schedule.
type EnrollmentDetail struct {
	Enrollment
	ExamID          string         `db:"exam_id" json:"exam_id"`
	OwnerID         string         `db:"owner_id" json:"owner_id"`
	Mode            SchedulingMode `db:"mode" json:"mode"`
	StartsAt        *time.Time     `db:"starts_at" json:"starts_at,omitempty"`
	DurationMinutes *int           `db:"duration_minutes" json:"duration_minutes,omitempty"`
	WindowState     WindowState    `db:"window_state" json:"window_state"`
}

// CreateEnrollmentRequest enrolls the caller in a window.
type CreateEnrollmentRequest struct {
	WindowID      string `json:"window_id" validate:"required"`
	ParticipantID string `json:"-"`
}

// AttendanceRequest records whether a participant attended.
type AttendanceRequest struct {
	Attended *bool `json:"attended" validate:"required"`
}
