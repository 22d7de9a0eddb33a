package models

import "time"

// WindowState is the lifecycle state of an exam window.
type WindowState string

// Lifecycle states.
const (
	WindowStateScheduled        WindowState = "SCHEDULED"
	WindowStateEnrollmentClosed WindowState = "ENROLLMENT_CLOSED"
	WindowStateInProgress       WindowState = "IN_PROGRESS"
	WindowStateFinished         WindowState = "FINISHED"
)

// Started reports whether the window has entered a time-driven state.
func (s WindowState) Started() bool {
	return s == WindowStateInProgress || s == WindowStateFinished
}

// SchedulingMode distinguishes timed windows from open-ended ones.
type SchedulingMode string

const (
	SchedulingModeTimed     SchedulingMode = "TIMED"
	SchedulingModeOpenEnded SchedulingMode = "OPEN_ENDED"
)

// ExamWindow is a scheduled or open-ended opportunity to take an exam.
type ExamWindow struct {
	ID              string         `db:"id" json:"id"`
	OwnerID         string         `db:"owner_id" json:"owner_id"`
	ExamID          string         `db:"exam_id" json:"exam_id"`
	Mode            SchedulingMode `db:"mode" json:"mode"`
	StartsAt        *time.Time     `db:"starts_at" json:"starts_at,omitempty"`
	DurationMinutes *int           `db:"duration_minutes" json:"duration_minutes,omitempty"`
	Capacity        int            `db:"capacity" json:"capacity"`
	State           WindowState    `db:"state" json:"state"`
	Active          bool           `db:"active" json:"active"`
	Notes           *string        `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// Timed reports whether the window has a start instant and duration.
func (w ExamWindow) Timed() bool {
	return w.Mode == SchedulingModeTimed && w.StartsAt != nil && w.DurationMinutes != nil
}

// Bounds returns the start and end instants of a timed window.
func (w ExamWindow) Bounds() (start, end time.Time, ok bool) {
	if !w.Timed() {
		return time.Time{}, time.Time{}, false
	}
	start = *w.StartsAt
	return start, start.Add(time.Duration(*w.DurationMinutes) * time.Minute), true
}

// ExamWindowSummary adds the active enrollment count to a window.
type ExamWindowSummary struct {
	ExamWindow
	EnrolledCount int `db:"enrolled_count" json:"enrolled_count"`
}

// AvailableWindow is a window as listed to participants.
type AvailableWindow struct {
	ExamWindow
	EnrolledCount   int  `db:"enrolled_count" json:"enrolled_count"`
	SeatsLeft       int  `db:"-" json:"seats_left"`
	AlreadyEnrolled bool `db:"already_enrolled" json:"already_enrolled"`
}

// WindowFilter narrows window listings. Zero values do not filter.
type WindowFilter struct {
	OwnerID         string
	IDs             []string
	ExcludeFinished bool
}

// CreateWindowRequest is the payload for creating a window.
type CreateWindowRequest struct {
	ExamID          string         `json:"exam_id" validate:"required"`
	Mode            SchedulingMode `json:"mode" validate:"required,oneof=TIMED OPEN_ENDED"`
	StartsAt        *time.Time     `json:"starts_at"`
	DurationMinutes *int           `json:"duration_minutes" validate:"omitempty,min=1,max=1440"`
	Capacity        int            `json:"capacity" validate:"required,min=1,max=10000"`
	Notes           *string        `json:"notes" validate:"omitempty,max=1000"`
	OwnerID         string         `json:"-"`
}

// UpdateWindowRequest edits the schedule, capacity or notes of a window.
type UpdateWindowRequest struct {
	StartsAt        *time.Time `json:"starts_at"`
	DurationMinutes *int       `json:"duration_minutes" validate:"omitempty,min=1,max=1440"`
	Capacity        *int       `json:"capacity" validate:"omitempty,min=1,max=10000"`
	Notes           *string    `json:"notes" validate:"omitempty,max=1000"`
}

// ManualStateRequest moves an open-ended window by hand.
type ManualStateRequest struct {
	State WindowState `json:"state" validate:"required,oneof=IN_PROGRESS FINISHED"`
}

// ChangeSource records what triggered a transition.
type ChangeSource string

const (
	ChangeSourceScheduler ChangeSource = "scheduler"
	ChangeSourceSweep     ChangeSource = "sweep"
	ChangeSourceCapacity  ChangeSource = "capacity"
	ChangeSourceManual    ChangeSource = "manual"
)

// StatusChange describes one applied transition.
type StatusChange struct {
	WindowID      string       `json:"window_id"`
	OwnerID       string       `json:"owner_id"`
	PreviousState WindowState  `json:"previous_state"`
	NewState      WindowState  `json:"new_state"`
	Timestamp     time.Time    `json:"timestamp"`
	Source        ChangeSource `json:"source"`
}
