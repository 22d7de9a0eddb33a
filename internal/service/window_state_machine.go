package service

import (
	"time"

	"github.com/noah-isme/exam-window-api/internal/models"
)

// RuleSet selects which transition rules NextState evaluates.
type RuleSet uint8

const (
	// RuleTime covers the start and end instants of timed windows.
	RuleTime RuleSet = 1 << iota
	// RuleCapacity covers closing and reopening enrollment as seats fill or free up.
	RuleCapacity

	RulesTime     = RuleTime
	RulesCapacity = RuleCapacity
	RulesAll      = RuleTime | RuleCapacity
)

// Has reports whether r includes rule.
func (r RuleSet) Has(rule RuleSet) bool { return r&rule != 0 }

// windowTransitions lists every edge the lifecycle allows.
var windowTransitions = map[models.WindowState][]models.WindowState{
	models.WindowStateScheduled:        {models.WindowStateEnrollmentClosed, models.WindowStateInProgress, models.WindowStateFinished},
	models.WindowStateEnrollmentClosed: {models.WindowStateScheduled, models.WindowStateInProgress, models.WindowStateFinished},
	models.WindowStateInProgress:       {models.WindowStateFinished},
	models.WindowStateFinished:         {},
}

// CanTransition reports whether the lifecycle allows moving from one state to another.
func CanTransition(from, to models.WindowState) bool {
	for _, allowed := range windowTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// finishInstant is the first instant at which a timed window ending at end counts as finished.
func finishInstant(end time.Time) time.Time {
	return end.Add(time.Nanosecond)
}

// NextState computes the state a window should move to at now given its active enrollment count.
// It returns false when no rule applies. It performs no I/O and depends only on its arguments.
//
// Rules are evaluated in priority order: end of a timed window, start of a timed window, then
// capacity. A timed window is in progress from its start through its end instant inclusive.
// Open-ended windows are never moved by time. Once a timed window has started the capacity rule
// is ignored, so time-driven states always win.
func NextState(w models.ExamWindow, now time.Time, enrolled int, rules RuleSet) (models.WindowState, bool) {
	state := w.State
	if state == models.WindowStateFinished {
		return "", false
	}

	start, end, timed := w.Bounds()
	if timed && rules.Has(RuleTime) {
		if now.After(end) {
			return models.WindowStateFinished, true
		}
		if !now.Before(start) && state != models.WindowStateInProgress {
			return models.WindowStateInProgress, true
		}
	}

	if state == models.WindowStateInProgress || !rules.Has(RuleCapacity) {
		return "", false
	}
	if timed && !now.Before(start) {
		return "", false
	}

	switch state {
	case models.WindowStateScheduled:
		if enrolled >= w.Capacity {
			return models.WindowStateEnrollmentClosed, true
		}
	case models.WindowStateEnrollmentClosed:
		if enrolled < w.Capacity {
			return models.WindowStateScheduled, true
		}
	}
	return "", false
}
