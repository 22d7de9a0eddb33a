package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/exam-window-api/internal/models"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func timedWindow(id, owner string, start time.Time, minutes, capacity int) *models.ExamWindow {
	return &models.ExamWindow{
		ID:              id,
		OwnerID:         owner,
		ExamID:          "exam-" + id,
		Mode:            models.SchedulingModeTimed,
		StartsAt:        timePtr(start),
		DurationMinutes: intPtr(minutes),
		Capacity:        capacity,
		State:           models.WindowStateScheduled,
		Active:          true,
	}
}

func openWindow(id, owner string, capacity int) *models.ExamWindow {
	return &models.ExamWindow{
		ID:       id,
		OwnerID:  owner,
		ExamID:   "exam-" + id,
		Mode:     models.SchedulingModeOpenEnded,
		Capacity: capacity,
		State:    models.WindowStateScheduled,
		Active:   true,
	}
}

// memoryStore is an in-memory stand-in for both repositories.
type memoryStore struct {
	mu          sync.Mutex
	windows     map[string]*models.ExamWindow
	enrollments map[string]*models.Enrollment
	seq         int

	failStateWrites int
	stateWrites     int
}

func newMemoryStore(windows ...*models.ExamWindow) *memoryStore {
	s := &memoryStore{windows: make(map[string]*models.ExamWindow), enrollments: make(map[string]*models.Enrollment)}
	for _, w := range windows {
		s.windows[w.ID] = w
	}
	return s
}

func (s *memoryStore) state(id string) models.WindowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windows[id].State
}

func (s *memoryStore) setState(id string, state models.WindowState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[id].State = state
}

func (s *memoryStore) setStart(id string, start time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[id].StartsAt = timePtr(start)
}

func (s *memoryStore) GetWindow(ctx context.Context, id string) (*models.ExamWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *w
	return &cp, nil
}

func (s *memoryStore) UpdateWindowState(ctx context.Context, current models.ExamWindow, to models.WindowState, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateWrites++
	if s.failStateWrites > 0 {
		s.failStateWrites--
		return false, errors.New("connection reset")
	}
	w, ok := s.windows[current.ID]
	if !ok || w.State != current.State || !sameSchedule(*w, current) {
		return false, nil
	}
	w.State = to
	w.UpdatedAt = at
	return true, nil
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func sameSchedule(a, b models.ExamWindow) bool {
	if a.Capacity != b.Capacity || (a.StartsAt == nil) != (b.StartsAt == nil) || (a.DurationMinutes == nil) != (b.DurationMinutes == nil) {
		return false
	}
	if a.StartsAt != nil && !a.StartsAt.Equal(*b.StartsAt) {
		return false
	}
	return a.DurationMinutes == nil || *a.DurationMinutes == *b.DurationMinutes
}

func (s *memoryStore) ListPlannable(ctx context.Context, from, to time.Time) ([]models.ExamWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ExamWindow
	for _, w := range s.sortedLocked() {
		start, end, ok := w.Bounds()
		if !ok || w.State == models.WindowStateFinished {
			continue
		}
		inRange := func(t time.Time) bool { return !t.Before(from) && !t.After(to) }
		if inRange(start) || inRange(end) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *memoryStore) ListWindows(ctx context.Context, filter models.WindowFilter) ([]models.ExamWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ExamWindow
	for _, w := range s.sortedLocked() {
		if filter.OwnerID != "" && w.OwnerID != filter.OwnerID {
			continue
		}
		if filter.ExcludeFinished && w.State == models.WindowStateFinished {
			continue
		}
		if len(filter.IDs) > 0 && !containsID(filter.IDs, w.ID) {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (s *memoryStore) ListSummariesByOwner(ctx context.Context, ownerID string) ([]models.ExamWindowSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ExamWindowSummary
	for _, w := range s.sortedLocked() {
		if w.OwnerID == ownerID {
			out = append(out, models.ExamWindowSummary{ExamWindow: w, EnrolledCount: s.activeLocked(w.ID)})
		}
	}
	return out, nil
}

func (s *memoryStore) ListAvailable(ctx context.Context, participantID string, now time.Time) ([]models.AvailableWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AvailableWindow
	for _, w := range s.sortedLocked() {
		if !w.Active || w.State.Started() {
			continue
		}
		count := s.activeLocked(w.ID)
		out = append(out, models.AvailableWindow{ExamWindow: w, EnrolledCount: count, SeatsLeft: w.Capacity - count})
	}
	return out, nil
}

func (s *memoryStore) Create(ctx context.Context, window *models.ExamWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	window.ID = fmt.Sprintf("w-%d", s.seq)
	cp := *window
	s.windows[window.ID] = &cp
	return nil
}

func (s *memoryStore) Update(ctx context.Context, window *models.ExamWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[window.ID]
	if !ok {
		return sql.ErrNoRows
	}
	w.StartsAt, w.DurationMinutes, w.Capacity, w.Notes = window.StartsAt, window.DurationMinutes, window.Capacity, window.Notes
	return nil
}

func (s *memoryStore) SetActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[id].Active = active
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.enrollments {
		if e.WindowID == id {
			return false, nil
		}
	}
	delete(s.windows, id)
	return true, nil
}

func (s *memoryStore) Enroll(ctx context.Context, windowID, participantID string, at time.Time, guard models.EnrollmentGuard) (*models.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[windowID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	var existing *models.Enrollment
	for _, e := range s.enrollments {
		if e.WindowID == windowID && e.ParticipantID == participantID {
			cp := *e
			existing = &cp
		}
	}
	if guard != nil {
		if err := guard(*w, s.activeLocked(windowID), existing); err != nil {
			return nil, err
		}
	}
	if existing != nil {
		e := s.enrollments[existing.ID]
		e.EnrolledAt, e.CancelledAt, e.Attended = at, nil, nil
		cp := *e
		return &cp, nil
	}
	s.seq++
	e := &models.Enrollment{ID: fmt.Sprintf("e-%d", s.seq), WindowID: windowID, ParticipantID: participantID, EnrolledAt: at}
	s.enrollments[e.ID] = e
	cp := *e
	return &cp, nil
}

func (s *memoryStore) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	w := s.windows[e.WindowID]
	return &models.EnrollmentDetail{
		Enrollment:      *e,
		ExamID:          w.ExamID,
		OwnerID:         w.OwnerID,
		Mode:            w.Mode,
		StartsAt:        w.StartsAt,
		DurationMinutes: w.DurationMinutes,
		WindowState:     w.State,
	}, nil
}

func (s *memoryStore) Cancel(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok || e.CancelledAt != nil {
		return false, nil
	}
	e.CancelledAt = timePtr(at)
	return true, nil
}

func (s *memoryStore) SetAttendance(ctx context.Context, id string, attended bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrollments[id].Attended = &attended
	return nil
}

func (s *memoryStore) CountActive(ctx context.Context, windowID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(windowID), nil
}

func (s *memoryStore) CountActiveByWindows(ctx context.Context, windowIDs []string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int, len(windowIDs))
	for _, id := range windowIDs {
		if n := s.activeLocked(id); n > 0 {
			counts[id] = n
		}
	}
	return counts, nil
}

func (s *memoryStore) CountAll(ctx context.Context, windowID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.enrollments {
		if e.WindowID == windowID {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) ListByWindow(ctx context.Context, windowID string) ([]models.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Enrollment
	for _, e := range s.enrollments {
		if e.WindowID == windowID && e.Active() {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) ListByParticipant(ctx context.Context, participantID string) ([]models.EnrollmentDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EnrollmentDetail
	for _, e := range s.enrollments {
		if e.ParticipantID == participantID && e.Active() {
			out = append(out, models.EnrollmentDetail{Enrollment: *e, WindowState: s.windows[e.WindowID].State})
		}
	}
	return out, nil
}

func (s *memoryStore) activeLocked(windowID string) int {
	n := 0
	for _, e := range s.enrollments {
		if e.WindowID == windowID && e.Active() {
			n++
		}
	}
	return n
}

func (s *memoryStore) sortedLocked() []models.ExamWindow {
	out := make([]models.ExamWindow, 0, len(s.windows))
	for _, w := range s.windows {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type publishedBatch struct {
	ownerID string
	changes []models.StatusChange
}

type recordingObserver struct {
	mu      sync.Mutex
	batches []publishedBatch
}

func (o *recordingObserver) Publish(ownerID string, changes []models.StatusChange) {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := make([]models.StatusChange, len(changes))
	copy(cp, changes)
	o.batches = append(o.batches, publishedBatch{ownerID: ownerID, changes: cp})
}

func (o *recordingObserver) Batches() []publishedBatch {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]publishedBatch, len(o.batches))
	copy(out, o.batches)
	return out
}

func (o *recordingObserver) States(windowID string) []models.WindowState {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []models.WindowState
	for _, b := range o.batches {
		for _, c := range b.changes {
			if c.WindowID == windowID {
				out = append(out, c.NewState)
			}
		}
	}
	return out
}
