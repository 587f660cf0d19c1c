// Package answers tracks per-question answer state for a running attempt:
// local edits, explicit saves, multi-select toggling and the revert rule
// for abandoned edits. Values are kept in authored option space; the
// attempt runtime translates to and from the displayed order.
package answers

import (
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aksara-lms/proctor-backend/internal/model"
)

// ErrReadOnly is returned for edits to a saved answer when the exam policy
// forbids updating after save.
var ErrReadOnly = errors.New("answer already saved and locked")

// ErrUnknownQuestion is returned for a question id outside the attempt.
var ErrUnknownQuestion = errors.New("question not in this attempt")

type questionMeta struct {
	qtype         model.QuestionType
	allowUpdate   bool
	allowSeeAfter bool
}

// Manager owns the answer set of one attempt. Like the rest of the attempt
// runtime's parts it is not goroutine-safe; the runtime serializes access.
type Manager struct {
	meta   map[uuid.UUID]questionMeta
	states map[uuid.UUID]*model.AnswerState
	log    zerolog.Logger
}

func NewManager(questions []model.Question, log zerolog.Logger) *Manager {
	m := &Manager{
		meta:   make(map[uuid.UUID]questionMeta, len(questions)),
		states: make(map[uuid.UUID]*model.AnswerState, len(questions)),
		log:    log.With().Str("component", "answer_manager").Logger(),
	}
	for _, q := range questions {
		m.meta[q.ID] = questionMeta{
			qtype:         q.QuestionType,
			allowUpdate:   q.AllowUpdateAfterSubmit,
			allowSeeAfter: q.AllowSeeAfterSubmit,
		}
		m.states[q.ID] = &model.AnswerState{QuestionID: q.ID}
	}
	return m
}

// Restore loads previously saved answers on resume. Unknown question ids
// are skipped; they belong to a stale exam revision.
func (m *Manager) Restore(saved []model.AnswerState) {
	for _, s := range saved {
		st, ok := m.states[s.QuestionID]
		if !ok {
			m.log.Warn().Str("question_id", s.QuestionID.String()).Msg("saved answer for unknown question, skipping")
			continue
		}
		st.CurrentValue = s.CurrentValue
		st.LastSubmittedValue = s.LastSubmittedValue
		st.Submitted = s.Submitted
	}
}

func (m *Manager) editable(meta questionMeta, st *model.AnswerState) bool {
	return !st.Submitted || meta.allowUpdate
}

// Edit replaces the local value of a question. Single-choice and essay
// values replace wholesale; multi-choice callers go through ToggleChoice.
// The save state is untouched.
func (m *Manager) Edit(questionID uuid.UUID, value string) (*model.AnswerState, error) {
	meta, ok := m.meta[questionID]
	if !ok {
		return nil, ErrUnknownQuestion
	}
	st := m.states[questionID]
	if !m.editable(meta, st) {
		return nil, ErrReadOnly
	}
	st.CurrentValue = value
	return st, nil
}

// ToggleChoice flips one option's membership in a multi-choice value. The
// stored form is canonical: de-duplicated keys joined by commas in sorted
// order, so the same selection always serializes identically.
func (m *Manager) ToggleChoice(questionID uuid.UUID, key string) (*model.AnswerState, error) {
	meta, ok := m.meta[questionID]
	if !ok {
		return nil, ErrUnknownQuestion
	}
	st := m.states[questionID]
	if !m.editable(meta, st) {
		return nil, ErrReadOnly
	}

	selected := make(map[string]bool)
	for _, k := range strings.Split(st.CurrentValue, ",") {
		if k = strings.TrimSpace(k); k != "" {
			selected[k] = true
		}
	}
	if selected[key] {
		delete(selected, key)
	} else {
		selected[key] = true
	}

	keys := make([]string, 0, len(selected))
	for k := range selected {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	st.CurrentValue = strings.Join(keys, ",")
	return st, nil
}

// Save stamps the current value as submitted. Saving an already-saved
// question when updates are locked returns ErrReadOnly rather than
// silently restamping.
func (m *Manager) Save(questionID uuid.UUID) (*model.AnswerState, error) {
	meta, ok := m.meta[questionID]
	if !ok {
		return nil, ErrUnknownQuestion
	}
	st := m.states[questionID]
	if !m.editable(meta, st) {
		return nil, ErrReadOnly
	}
	st.LastSubmittedValue = st.CurrentValue
	st.Submitted = true
	return st, nil
}

// NavigateAway applies the revert rule when the student leaves a question:
// a saved answer with an unsaved edit snaps back to its last saved value,
// so what the grader sees is always something the student confirmed.
// Returns true if a revert happened.
func (m *Manager) NavigateAway(questionID uuid.UUID) bool {
	st, ok := m.states[questionID]
	if !ok {
		return false
	}
	if st.Dirty() {
		m.log.Debug().Str("question_id", questionID.String()).Msg("reverting unsaved edit on navigation")
		st.CurrentValue = st.LastSubmittedValue
		return true
	}
	return false
}

// Drafts returns the answers eligible for inactivity autosave: non-empty
// values that were never explicitly saved. Saved-then-edited answers are
// excluded, the revert rule governs those.
func (m *Manager) Drafts() []model.AnswerState {
	var out []model.AnswerState
	for _, st := range m.states {
		if !st.Submitted && st.CurrentValue != "" {
			out = append(out, *st)
		}
	}
	return out
}

// State returns the answer record for one question.
func (m *Manager) State(questionID uuid.UUID) (*model.AnswerState, error) {
	st, ok := m.states[questionID]
	if !ok {
		return nil, ErrUnknownQuestion
	}
	return st, nil
}

// Visible reports whether the question may still be shown to the student.
func (m *Manager) Visible(questionID uuid.UUID) bool {
	meta, ok := m.meta[questionID]
	if !ok {
		return false
	}
	st := m.states[questionID]
	return !st.Submitted || meta.allowSeeAfter
}

// All snapshots every answer record for final packaging.
func (m *Manager) All() []model.AnswerState {
	out := make([]model.AnswerState, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, *st)
	}
	return out
}

// AnsweredCount counts saved answers, for the invigilator progress view.
func (m *Manager) AnsweredCount() int {
	n := 0
	for _, st := range m.states {
		if st.Submitted {
			n++
		}
	}
	return n
}
