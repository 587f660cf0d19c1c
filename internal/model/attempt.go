package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt states.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusSubmitted  AttemptStatus = "SUBMITTED"
)

// EndReason records why an attempt finished.
type EndReason string

const (
	EndReasonStudent      EndReason = "student_submit"
	EndReasonTimeout      EndReason = "timeout"
	EndReasonDisqualified EndReason = "disqualified"
)

// Attempt represents a student's run at one exam. Owned exclusively by the
// attempt runtime for its lifetime; handlers never mutate it directly.
type Attempt struct {
	ID               uuid.UUID     `json:"id"`
	ExamID           uuid.UUID     `json:"exam_id"`
	StudentID        int           `json:"student_id"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       *time.Time    `json:"finished_at,omitempty"`
	Status           AttemptStatus `json:"status"`
	TimeSpentSeconds int           `json:"time_spent_seconds"`
	EndReason        *EndReason    `json:"end_reason,omitempty"`
}

// AnswerState is the per-question answer lifecycle record. Values are kept
// in authored option space.
//
// Invariant: when Submitted is true and CurrentValue == LastSubmittedValue
// the answer is clean; if they diverge the UI must resubmit or the runtime
// reverts on navigation — the last submitted value is never silently lost.
type AnswerState struct {
	QuestionID         uuid.UUID `json:"question_id"`
	CurrentValue       string    `json:"current_value"`
	LastSubmittedValue string    `json:"last_submitted_value"`
	Submitted          bool      `json:"submitted"`
}

// Dirty reports whether a submitted answer has unsubmitted edits.
func (a *AnswerState) Dirty() bool {
	return a.Submitted && a.CurrentValue != a.LastSubmittedValue
}
