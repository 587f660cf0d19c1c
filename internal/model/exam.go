package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft      ExamStatus = "DRAFT"
	ExamStatusPublished  ExamStatus = "PUBLISHED"
	ExamStatusInProgress ExamStatus = "IN_PROGRESS"
	ExamStatusCompleted  ExamStatus = "COMPLETED"
	ExamStatusArchived   ExamStatus = "ARCHIVED"
)

// Exam represents a proctored exam as consumed by the attempt runtime.
// Authoring and publishing happen in the portal; this service only reads.
type Exam struct {
	ID                  uuid.UUID     `json:"id"`
	Title               string        `json:"title"`
	DurationMinutes     int           `json:"duration_minutes"`
	EntryPasswordHash   string        `json:"-"`
	Status              ExamStatus    `json:"status"`
	RandomizeQuestions  bool          `json:"randomize_questions"`
	RandomizeOptions    bool          `json:"randomize_options"`
	AutoSubmitOnTimeout bool          `json:"auto_submit_on_timeout"`
	Policy              ProctorPolicy `json:"policy"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// ProctorPolicy configures the integrity requirements for one exam.
// Each capability can be required or optional independently.
type ProctorPolicy struct {
	RequireWebcam      bool `json:"require_webcam"`
	RequireScreenShare bool `json:"require_screen_share"`
	RequireFullscreen  bool `json:"require_fullscreen"`

	// GracePeriodSeconds is the window after monitoring starts during
	// which capability loss is tolerated. Granting screen share
	// programmatically drops fullscreen, so this can never be zero in
	// practice.
	GracePeriodSeconds int `json:"grace_period_seconds"`

	// FullscreenCountdownSeconds is how long the student has to re-enter
	// fullscreen after leaving it before a violation is logged.
	FullscreenCountdownSeconds int `json:"fullscreen_countdown_seconds"`

	ViolationThreshold    int  `json:"violation_threshold"`
	DisqualifyOnThreshold bool `json:"disqualify_on_threshold"`
}

// DefaultProctorPolicy returns the policy applied when an exam has none.
func DefaultProctorPolicy() ProctorPolicy {
	return ProctorPolicy{
		RequireWebcam:              true,
		RequireScreenShare:         true,
		RequireFullscreen:          true,
		GracePeriodSeconds:         60,
		FullscreenCountdownSeconds: 15,
		ViolationThreshold:         10,
		DisqualifyOnThreshold:      false,
	}
}

// ExamPayload is the Redis-cached payload the runtime works from.
// Correct answer keys are included because the runtime remaps them into
// shuffled option space at render time; the payload is never sent to the
// student as-is.
type ExamPayload struct {
	ExamID    uuid.UUID  `json:"exam_id"`
	Title     string     `json:"title"`
	Duration  int        `json:"duration_minutes"`
	Questions []Question `json:"questions"`
}
