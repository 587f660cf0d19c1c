package ws

import (
	"github.com/aksara-lms/proctor-backend/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswerEdit   Action = "answer_edit"
	ActionAnswerToggle Action = "answer_toggle"
	ActionAnswerSave   Action = "answer_save"
	ActionNavigate     Action = "navigate"
	ActionCapability   Action = "capability"
	ActionViolation    Action = "violation"
	ActionFrame        Action = "frame"
	ActionBeginExam    Action = "begin_exam"
	ActionContinue     Action = "continue"
	ActionSubmit       Action = "submit"
	ActionPing         Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerEditRequest updates the local value of one question.
type AnswerEditRequest struct {
	Action Action `json:"action"`
	QID    string `json:"q_id"`
	Value  string `json:"value"`
}

// AnswerToggleRequest flips one option in a multi-choice answer. Key is
// in displayed option space.
type AnswerToggleRequest struct {
	Action Action `json:"action"`
	QID    string `json:"q_id"`
	Key    string `json:"key"`
}

// AnswerSaveRequest confirms the current value of one question.
type AnswerSaveRequest struct {
	Action Action `json:"action"`
	QID    string `json:"q_id"`
}

// NavigateRequest reports the student moving between questions.
type NavigateRequest struct {
	Action  Action `json:"action"`
	FromQID string `json:"from_q_id"`
	ToQID   string `json:"to_q_id"`
}

// CapabilityRequest reports a browser capability grant or loss.
type CapabilityRequest struct {
	Action     Action `json:"action"`
	Capability string `json:"capability"` // webcam | screenshare | fullscreen
	Active     bool   `json:"active"`
}

// ViolationRequest reports a client-detected integrity event.
type ViolationRequest struct {
	Action  Action `json:"action"`
	Type    string `json:"type"`
	Details string `json:"details"`
}

// FrameRequest carries one captured frame. Data is the base64 JPEG body.
type FrameRequest struct {
	Action  Action `json:"action"`
	Stream  string `json:"stream"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Live    bool   `json:"live"`
	Visible bool   `json:"visible"`
	Trigger string `json:"trigger,omitempty"`
	Data    string `json:"data"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState          Event = "state"
	EventTime           Event = "time"
	EventProctorState   Event = "proctor_state"
	EventCaptureRequest Event = "capture_request"
	EventAnswerSaved    Event = "answer_saved"
	EventAnswerState    Event = "answer_state"
	EventBlocked        Event = "blocked"
	EventTimeUp         Event = "time_up"
	EventReleaseStreams Event = "release_streams"
	EventSubmitted      Event = "submitted"
	EventError          Event = "error"
	EventPong           Event = "pong"
)

// StateResponse is the full attempt snapshot sent on connect and resume.
type StateResponse struct {
	Event            Event                      `json:"event"`
	AttemptID        string                     `json:"attempt_id"`
	RemainingSeconds int                        `json:"remaining_seconds"`
	Questions        []model.QuestionForStudent `json:"questions"`
	Answers          []model.AnswerState        `json:"answers"`
	Proctor          model.ProctoringState      `json:"proctor"`
}

// TimeResponse carries the authoritative countdown.
type TimeResponse struct {
	Event            Event `json:"event"`
	RemainingSeconds int   `json:"remaining_seconds"`
}

// ProctorStateResponse mirrors the monitor after every transition.
type ProctorStateResponse struct {
	Event   Event                 `json:"event"`
	Proctor model.ProctoringState `json:"proctor"`
}

// CaptureRequestResponse asks the shell for a frame from one stream.
type CaptureRequestResponse struct {
	Event   Event  `json:"event"`
	Stream  string `json:"stream"`
	Trigger string `json:"trigger"`
}

// AnswerSavedResponse acknowledges a save.
type AnswerSavedResponse struct {
	Event Event  `json:"event"`
	QID   string `json:"q_id"`
}

// AnswerStateResponse pushes one answer record, e.g. after a revert.
type AnswerStateResponse struct {
	Event  Event             `json:"event"`
	Answer model.AnswerState `json:"answer"`
}

// BlockedResponse tells the shell to show the remediation overlay.
type BlockedResponse struct {
	Event  Event  `json:"event"`
	Reason string `json:"reason"`
}

// TimeUpResponse signals timer zero on exams without auto-submit.
type TimeUpResponse struct {
	Event Event `json:"event"`
}

// ReleaseStreamsResponse tells the shell to stop media tracks and exit
// fullscreen; sent during the submission sequence.
type ReleaseStreamsResponse struct {
	Event Event `json:"event"`
}

// SubmittedResponse is the terminal event of an attempt.
type SubmittedResponse struct {
	Event            Event  `json:"event"`
	Reason           string `json:"reason"`
	TimeSpentSeconds int    `json:"time_spent_seconds"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
