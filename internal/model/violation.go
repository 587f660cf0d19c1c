package model

import "time"

// ViolationType identifies a detected breach of exam-integrity policy.
type ViolationType string

const (
	ViolationTabSwitch      ViolationType = "tab_switch"
	ViolationWindowBlur     ViolationType = "window_blur"
	ViolationCopyPaste      ViolationType = "copy_paste"
	ViolationRightClick     ViolationType = "right_click"
	ViolationScreenshotKey  ViolationType = "screenshot_key"
	ViolationDevtoolsKey    ViolationType = "devtools_key"
	ViolationWebcamOff      ViolationType = "webcam_off"
	ViolationScreenShareOff ViolationType = "screenshare_off"
	ViolationFullscreenExit ViolationType = "fullscreen_exit"
)

// Violation is one append-only log entry. Entries are never mutated or
// deleted once recorded.
type Violation struct {
	Type       ViolationType `json:"type"`
	Details    string        `json:"details"`
	RecordedAt time.Time     `json:"recorded_at"`
}
