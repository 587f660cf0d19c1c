package model

// ProctoringState is the live proctoring status pushed to the UI; it drives
// the blocking overlay.
type ProctoringState struct {
	State             string `json:"state"`
	WebcamActive      bool   `json:"webcam_active"`
	ScreenShareActive bool   `json:"screen_share_active"`
	FullscreenActive  bool   `json:"fullscreen_active"`
	InGracePeriod     bool   `json:"in_grace_period"`
	Blocked           bool   `json:"blocked"`
	BlockReason       string `json:"block_reason,omitempty"`
	// FullscreenCountdown is true while the 15s re-entry window is open.
	FullscreenCountdown bool `json:"fullscreen_countdown"`
	ViolationCount      int  `json:"violation_count"`
}
