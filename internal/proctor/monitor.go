// Package proctor implements the exam integrity state machine: permission
// lifecycles, the grace period, violation counting, and the block /
// disqualify decisions. The monitor holds no timers and does no I/O — the
// attempt runtime drives it and schedules the deadlines it asks for, which
// keeps every transition directly testable.
package proctor

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/aksara-lms/proctor-backend/internal/model"
)

// State is the monitor's tagged state. Exactly one is active at a time;
// the fullscreen countdown is a sub-state flag because fullscreen can be
// restored by the student without a reload, unlike stream loss.
type State string

const (
	StateGranting     State = "granting_permissions"
	StateGracePeriod  State = "grace_period"
	StateMonitoring   State = "monitoring"
	StateBlocked      State = "blocked"
	StateDisqualified State = "disqualified"
)

// Capability is a monitored browser capability.
type Capability string

const (
	CapWebcam      Capability = "webcam"
	CapScreenShare Capability = "screenshare"
	CapFullscreen  Capability = "fullscreen"
)

// ErrPermissionMissing is returned when monitoring cannot start because a
// required capability has not been granted; the student is routed back to
// the permission-grant screen.
var ErrPermissionMissing = errors.New("required capability not granted")

// Directive tells the runtime what side effect a transition needs.
type Directive int

const (
	DirectiveNone Directive = iota
	// DirectiveStartFullscreenCountdown asks the runtime to schedule the
	// fullscreen re-entry deadline.
	DirectiveStartFullscreenCountdown
	// DirectiveCancelFullscreenCountdown cancels a pending deadline.
	DirectiveCancelFullscreenCountdown
	// DirectiveForceSubmit fires exactly once, at the violation threshold
	// of an exam configured to disqualify.
	DirectiveForceSubmit
)

// Monitor is the per-attempt integrity state machine. It is not
// goroutine-safe: the attempt runtime serializes all access.
type Monitor struct {
	policy model.ProctorPolicy
	state  State

	active map[Capability]bool

	blockReason         Capability
	fullscreenCountdown bool

	violations     []model.Violation
	violationCount int

	forcedSubmit      bool
	submissionStarted bool

	now func() time.Time
	log zerolog.Logger
}

// NewMonitor creates a monitor in the granting_permissions state.
func NewMonitor(policy model.ProctorPolicy, log zerolog.Logger) *Monitor {
	return &Monitor{
		policy: policy,
		state:  StateGranting,
		active: make(map[Capability]bool),
		now:    time.Now,
		log:    log.With().Str("component", "proctor_monitor").Logger(),
	}
}

// RestoreCount seeds the violation count on attempt resume. The entries
// themselves already sit in the persistence queue; only the running count
// matters for the threshold.
func (m *Monitor) RestoreCount(n int) {
	if n > m.violationCount {
		m.violationCount = n
	}
}

// State returns the current tagged state.
func (m *Monitor) State() State { return m.state }

// ViolationCount returns the accumulated violation count.
func (m *Monitor) ViolationCount() int { return m.violationCount }

// Violations returns a copy of the append-only violation log.
func (m *Monitor) Violations() []model.Violation {
	out := make([]model.Violation, len(m.violations))
	copy(out, m.violations)
	return out
}

// required reports whether the policy marks a capability as required.
func (m *Monitor) required(cap Capability) bool {
	switch cap {
	case CapWebcam:
		return m.policy.RequireWebcam
	case CapScreenShare:
		return m.policy.RequireScreenShare
	case CapFullscreen:
		return m.policy.RequireFullscreen
	}
	return false
}

// GrantCapability records a capability grant during the permission phase
// or a restoration later on. Restoring fullscreen while its countdown is
// open cancels the countdown with no penalty.
func (m *Monitor) GrantCapability(cap Capability) Directive {
	if m.submissionStarted {
		return DirectiveNone
	}
	m.active[cap] = true

	if cap == CapFullscreen && m.fullscreenCountdown {
		m.fullscreenCountdown = false
		return DirectiveCancelFullscreenCountdown
	}
	return DirectiveNone
}

// StartMonitoring leaves the permission phase. Every required capability
// must be active; otherwise the caller routes back to the grant screen.
// On success the monitor enters the grace period and the caller schedules
// GraceExpired after policy.GracePeriodSeconds.
func (m *Monitor) StartMonitoring() error {
	for _, cap := range []Capability{CapWebcam, CapScreenShare, CapFullscreen} {
		if m.required(cap) && !m.active[cap] {
			return ErrPermissionMissing
		}
	}
	m.state = StateGracePeriod
	m.log.Info().Int("grace_seconds", m.policy.GracePeriodSeconds).Msg("grace period started")
	return nil
}

// GraceExpired ends the grace period. If a required capability is missing
// at that instant the monitor blocks immediately; otherwise it starts
// monitoring.
func (m *Monitor) GraceExpired() {
	if m.submissionStarted || m.state != StateGracePeriod {
		return
	}
	m.state = StateMonitoring
	for _, cap := range []Capability{CapWebcam, CapScreenShare} {
		if m.required(cap) && !m.active[cap] {
			m.block(cap)
			return
		}
	}
	if m.policy.RequireFullscreen && !m.active[CapFullscreen] {
		m.block(CapFullscreen)
	}
}

// CapabilityLost handles loss of a monitored capability. During the grace
// period loss is tolerated — granting screen share programmatically drops
// fullscreen, and that must not penalize the student. Afterwards, losing a
// required stream blocks immediately and logs one violation; losing
// fullscreen opens the re-entry countdown instead, because the student can
// restore it without reloading.
func (m *Monitor) CapabilityLost(cap Capability) (Directive, *model.Violation) {
	if m.submissionStarted || m.state == StateDisqualified {
		return DirectiveNone, nil
	}
	m.active[cap] = false

	if m.state == StateGranting || m.state == StateGracePeriod {
		m.log.Debug().Str("capability", string(cap)).Msg("capability loss tolerated in grace period")
		return DirectiveNone, nil
	}

	if cap == CapFullscreen {
		if !m.policy.RequireFullscreen || m.fullscreenCountdown {
			return DirectiveNone, nil
		}
		m.fullscreenCountdown = true
		return DirectiveStartFullscreenCountdown, nil
	}

	var vtype model.ViolationType
	switch cap {
	case CapWebcam:
		vtype = model.ViolationWebcamOff
	case CapScreenShare:
		vtype = model.ViolationScreenShareOff
	}
	v := m.appendViolation(vtype, "stream ended")

	if m.required(cap) {
		m.block(cap)
	}
	// The loss violation counts toward the threshold like any other; the
	// disqualification check must run even though the state just moved to
	// blocked.
	return m.thresholdDirective(), v
}

// FullscreenCountdownExpired fires when the re-entry window closes without
// restoration: one violation is logged and the remediation overlay stays
// up, unless the violation crosses the threshold and disqualifies. A
// countdown already cancelled by re-entry is a no-op.
func (m *Monitor) FullscreenCountdownExpired() (Directive, *model.Violation) {
	if m.submissionStarted || !m.fullscreenCountdown {
		return DirectiveNone, nil
	}
	m.fullscreenCountdown = false
	v := m.appendViolation(model.ViolationFullscreenExit, "fullscreen not restored in time")
	m.block(CapFullscreen)
	return m.thresholdDirective(), v
}

// Continue is the student's manual resume after restoring capabilities.
// It clears the overlay but does not forgive the time already lost.
func (m *Monitor) Continue() bool {
	if m.state != StateBlocked {
		return false
	}
	for _, cap := range []Capability{CapWebcam, CapScreenShare, CapFullscreen} {
		if m.required(cap) && !m.active[cap] {
			return false
		}
	}
	m.state = StateMonitoring
	m.blockReason = ""
	m.log.Info().Msg("student resumed after remediation")
	return true
}

// RecordViolation appends one policy-breach entry and applies the
// disqualification rule. The forced submission directive is returned
// exactly once even if several violations cross the threshold in the same
// tick.
func (m *Monitor) RecordViolation(vtype model.ViolationType, details string) (Directive, *model.Violation) {
	if m.submissionStarted || m.state == StateDisqualified {
		return DirectiveNone, nil
	}
	v := m.appendViolation(vtype, details)
	return m.thresholdDirective(), v
}

func (m *Monitor) appendViolation(vtype model.ViolationType, details string) *model.Violation {
	v := model.Violation{Type: vtype, Details: details, RecordedAt: m.now()}
	m.violations = append(m.violations, v)
	m.violationCount++
	m.log.Info().
		Str("type", string(vtype)).
		Int("count", m.violationCount).
		Msg("violation recorded")
	return &v
}

func (m *Monitor) thresholdDirective() Directive {
	if !m.policy.DisqualifyOnThreshold || m.policy.ViolationThreshold <= 0 {
		return DirectiveNone
	}
	if m.violationCount < m.policy.ViolationThreshold || m.forcedSubmit {
		return DirectiveNone
	}
	m.forcedSubmit = true
	m.state = StateDisqualified
	m.log.Warn().Int("count", m.violationCount).Msg("violation threshold reached, disqualifying")
	return DirectiveForceSubmit
}

func (m *Monitor) block(reason Capability) {
	m.state = StateBlocked
	m.blockReason = reason
	m.log.Warn().Str("capability", string(reason)).Msg("attempt blocked")
}

// BeginSubmission freezes the monitor. Every later callback — capability
// events, countdown expiries, violation reports — becomes a no-op.
func (m *Monitor) BeginSubmission() {
	m.submissionStarted = true
}

// Snapshot builds the UI-facing proctoring status.
func (m *Monitor) Snapshot() model.ProctoringState {
	return model.ProctoringState{
		State:               string(m.state),
		WebcamActive:        m.active[CapWebcam],
		ScreenShareActive:   m.active[CapScreenShare],
		FullscreenActive:    m.active[CapFullscreen],
		InGracePeriod:       m.state == StateGracePeriod,
		Blocked:             m.state == StateBlocked,
		BlockReason:         string(m.blockReason),
		FullscreenCountdown: m.fullscreenCountdown,
		ViolationCount:      m.violationCount,
	}
}
