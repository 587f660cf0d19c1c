// Package attempt hosts the per-attempt runtime: the authoritative exam
// countdown, the proctoring monitor, the answer set and the evidence
// pipeline for one student's run, plus the registry that owns runtime
// lifecycles. The browser shell is a thin event source; everything that
// decides the attempt's fate lives here.
package attempt

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aksara-lms/proctor-backend/internal/answers"
	"github.com/aksara-lms/proctor-backend/internal/evidence"
	"github.com/aksara-lms/proctor-backend/internal/model"
	"github.com/aksara-lms/proctor-backend/internal/proctor"
	"github.com/aksara-lms/proctor-backend/internal/shuffle"
	"github.com/aksara-lms/proctor-backend/internal/ws"
)

// Sink delivers server events to the connected browser shell. A nil sink
// (student between reconnects) drops events; the full state snapshot on
// reattach covers the gap.
type Sink interface {
	Emit(v interface{})
}

// Persister is the write-behind persistence surface: Redis hot state plus
// the durable worker queues.
type Persister interface {
	SaveAnswer(ctx context.Context, attempt *model.Attempt, st model.AnswerState) error
	RecordViolation(ctx context.Context, attempt *model.Attempt, v model.Violation) error
	Finalize(ctx context.Context, attempt *model.Attempt, answers []model.AnswerState, violations []model.Violation) error
}

// autosaveDelay is the inactivity window before an unsaved draft is
// persisted on the student's behalf.
const autosaveDelay = 30 * time.Second

// Runtime owns one attempt. Every inbound event and every timer callback
// funnels through mu, so the monitor, answer set and submission sequence
// never race each other.
type Runtime struct {
	mu sync.Mutex

	attempt   *model.Attempt
	exam      *model.Exam
	questions []model.RenderedQuestion
	byID      map[uuid.UUID]*model.RenderedQuestion

	answers   *answers.Manager
	monitor   *proctor.Monitor
	scheduler *evidence.Scheduler
	queue     *evidence.Queue

	persister Persister
	sink      Sink

	ctx    context.Context
	cancel context.CancelFunc

	graceTimer      *time.Timer
	fullscreenTimer *time.Timer
	autosaveTimer   *time.Timer
	tickerStop      chan struct{}

	submitted  bool
	timeUpSent bool

	onFinished func(attemptID uuid.UUID)

	now func() time.Time
	log zerolog.Logger
}

// Deps wires a Runtime. The registry builds these; tests build them by
// hand with fakes.
type Deps struct {
	Attempt   *model.Attempt
	Exam      *model.Exam
	Questions []model.RenderedQuestion
	Saved     []model.AnswerState
	// PriorViolations seeds the violation count on resume.
	PriorViolations int

	Pools     map[evidence.StreamType]*evidence.SlotPool
	Uploader  evidence.Uploader
	Limits    evidence.SizeLimits
	Persister Persister
	OnFinish  func(attemptID uuid.UUID)
	Log       zerolog.Logger
}

func NewRuntime(d Deps) *Runtime {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Runtime{
		attempt:    d.Attempt,
		exam:       d.Exam,
		questions:  d.Questions,
		byID:       make(map[uuid.UUID]*model.RenderedQuestion, len(d.Questions)),
		persister:  d.Persister,
		ctx:        ctx,
		cancel:     cancel,
		tickerStop: make(chan struct{}),
		onFinished: d.OnFinish,
		now:        time.Now,
		log: d.Log.With().
			Str("component", "attempt_runtime").
			Str("attempt_id", d.Attempt.ID.String()).
			Int("student_id", d.Attempt.StudentID).
			Logger(),
	}
	for i := range r.questions {
		q := &r.questions[i]
		r.byID[q.ID] = q
	}

	plain := make([]model.Question, len(d.Questions))
	for i, q := range d.Questions {
		plain[i] = q.Question
	}
	r.answers = answers.NewManager(plain, r.log)
	r.answers.Restore(d.Saved)

	r.monitor = proctor.NewMonitor(d.Exam.Policy, r.log)
	r.monitor.RestoreCount(d.PriorViolations)

	r.queue = evidence.NewQueue(d.Uploader, r.log)
	r.scheduler = evidence.NewScheduler(d.Pools, r.queue, d.Limits, r.requestCapture, r.log)

	return r
}

// Start launches the background machinery: the upload queue and the
// countdown ticker. The capture timers start later, when monitoring does.
func (r *Runtime) Start() {
	go r.queue.Run(r.ctx)
	go r.runTicker()
}

// Attach binds the current WebSocket connection and pushes the full state
// snapshot, which is how both first connect and resume-after-reload work.
func (r *Runtime) Attach(sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
	r.emitLocked(r.stateLocked())
}

// Detach drops the sink on disconnect. Timers keep running: the countdown
// and the violation clock do not pause because the student closed the tab.
func (r *Runtime) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = nil
}

func (r *Runtime) emitLocked(v interface{}) {
	if r.sink != nil {
		r.sink.Emit(v)
	}
}

// ─── Countdown ──────────────────────────────────────────────────────

func (r *Runtime) runTicker() {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.tickerStop:
			return
		case <-t.C:
			r.tick()
		}
	}
}

func (r *Runtime) tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitted {
		return
	}

	remaining := r.remainingLocked()
	r.emitLocked(ws.TimeResponse{Event: ws.EventTime, RemainingSeconds: remaining})

	if remaining > 0 {
		return
	}
	if r.exam.AutoSubmitOnTimeout {
		r.submitLocked(model.EndReasonTimeout)
		return
	}
	if !r.timeUpSent {
		r.timeUpSent = true
		r.emitLocked(ws.TimeUpResponse{Event: ws.EventTimeUp})
		r.log.Info().Msg("time elapsed, waiting for manual submit")
	}
}

// remainingLocked derives the countdown from wall clock and the persisted
// start time, so reloads and reconnects cannot stretch the exam.
func (r *Runtime) remainingLocked() int {
	duration := time.Duration(r.exam.DurationMinutes) * time.Minute
	left := duration - r.now().Sub(r.attempt.StartedAt)
	if left < 0 {
		left = 0
	}
	return int(left.Seconds())
}

// ─── Proctoring ─────────────────────────────────────────────────────

// BeginExam leaves the permission phase: required capabilities are
// verified, the grace period starts and capture scheduling arms.
func (r *Runtime) BeginExam() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitted {
		return nil
	}
	if err := r.monitor.StartMonitoring(); err != nil {
		return err
	}
	grace := time.Duration(r.exam.Policy.GracePeriodSeconds) * time.Second
	r.graceTimer = time.AfterFunc(grace, r.onGraceExpired)
	r.scheduler.Start()
	r.emitLocked(ws.ProctorStateResponse{Event: ws.EventProctorState, Proctor: r.monitor.Snapshot()})
	return nil
}

func (r *Runtime) onGraceExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitted {
		return
	}
	r.monitor.GraceExpired()
	r.afterMonitorTransitionLocked()
}

// SetCapability applies a capability grant or loss reported by the shell.
func (r *Runtime) SetCapability(name string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitted {
		return
	}

	cap := proctor.Capability(name)
	switch cap {
	case proctor.CapWebcam, proctor.CapScreenShare, proctor.CapFullscreen:
	default:
		r.log.Warn().Str("capability", name).Msg("unknown capability ignored")
		return
	}

	if active {
		if dir := r.monitor.GrantCapability(cap); dir == proctor.DirectiveCancelFullscreenCountdown {
			r.stopTimerLocked(&r.fullscreenTimer)
		}
	} else {
		dir, v := r.monitor.CapabilityLost(cap)
		if v != nil {
			r.persistViolationLocked(*v)
		}
		switch dir {
		case proctor.DirectiveStartFullscreenCountdown:
			wait := time.Duration(r.exam.Policy.FullscreenCountdownSeconds) * time.Second
			r.fullscreenTimer = time.AfterFunc(wait, r.onFullscreenExpired)
		case proctor.DirectiveForceSubmit:
			r.emitLocked(ws.ProctorStateResponse{Event: ws.EventProctorState, Proctor: r.monitor.Snapshot()})
			r.submitLocked(model.EndReasonDisqualified)
			return
		}
	}
	r.afterMonitorTransitionLocked()
}

func (r *Runtime) onFullscreenExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitted {
		return
	}
	dir, v := r.monitor.FullscreenCountdownExpired()
	if v != nil {
		r.persistViolationLocked(*v)
	}
	if dir == proctor.DirectiveForceSubmit {
		r.emitLocked(ws.ProctorStateResponse{Event: ws.EventProctorState, Proctor: r.monitor.Snapshot()})
		r.submitLocked(model.EndReasonDisqualified)
		return
	}
	r.afterMonitorTransitionLocked()
}

// ReportViolation records a client-detected integrity event and asks the
// shell for a screen frame documenting the moment.
func (r *Runtime) ReportViolation(vtype model.ViolationType, details string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitted {
		return
	}

	dir, v := r.monitor.RecordViolation(vtype, details)
	if v != nil {
		r.persistViolationLocked(*v)
		r.emitLocked(ws.CaptureRequestResponse{
			Event:   ws.EventCaptureRequest,
			Stream:  string(evidence.StreamScreen),
			Trigger: string(vtype),
		})
	}
	if dir == proctor.DirectiveForceSubmit {
		r.emitLocked(ws.ProctorStateResponse{Event: ws.EventProctorState, Proctor: r.monitor.Snapshot()})
		r.submitLocked(model.EndReasonDisqualified)
		return
	}
	r.emitLocked(ws.ProctorStateResponse{Event: ws.EventProctorState, Proctor: r.monitor.Snapshot()})
}

// Continue is the student's resume action from the blocked overlay.
func (r *Runtime) Continue() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitted {
		return
	}
	if r.monitor.Continue() {
		r.emitLocked(ws.ProctorStateResponse{Event: ws.EventProctorState, Proctor: r.monitor.Snapshot()})
	}
}

// afterMonitorTransitionLocked pushes the monitor state and reacts to a
// terminal transition.
func (r *Runtime) afterMonitorTransitionLocked() {
	snap := r.monitor.Snapshot()
	r.emitLocked(ws.ProctorStateResponse{Event: ws.EventProctorState, Proctor: snap})
	if snap.Blocked {
		r.emitLocked(ws.BlockedResponse{Event: ws.EventBlocked, Reason: snap.BlockReason})
	}
}

func (r *Runtime) persistViolationLocked(v model.Violation) {
	if err := r.persister.RecordViolation(r.ctx, r.attempt, v); err != nil {
		r.log.Error().Err(err).Str("type", string(v.Type)).Msg("violation persist failed")
	}
}

// ─── Evidence ───────────────────────────────────────────────────────

// requestCapture is called by the capture scheduler's timers; it rides
// the sink to the shell.
func (r *Runtime) requestCapture(stream evidence.StreamType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitted {
		return
	}
	r.emitLocked(ws.CaptureRequestResponse{
		Event:   ws.EventCaptureRequest,
		Stream:  string(stream),
		Trigger: "periodic",
	})
}

// SubmitFrame admits one captured frame into the evidence pipeline.
func (r *Runtime) SubmitFrame(meta evidence.FrameMeta, blob []byte) bool {
	// No runtime lock: the scheduler and queue have their own locking and
	// freeze flags, and frame uploads must not stall answer events.
	return r.scheduler.SubmitFrame(r.ctx, meta, blob)
}

// ─── Answers ────────────────────────────────────────────────────────

// EditAnswer applies a local value change. Choice values arrive in
// displayed option space and are stored authored.
func (r *Runtime) EditAnswer(questionID uuid.UUID, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitted {
		return answers.ErrReadOnly
	}
	q, ok := r.byID[questionID]
	if !ok {
		return answers.ErrUnknownQuestion
	}
	if q.QuestionType == model.QuestionTypeSingleChoice {
		value = shuffle.ToAuthored(q.OptionOrder, value)
	}
	if _, err := r.answers.Edit(questionID, value); err != nil {
		return err
	}
	r.armAutosaveLocked()
	return nil
}

// ToggleAnswer flips one displayed option key in a multi-choice answer.
func (r *Runtime) ToggleAnswer(questionID uuid.UUID, displayedKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitted {
		return answers.ErrReadOnly
	}
	q, ok := r.byID[questionID]
	if !ok {
		return answers.ErrUnknownQuestion
	}
	key := shuffle.ToAuthored(q.OptionOrder, displayedKey)
	if _, err := r.answers.ToggleChoice(questionID, key); err != nil {
		return err
	}
	r.armAutosaveLocked()
	return nil
}

// SaveAnswer confirms the current value and persists it as submitted.
func (r *Runtime) SaveAnswer(questionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitted {
		return answers.ErrReadOnly
	}
	st, err := r.answers.Save(questionID)
	if err != nil {
		return err
	}
	if err := r.persister.SaveAnswer(r.ctx, r.attempt, *st); err != nil {
		r.log.Error().Err(err).Str("question_id", questionID.String()).Msg("answer persist failed")
	}
	r.emitLocked(ws.AnswerSavedResponse{Event: ws.EventAnswerSaved, QID: questionID.String()})
	return nil
}

// Navigate applies the revert rule for the question being left and pushes
// the corrected record back to the shell when a revert happened.
func (r *Runtime) Navigate(fromQuestionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitted {
		return
	}
	if r.answers.NavigateAway(fromQuestionID) {
		if st, err := r.answers.State(fromQuestionID); err == nil {
			r.emitLocked(ws.AnswerStateResponse{Event: ws.EventAnswerState, Answer: r.displayedAnswerLocked(*st)})
		}
	}
}

func (r *Runtime) armAutosaveLocked() {
	r.stopTimerLocked(&r.autosaveTimer)
	r.autosaveTimer = time.AfterFunc(autosaveDelay, r.onAutosave)
}

// onAutosave persists non-empty unsaved drafts. Failures are logged and
// swallowed: autosave is a safety net, not a promise.
func (r *Runtime) onAutosave() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitted {
		return
	}
	for _, st := range r.answers.Drafts() {
		if err := r.persister.SaveAnswer(r.ctx, r.attempt, st); err != nil {
			r.log.Warn().Err(err).Str("question_id", st.QuestionID.String()).Msg("autosave failed")
		}
	}
}

// ─── Submission ─────────────────────────────────────────────────────

// Submit is the student's explicit finish action.
func (r *Runtime) Submit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitLocked(model.EndReasonStudent)
}

// submitLocked runs the terminal sequence exactly once. Every async
// re-entry point checks r.submitted, so a timeout, a disqualification and
// a student click racing each other still produce one submission.
func (r *Runtime) submitLocked(reason model.EndReason) {
	if r.submitted {
		return
	}
	r.submitted = true

	r.stopTimerLocked(&r.graceTimer)
	r.stopTimerLocked(&r.fullscreenTimer)
	r.stopTimerLocked(&r.autosaveTimer)
	close(r.tickerStop)

	r.monitor.BeginSubmission()
	r.scheduler.Freeze()
	r.queue.Freeze()

	finished := r.now()
	r.attempt.FinishedAt = &finished
	r.attempt.Status = model.AttemptStatusSubmitted
	r.attempt.EndReason = &reason
	r.attempt.TimeSpentSeconds = int(finished.Sub(r.attempt.StartedAt).Seconds())
	if limit := r.exam.DurationMinutes * 60; r.attempt.TimeSpentSeconds > limit {
		r.attempt.TimeSpentSeconds = limit
	}

	answerSet := r.answers.All()
	violations := r.monitor.Violations()
	if err := r.persister.Finalize(context.Background(), r.attempt, answerSet, violations); err != nil {
		// The persister is write-behind; a failure here means Redis is
		// down. Log loudly, the student still gets their result.
		r.log.Error().Err(err).Msg("finalize persist failed")
	}

	r.emitLocked(ws.ReleaseStreamsResponse{Event: ws.EventReleaseStreams})
	r.emitLocked(ws.SubmittedResponse{
		Event:            ws.EventSubmitted,
		Reason:           string(reason),
		TimeSpentSeconds: r.attempt.TimeSpentSeconds,
	})

	r.log.Info().
		Str("reason", string(reason)).
		Int("answered", r.answers.AnsweredCount()).
		Int("violations", r.monitor.ViolationCount()).
		Msg("attempt submitted")

	r.cancel()
	if r.onFinished != nil {
		go r.onFinished(r.attempt.ID)
	}
}

// Submitted reports whether the terminal sequence has run.
func (r *Runtime) Submitted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.submitted
}

func (r *Runtime) stopTimerLocked(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// ─── State ──────────────────────────────────────────────────────────

// State returns the full snapshot for the REST state endpoint and for
// the WebSocket attach push.
func (r *Runtime) State() ws.StateResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked()
}

func (r *Runtime) stateLocked() ws.StateResponse {
	qs := make([]model.QuestionForStudent, 0, len(r.questions))
	for i := range r.questions {
		q := &r.questions[i]
		if !r.answers.Visible(q.ID) {
			continue
		}
		qs = append(qs, q.StudentView())
	}

	all := r.answers.All()
	out := make([]model.AnswerState, 0, len(all))
	for _, st := range all {
		out = append(out, r.displayedAnswerLocked(st))
	}

	return ws.StateResponse{
		Event:            ws.EventState,
		AttemptID:        r.attempt.ID.String(),
		RemainingSeconds: r.remainingLocked(),
		Questions:        qs,
		Answers:          out,
		Proctor:          r.monitor.Snapshot(),
	}
}

// displayedAnswerLocked rewrites an authored-space answer into the
// student's displayed option space.
func (r *Runtime) displayedAnswerLocked(st model.AnswerState) model.AnswerState {
	q, ok := r.byID[st.QuestionID]
	if !ok || q.QuestionType == model.QuestionTypeEssay {
		return st
	}
	st.CurrentValue = translateValue(q.OptionOrder, st.CurrentValue, q.QuestionType)
	st.LastSubmittedValue = translateValue(q.OptionOrder, st.LastSubmittedValue, q.QuestionType)
	return st
}

func translateValue(order map[string]string, value string, qtype model.QuestionType) string {
	if value == "" {
		return value
	}
	if qtype == model.QuestionTypeSingleChoice {
		return shuffle.ToDisplayed(order, value)
	}
	keys := strings.Split(value, ",")
	for i, k := range keys {
		keys[i] = shuffle.ToDisplayed(order, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

// Progress is the invigilator's read-only view of one attempt.
func (r *Runtime) Progress() (answered, violations, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.answers.AnsweredCount(), r.monitor.ViolationCount(), r.remainingLocked()
}
