package attempt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aksara-lms/proctor-backend/internal/answers"
	"github.com/aksara-lms/proctor-backend/internal/evidence"
	"github.com/aksara-lms/proctor-backend/internal/model"
	"github.com/aksara-lms/proctor-backend/internal/ws"
)

type fakeSink struct {
	mu     sync.Mutex
	events []interface{}
}

func (s *fakeSink) Emit(v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, v)
}

func (s *fakeSink) count(match func(interface{}) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if match(e) {
			n++
		}
	}
	return n
}

type fakePersister struct {
	mu         sync.Mutex
	saves      []model.AnswerState
	violations []model.Violation
	finalized  int
	lastReason string
}

func (p *fakePersister) SaveAnswer(_ context.Context, _ *model.Attempt, st model.AnswerState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves = append(p.saves, st)
	return nil
}

func (p *fakePersister) RecordViolation(_ context.Context, _ *model.Attempt, v model.Violation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.violations = append(p.violations, v)
	return nil
}

func (p *fakePersister) Finalize(_ context.Context, a *model.Attempt, _ []model.AnswerState, _ []model.Violation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finalized++
	if a.EndReason != nil {
		p.lastReason = string(*a.EndReason)
	}
	return nil
}

func testExam() *model.Exam {
	policy := model.DefaultProctorPolicy()
	policy.ViolationThreshold = 3
	policy.DisqualifyOnThreshold = true
	return &model.Exam{
		ID:                  uuid.New(),
		Title:               "Ujian Matematika",
		DurationMinutes:     90,
		Status:              model.ExamStatusInProgress,
		RandomizeQuestions:  true,
		RandomizeOptions:    true,
		AutoSubmitOnTimeout: true,
		Policy:              policy,
	}
}

// renderedSingle builds a single-choice question where displayed A maps to
// authored C.
func renderedSingle() model.RenderedQuestion {
	q := model.Question{
		ID:           uuid.New(),
		QuestionType: model.QuestionTypeSingleChoice,
		Options: []model.Option{
			{Key: "A", Text: "satu"}, {Key: "B", Text: "dua"}, {Key: "C", Text: "tiga"},
		},
	}
	return model.RenderedQuestion{
		Question: q,
		DisplayOptions: []model.Option{
			{Key: "A", Text: "tiga"}, {Key: "B", Text: "satu"}, {Key: "C", Text: "dua"},
		},
		OptionOrder: map[string]string{"A": "C", "B": "A", "C": "B"},
	}
}

func newTestRuntime(t *testing.T, exam *model.Exam, questions []model.RenderedQuestion) (*Runtime, *fakeSink, *fakePersister) {
	t.Helper()
	p := &fakePersister{}
	r := NewRuntime(Deps{
		Attempt: &model.Attempt{
			ID:        uuid.New(),
			ExamID:    exam.ID,
			StudentID: 7,
			StartedAt: time.Now(),
			Status:    model.AttemptStatusInProgress,
		},
		Exam:      exam,
		Questions: questions,
		Pools:     map[evidence.StreamType]*evidence.SlotPool{},
		Persister: p,
		Log:       zerolog.Nop(),
	})
	sink := &fakeSink{}
	r.Attach(sink)
	return r, sink, p
}

func grantAllCaps(r *Runtime) {
	r.SetCapability("webcam", true)
	r.SetCapability("screenshare", true)
	r.SetCapability("fullscreen", true)
}

func TestSubmitSequenceRunsOnce(t *testing.T) {
	r, sink, p := newTestRuntime(t, testExam(), []model.RenderedQuestion{renderedSingle()})

	r.Submit()
	r.Submit()

	if p.finalized != 1 {
		t.Fatalf("finalize ran %d times, want 1", p.finalized)
	}
	if p.lastReason != string(model.EndReasonStudent) {
		t.Fatalf("end reason = %q", p.lastReason)
	}
	if r.attempt.Status != model.AttemptStatusSubmitted || r.attempt.FinishedAt == nil {
		t.Fatalf("attempt not finalized: %+v", r.attempt)
	}

	release := sink.count(func(e interface{}) bool {
		_, ok := e.(ws.ReleaseStreamsResponse)
		return ok
	})
	submitted := sink.count(func(e interface{}) bool {
		_, ok := e.(ws.SubmittedResponse)
		return ok
	})
	if release != 1 || submitted != 1 {
		t.Fatalf("release=%d submitted=%d, want 1 each", release, submitted)
	}
}

func TestEventsAfterSubmitAreNoOps(t *testing.T) {
	qs := []model.RenderedQuestion{renderedSingle()}
	r, _, p := newTestRuntime(t, testExam(), qs)

	r.Submit()

	if err := r.EditAnswer(qs[0].ID, "A"); err != answers.ErrReadOnly {
		t.Fatalf("edit after submit: %v", err)
	}
	r.ReportViolation(model.ViolationTabSwitch, "late event")
	r.SetCapability("webcam", false)

	if len(p.violations) != 0 {
		t.Fatalf("violations persisted after submit: %d", len(p.violations))
	}
}

func TestTimeoutAutoSubmits(t *testing.T) {
	exam := testExam()
	r, _, p := newTestRuntime(t, exam, []model.RenderedQuestion{renderedSingle()})

	// Move the clock past the deadline.
	deadline := r.attempt.StartedAt.Add(time.Duration(exam.DurationMinutes)*time.Minute + time.Second)
	r.now = func() time.Time { return deadline }

	r.tick()

	if p.finalized != 1 {
		t.Fatal("expected auto-submit at timer zero")
	}
	if p.lastReason != string(model.EndReasonTimeout) {
		t.Fatalf("end reason = %q, want timeout", p.lastReason)
	}
	if r.attempt.TimeSpentSeconds != exam.DurationMinutes*60 {
		t.Fatalf("time spent = %d, want clamped to %d", r.attempt.TimeSpentSeconds, exam.DurationMinutes*60)
	}
}

func TestTimerZeroWithoutAutoSubmitWarnsOnce(t *testing.T) {
	exam := testExam()
	exam.AutoSubmitOnTimeout = false
	r, sink, p := newTestRuntime(t, exam, []model.RenderedQuestion{renderedSingle()})

	deadline := r.attempt.StartedAt.Add(time.Duration(exam.DurationMinutes)*time.Minute + time.Second)
	r.now = func() time.Time { return deadline }

	r.tick()
	r.tick()
	r.tick()

	if p.finalized != 0 {
		t.Fatal("must not auto-submit")
	}
	warns := sink.count(func(e interface{}) bool {
		_, ok := e.(ws.TimeUpResponse)
		return ok
	})
	if warns != 1 {
		t.Fatalf("time_up fired %d times, want 1", warns)
	}
}

func TestDisqualificationForcesSubmission(t *testing.T) {
	r, _, p := newTestRuntime(t, testExam(), []model.RenderedQuestion{renderedSingle()})
	grantAllCaps(r)
	if err := r.BeginExam(); err != nil {
		t.Fatal(err)
	}
	r.onGraceExpired()

	for i := 0; i < 5; i++ {
		r.ReportViolation(model.ViolationTabSwitch, "visibilitychange")
	}

	if p.finalized != 1 {
		t.Fatalf("finalize ran %d times, want 1", p.finalized)
	}
	if p.lastReason != string(model.EndReasonDisqualified) {
		t.Fatalf("end reason = %q, want disqualified", p.lastReason)
	}
	// Threshold is 3; later reports hit the frozen runtime.
	if len(p.violations) != 3 {
		t.Fatalf("persisted violations = %d, want 3", len(p.violations))
	}
}

func TestStreamLossAtThresholdForcesSubmission(t *testing.T) {
	exam := testExam()
	exam.Policy.ViolationThreshold = 1
	r, _, p := newTestRuntime(t, exam, []model.RenderedQuestion{renderedSingle()})
	grantAllCaps(r)
	if err := r.BeginExam(); err != nil {
		t.Fatal(err)
	}
	r.onGraceExpired()

	r.SetCapability("webcam", false)

	if p.finalized != 1 {
		t.Fatalf("finalize ran %d times, want 1", p.finalized)
	}
	if p.lastReason != string(model.EndReasonDisqualified) {
		t.Fatalf("end reason = %q, want disqualified", p.lastReason)
	}
	if len(p.violations) != 1 || p.violations[0].Type != model.ViolationWebcamOff {
		t.Fatalf("persisted violations = %+v, want one webcam_off", p.violations)
	}
}

func TestViolationTriggersScreenCapture(t *testing.T) {
	r, sink, _ := newTestRuntime(t, testExam(), []model.RenderedQuestion{renderedSingle()})
	grantAllCaps(r)
	if err := r.BeginExam(); err != nil {
		t.Fatal(err)
	}
	r.onGraceExpired()

	r.ReportViolation(model.ViolationCopyPaste, "paste blocked")

	n := sink.count(func(e interface{}) bool {
		cr, ok := e.(ws.CaptureRequestResponse)
		return ok && cr.Stream == "screen" && cr.Trigger == string(model.ViolationCopyPaste)
	})
	if n != 1 {
		t.Fatalf("capture requests = %d, want 1", n)
	}
}

func TestBeginExamRequiresCapabilities(t *testing.T) {
	r, _, _ := newTestRuntime(t, testExam(), []model.RenderedQuestion{renderedSingle()})
	r.SetCapability("webcam", true)

	if err := r.BeginExam(); err == nil {
		t.Fatal("expected permission error")
	}
}

func TestAnswerValuesStoredAuthoredSentDisplayed(t *testing.T) {
	qs := []model.RenderedQuestion{renderedSingle()}
	r, _, _ := newTestRuntime(t, testExam(), qs)
	qid := qs[0].ID

	// The student picks displayed option A, which is authored option C.
	if err := r.EditAnswer(qid, "A"); err != nil {
		t.Fatal(err)
	}
	if err := r.SaveAnswer(qid); err != nil {
		t.Fatal(err)
	}

	st, _ := r.answers.State(qid)
	if st.CurrentValue != "C" {
		t.Fatalf("stored value = %q, want authored C", st.CurrentValue)
	}

	state := r.State()
	found := false
	for _, a := range state.Answers {
		if a.QuestionID == qid {
			found = true
			if a.CurrentValue != "A" {
				t.Fatalf("displayed value = %q, want A", a.CurrentValue)
			}
		}
	}
	if !found {
		t.Fatal("answer missing from state snapshot")
	}
}

func TestSaveAnswerPersistsAndAcks(t *testing.T) {
	qs := []model.RenderedQuestion{renderedSingle()}
	r, sink, p := newTestRuntime(t, testExam(), qs)

	r.EditAnswer(qs[0].ID, "B")
	if err := r.SaveAnswer(qs[0].ID); err != nil {
		t.Fatal(err)
	}

	if len(p.saves) != 1 || !p.saves[0].Submitted {
		t.Fatalf("persisted saves: %+v", p.saves)
	}
	acks := sink.count(func(e interface{}) bool {
		ack, ok := e.(ws.AnswerSavedResponse)
		return ok && ack.QID == qs[0].ID.String()
	})
	if acks != 1 {
		t.Fatalf("acks = %d, want 1", acks)
	}
}

func TestNavigateRevertPushesCorrectedAnswer(t *testing.T) {
	q := renderedSingle()
	q.AllowUpdateAfterSubmit = true
	qs := []model.RenderedQuestion{q}
	r, sink, _ := newTestRuntime(t, testExam(), qs)
	qid := qs[0].ID

	r.EditAnswer(qid, "A")
	r.SaveAnswer(qid)
	r.EditAnswer(qid, "B")
	r.Navigate(qid)

	st, _ := r.answers.State(qid)
	if st.CurrentValue != "C" { // authored C == displayed A
		t.Fatalf("value = %q, want reverted authored C", st.CurrentValue)
	}

	pushed := sink.count(func(e interface{}) bool {
		resp, ok := e.(ws.AnswerStateResponse)
		return ok && resp.Answer.QuestionID == qid && resp.Answer.CurrentValue == "A"
	})
	if pushed != 1 {
		t.Fatalf("answer_state pushes = %d, want 1", pushed)
	}
}

func TestStateHidesSavedQuestionsWhenPolicySays(t *testing.T) {
	q := renderedSingle()
	q.AllowSeeAfterSubmit = false
	qs := []model.RenderedQuestion{q}
	r, _, _ := newTestRuntime(t, testExam(), qs)

	r.EditAnswer(qs[0].ID, "A")
	r.SaveAnswer(qs[0].ID)

	state := r.State()
	if len(state.Questions) != 0 {
		t.Fatalf("saved question still visible: %d", len(state.Questions))
	}
}
