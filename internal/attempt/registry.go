package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aksara-lms/proctor-backend/internal/config"
	"github.com/aksara-lms/proctor-backend/internal/evidence"
	"github.com/aksara-lms/proctor-backend/internal/model"
	"github.com/aksara-lms/proctor-backend/internal/repository"
	"github.com/aksara-lms/proctor-backend/internal/shuffle"
)

// ErrAlreadySubmitted is returned when a student tries to start an attempt
// that already finished.
var ErrAlreadySubmitted = errors.New("attempt already submitted")

// Slot pool sizing. The initial allocation covers roughly the first third
// of a typical exam; the pool replenishes itself from there.
const (
	initialSlotBatch = 20
	slotLowWater     = 5
	slotBatchSize    = 20
)

// Registry owns every live Runtime, keyed by attempt. It is the only
// place runtimes are created or torn down.
type Registry struct {
	mu       sync.Mutex
	runtimes map[uuid.UUID]*Runtime
	byKey    map[string]uuid.UUID // "examID:studentID" -> attemptID

	examRepo    *repository.ExamRepository
	attemptRepo *repository.AttemptRepository
	rdb         *redis.Client
	allocator   evidence.Allocator
	uploader    evidence.Uploader
	limits      evidence.SizeLimits
	log         zerolog.Logger
}

func NewRegistry(
	examRepo *repository.ExamRepository,
	attemptRepo *repository.AttemptRepository,
	rdb *redis.Client,
	allocator evidence.Allocator,
	uploader evidence.Uploader,
	maxFrameBytes int64,
	log zerolog.Logger,
) *Registry {
	return &Registry{
		runtimes:    make(map[uuid.UUID]*Runtime),
		byKey:       make(map[string]uuid.UUID),
		examRepo:    examRepo,
		attemptRepo: attemptRepo,
		rdb:         rdb,
		allocator:   allocator,
		uploader:    uploader,
		limits: evidence.SizeLimits{
			// Webcam frames are identity snapshots at low quality; screen
			// frames carry full captures.
			Webcam: maxFrameBytes / 4,
			Screen: maxFrameBytes,
		},
		log: log.With().Str("component", "attempt_registry").Logger(),
	}
}

func runtimeKey(examID uuid.UUID, studentID int) string {
	return fmt.Sprintf("%s:%d", examID, studentID)
}

// Get returns the live runtime for an attempt, if any.
func (g *Registry) Get(attemptID uuid.UUID) (*Runtime, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.runtimes[attemptID]
	return r, ok
}

// Lookup returns the live runtime for an exam and student, if any.
func (g *Registry) Lookup(examID uuid.UUID, studentID int) (*Runtime, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.byKey[runtimeKey(examID, studentID)]
	if !ok {
		return nil, false
	}
	r, ok := g.runtimes[id]
	return r, ok
}

// StartOrResume returns the runtime for a student's attempt, creating the
// attempt on first start and rebuilding runtime state from Redis (with
// PostgreSQL fallback) after a reconnect or a server restart. An attempt
// that already submitted refuses to start again.
func (g *Registry) StartOrResume(ctx context.Context, examID uuid.UUID, studentID int) (*Runtime, error) {
	// Fast path: the runtime is already live (tab reload, reconnect).
	if r, ok := g.Lookup(examID, studentID); ok {
		if r.Submitted() {
			return nil, ErrAlreadySubmitted
		}
		return r, nil
	}

	exam, payload, err := g.loadExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("load exam: %w", err)
	}
	if exam.Status != model.ExamStatusPublished && exam.Status != model.ExamStatusInProgress {
		return nil, errors.New("exam is not available")
	}

	attempt, err := g.loadOrCreateAttempt(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}
	if attempt.Status == model.AttemptStatusSubmitted {
		return nil, ErrAlreadySubmitted
	}

	questions := g.render(exam, payload.Questions, studentID)
	saved := g.loadSavedAnswers(ctx, examID, studentID)
	prior := g.loadViolationCount(ctx, examID, studentID)
	pools := g.buildPools(ctx, examID)

	g.mu.Lock()
	defer g.mu.Unlock()

	// Recheck under the lock: a concurrent StartOrResume may have won.
	if id, ok := g.byKey[runtimeKey(examID, studentID)]; ok {
		return g.runtimes[id], nil
	}

	r := NewRuntime(Deps{
		Attempt:         attempt,
		Exam:            exam,
		Questions:       questions,
		Saved:           saved,
		PriorViolations: prior,
		Pools:           pools,
		Uploader:        g.uploader,
		Limits:          g.limits,
		Persister:       newRedisPersister(g.rdb, g.log),
		OnFinish:        g.remove,
		Log:             g.log,
	})
	g.runtimes[attempt.ID] = r
	g.byKey[runtimeKey(examID, studentID)] = attempt.ID
	r.Start()

	g.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Int("student_id", studentID).
		Int("saved_answers", len(saved)).
		Msg("attempt runtime started")
	return r, nil
}

// remove tears a finished runtime down. Called by the runtime itself at
// the end of the submission sequence.
func (g *Registry) remove(attemptID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.runtimes[attemptID]
	if !ok {
		return
	}
	delete(g.runtimes, attemptID)
	delete(g.byKey, runtimeKey(r.attempt.ExamID, r.attempt.StudentID))
}

// ProgressByExam merges live runtime counters over the persisted rows for
// the invigilator view, so in-flight attempts show current numbers.
func (g *Registry) ProgressByExam(ctx context.Context, examID uuid.UUID) ([]repository.AttemptProgress, error) {
	rows, err := g.attemptRepo.ListProgressByExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range rows {
		if r, ok := g.runtimes[rows[i].AttemptID]; ok {
			answered, violations, _ := r.Progress()
			rows[i].Answered = answered
			rows[i].Violations = violations
		}
	}
	return rows, nil
}

// loadExam reads the exam payload from the Redis cache, falling back to
// PostgreSQL and self-healing the cache on a miss.
func (g *Registry) loadExam(ctx context.Context, examID uuid.UUID) (*model.Exam, *model.ExamPayload, error) {
	exam, err := g.examRepo.GetByID(ctx, examID)
	if err != nil {
		return nil, nil, err
	}

	key := config.CacheKey.ExamPayloadKey(examID.String())
	val, err := g.rdb.Get(ctx, key).Result()
	if err == nil {
		var payload model.ExamPayload
		if jsonErr := json.Unmarshal([]byte(val), &payload); jsonErr == nil {
			return exam, &payload, nil
		}
		g.log.Warn().Str("exam_id", examID.String()).Msg("corrupt payload cache, rebuilding")
	} else if err != redis.Nil {
		g.log.Warn().Err(err).Msg("payload cache read failed, using database")
	}

	payload, err := g.examRepo.Payload(ctx, examID)
	if err != nil {
		return nil, nil, err
	}
	if data, jsonErr := json.Marshal(payload); jsonErr == nil {
		_ = g.rdb.Set(ctx, key, data, 0).Err()
	}
	return exam, payload, nil
}

// loadOrCreateAttempt finds the student's attempt or creates it, keeping
// the Redis start-time key in sync the way the exam join flow does.
func (g *Registry) loadOrCreateAttempt(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	startKey := config.CacheKey.AttemptStartKey(examID.String(), studentID)

	attempt, err := g.attemptRepo.GetByExamAndStudent(ctx, examID, studentID)
	if err == nil {
		// Self-heal the cached start time for cheap countdown reads.
		_ = g.rdb.Set(ctx, startKey, attempt.StartedAt.Unix(), 0).Err()
		return attempt, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	attempt = &model.Attempt{
		ExamID:    examID,
		StudentID: studentID,
		Status:    model.AttemptStatusInProgress,
	}
	if err := g.attemptRepo.Create(ctx, attempt); err != nil {
		// Concurrent start from another device: the unique index fired.
		existing, fetchErr := g.attemptRepo.GetByExamAndStudent(ctx, examID, studentID)
		if fetchErr != nil {
			return nil, fmt.Errorf("create attempt: %w", err)
		}
		attempt = existing
	}
	if err := g.rdb.Set(ctx, startKey, attempt.StartedAt.Unix(), 0).Err(); err != nil {
		g.log.Warn().Err(err).Msg("start time cache write failed")
	}
	return attempt, nil
}

// render applies the per-student deterministic shuffle. The seeds mix
// student and exam identity with a per-purpose suffix, so question order
// and each question's option order draw from independent sequences and
// replay identically on resume.
func (g *Registry) render(exam *model.Exam, questions []model.Question, studentID int) []model.RenderedQuestion {
	byID := make(map[string]model.Question, len(questions))
	ids := make([]string, len(questions))
	for i, q := range questions {
		ids[i] = q.ID.String()
		byID[q.ID.String()] = q
	}

	if exam.RandomizeQuestions {
		seed := fmt.Sprintf("%d:%s:questions", studentID, exam.ID)
		ids = shuffle.Questions(ids, seed)
	}

	rendered := make([]model.RenderedQuestion, 0, len(ids))
	for _, id := range ids {
		q := byID[id]
		rq := model.RenderedQuestion{Question: q}

		if exam.RandomizeOptions && q.QuestionType != model.QuestionTypeEssay {
			seed := fmt.Sprintf("%d:%s:%s:options", studentID, exam.ID, q.ID)
			display, order, remapped := shuffle.Options(q.Options, q.CorrectKeys, seed)
			rq.DisplayOptions = display
			rq.OptionOrder = order
			rq.CorrectKeys = remapped
		} else {
			rq.DisplayOptions = q.Options
			order := make(map[string]string, len(q.Options))
			for _, o := range q.Options {
				order[o.Key] = o.Key
			}
			rq.OptionOrder = order
		}
		rendered = append(rendered, rq)
	}
	return rendered
}

// loadSavedAnswers rebuilds the answer set from the Redis draft and
// submitted hashes. Values are stored in authored option space, so no
// translation happens here.
func (g *Registry) loadSavedAnswers(ctx context.Context, examID uuid.UUID, studentID int) []model.AnswerState {
	drafts, err := g.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(examID.String(), studentID)).Result()
	if err != nil {
		g.log.Warn().Err(err).Msg("draft answers read failed")
		drafts = nil
	}
	submitted, err := g.rdb.HGetAll(ctx, config.CacheKey.SubmittedAnswersKey(examID.String(), studentID)).Result()
	if err != nil {
		g.log.Warn().Err(err).Msg("submitted answers read failed")
		submitted = nil
	}

	states := make(map[string]*model.AnswerState, len(drafts)+len(submitted))
	for qid, val := range drafts {
		states[qid] = &model.AnswerState{CurrentValue: val}
	}
	for qid, val := range submitted {
		st, ok := states[qid]
		if !ok {
			st = &model.AnswerState{CurrentValue: val}
			states[qid] = st
		}
		st.LastSubmittedValue = val
		st.Submitted = true
	}

	out := make([]model.AnswerState, 0, len(states))
	for qid, st := range states {
		id, err := uuid.Parse(qid)
		if err != nil {
			continue
		}
		st.QuestionID = id
		out = append(out, *st)
	}
	return out
}

func (g *Registry) loadViolationCount(ctx context.Context, examID uuid.UUID, studentID int) int {
	val, err := g.rdb.Get(ctx, config.CacheKey.ViolationCountKey(examID.String(), studentID)).Result()
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0
	}
	return n
}

// buildPools allocates the initial upload slots per stream. Allocation
// failure seeds an empty pool; the first Acquire triggers a replenish, so
// a transient storage outage at start does not keep the student out.
func (g *Registry) buildPools(ctx context.Context, examID uuid.UUID) map[evidence.StreamType]*evidence.SlotPool {
	pools := make(map[evidence.StreamType]*evidence.SlotPool, 2)
	for _, stream := range []evidence.StreamType{evidence.StreamWebcam, evidence.StreamScreen} {
		allocCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		uris, err := g.allocator.RequestSlots(allocCtx, examID, stream, initialSlotBatch)
		cancel()
		if err != nil {
			g.log.Warn().Err(err).Str("stream", string(stream)).Msg("initial slot allocation failed")
			uris = nil
		}
		pools[stream] = evidence.NewSlotPool(examID, stream, uris, slotLowWater, slotBatchSize, g.allocator, g.log)
	}
	return pools
}
