package attempt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aksara-lms/proctor-backend/internal/config"
	"github.com/aksara-lms/proctor-backend/internal/model"
)

// redisPersister implements Persister with the write-behind scheme: hot
// state goes to Redis hashes so resume is instant, and durable copies ride
// the worker queues into PostgreSQL.
type redisPersister struct {
	rdb *redis.Client
	log zerolog.Logger
}

func newRedisPersister(rdb *redis.Client, log zerolog.Logger) *redisPersister {
	return &redisPersister{
		rdb: rdb,
		log: log.With().Str("component", "attempt_persister").Logger(),
	}
}

// answerQueuePayload mirrors what the answer worker unmarshals.
type answerQueuePayload struct {
	AttemptID string `json:"attempt_id"`
	ExamID    string `json:"exam_id"`
	StudentID int    `json:"student_id"`
	QID       string `json:"q_id"`
	Value     string `json:"value"`
	Submitted bool   `json:"submitted"`
}

func (p *redisPersister) SaveAnswer(ctx context.Context, a *model.Attempt, st model.AnswerState) error {
	examID := a.ExamID.String()
	qid := st.QuestionID.String()

	pipe := p.rdb.Pipeline()
	pipe.HSet(ctx, config.CacheKey.AttemptAnswersKey(examID, a.StudentID), qid, st.CurrentValue)
	if st.Submitted {
		pipe.HSet(ctx, config.CacheKey.SubmittedAnswersKey(examID, a.StudentID), qid, st.LastSubmittedValue)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache answer: %w", err)
	}

	value := st.CurrentValue
	if st.Submitted {
		value = st.LastSubmittedValue
	}
	data, _ := json.Marshal(answerQueuePayload{
		AttemptID: a.ID.String(),
		ExamID:    examID,
		StudentID: a.StudentID,
		QID:       qid,
		Value:     value,
		Submitted: st.Submitted,
	})
	if err := p.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, data).Err(); err != nil {
		return fmt.Errorf("queue answer: %w", err)
	}
	return nil
}

// violationQueuePayload mirrors what the violation worker unmarshals.
type violationQueuePayload struct {
	AttemptID string `json:"attempt_id"`
	ExamID    string `json:"exam_id"`
	StudentID int    `json:"student_id"`
	Type      string `json:"type"`
	Details   string `json:"details"`
	Timestamp int64  `json:"timestamp"`
}

func (p *redisPersister) RecordViolation(ctx context.Context, a *model.Attempt, v model.Violation) error {
	examID := a.ExamID.String()
	if err := p.rdb.Incr(ctx, config.CacheKey.ViolationCountKey(examID, a.StudentID)).Err(); err != nil {
		p.log.Warn().Err(err).Msg("violation count incr failed")
	}

	data, _ := json.Marshal(violationQueuePayload{
		AttemptID: a.ID.String(),
		ExamID:    examID,
		StudentID: a.StudentID,
		Type:      string(v.Type),
		Details:   v.Details,
		Timestamp: v.RecordedAt.Unix(),
	})
	if err := p.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data).Err(); err != nil {
		return fmt.Errorf("queue violation: %w", err)
	}
	return nil
}

// attemptQueuePayload mirrors what the attempt worker unmarshals.
type attemptQueuePayload struct {
	AttemptID        string `json:"attempt_id"`
	ExamID           string `json:"exam_id"`
	StudentID        int    `json:"student_id"`
	FinishedAt       int64  `json:"finished_at"`
	TimeSpentSeconds int    `json:"time_spent_seconds"`
	EndReason        string `json:"end_reason"`
}

// Finalize flushes the final answer set to the hot cache and queues the
// terminal attempt record. The violation log was queued entry by entry as
// it happened, so it is not resent here.
func (p *redisPersister) Finalize(ctx context.Context, a *model.Attempt, answerSet []model.AnswerState, _ []model.Violation) error {
	for _, st := range answerSet {
		if !st.Submitted && st.CurrentValue == "" {
			continue
		}
		if err := p.SaveAnswer(ctx, a, st); err != nil {
			return err
		}
	}

	reason := ""
	if a.EndReason != nil {
		reason = string(*a.EndReason)
	}
	var finished int64
	if a.FinishedAt != nil {
		finished = a.FinishedAt.Unix()
	}
	data, _ := json.Marshal(attemptQueuePayload{
		AttemptID:        a.ID.String(),
		ExamID:           a.ExamID.String(),
		StudentID:        a.StudentID,
		FinishedAt:       finished,
		TimeSpentSeconds: a.TimeSpentSeconds,
		EndReason:        reason,
	})
	if err := p.rdb.RPush(ctx, config.WorkerKey.PersistAttemptsQueue, data).Err(); err != nil {
		return fmt.Errorf("queue attempt finalize: %w", err)
	}
	return nil
}
