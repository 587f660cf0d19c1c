package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aksara-lms/proctor-backend/internal/model"
)

// ExamRepository reads exam definitions. Authoring happens in the portal
// service, so this side is read-only.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam by its UUID. The proctoring policy lives in a
// jsonb column; a NULL policy falls back to the default.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	var policy *model.ProctorPolicy
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, duration_minutes, entry_password_hash, status,
		        randomize_questions, randomize_options, auto_submit_on_timeout,
		        policy, created_at, updated_at
		 FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.DurationMinutes, &e.EntryPasswordHash, &e.Status,
		&e.RandomizeQuestions, &e.RandomizeOptions, &e.AutoSubmitOnTimeout,
		&policy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if policy != nil {
		e.Policy = *policy
	} else {
		e.Policy = model.DefaultProctorPolicy()
	}
	return e, nil
}

// ListQuestions retrieves the authored questions of an exam in authored
// order. Options ride a jsonb column including blank trailing slots.
func (r *ExamRepository) ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, question_text, question_type, options, correct_keys,
		        order_num, allow_update_after_submit, allow_see_after_submit
		 FROM questions WHERE exam_id = $1 ORDER BY order_num ASC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.QuestionText, &q.QuestionType, &q.Options,
			&q.CorrectKeys, &q.OrderNum, &q.AllowUpdateAfterSubmit,
			&q.AllowSeeAfterSubmit); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// Payload assembles the Redis-cacheable exam payload.
func (r *ExamRepository) Payload(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error) {
	exam, err := r.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	questions, err := r.ListQuestions(ctx, examID)
	if err != nil {
		return nil, err
	}
	return &model.ExamPayload{
		ExamID:    exam.ID,
		Title:     exam.Title,
		Duration:  exam.DurationMinutes,
		Questions: questions,
	}, nil
}
