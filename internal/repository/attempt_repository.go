package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aksara-lms/proctor-backend/internal/model"
)

// AttemptRepository handles attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// GetByExamAndStudent retrieves a student's attempt for one exam.
func (r *AttemptRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, started_at, finished_at, status,
		        time_spent_seconds, end_reason
		 FROM attempts WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID,
	).Scan(&a.ID, &a.ExamID, &a.StudentID, &a.StartedAt, &a.FinishedAt,
		&a.Status, &a.TimeSpentSeconds, &a.EndReason)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Create inserts a new attempt. The unique (exam_id, student_id) index
// turns a concurrent double-start into an error the caller resolves by
// re-fetching.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO attempts (exam_id, student_id, status)
		 VALUES ($1, $2, $3)
		 RETURNING id, started_at`,
		a.ExamID, a.StudentID, model.AttemptStatusInProgress,
	).Scan(&a.ID, &a.StartedAt)
}

// MarkSubmitted finalizes an attempt row. Used by the persistence worker;
// repeated delivery of the same finalize payload is harmless.
func (r *AttemptRepository) MarkSubmitted(ctx context.Context, a *model.Attempt) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET status = $1, finished_at = $2, time_spent_seconds = $3, end_reason = $4
		 WHERE id = $5`,
		model.AttemptStatusSubmitted, a.FinishedAt, a.TimeSpentSeconds, a.EndReason, a.ID)
	return err
}

// AttemptProgress is one row of the invigilator progress view.
type AttemptProgress struct {
	AttemptID  uuid.UUID           `json:"attempt_id"`
	StudentID  int                 `json:"student_id"`
	Status     model.AttemptStatus `json:"status"`
	Answered   int                 `json:"answered"`
	Violations int                 `json:"violations"`
}

// ListProgressByExam aggregates per-attempt answered and violation counts
// for the invigilator dashboard.
func (r *AttemptRepository) ListProgressByExam(ctx context.Context, examID uuid.UUID) ([]AttemptProgress, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.student_id, a.status,
		        COUNT(DISTINCT ans.question_id) FILTER (WHERE ans.submitted),
		        COUNT(DISTINCT v.id)
		 FROM attempts a
		 LEFT JOIN attempt_answers ans ON ans.attempt_id = a.id
		 LEFT JOIN attempt_violations v ON v.attempt_id = a.id
		 WHERE a.exam_id = $1
		 GROUP BY a.id, a.student_id, a.status
		 ORDER BY a.student_id ASC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AttemptProgress
	for rows.Next() {
		var p AttemptProgress
		if err := rows.Scan(&p.AttemptID, &p.StudentID, &p.Status, &p.Answered, &p.Violations); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
