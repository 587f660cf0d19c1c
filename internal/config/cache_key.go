package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionKey returns the key for an exam session record (device hash +
// expiry), written at password verification and looked up by token.
func (r *CacheKeyStruct) SessionKey(examID, token string) string {
	return fmt.Sprintf("exam:%s:session:%s", examID, token)
}

// AttemptStartKey returns the key for a student's attempt start timestamp.
func (r *CacheKeyStruct) AttemptStartKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:attempt_start", studentID, examID)
}

// AttemptAnswersKey returns the hash key holding a student's saved answers.
func (r *CacheKeyStruct) AttemptAnswersKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:answers", studentID, examID)
}

// SubmittedAnswersKey returns the hash key holding the last *submitted*
// value per question, kept separate from drafts so a resume can rebuild
// the clean/dirty distinction.
func (r *CacheKeyStruct) SubmittedAnswersKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:submitted", studentID, examID)
}

// ViolationCountKey returns the key for a student's running violation count.
func (r *CacheKeyStruct) ViolationCountKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:violations", studentID, examID)
}

// ExamPayloadKey returns the key for an exam's cached payload.
func (r *CacheKeyStruct) ExamPayloadKey(examID string) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

var CacheKey = NewCacheKeyStruct()
