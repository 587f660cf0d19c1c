package model

import "time"

// ExamSession binds an exam attempt to one authenticated device. The record
// is written by the portal at password verification; this service only
// validates and extends it.
type ExamSession struct {
	Token      string    `json:"token"`
	DeviceHash string    `json:"device_hash"`
	StudentID  int       `json:"student_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the session has passed its expiry at the given
// instant.
func (s *ExamSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
