// Package auth mints and validates attempt tokens. A token is issued at
// attempt start, after the exam entry password and the session record
// check out, and binds the student, the exam, the session token and the
// device fingerprint together for the rest of the attempt.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/aksara-lms/proctor-backend/internal/config"
)

// ErrInvalidCredentials is returned when the entry password does not match.
var ErrInvalidCredentials = errors.New("invalid credentials")

// TokenType distinguishes student attempt tokens from invigilator tokens.
type TokenType string

const (
	TokenTypeStudent     TokenType = "student"
	TokenTypeInvigilator TokenType = "invigilator"
)

// Claims extends JWT standard claims with attempt binding fields. Every
// request carries them, so a stolen token cannot be replayed from another
// device or against another exam.
type Claims struct {
	jwt.RegisteredClaims
	TokenType    TokenType `json:"token_type"`
	StudentID    int       `json:"student_id,omitempty"`
	ExamID       string    `json:"exam_id"`
	SessionToken string    `json:"session_token,omitempty"`
	DeviceHash   string    `json:"device_hash,omitempty"`
}

// Service handles password checks and attempt JWTs.
type Service struct {
	cfg *config.Config
}

// NewService creates a new auth Service.
func NewService(cfg *config.Config) *Service {
	return &Service{cfg: cfg}
}

// HashPassword hashes an exam entry password.
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

// CheckPassword compares a plaintext entry password against a bcrypt hash.
func (s *Service) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// GenerateAttemptToken creates the JWT that accompanies one attempt. The
// expiry matches the session TTL; heartbeats extend the session record,
// not the token, so a token outliving its session is still rejected.
func (s *Service) GenerateAttemptToken(studentID int, examID uuid.UUID, sessionToken, deviceHash string) (string, error) {
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   strconv.Itoa(studentID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.SessionTTL)),
		},
		TokenType:    TokenTypeStudent,
		StudentID:    studentID,
		ExamID:       examID.String(),
		SessionToken: sessionToken,
		DeviceHash:   deviceHash,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// GenerateInvigilatorToken creates a read-only token scoped to one exam's
// progress view.
func (s *Service) GenerateInvigilatorToken(examID uuid.UUID) (string, error) {
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.SessionTTL)),
		},
		TokenType: TokenTypeInvigilator,
		ExamID:    examID.String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// ValidateToken parses and validates an attempt JWT, returning the claims.
func (s *Service) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
