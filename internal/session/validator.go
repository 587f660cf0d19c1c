// Package session validates exam sessions and keeps them alive. A session
// record is created externally when the student passes password
// verification; this package only reads, extends, and destroys it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aksara-lms/proctor-backend/internal/config"
	"github.com/aksara-lms/proctor-backend/internal/model"
)

// ErrNotFound is returned by a Store when no record exists for a key.
var ErrNotFound = errors.New("session record not found")

// Store abstracts the session record storage so the validator can be
// exercised without a live Redis.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// redisStore backs Store with Redis, the production configuration.
type redisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps a Redis client as a session record Store.
func NewRedisStore(rdb *redis.Client) Store {
	return &redisStore{rdb: rdb}
}

func (s *redisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

func (s *redisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *redisStore) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// Status is the outcome of a session validation.
type Status string

const (
	StatusValid          Status = "valid"
	StatusExpired        Status = "expired"
	StatusDeviceMismatch Status = "device_mismatch"
	StatusNotFound       Status = "not_found"
	// StatusInvalid covers every other failure (storage error, corrupt
	// record). Callers treat it as the generic invalid-session path.
	StatusInvalid Status = "invalid"
)

// Result reports a validation outcome. StudentID is set only when valid.
type Result struct {
	Valid     bool   `json:"valid"`
	Status    Status `json:"status"`
	StudentID int    `json:"-"`
}

// Validator checks session records against a live device fingerprint.
type Validator struct {
	store Store
	ttl   time.Duration
	log   zerolog.Logger
	now   func() time.Time
}

// NewValidator creates a Validator with the configured session TTL.
func NewValidator(store Store, ttl time.Duration, log zerolog.Logger) *Validator {
	return &Validator{
		store: store,
		ttl:   ttl,
		log:   log.With().Str("component", "session_validator").Logger(),
		now:   time.Now,
	}
}

// Validate checks that the presented token exists for the exam, has not
// expired, and is bound to the presenting device. Each failure mode maps to
// a distinct status so the student gets a precise remediation message.
func (v *Validator) Validate(ctx context.Context, examID uuid.UUID, token, deviceHash string) Result {
	raw, err := v.store.Get(ctx, config.CacheKey.SessionKey(examID.String(), token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Result{Status: StatusNotFound}
		}
		v.log.Error().Err(err).Str("exam_id", examID.String()).Msg("session lookup failed")
		return Result{Status: StatusInvalid}
	}

	var sess model.ExamSession
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		v.log.Error().Err(err).Msg("corrupt session record")
		return Result{Status: StatusInvalid}
	}

	if sess.Expired(v.now()) {
		return Result{Status: StatusExpired}
	}
	if sess.DeviceHash != deviceHash {
		return Result{Status: StatusDeviceMismatch}
	}

	return Result{Valid: true, Status: StatusValid, StudentID: sess.StudentID}
}

// ExtendActivity pushes the session expiry forward by the configured TTL.
// Best-effort: the caller logs and swallows errors.
func (v *Validator) ExtendActivity(ctx context.Context, examID uuid.UUID, token string) error {
	key := config.CacheKey.SessionKey(examID.String(), token)

	raw, err := v.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	var sess model.ExamSession
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	if sess.Expired(v.now()) {
		return errors.New("session already expired")
	}

	sess.ExpiresAt = v.now().Add(v.ttl)
	updated, err := json.Marshal(&sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return v.store.SetWithTTL(ctx, key, string(updated), v.ttl)
}

// End destroys the session record. Called on exam submission.
func (v *Validator) End(ctx context.Context, examID uuid.UUID, token string) error {
	return v.store.Del(ctx, config.CacheKey.SessionKey(examID.String(), token))
}

// Issue writes a fresh session record bound to a device. In production the
// portal does this at password verification; the runtime exposes it for the
// issue-session ops tool only.
func (v *Validator) Issue(ctx context.Context, examID uuid.UUID, studentID int, deviceHash string) (string, error) {
	token := uuid.New().String()
	sess := model.ExamSession{
		Token:      token,
		DeviceHash: deviceHash,
		StudentID:  studentID,
		ExpiresAt:  v.now().Add(v.ttl),
	}

	raw, err := json.Marshal(&sess)
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	key := config.CacheKey.SessionKey(examID.String(), token)
	if err := v.store.SetWithTTL(ctx, key, string(raw), v.ttl); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}
