package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aksara-lms/proctor-backend/internal/config"
	"github.com/aksara-lms/proctor-backend/internal/model"
)

type memStore struct {
	data    map[string]string
	failGet bool
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	if m.failGet {
		return "", errors.New("connection refused")
	}
	val, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (m *memStore) SetWithTTL(_ context.Context, key, value string, _ time.Duration) error {
	m.data[key] = value
	return nil
}

func (m *memStore) Del(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func newTestValidator(store Store) *Validator {
	return NewValidator(store, time.Hour, zerolog.Nop())
}

func seedSession(t *testing.T, store *memStore, examID uuid.UUID, sess model.ExamSession) {
	t.Helper()
	raw, err := json.Marshal(&sess)
	if err != nil {
		t.Fatal(err)
	}
	store.data[config.CacheKey.SessionKey(examID.String(), sess.Token)] = string(raw)
}

func TestValidateHappyPath(t *testing.T) {
	store := newMemStore()
	v := newTestValidator(store)
	examID := uuid.New()

	seedSession(t, store, examID, model.ExamSession{
		Token:      "tok-1",
		DeviceHash: "dev-abc",
		StudentID:  7,
		ExpiresAt:  time.Now().Add(time.Hour),
	})

	res := v.Validate(context.Background(), examID, "tok-1", "dev-abc")
	if !res.Valid || res.Status != StatusValid {
		t.Fatalf("got %+v, want valid", res)
	}
	if res.StudentID != 7 {
		t.Fatalf("student id = %d, want 7", res.StudentID)
	}
}

func TestValidateDistinguishesFailureModes(t *testing.T) {
	examID := uuid.New()

	tests := []struct {
		name       string
		seed       *model.ExamSession
		token      string
		deviceHash string
		want       Status
	}{
		{
			name:  "missing record",
			token: "no-such-token", deviceHash: "dev",
			want: StatusNotFound,
		},
		{
			name: "expired",
			seed: &model.ExamSession{
				Token: "tok-exp", DeviceHash: "dev",
				ExpiresAt: time.Now().Add(-time.Minute),
			},
			token: "tok-exp", deviceHash: "dev",
			want: StatusExpired,
		},
		{
			name: "device mismatch",
			seed: &model.ExamSession{
				Token: "tok-dev", DeviceHash: "dev-original",
				ExpiresAt: time.Now().Add(time.Hour),
			},
			token: "tok-dev", deviceHash: "dev-other",
			want: StatusDeviceMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			if tt.seed != nil {
				seedSession(t, store, examID, *tt.seed)
			}
			v := newTestValidator(store)

			res := v.Validate(context.Background(), examID, tt.token, tt.deviceHash)
			if res.Valid {
				t.Fatal("expected invalid result")
			}
			if res.Status != tt.want {
				t.Fatalf("status = %q, want %q", res.Status, tt.want)
			}
		})
	}
}

func TestValidateStorageErrorDegradesToGenericInvalid(t *testing.T) {
	store := newMemStore()
	store.failGet = true
	v := newTestValidator(store)

	res := v.Validate(context.Background(), uuid.New(), "tok", "dev")
	if res.Valid || res.Status != StatusInvalid {
		t.Fatalf("got %+v, want generic invalid", res)
	}
}

func TestValidateCorruptRecordDegradesToGenericInvalid(t *testing.T) {
	store := newMemStore()
	examID := uuid.New()
	store.data[config.CacheKey.SessionKey(examID.String(), "tok")] = "{not json"
	v := newTestValidator(store)

	res := v.Validate(context.Background(), examID, "tok", "dev")
	if res.Status != StatusInvalid {
		t.Fatalf("status = %q, want %q", res.Status, StatusInvalid)
	}
}

func TestExtendActivityPushesExpiry(t *testing.T) {
	store := newMemStore()
	v := newTestValidator(store)
	examID := uuid.New()

	seedSession(t, store, examID, model.ExamSession{
		Token: "tok", DeviceHash: "dev", StudentID: 1,
		ExpiresAt: time.Now().Add(time.Minute),
	})

	if err := v.ExtendActivity(context.Background(), examID, "tok"); err != nil {
		t.Fatal(err)
	}

	var sess model.ExamSession
	raw := store.data[config.CacheKey.SessionKey(examID.String(), "tok")]
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		t.Fatal(err)
	}
	if until := time.Until(sess.ExpiresAt); until < 50*time.Minute {
		t.Fatalf("expiry extended only %v into the future", until)
	}
}

func TestExtendActivityRefusesExpiredSession(t *testing.T) {
	store := newMemStore()
	v := newTestValidator(store)
	examID := uuid.New()

	seedSession(t, store, examID, model.ExamSession{
		Token: "tok", DeviceHash: "dev",
		ExpiresAt: time.Now().Add(-time.Minute),
	})

	if err := v.ExtendActivity(context.Background(), examID, "tok"); err == nil {
		t.Fatal("expected error for expired session")
	}
}

func TestEndDestroysRecord(t *testing.T) {
	store := newMemStore()
	v := newTestValidator(store)
	examID := uuid.New()

	seedSession(t, store, examID, model.ExamSession{
		Token: "tok", DeviceHash: "dev",
		ExpiresAt: time.Now().Add(time.Hour),
	})

	if err := v.End(context.Background(), examID, "tok"); err != nil {
		t.Fatal(err)
	}
	res := v.Validate(context.Background(), examID, "tok", "dev")
	if res.Status != StatusNotFound {
		t.Fatalf("status after End = %q, want %q", res.Status, StatusNotFound)
	}
}

func TestIssueRoundTrips(t *testing.T) {
	store := newMemStore()
	v := newTestValidator(store)
	examID := uuid.New()

	token, err := v.Issue(context.Background(), examID, 42, "dev-xyz")
	if err != nil {
		t.Fatal(err)
	}

	res := v.Validate(context.Background(), examID, token, "dev-xyz")
	if !res.Valid || res.StudentID != 42 {
		t.Fatalf("issued session failed to validate: %+v", res)
	}
}
