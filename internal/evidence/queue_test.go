package evidence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// recordingUploader counts attempts and observes concurrency.
type recordingUploader struct {
	mu         sync.Mutex
	uris       []string
	inFlight   atomic.Int32
	maxFlight  atomic.Int32
	delay      time.Duration
	failPer    map[string]int // uri → number of failures before success
	alwaysFail error
}

func (u *recordingUploader) Upload(_ context.Context, uri string, _ []byte) error {
	cur := u.inFlight.Add(1)
	defer u.inFlight.Add(-1)
	for {
		max := u.maxFlight.Load()
		if cur <= max || u.maxFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	if u.delay > 0 {
		time.Sleep(u.delay)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.uris = append(u.uris, uri)

	if u.alwaysFail != nil {
		return u.alwaysFail
	}
	if remaining, ok := u.failPer[uri]; ok && remaining > 0 {
		u.failPer[uri] = remaining - 1
		return errors.New("upload rejected: status 429")
	}
	return nil
}

func (u *recordingUploader) attempts() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.uris...)
}

func newFastQueue(up Uploader) *Queue {
	q := NewQueue(up, zerolog.Nop())
	q.backoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	q.gap = time.Millisecond
	return q
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestQueueNeverRunsUploadsConcurrently(t *testing.T) {
	up := &recordingUploader{delay: 10 * time.Millisecond}
	q := newFastQueue(up)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	for i := 0; i < 8; i++ {
		if !q.Enqueue(Unit{Stream: StreamWebcam, SlotURI: fmt.Sprintf("slot-%d", i)}) {
			t.Fatalf("enqueue %d rejected", i)
		}
	}

	waitFor(t, func() bool { return len(up.attempts()) == 8 })

	if max := up.maxFlight.Load(); max != 1 {
		t.Fatalf("observed %d uploads in flight, want exactly 1", max)
	}
}

func TestQueueRetriesThenDropsAndProceeds(t *testing.T) {
	// slot-a fails every attempt: initial try plus the full 3-step backoff
	// schedule, then the unit is dropped and slot-b still uploads.
	up := &recordingUploader{failPer: map[string]int{"slot-a": 99}}
	q := newFastQueue(up)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	q.Enqueue(Unit{Stream: StreamScreen, SlotURI: "slot-a"})
	q.Enqueue(Unit{Stream: StreamScreen, SlotURI: "slot-b"})

	waitFor(t, func() bool {
		attempts := up.attempts()
		return len(attempts) > 0 && attempts[len(attempts)-1] == "slot-b"
	})

	var aAttempts int
	for _, uri := range up.attempts() {
		if uri == "slot-a" {
			aAttempts++
		}
	}
	if aAttempts != 4 {
		t.Fatalf("slot-a attempted %d times, want 4 (initial + 3 retries)", aAttempts)
	}
	if q.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", q.Dropped())
	}
}

func TestQueueTransientFailureEventuallySucceeds(t *testing.T) {
	up := &recordingUploader{failPer: map[string]int{"slot-x": 2}}
	q := newFastQueue(up)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	q.Enqueue(Unit{Stream: StreamWebcam, SlotURI: "slot-x"})

	waitFor(t, func() bool { return len(up.attempts()) == 3 })

	if q.Dropped() != 0 {
		t.Fatalf("unit dropped despite eventual success")
	}
}

func TestQueueFatalErrorSkipsRetries(t *testing.T) {
	up := &recordingUploader{alwaysFail: &FatalUploadError{Status: 403}}
	q := newFastQueue(up)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	q.Enqueue(Unit{Stream: StreamWebcam, SlotURI: "slot-f"})

	waitFor(t, func() bool { return q.Dropped() == 1 })

	if n := len(up.attempts()); n != 1 {
		t.Fatalf("fatal error retried: %d attempts", n)
	}
}

func TestQueueFrozenRejectsNewUnits(t *testing.T) {
	q := newFastQueue(&recordingUploader{})
	q.Freeze()

	if q.Enqueue(Unit{Stream: StreamWebcam, SlotURI: "late"}) {
		t.Fatal("frozen queue accepted a unit")
	}
}
