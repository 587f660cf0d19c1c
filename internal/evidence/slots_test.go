package evidence

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fakeAllocator struct {
	mu    sync.Mutex
	calls int
	next  int
	err   error
}

func (a *fakeAllocator) RequestSlots(_ context.Context, _ uuid.UUID, _ StreamType, count int) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	out := make([]string, count)
	for i := range out {
		out[i] = fmt.Sprintf("extra-%d", a.next)
		a.next++
	}
	return out, nil
}

func (a *fakeAllocator) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func TestSlotPoolHandsOutSlotsInFIFOOrder(t *testing.T) {
	pool := NewSlotPool(uuid.New(), StreamWebcam, []string{"s0", "s1", "s2"}, 0, 5, nil, zerolog.Nop())

	for i := 0; i < 3; i++ {
		uri, ok := pool.Acquire(context.Background())
		if !ok {
			t.Fatalf("acquire %d failed", i)
		}
		if want := fmt.Sprintf("s%d", i); uri != want {
			t.Fatalf("acquire %d = %q, want %q", i, uri, want)
		}
	}
}

func TestSlotPoolNeverReusesASlot(t *testing.T) {
	pool := NewSlotPool(uuid.New(), StreamScreen, []string{"a", "b"}, 0, 5, nil, zerolog.Nop())

	seen := make(map[string]bool)
	for {
		uri, ok := pool.Acquire(context.Background())
		if !ok {
			break
		}
		if seen[uri] {
			t.Fatalf("slot %q handed out twice", uri)
		}
		seen[uri] = true
	}
	if len(seen) != 2 {
		t.Fatalf("consumed %d slots, want 2", len(seen))
	}
}

func TestSlotPoolExhaustionDropsCapture(t *testing.T) {
	pool := NewSlotPool(uuid.New(), StreamWebcam, nil, 0, 5, nil, zerolog.Nop())

	if _, ok := pool.Acquire(context.Background()); ok {
		t.Fatal("empty pool handed out a slot")
	}
}

func TestSlotPoolReplenishesUnderLowWater(t *testing.T) {
	alloc := &fakeAllocator{}
	pool := NewSlotPool(uuid.New(), StreamScreen, []string{"s0", "s1", "s2"}, 2, 4, alloc, zerolog.Nop())

	// First acquire leaves 2 remaining == low-water mark → replenish.
	pool.Acquire(context.Background())

	waitFor(t, func() bool { return alloc.callCount() >= 1 })
	waitFor(t, func() bool { return pool.Remaining() == 6 })
}

func TestSlotPoolReplenishFailureIsNonFatal(t *testing.T) {
	alloc := &fakeAllocator{err: fmt.Errorf("allocator down")}
	pool := NewSlotPool(uuid.New(), StreamScreen, []string{"s0", "s1"}, 1, 4, alloc, zerolog.Nop())

	pool.Acquire(context.Background())
	waitFor(t, func() bool { return alloc.callCount() >= 1 })

	// Remaining slot still served; exhaustion after that.
	if _, ok := pool.Acquire(context.Background()); !ok {
		t.Fatal("remaining slot not served after failed replenish")
	}

	// Allow any second replenish attempt to settle before the test ends.
	time.Sleep(20 * time.Millisecond)
}
