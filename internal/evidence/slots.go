// Package evidence moves proctoring screenshots off-device: it admits
// captured frames, binds each one to a pre-authorized upload slot, and
// pushes them through a single-flight upload queue with bounded retry.
package evidence

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// StreamType identifies which media stream a capture came from.
type StreamType string

const (
	StreamWebcam StreamType = "webcam"
	StreamScreen StreamType = "screen"
)

// Allocator requests additional pre-authorized upload slots from the
// external storage service.
type Allocator interface {
	RequestSlots(ctx context.Context, examID uuid.UUID, stream StreamType, count int) ([]string, error)
}

// Slot is one pre-authorized, one-time-use upload destination.
type Slot struct {
	URI      string
	Consumed bool
}

// SlotPool hands out slots for one stream in FIFO order and replenishes
// itself asynchronously when running low. A slot is consumed exactly once;
// no two captures ever share one.
type SlotPool struct {
	mu           sync.Mutex
	stream       StreamType
	examID       uuid.UUID
	slots        []Slot
	next         int
	lowWater     int
	batchSize    int
	allocator    Allocator
	replenishing bool
	log          zerolog.Logger
}

// NewSlotPool creates a pool seeded with the initial pre-authorized URIs.
func NewSlotPool(examID uuid.UUID, stream StreamType, uris []string, lowWater, batchSize int, allocator Allocator, log zerolog.Logger) *SlotPool {
	pool := &SlotPool{
		stream:    stream,
		examID:    examID,
		lowWater:  lowWater,
		batchSize: batchSize,
		allocator: allocator,
		log: log.With().
			Str("component", "slot_pool").
			Str("stream", string(stream)).
			Logger(),
	}
	pool.add(uris)
	return pool
}

func (p *SlotPool) add(uris []string) {
	for _, uri := range uris {
		p.slots = append(p.slots, Slot{URI: uri})
	}
}

// Remaining returns the number of unconsumed slots.
func (p *SlotPool) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots) - p.next
}

// Acquire consumes the next slot. It returns false when the pool is empty;
// the capture is then dropped rather than reusing a slot. Falling under the
// low-water mark triggers at most one in-flight replenish.
func (p *SlotPool) Acquire(ctx context.Context) (string, bool) {
	p.mu.Lock()

	var uri string
	ok := p.next < len(p.slots)
	if ok {
		p.slots[p.next].Consumed = true
		uri = p.slots[p.next].URI
		p.next++
	}

	needMore := len(p.slots)-p.next <= p.lowWater && !p.replenishing && p.allocator != nil
	if needMore {
		p.replenishing = true
	}
	p.mu.Unlock()

	if needMore {
		go p.replenish(ctx)
	}
	if !ok {
		p.log.Warn().Msg("slot pool exhausted, dropping capture")
	}
	return uri, ok
}

func (p *SlotPool) replenish(ctx context.Context) {
	uris, err := p.allocator.RequestSlots(ctx, p.examID, p.stream, p.batchSize)

	p.mu.Lock()
	p.replenishing = false
	if err == nil {
		p.add(uris)
	}
	remaining := len(p.slots) - p.next
	p.mu.Unlock()

	if err != nil {
		p.log.Warn().Err(err).Msg("slot replenish failed")
		return
	}
	p.log.Debug().Int("added", len(uris)).Int("remaining", remaining).Msg("slots replenished")
}
