package evidence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newTestScheduler(t *testing.T, uris []string) (*Scheduler, *Queue, *recordingUploader) {
	t.Helper()
	up := &recordingUploader{}
	q := newFastQueue(up)

	pools := map[StreamType]*SlotPool{
		StreamWebcam: NewSlotPool(uuid.New(), StreamWebcam, uris, 0, 5, nil, zerolog.Nop()),
	}
	s := NewScheduler(pools, q, SizeLimits{Webcam: 100, Screen: 400}, func(StreamType) {}, zerolog.Nop())
	return s, q, up
}

func liveFrame() FrameMeta {
	return FrameMeta{Stream: StreamWebcam, Width: 640, Height: 480, Live: true, Visible: true}
}

func TestSubmitFrameAdmitsHealthyFrame(t *testing.T) {
	s, q, up := newTestScheduler(t, []string{"slot-0"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	if !s.SubmitFrame(ctx, liveFrame(), []byte("jpeg")) {
		t.Fatal("healthy frame rejected")
	}
	waitFor(t, func() bool { return len(up.attempts()) == 1 })
	if up.attempts()[0] != "slot-0" {
		t.Fatalf("uploaded to %q, want slot-0", up.attempts()[0])
	}
}

func TestSubmitFrameSkipsUnusableFrames(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*FrameMeta)
	}{
		{"dead stream", func(m *FrameMeta) { m.Live = false }},
		{"zero width", func(m *FrameMeta) { m.Width = 0 }},
		{"zero height", func(m *FrameMeta) { m.Height = 0 }},
		{"hidden tab", func(m *FrameMeta) { m.Visible = false }},
		{"unmonitored stream", func(m *FrameMeta) { m.Stream = StreamScreen }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newTestScheduler(t, []string{"slot-0"})
			meta := liveFrame()
			tt.mutate(&meta)

			if s.SubmitFrame(context.Background(), meta, []byte("jpeg")) {
				t.Fatal("unusable frame admitted")
			}
			// Skipped frames must not burn a slot.
			if got := s.pools[StreamWebcam].Remaining(); got != 1 {
				t.Fatalf("slot consumed by skipped frame, remaining=%d", got)
			}
		})
	}
}

func TestSubmitFrameEnforcesWebcamQualityTarget(t *testing.T) {
	s, _, _ := newTestScheduler(t, []string{"slot-0"})

	over := make([]byte, 101)
	if s.SubmitFrame(context.Background(), liveFrame(), over) {
		t.Fatal("oversized webcam frame admitted")
	}
}

func TestFrozenSchedulerRejectsFramesAndStopsTicking(t *testing.T) {
	up := &recordingUploader{}
	q := newFastQueue(up)
	pools := map[StreamType]*SlotPool{
		StreamWebcam: NewSlotPool(uuid.New(), StreamWebcam, []string{"s"}, 0, 5, nil, zerolog.Nop()),
	}

	var mu sync.Mutex
	ticks := 0
	s := NewScheduler(pools, q, SizeLimits{}, func(StreamType) {
		mu.Lock()
		ticks++
		mu.Unlock()
	}, zerolog.Nop())
	s.periods = map[StreamType]time.Duration{StreamWebcam: 5 * time.Millisecond, StreamScreen: 5 * time.Millisecond}
	s.jitter = func() time.Duration { return 0 }

	s.Start()
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticks >= 2
	})

	s.Freeze()
	mu.Lock()
	after := ticks
	mu.Unlock()

	if s.SubmitFrame(context.Background(), liveFrame(), []byte("x")) {
		t.Fatal("frozen scheduler admitted a frame")
	}

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	final := ticks
	mu.Unlock()
	if final > after+1 {
		t.Fatalf("timers kept firing after freeze: %d → %d", after, final)
	}
}
