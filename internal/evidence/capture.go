package evidence

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Capture cadence per stream. Webcam frames are identity proof and come
// slowly at low quality; screen frames verify content and come faster at
// higher fidelity. The jitter spreads concurrent students so they do not
// all upload in the same instant.
const (
	WebcamPeriod = 60 * time.Second
	ScreenPeriod = 15 * time.Second
	MaxJitter    = 4 * time.Second
)

// FrameMeta describes a frame as reported by the browser shell.
type FrameMeta struct {
	Stream  StreamType `json:"stream"`
	Width   int        `json:"width"`
	Height  int        `json:"height"`
	Live    bool       `json:"live"`
	Visible bool       `json:"visible"`
	Trigger string     `json:"trigger"`
}

// SizeLimits caps the accepted frame size per stream, enforcing the lower
// webcam quality target at admission time (encoding happens in the shell).
type SizeLimits struct {
	Webcam int64
	Screen int64
}

// Scheduler drives periodic capture requests and admits incoming frames
// into the upload queue. It is frozen the instant submission starts.
type Scheduler struct {
	mu     sync.Mutex
	frozen bool
	timers []*time.Timer

	requestCapture func(stream StreamType)
	pools          map[StreamType]*SlotPool
	queue          *Queue
	limits         SizeLimits
	jitter         func() time.Duration
	periods        map[StreamType]time.Duration
	log            zerolog.Logger
}

// NewScheduler creates a Scheduler for the streams present in pools.
// requestCapture is invoked on each tick to ask the shell for a frame.
func NewScheduler(pools map[StreamType]*SlotPool, queue *Queue, limits SizeLimits, requestCapture func(StreamType), log zerolog.Logger) *Scheduler {
	return &Scheduler{
		requestCapture: requestCapture,
		pools:          pools,
		queue:          queue,
		limits:         limits,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(MaxJitter)))
		},
		periods: map[StreamType]time.Duration{
			StreamWebcam: WebcamPeriod,
			StreamScreen: ScreenPeriod,
		},
		log: log.With().Str("component", "capture_scheduler").Logger(),
	}
}

// Start arms the periodic capture timers for every configured stream.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for stream := range s.pools {
		s.arm(stream)
	}
}

// arm schedules the next tick for one stream. Caller holds s.mu.
func (s *Scheduler) arm(stream StreamType) {
	if s.frozen {
		return
	}
	delay := s.periods[stream] + s.jitter()
	t := time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.frozen {
			s.mu.Unlock()
			return
		}
		s.arm(stream)
		s.mu.Unlock()
		s.requestCapture(stream)
	})
	s.timers = append(s.timers, t)
}

// Freeze stops all capture scheduling. A timer that already fired becomes a
// no-op through the frozen flag.
func (s *Scheduler) Freeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = true
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}

// SubmitFrame admits one frame from the shell. Frames from a dead stream, a
// hidden tab, or with zero dimensions are skipped — a hidden tab never
// produces a usable frame, so skipping beats uploading blank evidence.
// Admitted frames consume exactly one slot and join the upload queue.
func (s *Scheduler) SubmitFrame(ctx context.Context, meta FrameMeta, blob []byte) bool {
	s.mu.Lock()
	frozen := s.frozen
	s.mu.Unlock()
	if frozen {
		return false
	}

	pool, ok := s.pools[meta.Stream]
	if !ok {
		s.log.Debug().Str("stream", string(meta.Stream)).Msg("frame for unmonitored stream")
		return false
	}
	if !meta.Live || meta.Width <= 0 || meta.Height <= 0 {
		s.log.Debug().Str("stream", string(meta.Stream)).Msg("skipping frame from dead stream")
		return false
	}
	if !meta.Visible {
		s.log.Debug().Str("stream", string(meta.Stream)).Msg("skipping frame from hidden tab")
		return false
	}
	if limit := s.limitFor(meta.Stream); limit > 0 && int64(len(blob)) > limit {
		s.log.Warn().
			Str("stream", string(meta.Stream)).
			Int("size", len(blob)).
			Msg("frame over size limit, rejected")
		return false
	}

	uri, ok := pool.Acquire(ctx)
	if !ok {
		return false
	}

	trigger := meta.Trigger
	if trigger == "" {
		trigger = "periodic"
	}
	return s.queue.Enqueue(Unit{
		Stream:  meta.Stream,
		SlotURI: uri,
		Blob:    blob,
		Trigger: trigger,
	})
}

func (s *Scheduler) limitFor(stream StreamType) int64 {
	switch stream {
	case StreamWebcam:
		return s.limits.Webcam
	case StreamScreen:
		return s.limits.Screen
	}
	return 0
}
