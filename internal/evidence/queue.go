package evidence

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Uploader performs one direct upload to a pre-authorized URI.
type Uploader interface {
	Upload(ctx context.Context, uri string, blob []byte) error
}

// FatalUploadError marks a response that must not be retried (e.g. a 4xx
// other than 429). Everything else — transport failures, 429, 5xx — is
// retried on the backoff schedule.
type FatalUploadError struct {
	Status int
}

func (e *FatalUploadError) Error() string {
	return fmt.Sprintf("fatal upload response: status %d", e.Status)
}

// Unit is one capture bound to one slot, queued for upload.
type Unit struct {
	Stream  StreamType
	SlotURI string
	Blob    []byte
	Trigger string // "periodic" or the violation type that forced it
}

// DefaultBackoff is the retry schedule after a failed upload attempt.
var DefaultBackoff = []time.Duration{2 * time.Second, 5 * time.Second, 15 * time.Second}

// Queue serializes all evidence uploads for one attempt: exactly one upload
// is in flight at any moment, with a short delay between units, regardless
// of how many capture events fire concurrently. This bounds client
// bandwidth and protects the shared storage backend from burst load.
type Queue struct {
	units    chan Unit
	uploader Uploader
	backoff  []time.Duration
	gap      time.Duration
	frozen   atomic.Bool
	dropped  atomic.Int64
	log      zerolog.Logger
}

// NewQueue creates an upload queue with the default backoff schedule and a
// small inter-upload delay.
func NewQueue(uploader Uploader, log zerolog.Logger) *Queue {
	return &Queue{
		units:    make(chan Unit, 32),
		uploader: uploader,
		backoff:  DefaultBackoff,
		gap:      500 * time.Millisecond,
		log:      log.With().Str("component", "upload_queue").Logger(),
	}
}

// Enqueue accepts a unit for upload. Returns false when the queue is frozen
// (submission started) or the buffer is full; the unit is then dropped and
// counted — evidence loss is tolerated, exam continuity is not.
func (q *Queue) Enqueue(u Unit) bool {
	if q.frozen.Load() {
		return false
	}
	select {
	case q.units <- u:
		return true
	default:
		q.dropped.Add(1)
		q.log.Warn().Str("stream", string(u.Stream)).Msg("upload buffer full, dropping unit")
		return false
	}
}

// Freeze stops the queue from accepting new units. Already-queued units are
// abandoned when the context is cancelled.
func (q *Queue) Freeze() {
	q.frozen.Store(true)
}

// Dropped returns how many units were lost to a full buffer or exhausted
// retries.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Run processes units one at a time until ctx is cancelled. Call in a
// goroutine.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-q.units:
			q.process(ctx, u)
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.gap):
			}
		}
	}
}

// process attempts the upload, then walks the backoff schedule. After the
// schedule is exhausted the unit is dropped and the queue moves on.
func (q *Queue) process(ctx context.Context, u Unit) {
	err := q.uploader.Upload(ctx, u.SlotURI, u.Blob)
	if err == nil {
		return
	}

	var fatal *FatalUploadError
	for attempt := 0; attempt < len(q.backoff); attempt++ {
		if errors.As(err, &fatal) {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.backoff[attempt]):
		}

		err = q.uploader.Upload(ctx, u.SlotURI, u.Blob)
		if err == nil {
			return
		}
	}

	q.dropped.Add(1)
	q.log.Warn().Err(err).
		Str("stream", string(u.Stream)).
		Str("trigger", u.Trigger).
		Msg("upload retries exhausted, dropping unit")
}
