package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Heartbeat periodically extends a session's activity window while an
// attempt is running. It is a liveness signal only: failures are logged and
// never interrupt the exam, and the interval is independent of the exam
// timer.
type Heartbeat struct {
	validator *Validator
	interval  time.Duration
	log       zerolog.Logger
}

// NewHeartbeat creates a Heartbeat with a fixed interval.
func NewHeartbeat(validator *Validator, interval time.Duration, log zerolog.Logger) *Heartbeat {
	return &Heartbeat{
		validator: validator,
		interval:  interval,
		log:       log.With().Str("component", "session_heartbeat").Logger(),
	}
}

// Run pings the activity extension until ctx is cancelled. Call in a
// goroutine; cancel the context on submission or teardown.
func (h *Heartbeat) Run(ctx context.Context, examID uuid.UUID, token string) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.validator.ExtendActivity(ctx, examID, token); err != nil {
				if ctx.Err() != nil {
					return
				}
				h.log.Warn().Err(err).
					Str("exam_id", examID.String()).
					Msg("heartbeat failed")
			}
		}
	}
}
