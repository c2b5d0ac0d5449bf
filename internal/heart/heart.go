// Package heart tracks request and message activity for the external
// idle-shutdown policy. Every handled request beats the heart; the policy
// polls Active and the persisted timestamp to decide whether the process
// should be terminated.
package heart

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ConnCounter reports the number of live connections on the transport.
// Probing may require I/O and can fail; failures are propagated to the
// caller of Active rather than reported as inactivity.
type ConnCounter func(ctx context.Context) (int, error)

// Heart records activity timestamps and answers liveness queries.
type Heart struct {
	store     Store
	count     ConnCounter
	idleAfter time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	lastBeat time.Time
	writing  bool
}

// New creates a Heart persisting beats to store. idleAfter bounds how long
// after the last beat Expired starts reporting true.
func New(store Store, count ConnCounter, idleAfter time.Duration, logger *zap.Logger) *Heart {
	return &Heart{
		store:     store,
		count:     count,
		idleAfter: idleAfter,
		logger:    logger.Named("heart"),
	}
}

// Beat records the current time as the most recent observed activity.
// It is called on every request and every inbound WebSocket message, so it
// only takes a timestamp under the mutex; persistence happens off the
// request path and is coalesced while a write is already in flight.
func (h *Heart) Beat() {
	now := time.Now()

	h.mu.Lock()
	h.lastBeat = now
	if h.writing {
		h.mu.Unlock()
		return
	}
	h.writing = true
	h.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.store.Write(ctx, now); err != nil {
			h.logger.Warn("failed to persist heartbeat", zap.Error(err))
		}
		h.mu.Lock()
		h.writing = false
		h.mu.Unlock()
	}()
}

// LastBeat returns the most recent recorded activity time. The zero time
// means no beat has been recorded since startup.
func (h *Heart) LastBeat() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastBeat
}

// Expired reports whether the idle window has elapsed since the last beat.
func (h *Heart) Expired() bool {
	h.mu.Lock()
	last := h.lastBeat
	h.mu.Unlock()
	return last.IsZero() || time.Since(last) >= h.idleAfter
}

// Active reports whether the transport currently holds live connections.
// A probe failure is returned to the caller, never mapped to inactive.
func (h *Heart) Active(ctx context.Context) (bool, error) {
	n, err := h.count(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
