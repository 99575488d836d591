package maintenance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pocketbrain/pocketbrain-sync/internal/metrics"
)

// Store is the slice of the sync service the retention loop needs.
type Store interface {
	PruneTombstones(ctx context.Context, retention time.Duration) (int64, error)
	PruneChanges(ctx context.Context, retention time.Duration) (int64, error)
	PruneIdempotency(ctx context.Context) (int64, error)
}

// Config sets the cycle schedule and retention windows.
type Config struct {
	Interval           time.Duration
	TombstoneRetention time.Duration
	ChangeRetention    time.Duration
}

// Loop runs retention cycles on a schedule. Cycles never overlap within the
// instance; the deletes themselves are idempotent, so peer instances may
// run their own loops concurrently.
type Loop struct {
	store Store
	cfg   Config

	running atomic.Bool

	mu              sync.Mutex
	cyclesRun       uint64
	cyclesFailed    uint64
	lastCompletedAt time.Time
	lastError       string
	lastTombstones  int64
	lastChanges     int64
	lastIdempotency int64
}

// New builds the loop around a store.
func New(store Store, cfg Config) *Loop {
	return &Loop{store: store, cfg: cfg}
}

// Run blocks until ctx ends, executing one cycle immediately and then on
// every interval tick.
func (l *Loop) Run(ctx context.Context) {
	l.RunCycle(ctx)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.RunCycle(ctx)
		}
	}
}

// RunCycle executes one retention pass. A pass already in flight makes this
// call a no-op; the return reports whether the cycle actually ran.
func (l *Loop) RunCycle(ctx context.Context) bool {
	if !l.running.CompareAndSwap(false, true) {
		log.Warn().Msg("maintenance cycle still running, skipping")
		return false
	}
	defer l.running.Store(false)

	started := time.Now()

	tombstones, tErr := l.store.PruneTombstones(ctx, l.cfg.TombstoneRetention)
	changes, cErr := l.store.PruneChanges(ctx, l.cfg.ChangeRetention)
	idempotency, iErr := l.store.PruneIdempotency(ctx)
	err := errors.Join(tErr, cErr, iErr)

	l.mu.Lock()
	l.cyclesRun++
	l.lastTombstones = tombstones
	l.lastChanges = changes
	l.lastIdempotency = idempotency
	if err != nil {
		l.cyclesFailed++
		l.lastError = err.Error()
	} else {
		l.lastCompletedAt = time.Now()
		l.lastError = ""
	}
	l.mu.Unlock()

	metrics.M.MaintenancePruned.WithLabelValues("tombstones").Add(float64(tombstones))
	metrics.M.MaintenancePruned.WithLabelValues("changes").Add(float64(changes))
	metrics.M.MaintenancePruned.WithLabelValues("idempotency").Add(float64(idempotency))

	if err != nil {
		metrics.M.MaintenanceCycles.WithLabelValues("error").Inc()
		log.Error().Err(err).Dur("took", time.Since(started)).Msg("maintenance cycle failed")
		return true
	}
	metrics.M.MaintenanceCycles.WithLabelValues("ok").Inc()
	log.Info().
		Int64("tombstones", tombstones).
		Int64("changes", changes).
		Int64("idempotency", idempotency).
		Dur("took", time.Since(started)).
		Msg("maintenance cycle complete")
	return true
}

// Health is the loop's slice of the readiness body.
type Health struct {
	CyclesRun       uint64 `json:"cyclesRun"`
	CyclesFailed    uint64 `json:"cyclesFailed"`
	LastCompletedAt string `json:"lastCompletedAt,omitempty"`
	LastError       string `json:"lastError,omitempty"`
	LastPruned      struct {
		Tombstones  int64 `json:"tombstones"`
		Changes     int64 `json:"changes"`
		Idempotency int64 `json:"idempotency"`
	} `json:"lastPruned"`
}

// Health reports the loop's current state.
func (l *Loop) Health() Health {
	l.mu.Lock()
	defer l.mu.Unlock()

	h := Health{
		CyclesRun:    l.cyclesRun,
		CyclesFailed: l.cyclesFailed,
		LastError:    l.lastError,
	}
	if !l.lastCompletedAt.IsZero() {
		h.LastCompletedAt = l.lastCompletedAt.UTC().Format(time.RFC3339)
	}
	h.LastPruned.Tombstones = l.lastTombstones
	h.LastPruned.Changes = l.lastChanges
	h.LastPruned.Idempotency = l.lastIdempotency
	return h
}
