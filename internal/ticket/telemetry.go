package ticket

import (
	"sync"
	"time"
)

// Telemetry tracks ticket outcomes and replay-store degradation spells for
// the readiness report. Prometheus carries the same counts for scraping;
// these stay readable in-process.
type Telemetry struct {
	mu            sync.Mutex
	attempts      uint64
	successes     uint64
	replayRejects uint64
	failOpens     uint64
	storageErrors uint64

	degraded      bool
	degradedSince time.Time
	totalDegraded time.Duration
	transitions   uint64
}

func (t *Telemetry) attempt() {
	t.mu.Lock()
	t.attempts++
	t.mu.Unlock()
}

func (t *Telemetry) success() {
	t.mu.Lock()
	t.successes++
	t.mu.Unlock()
}

func (t *Telemetry) replayReject() {
	t.mu.Lock()
	t.replayRejects++
	t.mu.Unlock()
}

func (t *Telemetry) failOpen() {
	t.mu.Lock()
	t.failOpens++
	t.mu.Unlock()
}

// storageError counts the failure and opens a degradation spell.
func (t *Telemetry) storageError() {
	t.mu.Lock()
	t.storageErrors++
	if !t.degraded {
		t.degraded = true
		t.degradedSince = time.Now()
		t.transitions++
	}
	t.mu.Unlock()
}

// storeOK closes any open degradation spell after the store answered again.
func (t *Telemetry) storeOK() {
	t.mu.Lock()
	if t.degraded {
		t.totalDegraded += time.Since(t.degradedSince)
		t.degraded = false
		t.transitions++
	}
	t.mu.Unlock()
}

// TelemetrySnapshot is the JSON shape embedded in the readiness body.
type TelemetrySnapshot struct {
	Mode            string `json:"mode"`
	Strict          bool   `json:"strict"`
	Attempts        uint64 `json:"attempts"`
	Successes       uint64 `json:"successes"`
	ReplayRejects   uint64 `json:"replayRejects"`
	FailOpenPasses  uint64 `json:"failOpenBypasses"`
	StorageErrors   uint64 `json:"storageErrors"`
	Degraded        bool   `json:"degraded"`
	DegradedSinceTs int64  `json:"degradedSinceTs,omitempty"`
	CurrentDwellMs  int64  `json:"currentDwellMs"`
	TotalDwellMs    int64  `json:"totalDwellMs"`
	Transitions     uint64 `json:"transitions"`
}

func (t *Telemetry) snapshot(mode string, strict bool) TelemetrySnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := TelemetrySnapshot{
		Mode:           mode,
		Strict:         strict,
		Attempts:       t.attempts,
		Successes:      t.successes,
		ReplayRejects:  t.replayRejects,
		FailOpenPasses: t.failOpens,
		StorageErrors:  t.storageErrors,
		Degraded:       t.degraded,
		TotalDwellMs:   t.totalDegraded.Milliseconds(),
		Transitions:    t.transitions,
	}
	if t.degraded {
		s.DegradedSinceTs = t.degradedSince.UnixMilli()
		s.CurrentDwellMs = time.Since(t.degradedSince).Milliseconds()
		s.TotalDwellMs = (t.totalDegraded + time.Since(t.degradedSince)).Milliseconds()
	}
	return s
}
