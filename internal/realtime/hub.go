package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/pocketbrain/pocketbrain-sync/internal/metrics"
)

// Channel is the fixed pub/sub channel shared by all instances.
const Channel = "pocketbrain:sync:events"

// Fan-out modes reported by Status.
const (
	ModeDistributed   = "distributed"
	ModeLocalFallback = "local-fallback"
)

// Degradation reasons. The hub is degraded whenever fan-out is local-only.
const (
	ReasonNotInitialized         = "NOT_INITIALIZED"
	ReasonRedisNotConfigured     = "REDIS_NOT_CONFIGURED"
	ReasonSubscriberConnectFail  = "SUBSCRIBER_CONNECT_FAILED"
	ReasonSubscriberClose        = "SUBSCRIBER_CLOSE"
	ReasonSubscriberEnd          = "SUBSCRIBER_END"
	ReasonSubscriberReconnecting = "SUBSCRIBER_RECONNECTING"
	ReasonSubscriberError        = "SUBSCRIBER_ERROR"
	ReasonPublishFailed          = "PUBLISH_FAILED"
)

// Hub distributes sync events to SSE listeners. Events always reach the
// process-local bus; when redis is configured they also cross instances via
// pub/sub. Distributed fan-out is available only while the subscriber link
// and the last publish are both healthy.
type Hub struct {
	bus    *localBus
	rdb    *redis.Client
	origin string

	mu              sync.Mutex
	initialized     bool
	subscriberReady bool
	publisherReady  bool
	degradedReason  string
	degradedSince   time.Time
	totalDegraded   time.Duration
	transitions     uint64
	lastError       string
}

// NewHub builds the hub. rdb may be nil, leaving fan-out process-local.
func NewHub(rdb *redis.Client) *Hub {
	h := &Hub{
		bus:            newLocalBus(),
		rdb:            rdb,
		origin:         uuid.NewString(),
		degradedReason: ReasonNotInitialized,
		degradedSince:  time.Now(),
	}
	metrics.M.FanoutFallbackActive.Set(1)
	metrics.M.FanoutSubscriberReady.Set(0)
	metrics.M.FanoutPublisherReady.Set(0)
	return h
}

// Start brings up the distributed layer. Without redis the hub stays in
// permanent local fallback. The subscriber goroutine runs until ctx ends.
func (h *Hub) Start(ctx context.Context) {
	if h.rdb == nil {
		h.setState(func() { h.initialized = true }, ReasonRedisNotConfigured, nil)
		log.Warn().Msg("realtime hub running in local-fallback mode, REDIS_URL not configured")
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := h.rdb.Ping(pingCtx).Err()
	cancel()

	reason := ""
	if err != nil {
		reason = ReasonSubscriberConnectFail
	}
	h.setState(func() {
		h.initialized = true
		h.publisherReady = err == nil
	}, reason, err)

	go h.subscriberLoop(ctx)
}

// Subscribe attaches a listener for one user's events.
func (h *Hub) Subscribe(userID string) (<-chan Event, func()) {
	ch, cancel := h.bus.subscribe(userID)
	metrics.M.RealtimeClientsConnected.Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			cancel()
			metrics.M.RealtimeClientsConnected.Dec()
		})
	}
}

// PublishSync announces a committed cursor. Local delivery always happens;
// distributed publish is best-effort and never errors to the caller.
func (h *Hub) PublishSync(ctx context.Context, userID string, cursor int64) {
	ev := Event{
		Type:      EventTypeSync,
		UserID:    userID,
		Cursor:    cursor,
		EmittedAt: time.Now().UnixMilli(),
		Origin:    h.origin,
	}
	metrics.M.EventsPublished.Inc()
	h.bus.publish(ev)

	if h.rdb == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("encode sync event")
		return
	}
	if err := h.rdb.Publish(ctx, Channel, payload).Err(); err != nil {
		h.setState(func() { h.publisherReady = false }, ReasonPublishFailed, err)
		log.Ctx(ctx).Warn().Err(err).Msg("distributed publish failed, local fan-out only")
		return
	}
	h.setState(func() { h.publisherReady = true }, "", nil)
}

func (h *Hub) subscriberLoop(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			h.setState(func() { h.subscriberReady = false }, ReasonSubscriberClose, ctx.Err())
			return
		}

		pubsub := h.rdb.Subscribe(ctx, Channel)
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				h.setState(func() { h.subscriberReady = false }, ReasonSubscriberClose, ctx.Err())
				return
			}
			h.setState(func() { h.subscriberReady = false }, ReasonSubscriberConnectFail, err)
			if !h.sleep(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}

		bo.Reset()
		h.setState(func() { h.subscriberReady = true }, "", nil)
		log.Info().Str("channel", Channel).Msg("realtime subscriber connected")

		h.consume(ctx, pubsub)
		pubsub.Close()

		if ctx.Err() != nil {
			h.setState(func() { h.subscriberReady = false }, ReasonSubscriberClose, ctx.Err())
			return
		}
		h.setState(func() { h.subscriberReady = false }, ReasonSubscriberReconnecting, nil)
		if !h.sleep(ctx, bo.NextBackOff()) {
			return
		}
	}
}

func (h *Hub) consume(ctx context.Context, pubsub *redis.PubSub) {
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			reason := ReasonSubscriberError
			if errors.Is(err, redis.ErrClosed) {
				reason = ReasonSubscriberEnd
			}
			h.setState(func() { h.subscriberReady = false }, reason, err)
			return
		}
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Warn().Err(err).Msg("drop undecodable sync event")
			continue
		}
		if ev.Origin == h.origin {
			continue
		}
		h.bus.publish(ev)
	}
}

// sleep waits out a backoff interval; false means ctx ended first.
func (h *Hub) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		h.setState(func() { h.subscriberReady = false }, ReasonSubscriberClose, ctx.Err())
		return false
	case <-t.C:
		return true
	}
}

// setState applies a mutation and reconciles degradation bookkeeping.
// reason is recorded only when the mutation leaves fan-out unavailable.
func (h *Hub) setState(mutate func(), reason string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	wasAvailable := h.availableLocked()
	mutate()
	nowAvailable := h.availableLocked()

	if err != nil {
		h.lastError = err.Error()
	}

	switch {
	case wasAvailable && !nowAvailable:
		h.degradedReason = reason
		h.degradedSince = time.Now()
		h.transitions++
		metrics.M.FanoutFallbackActive.Set(1)
		metrics.M.FanoutTransitions.Inc()
	case !wasAvailable && nowAvailable:
		dwell := time.Since(h.degradedSince)
		h.totalDegraded += dwell
		h.degradedReason = ""
		h.transitions++
		metrics.M.FanoutFallbackActive.Set(0)
		metrics.M.FanoutTransitions.Inc()
		metrics.M.FanoutDegradedTotalSecs.Add(dwell.Seconds())
	case !nowAvailable && reason != "":
		// Still degraded; keep the freshest reason.
		h.degradedReason = reason
	}

	if h.subscriberReady {
		metrics.M.FanoutSubscriberReady.Set(1)
	} else {
		metrics.M.FanoutSubscriberReady.Set(0)
	}
	if h.publisherReady {
		metrics.M.FanoutPublisherReady.Set(1)
	} else {
		metrics.M.FanoutPublisherReady.Set(0)
	}
}

func (h *Hub) availableLocked() bool {
	return h.initialized && h.subscriberReady && h.publisherReady
}

// Status is the hub view embedded in the readiness body.
type Status struct {
	Mode             string `json:"mode"`
	Initialized      bool   `json:"initialized"`
	SubscriberReady  bool   `json:"subscriberReady"`
	PublisherReady   bool   `json:"publisherReady"`
	DegradedReason   string `json:"degradedReason,omitempty"`
	DegradedSinceTs  int64  `json:"degradedSinceTs,omitempty"`
	CurrentDwellMs   int64  `json:"currentDwellMs"`
	TotalDwellMs     int64  `json:"totalDwellMs"`
	Transitions      uint64 `json:"transitions"`
	LastError        string `json:"lastError,omitempty"`
	LocalSubscribers int    `json:"localSubscribers"`
}

// Status reports the current fan-out state.
func (h *Hub) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Status{
		Initialized:      h.initialized,
		SubscriberReady:  h.subscriberReady,
		PublisherReady:   h.publisherReady,
		DegradedReason:   h.degradedReason,
		TotalDwellMs:     h.totalDegraded.Milliseconds(),
		Transitions:      h.transitions,
		LastError:        h.lastError,
		LocalSubscribers: h.bus.count(),
	}
	if h.availableLocked() {
		s.Mode = ModeDistributed
	} else {
		s.Mode = ModeLocalFallback
		s.DegradedSinceTs = h.degradedSince.UnixMilli()
		dwell := time.Since(h.degradedSince)
		s.CurrentDwellMs = dwell.Milliseconds()
		s.TotalDwellMs = (h.totalDegraded + dwell).Milliseconds()
	}
	return s
}

// DistributedFanoutAvailable reports whether cross-instance delivery works.
func (h *Hub) DistributedFanoutAvailable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.availableLocked()
}

// DegradedDwellSeconds feeds the current-spell gauge.
func (h *Hub) DegradedDwellSeconds() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.availableLocked() {
		return 0
	}
	return time.Since(h.degradedSince).Seconds()
}
