// Package metrics holds the process-wide Prometheus collectors. Handlers and
// background loops record through the shared M instance; /metrics exposes the
// default registry via promhttp.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the collector set for the sync service.
type Metrics struct {
	PushOperations *prometheus.CounterVec
	PullRequests   prometheus.Counter
	CursorResets   prometheus.Counter
	WriteFailures  prometheus.Counter

	EventsPublished          prometheus.Counter
	FanoutFallbackActive     prometheus.Gauge
	FanoutTransitions        prometheus.Counter
	FanoutDegradedTotalSecs  prometheus.Counter
	FanoutSubscriberReady    prometheus.Gauge
	FanoutPublisherReady     prometheus.Gauge
	RealtimeClientsConnected prometheus.Gauge

	TicketsIssued        prometheus.Counter
	TicketConsume        *prometheus.CounterVec
	TicketStrictMode     prometheus.Gauge
	ReplayStoreRedis     prometheus.Gauge
	TicketStorageErrors  prometheus.Counter
	TicketFailOpenPasses prometheus.Counter

	MaintenanceCycles *prometheus.CounterVec
	MaintenancePruned *prometheus.CounterVec

	ReadinessFailures *prometheus.CounterVec
}

// M is the shared instance, registered on the default registry at init.
var M = mustNew(prometheus.DefaultRegisterer)

func mustNew(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PushOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pocketbrain_sync_push_operations_total",
			Help: "Push operations processed, by outcome.",
		}, []string{"outcome"}),
		PullRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pocketbrain_sync_pull_requests_total",
			Help: "Pull requests served.",
		}),
		CursorResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pocketbrain_sync_cursor_resets_total",
			Help: "Pulls answered with a reset because the cursor predates the retained window.",
		}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pocketbrain_sync_write_failures_total",
			Help: "Push operations that failed to commit.",
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pocketbrain_events_published_total",
			Help: "Sync events handed to the fan-out hub.",
		}),
		FanoutFallbackActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pocketbrain_fanout_fallback_active",
			Help: "1 while fan-out is process-local only, 0 while distributed.",
		}),
		FanoutTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pocketbrain_fanout_mode_transitions_total",
			Help: "Transitions between distributed and local-fallback fan-out.",
		}),
		FanoutDegradedTotalSecs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pocketbrain_fanout_degraded_seconds_total",
			Help: "Cumulative seconds spent in local-fallback fan-out.",
		}),
		FanoutSubscriberReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pocketbrain_fanout_subscriber_ready",
			Help: "1 while the distributed subscriber link is established.",
		}),
		FanoutPublisherReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pocketbrain_fanout_publisher_ready",
			Help: "1 while the distributed publisher link is established.",
		}),
		RealtimeClientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pocketbrain_realtime_clients_connected",
			Help: "Event-stream clients currently attached to this instance.",
		}),
		TicketsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pocketbrain_stream_tickets_issued_total",
			Help: "Stream tickets minted.",
		}),
		TicketConsume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pocketbrain_stream_ticket_consume_total",
			Help: "Stream ticket consumption attempts, by result.",
		}, []string{"result"}),
		TicketStrictMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pocketbrain_stream_ticket_strict_mode",
			Help: "1 when replay-store outages reject handshakes, 0 when they fail open.",
		}),
		ReplayStoreRedis: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pocketbrain_stream_ticket_replay_store_redis",
			Help: "1 when the replay store is redis-backed, 0 for in-memory.",
		}),
		TicketStorageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pocketbrain_stream_ticket_storage_errors_total",
			Help: "Replay-store failures during ticket consumption.",
		}),
		TicketFailOpenPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pocketbrain_stream_ticket_fail_open_total",
			Help: "Handshakes admitted without a replay check because the store was down.",
		}),
		MaintenanceCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pocketbrain_maintenance_cycles_total",
			Help: "Maintenance cycles, by result.",
		}, []string{"result"}),
		MaintenancePruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pocketbrain_maintenance_pruned_rows_total",
			Help: "Rows removed by retention pruning, by kind.",
		}, []string{"kind"}),
		ReadinessFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pocketbrain_readiness_check_failures_total",
			Help: "Readiness probe dependency failures, by check.",
		}, []string{"check"}),
	}

	reg.MustRegister(
		m.PushOperations, m.PullRequests, m.CursorResets, m.WriteFailures,
		m.EventsPublished, m.FanoutFallbackActive, m.FanoutTransitions,
		m.FanoutDegradedTotalSecs, m.FanoutSubscriberReady, m.FanoutPublisherReady,
		m.RealtimeClientsConnected,
		m.TicketsIssued, m.TicketConsume, m.TicketStrictMode, m.ReplayStoreRedis,
		m.TicketStorageErrors, m.TicketFailOpenPasses,
		m.MaintenanceCycles, m.MaintenancePruned,
		m.ReadinessFailures,
	)
	return m
}

// RegisterFanoutDwell exposes the current local-fallback dwell as a gauge.
// Called once from main with the hub's dwell reader.
func RegisterFanoutDwell(reg prometheus.Registerer, f func() float64) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pocketbrain_fanout_degraded_dwell_seconds",
		Help: "Seconds spent in the current local-fallback spell, 0 while distributed.",
	}, f))
}
