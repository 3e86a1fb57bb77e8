package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsAppended = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "quillvault", Name: "events_appended_total", Help: "Number of change events accepted by the version controller."},
	)
	AppendConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "quillvault", Name: "append_conflicts_total", Help: "Number of appends rejected for a stale claimed version."},
	)
	ReplaysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "quillvault", Name: "replays_total", Help: "Number of content reconstructions performed."},
	)
	CorruptEventsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "quillvault", Name: "corrupt_events_skipped_total", Help: "Number of events skipped as no-ops during replay."},
	)
	SnapshotsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "quillvault", Name: "snapshots_created_total", Help: "Number of snapshots materialized (including restores)."},
	)
	SnapshotsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "quillvault", Name: "snapshots_pruned_total", Help: "Number of snapshots deleted by compaction."},
	)
	DocumentsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "quillvault", Name: "documents_expired_total", Help: "Number of disposable documents removed after expiry."},
	)
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "quillvault", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "quillvault", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(
		EventsAppended,
		AppendConflicts,
		ReplaysTotal,
		CorruptEventsSkipped,
		SnapshotsCreated,
		SnapshotsPruned,
		DocumentsExpired,
		RateLimitAllowed,
		RateLimitRejected,
	)
}
