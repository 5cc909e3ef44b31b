package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for monitoring receipt processing and reward issuance
var (
	ReceiptsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipts_processed_total",
			Help: "Total number of receipts evaluated, by resulting status",
		},
		[]string{"status"},
	)

	ReceiptFlagsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipt_flags_total",
			Help: "Total number of rule flags raised, by flag",
		},
		[]string{"flag"},
	)

	ReceiptProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "receipt_processing_duration_seconds",
			Help:    "Duration of the receipt submission pipeline",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReceiptTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "receipt_processing_timeouts_total",
			Help: "Total number of submissions that exceeded the processing budget",
		},
	)

	RewardsIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rewards_issued_total",
			Help: "Total number of rewards issued",
		},
	)

	RewardIssueRacesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reward_issue_races_total",
			Help: "Total number of issuance attempts that found the reward already issued",
		},
	)

	RewardTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_transitions_total",
			Help: "Total number of reward status transitions, by target status",
		},
		[]string{"to"},
	)

	RewardConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reward_transition_conflicts_total",
			Help: "Total number of reward transitions rejected by a concurrent change",
		},
	)

	IngestFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_files_total",
			Help: "Total number of inbox files handled, by result",
		},
		[]string{"result"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "submission_queue_depth",
			Help: "Number of submissions waiting in the async queue",
		},
	)
)

var registerOnce sync.Once

// Register registers all Prometheus metrics with the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ReceiptsProcessedTotal)
		prometheus.MustRegister(ReceiptFlagsTotal)
		prometheus.MustRegister(ReceiptProcessingDuration)
		prometheus.MustRegister(ReceiptTimeoutsTotal)
		prometheus.MustRegister(RewardsIssuedTotal)
		prometheus.MustRegister(RewardIssueRacesTotal)
		prometheus.MustRegister(RewardTransitionsTotal)
		prometheus.MustRegister(RewardConflictsTotal)
		prometheus.MustRegister(IngestFilesTotal)
		prometheus.MustRegister(QueueDepth)
	})
}
