package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for line throughput, verdict mix and relay health
var (
	TriggersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pvpedge_triggers_total",
			Help: "Total number of pallet triggers detected",
		},
	)

	ScannerReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvpedge_scanner_reads_total",
			Help: "Total number of reader lines by result",
		},
		[]string{"result"},
	)

	VerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvpedge_verdicts_total",
			Help: "Total number of verdicts by outcome",
		},
		[]string{"outcome"},
	)

	IngestAnomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvpedge_ingest_anomalies_total",
			Help: "Total number of discarded or irregular ingest events by reason",
		},
		[]string{"reason"},
	)

	ActuatorTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pvpedge_actuator_timeouts_total",
			Help: "Total number of verdicts whose output was not acknowledged in time",
		},
	)

	DecisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pvpedge_decision_duration_seconds",
			Help:    "Duration from window close to journaled verdict",
			Buckets: prometheus.DefBuckets,
		},
	)

	SignalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pvpedge_signal_duration_seconds",
			Help:    "Duration from verdict to acknowledged actuator output",
			Buckets: prometheus.DefBuckets,
		},
	)

	LedgerRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvpedge_ledger_refreshes_total",
			Help: "Total number of ledger refresh attempts by result",
		},
		[]string{"result"},
	)

	LedgerRefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pvpedge_ledger_refresh_duration_seconds",
			Help:    "Duration of successful ledger refreshes",
			Buckets: prometheus.DefBuckets,
		},
	)

	LedgerRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pvpedge_ledger_records",
			Help: "Expected records in the published ledger snapshot",
		},
	)

	LedgerAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pvpedge_ledger_age_seconds",
			Help: "Age of the published ledger snapshot at last decision",
		},
	)

	ReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvpedge_reports_total",
			Help: "Total number of report delivery attempts by result",
		},
		[]string{"result"},
	)

	ReportBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pvpedge_report_backlog",
			Help: "Journaled verdicts still pending central delivery",
		},
	)

	EvidenceUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvpedge_evidence_uploads_total",
			Help: "Total number of evidence upload attempts by result",
		},
		[]string{"result"},
	)

	EvidenceBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pvpedge_evidence_backlog",
			Help: "Spooled photos still pending upload",
		},
	)
)

// Register registers all Prometheus metrics
func Register() {
	prometheus.MustRegister(TriggersTotal)
	prometheus.MustRegister(ScannerReadsTotal)
	prometheus.MustRegister(VerdictsTotal)
	prometheus.MustRegister(IngestAnomaliesTotal)
	prometheus.MustRegister(ActuatorTimeoutsTotal)
	prometheus.MustRegister(DecisionDuration)
	prometheus.MustRegister(SignalDuration)
	prometheus.MustRegister(LedgerRefreshes)
	prometheus.MustRegister(LedgerRefreshDuration)
	prometheus.MustRegister(LedgerRecords)
	prometheus.MustRegister(LedgerAgeSeconds)
	prometheus.MustRegister(ReportsTotal)
	prometheus.MustRegister(ReportBacklog)
	prometheus.MustRegister(EvidenceUploadsTotal)
	prometheus.MustRegister(EvidenceBacklog)
}
