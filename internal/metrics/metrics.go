package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the access layer and scan pipeline report to.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	AccessDecisionsTotal     *prometheus.CounterVec
	AccessLockoutsTotal      prometheus.Counter
	AccessLockedAddresses    prometheus.Gauge
	RateLimitRejectionsTotal *prometheus.CounterVec
	RateLimitBuckets         prometheus.Gauge
	AnalyzerCallsTotal       *prometheus.CounterVec
	FindingsWrittenTotal     *prometheus.CounterVec
	ScanCyclesTotal          *prometheus.CounterVec
	ScanTicksSkippedTotal    *prometheus.CounterVec
	ScanCycleDuration        *prometheus.HistogramVec
	DedupMarkers             prometheus.Gauge
	MaintenanceRunsTotal     *prometheus.CounterVec
	MaintenanceRemovedTotal  *prometheus.CounterVec
}

// New registers all collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AccessDecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_access_decisions_total",
			Help: "Access guard decisions by outcome and reason",
		}, []string{"outcome", "reason"}),
		AccessLockoutsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "warden_access_lockouts_total",
			Help: "Number of times an address reached the lockout ceiling",
		}),
		AccessLockedAddresses: factory.NewGauge(prometheus.GaugeOpts{
			Name: "warden_access_tracked_addresses",
			Help: "Addresses currently holding a failure counter",
		}),
		RateLimitRejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_ratelimit_rejections_total",
			Help: "Requests rejected by the route rate limiter",
		}, []string{"route"}),
		RateLimitBuckets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "warden_ratelimit_buckets",
			Help: "Live rate limit buckets",
		}),
		AnalyzerCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_analyzer_calls_total",
			Help: "External analyzer invocations by pipeline and result",
		}, []string{"pipeline", "result"}),
		FindingsWrittenTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_findings_written_total",
			Help: "Findings persisted by subject kind",
		}, []string{"kind"}),
		ScanCyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_scan_cycles_total",
			Help: "Completed scan cycles by pipeline and status",
		}, []string{"pipeline", "status"}),
		ScanTicksSkippedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_scan_ticks_skipped_total",
			Help: "Ticks skipped because the previous cycle was still running",
		}, []string{"pipeline"}),
		ScanCycleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_scan_cycle_duration_seconds",
			Help:    "Duration of scan cycles in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"pipeline"}),
		DedupMarkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "warden_dedup_markers",
			Help: "Subjects currently inside their cool-down window",
		}),
		MaintenanceRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_maintenance_runs_total",
			Help: "Maintenance sweeps by sweeper and status",
		}, []string{"sweeper", "status"}),
		MaintenanceRemovedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_maintenance_removed_total",
			Help: "Entries removed by maintenance sweeps",
		}, []string{"sweeper"}),
	}
}

func (m *Metrics) IncrementAccessDecision(outcome, reason string) {
	if m == nil {
		return
	}
	m.AccessDecisionsTotal.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) IncrementLockouts() {
	if m == nil {
		return
	}
	m.AccessLockoutsTotal.Inc()
}

func (m *Metrics) SetTrackedAddresses(count int) {
	if m == nil {
		return
	}
	m.AccessLockedAddresses.Set(float64(count))
}

func (m *Metrics) IncrementRateLimitRejection(route string) {
	if m == nil {
		return
	}
	m.RateLimitRejectionsTotal.WithLabelValues(route).Inc()
}

func (m *Metrics) SetRateLimitBuckets(count int) {
	if m == nil {
		return
	}
	m.RateLimitBuckets.Set(float64(count))
}

func (m *Metrics) IncrementAnalyzerCall(pipeline, result string) {
	if m == nil {
		return
	}
	m.AnalyzerCallsTotal.WithLabelValues(pipeline, result).Inc()
}

func (m *Metrics) IncrementFindingsWritten(kind string) {
	if m == nil {
		return
	}
	m.FindingsWrittenTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveScanCycle(pipeline, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ScanCyclesTotal.WithLabelValues(pipeline, status).Inc()
	m.ScanCycleDuration.WithLabelValues(pipeline).Observe(durationSeconds)
}

func (m *Metrics) IncrementSkippedTick(pipeline string) {
	if m == nil {
		return
	}
	m.ScanTicksSkippedTotal.WithLabelValues(pipeline).Inc()
}

func (m *Metrics) SetDedupMarkers(count int) {
	if m == nil {
		return
	}
	m.DedupMarkers.Set(float64(count))
}

func (m *Metrics) ObserveMaintenance(sweeper, status string, removed int) {
	if m == nil {
		return
	}
	m.MaintenanceRunsTotal.WithLabelValues(sweeper, status).Inc()
	if removed > 0 {
		m.MaintenanceRemovedTotal.WithLabelValues(sweeper).Add(float64(removed))
	}
}
