package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Scan metrics
	ScansTotal    prometheus.Counter
	ScansBlocked  prometheus.Counter
	ScanDuration  prometheus.Histogram
	FindingsTotal *prometheus.CounterVec

	// Policy metrics
	PolicyAllowed prometheus.Counter
	PolicyBlocked prometheus.Counter

	// Consent metrics
	ConsentRequestsTotal  prometheus.Counter
	ConsentOutcomes       *prometheus.CounterVec
	ConsentGrantHits      prometheus.Counter
	ConsentAutoApproved   prometheus.Counter
	ConsentPendingCurrent prometheus.Gauge
	ConsentWaitSeconds    prometheus.Histogram

	// Pipeline metrics
	PipelineOutcomes *prometheus.CounterVec

	// Audit metrics
	AuditEntriesTotal prometheus.Counter
	AuditWriteErrors  prometheus.Counter

	// Tool registry metrics
	ToolRegistrations *prometheus.CounterVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the singleton metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			ScansTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pygate_scans_total",
				Help: "Total number of source scans performed",
			}),
			ScansBlocked: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pygate_scans_blocked_total",
				Help: "Total number of scans that produced a blocking decision",
			}),
			ScanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "pygate_scan_duration_seconds",
				Help:    "Duration of prescan + AST scan + policy in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100us to ~26s
			}),
			FindingsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pygate_findings_total",
					Help: "Total number of findings by severity and category",
				},
				[]string{"severity", "category"},
			),

			PolicyAllowed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pygate_policy_allowed_total",
				Help: "Total number of operations that passed policy evaluation",
			}),
			PolicyBlocked: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pygate_policy_blocked_total",
				Help: "Total number of operations blocked by policy evaluation",
			}),

			ConsentRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pygate_consent_requests_total",
				Help: "Total number of consent requests created",
			}),
			ConsentOutcomes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pygate_consent_outcomes_total",
					Help: "Total number of consent outcomes by status",
				},
				[]string{"status"}, // approved, declined, timed_out
			),
			ConsentGrantHits: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pygate_consent_grant_hits_total",
				Help: "Total number of requests approved via always-allow grants",
			}),
			ConsentAutoApproved: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pygate_consent_auto_approved_total",
				Help: "Total number of requests approved via auto-approve mode",
			}),
			ConsentPendingCurrent: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "pygate_consent_pending",
				Help: "Current number of consent requests awaiting a decision",
			}),
			ConsentWaitSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "pygate_consent_wait_seconds",
				Help:    "Time spent waiting for a consent decision in seconds",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 11), // 0.5s to ~8.5min
			}),

			PipelineOutcomes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pygate_pipeline_outcomes_total",
					Help: "Total number of gated operations by terminal outcome",
				},
				[]string{"outcome", "operation_kind"}, // executed, rejected
			),

			AuditEntriesTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pygate_audit_entries_total",
				Help: "Total number of audit entries recorded",
			}),
			AuditWriteErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pygate_audit_write_errors_total",
				Help: "Total number of audit sink write failures (logged, never fatal)",
			}),

			ToolRegistrations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pygate_tool_registrations_total",
					Help: "Total number of tool registration attempts by outcome",
				},
				[]string{"outcome"}, // registered, rejected
			),

			ConfigReloads: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pygate_config_reloads_total",
				Help: "Total number of successful rules config reloads",
			}),
			ConfigReloadErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pygate_config_reload_errors_total",
				Help: "Total number of failed rules config reloads",
			}),
		}
	})
	return metricsInstance
}
