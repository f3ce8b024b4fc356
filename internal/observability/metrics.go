// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Research cycle metrics
	CyclesTotal           *prometheus.CounterVec
	CycleDuration         *prometheus.HistogramVec
	CandidatesByOutcome   *prometheus.CounterVec
	GeneratorCallLatency  *prometheus.HistogramVec
	LastSuccessfulCycle   prometheus.Gauge
	ForcedCyclesDropped   *prometheus.CounterVec
	SchedulerMode         *prometheus.GaugeVec
	SchedulerIntervalSecs prometheus.Gauge

	// Lifecycle metrics
	PromotionsTotal   *prometheus.CounterVec
	StageChangesTotal *prometheus.CounterVec

	// Failure and recycle metrics
	FailuresDetected  *prometheus.CounterVec
	RecycleDecisions  *prometheus.CounterVec
	OpenFeedbackLoops prometheus.Gauge
	LoopTransitions   *prometheus.CounterVec

	// Regime feed metrics
	RegimeMessages   prometheus.Counter
	RegimeReconnects prometheus.Counter
	CurrentRegime    *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "strategy_lab"
	}

	return &Metrics{
		CyclesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "research",
			Name:      "cycles_total",
			Help:      "Total number of research cycles by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		CycleDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "research",
			Name:      "cycle_duration_seconds",
			Help:      "Research cycle duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"trigger"}),
		CandidatesByOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "research",
			Name:      "candidates_total",
			Help:      "Total number of candidates by disposition",
		}, []string{"disposition"}),
		GeneratorCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "call_latency_seconds",
			Help:      "Candidate generator call latency in seconds",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"provider", "status"}),
		LastSuccessfulCycle: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of last successful research cycle",
		}),
		ForcedCyclesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "forced_dropped_total",
			Help:      "Forced cycle requests dropped because a cycle was running",
		}, []string{"trigger"}),
		SchedulerMode: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "mode",
			Help:      "Current scheduler mode (1 for the active mode)",
		}, []string{"mode"}),
		SchedulerIntervalSecs: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "interval_seconds",
			Help:      "Current research interval in seconds",
		}),

		PromotionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "promotions_total",
			Help:      "Bot promotions by outcome",
		}, []string{"outcome"}),
		StageChangesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "stage_changes_total",
			Help:      "Bot stage changes by target stage",
		}, []string{"to"}),

		FailuresDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "failure",
			Name:      "detected_total",
			Help:      "Bots flagged as failing by severity",
		}, []string{"severity"}),
		RecycleDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "failure",
			Name:      "recycle_decisions_total",
			Help:      "Recycle decisions by verdict",
		}, []string{"decision"}),
		OpenFeedbackLoops: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feedback",
			Name:      "open_loops",
			Help:      "Number of non-terminal feedback loops",
		}),
		LoopTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feedback",
			Name:      "transitions_total",
			Help:      "Feedback loop transitions by target state",
		}, []string{"state"}),

		RegimeMessages: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "regime",
			Name:      "messages_total",
			Help:      "Regime feed messages received",
		}),
		RegimeReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "regime",
			Name:      "reconnects_total",
			Help:      "Regime feed reconnect attempts",
		}),
		CurrentRegime: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "regime",
			Name:      "current",
			Help:      "Current market regime (1 for the active regime)",
		}, []string{"regime"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

var (
	schedulerModes = []string{"SCANNING", "BALANCED", "DEEP_RESEARCH"}
	regimes        = []string{"TRENDING_STRONG", "TRENDING_WEAK", "RANGING", "VOLATILE", "CHOPPY"}
)

// RecordCycle records a finished research cycle.
func RecordCycle(trigger, outcome string, d time.Duration) {
	DefaultMetrics.CyclesTotal.WithLabelValues(trigger, outcome).Inc()
	DefaultMetrics.CycleDuration.WithLabelValues(trigger).Observe(d.Seconds())
	if outcome == "success" {
		DefaultMetrics.LastSuccessfulCycle.SetToCurrentTime()
	}
}

// RecordForcedDropped counts a forced request dropped mid-cycle.
func RecordForcedDropped(trigger string) {
	DefaultMetrics.ForcedCyclesDropped.WithLabelValues(trigger).Inc()
}

// RecordCandidate counts a candidate outcome.
func RecordCandidate(disposition string) {
	DefaultMetrics.CandidatesByOutcome.WithLabelValues(disposition).Inc()
}

// RecordGeneratorCall records generator latency.
func RecordGeneratorCall(provider string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.GeneratorCallLatency.WithLabelValues(provider, status).Observe(d.Seconds())
}

// SetSchedulerMode publishes the active mode and interval.
func SetSchedulerMode(mode string, interval time.Duration) {
	for _, m := range schedulerModes {
		v := 0.0
		if m == mode {
			v = 1
		}
		DefaultMetrics.SchedulerMode.WithLabelValues(m).Set(v)
	}
	DefaultMetrics.SchedulerIntervalSecs.Set(interval.Seconds())
}

// RecordPromotion counts a promotion outcome (created, linked, failed).
func RecordPromotion(outcome string) {
	DefaultMetrics.PromotionsTotal.WithLabelValues(outcome).Inc()
}

// RecordStageChange counts a bot stage change.
func RecordStageChange(to string) {
	DefaultMetrics.StageChangesTotal.WithLabelValues(to).Inc()
}

// RecordFailure counts a detected failure.
func RecordFailure(severity string) {
	DefaultMetrics.FailuresDetected.WithLabelValues(severity).Inc()
}

// RecordRecycleDecision counts a recycle verdict.
func RecordRecycleDecision(decision string) {
	DefaultMetrics.RecycleDecisions.WithLabelValues(decision).Inc()
}

// SetOpenLoops publishes the number of open feedback loops.
func SetOpenLoops(n int) {
	DefaultMetrics.OpenFeedbackLoops.Set(float64(n))
}

// RecordLoopTransition counts a feedback loop transition.
func RecordLoopTransition(state string) {
	DefaultMetrics.LoopTransitions.WithLabelValues(state).Inc()
}

// RecordRegimeMessage counts a regime feed message.
func RecordRegimeMessage() {
	DefaultMetrics.RegimeMessages.Inc()
}

// RecordRegimeReconnect counts a regime feed reconnect attempt.
func RecordRegimeReconnect() {
	DefaultMetrics.RegimeReconnects.Inc()
}

// SetCurrentRegime publishes the active regime.
func SetCurrentRegime(regime string) {
	for _, r := range regimes {
		v := 0.0
		if r == regime {
			v = 1
		}
		DefaultMetrics.CurrentRegime.WithLabelValues(r).Set(v)
	}
}
