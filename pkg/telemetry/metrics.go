package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric naming follows Prometheus conventions: a wheelwright_ prefix,
// _total for counters, _seconds for duration histograms.
var (
	// SpindleAbortsTotal counts ticket turns the loop detector aborted, by reason.
	SpindleAbortsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wheelwright_spindle_aborts_total",
			Help: "Total ticket turns aborted by the loop detector, by reason.",
		},
		[]string{"reason"},
	)

	// QARetriesTotal counts QA-triggered fix-and-retry turns, by command and error class.
	QARetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wheelwright_qa_retries_total",
			Help: "Total QA fix-and-retry turns, by command and error class.",
		},
		[]string{"command", "error_class"},
	)

	// TicketOutcomesTotal counts tickets reaching a terminal phase, by category and outcome.
	TicketOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wheelwright_ticket_outcomes_total",
			Help: "Total tickets reaching a terminal phase, by category and outcome.",
		},
		[]string{"category", "outcome"},
	)

	// CycleDurationSeconds is a histogram of orchestrator cycle duration.
	CycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wheelwright_cycle_duration_seconds",
			Help:    "Duration of orchestrator cycles in seconds.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		},
	)

	// ConfidenceGauge tracks the adaptive confidence score between cycles.
	ConfidenceGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wheelwright_confidence",
			Help: "Current adaptive confidence score (0-100).",
		},
	)

	// ConvergenceActionsTotal counts convergence controller decisions, by action.
	ConvergenceActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wheelwright_convergence_actions_total",
			Help: "Total convergence controller decisions, by action.",
		},
		[]string{"action"},
	)

	// ActiveTickets is the number of tickets currently dispatched in parallel.
	ActiveTickets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wheelwright_active_tickets",
			Help: "Number of tickets currently dispatched in parallel.",
		},
	)
)

// Registry is the Prometheus registry the introspection server scrapes at
// /metrics. A dedicated registry (rather than the global DefaultRegisterer)
// keeps wheelwright's metrics free of the Go-runtime collectors tests don't
// want to assert against.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		SpindleAbortsTotal,
		QARetriesTotal,
		TicketOutcomesTotal,
		CycleDurationSeconds,
		ConfidenceGauge,
		ConvergenceActionsTotal,
		ActiveTickets,
	)
}

// RecordSpindleAbort records one loop-detector abort.
func RecordSpindleAbort(reason string) {
	SpindleAbortsTotal.WithLabelValues(reason).Inc()
}

// RecordQARetry records one QA-triggered fix-and-retry turn.
func RecordQARetry(command, errorClass string) {
	QARetriesTotal.WithLabelValues(command, errorClass).Inc()
}

// RecordTicketOutcome records one ticket reaching a terminal phase.
func RecordTicketOutcome(category, outcome string) {
	TicketOutcomesTotal.WithLabelValues(category, outcome).Inc()
}

// RecordCycleDuration records one completed orchestrator cycle.
func RecordCycleDuration(d time.Duration) {
	CycleDurationSeconds.Observe(d.Seconds())
}

// RecordConfidence sets the current adaptive confidence gauge.
func RecordConfidence(confidence float64) {
	ConfidenceGauge.Set(confidence)
}

// RecordConvergenceAction records one convergence controller decision.
func RecordConvergenceAction(action string) {
	ConvergenceActionsTotal.WithLabelValues(action).Inc()
}

// SetActiveTickets sets the number of tickets currently dispatched in parallel.
func SetActiveTickets(n int) {
	ActiveTickets.Set(float64(n))
}
