package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordSpindleAbortIncrementsByReason(t *testing.T) {
	SpindleAbortsTotal.Reset()

	RecordSpindleAbort("repetition")
	RecordSpindleAbort("repetition")
	RecordSpindleAbort("oscillation")

	assert.Equal(t, float64(2), testutil.ToFloat64(SpindleAbortsTotal.WithLabelValues("repetition")))
	assert.Equal(t, float64(1), testutil.ToFloat64(SpindleAbortsTotal.WithLabelValues("oscillation")))
}

func TestRecordQARetryIncrementsByCommandAndClass(t *testing.T) {
	QARetriesTotal.Reset()

	RecordQARetry("go test ./...", "assertion_failure")

	assert.Equal(t, float64(1), testutil.ToFloat64(QARetriesTotal.WithLabelValues("go test ./...", "assertion_failure")))
}

func TestRecordTicketOutcomeIncrementsByCategoryAndOutcome(t *testing.T) {
	TicketOutcomesTotal.Reset()

	RecordTicketOutcome("bugs", "merged")
	RecordTicketOutcome("bugs", "abandoned")

	assert.Equal(t, float64(1), testutil.ToFloat64(TicketOutcomesTotal.WithLabelValues("bugs", "merged")))
	assert.Equal(t, float64(1), testutil.ToFloat64(TicketOutcomesTotal.WithLabelValues("bugs", "abandoned")))
}

func TestRecordCycleDurationObservesHistogram(t *testing.T) {
	before := testutil.CollectAndCount(CycleDurationSeconds)
	RecordCycleDuration(90 * time.Second)
	assert.Equal(t, before, testutil.CollectAndCount(CycleDurationSeconds))
}

func TestRecordConfidenceSetsGauge(t *testing.T) {
	RecordConfidence(62.5)
	assert.Equal(t, 62.5, testutil.ToFloat64(ConfidenceGauge))
}

func TestRecordConvergenceActionIncrementsByAction(t *testing.T) {
	ConvergenceActionsTotal.Reset()

	RecordConvergenceAction("stop")

	assert.Equal(t, float64(1), testutil.ToFloat64(ConvergenceActionsTotal.WithLabelValues("stop")))
}

func TestSetActiveTicketsSetsGauge(t *testing.T) {
	SetActiveTickets(4)
	assert.Equal(t, float64(4), testutil.ToFloat64(ActiveTickets))
}
