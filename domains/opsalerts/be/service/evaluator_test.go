package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "github.com/clasora/uiconfig-service/domains/publishaudit/be/service"
)

func alertByMetric(alerts []Alert, metric string) (Alert, bool) {
	for _, alert := range alerts {
		if alert.Metric == metric {
			return alert, true
		}
	}
	return Alert{}, false
}

func TestEvaluateHealthyWindow(t *testing.T) {
	t.Parallel()

	metrics := audit.Metrics{
		TotalAttempts:         50,
		SuccessRate:           99,
		ConflictRate:          2,
		P95LockWaitMs:         120,
		MedianTimeToPublishMs: 800,
	}

	assert.Empty(t, Evaluate(metrics, DefaultThresholds()))
}

func TestEvaluateEmptyWindowNeverFires(t *testing.T) {
	t.Parallel()

	// SuccessRate 0 over zero attempts would otherwise trip the below-threshold.
	assert.Empty(t, Evaluate(audit.Metrics{}, DefaultThresholds()))
}

func TestEvaluateWarningAndCritical(t *testing.T) {
	t.Parallel()

	metrics := audit.Metrics{
		TotalAttempts:         50,
		SuccessRate:           90,   // warning (below 95, above 85)
		ConflictRate:          30,   // critical (above 25)
		P95LockWaitMs:         700,  // warning
		MedianTimeToPublishMs: 1500, // healthy
	}

	alerts := Evaluate(metrics, DefaultThresholds())
	require.Len(t, alerts, 3)

	conflict, ok := alertByMetric(alerts, MetricConflictRate)
	require.True(t, ok)
	assert.Equal(t, SeverityCritical, conflict.Severity)
	assert.Equal(t, float64(25), conflict.Threshold)

	success, ok := alertByMetric(alerts, MetricSuccessRate)
	require.True(t, ok)
	assert.Equal(t, SeverityWarning, success.Severity)

	lockWait, ok := alertByMetric(alerts, MetricP95LockWait)
	require.True(t, ok)
	assert.Equal(t, SeverityWarning, lockWait.Severity)

	_, ok = alertByMetric(alerts, MetricMedianPublishMs)
	assert.False(t, ok)
}

func TestEvaluateCriticalPrecedence(t *testing.T) {
	t.Parallel()

	// A value past both bounds fires exactly one alert, at critical.
	metrics := audit.Metrics{TotalAttempts: 10, ConflictRate: 90, SuccessRate: 100}

	alerts := Evaluate(metrics, DefaultThresholds())
	require.Len(t, alerts, 1)
	assert.Equal(t, MetricConflictRate, alerts[0].Metric)
	assert.Equal(t, SeverityCritical, alerts[0].Severity)
}

func TestEvaluateBoundaryIsNotATrip(t *testing.T) {
	t.Parallel()

	metrics := audit.Metrics{
		TotalAttempts: 10,
		ConflictRate:  10, // exactly at the warning bound
		SuccessRate:   95,
	}

	assert.Empty(t, Evaluate(metrics, DefaultThresholds()))
}
