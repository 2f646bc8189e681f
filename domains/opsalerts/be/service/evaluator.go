// Package service evaluates publish SLO thresholds and fans alerts out to the
// configured notification channels.
package service

import (
	"fmt"

	audit "github.com/clasora/uiconfig-service/domains/publishaudit/be/service"
)

// Severity of a fired alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Direction states which side of the threshold is unhealthy.
type Direction string

const (
	AlertAbove Direction = "above"
	AlertBelow Direction = "below"
)

// Metric names the evaluator knows about.
const (
	MetricConflictRate    = "conflict_rate"
	MetricSuccessRate     = "publish_success_rate"
	MetricP95LockWait     = "p95_lock_wait_ms"
	MetricMedianPublishMs = "median_time_to_publish_ms"
)

// Threshold defines warning and critical trip points for one metric.
type Threshold struct {
	Metric    string    `json:"metric"`
	Warning   float64   `json:"warning"`
	Critical  float64   `json:"critical"`
	Direction Direction `json:"direction"`
}

// DefaultThresholds returns the production threshold table. Rate bounds are
// percentages, matching the telemetry metrics.
func DefaultThresholds() []Threshold {
	return []Threshold{
		{Metric: MetricConflictRate, Warning: 10, Critical: 25, Direction: AlertAbove},
		{Metric: MetricSuccessRate, Warning: 95, Critical: 85, Direction: AlertBelow},
		{Metric: MetricP95LockWait, Warning: 500, Critical: 2000, Direction: AlertAbove},
		{Metric: MetricMedianPublishMs, Warning: 2000, Critical: 5000, Direction: AlertAbove},
	}
}

// Alert is one fired threshold. At most one alert fires per metric; critical
// wins over warning when both trip.
type Alert struct {
	Metric    string   `json:"metric"`
	Severity  Severity `json:"severity"`
	Value     float64  `json:"value"`
	Threshold float64  `json:"threshold"`
	Summary   string   `json:"summary"`
}

// Evaluate checks window metrics against the threshold table. A metric with no
// attempts behind it never fires: rates over an empty window are meaningless.
func Evaluate(metrics audit.Metrics, thresholds []Threshold) []Alert {
	if metrics.TotalAttempts == 0 {
		return nil
	}

	values := map[string]float64{
		MetricConflictRate:    metrics.ConflictRate,
		MetricSuccessRate:     metrics.SuccessRate,
		MetricP95LockWait:     float64(metrics.P95LockWaitMs),
		MetricMedianPublishMs: float64(metrics.MedianTimeToPublishMs),
	}

	var alerts []Alert
	for _, threshold := range thresholds {
		value, known := values[threshold.Metric]
		if !known {
			continue
		}

		severity, trip := evaluateThreshold(value, threshold)
		if !trip {
			continue
		}

		bound := threshold.Warning
		if severity == SeverityCritical {
			bound = threshold.Critical
		}
		alerts = append(alerts, Alert{
			Metric:    threshold.Metric,
			Severity:  severity,
			Value:     value,
			Threshold: bound,
			Summary:   fmt.Sprintf("%s is %s %s threshold (%.4g vs %.4g)", threshold.Metric, threshold.Direction, severity, value, bound),
		})
	}
	return alerts
}

func evaluateThreshold(value float64, threshold Threshold) (Severity, bool) {
	switch threshold.Direction {
	case AlertAbove:
		if value > threshold.Critical {
			return SeverityCritical, true
		}
		if value > threshold.Warning {
			return SeverityWarning, true
		}
	case AlertBelow:
		if value < threshold.Critical {
			return SeverityCritical, true
		}
		if value < threshold.Warning {
			return SeverityWarning, true
		}
	}
	return "", false
}
