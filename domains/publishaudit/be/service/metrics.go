package service

import (
	"math"
	"sort"
	"time"

	"github.com/clasora/uiconfig-service/platform/go/persistence"
)

// Metrics summarises publish attempts over one window. Rates are percentages
// in [0, 100]; every field is zero when the window holds no attempts.
type Metrics struct {
	TotalAttempts              int     `json:"totalAttempts"`
	SuccessCount               int     `json:"successCount"`
	ConflictCount              int     `json:"conflictCount"`
	LockedCount                int     `json:"lockedCount"`
	ValidationErrorCount       int     `json:"validationErrorCount"`
	SuccessRate                float64 `json:"successRate"`
	ConflictRate               float64 `json:"conflictRate"`
	AvgLockWaitMs              float64 `json:"avgLockWaitMs"`
	MaxLockWaitMs              int64   `json:"maxLockWaitMs"`
	P95LockWaitMs              int64   `json:"p95LockWaitMs"`
	MedianTimeToPublishMs      int64   `json:"medianTimeToPublishMs"`
	MedianRetryCount           float64 `json:"medianRetryCount"`
	MedianConflictResolutionMs int64   `json:"medianConflictResolutionMs"`
}

// ComputeMetrics aggregates audit entries into window metrics. Entries may
// arrive in any order; conflict resolution pairing sorts them internally.
func ComputeMetrics(entries []persistence.AuditEntry) Metrics {
	metrics := Metrics{TotalAttempts: len(entries)}
	if len(entries) == 0 {
		return metrics
	}

	var (
		lockWaits   []float64
		durations   []float64
		retryCounts []float64
		lockWaitSum int64
	)
	for _, entry := range entries {
		switch entry.Status {
		case persistence.AuditStatusSuccess:
			metrics.SuccessCount++
		case persistence.AuditStatusLocked:
			metrics.LockedCount++
		default:
			metrics.ValidationErrorCount++
		}
		if entry.ConflictDetected {
			metrics.ConflictCount++
		}

		lockWaits = append(lockWaits, float64(entry.LockWaitMs))
		lockWaitSum += entry.LockWaitMs
		if entry.LockWaitMs > metrics.MaxLockWaitMs {
			metrics.MaxLockWaitMs = entry.LockWaitMs
		}
		if entry.Status == persistence.AuditStatusSuccess && entry.PublishDurationMs != nil {
			durations = append(durations, float64(*entry.PublishDurationMs))
		}
		retryCounts = append(retryCounts, float64(entry.RetryCount))
	}

	total := float64(len(entries))
	metrics.SuccessRate = 100 * float64(metrics.SuccessCount) / total
	metrics.ConflictRate = 100 * float64(metrics.ConflictCount) / total
	metrics.AvgLockWaitMs = float64(lockWaitSum) / total
	metrics.P95LockWaitMs = int64(percentile(lockWaits, 95))
	metrics.MedianTimeToPublishMs = int64(percentile(durations, 50))
	metrics.MedianRetryCount = percentile(retryCounts, 50)
	metrics.MedianConflictResolutionMs = conflictResolutionMedian(entries)

	return metrics
}

// percentile picks the value at round(p/100 * (n-1)) from the sorted sample,
// clamped to the valid index range. Returns 0 for an empty sample.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	index := int(math.Round(p / 100 * float64(len(sorted)-1)))
	if index < 0 {
		index = 0
	}
	if index > len(sorted)-1 {
		index = len(sorted) - 1
	}
	return sorted[index]
}

// conflictResolutionMedian measures, per actor, how long a detected conflict
// took to resolve into that actor's next successful publish. Conflicts with no
// later success are left open and excluded.
func conflictResolutionMedian(entries []persistence.AuditEntry) int64 {
	ordered := make([]persistence.AuditEntry, len(entries))
	copy(ordered, entries)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	openConflicts := map[string][]time.Time{}
	var resolutions []float64
	for _, entry := range ordered {
		if entry.ConflictDetected && entry.Status != persistence.AuditStatusSuccess {
			openConflicts[entry.Actor] = append(openConflicts[entry.Actor], entry.CreatedAt)
			continue
		}
		if entry.Status == persistence.AuditStatusSuccess {
			for _, conflictAt := range openConflicts[entry.Actor] {
				resolutions = append(resolutions, float64(entry.CreatedAt.Sub(conflictAt).Milliseconds()))
			}
			delete(openConflicts, entry.Actor)
		}
	}

	return int64(percentile(resolutions, 50))
}
