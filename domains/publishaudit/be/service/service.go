// Package service computes publish telemetry from the audit trail.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clasora/uiconfig-service/platform/go/persistence"
)

// Rollup windows reported by the telemetry endpoint.
const (
	WindowHour = "1h"
	WindowDay  = "24h"
	WindowWeek = "7d"
)

var windowDurations = map[string]time.Duration{
	WindowHour: time.Hour,
	WindowDay:  24 * time.Hour,
	WindowWeek: 7 * 24 * time.Hour,
}

// fetchLimit bounds the audit rows behind one rollup or trend computation. A
// week on the busiest tuple stays well under this; beyond it the oldest
// attempts drop out of the aggregates first.
const fetchLimit = 5000

// SLO targets the ops team alerts on; reported alongside the measured values
// so dashboards can render headroom without hardcoding the targets. Rate
// targets are percentages, matching Metrics.
type SLOTargets struct {
	MaxConflictRate     float64 `json:"maxConflictRate"`
	MinSuccessRate      float64 `json:"minSuccessRate"`
	MaxP95LockWaitMs    int64   `json:"maxP95LockWaitMs"`
	MaxMedianPublishMs  int64   `json:"maxMedianPublishMs"`
	MaxMedianResolution int64   `json:"maxMedianResolutionMs"`
}

// DefaultSLOTargets returns the production targets.
func DefaultSLOTargets() SLOTargets {
	return SLOTargets{
		MaxConflictRate:     10,
		MinSuccessRate:      95,
		MaxP95LockWaitMs:    500,
		MaxMedianPublishMs:  2000,
		MaxMedianResolution: 5 * 60 * 1000,
	}
}

// Rollup bundles per-window metrics with the SLO targets they are judged against.
type Rollup struct {
	Windows map[string]Metrics `json:"windows"`
	Targets SLOTargets         `json:"targets"`
}

// TrendBucket is one hour of the trend chart: the full metrics computation
// re-run over just that hour's attempts.
type TrendBucket struct {
	Start   time.Time `json:"start"`
	Metrics Metrics   `json:"metrics"`
}

// AuditReader is the slice of the audit store this service needs.
type AuditReader interface {
	ListAudit(ctx context.Context, query persistence.AuditQuery) ([]persistence.AuditEntry, error)
}

// Service exposes publish attempt telemetry.
type Service interface {
	Attempts(ctx context.Context, tuple persistence.ScopeTuple, limit int) ([]persistence.AuditEntry, error)
	Rollup(ctx context.Context, tuple persistence.ScopeTuple) (Rollup, error)
	Trend(ctx context.Context, tuple persistence.ScopeTuple) ([]TrendBucket, error)
}

type service struct {
	logger  *zap.Logger
	reader  AuditReader
	targets SLOTargets
	now     func() time.Time
}

// New builds the telemetry service.
func New(logger *zap.Logger, reader AuditReader, targets SLOTargets) Service {
	return &service{
		logger:  logger,
		reader:  reader,
		targets: targets,
		now:     time.Now,
	}
}

func (s *service) Attempts(ctx context.Context, tuple persistence.ScopeTuple, limit int) ([]persistence.AuditEntry, error) {
	return s.reader.ListAudit(ctx, persistence.AuditQuery{Tuple: tuple, Limit: limit})
}

// Rollup computes the 1h/24h/7d windows from one 7d fetch.
func (s *service) Rollup(ctx context.Context, tuple persistence.ScopeTuple) (Rollup, error) {
	now := s.now()
	since := now.Add(-windowDurations[WindowWeek])

	entries, err := s.reader.ListAudit(ctx, persistence.AuditQuery{Tuple: tuple, Limit: fetchLimit, Since: &since})
	if err != nil {
		return Rollup{}, err
	}

	rollup := Rollup{Windows: map[string]Metrics{}, Targets: s.targets}
	for window, duration := range windowDurations {
		cutoff := now.Add(-duration)
		var scoped []persistence.AuditEntry
		for _, entry := range entries {
			if !entry.CreatedAt.Before(cutoff) {
				scoped = append(scoped, entry)
			}
		}
		rollup.Windows[window] = ComputeMetrics(scoped)
	}
	return rollup, nil
}

// Trend buckets the last 24 hours of attempts into hourly windows, oldest
// first, and computes the full metrics set independently per bucket. Empty
// hours are present with zero metrics so charts render a full axis.
func (s *service) Trend(ctx context.Context, tuple persistence.ScopeTuple) ([]TrendBucket, error) {
	now := s.now()
	start := now.Truncate(time.Hour).Add(-23 * time.Hour)

	entries, err := s.reader.ListAudit(ctx, persistence.AuditQuery{Tuple: tuple, Limit: fetchLimit, Since: &start})
	if err != nil {
		return nil, err
	}

	grouped := make([][]persistence.AuditEntry, 24)
	for _, entry := range entries {
		index := int(entry.CreatedAt.Sub(start) / time.Hour)
		if index < 0 || index >= len(grouped) {
			continue
		}
		grouped[index] = append(grouped[index], entry)
	}

	buckets := make([]TrendBucket, 24)
	for i := range buckets {
		buckets[i].Start = start.Add(time.Duration(i) * time.Hour)
		buckets[i].Metrics = ComputeMetrics(grouped[i])
	}
	return buckets, nil
}
