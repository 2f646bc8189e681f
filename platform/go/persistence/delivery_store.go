package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DeliveryAttempt is one append-only record of a single channel delivery attempt.
type DeliveryAttempt struct {
	ID             uuid.UUID `json:"id"`
	CorrelationID  string    `json:"correlationId"`
	Channel        string    `json:"channel"`
	Attempt        int       `json:"attempt"`
	BackoffMs      int64     `json:"backoffMs"`
	DeliveryStatus string    `json:"deliveryStatus"`
	ProviderCode   string    `json:"providerCode"`
	ProviderStatus string    `json:"providerStatus"`
	FailureClass   string    `json:"failureClass,omitempty"`
	Message        string    `json:"message,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// InsertDeliveryAttemptParams captures one channel attempt to append.
type InsertDeliveryAttemptParams struct {
	CorrelationID  string
	Channel        string
	Attempt        int
	BackoffMs      int64
	DeliveryStatus string
	ProviderCode   string
	ProviderStatus string
	FailureClass   string
	Message        string
}

// DeliveryQuery filters delivery attempt listings.
type DeliveryQuery struct {
	CorrelationID string
	Channels      []string
	Limit         int
}

// DeliveryStore persists per-attempt alert delivery records for correlation-id inspection.
type DeliveryStore struct {
	pool *pgxpool.Pool
}

// NewDeliveryStore ensures the delivery table exists and returns a store instance.
func NewDeliveryStore(ctx context.Context, pool *pgxpool.Pool) (*DeliveryStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS alert_delivery_attempts (
			id UUID PRIMARY KEY,
			correlation_id TEXT NOT NULL,
			channel TEXT NOT NULL CHECK (channel IN ('smtp', 'slack', 'pagerduty')),
			attempt INTEGER NOT NULL,
			backoff_ms BIGINT NOT NULL DEFAULT 0,
			delivery_status TEXT NOT NULL CHECK (delivery_status IN ('ok', 'fail')),
			provider_code TEXT NOT NULL DEFAULT '',
			provider_status TEXT NOT NULL DEFAULT '',
			failure_class TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS alert_delivery_attempts_corr_idx
			ON alert_delivery_attempts (correlation_id, created_at DESC);`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("ensure alert_delivery_attempts: %w", err)
		}
	}

	return &DeliveryStore{pool: pool}, nil
}

// Append records a single channel attempt.
func (s *DeliveryStore) Append(ctx context.Context, params InsertDeliveryAttemptParams) error {
	const insert = `
		INSERT INTO alert_delivery_attempts (
			id, correlation_id, channel, attempt, backoff_ms,
			delivery_status, provider_code, provider_status, failure_class, message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())`

	if _, err := s.pool.Exec(ctx, insert,
		uuid.New(),
		params.CorrelationID,
		params.Channel,
		params.Attempt,
		params.BackoffMs,
		params.DeliveryStatus,
		params.ProviderCode,
		params.ProviderStatus,
		params.FailureClass,
		params.Message,
	); err != nil {
		return fmt.Errorf("append delivery attempt: %w", err)
	}
	return nil
}

// List returns attempts newest first, optionally filtered by correlation id and channels.
func (s *DeliveryStore) List(ctx context.Context, query DeliveryQuery) ([]DeliveryAttempt, error) {
	limit := query.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	sql := `
		SELECT id, correlation_id, channel, attempt, backoff_ms,
		       delivery_status, provider_code, provider_status, failure_class, message, created_at
		FROM alert_delivery_attempts
		WHERE TRUE`
	args := []any{}

	if query.CorrelationID != "" {
		args = append(args, query.CorrelationID)
		sql += fmt.Sprintf(` AND correlation_id = $%d`, len(args))
	}
	if len(query.Channels) > 0 {
		args = append(args, query.Channels)
		sql += fmt.Sprintf(` AND channel = ANY($%d)`, len(args))
	}
	sql += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list delivery attempts: %w", err)
	}
	defer rows.Close()

	var attempts []DeliveryAttempt
	for rows.Next() {
		var attempt DeliveryAttempt
		if err := rows.Scan(
			&attempt.ID,
			&attempt.CorrelationID,
			&attempt.Channel,
			&attempt.Attempt,
			&attempt.BackoffMs,
			&attempt.DeliveryStatus,
			&attempt.ProviderCode,
			&attempt.ProviderStatus,
			&attempt.FailureClass,
			&attempt.Message,
			&attempt.CreatedAt,
		); err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}
