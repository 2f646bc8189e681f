package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Publish attempt outcomes recorded in the audit log.
const (
	AuditStatusSuccess         = "success"
	AuditStatusLocked          = "locked"
	AuditStatusValidationError = "validation_error"
)

// AuditEntry is one append-only record of a publish attempt.
type AuditEntry struct {
	ID                uuid.UUID  `json:"id"`
	Actor             string     `json:"actor"`
	ActorEmail        string     `json:"actorEmail"`
	OwnerType         string     `json:"ownerType"`
	OwnerID           string     `json:"ownerId"`
	ConfigType        string     `json:"configType"`
	Segment           string     `json:"segment"`
	Scope             string     `json:"scope"`
	ScopeID           string     `json:"scopeId"`
	ConfigVersion     int        `json:"configVersion"`
	RetryCount        int        `json:"retryCount"`
	ConflictDetected  bool       `json:"conflictDetected"`
	LockWaitMs        int64      `json:"lockWaitMs"`
	PublishDurationMs *int64     `json:"publishDurationMs,omitempty"`
	Status            string     `json:"status"`
	Message           string     `json:"message"`
	ErrorCode         string     `json:"errorCode,omitempty"`
	SnapshotHash      string     `json:"snapshotHash,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// AuditEntryParams captures a publish attempt to append.
type AuditEntryParams struct {
	Actor             string
	ActorEmail        string
	OwnerType         string
	OwnerID           string
	Tuple             ScopeTuple
	ConfigVersion     int
	RetryCount        int
	ConflictDetected  bool
	LockWaitMs        int64
	PublishDurationMs *int64
	Status            string
	Message           string
	ErrorCode         string
	SnapshotHash      string
}

// AuditQuery filters publish attempt listings.
type AuditQuery struct {
	Tuple ScopeTuple
	Limit int
	Since *time.Time
}

// AuditStore persists the append-only publish attempt log.
type AuditStore struct {
	pool *pgxpool.Pool
}

const auditColumns = `id, actor, actor_email, owner_type, owner_id, config_type, segment, scope, scope_id, config_version, retry_count, conflict_detected, lock_wait_ms, publish_duration_ms, status, message, error_code, snapshot_hash, created_at`

// NewAuditStore ensures the audit table exists and returns a store instance.
func NewAuditStore(ctx context.Context, pool *pgxpool.Pool) (*AuditStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS publish_audit_log (
			id UUID PRIMARY KEY,
			actor TEXT NOT NULL,
			actor_email TEXT NOT NULL DEFAULT '',
			owner_type TEXT NOT NULL,
			owner_id TEXT NOT NULL DEFAULT '',
			config_type TEXT NOT NULL,
			segment TEXT NOT NULL,
			scope TEXT NOT NULL,
			scope_id TEXT NOT NULL DEFAULT '',
			config_version INTEGER NOT NULL DEFAULT 0,
			retry_count INTEGER NOT NULL DEFAULT 0,
			conflict_detected BOOLEAN NOT NULL DEFAULT FALSE,
			lock_wait_ms BIGINT NOT NULL DEFAULT 0,
			publish_duration_ms BIGINT,
			status TEXT NOT NULL CHECK (status IN ('success', 'locked', 'validation_error')),
			message TEXT NOT NULL DEFAULT '',
			error_code TEXT NOT NULL DEFAULT '',
			snapshot_hash TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS publish_audit_log_tuple_idx
			ON publish_audit_log (config_type, segment, scope, scope_id, created_at DESC);`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("ensure publish_audit_log: %w", err)
		}
	}

	return &AuditStore{pool: pool}, nil
}

// Append records one publish attempt outside of a publish transaction.
// Rejected attempts (conflicts, lock denials, guardrail failures) land here
// synchronously before the error is surfaced to the caller.
func (s *AuditStore) Append(ctx context.Context, params AuditEntryParams) error {
	return insertAuditEntry(ctx, s.pool, params)
}

// List returns attempts for the tuple, newest first. The ceiling leaves room
// for a full week of attempts on a busy tuple, which the telemetry rollups
// fetch in one call.
func (s *AuditStore) List(ctx context.Context, query AuditQuery) ([]AuditEntry, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 5000 {
		limit = 5000
	}

	sql := `
		SELECT ` + auditColumns + `
		FROM publish_audit_log
		WHERE config_type = $1 AND segment = $2 AND scope = $3 AND scope_id = $4`
	args := []any{query.Tuple.ConfigType, query.Tuple.Segment, query.Tuple.Scope, query.Tuple.scopeIDValue()}

	if query.Since != nil {
		sql += ` AND created_at >= $5`
		args = append(args, *query.Since)
	}
	sql += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list publish audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// LastSuccessActor resolves who most recently published for the tuple. The
// configuration row only records content authorship, so the actor that flipped
// the status lives in the audit trail.
func (s *AuditStore) LastSuccessActor(ctx context.Context, tuple ScopeTuple) (actor, email string, at time.Time, err error) {
	const query = `
		SELECT actor, actor_email, created_at
		FROM publish_audit_log
		WHERE config_type = $1 AND segment = $2 AND scope = $3 AND scope_id = $4 AND status = 'success'
		ORDER BY created_at DESC
		LIMIT 1`

	err = s.pool.QueryRow(ctx, query,
		tuple.ConfigType, tuple.Segment, tuple.Scope, tuple.scopeIDValue()).Scan(&actor, &email, &at)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", time.Time{}, ErrConfigNotFound
	}
	return actor, email, at, err
}

func insertAuditEntry(ctx context.Context, pool *pgxpool.Pool, params AuditEntryParams) error {
	_, err := pool.Exec(ctx, auditInsertSQL, auditInsertArgs(params)...)
	if err != nil {
		return fmt.Errorf("append publish audit entry: %w", err)
	}
	return nil
}

// insertAuditEntryTx appends an audit entry inside the publish transaction so
// the row mutation and its trail commit together.
func insertAuditEntryTx(ctx context.Context, tx pgx.Tx, params AuditEntryParams) error {
	if _, err := tx.Exec(ctx, auditInsertSQL, auditInsertArgs(params)...); err != nil {
		return fmt.Errorf("append publish audit entry: %w", err)
	}
	return nil
}

const auditInsertSQL = `
	INSERT INTO publish_audit_log (
		id, actor, actor_email, owner_type, owner_id,
		config_type, segment, scope, scope_id, config_version,
		retry_count, conflict_detected, lock_wait_ms, publish_duration_ms,
		status, message, error_code, snapshot_hash, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW())`

func auditInsertArgs(params AuditEntryParams) []any {
	return []any{
		uuid.New(),
		params.Actor,
		params.ActorEmail,
		params.OwnerType,
		params.OwnerID,
		params.Tuple.ConfigType,
		params.Tuple.Segment,
		params.Tuple.Scope,
		params.Tuple.scopeIDValue(),
		params.ConfigVersion,
		params.RetryCount,
		params.ConflictDetected,
		params.LockWaitMs,
		params.PublishDurationMs,
		params.Status,
		params.Message,
		params.ErrorCode,
		params.SnapshotHash,
	}
}

func scanAuditEntry(scanner rowScanner) (AuditEntry, error) {
	var entry AuditEntry
	if err := scanner.Scan(
		&entry.ID,
		&entry.Actor,
		&entry.ActorEmail,
		&entry.OwnerType,
		&entry.OwnerID,
		&entry.ConfigType,
		&entry.Segment,
		&entry.Scope,
		&entry.ScopeID,
		&entry.ConfigVersion,
		&entry.RetryCount,
		&entry.ConflictDetected,
		&entry.LockWaitMs,
		&entry.PublishDurationMs,
		&entry.Status,
		&entry.Message,
		&entry.ErrorCode,
		&entry.SnapshotHash,
		&entry.CreatedAt,
	); err != nil {
		return AuditEntry{}, err
	}
	return entry, nil
}
