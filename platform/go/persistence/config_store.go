package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConfigNotFound indicates the requested configuration row does not exist.
var ErrConfigNotFound = errors.New("configuration not found")

// ErrVersionRace indicates two concurrent saves computed the same next version.
// The unique index on (scope tuple, version) rejects the loser; callers retry.
var ErrVersionRace = errors.New("configuration version race")

// ScopeTuple identifies one independent configuration lineage.
type ScopeTuple struct {
	ConfigType string
	Segment    string
	Scope      string
	ScopeID    *string
}

// Key renders the tuple as the composite string used for publish-lock keying.
func (t ScopeTuple) Key() string {
	return fmt.Sprintf("%s:%s:%s:%s", t.ConfigType, t.Segment, t.Scope, t.scopeIDValue())
}

func (t ScopeTuple) scopeIDValue() string {
	if t.ScopeID == nil {
		return ""
	}
	return *t.ScopeID
}

// ConfigRecord mirrors one immutable configuration version.
// Status and publish timestamps are the only fields mutated after creation.
type ConfigRecord struct {
	ID             uuid.UUID       `json:"id"`
	ConfigType     string          `json:"configType"`
	Segment        string          `json:"segment"`
	Scope          string          `json:"scope"`
	ScopeID        *string         `json:"scopeId,omitempty"`
	Status         string          `json:"status"`
	Version        int             `json:"version"`
	ConfigData     json.RawMessage `json:"configData"`
	Layout         json.RawMessage `json:"layout,omitempty"`
	Widgets        json.RawMessage `json:"widgets,omitempty"`
	CreatedBy      string          `json:"createdBy"`
	CreatedByEmail string          `json:"createdByEmail"`
	PublishedAt    *time.Time      `json:"publishedAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Tuple returns the record's scope tuple.
func (r ConfigRecord) Tuple() ScopeTuple {
	return ScopeTuple{ConfigType: r.ConfigType, Segment: r.Segment, Scope: r.Scope, ScopeID: r.ScopeID}
}

// InsertConfigParams captures a new immutable version to persist.
type InsertConfigParams struct {
	Tuple          ScopeTuple
	Status         string
	ConfigData     json.RawMessage
	Layout         json.RawMessage
	Widgets        json.RawMessage
	CreatedBy      string
	CreatedByEmail string
}

// HistoryParams filters the version history query.
type HistoryParams struct {
	Status *string
	Limit  int
}

// PublishTxParams drives the atomic demote/promote/audit write.
// PublishStartedAt, when set, stamps publish_duration_ms on the audit entry at
// insert time so the recorded duration covers the whole critical section.
type PublishTxParams struct {
	TargetID         uuid.UUID
	PublishStartedAt time.Time
	Audit            AuditEntryParams
}

// PublishTxResult reports the rows touched by a successful publish.
type PublishTxResult struct {
	Published ConfigRecord
	Previous  *ConfigRecord
}

// ConfigStore persists versioned UI configuration rows.
type ConfigStore struct {
	pool *pgxpool.Pool
}

const configColumns = `id, config_type, segment, scope, scope_id, status, version, config_data, layout, widgets, created_by, created_by_email, published_at, created_at, updated_at`

// NewConfigStore ensures the backing tables exist and returns a store instance.
func NewConfigStore(ctx context.Context, pool *pgxpool.Pool) (*ConfigStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}

	store := &ConfigStore{pool: pool}
	if err := store.ensureTables(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *ConfigStore) ensureTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ui_configurations (
			id UUID PRIMARY KEY,
			config_type TEXT NOT NULL CHECK (config_type IN ('header', 'nav', 'dashboard')),
			segment TEXT NOT NULL CHECK (segment IN ('corporate', 'individual')),
			scope TEXT NOT NULL CHECK (scope IN ('system', 'tenant', 'user')),
			scope_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL CHECK (status IN ('draft', 'published')),
			version INTEGER NOT NULL CHECK (version >= 1),
			config_data JSONB NOT NULL,
			layout JSONB NOT NULL DEFAULT '[]',
			widgets JSONB NOT NULL DEFAULT '[]',
			created_by TEXT NOT NULL DEFAULT '',
			created_by_email TEXT NOT NULL DEFAULT '',
			published_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		// Closes the concurrent-save race on next_version computation: the loser
		// of two identical (tuple, version) inserts gets a retryable conflict.
		`CREATE UNIQUE INDEX IF NOT EXISTS ui_configurations_version_idx
			ON ui_configurations (config_type, segment, scope, scope_id, version);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ui_configurations_published_idx
			ON ui_configurations (config_type, segment, scope, scope_id)
			WHERE status = 'published';`,
		`CREATE INDEX IF NOT EXISTS ui_configurations_tuple_idx
			ON ui_configurations (config_type, segment, scope, scope_id, created_at DESC);`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure ui_configurations: %w", err)
		}
	}
	return nil
}

// InsertVersion persists a new immutable version for the tuple, assigning
// max(existing)+1 inside the insert itself. A unique-index violation from a
// concurrent save is retried once before surfacing ErrVersionRace.
func (s *ConfigStore) InsertVersion(ctx context.Context, params InsertConfigParams) (ConfigRecord, error) {
	if len(params.ConfigData) == 0 {
		return ConfigRecord{}, errors.New("config data is required")
	}

	layout := params.Layout
	if layout == nil {
		layout = json.RawMessage(`[]`)
	}
	widgets := params.Widgets
	if widgets == nil {
		widgets = json.RawMessage(`[]`)
	}

	const insert = `
		INSERT INTO ui_configurations (
			id, config_type, segment, scope, scope_id, status, version,
			config_data, layout, widgets, created_by, created_by_email, created_at, updated_at
		)
		SELECT $1, $2, $3, $4, $5, $6,
			COALESCE(MAX(version), 0) + 1,
			$7, $8, $9, $10, $11, NOW(), NOW()
		FROM ui_configurations
		WHERE config_type = $2 AND segment = $3 AND scope = $4 AND scope_id = $5
		RETURNING ` + configColumns

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		row := s.pool.QueryRow(ctx, insert,
			uuid.New(),
			params.Tuple.ConfigType,
			params.Tuple.Segment,
			params.Tuple.Scope,
			params.Tuple.scopeIDValue(),
			params.Status,
			[]byte(params.ConfigData),
			[]byte(layout),
			[]byte(widgets),
			params.CreatedBy,
			params.CreatedByEmail,
		)

		record, err := scanConfigRecord(row)
		if err == nil {
			return record, nil
		}
		if !isUniqueViolation(err) {
			return ConfigRecord{}, fmt.Errorf("insert configuration version: %w", err)
		}
		lastErr = err
	}

	return ConfigRecord{}, fmt.Errorf("%w: %v", ErrVersionRace, lastErr)
}

// GetByID fetches a single configuration row.
func (s *ConfigStore) GetByID(ctx context.Context, id uuid.UUID) (ConfigRecord, error) {
	const query = `SELECT ` + configColumns + ` FROM ui_configurations WHERE id = $1`

	record, err := scanConfigRecord(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ConfigRecord{}, ErrConfigNotFound
		}
		return ConfigRecord{}, err
	}
	return record, nil
}

// CurrentPublished returns the single published row for the tuple, if any.
func (s *ConfigStore) CurrentPublished(ctx context.Context, tuple ScopeTuple) (ConfigRecord, error) {
	const query = `
		SELECT ` + configColumns + `
		FROM ui_configurations
		WHERE config_type = $1 AND segment = $2 AND scope = $3 AND scope_id = $4 AND status = 'published'`

	record, err := scanConfigRecord(s.pool.QueryRow(ctx, query,
		tuple.ConfigType, tuple.Segment, tuple.Scope, tuple.scopeIDValue()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ConfigRecord{}, ErrConfigNotFound
		}
		return ConfigRecord{}, err
	}
	return record, nil
}

// LatestDraft returns the most recent draft version for the tuple.
func (s *ConfigStore) LatestDraft(ctx context.Context, tuple ScopeTuple) (ConfigRecord, error) {
	const query = `
		SELECT ` + configColumns + `
		FROM ui_configurations
		WHERE config_type = $1 AND segment = $2 AND scope = $3 AND scope_id = $4 AND status = 'draft'
		ORDER BY version DESC
		LIMIT 1`

	record, err := scanConfigRecord(s.pool.QueryRow(ctx, query,
		tuple.ConfigType, tuple.Segment, tuple.Scope, tuple.scopeIDValue()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ConfigRecord{}, ErrConfigNotFound
		}
		return ConfigRecord{}, err
	}
	return record, nil
}

// Latest returns the newest version for the tuple regardless of status. A
// tuple whose newest version is already published must resolve to that row so
// republish attempts surface a status conflict instead of a missing draft.
func (s *ConfigStore) Latest(ctx context.Context, tuple ScopeTuple) (ConfigRecord, error) {
	const query = `
		SELECT ` + configColumns + `
		FROM ui_configurations
		WHERE config_type = $1 AND segment = $2 AND scope = $3 AND scope_id = $4
		ORDER BY version DESC
		LIMIT 1`

	record, err := scanConfigRecord(s.pool.QueryRow(ctx, query,
		tuple.ConfigType, tuple.Segment, tuple.Scope, tuple.scopeIDValue()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ConfigRecord{}, ErrConfigNotFound
		}
		return ConfigRecord{}, err
	}
	return record, nil
}

// MaxDraftVersion reports the highest draft version for the tuple, 0 when none exist.
func (s *ConfigStore) MaxDraftVersion(ctx context.Context, tuple ScopeTuple) (int, error) {
	const query = `
		SELECT COALESCE(MAX(version), 0)
		FROM ui_configurations
		WHERE config_type = $1 AND segment = $2 AND scope = $3 AND scope_id = $4 AND status = 'draft'`

	var version int
	if err := s.pool.QueryRow(ctx, query,
		tuple.ConfigType, tuple.Segment, tuple.Scope, tuple.scopeIDValue()).Scan(&version); err != nil {
		return 0, fmt.Errorf("max draft version: %w", err)
	}
	return version, nil
}

// History lists versions for the tuple newest first, optionally filtered by status.
func (s *ConfigStore) History(ctx context.Context, tuple ScopeTuple, params HistoryParams) ([]ConfigRecord, error) {
	limit := params.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := `
		SELECT ` + configColumns + `
		FROM ui_configurations
		WHERE config_type = $1 AND segment = $2 AND scope = $3 AND scope_id = $4`
	args := []any{tuple.ConfigType, tuple.Segment, tuple.Scope, tuple.scopeIDValue()}

	if params.Status != nil {
		query += ` AND status = $5`
		args = append(args, *params.Status)
	}
	query += fmt.Sprintf(` ORDER BY version DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list configuration history: %w", err)
	}
	defer rows.Close()

	var records []ConfigRecord
	for rows.Next() {
		record, err := scanConfigRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// LatestPreviouslyPublished returns the most recently demoted row for the
// tuple: a draft that still carries a publish stamp. Used to pick rollback targets.
func (s *ConfigStore) LatestPreviouslyPublished(ctx context.Context, tuple ScopeTuple) (ConfigRecord, error) {
	const query = `
		SELECT ` + configColumns + `
		FROM ui_configurations
		WHERE config_type = $1 AND segment = $2 AND scope = $3 AND scope_id = $4
		  AND status = 'draft' AND published_at IS NOT NULL
		ORDER BY published_at DESC
		LIMIT 1`

	record, err := scanConfigRecord(s.pool.QueryRow(ctx, query,
		tuple.ConfigType, tuple.Segment, tuple.Scope, tuple.scopeIDValue()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ConfigRecord{}, ErrConfigNotFound
		}
		return ConfigRecord{}, err
	}
	return record, nil
}

// PublishTx atomically demotes the tuple's current published row, promotes the
// target, and appends the success audit entry. The audit write rides the same
// transaction: a publish without its trail must not survive a crash.
func (s *ConfigStore) PublishTx(ctx context.Context, params PublishTxParams) (PublishTxResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return PublishTxResult{}, fmt.Errorf("begin publish tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	const targetSelect = `SELECT ` + configColumns + ` FROM ui_configurations WHERE id = $1 FOR UPDATE`
	target, err := scanConfigRecord(tx.QueryRow(ctx, targetSelect, params.TargetID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PublishTxResult{}, ErrConfigNotFound
		}
		return PublishTxResult{}, fmt.Errorf("lock publish target: %w", err)
	}

	tuple := target.Tuple()

	const currentSelect = `
		SELECT ` + configColumns + `
		FROM ui_configurations
		WHERE config_type = $1 AND segment = $2 AND scope = $3 AND scope_id = $4
		  AND status = 'published' AND id <> $5
		FOR UPDATE`
	var previous *ConfigRecord
	previousRecord, err := scanConfigRecord(tx.QueryRow(ctx, currentSelect,
		tuple.ConfigType, tuple.Segment, tuple.Scope, tuple.scopeIDValue(), target.ID))
	switch {
	case err == nil:
		previous = &previousRecord
	case errors.Is(err, pgx.ErrNoRows):
		// first publish for this tuple
	default:
		return PublishTxResult{}, fmt.Errorf("lock current published row: %w", err)
	}

	if previous != nil {
		const demote = `UPDATE ui_configurations SET status = 'draft', updated_at = NOW() WHERE id = $1`
		if _, err := tx.Exec(ctx, demote, previous.ID); err != nil {
			return PublishTxResult{}, fmt.Errorf("demote published row: %w", err)
		}
	}

	const promote = `
		UPDATE ui_configurations
		SET status = 'published', published_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING ` + configColumns
	published, err := scanConfigRecord(tx.QueryRow(ctx, promote, target.ID))
	if err != nil {
		return PublishTxResult{}, fmt.Errorf("promote target row: %w", err)
	}

	audit := params.Audit
	if !params.PublishStartedAt.IsZero() && audit.PublishDurationMs == nil {
		elapsed := time.Since(params.PublishStartedAt).Milliseconds()
		audit.PublishDurationMs = &elapsed
	}
	if err := insertAuditEntryTx(ctx, tx, audit); err != nil {
		return PublishTxResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return PublishTxResult{}, fmt.Errorf("commit publish tx: %w", err)
	}

	return PublishTxResult{Published: published, Previous: previous}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfigRecord(scanner rowScanner) (ConfigRecord, error) {
	var (
		record     ConfigRecord
		scopeID    string
		configData []byte
		layout     []byte
		widgets    []byte
	)

	if err := scanner.Scan(
		&record.ID,
		&record.ConfigType,
		&record.Segment,
		&record.Scope,
		&scopeID,
		&record.Status,
		&record.Version,
		&configData,
		&layout,
		&widgets,
		&record.CreatedBy,
		&record.CreatedByEmail,
		&record.PublishedAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return ConfigRecord{}, err
	}

	if scopeID != "" {
		record.ScopeID = &scopeID
	}
	record.ConfigData = json.RawMessage(configData)
	record.Layout = json.RawMessage(layout)
	record.Widgets = json.RawMessage(widgets)

	return record, nil
}
