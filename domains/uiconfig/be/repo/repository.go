// Package repo exposes the persistence surface the uiconfig service depends on.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clasora/uiconfig-service/platform/go/persistence"
)

// Repository is the storage contract for versioned UI configurations and the
// publish audit trail. The service only sees this interface; tests swap in mocks.
type Repository interface {
	InsertVersion(ctx context.Context, params persistence.InsertConfigParams) (persistence.ConfigRecord, error)
	GetByID(ctx context.Context, id uuid.UUID) (persistence.ConfigRecord, error)
	CurrentPublished(ctx context.Context, tuple persistence.ScopeTuple) (persistence.ConfigRecord, error)
	LatestDraft(ctx context.Context, tuple persistence.ScopeTuple) (persistence.ConfigRecord, error)
	Latest(ctx context.Context, tuple persistence.ScopeTuple) (persistence.ConfigRecord, error)
	MaxDraftVersion(ctx context.Context, tuple persistence.ScopeTuple) (int, error)
	History(ctx context.Context, tuple persistence.ScopeTuple, params persistence.HistoryParams) ([]persistence.ConfigRecord, error)
	LatestPreviouslyPublished(ctx context.Context, tuple persistence.ScopeTuple) (persistence.ConfigRecord, error)
	PublishTx(ctx context.Context, params persistence.PublishTxParams) (persistence.PublishTxResult, error)
	AppendAudit(ctx context.Context, params persistence.AuditEntryParams) error
	ListAudit(ctx context.Context, query persistence.AuditQuery) ([]persistence.AuditEntry, error)
	LastSuccessActor(ctx context.Context, tuple persistence.ScopeTuple) (actor, email string, at time.Time, err error)
}

type postgresRepository struct {
	configs *persistence.ConfigStore
	audit   *persistence.AuditStore
}

// NewPostgresRepository wires the pgx-backed stores behind the Repository contract.
func NewPostgresRepository(ctx context.Context, pool *pgxpool.Pool) (Repository, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}

	configs, err := persistence.NewConfigStore(ctx, pool)
	if err != nil {
		return nil, err
	}
	audit, err := persistence.NewAuditStore(ctx, pool)
	if err != nil {
		return nil, err
	}

	return &postgresRepository{configs: configs, audit: audit}, nil
}

func (r *postgresRepository) InsertVersion(ctx context.Context, params persistence.InsertConfigParams) (persistence.ConfigRecord, error) {
	return r.configs.InsertVersion(ctx, params)
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (persistence.ConfigRecord, error) {
	return r.configs.GetByID(ctx, id)
}

func (r *postgresRepository) CurrentPublished(ctx context.Context, tuple persistence.ScopeTuple) (persistence.ConfigRecord, error) {
	return r.configs.CurrentPublished(ctx, tuple)
}

func (r *postgresRepository) LatestDraft(ctx context.Context, tuple persistence.ScopeTuple) (persistence.ConfigRecord, error) {
	return r.configs.LatestDraft(ctx, tuple)
}

func (r *postgresRepository) Latest(ctx context.Context, tuple persistence.ScopeTuple) (persistence.ConfigRecord, error) {
	return r.configs.Latest(ctx, tuple)
}

func (r *postgresRepository) MaxDraftVersion(ctx context.Context, tuple persistence.ScopeTuple) (int, error) {
	return r.configs.MaxDraftVersion(ctx, tuple)
}

func (r *postgresRepository) History(ctx context.Context, tuple persistence.ScopeTuple, params persistence.HistoryParams) ([]persistence.ConfigRecord, error) {
	return r.configs.History(ctx, tuple, params)
}

func (r *postgresRepository) LatestPreviouslyPublished(ctx context.Context, tuple persistence.ScopeTuple) (persistence.ConfigRecord, error) {
	return r.configs.LatestPreviouslyPublished(ctx, tuple)
}

func (r *postgresRepository) PublishTx(ctx context.Context, params persistence.PublishTxParams) (persistence.PublishTxResult, error) {
	return r.configs.PublishTx(ctx, params)
}

func (r *postgresRepository) AppendAudit(ctx context.Context, params persistence.AuditEntryParams) error {
	return r.audit.Append(ctx, params)
}

func (r *postgresRepository) ListAudit(ctx context.Context, query persistence.AuditQuery) ([]persistence.AuditEntry, error) {
	return r.audit.List(ctx, query)
}

func (r *postgresRepository) LastSuccessActor(ctx context.Context, tuple persistence.ScopeTuple) (actor, email string, at time.Time, err error) {
	return r.audit.LastSuccessActor(ctx, tuple)
}
