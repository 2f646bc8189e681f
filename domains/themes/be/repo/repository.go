// Package repo exposes the persistence surface the themes service depends on.
package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clasora/uiconfig-service/platform/go/persistence"
)

// Repository is the storage contract for themes and their scope assignments.
type Repository interface {
	CreateTheme(ctx context.Context, params persistence.CreateThemeParams) (persistence.ThemeRecord, error)
	GetTheme(ctx context.Context, id uuid.UUID) (persistence.ThemeRecord, error)
	ListThemes(ctx context.Context) ([]persistence.ThemeRecord, error)
	Assign(ctx context.Context, params persistence.AssignThemeParams) (persistence.ThemeAssignment, error)
	AssignedTheme(ctx context.Context, scope string, scopeID *string) (persistence.ThemeRecord, error)
}

type postgresRepository struct {
	store *persistence.ThemeStore
}

// NewPostgresRepository wires the pgx-backed theme store behind the Repository contract.
func NewPostgresRepository(ctx context.Context, pool *pgxpool.Pool) (Repository, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}

	store, err := persistence.NewThemeStore(ctx, pool)
	if err != nil {
		return nil, err
	}
	return &postgresRepository{store: store}, nil
}

func (r *postgresRepository) CreateTheme(ctx context.Context, params persistence.CreateThemeParams) (persistence.ThemeRecord, error) {
	return r.store.CreateTheme(ctx, params)
}

func (r *postgresRepository) GetTheme(ctx context.Context, id uuid.UUID) (persistence.ThemeRecord, error) {
	return r.store.GetTheme(ctx, id)
}

func (r *postgresRepository) ListThemes(ctx context.Context) ([]persistence.ThemeRecord, error) {
	return r.store.ListThemes(ctx)
}

func (r *postgresRepository) Assign(ctx context.Context, params persistence.AssignThemeParams) (persistence.ThemeAssignment, error) {
	return r.store.Assign(ctx, params)
}

func (r *postgresRepository) AssignedTheme(ctx context.Context, scope string, scopeID *string) (persistence.ThemeRecord, error) {
	return r.store.AssignedTheme(ctx, scope, scopeID)
}
