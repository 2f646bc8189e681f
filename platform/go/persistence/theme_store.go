package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrThemeNotFound indicates the requested theme or assignment does not exist.
var ErrThemeNotFound = errors.New("theme not found")

// ErrThemeNameTaken indicates a theme with the same name already exists.
var ErrThemeNameTaken = errors.New("theme name already taken")

// ThemeRecord holds a named token document.
type ThemeRecord struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Tokens    json.RawMessage `json:"tokens"`
	IsActive  bool            `json:"isActive"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// ThemeAssignment binds a theme to a scope (system or one tenant).
type ThemeAssignment struct {
	ID        uuid.UUID `json:"id"`
	ThemeID   uuid.UUID `json:"themeId"`
	Scope     string    `json:"scope"`
	ScopeID   *string   `json:"scopeId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreateThemeParams captures a new theme.
type CreateThemeParams struct {
	Name     string
	Tokens   json.RawMessage
	IsActive bool
}

// AssignThemeParams binds a theme to a scope; one assignment per scope key.
type AssignThemeParams struct {
	ThemeID uuid.UUID
	Scope   string
	ScopeID *string
}

// ThemeStore persists themes and their scope assignments.
type ThemeStore struct {
	pool *pgxpool.Pool
}

// NewThemeStore ensures the theme tables exist and returns a store instance.
func NewThemeStore(ctx context.Context, pool *pgxpool.Pool) (*ThemeStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS ui_themes (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			tokens JSONB NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS ui_theme_assignments (
			id UUID PRIMARY KEY,
			theme_id UUID NOT NULL REFERENCES ui_themes(id),
			scope TEXT NOT NULL CHECK (scope IN ('system', 'tenant')),
			scope_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (scope, scope_id)
		);`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("ensure theme tables: %w", err)
		}
	}

	return &ThemeStore{pool: pool}, nil
}

// CreateTheme persists a new theme; names are unique.
func (s *ThemeStore) CreateTheme(ctx context.Context, params CreateThemeParams) (ThemeRecord, error) {
	const insert = `
		INSERT INTO ui_themes (id, name, tokens, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, name, tokens, is_active, created_at, updated_at`

	record, err := scanTheme(s.pool.QueryRow(ctx, insert, uuid.New(), params.Name, []byte(params.Tokens), params.IsActive))
	if err != nil {
		if isUniqueViolation(err) {
			return ThemeRecord{}, ErrThemeNameTaken
		}
		return ThemeRecord{}, fmt.Errorf("insert theme: %w", err)
	}
	return record, nil
}

// GetTheme fetches one theme by id.
func (s *ThemeStore) GetTheme(ctx context.Context, id uuid.UUID) (ThemeRecord, error) {
	const query = `SELECT id, name, tokens, is_active, created_at, updated_at FROM ui_themes WHERE id = $1`

	record, err := scanTheme(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ThemeRecord{}, ErrThemeNotFound
		}
		return ThemeRecord{}, err
	}
	return record, nil
}

// ListThemes returns all themes ordered by name.
func (s *ThemeStore) ListThemes(ctx context.Context) ([]ThemeRecord, error) {
	const query = `SELECT id, name, tokens, is_active, created_at, updated_at FROM ui_themes ORDER BY name`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list themes: %w", err)
	}
	defer rows.Close()

	var records []ThemeRecord
	for rows.Next() {
		record, err := scanTheme(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Assign upserts the assignment for the scope key.
func (s *ThemeStore) Assign(ctx context.Context, params AssignThemeParams) (ThemeAssignment, error) {
	scopeID := ""
	if params.ScopeID != nil {
		scopeID = *params.ScopeID
	}

	const upsert = `
		INSERT INTO ui_theme_assignments (id, theme_id, scope, scope_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (scope, scope_id)
		DO UPDATE SET theme_id = EXCLUDED.theme_id, updated_at = NOW()
		RETURNING id, theme_id, scope, scope_id, created_at, updated_at`

	assignment, err := scanAssignment(s.pool.QueryRow(ctx, upsert, uuid.New(), params.ThemeID, params.Scope, scopeID))
	if err != nil {
		return ThemeAssignment{}, fmt.Errorf("assign theme: %w", err)
	}
	return assignment, nil
}

// AssignedTheme resolves the theme currently assigned to a scope key.
func (s *ThemeStore) AssignedTheme(ctx context.Context, scope string, scopeID *string) (ThemeRecord, error) {
	value := ""
	if scopeID != nil {
		value = *scopeID
	}

	const query = `
		SELECT t.id, t.name, t.tokens, t.is_active, t.created_at, t.updated_at
		FROM ui_theme_assignments a
		JOIN ui_themes t ON t.id = a.theme_id
		WHERE a.scope = $1 AND a.scope_id = $2 AND t.is_active`

	record, err := scanTheme(s.pool.QueryRow(ctx, query, scope, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ThemeRecord{}, ErrThemeNotFound
		}
		return ThemeRecord{}, err
	}
	return record, nil
}

func scanTheme(scanner rowScanner) (ThemeRecord, error) {
	var (
		record ThemeRecord
		tokens []byte
	)
	if err := scanner.Scan(&record.ID, &record.Name, &tokens, &record.IsActive, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return ThemeRecord{}, err
	}
	record.Tokens = json.RawMessage(tokens)
	return record, nil
}

func scanAssignment(scanner rowScanner) (ThemeAssignment, error) {
	var (
		assignment ThemeAssignment
		scopeID    string
	)
	if err := scanner.Scan(&assignment.ID, &assignment.ThemeID, &assignment.Scope, &scopeID, &assignment.CreatedAt, &assignment.UpdatedAt); err != nil {
		return ThemeAssignment{}, err
	}
	if scopeID != "" {
		assignment.ScopeID = &scopeID
	}
	return assignment, nil
}
