// Package service manages design themes and resolves the effective token set
// for a tenant: global theme first, tenant overrides layered on top.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clasora/uiconfig-service/domains/themes/be/repo"
	"github.com/clasora/uiconfig-service/platform/go/cache"
	"github.com/clasora/uiconfig-service/platform/go/persistence"
)

// Resolution modes for the effective theme.
const (
	ModeMerged     = "merged"
	ModeGlobalOnly = "global_only"
	ModeTenantOnly = "tenant_only"
)

const (
	resolveCacheTTL = 5 * time.Minute

	scopeSystem = "system"
	scopeTenant = "tenant"
)

// Domain errors.
var (
	ErrThemeNotFound = errors.New("theme not found")
	ErrNameTaken     = errors.New("theme name already taken")
)

// TokenValidationError reports a token document that fails the design schema.
type TokenValidationError struct {
	Detail string
}

func (e *TokenValidationError) Error() string {
	return fmt.Sprintf("invalid theme tokens: %s", e.Detail)
}

// SubsetError reports tenant override paths that do not exist in the global theme.
type SubsetError struct {
	Paths []string
}

func (e *SubsetError) Error() string {
	return fmt.Sprintf("override introduces keys absent from the global theme: %s", formatViolations(e.Paths))
}

// CreateThemeRequest captures a new named token document.
type CreateThemeRequest struct {
	Name     string
	Tokens   json.RawMessage
	IsActive bool
}

// AssignRequest binds a theme to the system scope or one tenant.
type AssignRequest struct {
	ThemeID uuid.UUID
	Scope   string
	ScopeID *string
}

// EffectiveTheme is the resolved token set served to renderers.
type EffectiveTheme struct {
	Mode      string          `json:"mode"`
	Tokens    json.RawMessage `json:"tokens"`
	GlobalID  *uuid.UUID      `json:"globalThemeId,omitempty"`
	TenantID  *uuid.UUID      `json:"tenantThemeId,omitempty"`
	FromCache bool            `json:"-"`
}

// Service is the theme management and resolution API.
type Service interface {
	Create(ctx context.Context, request CreateThemeRequest) (persistence.ThemeRecord, error)
	Get(ctx context.Context, id uuid.UUID) (persistence.ThemeRecord, error)
	List(ctx context.Context) ([]persistence.ThemeRecord, error)
	Assign(ctx context.Context, request AssignRequest) (persistence.ThemeAssignment, error)
	Resolve(ctx context.Context, tenantID *string, mode string) (EffectiveTheme, error)
}

type service struct {
	logger *zap.Logger
	repo   repo.Repository
	cache  cache.Cache
}

// New builds the themes service.
func New(logger *zap.Logger, repository repo.Repository, tokenCache cache.Cache) Service {
	return &service{logger: logger, repo: repository, cache: tokenCache}
}

// Create validates the token document and persists the theme.
func (s *service) Create(ctx context.Context, request CreateThemeRequest) (persistence.ThemeRecord, error) {
	if request.Name == "" {
		return persistence.ThemeRecord{}, &TokenValidationError{Detail: "name is required"}
	}
	if err := validateTokens(request.Tokens); err != nil {
		return persistence.ThemeRecord{}, err
	}

	record, err := s.repo.CreateTheme(ctx, persistence.CreateThemeParams{
		Name:     request.Name,
		Tokens:   request.Tokens,
		IsActive: request.IsActive,
	})
	if err != nil {
		if errors.Is(err, persistence.ErrThemeNameTaken) {
			return persistence.ThemeRecord{}, ErrNameTaken
		}
		return persistence.ThemeRecord{}, err
	}

	s.cache.Bump(ctx)
	s.logger.Info("theme created", zap.String("name", record.Name), zap.String("id", record.ID.String()))
	return record, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (persistence.ThemeRecord, error) {
	record, err := s.repo.GetTheme(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrThemeNotFound) {
			return persistence.ThemeRecord{}, ErrThemeNotFound
		}
		return persistence.ThemeRecord{}, err
	}
	return record, nil
}

func (s *service) List(ctx context.Context) ([]persistence.ThemeRecord, error) {
	return s.repo.ListThemes(ctx)
}

// Assign binds the theme to its scope. Tenant assignments are checked against
// the current global theme: the override may restyle existing token paths but
// cannot introduce new ones.
func (s *service) Assign(ctx context.Context, request AssignRequest) (persistence.ThemeAssignment, error) {
	if request.Scope != scopeSystem && request.Scope != scopeTenant {
		return persistence.ThemeAssignment{}, &TokenValidationError{Detail: fmt.Sprintf("unsupported scope %q", request.Scope)}
	}
	if request.Scope == scopeTenant && (request.ScopeID == nil || *request.ScopeID == "") {
		return persistence.ThemeAssignment{}, &TokenValidationError{Detail: "tenant assignments require a scope id"}
	}

	theme, err := s.repo.GetTheme(ctx, request.ThemeID)
	if err != nil {
		if errors.Is(err, persistence.ErrThemeNotFound) {
			return persistence.ThemeAssignment{}, ErrThemeNotFound
		}
		return persistence.ThemeAssignment{}, err
	}

	if request.Scope == scopeTenant {
		if err := s.checkSubset(ctx, theme); err != nil {
			return persistence.ThemeAssignment{}, err
		}
	}

	assignment, err := s.repo.Assign(ctx, persistence.AssignThemeParams{
		ThemeID: request.ThemeID,
		Scope:   request.Scope,
		ScopeID: request.ScopeID,
	})
	if err != nil {
		return persistence.ThemeAssignment{}, err
	}

	s.cache.Bump(ctx)
	s.logger.Info("theme assigned",
		zap.String("theme", theme.Name),
		zap.String("scope", request.Scope))
	return assignment, nil
}

func (s *service) checkSubset(ctx context.Context, override persistence.ThemeRecord) error {
	global, err := s.repo.AssignedTheme(ctx, scopeSystem, nil)
	if err != nil {
		if errors.Is(err, persistence.ErrThemeNotFound) {
			// no global theme yet, nothing to be a subset of
			return &TokenValidationError{Detail: "assign a global theme before tenant overrides"}
		}
		return err
	}

	baseTokens, err := decodeTokens(global.Tokens)
	if err != nil {
		return err
	}
	overrideTokens, err := decodeTokens(override.Tokens)
	if err != nil {
		return err
	}

	if violations := subsetViolations(baseTokens, overrideTokens); len(violations) > 0 {
		return &SubsetError{Paths: violations}
	}
	return nil
}

// Resolve computes the effective theme for a tenant, read-through cached.
// Every theme write bumps the cache generation, so stale entries die together.
func (s *service) Resolve(ctx context.Context, tenantID *string, mode string) (EffectiveTheme, error) {
	if mode == "" {
		mode = ModeMerged
	}
	switch mode {
	case ModeMerged, ModeGlobalOnly, ModeTenantOnly:
	default:
		return EffectiveTheme{}, &TokenValidationError{Detail: fmt.Sprintf("unsupported resolution mode %q", mode)}
	}

	cacheKey := s.resolveCacheKey(ctx, tenantID, mode)
	if cached, ok := s.cache.Get(ctx, cacheKey); ok {
		var effective EffectiveTheme
		if err := json.Unmarshal(cached, &effective); err == nil {
			effective.FromCache = true
			return effective, nil
		}
	}

	effective, err := s.resolve(ctx, tenantID, mode)
	if err != nil {
		return EffectiveTheme{}, err
	}

	if encoded, err := json.Marshal(effective); err == nil {
		s.cache.Set(ctx, cacheKey, encoded, resolveCacheTTL)
	}
	return effective, nil
}

func (s *service) resolveCacheKey(ctx context.Context, tenantID *string, mode string) string {
	tenant := ""
	if tenantID != nil {
		tenant = *tenantID
	}
	return fmt.Sprintf("uiconfig:theme:eff:%d:%s:%s", s.cache.Generation(ctx), mode, tenant)
}

func (s *service) resolve(ctx context.Context, tenantID *string, mode string) (EffectiveTheme, error) {
	effective := EffectiveTheme{Mode: mode, Tokens: json.RawMessage(`{}`)}

	var global, tenant *persistence.ThemeRecord
	if mode != ModeTenantOnly {
		record, err := s.repo.AssignedTheme(ctx, scopeSystem, nil)
		switch {
		case err == nil:
			global = &record
		case errors.Is(err, persistence.ErrThemeNotFound):
		default:
			return EffectiveTheme{}, err
		}
	}
	if mode != ModeGlobalOnly && tenantID != nil && *tenantID != "" {
		record, err := s.repo.AssignedTheme(ctx, scopeTenant, tenantID)
		switch {
		case err == nil:
			tenant = &record
		case errors.Is(err, persistence.ErrThemeNotFound):
		default:
			return EffectiveTheme{}, err
		}
	}

	switch {
	case global != nil && tenant != nil:
		baseTokens, err := decodeTokens(global.Tokens)
		if err != nil {
			return EffectiveTheme{}, err
		}
		overrideTokens, err := decodeTokens(tenant.Tokens)
		if err != nil {
			return EffectiveTheme{}, err
		}
		merged, err := json.Marshal(deepMerge(baseTokens, overrideTokens))
		if err != nil {
			return EffectiveTheme{}, fmt.Errorf("encode merged tokens: %w", err)
		}
		effective.Tokens = merged
		effective.GlobalID = &global.ID
		effective.TenantID = &tenant.ID
	case global != nil:
		effective.Tokens = global.Tokens
		effective.GlobalID = &global.ID
	case tenant != nil:
		effective.Tokens = tenant.Tokens
		effective.TenantID = &tenant.ID
	}

	return effective, nil
}

func decodeTokens(raw json.RawMessage) (map[string]any, error) {
	var tokens map[string]any
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("decode theme tokens: %w", err)
	}
	if tokens == nil {
		tokens = map[string]any{}
	}
	return tokens, nil
}
