package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clasora/uiconfig-service/platform/go/persistence"
)

type mockThemeRepo struct {
	createThemeFn   func(ctx context.Context, params persistence.CreateThemeParams) (persistence.ThemeRecord, error)
	getThemeFn      func(ctx context.Context, id uuid.UUID) (persistence.ThemeRecord, error)
	listThemesFn    func(ctx context.Context) ([]persistence.ThemeRecord, error)
	assignFn        func(ctx context.Context, params persistence.AssignThemeParams) (persistence.ThemeAssignment, error)
	assignedThemeFn func(ctx context.Context, scope string, scopeID *string) (persistence.ThemeRecord, error)

	assignedCalls int
}

func (m *mockThemeRepo) CreateTheme(ctx context.Context, params persistence.CreateThemeParams) (persistence.ThemeRecord, error) {
	return m.createThemeFn(ctx, params)
}

func (m *mockThemeRepo) GetTheme(ctx context.Context, id uuid.UUID) (persistence.ThemeRecord, error) {
	if m.getThemeFn == nil {
		return persistence.ThemeRecord{}, persistence.ErrThemeNotFound
	}
	return m.getThemeFn(ctx, id)
}

func (m *mockThemeRepo) ListThemes(ctx context.Context) ([]persistence.ThemeRecord, error) {
	if m.listThemesFn == nil {
		return nil, nil
	}
	return m.listThemesFn(ctx)
}

func (m *mockThemeRepo) Assign(ctx context.Context, params persistence.AssignThemeParams) (persistence.ThemeAssignment, error) {
	return m.assignFn(ctx, params)
}

func (m *mockThemeRepo) AssignedTheme(ctx context.Context, scope string, scopeID *string) (persistence.ThemeRecord, error) {
	m.assignedCalls++
	if m.assignedThemeFn == nil {
		return persistence.ThemeRecord{}, persistence.ErrThemeNotFound
	}
	return m.assignedThemeFn(ctx, scope, scopeID)
}

// memoryCache is an in-process stand-in for the Redis cache.
type memoryCache struct {
	mu         sync.Mutex
	entries    map[string][]byte
	generation int64
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.entries[key]
	return value, ok
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
}

func (c *memoryCache) Generation(context.Context) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *memoryCache) Bump(context.Context) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	return c.generation
}

func themeRecord(name string, tokens string) persistence.ThemeRecord {
	return persistence.ThemeRecord{
		ID:       uuid.New(),
		Name:     name,
		Tokens:   json.RawMessage(tokens),
		IsActive: true,
	}
}

func TestCreateValidatesTokens(t *testing.T) {
	t.Parallel()

	repository := &mockThemeRepo{
		createThemeFn: func(_ context.Context, params persistence.CreateThemeParams) (persistence.ThemeRecord, error) {
			return themeRecord(params.Name, string(params.Tokens)), nil
		},
	}
	svc := New(zap.NewNop(), repository, newMemoryCache())

	_, err := svc.Create(context.Background(), CreateThemeRequest{
		Name:   "broken",
		Tokens: json.RawMessage(`{"colors":{"primary":"red"}}`),
	})
	var validation *TokenValidationError
	require.ErrorAs(t, err, &validation, "non-hex colors are rejected")

	_, err = svc.Create(context.Background(), CreateThemeRequest{
		Name:   "broken-spacing",
		Tokens: json.RawMessage(`{"spacing":{"sm":-4}}`),
	})
	require.ErrorAs(t, err, &validation, "negative spacing is rejected")

	record, err := svc.Create(context.Background(), CreateThemeRequest{
		Name:   "marketplace",
		Tokens: json.RawMessage(`{"colors":{"primary":"#0a0a0a"},"spacing":{"sm":4},"typography":{"baseSizePx":16}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "marketplace", record.Name)
}

func TestCreateMapsNameCollision(t *testing.T) {
	t.Parallel()

	repository := &mockThemeRepo{
		createThemeFn: func(context.Context, persistence.CreateThemeParams) (persistence.ThemeRecord, error) {
			return persistence.ThemeRecord{}, persistence.ErrThemeNameTaken
		},
	}
	svc := New(zap.NewNop(), repository, newMemoryCache())

	_, err := svc.Create(context.Background(), CreateThemeRequest{
		Name:   "dup",
		Tokens: json.RawMessage(`{}`),
	})
	require.ErrorIs(t, err, ErrNameTaken)
}

func TestAssignTenantEnforcesSubset(t *testing.T) {
	t.Parallel()

	global := themeRecord("global", `{"colors":{"primary":"#111111"}}`)
	override := themeRecord("override", `{"colors":{"primary":"#ff0000","accent":"#00ff00"}}`)

	repository := &mockThemeRepo{
		getThemeFn: func(context.Context, uuid.UUID) (persistence.ThemeRecord, error) {
			return override, nil
		},
		assignedThemeFn: func(_ context.Context, scope string, _ *string) (persistence.ThemeRecord, error) {
			if scope == "system" {
				return global, nil
			}
			return persistence.ThemeRecord{}, persistence.ErrThemeNotFound
		},
	}
	svc := New(zap.NewNop(), repository, newMemoryCache())

	tenant := "dealer-7"
	_, err := svc.Assign(context.Background(), AssignRequest{
		ThemeID: override.ID,
		Scope:   "tenant",
		ScopeID: &tenant,
	})
	var subset *SubsetError
	require.ErrorAs(t, err, &subset)
	assert.Equal(t, []string{"colors.accent"}, subset.Paths)
}

func TestResolveMerged(t *testing.T) {
	t.Parallel()

	global := themeRecord("global", `{"colors":{"primary":"#111111","secondary":"#222222"}}`)
	tenantTheme := themeRecord("tenant", `{"colors":{"primary":"#ff0000"}}`)

	repository := &mockThemeRepo{
		assignedThemeFn: func(_ context.Context, scope string, _ *string) (persistence.ThemeRecord, error) {
			if scope == "system" {
				return global, nil
			}
			return tenantTheme, nil
		},
	}
	svc := New(zap.NewNop(), repository, newMemoryCache())

	tenant := "dealer-7"
	effective, err := svc.Resolve(context.Background(), &tenant, ModeMerged)
	require.NoError(t, err)

	var tokens map[string]map[string]string
	require.NoError(t, json.Unmarshal(effective.Tokens, &tokens))
	assert.Equal(t, "#ff0000", tokens["colors"]["primary"])
	assert.Equal(t, "#222222", tokens["colors"]["secondary"])
	require.NotNil(t, effective.GlobalID)
	require.NotNil(t, effective.TenantID)
}

func TestResolveModes(t *testing.T) {
	t.Parallel()

	global := themeRecord("global", `{"colors":{"primary":"#111111"}}`)
	tenantTheme := themeRecord("tenant", `{"colors":{"primary":"#ff0000"}}`)

	repository := &mockThemeRepo{
		assignedThemeFn: func(_ context.Context, scope string, _ *string) (persistence.ThemeRecord, error) {
			if scope == "system" {
				return global, nil
			}
			return tenantTheme, nil
		},
	}
	svc := New(zap.NewNop(), repository, newMemoryCache())
	tenant := "dealer-7"

	globalOnly, err := svc.Resolve(context.Background(), &tenant, ModeGlobalOnly)
	require.NoError(t, err)
	assert.JSONEq(t, string(global.Tokens), string(globalOnly.Tokens))
	assert.Nil(t, globalOnly.TenantID)

	tenantOnly, err := svc.Resolve(context.Background(), &tenant, ModeTenantOnly)
	require.NoError(t, err)
	assert.JSONEq(t, string(tenantTheme.Tokens), string(tenantOnly.Tokens))
	assert.Nil(t, tenantOnly.GlobalID)

	_, err = svc.Resolve(context.Background(), &tenant, "fancy")
	var validation *TokenValidationError
	require.ErrorAs(t, err, &validation)
}

func TestResolveNothingAssigned(t *testing.T) {
	t.Parallel()

	svc := New(zap.NewNop(), &mockThemeRepo{}, newMemoryCache())

	effective, err := svc.Resolve(context.Background(), nil, ModeMerged)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(effective.Tokens))
	assert.Nil(t, effective.GlobalID)
}

func TestResolveReadThroughCache(t *testing.T) {
	t.Parallel()

	global := themeRecord("global", `{"colors":{"primary":"#111111"}}`)
	repository := &mockThemeRepo{
		assignedThemeFn: func(context.Context, string, *string) (persistence.ThemeRecord, error) {
			return global, nil
		},
	}
	tokenCache := newMemoryCache()
	svc := New(zap.NewNop(), repository, tokenCache)

	first, err := svc.Resolve(context.Background(), nil, ModeGlobalOnly)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	callsAfterFirst := repository.assignedCalls
	second, err := svc.Resolve(context.Background(), nil, ModeGlobalOnly)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, callsAfterFirst, repository.assignedCalls, "cache hit skips the repository")

	// A write bumps the generation and the next resolve misses the cache.
	tokenCache.Bump(context.Background())
	third, err := svc.Resolve(context.Background(), nil, ModeGlobalOnly)
	require.NoError(t, err)
	assert.False(t, third.FromCache)
	assert.Greater(t, repository.assignedCalls, callsAfterFirst)
}
