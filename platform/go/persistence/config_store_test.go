package persistence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func mustIntegrationPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping persistence integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("uiconfig"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connString, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, PoolConfig{ConnString: connString})
	require.NoError(t, err)
	t.Cleanup(func() { ClosePool(pool) })

	return pool
}

func TestConfigStoreLifecycle(t *testing.T) {
	t.Parallel()

	pool := mustIntegrationPool(t)
	ctx := context.Background()

	store, err := NewConfigStore(ctx, pool)
	require.NoError(t, err)
	auditStore, err := NewAuditStore(ctx, pool)
	require.NoError(t, err)

	tuple := ScopeTuple{ConfigType: "header", Segment: "individual", Scope: "system"}

	// Sequential saves assign strictly increasing versions starting at 1.
	first, err := store.InsertVersion(ctx, InsertConfigParams{
		Tuple:      tuple,
		Status:     "draft",
		ConfigData: json.RawMessage(`{"rows":[]}`),
		CreatedBy:  "op-1",
	})
	require.NoError(t, err)
	require.Equal(t, 1, first.Version)
	require.Equal(t, "draft", first.Status)

	second, err := store.InsertVersion(ctx, InsertConfigParams{
		Tuple:      tuple,
		Status:     "draft",
		ConfigData: json.RawMessage(`{"rows":[{"id":"row1"}]}`),
		CreatedBy:  "op-1",
	})
	require.NoError(t, err)
	require.Equal(t, 2, second.Version)

	// Publish v1 atomically with the audit write.
	result, err := store.PublishTx(ctx, PublishTxParams{
		TargetID: first.ID,
		Audit: AuditEntryParams{
			Actor:         "op-1",
			OwnerType:     "global",
			Tuple:         tuple,
			ConfigVersion: first.Version,
			Status:        AuditStatusSuccess,
			Message:       "published",
		},
	})
	require.NoError(t, err)
	require.Nil(t, result.Previous)
	require.Equal(t, "published", result.Published.Status)
	require.NotNil(t, result.Published.PublishedAt)

	// Publish v2 demotes v1; at most one published row per tuple.
	result, err = store.PublishTx(ctx, PublishTxParams{
		TargetID: second.ID,
		Audit: AuditEntryParams{
			Actor:         "op-2",
			OwnerType:     "global",
			Tuple:         tuple,
			ConfigVersion: second.Version,
			Status:        AuditStatusSuccess,
			Message:       "published",
		},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Previous)
	require.Equal(t, first.ID, result.Previous.ID)

	current, err := store.CurrentPublished(ctx, tuple)
	require.NoError(t, err)
	require.Equal(t, second.ID, current.ID)

	// Latest resolves the newest version even when it is the published row.
	latest, err := store.Latest(ctx, tuple)
	require.NoError(t, err)
	require.Equal(t, second.ID, latest.ID)

	demoted, err := store.GetByID(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, "draft", demoted.Status)
	require.NotNil(t, demoted.PublishedAt, "demotion keeps the historical publish stamp")

	// Rollback target resolution picks the most recently demoted row.
	previous, err := store.LatestPreviouslyPublished(ctx, tuple)
	require.NoError(t, err)
	require.Equal(t, first.ID, previous.ID)

	// Audit trail records both publishes, newest first.
	entries, err := auditStore.List(ctx, AuditQuery{Tuple: tuple})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "op-2", entries[0].Actor)

	actor, _, _, err := auditStore.LastSuccessActor(ctx, tuple)
	require.NoError(t, err)
	require.Equal(t, "op-2", actor)

	// History is newest first and filterable.
	history, err := store.History(ctx, tuple, HistoryParams{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, 2, history[0].Version)

	published := "published"
	history, err = store.History(ctx, tuple, HistoryParams{Status: &published})
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, second.ID, history[0].ID)
}

func TestConfigStoreScopeIsolation(t *testing.T) {
	t.Parallel()

	pool := mustIntegrationPool(t)
	ctx := context.Background()

	store, err := NewConfigStore(ctx, pool)
	require.NoError(t, err)

	dealerA := "dealer-a"
	dealerB := "dealer-b"
	tupleA := ScopeTuple{ConfigType: "dashboard", Segment: "corporate", Scope: "tenant", ScopeID: &dealerA}
	tupleB := ScopeTuple{ConfigType: "dashboard", Segment: "corporate", Scope: "tenant", ScopeID: &dealerB}

	recordA, err := store.InsertVersion(ctx, InsertConfigParams{
		Tuple:      tupleA,
		Status:     "draft",
		ConfigData: json.RawMessage(`{"title":"a"}`),
	})
	require.NoError(t, err)
	require.Equal(t, 1, recordA.Version)

	recordB, err := store.InsertVersion(ctx, InsertConfigParams{
		Tuple:      tupleB,
		Status:     "draft",
		ConfigData: json.RawMessage(`{"title":"b"}`),
	})
	require.NoError(t, err)
	require.Equal(t, 1, recordB.Version, "version sequences are independent per scope tuple")

	_, err = store.CurrentPublished(ctx, tupleA)
	require.ErrorIs(t, err, ErrConfigNotFound)
}

func TestThemeStoreAssignments(t *testing.T) {
	t.Parallel()

	pool := mustIntegrationPool(t)
	ctx := context.Background()

	store, err := NewThemeStore(ctx, pool)
	require.NoError(t, err)

	global, err := store.CreateTheme(ctx, CreateThemeParams{
		Name:     "marketplace-default",
		Tokens:   json.RawMessage(`{"colors":{"primary":"#111111"}}`),
		IsActive: true,
	})
	require.NoError(t, err)

	_, err = store.CreateTheme(ctx, CreateThemeParams{
		Name:   "marketplace-default",
		Tokens: json.RawMessage(`{}`),
	})
	require.ErrorIs(t, err, ErrThemeNameTaken)

	_, err = store.Assign(ctx, AssignThemeParams{ThemeID: global.ID, Scope: "system"})
	require.NoError(t, err)

	resolved, err := store.AssignedTheme(ctx, "system", nil)
	require.NoError(t, err)
	require.Equal(t, global.ID, resolved.ID)

	tenant := "dealer-7"
	_, err = store.AssignedTheme(ctx, "tenant", &tenant)
	require.ErrorIs(t, err, ErrThemeNotFound)

	// Reassignment replaces the prior binding for the same scope key.
	alt, err := store.CreateTheme(ctx, CreateThemeParams{
		Name:     "dark",
		Tokens:   json.RawMessage(`{"colors":{"primary":"#222222"}}`),
		IsActive: true,
	})
	require.NoError(t, err)
	_, err = store.Assign(ctx, AssignThemeParams{ThemeID: alt.ID, Scope: "system"})
	require.NoError(t, err)

	resolved, err = store.AssignedTheme(ctx, "system", nil)
	require.NoError(t, err)
	require.Equal(t, alt.ID, resolved.ID)
}
