package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clasora/uiconfig-service/platform/go/persistence"
	"github.com/clasora/uiconfig-service/platform/go/publishlock"
	"github.com/clasora/uiconfig-service/platform/go/requesttrace"
)

type mockRepository struct {
	insertVersionFn             func(ctx context.Context, params persistence.InsertConfigParams) (persistence.ConfigRecord, error)
	getByIDFn                   func(ctx context.Context, id uuid.UUID) (persistence.ConfigRecord, error)
	currentPublishedFn          func(ctx context.Context, tuple persistence.ScopeTuple) (persistence.ConfigRecord, error)
	latestDraftFn               func(ctx context.Context, tuple persistence.ScopeTuple) (persistence.ConfigRecord, error)
	latestFn                    func(ctx context.Context, tuple persistence.ScopeTuple) (persistence.ConfigRecord, error)
	maxDraftVersionFn           func(ctx context.Context, tuple persistence.ScopeTuple) (int, error)
	historyFn                   func(ctx context.Context, tuple persistence.ScopeTuple, params persistence.HistoryParams) ([]persistence.ConfigRecord, error)
	latestPreviouslyPublishedFn func(ctx context.Context, tuple persistence.ScopeTuple) (persistence.ConfigRecord, error)
	publishTxFn                 func(ctx context.Context, params persistence.PublishTxParams) (persistence.PublishTxResult, error)
	appendAuditFn               func(ctx context.Context, params persistence.AuditEntryParams) error
	listAuditFn                 func(ctx context.Context, query persistence.AuditQuery) ([]persistence.AuditEntry, error)
	lastSuccessActorFn          func(ctx context.Context, tuple persistence.ScopeTuple) (string, string, time.Time, error)

	auditEntries []persistence.AuditEntryParams
}

func (m *mockRepository) InsertVersion(ctx context.Context, params persistence.InsertConfigParams) (persistence.ConfigRecord, error) {
	return m.insertVersionFn(ctx, params)
}

func (m *mockRepository) GetByID(ctx context.Context, id uuid.UUID) (persistence.ConfigRecord, error) {
	if m.getByIDFn == nil {
		return persistence.ConfigRecord{}, persistence.ErrConfigNotFound
	}
	return m.getByIDFn(ctx, id)
}

func (m *mockRepository) CurrentPublished(ctx context.Context, tuple persistence.ScopeTuple) (persistence.ConfigRecord, error) {
	if m.currentPublishedFn == nil {
		return persistence.ConfigRecord{}, persistence.ErrConfigNotFound
	}
	return m.currentPublishedFn(ctx, tuple)
}

func (m *mockRepository) LatestDraft(ctx context.Context, tuple persistence.ScopeTuple) (persistence.ConfigRecord, error) {
	if m.latestDraftFn == nil {
		return persistence.ConfigRecord{}, persistence.ErrConfigNotFound
	}
	return m.latestDraftFn(ctx, tuple)
}

func (m *mockRepository) Latest(ctx context.Context, tuple persistence.ScopeTuple) (persistence.ConfigRecord, error) {
	if m.latestFn == nil {
		return persistence.ConfigRecord{}, persistence.ErrConfigNotFound
	}
	return m.latestFn(ctx, tuple)
}

func (m *mockRepository) MaxDraftVersion(ctx context.Context, tuple persistence.ScopeTuple) (int, error) {
	if m.maxDraftVersionFn == nil {
		return 0, nil
	}
	return m.maxDraftVersionFn(ctx, tuple)
}

func (m *mockRepository) History(ctx context.Context, tuple persistence.ScopeTuple, params persistence.HistoryParams) ([]persistence.ConfigRecord, error) {
	if m.historyFn == nil {
		return nil, nil
	}
	return m.historyFn(ctx, tuple, params)
}

func (m *mockRepository) LatestPreviouslyPublished(ctx context.Context, tuple persistence.ScopeTuple) (persistence.ConfigRecord, error) {
	if m.latestPreviouslyPublishedFn == nil {
		return persistence.ConfigRecord{}, persistence.ErrConfigNotFound
	}
	return m.latestPreviouslyPublishedFn(ctx, tuple)
}

func (m *mockRepository) PublishTx(ctx context.Context, params persistence.PublishTxParams) (persistence.PublishTxResult, error) {
	return m.publishTxFn(ctx, params)
}

func (m *mockRepository) AppendAudit(ctx context.Context, params persistence.AuditEntryParams) error {
	m.auditEntries = append(m.auditEntries, params)
	if m.appendAuditFn != nil {
		return m.appendAuditFn(ctx, params)
	}
	return nil
}

func (m *mockRepository) ListAudit(ctx context.Context, query persistence.AuditQuery) ([]persistence.AuditEntry, error) {
	if m.listAuditFn == nil {
		return nil, nil
	}
	return m.listAuditFn(ctx, query)
}

func (m *mockRepository) LastSuccessActor(ctx context.Context, tuple persistence.ScopeTuple) (string, string, time.Time, error) {
	if m.lastSuccessActorFn == nil {
		return "", "", time.Time{}, persistence.ErrConfigNotFound
	}
	return m.lastSuccessActorFn(ctx, tuple)
}

func operatorContext(id string) context.Context {
	return requesttrace.IntoContext(context.Background(), requesttrace.ActorInfo{
		Kind:    requesttrace.ActorKindOperator,
		ActorID: id,
		Email:   id + "@clasora.example",
	})
}

func systemHeaderTuple() persistence.ScopeTuple {
	return persistence.ScopeTuple{ConfigType: ConfigTypeHeader, Segment: SegmentIndividual, Scope: ScopeSystem}
}

func draftRecord(tuple persistence.ScopeTuple, version int) persistence.ConfigRecord {
	return persistence.ConfigRecord{
		ID:         uuid.New(),
		ConfigType: tuple.ConfigType,
		Segment:    tuple.Segment,
		Scope:      tuple.Scope,
		ScopeID:    tuple.ScopeID,
		Status:     "draft",
		Version:    version,
		ConfigData: json.RawMessage(`{"rows":[],"logo":{}}`),
	}
}

func newTestService(repository *mockRepository) Service {
	return New(zap.NewNop(), repository, publishlock.NewRegistry())
}

func TestSaveDraftNormalizesAndStamps(t *testing.T) {
	t.Parallel()

	var inserted persistence.InsertConfigParams
	repository := &mockRepository{
		insertVersionFn: func(_ context.Context, params persistence.InsertConfigParams) (persistence.ConfigRecord, error) {
			inserted = params
			return draftRecord(params.Tuple, 1), nil
		},
	}
	svc := newTestService(repository)

	record, err := svc.SaveDraft(operatorContext("op-1"), SaveDraftRequest{
		Tuple:      systemHeaderTuple(),
		ConfigData: []byte(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, record.Version)
	assert.Equal(t, "op-1", inserted.CreatedBy)
	assert.Equal(t, "op-1@clasora.example", inserted.CreatedByEmail)
	assert.JSONEq(t, `{"rows":[],"logo":{}}`, string(inserted.ConfigData), "payload is normalized before storage")
}

func TestSaveDraftValidatesScope(t *testing.T) {
	t.Parallel()

	svc := newTestService(&mockRepository{})

	cases := []struct {
		name  string
		tuple persistence.ScopeTuple
		field string
	}{
		{
			name:  "tenant scope requires scope id",
			tuple: persistence.ScopeTuple{ConfigType: ConfigTypeHeader, Segment: SegmentCorporate, Scope: ScopeTenant},
			field: "scopeId",
		},
		{
			name: "system scope rejects scope id",
			tuple: func() persistence.ScopeTuple {
				id := "dealer-1"
				return persistence.ScopeTuple{ConfigType: ConfigTypeHeader, Segment: SegmentCorporate, Scope: ScopeSystem, ScopeID: &id}
			}(),
			field: "scopeId",
		},
		{
			name:  "unknown scope",
			tuple: persistence.ScopeTuple{ConfigType: ConfigTypeHeader, Segment: SegmentCorporate, Scope: "region"},
			field: "scope",
		},
		{
			name:  "unknown segment",
			tuple: persistence.ScopeTuple{ConfigType: ConfigTypeHeader, Segment: "enterprise", Scope: ScopeSystem},
			field: "segment",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := svc.SaveDraft(operatorContext("op-1"), SaveDraftRequest{Tuple: tc.tuple, ConfigData: []byte(`{}`)})
			var validation *ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Contains(t, validation.Fields, tc.field)
		})
	}
}

func TestSaveDraftMapsVersionRace(t *testing.T) {
	t.Parallel()

	repository := &mockRepository{
		insertVersionFn: func(context.Context, persistence.InsertConfigParams) (persistence.ConfigRecord, error) {
			return persistence.ConfigRecord{}, persistence.ErrVersionRace
		},
	}
	svc := newTestService(repository)

	_, err := svc.SaveDraft(operatorContext("op-1"), SaveDraftRequest{
		Tuple:      systemHeaderTuple(),
		ConfigData: []byte(`{}`),
	})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, CodeVersionRace, conflict.Code)
}

func TestPublishHappyPath(t *testing.T) {
	t.Parallel()

	tuple := systemHeaderTuple()
	draft := draftRecord(tuple, 3)
	previous := draftRecord(tuple, 2)

	var publishParams persistence.PublishTxParams
	repository := &mockRepository{
		latestFn: func(context.Context, persistence.ScopeTuple) (persistence.ConfigRecord, error) {
			return draft, nil
		},
		maxDraftVersionFn: func(context.Context, persistence.ScopeTuple) (int, error) {
			return 3, nil
		},
		publishTxFn: func(_ context.Context, params persistence.PublishTxParams) (persistence.PublishTxResult, error) {
			publishParams = params
			published := draft
			published.Status = "published"
			return persistence.PublishTxResult{Published: published, Previous: &previous}, nil
		},
	}
	svc := newTestService(repository)

	version := 3
	result, err := svc.Publish(operatorContext("op-1"), PublishRequest{
		Tuple:           tuple,
		ExpectedVersion: &version,
		OwnerType:       OwnerTypeGlobal,
		Confirm:         true,
	})
	require.NoError(t, err)
	assert.Equal(t, "published", result.Published.Status)
	require.NotNil(t, result.PreviousVersion)
	assert.Equal(t, 2, *result.PreviousVersion)
	assert.NotEmpty(t, result.SnapshotHash)

	assert.Equal(t, persistence.AuditStatusSuccess, publishParams.Audit.Status)
	assert.Equal(t, "op-1", publishParams.Audit.Actor)
	assert.Equal(t, result.SnapshotHash, publishParams.Audit.SnapshotHash)
	assert.False(t, publishParams.PublishStartedAt.IsZero())
	assert.Empty(t, repository.auditEntries, "success audit rides the publish transaction")
}

func TestPublishRequiresConfirmation(t *testing.T) {
	t.Parallel()

	repository := &mockRepository{}
	svc := newTestService(repository)

	_, err := svc.Publish(operatorContext("op-1"), PublishRequest{Tuple: systemHeaderTuple()})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, CodeMissingConfirmation, conflict.Code)
	require.Len(t, repository.auditEntries, 1, "reject is audited before returning")
	assert.Equal(t, string(CodeMissingConfirmation), repository.auditEntries[0].ErrorCode)
}

func TestPublishVersionChecks(t *testing.T) {
	t.Parallel()

	tuple := systemHeaderTuple()
	publishedAt := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	version := func(v int) *int { return &v }

	cases := []struct {
		name            string
		target          func() persistence.ConfigRecord
		expectedVersion *int
		maxDraft        int
		code            ErrorCode
		check           func(t *testing.T, conflict *ConflictError)
	}{
		{
			name:   "missing version token",
			target: func() persistence.ConfigRecord { return draftRecord(tuple, 3) },
			code:   CodeMissingVersion,
		},
		{
			name:            "stale version token",
			target:          func() persistence.ConfigRecord { return draftRecord(tuple, 3) },
			expectedVersion: version(2),
			code:            CodeVersionConflict,
			check: func(t *testing.T, conflict *ConflictError) {
				assert.Equal(t, 3, conflict.CurrentVersion)
				assert.Equal(t, 2, conflict.SubmittedVersion)
				assert.Equal(t, "op-9", conflict.LastPublishedBy)
				require.NotNil(t, conflict.LastPublishedAt)
				assert.True(t, conflict.LastPublishedAt.Equal(publishedAt))
			},
		},
		{
			name: "target already published",
			target: func() persistence.ConfigRecord {
				record := draftRecord(tuple, 3)
				record.Status = "published"
				return record
			},
			expectedVersion: version(3),
			code:            CodeStatusConflict,
		},
		{
			name:            "newer draft exists",
			target:          func() persistence.ConfigRecord { return draftRecord(tuple, 3) },
			expectedVersion: version(3),
			maxDraft:        5,
			code:            CodeNewerDraftExists,
			check: func(t *testing.T, conflict *ConflictError) {
				assert.Equal(t, 5, conflict.NewerDraftVersion)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			target := tc.target()
			repository := &mockRepository{
				getByIDFn: func(context.Context, uuid.UUID) (persistence.ConfigRecord, error) {
					return target, nil
				},
				maxDraftVersionFn: func(context.Context, persistence.ScopeTuple) (int, error) {
					return tc.maxDraft, nil
				},
				lastSuccessActorFn: func(context.Context, persistence.ScopeTuple) (string, string, time.Time, error) {
					return "op-9", "op-9@clasora.example", publishedAt, nil
				},
			}
			svc := newTestService(repository)

			_, err := svc.Publish(operatorContext("op-1"), PublishRequest{
				Tuple:           tuple,
				ConfigID:        &target.ID,
				ExpectedVersion: tc.expectedVersion,
				OwnerType:       OwnerTypeGlobal,
				Confirm:         true,
			})
			var conflict *ConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, tc.code, conflict.Code)
			if tc.check != nil {
				tc.check(t, conflict)
			}
			require.Len(t, repository.auditEntries, 1)
			assert.Equal(t, string(tc.code), repository.auditEntries[0].ErrorCode)
		})
	}
}

func TestPublishHashMismatch(t *testing.T) {
	t.Parallel()

	tuple := systemHeaderTuple()
	draft := draftRecord(tuple, 1)
	repository := &mockRepository{
		latestFn: func(context.Context, persistence.ScopeTuple) (persistence.ConfigRecord, error) {
			return draft, nil
		},
	}
	svc := newTestService(repository)

	version := 1
	_, err := svc.Publish(operatorContext("op-1"), PublishRequest{
		Tuple:           tuple,
		ExpectedVersion: &version,
		ExpectedHash:    "deadbeef",
		OwnerType:       OwnerTypeGlobal,
		Confirm:         true,
	})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, CodeHashMismatch, conflict.Code)
	require.Len(t, repository.auditEntries, 1)
	assert.True(t, repository.auditEntries[0].ConflictDetected)
}

func TestPublishOwnerScope(t *testing.T) {
	t.Parallel()

	dealer := "dealer-7"
	tenantTuple := persistence.ScopeTuple{ConfigType: ConfigTypeHeader, Segment: SegmentCorporate, Scope: ScopeTenant, ScopeID: &dealer}
	corporateHeader := json.RawMessage(`{"rows":[
		{"id":"row1","blocks":[{"id":"logo","type":"logo","visible":true}]},
		{"id":"row2","blocks":[{"id":"nav","type":"nav","visible":true}]},
		{"id":"row3","blocks":[{"id":"links","type":"links","visible":true}]}
	],"logo":{}}`)

	cases := []struct {
		name      string
		tuple     persistence.ScopeTuple
		ownerType string
		ownerID   string
		code      ErrorCode
	}{
		{name: "global owner on tenant scope", tuple: tenantTuple, ownerType: OwnerTypeGlobal, code: CodeOwnerScopeMismatch},
		{name: "dealer on system scope", tuple: systemHeaderTuple(), ownerType: OwnerTypeDealer, ownerID: dealer, code: CodeOwnerScopeMismatch},
		{name: "dealer on another tenant", tuple: tenantTuple, ownerType: OwnerTypeDealer, ownerID: "dealer-8", code: CodeOwnerScopeMismatch},
		{name: "missing owner type", tuple: tenantTuple, ownerType: "", code: CodeMissingOwnerScope},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			draft := draftRecord(tc.tuple, 1)
			if tc.tuple.Segment == SegmentCorporate {
				draft.ConfigData = corporateHeader
			}
			repository := &mockRepository{
				latestFn: func(context.Context, persistence.ScopeTuple) (persistence.ConfigRecord, error) {
					return draft, nil
				},
			}
			svc := newTestService(repository)

			version := 1
			_, err := svc.Publish(operatorContext("op-1"), PublishRequest{
				Tuple:           tc.tuple,
				ExpectedVersion: &version,
				OwnerType:       tc.ownerType,
				OwnerID:         tc.ownerID,
				Confirm:         true,
			})
			var conflict *ConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, tc.code, conflict.Code)
		})
	}
}

func TestPublishLocked(t *testing.T) {
	t.Parallel()

	tuple := systemHeaderTuple()
	draft := draftRecord(tuple, 1)
	repository := &mockRepository{
		latestFn: func(context.Context, persistence.ScopeTuple) (persistence.ConfigRecord, error) {
			return draft, nil
		},
	}
	locks := publishlock.NewRegistry()
	require.NoError(t, locks.TryAcquire(tuple.Key(), "op-2"))

	svc := New(zap.NewNop(), repository, locks)

	version := 1
	_, err := svc.Publish(operatorContext("op-1"), PublishRequest{
		Tuple:           tuple,
		ExpectedVersion: &version,
		OwnerType:       OwnerTypeGlobal,
		Confirm:         true,
	})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, CodeLocked, conflict.Code)
	assert.Equal(t, "op-2", conflict.Holder)
	assert.Greater(t, conflict.RetryAfterMs, int64(0))

	require.Len(t, repository.auditEntries, 1)
	assert.Equal(t, persistence.AuditStatusLocked, repository.auditEntries[0].Status)
}

func TestPublishReleasesLockAfterSuccess(t *testing.T) {
	t.Parallel()

	tuple := systemHeaderTuple()
	draft := draftRecord(tuple, 1)
	repository := &mockRepository{
		latestFn: func(context.Context, persistence.ScopeTuple) (persistence.ConfigRecord, error) {
			return draft, nil
		},
		publishTxFn: func(_ context.Context, params persistence.PublishTxParams) (persistence.PublishTxResult, error) {
			published := draft
			published.Status = "published"
			return persistence.PublishTxResult{Published: published}, nil
		},
	}
	locks := publishlock.NewRegistry()
	svc := New(zap.NewNop(), repository, locks)

	version := 1
	_, err := svc.Publish(operatorContext("op-1"), PublishRequest{
		Tuple:           tuple,
		ExpectedVersion: &version,
		OwnerType:       OwnerTypeGlobal,
		Confirm:         true,
	})
	require.NoError(t, err)

	require.NoError(t, locks.TryAcquire(tuple.Key(), "op-3"), "lock is released after the publish completes")
}

func TestPublishGuardrailRejectIsAudited(t *testing.T) {
	t.Parallel()

	tuple := persistence.ScopeTuple{ConfigType: ConfigTypeHeader, Segment: SegmentCorporate, Scope: ScopeSystem}
	draft := draftRecord(tuple, 1)
	// Corporate header draft without a logo block fails publish-time guardrails.
	draft.ConfigData = json.RawMessage(`{"rows":[
		{"id":"row1","blocks":[{"id":"search","type":"search"}]},
		{"id":"row2","blocks":[{"id":"nav","type":"nav"}]},
		{"id":"row3","blocks":[{"id":"links","type":"links"}]}
	]}`)

	repository := &mockRepository{
		latestFn: func(context.Context, persistence.ScopeTuple) (persistence.ConfigRecord, error) {
			return draft, nil
		},
	}
	svc := newTestService(repository)

	version := 1
	_, err := svc.Publish(operatorContext("op-1"), PublishRequest{
		Tuple:           tuple,
		ExpectedVersion: &version,
		OwnerType:       OwnerTypeGlobal,
		Confirm:         true,
	})
	var guardrail *GuardrailError
	require.ErrorAs(t, err, &guardrail)

	require.Len(t, repository.auditEntries, 1)
	assert.Equal(t, string(CodeGuardrailViolation), repository.auditEntries[0].ErrorCode)
}

func TestPublishAuditFailureIsFatal(t *testing.T) {
	t.Parallel()

	repository := &mockRepository{
		appendAuditFn: func(context.Context, persistence.AuditEntryParams) error {
			return errors.New("disk full")
		},
	}
	svc := newTestService(repository)

	_, err := svc.Publish(operatorContext("op-1"), PublishRequest{Tuple: systemHeaderTuple()})
	require.ErrorIs(t, err, ErrAuditFailure)
}

func TestRollbackResolvesPreviousVersion(t *testing.T) {
	t.Parallel()

	tuple := systemHeaderTuple()
	previous := draftRecord(tuple, 2)
	stamp := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	previous.PublishedAt = &stamp

	var publishParams persistence.PublishTxParams
	repository := &mockRepository{
		latestPreviouslyPublishedFn: func(context.Context, persistence.ScopeTuple) (persistence.ConfigRecord, error) {
			return previous, nil
		},
		publishTxFn: func(_ context.Context, params persistence.PublishTxParams) (persistence.PublishTxResult, error) {
			publishParams = params
			published := previous
			published.Status = "published"
			return persistence.PublishTxResult{Published: published}, nil
		},
	}
	svc := newTestService(repository)

	result, err := svc.Rollback(operatorContext("op-1"), RollbackRequest{
		Tuple:   tuple,
		Reason:  "broken hero banner",
		Confirm: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Published.Version)
	assert.Contains(t, publishParams.Audit.Message, "broken hero banner")
}

func TestRollbackRequiresReason(t *testing.T) {
	t.Parallel()

	repository := &mockRepository{}
	svc := newTestService(repository)

	_, err := svc.Rollback(operatorContext("op-1"), RollbackRequest{Tuple: systemHeaderTuple(), Confirm: true})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, CodeMissingRollbackReason, conflict.Code)
}

func TestRollbackWithoutTarget(t *testing.T) {
	t.Parallel()

	repository := &mockRepository{}
	svc := newTestService(repository)

	_, err := svc.Rollback(operatorContext("op-1"), RollbackRequest{
		Tuple:   systemHeaderTuple(),
		Reason:  "regression",
		Confirm: true,
	})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, CodeNoRollbackTarget, conflict.Code)
}

func TestGetReturnsNotFoundForEmptyTuple(t *testing.T) {
	t.Parallel()

	svc := newTestService(&mockRepository{})

	_, err := svc.Get(context.Background(), systemHeaderTuple())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDiffStatusesAgainstPublished(t *testing.T) {
	t.Parallel()

	tuple := persistence.ScopeTuple{ConfigType: ConfigTypeNav, Segment: SegmentIndividual, Scope: ScopeSystem}
	draft := draftRecord(tuple, 2)
	draft.ConfigData = json.RawMessage(`{"items":["home","sell"]}`)
	published := draftRecord(tuple, 1)
	published.Status = "published"
	published.ConfigData = json.RawMessage(`{"items":["home"]}`)

	repository := &mockRepository{
		latestDraftFn: func(context.Context, persistence.ScopeTuple) (persistence.ConfigRecord, error) {
			return draft, nil
		},
		currentPublishedFn: func(context.Context, persistence.ScopeTuple) (persistence.ConfigRecord, error) {
			return published, nil
		},
	}
	svc := newTestService(repository)

	diff, err := svc.DiffStatuses(context.Background(), tuple, "", "")
	require.NoError(t, err)
	assert.True(t, diff.HasChanges)
	assert.True(t, diff.ContentChanged)
}

func TestDiffStatusesHonorsRequestedSides(t *testing.T) {
	t.Parallel()

	tuple := persistence.ScopeTuple{ConfigType: ConfigTypeNav, Segment: SegmentIndividual, Scope: ScopeSystem}
	draft := draftRecord(tuple, 2)
	draft.ConfigData = json.RawMessage(`{"items":["home","sell"]}`)
	published := draftRecord(tuple, 1)
	published.Status = "published"
	published.ConfigData = json.RawMessage(`{"items":["home"]}`)

	repository := &mockRepository{
		latestDraftFn: func(context.Context, persistence.ScopeTuple) (persistence.ConfigRecord, error) {
			return draft, nil
		},
		currentPublishedFn: func(context.Context, persistence.ScopeTuple) (persistence.ConfigRecord, error) {
			return published, nil
		},
	}
	svc := newTestService(repository)

	// Reversed sides: what would publishing roll back relative to the draft.
	diff, err := svc.DiffStatuses(context.Background(), tuple, "draft", "published")
	require.NoError(t, err)
	assert.True(t, diff.HasChanges)

	_, err = svc.DiffStatuses(context.Background(), tuple, "archived", "draft")
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Fields, "fromStatus")
}

func TestPublishRepublishedVersionIsStatusConflict(t *testing.T) {
	t.Parallel()

	tuple := systemHeaderTuple()
	published := draftRecord(tuple, 1)
	published.Status = "published"

	// The tuple's newest version is the live one; no drafts exist.
	repository := &mockRepository{
		latestFn: func(context.Context, persistence.ScopeTuple) (persistence.ConfigRecord, error) {
			return published, nil
		},
	}
	svc := newTestService(repository)

	version := 1
	_, err := svc.Publish(operatorContext("op-1"), PublishRequest{
		Tuple:           tuple,
		ExpectedVersion: &version,
		OwnerType:       OwnerTypeGlobal,
		RetryCount:      1,
		Confirm:         true,
	})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, CodeStatusConflict, conflict.Code)
	assert.Equal(t, 1, conflict.CurrentVersion)

	require.Len(t, repository.auditEntries, 1)
	assert.Equal(t, string(CodeStatusConflict), repository.auditEntries[0].ErrorCode)
	assert.Equal(t, 1, repository.auditEntries[0].RetryCount)
}

func TestPublishCarriesRetryCountHint(t *testing.T) {
	t.Parallel()

	tuple := systemHeaderTuple()
	draft := draftRecord(tuple, 1)

	var publishParams persistence.PublishTxParams
	repository := &mockRepository{
		latestFn: func(context.Context, persistence.ScopeTuple) (persistence.ConfigRecord, error) {
			return draft, nil
		},
		publishTxFn: func(_ context.Context, params persistence.PublishTxParams) (persistence.PublishTxResult, error) {
			publishParams = params
			published := draft
			published.Status = "published"
			return persistence.PublishTxResult{Published: published}, nil
		},
	}
	svc := newTestService(repository)

	version := 1
	_, err := svc.Publish(operatorContext("op-1"), PublishRequest{
		Tuple:           tuple,
		ExpectedVersion: &version,
		OwnerType:       OwnerTypeGlobal,
		RetryCount:      2,
		Confirm:         true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, publishParams.Audit.RetryCount)
}
