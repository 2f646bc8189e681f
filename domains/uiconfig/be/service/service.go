// Package service implements the draft/publish lifecycle for UI configurations.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clasora/uiconfig-service/domains/uiconfig/be/repo"
	"github.com/clasora/uiconfig-service/platform/go/metrics"
	"github.com/clasora/uiconfig-service/platform/go/persistence"
	"github.com/clasora/uiconfig-service/platform/go/publishlock"
	"github.com/clasora/uiconfig-service/platform/go/requesttrace"
)

// Owner types accepted on header publishes.
const (
	OwnerTypeGlobal = "global"
	OwnerTypeDealer = "dealer"
)

// SaveDraftRequest captures a new draft version.
type SaveDraftRequest struct {
	Tuple      persistence.ScopeTuple
	ConfigData []byte
	Layout     []byte
	Widgets    []byte
}

// PublishRequest captures a publish attempt against one scope tuple.
// ExpectedVersion is the optimistic-concurrency token; publishes without it
// are rejected outright. RetryCount is a caller-supplied hint counting how
// many times this attempt was retried after a conflict; it only feeds
// telemetry and never changes publish behavior.
type PublishRequest struct {
	Tuple           persistence.ScopeTuple
	ConfigID        *uuid.UUID
	ExpectedVersion *int
	ExpectedHash    string
	OwnerType       string
	OwnerID         string
	RetryCount      int
	Confirm         bool
}

// RollbackRequest republishes a previously published version.
type RollbackRequest struct {
	Tuple    persistence.ScopeTuple
	ConfigID *uuid.UUID
	Reason   string
	Confirm  bool
}

// PublishResult reports a completed publish or rollback.
type PublishResult struct {
	Published       persistence.ConfigRecord `json:"published"`
	PreviousVersion *int                     `json:"previousVersion,omitempty"`
	SnapshotHash    string                   `json:"snapshotHash"`
	Diff            DiffResult               `json:"diff"`
}

// ConfigView bundles the live row with its recent history.
type ConfigView struct {
	Current *persistence.ConfigRecord  `json:"current,omitempty"`
	History []persistence.ConfigRecord `json:"history"`
}

// Service is the draft/publish lifecycle API.
type Service interface {
	SaveDraft(ctx context.Context, request SaveDraftRequest) (persistence.ConfigRecord, error)
	Get(ctx context.Context, tuple persistence.ScopeTuple) (ConfigView, error)
	History(ctx context.Context, tuple persistence.ScopeTuple, params persistence.HistoryParams) ([]persistence.ConfigRecord, error)
	DiffStatuses(ctx context.Context, tuple persistence.ScopeTuple, fromStatus, toStatus string) (DiffResult, error)
	Publish(ctx context.Context, request PublishRequest) (PublishResult, error)
	Rollback(ctx context.Context, request RollbackRequest) (PublishResult, error)
}

type service struct {
	logger *zap.Logger
	repo   repo.Repository
	locks  *publishlock.Registry
	now    func() time.Time
}

// New builds the uiconfig service.
func New(logger *zap.Logger, repository repo.Repository, locks *publishlock.Registry) Service {
	return &service{
		logger: logger,
		repo:   repository,
		locks:  locks,
		now:    time.Now,
	}
}

func validateTuple(tuple persistence.ScopeTuple) error {
	fields := FieldErrors{}
	switch tuple.Scope {
	case ScopeSystem:
		if tuple.ScopeID != nil && *tuple.ScopeID != "" {
			fields.add("scopeId", "must be empty for system scope")
		}
	case ScopeTenant, ScopeUser:
		if tuple.ScopeID == nil || *tuple.ScopeID == "" {
			fields.add("scopeId", fmt.Sprintf("required for %s scope", tuple.Scope))
		}
	default:
		fields.add("scope", fmt.Sprintf("unsupported scope %q", tuple.Scope))
	}

	switch tuple.Segment {
	case SegmentCorporate, SegmentIndividual:
	default:
		fields.add("segment", fmt.Sprintf("unsupported segment %q", tuple.Segment))
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// SaveDraft normalizes the payload and appends it as a new immutable version.
func (s *service) SaveDraft(ctx context.Context, request SaveDraftRequest) (persistence.ConfigRecord, error) {
	if err := validateTuple(request.Tuple); err != nil {
		return persistence.ConfigRecord{}, err
	}

	normalized, err := Normalize(request.Tuple.ConfigType, request.Tuple.Segment,
		request.ConfigData, request.Layout, request.Widgets)
	if err != nil {
		return persistence.ConfigRecord{}, err
	}

	actor := requesttrace.FromContextOrAnonymous(ctx)
	record, err := s.repo.InsertVersion(ctx, persistence.InsertConfigParams{
		Tuple:          request.Tuple,
		Status:         "draft",
		ConfigData:     normalized.ConfigData,
		Layout:         normalized.Layout,
		Widgets:        normalized.Widgets,
		CreatedBy:      actor.ActorID,
		CreatedByEmail: actor.Email,
	})
	if err != nil {
		if errors.Is(err, persistence.ErrVersionRace) {
			return persistence.ConfigRecord{}, &ConflictError{
				Code:    CodeVersionRace,
				Message: "a concurrent save claimed this version, retry the save",
			}
		}
		return persistence.ConfigRecord{}, err
	}

	s.logger.Info("draft saved",
		zap.String("tuple", request.Tuple.Key()),
		zap.Int("version", record.Version),
		zap.String("actor", actor.ActorID))
	return record, nil
}

// Get returns the published row (if any) plus recent history for the tuple.
func (s *service) Get(ctx context.Context, tuple persistence.ScopeTuple) (ConfigView, error) {
	if err := validateTuple(tuple); err != nil {
		return ConfigView{}, err
	}

	view := ConfigView{}
	current, err := s.repo.CurrentPublished(ctx, tuple)
	switch {
	case err == nil:
		view.Current = &current
	case errors.Is(err, persistence.ErrConfigNotFound):
		// tuple has never been published
	default:
		return ConfigView{}, err
	}

	history, err := s.repo.History(ctx, tuple, persistence.HistoryParams{})
	if err != nil {
		return ConfigView{}, err
	}
	view.History = history
	if view.Current == nil && len(history) == 0 {
		return ConfigView{}, ErrNotFound
	}
	return view, nil
}

// History lists versions for the tuple, newest first, capped at 100.
func (s *service) History(ctx context.Context, tuple persistence.ScopeTuple, params persistence.HistoryParams) ([]persistence.ConfigRecord, error) {
	if err := validateTuple(tuple); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, tuple, params)
}

// DiffStatuses compares the tuple's row in fromStatus against its row in
// toStatus. Empty statuses default to published vs latest draft. A missing
// "from" side diffs against an empty baseline; a missing "to" side is an error.
func (s *service) DiffStatuses(ctx context.Context, tuple persistence.ScopeTuple, fromStatus, toStatus string) (DiffResult, error) {
	if err := validateTuple(tuple); err != nil {
		return DiffResult{}, err
	}

	if fromStatus == "" {
		fromStatus = "published"
	}
	if toStatus == "" {
		toStatus = "draft"
	}
	fields := FieldErrors{}
	if fromStatus != "draft" && fromStatus != "published" {
		fields.add("fromStatus", fmt.Sprintf("unsupported status %q", fromStatus))
	}
	if toStatus != "draft" && toStatus != "published" {
		fields.add("toStatus", fmt.Sprintf("unsupported status %q", toStatus))
	}
	if len(fields) > 0 {
		return DiffResult{}, &ValidationError{Fields: fields}
	}

	to, err := s.recordForStatus(ctx, tuple, toStatus)
	if err != nil {
		if errors.Is(err, persistence.ErrConfigNotFound) {
			return DiffResult{}, ErrNotFound
		}
		return DiffResult{}, err
	}

	from, err := s.recordForStatus(ctx, tuple, fromStatus)
	if err != nil {
		if errors.Is(err, persistence.ErrConfigNotFound) {
			// nothing on the from side: everything in the to side counts as new
			return Diff(tuple.ConfigType, Normalized{}, recordNormalized(to)), nil
		}
		return DiffResult{}, err
	}

	return Diff(tuple.ConfigType, recordNormalized(from), recordNormalized(to)), nil
}

func (s *service) recordForStatus(ctx context.Context, tuple persistence.ScopeTuple, status string) (persistence.ConfigRecord, error) {
	if status == "published" {
		return s.repo.CurrentPublished(ctx, tuple)
	}
	return s.repo.LatestDraft(ctx, tuple)
}

func recordNormalized(record persistence.ConfigRecord) Normalized {
	return Normalized{ConfigData: record.ConfigData, Layout: record.Layout, Widgets: record.Widgets}
}

// Publish promotes a draft to the single published row for its tuple.
// Every reject is audited synchronously before the error is returned; if the
// audit write itself fails the publish attempt fails hard.
func (s *service) Publish(ctx context.Context, request PublishRequest) (PublishResult, error) {
	if err := validateTuple(request.Tuple); err != nil {
		return PublishResult{}, err
	}
	actor := requesttrace.FromContextOrAnonymous(ctx)

	if !request.Confirm {
		return PublishResult{}, s.reject(ctx, request, actor, nil, &ConflictError{
			Code:    CodeMissingConfirmation,
			Message: "publish requires explicit confirmation",
		})
	}

	target, err := s.resolveTarget(ctx, request.Tuple, request.ConfigID)
	if err != nil {
		if errors.Is(err, persistence.ErrConfigNotFound) {
			return PublishResult{}, s.reject(ctx, request, actor, nil, ErrNotFound)
		}
		return PublishResult{}, err
	}

	// Re-run normalization so guardrails hold at publish time even if the
	// rules tightened after the draft was saved.
	normalized, err := Normalize(target.ConfigType, target.Segment, target.ConfigData, target.Layout, target.Widgets)
	if err != nil {
		return PublishResult{}, s.reject(ctx, request, actor, &target, err)
	}

	if conflict := s.checkVersion(ctx, request, target); conflict != nil {
		return PublishResult{}, s.reject(ctx, request, actor, &target, conflict)
	}

	snapshotHash, err := persistence.ComputeConfigHash(persistence.HashEnvelope{
		ConfigType:    target.ConfigType,
		Segment:       target.Segment,
		Scope:         target.Scope,
		ScopeID:       target.ScopeID,
		ConfigVersion: target.Version,
		ConfigData:    normalized.ConfigData,
		Layout:        normalized.Layout,
		Widgets:       normalized.Widgets,
	})
	if err != nil {
		return PublishResult{}, fmt.Errorf("compute snapshot hash: %w", err)
	}
	if request.ExpectedHash != "" && request.ExpectedHash != snapshotHash {
		return PublishResult{}, s.reject(ctx, request, actor, &target, &ConflictError{
			Code:    CodeHashMismatch,
			Message: "draft content changed since it was reviewed",
		})
	}

	if conflict := checkOwnerScope(request, target); conflict != nil {
		return PublishResult{}, s.reject(ctx, request, actor, &target, conflict)
	}

	lockKey := request.Tuple.Key()
	lockStart := s.now()
	if err := s.locks.TryAcquire(lockKey, actor.ActorID); err != nil {
		var held *publishlock.HeldError
		if errors.As(err, &held) {
			conflict := &ConflictError{
				Code:         CodeLocked,
				Message:      "another publish is in progress for this configuration",
				Holder:       held.Holder,
				RetryAfterMs: held.RetryAfter.Milliseconds(),
			}
			return PublishResult{}, s.reject(ctx, request, actor, &target, conflict)
		}
		return PublishResult{}, err
	}
	defer s.locks.Release(lockKey)

	lockWaitMs := s.now().Sub(lockStart).Milliseconds()
	metrics.LockWait.Observe(float64(lockWaitMs) / 1000)

	publishStart := s.now()
	result, err := s.repo.PublishTx(ctx, persistence.PublishTxParams{
		TargetID:         target.ID,
		PublishStartedAt: publishStart,
		Audit: persistence.AuditEntryParams{
			Actor:         actor.ActorID,
			ActorEmail:    actor.Email,
			OwnerType:     request.OwnerType,
			OwnerID:       request.OwnerID,
			Tuple:         request.Tuple,
			ConfigVersion: target.Version,
			RetryCount:    request.RetryCount,
			LockWaitMs:    lockWaitMs,
			Status:        persistence.AuditStatusSuccess,
			Message:       "published",
			SnapshotHash:  snapshotHash,
		},
	})
	if err != nil {
		metrics.PublishAttempts.WithLabelValues("error", request.Tuple.ConfigType).Inc()
		return PublishResult{}, err
	}

	metrics.PublishAttempts.WithLabelValues("success", request.Tuple.ConfigType).Inc()
	metrics.PublishDuration.Observe(s.now().Sub(publishStart).Seconds())

	publishResult := PublishResult{
		Published:    result.Published,
		SnapshotHash: snapshotHash,
	}
	if result.Previous != nil {
		version := result.Previous.Version
		publishResult.PreviousVersion = &version
		publishResult.Diff = Diff(target.ConfigType, recordNormalized(*result.Previous), normalized)
	} else {
		publishResult.Diff = Diff(target.ConfigType, Normalized{}, normalized)
	}

	s.logger.Info("configuration published",
		zap.String("tuple", request.Tuple.Key()),
		zap.Int("version", result.Published.Version),
		zap.String("actor", actor.ActorID),
		zap.String("snapshotHash", snapshotHash))
	return publishResult, nil
}

// Rollback republishes the most recently demoted version (or an explicit one).
func (s *service) Rollback(ctx context.Context, request RollbackRequest) (PublishResult, error) {
	if err := validateTuple(request.Tuple); err != nil {
		return PublishResult{}, err
	}
	actor := requesttrace.FromContextOrAnonymous(ctx)
	publishRequest := PublishRequest{Tuple: request.Tuple, ConfigID: request.ConfigID, Confirm: request.Confirm}

	if request.Reason == "" {
		return PublishResult{}, s.reject(ctx, publishRequest, actor, nil, &ConflictError{
			Code:    CodeMissingRollbackReason,
			Message: "rollback requires a reason",
		})
	}
	if !request.Confirm {
		return PublishResult{}, s.reject(ctx, publishRequest, actor, nil, &ConflictError{
			Code:    CodeMissingConfirmation,
			Message: "rollback requires explicit confirmation",
		})
	}

	var target persistence.ConfigRecord
	var err error
	if request.ConfigID != nil {
		target, err = s.repo.GetByID(ctx, *request.ConfigID)
	} else {
		target, err = s.repo.LatestPreviouslyPublished(ctx, request.Tuple)
	}
	if err != nil {
		if errors.Is(err, persistence.ErrConfigNotFound) {
			return PublishResult{}, s.reject(ctx, publishRequest, actor, nil, &ConflictError{
				Code:    CodeNoRollbackTarget,
				Message: "no previously published version to roll back to",
			})
		}
		return PublishResult{}, err
	}
	if target.Status != "draft" {
		return PublishResult{}, s.reject(ctx, publishRequest, actor, &target, &ConflictError{
			Code:    CodeStatusConflict,
			Message: "rollback target is already published",
		})
	}

	snapshotHash, err := persistence.ComputeConfigHash(persistence.HashEnvelope{
		ConfigType:    target.ConfigType,
		Segment:       target.Segment,
		Scope:         target.Scope,
		ScopeID:       target.ScopeID,
		ConfigVersion: target.Version,
		ConfigData:    target.ConfigData,
		Layout:        target.Layout,
		Widgets:       target.Widgets,
	})
	if err != nil {
		return PublishResult{}, fmt.Errorf("compute snapshot hash: %w", err)
	}

	lockKey := request.Tuple.Key()
	lockStart := s.now()
	if err := s.locks.TryAcquire(lockKey, actor.ActorID); err != nil {
		var held *publishlock.HeldError
		if errors.As(err, &held) {
			conflict := &ConflictError{
				Code:         CodeLocked,
				Message:      "another publish is in progress for this configuration",
				Holder:       held.Holder,
				RetryAfterMs: held.RetryAfter.Milliseconds(),
			}
			return PublishResult{}, s.reject(ctx, publishRequest, actor, &target, conflict)
		}
		return PublishResult{}, err
	}
	defer s.locks.Release(lockKey)
	lockWaitMs := s.now().Sub(lockStart).Milliseconds()

	result, err := s.repo.PublishTx(ctx, persistence.PublishTxParams{
		TargetID:         target.ID,
		PublishStartedAt: s.now(),
		Audit: persistence.AuditEntryParams{
			Actor:         actor.ActorID,
			ActorEmail:    actor.Email,
			Tuple:         request.Tuple,
			ConfigVersion: target.Version,
			LockWaitMs:    lockWaitMs,
			Status:        persistence.AuditStatusSuccess,
			Message:       fmt.Sprintf("rollback: %s", request.Reason),
			SnapshotHash:  snapshotHash,
		},
	})
	if err != nil {
		metrics.PublishAttempts.WithLabelValues("error", request.Tuple.ConfigType).Inc()
		return PublishResult{}, err
	}
	metrics.PublishAttempts.WithLabelValues("rollback", request.Tuple.ConfigType).Inc()

	publishResult := PublishResult{Published: result.Published, SnapshotHash: snapshotHash}
	if result.Previous != nil {
		version := result.Previous.Version
		publishResult.PreviousVersion = &version
		publishResult.Diff = Diff(target.ConfigType, recordNormalized(*result.Previous), recordNormalized(target))
	}

	s.logger.Info("configuration rolled back",
		zap.String("tuple", request.Tuple.Key()),
		zap.Int("version", result.Published.Version),
		zap.String("reason", request.Reason),
		zap.String("actor", actor.ActorID))
	return publishResult, nil
}

// resolveTarget picks the publish target: an explicit row when the caller
// names one, otherwise the tuple's newest version regardless of status. The
// published row must stay resolvable so a republish of the live version
// answers with a status conflict rather than a missing draft.
func (s *service) resolveTarget(ctx context.Context, tuple persistence.ScopeTuple, configID *uuid.UUID) (persistence.ConfigRecord, error) {
	if configID != nil {
		return s.repo.GetByID(ctx, *configID)
	}
	return s.repo.Latest(ctx, tuple)
}

// checkVersion runs the optimistic-concurrency gauntlet in order: missing
// token, stale token, wrong status, then a newer draft racing past the target.
func (s *service) checkVersion(ctx context.Context, request PublishRequest, target persistence.ConfigRecord) *ConflictError {
	if request.ExpectedVersion == nil {
		return &ConflictError{
			Code:           CodeMissingVersion,
			Message:        "publish requires the expected draft version",
			CurrentVersion: target.Version,
		}
	}
	if *request.ExpectedVersion != target.Version {
		conflict := &ConflictError{
			Code:             CodeVersionConflict,
			Message:          "draft version changed since it was loaded",
			CurrentVersion:   target.Version,
			SubmittedVersion: *request.ExpectedVersion,
		}
		if actor, _, at, err := s.repo.LastSuccessActor(ctx, request.Tuple); err == nil {
			conflict.LastPublishedBy = actor
			publishedAt := at
			conflict.LastPublishedAt = &publishedAt
		}
		return conflict
	}
	if target.Status != "draft" {
		return &ConflictError{
			Code:           CodeStatusConflict,
			Message:        fmt.Sprintf("target version is %s, only drafts can be published", target.Status),
			CurrentVersion: target.Version,
		}
	}
	if maxDraft, err := s.repo.MaxDraftVersion(ctx, request.Tuple); err == nil && maxDraft > target.Version {
		return &ConflictError{
			Code:              CodeNewerDraftExists,
			Message:           "a newer draft exists for this configuration",
			CurrentVersion:    target.Version,
			NewerDraftVersion: maxDraft,
		}
	}
	return nil
}

// checkOwnerScope enforces ownership on header publishes: global owners manage
// system scope, dealers manage their own tenant scope. Other config types skip it.
func checkOwnerScope(request PublishRequest, target persistence.ConfigRecord) *ConflictError {
	if target.ConfigType != ConfigTypeHeader {
		return nil
	}

	switch request.OwnerType {
	case OwnerTypeGlobal:
		if target.Scope != ScopeSystem {
			return &ConflictError{
				Code:    CodeOwnerScopeMismatch,
				Message: "global owners may only publish system-scoped headers",
			}
		}
	case OwnerTypeDealer:
		if target.Scope != ScopeTenant || target.ScopeID == nil || *target.ScopeID != request.OwnerID {
			return &ConflictError{
				Code:    CodeOwnerScopeMismatch,
				Message: "dealers may only publish their own tenant headers",
			}
		}
	case "":
		return &ConflictError{
			Code:    CodeMissingOwnerScope,
			Message: "header publishes require an owner scope",
		}
	default:
		return &ConflictError{
			Code:    CodeOwnerScopeMismatch,
			Message: fmt.Sprintf("unknown owner type %q", request.OwnerType),
		}
	}
	return nil
}

// reject audits a failed attempt and returns the original error. The trail is
// the source of truth for conflict telemetry, so a failed audit write turns
// the whole attempt into a hard failure.
func (s *service) reject(ctx context.Context, request PublishRequest, actor requesttrace.ActorInfo, target *persistence.ConfigRecord, cause error) error {
	entry := persistence.AuditEntryParams{
		Actor:      actor.ActorID,
		ActorEmail: actor.Email,
		OwnerType:  request.OwnerType,
		OwnerID:    request.OwnerID,
		Tuple:      request.Tuple,
		RetryCount: request.RetryCount,
		Status:     persistence.AuditStatusValidationError,
		Message:    cause.Error(),
	}
	if target != nil {
		entry.ConfigVersion = target.Version
	}

	var conflict *ConflictError
	if errors.As(cause, &conflict) {
		entry.ErrorCode = string(conflict.Code)
		switch conflict.Code {
		case CodeVersionConflict, CodeNewerDraftExists, CodeHashMismatch:
			entry.ConflictDetected = true
		case CodeLocked:
			entry.Status = persistence.AuditStatusLocked
			entry.ConflictDetected = true
		}
	}
	var guardrail *GuardrailError
	if errors.As(cause, &guardrail) {
		entry.ErrorCode = string(CodeGuardrailViolation)
	}

	metrics.PublishAttempts.WithLabelValues(entry.Status, request.Tuple.ConfigType).Inc()

	if err := s.repo.AppendAudit(ctx, entry); err != nil {
		s.logger.Error("publish audit write failed",
			zap.String("tuple", request.Tuple.Key()),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrAuditFailure, err)
	}
	return cause
}
