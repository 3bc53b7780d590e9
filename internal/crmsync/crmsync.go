// Package crmsync writes validated meeting outcomes to CRM systems.
//
// Sync is gated: it refuses any validation session that is not completed,
// so no CRM mutation can bypass human review. Writes are idempotent per
// (validation session, CRM system) — the token derived from that pair
// deduplicates retries on the vendor side, and a completed sync record
// short-circuits repeat requests on ours.
package crmsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/meetwren/wren/internal/domain"
	"github.com/meetwren/wren/internal/observe"
	"github.com/meetwren/wren/internal/resilience"
	"github.com/meetwren/wren/internal/store"
	"github.com/meetwren/wren/pkg/crm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Defaults for the sync retry policy.
const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 2 * time.Second
)

// Sentinel errors surfaced to callers.
var (
	ErrValidationGate = errors.New("crmsync: validation session is not completed")
	ErrUnknownCRM     = errors.New("crmsync: no adapter configured for system")
	ErrNothingToSync  = errors.New("crmsync: validation session approved no CRM updates")
)

// Store is the persistence surface the syncer needs.
type Store interface {
	store.DraftSummaryStore
	store.ValidationStore
	store.SyncRecordStore
}

// Syncer pushes approved CRM updates through the configured adapters.
type Syncer struct {
	adapters map[string]crm.Adapter
	breakers map[string]*resilience.Breaker
	store    Store
	metrics  *observe.Metrics

	maxAttempts int
	backoffBase time.Duration
}

// Option customises a [Syncer].
type Option func(*Syncer)

// WithRetryPolicy overrides the attempt cap and backoff base.
func WithRetryPolicy(maxAttempts int, backoffBase time.Duration) Option {
	return func(s *Syncer) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if backoffBase > 0 {
			s.backoffBase = backoffBase
		}
	}
}

// WithMetrics wires the metric instruments. Defaults to no-op instruments.
func WithMetrics(metrics *observe.Metrics) Option {
	return func(s *Syncer) { s.metrics = metrics }
}

// New creates a syncer over the configured adapters, keyed by their
// registry names.
func New(adapters map[string]crm.Adapter, st Store, opts ...Option) *Syncer {
	s := &Syncer{
		adapters:    adapters,
		breakers:    make(map[string]*resilience.Breaker, len(adapters)),
		store:       st,
		metrics:     observe.Noop(),
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
	}
	for name := range adapters {
		s.breakers[name] = resilience.NewBreaker(resilience.BreakerConfig{Name: "crmsync/" + name})
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync writes every CRM update the validation session approved. It fails
// fast with [ErrValidationGate] on anything short of a completed session.
// Per-system failures don't abort the remaining systems; the returned
// records carry the per-system outcomes and the error joins the failures.
func (s *Syncer) Sync(ctx context.Context, validationSessionID string) ([]domain.CRMSyncRecord, error) {
	vs, err := s.store.ValidationSessionByID(ctx, validationSessionID)
	if err != nil {
		return nil, fmt.Errorf("crmsync: load validation session: %w", err)
	}
	if vs.Status != domain.ValidationCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrValidationGate, vs.ID, vs.Status)
	}
	if len(vs.ApprovedCRMUpdates) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNothingToSync, vs.ID)
	}

	draft, err := s.store.DraftSummaryByID(ctx, vs.DraftSummaryID)
	if err != nil {
		return nil, fmt.Errorf("crmsync: load draft: %w", err)
	}

	systems := make([]string, 0, len(vs.ApprovedCRMUpdates))
	for system := range vs.ApprovedCRMUpdates {
		systems = append(systems, system)
	}
	sort.Strings(systems)

	var records []domain.CRMSyncRecord
	var failures []error
	for _, system := range systems {
		rec, err := s.syncSystem(ctx, vs, draft, system)
		records = append(records, rec)
		if err != nil {
			failures = append(failures, err)
		}
	}
	return records, errors.Join(failures...)
}

// syncSystem drives one (validation session, CRM system) pair to a
// terminal sync record.
func (s *Syncer) syncSystem(ctx context.Context, vs *domain.ValidationSession, draft *domain.DraftSummary, system string) (domain.CRMSyncRecord, error) {
	// A pair that already completed never syncs twice.
	if existing, err := s.store.SyncRecordByTarget(ctx, vs.ID, system); err == nil &&
		existing.SyncStatus == domain.SyncCompleted {
		return *existing, nil
	}

	rec := domain.CRMSyncRecord{
		ValidationSessionID: vs.ID,
		CRMSystem:           system,
		SyncStatus:          domain.SyncInProgress,
	}

	adapter, ok := s.adapters[system]
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownCRM, system)
		return s.finishFailed(ctx, rec, err), err
	}

	payload, err := adapter.Format(vs, draft)
	if err != nil {
		err = fmt.Errorf("crmsync: format %s payload: %w", system, err)
		return s.finishFailed(ctx, rec, err), err
	}

	if err := s.store.SaveSyncRecord(ctx, &rec); err != nil {
		return rec, fmt.Errorf("crmsync: save sync record: %w", err)
	}

	token := crm.IdempotencyToken(vs.ID, system)
	breaker := s.breakers[system]

	for attempt := 1; ; attempt++ {
		rec.Attempts = attempt
		s.metrics.CRMSyncAttempts.Add(ctx, 1,
			metric.WithAttributes(attribute.String("system", system)))

		var recordID string
		pushErr := breaker.Do(func() error {
			var err error
			recordID, err = adapter.Push(ctx, payload, token)
			return err
		})

		if pushErr == nil {
			rec.SyncStatus = domain.SyncCompleted
			rec.CRMRecordID = recordID
			rec.LastError = ""
			rec.SyncedAt = time.Now()
			if err := s.store.SaveSyncRecord(ctx, &rec); err != nil {
				return rec, fmt.Errorf("crmsync: save completed record: %w", err)
			}
			s.recordResult(ctx, system, "completed")
			slog.Info("crm sync completed",
				"validation_session_id", vs.ID,
				"system", system,
				"crm_record_id", recordID,
				"attempts", attempt)
			return rec, nil
		}

		rec.LastError = pushErr.Error()
		if err := s.store.SaveSyncRecord(ctx, &rec); err != nil {
			slog.Warn("sync record persist failed", "system", system, "error", err)
		}

		if !crm.IsRetryable(pushErr) || attempt >= s.maxAttempts {
			err := fmt.Errorf("crmsync: push to %s: %w", system, pushErr)
			return s.finishFailed(ctx, rec, err), err
		}

		backoff := s.backoffBase << (attempt - 1)
		slog.Warn("crm push failed, retrying",
			"system", system, "attempt", attempt, "backoff", backoff, "error", pushErr)
		select {
		case <-ctx.Done():
			err := fmt.Errorf("crmsync: push to %s: %w", system, ctx.Err())
			return s.finishFailed(ctx, rec, err), err
		case <-time.After(backoff):
		}
	}
}

// finishFailed persists the terminal failed record and emits the
// operator-visible error.
func (s *Syncer) finishFailed(ctx context.Context, rec domain.CRMSyncRecord, cause error) domain.CRMSyncRecord {
	rec.SyncStatus = domain.SyncFailed
	rec.LastError = cause.Error()
	if err := s.store.SaveSyncRecord(ctx, &rec); err != nil {
		slog.Warn("failed sync record persist failed", "system", rec.CRMSystem, "error", err)
	}
	s.recordResult(ctx, rec.CRMSystem, "failed")
	slog.Error("crm sync failed",
		"validation_session_id", rec.ValidationSessionID,
		"system", rec.CRMSystem,
		"attempts", rec.Attempts,
		"error", cause)
	return rec
}

func (s *Syncer) recordResult(ctx context.Context, system, result string) {
	s.metrics.CRMSyncResults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("system", system),
		attribute.String("result", result),
	))
}
