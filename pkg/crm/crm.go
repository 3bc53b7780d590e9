// Package crm defines the adapter contract for CRM back-ends.
//
// An [Adapter] turns a completed validation session into a vendor payload
// and performs the idempotent write. Adapters are registered under a stable
// name ("salesforce", "hubspot", "creatio") and looked up by the sync
// service; they never run before human validation has completed — that gate
// is enforced upstream.
//
// Implementations must be safe for concurrent use.
package crm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/meetwren/wren/internal/domain"
)

// Payload is the CRM-agnostic shape of one validated meeting outcome,
// produced by [Adapter.Format] and consumed by [Adapter.Push].
type Payload struct {
	// Subject is the record title (typically the validated summary headline).
	Subject string

	// Stage is the vendor-specific pipeline stage to set.
	Stage string

	// Notes is the full validated summary text attached to the record.
	Notes string

	// ActionItems are the approved follow-up descriptions.
	ActionItems []string

	// Fields carries adapter-specific extras not covered above.
	Fields map[string]string
}

// Adapter is the contract every CRM integration implements.
type Adapter interface {
	// Name returns the stable registry name of the CRM system.
	Name() string

	// Format composes the vendor payload from a completed validation session
	// and its draft summary. Returns an error if the session approved no
	// update for this CRM.
	Format(vs *domain.ValidationSession, draft *domain.DraftSummary) (Payload, error)

	// Push writes the payload. idempotencyKey is stable across retries of the
	// same (validation session, CRM) pair; adapters must use it as the record's
	// external id or via a dedupe read-before-write so retries never create
	// duplicate CRM objects. Returns the vendor record id.
	Push(ctx context.Context, p Payload, idempotencyKey string) (recordID string, err error)
}

// APIError is a vendor HTTP failure. 5xx responses are retryable; 4xx are not.
type APIError struct {
	System     string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crm %s: HTTP %d: %s", e.System, e.StatusCode, e.Body)
}

// Retryable reports whether the failure may succeed on a later attempt.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500
}

// IsRetryable classifies a Push failure. Vendor 4xx responses are permanent;
// everything else (5xx, network errors, timeouts) is retried by the sync loop.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

// IdempotencyToken derives the stable dedupe token for one
// (validation session, CRM system) pair.
func IdempotencyToken(validationSessionID, system string) string {
	sum := sha256.Sum256([]byte(validationSessionID + ":" + system))
	return "wren-" + hex.EncodeToString(sum[:12])
}
