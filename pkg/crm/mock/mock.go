// Package mock provides a scriptable in-memory [crm.Adapter] for tests.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/meetwren/wren/internal/domain"
	"github.com/meetwren/wren/pkg/crm"
)

// Adapter is a test double implementing [crm.Adapter]. It deduplicates
// Push calls on the idempotency key the way real adapters must, so tests
// can assert that retries produce one record.
type Adapter struct {
	// System overrides the reported name. Defaults to "mock".
	System string

	// PushErrs is consumed one error per Push call; a nil entry means
	// success. Once exhausted, Push succeeds. Lets tests script transient
	// failures (e.g. one 503 then success).
	PushErrs []error

	mu      sync.Mutex
	pushes  int
	creates int
	records map[string]string // idempotency key → record id
}

// New returns a ready-to-use mock adapter.
func New() *Adapter {
	return &Adapter{records: make(map[string]string)}
}

// Name implements [crm.Adapter].
func (a *Adapter) Name() string {
	if a.System != "" {
		return a.System
	}
	return "mock"
}

// Format implements [crm.Adapter].
func (a *Adapter) Format(vs *domain.ValidationSession, _ *domain.DraftSummary) (crm.Payload, error) {
	update, ok := vs.ApprovedCRMUpdates[a.Name()]
	if !ok {
		return crm.Payload{}, fmt.Errorf("mock: no approved update for %s", a.Name())
	}
	subject := vs.ValidatedSummary
	if idx := strings.IndexByte(subject, '\n'); idx > 0 {
		subject = subject[:idx]
	}
	return crm.Payload{Subject: subject, Stage: update.Stage, Notes: vs.ValidatedSummary}, nil
}

// Push implements [crm.Adapter]. Repeated pushes with the same key return
// the original record id without creating a second record.
func (a *Adapter) Push(_ context.Context, _ crm.Payload, idempotencyKey string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	call := a.pushes
	a.pushes++
	if call < len(a.PushErrs) && a.PushErrs[call] != nil {
		return "", a.PushErrs[call]
	}

	if id, ok := a.records[idempotencyKey]; ok {
		return id, nil
	}
	a.creates++
	id := fmt.Sprintf("%s-record-%d", a.Name(), a.creates)
	a.records[idempotencyKey] = id
	return id, nil
}

// PushCount returns the number of Push calls made.
func (a *Adapter) PushCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pushes
}

// CreateCount returns how many distinct records were created.
func (a *Adapter) CreateCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.creates
}
