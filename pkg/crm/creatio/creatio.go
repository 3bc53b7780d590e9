// Package creatio implements the Creatio [crm.Adapter] on the OData 4 API.
//
// Idempotency uses a dedupe read-before-write against the WrenSyncToken
// column of the Opportunity collection.
package creatio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/meetwren/wren/internal/domain"
	"github.com/meetwren/wren/pkg/crm"
)

const (
	// Name is the registry name of this adapter.
	Name = "creatio"

	tokenColumn = "WrenSyncToken"
)

// Adapter implements [crm.Adapter] for Creatio.
type Adapter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Creatio adapter for the given site URL and API key.
func New(baseURL, apiKey string) (*Adapter, error) {
	if baseURL == "" || apiKey == "" {
		return nil, fmt.Errorf("creatio: base URL and API key are required")
	}
	return &Adapter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Name implements [crm.Adapter].
func (a *Adapter) Name() string { return Name }

// Format implements [crm.Adapter].
func (a *Adapter) Format(vs *domain.ValidationSession, draft *domain.DraftSummary) (crm.Payload, error) {
	update, ok := vs.ApprovedCRMUpdates[Name]
	if !ok {
		return crm.Payload{}, fmt.Errorf("creatio: validation session %s approved no update for this CRM", vs.ID)
	}

	var items []string
	for _, ai := range draft.ActionItems {
		items = append(items, ai.Description)
	}

	subject := vs.ValidatedSummary
	if idx := strings.IndexByte(subject, '\n'); idx > 0 {
		subject = subject[:idx]
	}

	return crm.Payload{
		Subject:     subject,
		Stage:       update.Stage,
		Notes:       vs.ValidatedSummary,
		ActionItems: items,
	}, nil
}

// opportunity is the OData entity body.
type opportunity struct {
	Title         string `json:"Title"`
	StageName     string `json:"StageName"`
	Notes         string `json:"Notes"`
	WrenSyncToken string `json:"WrenSyncToken"`
}

// Push implements [crm.Adapter] with search-then-create deduplication.
func (a *Adapter) Push(ctx context.Context, p crm.Payload, idempotencyKey string) (string, error) {
	if id, found, err := a.findByToken(ctx, idempotencyKey); err != nil {
		return "", err
	} else if found {
		if err := a.patch(ctx, id, p); err != nil {
			return "", err
		}
		return id, nil
	}
	return a.create(ctx, p, idempotencyKey)
}

func (a *Adapter) findByToken(ctx context.Context, token string) (id string, found bool, err error) {
	filter := url.QueryEscape(fmt.Sprintf("%s eq '%s'", tokenColumn, token))
	endpoint := fmt.Sprintf("%s/0/odata/Opportunity?$filter=%s&$select=Id&$top=1", a.baseURL, filter)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", false, fmt.Errorf("creatio: build search request: %w", err)
	}
	a.setHeaders(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("creatio: search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", false, &crm.APIError{System: Name, StatusCode: resp.StatusCode, Body: string(msg)}
	}

	var result struct {
		Value []struct {
			ID string `json:"Id"`
		} `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", false, fmt.Errorf("creatio: decode search response: %w", err)
	}
	if len(result.Value) == 0 {
		return "", false, nil
	}
	return result.Value[0].ID, true, nil
}

func (a *Adapter) create(ctx context.Context, p crm.Payload, token string) (string, error) {
	body := opportunity{
		Title:         p.Subject,
		StageName:     p.Stage,
		Notes:         p.Notes + joinItems(p.ActionItems),
		WrenSyncToken: token,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("creatio: marshal opportunity: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/0/odata/Opportunity", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("creatio: build create request: %w", err)
	}
	a.setHeaders(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("creatio: create: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &crm.APIError{System: Name, StatusCode: resp.StatusCode, Body: string(msg)}
	}

	var created struct {
		ID string `json:"Id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("creatio: decode create response: %w", err)
	}
	return created.ID, nil
}

func (a *Adapter) patch(ctx context.Context, id string, p crm.Payload) error {
	body := map[string]string{
		"Title":     p.Subject,
		"StageName": p.Stage,
		"Notes":     p.Notes + joinItems(p.ActionItems),
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("creatio: marshal patch: %w", err)
	}

	endpoint := fmt.Sprintf("%s/0/odata/Opportunity(%s)", a.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("creatio: build patch request: %w", err)
	}
	a.setHeaders(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("creatio: patch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &crm.APIError{System: Name, StatusCode: resp.StatusCode, Body: string(msg)}
	}
	return nil
}

func (a *Adapter) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("ForceUseSession", "true")
}

func joinItems(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return "\n\nAction items:\n- " + strings.Join(items, "\n- ")
}
