// Package hubspot implements the HubSpot [crm.Adapter].
//
// HubSpot's deals API has no external-id upsert, so idempotency uses a
// dedupe read-before-write: Push first searches for a deal whose
// wren_sync_token property equals the idempotency key and only creates a
// new deal when the search comes back empty.
package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/meetwren/wren/internal/domain"
	"github.com/meetwren/wren/pkg/crm"
)

const (
	// Name is the registry name of this adapter.
	Name = "hubspot"

	defaultBaseURL = "https://api.hubapi.com"
	tokenProperty  = "wren_sync_token"
)

// Adapter implements [crm.Adapter] for HubSpot.
type Adapter struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

// Option configures the adapter.
type Option func(*Adapter)

// WithBaseURL overrides the HubSpot API base URL.
func WithBaseURL(u string) Option {
	return func(a *Adapter) { a.baseURL = strings.TrimRight(u, "/") }
}

// New creates a HubSpot adapter with the given private-app token.
func New(accessToken string, opts ...Option) (*Adapter, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("hubspot: access token is required")
	}
	a := &Adapter{
		baseURL:     defaultBaseURL,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Name implements [crm.Adapter].
func (a *Adapter) Name() string { return Name }

// Format implements [crm.Adapter].
func (a *Adapter) Format(vs *domain.ValidationSession, draft *domain.DraftSummary) (crm.Payload, error) {
	update, ok := vs.ApprovedCRMUpdates[Name]
	if !ok {
		return crm.Payload{}, fmt.Errorf("hubspot: validation session %s approved no update for this CRM", vs.ID)
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

// Push implements [crm.Adapter] with search-then-create deduplication.
func (a *Adapter) Push(ctx context.Context, p crm.Payload, idempotencyKey string) (string, error) {
	if id, found, err := a.findByToken(ctx, idempotencyKey); err != nil {
		return "", err
	} else if found {
		return a.update(ctx, id, p)
	}
	return a.create(ctx, p, idempotencyKey)
}

// searchRequest is the CRM search API body for the dedupe lookup.
type searchRequest struct {
	FilterGroups []struct {
		Filters []searchFilter `json:"filters"`
	} `json:"filterGroups"`
	Limit int `json:"limit"`
}

type searchFilter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

func (a *Adapter) findByToken(ctx context.Context, token string) (id string, found bool, err error) {
	var body searchRequest
	body.Limit = 1
	body.FilterGroups = append(body.FilterGroups, struct {
		Filters []searchFilter `json:"filters"`
	}{Filters: []searchFilter{{PropertyName: tokenProperty, Operator: "EQ", Value: token}}})

	var result struct {
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	if err := a.do(ctx, http.MethodPost, "/crm/v3/objects/deals/search", body, &result); err != nil {
		return "", false, err
	}
	if len(result.Results) == 0 {
		return "", false, nil
	}
	return result.Results[0].ID, true, nil
}

// dealBody is the deal create/update request.
type dealBody struct {
	Properties map[string]string `json:"properties"`
}

func (a *Adapter) create(ctx context.Context, p crm.Payload, token string) (string, error) {
	body := dealBody{Properties: map[string]string{
		"dealname":    p.Subject,
		"dealstage":   p.Stage,
		"description": p.Notes + joinItems(p.ActionItems),
		tokenProperty: token,
	}}
	var result struct {
		ID string `json:"id"`
	}
	if err := a.do(ctx, http.MethodPost, "/crm/v3/objects/deals", body, &result); err != nil {
		return "", err
	}
	return result.ID, nil
}

func (a *Adapter) update(ctx context.Context, id string, p crm.Payload) (string, error) {
	body := dealBody{Properties: map[string]string{
		"dealname":    p.Subject,
		"dealstage":   p.Stage,
		"description": p.Notes + joinItems(p.ActionItems),
	}}
	var result struct {
		ID string `json:"id"`
	}
	if err := a.do(ctx, http.MethodPatch, "/crm/v3/objects/deals/"+id, body, &result); err != nil {
		return "", err
	}
	return result.ID, nil
}

// do performs one HubSpot API call and decodes the JSON response into out.
func (a *Adapter) do(ctx context.Context, method, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("hubspot: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("hubspot: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hubspot: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &crm.APIError{System: Name, StatusCode: resp.StatusCode, Body: string(msg)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("hubspot: decode response: %w", err)
		}
	}
	return nil
}

func joinItems(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return "\n\nAction items:\n- " + strings.Join(items, "\n- ")
}
