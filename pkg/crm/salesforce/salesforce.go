// Package salesforce implements the Salesforce [crm.Adapter].
//
// Writes go through the sObject REST API as an upsert keyed by the external
// id field Wren_Sync_Token__c, which makes retries naturally idempotent:
// Salesforce resolves the same token to the same record.
package salesforce

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
	Name = "salesforce"

	apiVersion      = "v61.0"
	externalIDField = "Wren_Sync_Token__c"
)

// Adapter implements [crm.Adapter] for Salesforce.
type Adapter struct {
	instanceURL string
	accessToken string
	httpClient  *http.Client
}

// New creates a Salesforce adapter for the given instance and OAuth token.
func New(instanceURL, accessToken string) (*Adapter, error) {
	if instanceURL == "" || accessToken == "" {
		return nil, fmt.Errorf("salesforce: instance URL and access token are required")
	}
	return &Adapter{
		instanceURL: strings.TrimRight(instanceURL, "/"),
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Name implements [crm.Adapter].
func (a *Adapter) Name() string { return Name }

// Format implements [crm.Adapter].
func (a *Adapter) Format(vs *domain.ValidationSession, draft *domain.DraftSummary) (crm.Payload, error) {
	update, ok := vs.ApprovedCRMUpdates[Name]
	if !ok {
		return crm.Payload{}, fmt.Errorf("salesforce: validation session %s approved no update for this CRM", vs.ID)
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
		Fields: map[string]string{
			"NextStep": strings.Join(draft.NextSteps, "; "),
		},
	}, nil
}

// opportunityBody is the sObject JSON for the upsert request.
type opportunityBody struct {
	Name        string `json:"Name"`
	StageName   string `json:"StageName"`
	Description string `json:"Description"`
	NextStep    string `json:"NextStep,omitempty"`
}

// upsertResult is Salesforce's response to an external-id upsert.
type upsertResult struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// Push implements [crm.Adapter] with an external-id upsert.
func (a *Adapter) Push(ctx context.Context, p crm.Payload, idempotencyKey string) (string, error) {
	endpoint := fmt.Sprintf("%s/services/data/%s/sobjects/Opportunity/%s/%s",
		a.instanceURL, apiVersion, externalIDField, idempotencyKey)

	body := opportunityBody{
		Name:        p.Subject,
		StageName:   p.Stage,
		Description: p.Notes + formatActionItems(p.ActionItems),
		NextStep:    p.Fields["NextStep"],
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("salesforce: marshal opportunity: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("salesforce: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("salesforce: upsert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &crm.APIError{System: Name, StatusCode: resp.StatusCode, Body: string(msg)}
	}

	var result upsertResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("salesforce: decode upsert response: %w", err)
	}
	return result.ID, nil
}

func formatActionItems(items []string) string {
	if len(items) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n\nAction items:\n")
	for _, it := range items {
		sb.WriteString("- ")
		sb.WriteString(it)
		sb.WriteByte('\n')
	}
	return sb.String()
}
