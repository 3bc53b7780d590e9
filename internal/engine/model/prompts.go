package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meetwren/wren/internal/domain"
	"github.com/meetwren/wren/internal/engine"
)

const summarySystemPrompt = `You are a meeting analyst for a B2B sales team.
Given a raw meeting transcript, produce a JSON object with exactly these keys:
  "summary":    a concise prose summary of the meeting (3-6 sentences),
  "key_points": an array of the main discussion points, most important first,
  "decisions":  an array of decisions the participants explicitly reached,
  "confidence": your confidence in the summary as a number between 0 and 1.
Respond with the JSON object only, no surrounding text.`

const actionItemSystemPrompt = `You are a meeting analyst for a B2B sales team.
Extract follow-up tasks from the transcript. Respond with a JSON array where
each element has exactly these keys:
  "description": what needs to be done,
  "assignee":    the person responsible, or "" if unclear,
  "due_date":    the deadline as stated in the meeting, or "" if none,
  "priority":    one of "low", "medium", "high",
  "confidence":  your confidence this is a real task, between 0 and 1,
  "source_text": the transcript sentence the task was extracted from.
Respond with the JSON array only. Use [] if there are no tasks.`

const nextStepsSystemPrompt = `You are a meeting analyst for a B2B sales team.
Given a transcript and its summary, propose the concrete next steps the
account owner should take. Respond with a JSON array of short strings,
ordered by urgency. Respond with the JSON array only.`

// summaryResponse mirrors the JSON shape requested by summarySystemPrompt.
type summaryResponse struct {
	Summary    string   `json:"summary"`
	KeyPoints  []string `json:"key_points"`
	Decisions  []string `json:"decisions"`
	Confidence float64  `json:"confidence"`
}

// actionItemResponse mirrors the JSON shape requested by actionItemSystemPrompt.
type actionItemResponse struct {
	Description string  `json:"description"`
	Assignee    string  `json:"assignee"`
	DueDate     string  `json:"due_date"`
	Priority    string  `json:"priority"`
	Confidence  float64 `json:"confidence"`
	SourceText  string  `json:"source_text"`
}

// stripFences removes a Markdown code fence if the model wrapped its JSON in
// one despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func parseSummary(raw string) (engine.MeetingSummary, error) {
	var resp summaryResponse
	if err := json.Unmarshal([]byte(stripFences(raw)), &resp); err != nil {
		return engine.MeetingSummary{}, fmt.Errorf("model: parse summary response: %w", err)
	}
	if resp.Summary == "" {
		return engine.MeetingSummary{}, fmt.Errorf("model: summary response missing summary text")
	}
	if resp.Confidence < 0 || resp.Confidence > 1 {
		resp.Confidence = 0.5
	}
	return engine.MeetingSummary{
		SummaryText: resp.Summary,
		KeyPoints:   resp.KeyPoints,
		Decisions:   resp.Decisions,
		Confidence:  resp.Confidence,
	}, nil
}

func parseActionItems(raw string) ([]domain.ActionItem, error) {
	var resp []actionItemResponse
	if err := json.Unmarshal([]byte(stripFences(raw)), &resp); err != nil {
		return nil, fmt.Errorf("model: parse action item response: %w", err)
	}

	items := make([]domain.ActionItem, 0, len(resp))
	for _, r := range resp {
		if r.Description == "" {
			continue
		}
		pri := domain.Priority(r.Priority)
		if !pri.IsValid() {
			pri = domain.PriorityMedium
		}
		conf := r.Confidence
		if conf <= 0 || conf > 1 {
			conf = 0.5
		}
		items = append(items, domain.ActionItem{
			Description: r.Description,
			Assignee:    r.Assignee,
			DueDate:     r.DueDate,
			Priority:    pri,
			Confidence:  conf,
			SourceText:  r.SourceText,
		})
	}
	return items, nil
}

func parseNextSteps(raw string) ([]string, error) {
	var steps []string
	if err := json.Unmarshal([]byte(stripFences(raw)), &steps); err != nil {
		return nil, fmt.Errorf("model: parse next steps response: %w", err)
	}
	out := steps[:0]
	for _, s := range steps {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
