package api

import (
	"net/http"
	"time"

	"github.com/meetwren/wren/internal/domain"
)

type questionDTO struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Prompt   string `json:"prompt"`
	Subject  string `json:"subject"`
	Required bool   `json:"required"`
}

type validationSessionDTO struct {
	ID                 string                      `json:"id"`
	DraftSummaryID     string                      `json:"draft_summary_id"`
	ValidatorIdentity  string                      `json:"validator"`
	Status             string                      `json:"status"`
	Questions          []questionDTO               `json:"questions"`
	ExpiresAt          time.Time                   `json:"expires_at"`
	CompletedAt        time.Time                   `json:"completed_at,omitzero"`
	ValidatedSummary   string                      `json:"validated_summary,omitempty"`
	ApprovedCRMUpdates map[string]domain.CRMUpdate `json:"approved_crm_updates,omitempty"`
}

func toQuestionDTOs(questions []domain.Question) []questionDTO {
	out := make([]questionDTO, 0, len(questions))
	for _, q := range questions {
		out = append(out, questionDTO{
			ID:       q.ID,
			Type:     string(q.Type),
			Prompt:   q.Prompt,
			Subject:  q.Subject,
			Required: q.Required,
		})
	}
	return out
}

func toValidationDTO(vs *domain.ValidationSession) validationSessionDTO {
	return validationSessionDTO{
		ID:                 vs.ID,
		DraftSummaryID:     vs.DraftSummaryID,
		ValidatorIdentity:  vs.ValidatorIdentity,
		Status:             string(vs.Status),
		Questions:          toQuestionDTOs(vs.Questions),
		ExpiresAt:          vs.ExpiresAt,
		CompletedAt:        vs.CompletedAt,
		ValidatedSummary:   vs.ValidatedSummary,
		ApprovedCRMUpdates: vs.ApprovedCRMUpdates,
	}
}

type createValidationRequest struct {
	DraftSummaryID string `json:"draft_summary_id"`
	Validator      string `json:"validator"`
}

func (s *Server) handleCreateValidation(w http.ResponseWriter, r *http.Request) {
	var req createValidationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	if req.DraftSummaryID == "" || req.Validator == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "draft_summary_id and validator are required")
		return
	}

	vs, err := s.validation.CreateSession(r.Context(), req.DraftSummaryID, req.Validator)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toValidationDTO(vs))
}

func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := s.validation.Questions(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuestionDTOs(questions))
}

type responseRequest struct {
	QuestionID string `json:"question_id"`
	Approved   bool   `json:"approved"`
	EditedText string `json:"edited_text,omitempty"`
}

func (s *Server) handleResponse(w http.ResponseWriter, r *http.Request) {
	var req responseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	if req.QuestionID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "question_id is required")
		return
	}

	err := s.validation.SubmitResponse(r.Context(), r.PathValue("id"), domain.Response{
		QuestionID: req.QuestionID,
		Approved:   req.Approved,
		EditedText: req.EditedText,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	vs, err := s.validation.Complete(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toValidationDTO(vs))
}
