// Package domain defines the persistent entities of the Wren meeting
// pipeline and the enumerations that constrain their fields.
//
// Ownership follows a strict chain: a Meeting owns at most one
// CallBotSession, which owns at most one DraftSummary, which owns its
// ActionItems and at most one ValidationSession, which owns its
// CRMSyncRecords. Leads are referenced by Meetings but never owned or
// mutated by the pipeline.
package domain

import "time"

// MeetingStatus is the lifecycle status of a scheduled meeting.
// Transitions only move forward; Completed and Failed are terminal.
type MeetingStatus string

const (
	MeetingScheduled  MeetingStatus = "scheduled"
	MeetingInProgress MeetingStatus = "in_progress"
	MeetingCompleted  MeetingStatus = "completed"
	MeetingFailed     MeetingStatus = "failed"
)

// IsValid reports whether s is a recognised meeting status.
func (s MeetingStatus) IsValid() bool {
	switch s {
	case MeetingScheduled, MeetingInProgress, MeetingCompleted, MeetingFailed:
		return true
	}
	return false
}

// Terminal reports whether s permits no further transitions.
func (s MeetingStatus) Terminal() bool {
	return s == MeetingCompleted || s == MeetingFailed
}

// Lead is an external CRM contact referenced by meetings. The pipeline
// reads leads for context but never writes them directly; CRM mutations
// go through the validated sync path.
type Lead struct {
	ID      string
	CRMID   string
	Name    string
	Email   string
	Company string
}

// Meeting is a scheduled calendar event, created by the ingest layer.
type Meeting struct {
	ID              string
	CalendarEventID string
	LeadID          string
	Title           string
	StartTime       time.Time
	EndTime         time.Time
	Attendees       []string
	Status          MeetingStatus
}

// ConnectionStatus describes the bot's link to the conference platform.
type ConnectionStatus string

const (
	ConnConnecting   ConnectionStatus = "connecting"
	ConnConnected    ConnectionStatus = "connected"
	ConnTranscribing ConnectionStatus = "transcribing"
	ConnReconnecting ConnectionStatus = "reconnecting"
	ConnDisconnected ConnectionStatus = "disconnected"
	ConnError        ConnectionStatus = "error"
)

// IsValid reports whether c is a recognised connection status.
func (c ConnectionStatus) IsValid() bool {
	switch c {
	case ConnConnecting, ConnConnected, ConnTranscribing,
		ConnReconnecting, ConnDisconnected, ConnError:
		return true
	}
	return false
}

// AudioQuality grades the recent transcription confidence of a session.
type AudioQuality string

const (
	// QualityUnknown is reported before the first quality evaluation.
	QualityUnknown AudioQuality = "unknown"

	QualityExcellent AudioQuality = "excellent"
	QualityGood      AudioQuality = "good"
	QualityFair      AudioQuality = "fair"
	QualityPoor      AudioQuality = "poor"
	QualityUnusable  AudioQuality = "unusable"
)

// GradeConfidence maps a mean confidence score to an [AudioQuality] level.
func GradeConfidence(mean float64) AudioQuality {
	switch {
	case mean >= 0.90:
		return QualityExcellent
	case mean >= 0.80:
		return QualityGood
	case mean >= 0.60:
		return QualityFair
	case mean >= 0.40:
		return QualityPoor
	default:
		return QualityUnusable
	}
}

// CallBotSession records one bot attendance of a meeting. At most one
// session exists per meeting; RawTranscript grows monotonically via
// append-only writes.
type CallBotSession struct {
	ID                string
	MeetingID         string
	BotSessionID      string
	Platform          string
	JoinTime          time.Time
	LeaveTime         time.Time
	ConnectionStatus  ConnectionStatus
	RawTranscript     string
	SpeakerMapping    map[string]string
	AudioQuality      AudioQuality
	ReconnectAttempts int
	ErrorMessage      string
}

// SpeakerRole classifies a speaker within a session.
type SpeakerRole string

const (
	RoleHost        SpeakerRole = "host"
	RoleParticipant SpeakerRole = "participant"
	RoleUnknown     SpeakerRole = "unknown"
)

// Speaker is a per-session identified voice. The first speaker a session
// encounters defaults to the host role unless the engine says otherwise.
type Speaker struct {
	SpeakerID      string
	Name           string
	Role           SpeakerRole
	Confidence     float64
	VoiceSignature string
}

// TranscriptChunk is one transcribed audio segment. ChunkID is monotonic
// within a session; a chunk observed with IsFinal=true is never revised.
type TranscriptChunk struct {
	ChunkID    int
	Text       string
	SpeakerID  string
	StartTime  time.Time
	EndTime    time.Time
	Confidence float64
	IsFinal    bool
	Language   string
}

// Priority ranks action items.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// IsValid reports whether p is a recognised priority.
func (p Priority) IsValid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// ActionItem is a follow-up task extracted from the transcript.
type ActionItem struct {
	Description string
	Assignee    string
	DueDate     string
	Priority    Priority
	Confidence  float64
	SourceText  string
}

// DraftSummary is the AI-produced artifact awaiting human validation.
// Created exactly once per successful session; immutable after the
// validation completes.
type DraftSummary struct {
	ID                  string
	BotSessionID        string
	SummaryText         string
	KeyPoints           []string
	ActionItems         []ActionItem
	Decisions           []string
	NextSteps           []string
	SuggestedCRMUpdates map[string]CRMUpdate
	ConfidenceScore     float64
	ProcessingTime      time.Duration
	CreatedAt           time.Time
}

// CRMUpdate is a per-CRM suggested mutation derived from the summary.
type CRMUpdate struct {
	System string
	Stage  string
	Notes  string
}

// ValidationStatus is the lifecycle status of a validation session.
type ValidationStatus string

const (
	ValidationPending    ValidationStatus = "pending"
	ValidationInProgress ValidationStatus = "in_progress"
	ValidationCompleted  ValidationStatus = "completed"
	ValidationExpired    ValidationStatus = "expired"
)

// IsValid reports whether v is a recognised validation status.
func (v ValidationStatus) IsValid() bool {
	switch v {
	case ValidationPending, ValidationInProgress, ValidationCompleted, ValidationExpired:
		return true
	}
	return false
}

// QuestionType categorises review questions presented to the validator.
type QuestionType string

const (
	QuestionConfirmation QuestionType = "confirmation"
	QuestionActionItem   QuestionType = "action_item_review"
	QuestionCRMApproval  QuestionType = "crm_approval"
)

// Question is a single review item in a validation session.
type Question struct {
	ID       string
	Type     QuestionType
	Prompt   string
	Subject  string // action-item description or CRM system name, depending on Type
	Required bool
}

// Response is a validator's answer to one question.
type Response struct {
	QuestionID string
	Approved   bool
	EditedText string
	AnsweredAt time.Time
}

// ValidationSession gates CRM mutation behind human review of a draft.
type ValidationSession struct {
	ID                 string
	DraftSummaryID     string
	ValidatorIdentity  string
	Status             ValidationStatus
	Questions          []Question
	Responses          map[string]Response
	StartedAt          time.Time
	CompletedAt        time.Time
	ExpiresAt          time.Time
	ValidatedSummary   string
	ApprovedCRMUpdates map[string]CRMUpdate
}

// SyncStatus is the lifecycle status of one CRM write.
type SyncStatus string

const (
	SyncPending    SyncStatus = "pending"
	SyncInProgress SyncStatus = "in_progress"
	SyncCompleted  SyncStatus = "completed"
	SyncFailed     SyncStatus = "failed"
)

// CRMSyncRecord tracks one (validation session, CRM system) write. At most
// one record per pair ever reaches SyncCompleted.
type CRMSyncRecord struct {
	ValidationSessionID string
	CRMSystem           string
	SyncStatus          SyncStatus
	CRMRecordID         string
	Attempts            int
	LastError           string
	SyncedAt            time.Time
}
