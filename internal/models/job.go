package models

import (
	"time"
)

// Job lifecycle statuses persisted in Postgres. Transitions only move
// forward through the graph; SUCCEEDED and FAILED are terminal.
const (
	StatusQueued       = "QUEUED"
	StatusTranscribing = "TRANSCRIBING"
	StatusSummarizing  = "SUMMARIZING"
	StatusFormatting   = "FORMATTING"
	StatusSucceeded    = "SUCCEEDED"
	StatusFailed       = "FAILED"
)

// Terminal reports whether no further transitions can occur from status.
func Terminal(status string) bool {
	return status == StatusSucceeded || status == StatusFailed
}

// Job is one audio-to-summary request and its lifecycle state.
// Exactly one of ResultMarkdown/Message is set once the status is terminal.
type Job struct {
	ID             string    `json:"jobId"`
	Status         string    `json:"status"`
	Progress       int       `json:"progress"`
	Notes          string    `json:"notes,omitempty"`
	AudioKey       string    `json:"audioKey,omitempty"`
	TranscriptKey  string    `json:"transcriptKey,omitempty"`
	ResultMarkdown *string   `json:"resultMarkdown,omitempty"`
	Message        *string   `json:"message,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}
