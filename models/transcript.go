package models

import (
	"encoding/json"
	"time"
)

// Raw conversation roles as produced by the voice pipeline.
const (
	RoleAssistant = "assistant"
	RoleUser      = "user"
	RoleSystem    = "system"
)

// ChatMessage is one conversational turn before it is persisted.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TranscriptEntry is a persisted, non-empty turn.
type TranscriptEntry struct {
	Role        string `json:"role"`
	DisplayRole string `json:"display_role"`
	Content     string `json:"content"`
	Timestamp   string `json:"timestamp"`
}

// Transcript is the single artifact written for a job.
type Transcript struct {
	JobID       string            `json:"job_id"`
	PhoneNumber string            `json:"phone_number"`
	Timestamp   string            `json:"timestamp"`
	Messages    []TranscriptEntry `json:"messages"`
}

// LiveTurn is a turn published while the call is still in progress.
type LiveTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	JobID   string `json:"jobId"`
}

func (t *LiveTurn) MarshalBinary() ([]byte, error) {
	return json.Marshal(t)
}

func (t *LiveTurn) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, t)
}
