package dto

import "github.com/BlearKK/deepdriver/pkg/events"

// RegisterSessionRequest creates a session or re-registers an existing one
// before (re)opening a stream. ProcessedItemIDs carries the client's local
// processed set so a resume never re-runs completed items.
type RegisterSessionRequest struct {
	Target           string   `json:"target" validate:"required"`
	SessionID        string   `json:"session_id,omitempty"`
	ProcessedItemIDs []string `json:"processed_item_ids,omitempty"`
}

type RegisterSessionResponse struct {
	SessionID string `json:"session_id"`
	Total     int    `json:"total"`
	Progress  int    `json:"progress"`
}

// PollResponse is one fallback-poll exchange: results the client does not
// hold yet, plus current totals.
type PollResponse struct {
	Results   []events.WorkResult `json:"results"`
	Processed int                 `json:"processed"`
	Total     int                 `json:"total"`
	Status    string              `json:"status"`
}

// CheckRequest is the synchronous single-shot investigation of an explicit
// item list, bypassing sessions.
type CheckRequest struct {
	Target string   `json:"target" validate:"required"`
	Items  []string `json:"items" validate:"required,min=1,max=50"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}
