package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gema-sync/internal/models"
)

// ActionRequest is a mutation submitted by a UI client.
type ActionRequest struct {
	Type           string          `json:"type" validate:"required,oneof=attendance grade result message payment other"`
	Action         string          `json:"action" validate:"required,max=64"`
	Payload        json.RawMessage `json:"payload" validate:"required"`
	IdempotencyKey string          `json:"idempotency_key" validate:"omitempty,max=128"`
}

// QueuedActionResponse is the serialized representation of a pending action.
type QueuedActionResponse struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Action         string          `json:"action"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
	Timestamp      time.Time       `json:"timestamp"`
	RetryCount     int             `json:"retry_count"`
	LastError      string          `json:"last_error,omitempty"`
}

// NewQueuedActionResponse converts a model into a DTO.
func NewQueuedActionResponse(action models.QueuedAction) QueuedActionResponse {
	payload := action.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return QueuedActionResponse{
		ID:             action.ID,
		Type:           string(action.Type),
		Action:         action.Action,
		Payload:        payload,
		IdempotencyKey: action.IdempotencyKey,
		Timestamp:      action.Timestamp,
		RetryCount:     action.RetryCount,
		LastError:      action.LastError,
	}
}

// NewQueuedActionResponseSlice converts a slice of models into DTOs.
func NewQueuedActionResponseSlice(actions []models.QueuedAction) []QueuedActionResponse {
	out := make([]QueuedActionResponse, 0, len(actions))
	for _, action := range actions {
		out = append(out, NewQueuedActionResponse(action))
	}
	return out
}

// QueueActionResponse is returned after an action is queued.
type QueueActionResponse struct {
	ID string `json:"id"`
}

// PerformResponse reports how a submitted action was handled.
type PerformResponse struct {
	Status            string `json:"status"`
	ActionID          string `json:"action_id,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	Error             string `json:"error,omitempty"`
}

// LimitPolicyRequest replaces the admission policy of one action.
type LimitPolicyRequest struct {
	MaxRequests int    `json:"max_requests"`
	Window      string `json:"window"`
}

// LimitPolicyResponse echoes the policy now in force.
type LimitPolicyResponse struct {
	Action        string `json:"action"`
	MaxRequests   int    `json:"max_requests"`
	WindowSeconds int    `json:"window_seconds"`
}

// QueueCountResponse carries the pending action count.
type QueueCountResponse struct {
	Count int `json:"count"`
}

// SyncSummary is the outcome of one queue drain.
type SyncSummary struct {
	Success    int       `json:"success"`
	Failed     int       `json:"failed"`
	Dropped    int       `json:"dropped"`
	Total      int       `json:"total"`
	Skipped    bool      `json:"skipped"`
	Reason     string    `json:"reason,omitempty"`
	Trigger    string    `json:"trigger,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// StatusResponse describes the agent's connectivity and queue state.
type StatusResponse struct {
	Online         bool         `json:"online"`
	State          string       `json:"state"`
	LastChange     *time.Time   `json:"last_change,omitempty"`
	Pending        int          `json:"pending"`
	SyncInProgress bool         `json:"sync_in_progress"`
	MaxRetries     int          `json:"max_retries"`
	LastSync       *SyncSummary `json:"last_sync,omitempty"`
}

// Status stream event kinds.
const (
	StatusEventSnapshot     = "snapshot"
	StatusEventConnectivity = "connectivity"
	StatusEventSync         = "sync"
)

// StatusEvent is pushed to status stream subscribers.
type StatusEvent struct {
	Event  string          `json:"event"`
	Online *bool           `json:"online,omitempty"`
	Source string          `json:"source,omitempty"`
	Sync   *SyncSummary    `json:"sync,omitempty"`
	Status *StatusResponse `json:"status,omitempty"`
	At     time.Time       `json:"at"`
}

// BulkImportRequest submits many actions of one route.
type BulkImportRequest struct {
	Type   string            `json:"type" validate:"required,oneof=attendance grade result message payment other"`
	Action string            `json:"action" validate:"required,max=64"`
	Items  []json.RawMessage `json:"items" validate:"required,min=1,max=500"`
}

// BulkItemResult is the outcome of one bulk item.
type BulkItemResult struct {
	Index    int    `json:"index"`
	Status   string `json:"status"`
	ActionID string `json:"action_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// BulkImportResponse summarises a bulk import.
type BulkImportResponse struct {
	Executed int              `json:"executed"`
	Queued   int              `json:"queued"`
	Failed   int              `json:"failed"`
	Items    []BulkItemResult `json:"items"`
}

// AIGenerateRequest asks for generated classroom content.
type AIGenerateRequest struct {
	Kind         string `json:"kind" validate:"omitempty,oneof=lesson_plan quiz report_comment feedback"`
	Subject      string `json:"subject" validate:"required,max=128"`
	Topic        string `json:"topic" validate:"required,max=256"`
	GradeLevel   string `json:"grade_level" validate:"omitempty,max=32"`
	Instructions string `json:"instructions" validate:"omitempty,max=2000"`
	MaxItems     int    `json:"max_items" validate:"omitempty,min=1,max=50"`
}

// AIGenerateResponse carries generated content.
type AIGenerateResponse struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Items   []string `json:"items,omitempty"`
	Model   string   `json:"model"`
}
