package models

import (
	"encoding/json"
	"time"
)

// ActionType is the closed category tag that selects a dispatcher route family.
type ActionType string

const (
	ActionTypeAttendance ActionType = "attendance"
	ActionTypeGrade      ActionType = "grade"
	ActionTypeResult     ActionType = "result"
	ActionTypeMessage    ActionType = "message"
	ActionTypePayment    ActionType = "payment"
	ActionTypeOther      ActionType = "other"
)

// ActionTypes lists every supported action type.
var ActionTypes = []ActionType{
	ActionTypeAttendance,
	ActionTypeGrade,
	ActionTypeResult,
	ActionTypeMessage,
	ActionTypePayment,
	ActionTypeOther,
}

// Valid reports whether the type belongs to the closed set.
func (t ActionType) Valid() bool {
	for _, candidate := range ActionTypes {
		if t == candidate {
			return true
		}
	}
	return false
}

// QueuedAction is a user-initiated mutation waiting to be replayed against the backend.
type QueuedAction struct {
	ID             string          `json:"id"`
	Type           ActionType      `json:"type"`
	Action         string          `json:"action"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
	Timestamp      time.Time       `json:"timestamp"`
	RetryCount     int             `json:"retry_count"`
	LastError      string          `json:"last_error,omitempty"`
}

// Route returns the "type/action" pair used for logging and metrics.
func (a QueuedAction) Route() string {
	return string(a.Type) + "/" + a.Action
}
