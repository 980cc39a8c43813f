package models

import "time"

// Message is a staff/parent/student message written through the mutation backend.
type Message struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	IdempotencyKey *string    `gorm:"size:64;uniqueIndex" json:"idempotency_key,omitempty"`
	SenderID       string     `gorm:"size:64;index;not null" json:"sender_id"`
	RecipientID    string     `gorm:"size:64;index;not null" json:"recipient_id"`
	Subject        string     `gorm:"size:255" json:"subject"`
	Body           string     `gorm:"type:text;not null" json:"body"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName pins the messages table name.
func (Message) TableName() string { return "messages" }
