package models

import "time"

// Payment records a fee payment against a student's billing account.
type Payment struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	IdempotencyKey *string   `gorm:"size:64;uniqueIndex" json:"idempotency_key,omitempty"`
	StudentID      uint      `gorm:"not null;index" json:"student_id"`
	InvoiceID      string    `gorm:"size:64;index" json:"invoice_id"`
	Amount         float64   `gorm:"not null" json:"amount"`
	Currency       string    `gorm:"size:8" json:"currency"`
	Method         string    `gorm:"size:32" json:"method"`
	Status         string    `gorm:"size:32;not null;default:recorded" json:"status"`
	Reference      string    `gorm:"size:128" json:"reference"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName pins the payments table name.
func (Payment) TableName() string { return "payments" }
