package models

import "time"

// Grade is a teacher-entered score for a piece of assessed work.
type Grade struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	IdempotencyKey *string   `gorm:"size:64;uniqueIndex" json:"idempotency_key,omitempty"`
	StudentID      uint      `gorm:"not null;index" json:"student_id"`
	SubjectID      uint      `gorm:"not null;index" json:"subject_id"`
	Term           string    `gorm:"size:32" json:"term"`
	Score          float64   `gorm:"not null" json:"score"`
	MaxScore       float64   `json:"max_score"`
	Comment        string    `gorm:"type:text" json:"comment"`
	GradedBy       uint      `json:"graded_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName pins the grades table name.
func (Grade) TableName() string { return "grades" }

// ExamResult is the per-subject outcome of a student in an exam sitting.
type ExamResult struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	IdempotencyKey *string   `gorm:"size:64;uniqueIndex" json:"idempotency_key,omitempty"`
	StudentID      uint      `gorm:"not null;uniqueIndex:idx_exam_result,priority:1" json:"student_id"`
	ExamID         uint      `gorm:"not null;uniqueIndex:idx_exam_result,priority:2" json:"exam_id"`
	Subject        string    `gorm:"size:64;not null;uniqueIndex:idx_exam_result,priority:3" json:"subject"`
	Score          float64   `json:"score"`
	Grade          string    `gorm:"size:8" json:"grade"`
	Remarks        string    `gorm:"type:text" json:"remarks"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName pins the exam results table name.
func (ExamResult) TableName() string { return "exam_results" }
