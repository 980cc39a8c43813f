package models

import "time"

// Attendance is a single student's presence record for one class session.
type Attendance struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	IdempotencyKey *string   `gorm:"size:64;uniqueIndex" json:"idempotency_key,omitempty"`
	StudentID      uint      `gorm:"not null;uniqueIndex:idx_attendance_session,priority:1" json:"student_id"`
	ClassID        uint      `gorm:"not null;uniqueIndex:idx_attendance_session,priority:2" json:"class_id"`
	Date           string    `gorm:"size:10;not null;uniqueIndex:idx_attendance_session,priority:3" json:"date"`
	Status         string    `gorm:"size:16;not null" json:"status"`
	Note           string    `gorm:"type:text" json:"note"`
	RecordedBy     uint      `json:"recorded_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName pins the attendance table name used by the mutation backend.
func (Attendance) TableName() string { return "attendance" }

const (
	AttendancePresent = "present"
	AttendanceAbsent  = "absent"
	AttendanceLate    = "late"
	AttendanceExcused = "excused"
)
