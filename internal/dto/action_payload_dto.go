package dto

// MarkAttendancePayload records one student's attendance for a class session.
type MarkAttendancePayload struct {
	StudentID  uint   `json:"student_id" validate:"required"`
	ClassID    uint   `json:"class_id" validate:"required"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	Status     string `json:"status" validate:"required,oneof=present absent late excused"`
	Note       string `json:"note" validate:"omitempty,max=1000"`
	RecordedBy uint   `json:"recorded_by"`
}

// UpdateAttendancePayload amends an existing attendance row.
type UpdateAttendancePayload struct {
	ID     uint    `json:"id" validate:"required"`
	Status string  `json:"status" validate:"omitempty,oneof=present absent late excused"`
	Note   *string `json:"note" validate:"omitempty,max=1000"`
}

// BulkMarkAttendancePayload marks a whole class at once.
type BulkMarkAttendancePayload struct {
	Records []MarkAttendancePayload `json:"records" validate:"required,min=1,max=500,dive"`
}

// CreateGradePayload enters a new grade.
type CreateGradePayload struct {
	StudentID uint    `json:"student_id" validate:"required"`
	SubjectID uint    `json:"subject_id" validate:"required"`
	Term      string  `json:"term" validate:"omitempty,max=32"`
	Score     float64 `json:"score" validate:"gte=0"`
	MaxScore  float64 `json:"max_score" validate:"omitempty,gtefield=Score"`
	Comment   string  `json:"comment" validate:"omitempty,max=2000"`
	GradedBy  uint    `json:"graded_by"`
}

// UpdateGradePayload amends a grade.
type UpdateGradePayload struct {
	ID      uint     `json:"id" validate:"required"`
	Score   *float64 `json:"score" validate:"omitempty,gte=0"`
	Comment *string  `json:"comment" validate:"omitempty,max=2000"`
}

// ExamResultPayload is one row of an exam result sheet.
type ExamResultPayload struct {
	StudentID uint    `json:"student_id" validate:"required"`
	ExamID    uint    `json:"exam_id" validate:"required"`
	Subject   string  `json:"subject" validate:"required,max=64"`
	Score     float64 `json:"score" validate:"gte=0"`
	Grade     string  `json:"grade" validate:"omitempty,max=8"`
	Remarks   string  `json:"remarks" validate:"omitempty,max=2000"`
}

// UpsertResultsPayload writes a result sheet, replacing rows with the same natural key.
type UpsertResultsPayload struct {
	Results []ExamResultPayload `json:"results" validate:"required,min=1,max=1000,dive"`
}

// SendMessagePayload sends a message.
type SendMessagePayload struct {
	SenderID    string `json:"sender_id" validate:"required,max=64"`
	RecipientID string `json:"recipient_id" validate:"required,max=64"`
	Subject     string `json:"subject" validate:"omitempty,max=255"`
	Body        string `json:"body" validate:"required,max=10000"`
}

// MarkReadPayload flags a message as read.
type MarkReadPayload struct {
	ID uint `json:"id" validate:"required"`
}

// RecordPaymentPayload records a fee payment.
type RecordPaymentPayload struct {
	StudentID uint    `json:"student_id" validate:"required"`
	InvoiceID string  `json:"invoice_id" validate:"omitempty,max=64"`
	Amount    float64 `json:"amount" validate:"required,gt=0"`
	Currency  string  `json:"currency" validate:"omitempty,len=3"`
	Method    string  `json:"method" validate:"omitempty,max=32"`
	Reference string  `json:"reference" validate:"omitempty,max=128"`
}

// UpdatePaymentStatusPayload moves a payment through its lifecycle.
type UpdatePaymentStatusPayload struct {
	ID     uint   `json:"id" validate:"required"`
	Status string `json:"status" validate:"required,oneof=recorded confirmed failed refunded"`
}

// GenericWritePayload targets a whitelisted resource directly.
type GenericWritePayload struct {
	Resource        string           `json:"resource" validate:"required"`
	ID              string           `json:"id"`
	Record          map[string]any   `json:"record"`
	Records         []map[string]any `json:"records"`
	ConflictColumns []string         `json:"conflict_columns"`
}
