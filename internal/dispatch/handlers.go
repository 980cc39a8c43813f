package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	"github.com/noah-isme/gema-sync/internal/dto"
	"github.com/noah-isme/gema-sync/internal/models"
	"github.com/noah-isme/gema-sync/internal/repository"
)

// Backend is the mutation capability handlers write through.
type Backend interface {
	Insert(ctx context.Context, resource string, record map[string]any) error
	Update(ctx context.Context, resource, id string, fields map[string]any) error
	Upsert(ctx context.Context, resource string, records []map[string]any, conflictColumns []string) error
}

const (
	resourceAttendance  = "attendance"
	resourceGrades      = "grades"
	resourceExamResults = "exam_results"
	resourceMessages    = "messages"
	resourcePayments    = "payments"
)

var (
	attendanceConflict = []string{"student_id", "class_id", "date"}
	resultConflict     = []string{"student_id", "exam_id", "subject"}
)

type handlerSet struct {
	backend   Backend
	validate  *validator.Validate
	sanitizer *bluemonday.Policy
}

// RegisterDefaults installs the built-in route table on d.
func RegisterDefaults(d *Dispatcher, backend Backend, validate *validator.Validate) error {
	if backend == nil {
		return fmt.Errorf("register default handlers: backend is nil")
	}
	if validate == nil {
		validate = validator.New()
	}
	h := &handlerSet{backend: backend, validate: validate, sanitizer: bluemonday.UGCPolicy()}

	routes := []struct {
		actionType models.ActionType
		action     string
		handler    HandlerFunc
	}{
		{models.ActionTypeAttendance, "mark_attendance", h.markAttendance},
		{models.ActionTypeAttendance, "update_attendance", h.updateAttendance},
		{models.ActionTypeAttendance, "bulk_mark_attendance", h.bulkMarkAttendance},
		{models.ActionTypeGrade, "create_grade", h.createGrade},
		{models.ActionTypeGrade, "update_grade", h.updateGrade},
		{models.ActionTypeResult, "upsert_results", h.upsertResults},
		{models.ActionTypeMessage, "send_message", h.sendMessage},
		{models.ActionTypeMessage, "mark_read", h.markRead},
		{models.ActionTypePayment, "record_payment", h.recordPayment},
		{models.ActionTypePayment, "update_payment_status", h.updatePaymentStatus},
		{models.ActionTypeOther, "insert", h.genericInsert},
		{models.ActionTypeOther, "update", h.genericUpdate},
		{models.ActionTypeOther, "upsert", h.genericUpsert},
	}
	for _, route := range routes {
		if err := d.Register(route.actionType, route.action, route.handler); err != nil {
			return err
		}
	}
	return nil
}

func decodePayload[T any](action models.QueuedAction, validate *validator.Validate) (T, error) {
	var payload T
	if len(action.Payload) == 0 {
		return payload, fmt.Errorf("%w: payload is empty", ErrInvalidPayload)
	}
	if err := json.Unmarshal(action.Payload, &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(payload); err != nil {
		return payload, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return payload, nil
}

func formatID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func attendanceRecord(p dto.MarkAttendancePayload) map[string]any {
	return map[string]any{
		"student_id":  p.StudentID,
		"class_id":    p.ClassID,
		"date":        p.Date,
		"status":      p.Status,
		"note":        p.Note,
		"recorded_by": p.RecordedBy,
	}
}

func (h *handlerSet) markAttendance(ctx context.Context, action models.QueuedAction) error {
	payload, err := decodePayload[dto.MarkAttendancePayload](action, h.validate)
	if err != nil {
		return err
	}
	record := attendanceRecord(payload)
	record["idempotency_key"] = action.IdempotencyKey
	return h.backend.Insert(ctx, resourceAttendance, record)
}

func (h *handlerSet) updateAttendance(ctx context.Context, action models.QueuedAction) error {
	payload, err := decodePayload[dto.UpdateAttendancePayload](action, h.validate)
	if err != nil {
		return err
	}
	fields := map[string]any{}
	if payload.Status != "" {
		fields["status"] = payload.Status
	}
	if payload.Note != nil {
		fields["note"] = *payload.Note
	}
	if len(fields) == 0 {
		return fmt.Errorf("%w: nothing to update", ErrInvalidPayload)
	}
	return h.backend.Update(ctx, resourceAttendance, formatID(payload.ID), fields)
}

func (h *handlerSet) bulkMarkAttendance(ctx context.Context, action models.QueuedAction) error {
	payload, err := decodePayload[dto.BulkMarkAttendancePayload](action, h.validate)
	if err != nil {
		return err
	}
	records := make([]map[string]any, 0, len(payload.Records))
	for _, item := range payload.Records {
		records = append(records, attendanceRecord(item))
	}
	return h.backend.Upsert(ctx, resourceAttendance, records, attendanceConflict)
}

func (h *handlerSet) createGrade(ctx context.Context, action models.QueuedAction) error {
	payload, err := decodePayload[dto.CreateGradePayload](action, h.validate)
	if err != nil {
		return err
	}
	return h.backend.Insert(ctx, resourceGrades, map[string]any{
		"idempotency_key": action.IdempotencyKey,
		"student_id":      payload.StudentID,
		"subject_id":      payload.SubjectID,
		"term":            payload.Term,
		"score":           payload.Score,
		"max_score":       payload.MaxScore,
		"comment":         payload.Comment,
		"graded_by":       payload.GradedBy,
	})
}

func (h *handlerSet) updateGrade(ctx context.Context, action models.QueuedAction) error {
	payload, err := decodePayload[dto.UpdateGradePayload](action, h.validate)
	if err != nil {
		return err
	}
	fields := map[string]any{}
	if payload.Score != nil {
		fields["score"] = *payload.Score
	}
	if payload.Comment != nil {
		fields["comment"] = *payload.Comment
	}
	if len(fields) == 0 {
		return fmt.Errorf("%w: nothing to update", ErrInvalidPayload)
	}
	return h.backend.Update(ctx, resourceGrades, formatID(payload.ID), fields)
}

func (h *handlerSet) upsertResults(ctx context.Context, action models.QueuedAction) error {
	payload, err := decodePayload[dto.UpsertResultsPayload](action, h.validate)
	if err != nil {
		return err
	}
	records := make([]map[string]any, 0, len(payload.Results))
	for _, result := range payload.Results {
		records = append(records, map[string]any{
			"student_id": result.StudentID,
			"exam_id":    result.ExamID,
			"subject":    result.Subject,
			"score":      result.Score,
			"grade":      result.Grade,
			"remarks":    result.Remarks,
		})
	}
	return h.backend.Upsert(ctx, resourceExamResults, records, resultConflict)
}

func (h *handlerSet) sendMessage(ctx context.Context, action models.QueuedAction) error {
	payload, err := decodePayload[dto.SendMessagePayload](action, h.validate)
	if err != nil {
		return err
	}
	body := strings.TrimSpace(h.sanitizer.Sanitize(payload.Body))
	if body == "" {
		return fmt.Errorf("%w: message body empty after sanitization", ErrInvalidPayload)
	}
	return h.backend.Insert(ctx, resourceMessages, map[string]any{
		"idempotency_key": action.IdempotencyKey,
		"sender_id":       payload.SenderID,
		"recipient_id":    payload.RecipientID,
		"subject":         strings.TrimSpace(bluemonday.StrictPolicy().Sanitize(payload.Subject)),
		"body":            body,
	})
}

func (h *handlerSet) markRead(ctx context.Context, action models.QueuedAction) error {
	payload, err := decodePayload[dto.MarkReadPayload](action, h.validate)
	if err != nil {
		return err
	}
	return h.backend.Update(ctx, resourceMessages, formatID(payload.ID), map[string]any{
		"read_at": action.Timestamp.UTC(),
	})
}

func (h *handlerSet) recordPayment(ctx context.Context, action models.QueuedAction) error {
	payload, err := decodePayload[dto.RecordPaymentPayload](action, h.validate)
	if err != nil {
		return err
	}
	return h.backend.Insert(ctx, resourcePayments, map[string]any{
		"idempotency_key": action.IdempotencyKey,
		"student_id":      payload.StudentID,
		"invoice_id":      payload.InvoiceID,
		"amount":          payload.Amount,
		"currency":        strings.ToUpper(payload.Currency),
		"method":          payload.Method,
		"status":          "recorded",
		"reference":       payload.Reference,
	})
}

func (h *handlerSet) updatePaymentStatus(ctx context.Context, action models.QueuedAction) error {
	payload, err := decodePayload[dto.UpdatePaymentStatusPayload](action, h.validate)
	if err != nil {
		return err
	}
	return h.backend.Update(ctx, resourcePayments, formatID(payload.ID), map[string]any{
		"status": payload.Status,
	})
}

func (h *handlerSet) genericInsert(ctx context.Context, action models.QueuedAction) error {
	payload, err := decodePayload[dto.GenericWritePayload](action, h.validate)
	if err != nil {
		return err
	}
	if len(payload.Record) == 0 {
		return fmt.Errorf("%w: record is required", ErrInvalidPayload)
	}
	record := make(map[string]any, len(payload.Record)+1)
	for key, value := range payload.Record {
		record[key] = value
	}
	record["idempotency_key"] = action.IdempotencyKey
	return rejectUnknownTarget(h.backend.Insert(ctx, payload.Resource, record))
}

func (h *handlerSet) genericUpdate(ctx context.Context, action models.QueuedAction) error {
	payload, err := decodePayload[dto.GenericWritePayload](action, h.validate)
	if err != nil {
		return err
	}
	if payload.ID == "" || len(payload.Record) == 0 {
		return fmt.Errorf("%w: id and record are required", ErrInvalidPayload)
	}
	return rejectUnknownTarget(h.backend.Update(ctx, payload.Resource, payload.ID, payload.Record))
}

func (h *handlerSet) genericUpsert(ctx context.Context, action models.QueuedAction) error {
	payload, err := decodePayload[dto.GenericWritePayload](action, h.validate)
	if err != nil {
		return err
	}
	records := payload.Records
	if len(records) == 0 && len(payload.Record) > 0 {
		records = []map[string]any{payload.Record}
	}
	if len(records) == 0 || len(payload.ConflictColumns) == 0 {
		return fmt.Errorf("%w: records and conflict_columns are required", ErrInvalidPayload)
	}
	return rejectUnknownTarget(h.backend.Upsert(ctx, payload.Resource, records, payload.ConflictColumns))
}

// rejectUnknownTarget marks writes naming a resource or column outside the
// mutation whitelist as invalid payloads.
func rejectUnknownTarget(err error) error {
	if errors.Is(err, repository.ErrUnknownResource) || errors.Is(err, repository.ErrUnknownColumn) {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return err
}
