package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-sync/internal/models"
)

// queuedActionRecord is the relational row for a pending action. Seq preserves
// insertion order independently of the id format.
type queuedActionRecord struct {
	Seq            uint           `gorm:"primaryKey;autoIncrement"`
	ActionID       string         `gorm:"size:64;uniqueIndex;not null"`
	Type           string         `gorm:"size:32;not null"`
	Action         string         `gorm:"size:64;not null"`
	Payload        datatypes.JSON `gorm:"type:json"`
	IdempotencyKey string         `gorm:"size:128;not null"`
	Timestamp      time.Time      `gorm:"not null"`
	RetryCount     int            `gorm:"not null;default:0"`
	LastError      string         `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (queuedActionRecord) TableName() string {
	return "queued_actions"
}

func (r queuedActionRecord) toModel() models.QueuedAction {
	return models.QueuedAction{
		ID:             r.ActionID,
		Type:           models.ActionType(r.Type),
		Action:         r.Action,
		Payload:        append([]byte(nil), r.Payload...),
		IdempotencyKey: r.IdempotencyKey,
		Timestamp:      r.Timestamp.UTC(),
		RetryCount:     r.RetryCount,
		LastError:      r.LastError,
	}
}

// GormStore keeps the queue in a SQL table, usable with SQLite on devices and
// Postgres on shared kiosks.
type GormStore struct {
	db     *gorm.DB
	closed atomic.Bool
	owned  bool
	now    func() time.Time
}

// GormOption configures a GormStore.
type GormOption func(*GormStore)

// WithOwnedConnection makes Close also close the underlying connection pool.
func WithOwnedConnection() GormOption {
	return func(s *GormStore) {
		s.owned = true
	}
}

// NewGormStore migrates the queue table and returns a store backed by db.
func NewGormStore(db *gorm.DB, opts ...GormOption) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("gorm queue requires a database handle")
	}
	if err := db.AutoMigrate(&queuedActionRecord{}); err != nil {
		return nil, unavailable("migrate queue table", err)
	}

	store := &GormStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

func (s *GormStore) Enqueue(ctx context.Context, action *models.QueuedAction) (string, error) {
	if err := prepare(action, s.now()); err != nil {
		return "", err
	}
	if s.closed.Load() {
		return "", unavailable("enqueue", errStoreClosed)
	}

	record := queuedActionRecord{
		ActionID:       action.ID,
		Type:           string(action.Type),
		Action:         action.Action,
		Payload:        datatypes.JSON(action.Payload),
		IdempotencyKey: action.IdempotencyKey,
		Timestamp:      action.Timestamp.UTC(),
		RetryCount:     action.RetryCount,
		LastError:      action.LastError,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&queuedActionRecord{}).Where("action_id = ?", action.ID).Count(&existing).Error; err != nil {
			return unavailable("enqueue", err)
		}
		if existing > 0 {
			return ErrDuplicateAction
		}
		if err := tx.Create(&record).Error; err != nil {
			return unavailable("enqueue", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return action.ID, nil
}

func (s *GormStore) ListAll(ctx context.Context) ([]models.QueuedAction, error) {
	if s.closed.Load() {
		return nil, unavailable("list", errStoreClosed)
	}

	var records []queuedActionRecord
	if err := s.db.WithContext(ctx).Order("seq ASC").Find(&records).Error; err != nil {
		return nil, unavailable("list", err)
	}

	actions := make([]models.QueuedAction, 0, len(records))
	for _, record := range records {
		actions = append(actions, record.toModel())
	}
	return actions, nil
}

func (s *GormStore) Get(ctx context.Context, id string) (models.QueuedAction, error) {
	if s.closed.Load() {
		return models.QueuedAction{}, unavailable("get", errStoreClosed)
	}

	var record queuedActionRecord
	if err := s.db.WithContext(ctx).Where("action_id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.QueuedAction{}, ErrActionNotFound
		}
		return models.QueuedAction{}, unavailable("get", err)
	}
	return record.toModel(), nil
}

func (s *GormStore) Update(ctx context.Context, action models.QueuedAction) error {
	if s.closed.Load() {
		return unavailable("update", errStoreClosed)
	}

	result := s.db.WithContext(ctx).
		Model(&queuedActionRecord{}).
		Where("action_id = ? AND retry_count <= ?", action.ID, action.RetryCount).
		Updates(map[string]any{
			"type":            string(action.Type),
			"action":          action.Action,
			"payload":         datatypes.JSON(action.Payload),
			"idempotency_key": action.IdempotencyKey,
			"retry_count":     action.RetryCount,
			"last_error":      action.LastError,
		})
	if result.Error != nil {
		return unavailable("update", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	if _, err := s.Get(ctx, action.ID); err != nil {
		return err
	}
	return ErrRetryCountRegression
}

func (s *GormStore) Remove(ctx context.Context, id string) error {
	if s.closed.Load() {
		return unavailable("remove", errStoreClosed)
	}

	result := s.db.WithContext(ctx).Where("action_id = ?", id).Delete(&queuedActionRecord{})
	if result.Error != nil {
		return unavailable("remove", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrActionNotFound
	}
	return nil
}

func (s *GormStore) Count(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, unavailable("count", errStoreClosed)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&queuedActionRecord{}).Count(&count).Error; err != nil {
		return 0, unavailable("count", err)
	}
	return int(count), nil
}

func (s *GormStore) Clear(ctx context.Context) error {
	if s.closed.Load() {
		return unavailable("clear", errStoreClosed)
	}

	if err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&queuedActionRecord{}).Error; err != nil {
		return unavailable("clear", err)
	}
	return nil
}

func (s *GormStore) Close() error {
	if s.closed.Swap(true) || !s.owned {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("resolve queue connection: %w", err)
	}
	return sqlDB.Close()
}
