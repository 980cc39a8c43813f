// Package queue persists pending actions until the sync orchestrator replays them.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/gema-sync/internal/models"
)

var (
	// ErrStoreUnavailable indicates the underlying storage could not be used; an
	// action that failed to enqueue with this error was not queued.
	ErrStoreUnavailable = errors.New("queue store unavailable")
	// ErrActionNotFound indicates no action with the given id is stored.
	ErrActionNotFound = errors.New("queued action not found")
	// ErrRetryCountRegression indicates an update tried to lower an action's retry count.
	ErrRetryCountRegression = errors.New("retry count must not decrease")
	// ErrDuplicateAction indicates an action with the same id is already stored.
	ErrDuplicateAction = errors.New("queued action already exists")

	errStoreClosed = errors.New("store closed")
)

// Store is the durable, keyed collection of pending actions. ListAll returns
// actions in insertion order.
type Store interface {
	Enqueue(ctx context.Context, action *models.QueuedAction) (string, error)
	ListAll(ctx context.Context) ([]models.QueuedAction, error)
	Get(ctx context.Context, id string) (models.QueuedAction, error)
	Update(ctx context.Context, action models.QueuedAction) error
	Remove(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	Close() error
}

// NewActionID returns a time-ordered unique id (UUIDv7), so lexical order matches
// creation order.
func NewActionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// prepare fills generated fields before the first write.
func prepare(action *models.QueuedAction, now time.Time) error {
	if action == nil {
		return errors.New("queued action must not be nil")
	}
	if action.ID == "" {
		action.ID = NewActionID()
	}
	if action.IdempotencyKey == "" {
		action.IdempotencyKey = action.ID
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = now.UTC()
	}
	if action.RetryCount < 0 {
		action.RetryCount = 0
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
