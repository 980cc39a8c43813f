package queue

import (
	"context"
	"sync"
	"time"

	"github.com/noah-isme/gema-sync/internal/models"
)

// MemoryStore keeps actions in process memory. It is not durable and is meant for
// tests and ephemeral kiosks.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string]models.QueuedAction
	order  []string
	closed bool
	now    func() time.Time
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]models.QueuedAction),
		now:   time.Now,
	}
}

func (s *MemoryStore) Enqueue(_ context.Context, action *models.QueuedAction) (string, error) {
	if err := prepare(action, s.now()); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", unavailable("enqueue", errStoreClosed)
	}
	if _, exists := s.items[action.ID]; exists {
		return "", ErrDuplicateAction
	}
	s.items[action.ID] = cloneAction(*action)
	s.order = append(s.order, action.ID)
	return action.ID, nil
}

func (s *MemoryStore) ListAll(context.Context) ([]models.QueuedAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, unavailable("list", errStoreClosed)
	}
	actions := make([]models.QueuedAction, 0, len(s.order))
	for _, id := range s.order {
		actions = append(actions, cloneAction(s.items[id]))
	}
	return actions, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (models.QueuedAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return models.QueuedAction{}, unavailable("get", errStoreClosed)
	}
	action, ok := s.items[id]
	if !ok {
		return models.QueuedAction{}, ErrActionNotFound
	}
	return cloneAction(action), nil
}

func (s *MemoryStore) Update(_ context.Context, action models.QueuedAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return unavailable("update", errStoreClosed)
	}
	existing, ok := s.items[action.ID]
	if !ok {
		return ErrActionNotFound
	}
	if action.RetryCount < existing.RetryCount {
		return ErrRetryCountRegression
	}
	s.items[action.ID] = cloneAction(action)
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return unavailable("remove", errStoreClosed)
	}
	if _, ok := s.items[id]; !ok {
		return ErrActionNotFound
	}
	delete(s.items, id)
	for i, candidate := range s.order {
		if candidate == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, unavailable("count", errStoreClosed)
	}
	return len(s.items), nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return unavailable("clear", errStoreClosed)
	}
	s.items = make(map[string]models.QueuedAction)
	s.order = nil
	return nil
}

// Close makes every later operation fail with ErrStoreUnavailable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func cloneAction(action models.QueuedAction) models.QueuedAction {
	if action.Payload != nil {
		payload := make([]byte, len(action.Payload))
		copy(payload, action.Payload)
		action.Payload = payload
	}
	return action
}
