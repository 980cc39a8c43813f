package queue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/noah-isme/gema-sync/internal/models"
)

// Key layout:
//
//	queue/seq/{8-byte big-endian sequence} -> action JSON
//	queue/id/{action id}                   -> 8-byte sequence
var (
	seqPrefix = []byte("queue/seq/")
	idPrefix  = []byte("queue/id/")
)

// PebbleStore is the default local store. Every write is committed with pebble.Sync
// so an acknowledged enqueue survives an unclean shutdown.
type PebbleStore struct {
	mu      sync.Mutex
	db      *pebble.DB
	nextSeq uint64
	closed  bool
	now     func() time.Time
}

// OpenPebbleStore opens or creates a store under dir.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	if dir == "" {
		return nil, errors.New("pebble queue directory must not be empty")
	}

	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, unavailable("open pebble queue", err)
	}

	store := &PebbleStore{db: db, now: time.Now}
	last, err := store.lastSequence()
	if err != nil {
		_ = db.Close()
		return nil, unavailable("open pebble queue", err)
	}
	store.nextSeq = last + 1
	return store, nil
}

func (s *PebbleStore) lastSequence() (uint64, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: seqPrefix, UpperBound: prefixUpperBound(seqPrefix)})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return decodeSeq(iter.Key()[len(seqPrefix):])
}

func (s *PebbleStore) Enqueue(_ context.Context, action *models.QueuedAction) (string, error) {
	if err := prepare(action, s.now()); err != nil {
		return "", err
	}
	data, err := json.Marshal(action)
	if err != nil {
		return "", fmt.Errorf("encode queued action: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", unavailable("enqueue", errStoreClosed)
	}
	if _, err := s.seqOf(action.ID); err == nil {
		return "", ErrDuplicateAction
	} else if !errors.Is(err, ErrActionNotFound) {
		return "", unavailable("enqueue", err)
	}

	seq := encodeSeq(s.nextSeq)
	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(seqKey(seq), data, nil); err != nil {
		return "", unavailable("enqueue", err)
	}
	if err := batch.Set(idKey(action.ID), seq, nil); err != nil {
		return "", unavailable("enqueue", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return "", unavailable("enqueue", err)
	}

	s.nextSeq++
	return action.ID, nil
}

func (s *PebbleStore) ListAll(context.Context) ([]models.QueuedAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, unavailable("list", errStoreClosed)
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: seqPrefix, UpperBound: prefixUpperBound(seqPrefix)})
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer iter.Close()

	actions := make([]models.QueuedAction, 0)
	for valid := iter.First(); valid; valid = iter.Next() {
		var action models.QueuedAction
		if err := json.Unmarshal(iter.Value(), &action); err != nil {
			return nil, fmt.Errorf("decode queued action %x: %w", iter.Key(), err)
		}
		actions = append(actions, action)
	}
	if err := iter.Error(); err != nil {
		return nil, unavailable("list", err)
	}
	return actions, nil
}

func (s *PebbleStore) Get(_ context.Context, id string) (models.QueuedAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return models.QueuedAction{}, unavailable("get", errStoreClosed)
	}
	_, action, err := s.load(id)
	return action, err
}

func (s *PebbleStore) Update(_ context.Context, action models.QueuedAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return unavailable("update", errStoreClosed)
	}
	seq, existing, err := s.load(action.ID)
	if err != nil {
		return err
	}
	if action.RetryCount < existing.RetryCount {
		return ErrRetryCountRegression
	}

	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("encode queued action: %w", err)
	}
	if err := s.db.Set(seqKey(seq), data, pebble.Sync); err != nil {
		return unavailable("update", err)
	}
	return nil
}

func (s *PebbleStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return unavailable("remove", errStoreClosed)
	}
	seq, err := s.seqOf(id)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete(seqKey(seq), nil); err != nil {
		return unavailable("remove", err)
	}
	if err := batch.Delete(idKey(id), nil); err != nil {
		return unavailable("remove", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return unavailable("remove", err)
	}
	return nil
}

func (s *PebbleStore) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, unavailable("count", errStoreClosed)
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: idPrefix, UpperBound: prefixUpperBound(idPrefix)})
	if err != nil {
		return 0, unavailable("count", err)
	}
	defer iter.Close()

	count := 0
	for valid := iter.First(); valid; valid = iter.Next() {
		count++
	}
	if err := iter.Error(); err != nil {
		return 0, unavailable("count", err)
	}
	return count, nil
}

func (s *PebbleStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return unavailable("clear", errStoreClosed)
	}
	for _, prefix := range [][]byte{seqPrefix, idPrefix} {
		if err := s.db.DeleteRange(prefix, prefixUpperBound(prefix), pebble.Sync); err != nil {
			return unavailable("clear", err)
		}
	}
	return nil
}

// Close flushes and closes the database. Later calls fail with ErrStoreUnavailable.
func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *PebbleStore) seqOf(id string) ([]byte, error) {
	value, closer, err := s.db.Get(idKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrActionNotFound
		}
		return nil, unavailable("lookup", err)
	}
	defer closer.Close()
	return append([]byte(nil), value...), nil
}

func (s *PebbleStore) load(id string) ([]byte, models.QueuedAction, error) {
	seq, err := s.seqOf(id)
	if err != nil {
		return nil, models.QueuedAction{}, err
	}

	value, closer, err := s.db.Get(seqKey(seq))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, models.QueuedAction{}, ErrActionNotFound
		}
		return nil, models.QueuedAction{}, unavailable("load", err)
	}
	defer closer.Close()

	var action models.QueuedAction
	if err := json.Unmarshal(value, &action); err != nil {
		return nil, models.QueuedAction{}, fmt.Errorf("decode queued action %s: %w", id, err)
	}
	return seq, action, nil
}

func seqKey(seq []byte) []byte {
	key := make([]byte, 0, len(seqPrefix)+len(seq))
	key = append(key, seqPrefix...)
	return append(key, seq...)
}

func idKey(id string) []byte {
	key := make([]byte, 0, len(idPrefix)+len(id))
	key = append(key, idPrefix...)
	return append(key, id...)
}

func encodeSeq(seq uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return buf[:]
}

func decodeSeq(raw []byte) (uint64, error) {
	if len(raw) != 8 {
		return 0, fmt.Errorf("malformed sequence key of length %d", len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}

func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}
