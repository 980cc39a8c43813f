package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/gema-sync/internal/models"
)

// DefaultRedisPrefix namespaces the queue keys.
const DefaultRedisPrefix = "gema:sync"

const redisUpdateAttempts = 5

// enqueueScript writes the record and its order entry in one step so the hash
// and the sorted set never disagree.
var enqueueScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 1 then
	return 0
end
local seq = redis.call("INCR", KEYS[3])
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("ZADD", KEYS[2], seq, ARGV[1])
return 1
`)

// RedisStore keeps actions in a hash keyed by id with a sorted set holding
// insertion order, scored by a monotonically increasing sequence.
type RedisStore struct {
	client   *redis.Client
	itemsKey string
	orderKey string
	seqKey   string
	closed   atomic.Bool
	now      func() time.Time
}

// NewRedisStore builds a store on top of an existing client. The client's
// lifecycle stays with the caller.
func NewRedisStore(client *redis.Client, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis queue requires a client")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{
		client:   client,
		itemsKey: prefix + ":actions",
		orderKey: prefix + ":order",
		seqKey:   prefix + ":seq",
		now:      time.Now,
	}, nil
}

func (s *RedisStore) Enqueue(ctx context.Context, action *models.QueuedAction) (string, error) {
	if err := prepare(action, s.now()); err != nil {
		return "", err
	}
	if s.closed.Load() {
		return "", unavailable("enqueue", errStoreClosed)
	}

	data, err := json.Marshal(action)
	if err != nil {
		return "", fmt.Errorf("encode queued action: %w", err)
	}

	created, err := enqueueScript.Run(ctx, s.client, []string{s.itemsKey, s.orderKey, s.seqKey}, action.ID, data).Int()
	if err != nil {
		return "", unavailable("enqueue", err)
	}
	if created == 0 {
		return "", ErrDuplicateAction
	}
	return action.ID, nil
}

func (s *RedisStore) ListAll(ctx context.Context) ([]models.QueuedAction, error) {
	if s.closed.Load() {
		return nil, unavailable("list", errStoreClosed)
	}

	ids, err := s.client.ZRange(ctx, s.orderKey, 0, -1).Result()
	if err != nil {
		return nil, unavailable("list", err)
	}
	actions := make([]models.QueuedAction, 0, len(ids))
	if len(ids) == 0 {
		return actions, nil
	}

	values, err := s.client.HMGet(ctx, s.itemsKey, ids...).Result()
	if err != nil {
		return nil, unavailable("list", err)
	}
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			// Removed between the two reads.
			continue
		}
		var action models.QueuedAction
		if err := json.Unmarshal([]byte(raw), &action); err != nil {
			return nil, fmt.Errorf("decode queued action %s: %w", ids[i], err)
		}
		actions = append(actions, action)
	}
	return actions, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (models.QueuedAction, error) {
	if s.closed.Load() {
		return models.QueuedAction{}, unavailable("get", errStoreClosed)
	}
	return s.load(ctx, s.client, id)
}

func (s *RedisStore) load(ctx context.Context, cmd redis.Cmdable, id string) (models.QueuedAction, error) {
	raw, err := cmd.HGet(ctx, s.itemsKey, id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.QueuedAction{}, ErrActionNotFound
		}
		return models.QueuedAction{}, unavailable("get", err)
	}

	var action models.QueuedAction
	if err := json.Unmarshal([]byte(raw), &action); err != nil {
		return models.QueuedAction{}, fmt.Errorf("decode queued action %s: %w", id, err)
	}
	return action, nil
}

func (s *RedisStore) Update(ctx context.Context, action models.QueuedAction) error {
	if s.closed.Load() {
		return unavailable("update", errStoreClosed)
	}

	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("encode queued action: %w", err)
	}

	txn := func(tx *redis.Tx) error {
		existing, err := s.load(ctx, tx, action.ID)
		if err != nil {
			return err
		}
		if action.RetryCount < existing.RetryCount {
			return ErrRetryCountRegression
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.itemsKey, action.ID, data)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisUpdateAttempts; attempt++ {
		err = s.client.Watch(ctx, txn, s.itemsKey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrActionNotFound), errors.Is(err, ErrRetryCountRegression), errors.Is(err, ErrStoreUnavailable):
		return err
	default:
		return unavailable("update", err)
	}
}

func (s *RedisStore) Remove(ctx context.Context, id string) error {
	if s.closed.Load() {
		return unavailable("remove", errStoreClosed)
	}

	var deleted *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.HDel(ctx, s.itemsKey, id)
		pipe.ZRem(ctx, s.orderKey, id)
		return nil
	})
	if err != nil {
		return unavailable("remove", err)
	}
	if deleted.Val() == 0 {
		return ErrActionNotFound
	}
	return nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, unavailable("count", errStoreClosed)
	}

	count, err := s.client.ZCard(ctx, s.orderKey).Result()
	if err != nil {
		return 0, unavailable("count", err)
	}
	return int(count), nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if s.closed.Load() {
		return unavailable("clear", errStoreClosed)
	}

	if err := s.client.Del(ctx, s.itemsKey, s.orderKey).Err(); err != nil {
		return unavailable("clear", err)
	}
	return nil
}

// Close detaches the store; the shared client is left open.
func (s *RedisStore) Close() error {
	s.closed.Store(true)
	return nil
}
