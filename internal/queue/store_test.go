package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/noah-isme/gema-sync/internal/models"
)

func newAction(action string) *models.QueuedAction {
	return &models.QueuedAction{
		Type:    models.ActionTypeAttendance,
		Action:  action,
		Payload: json.RawMessage(`{"student_id":1}`),
	}
}

func openSQLite(t *testing.T, dsn string) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	return db
}

func memoryDSN(t *testing.T) string {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
}

func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"pebble": func(t *testing.T) Store {
			store, err := OpenPebbleStore(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
		"sqlite": func(t *testing.T) Store {
			db := openSQLite(t, memoryDSN(t))
			store, err := NewGormStore(db, WithOwnedConnection())
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
		"redis": func(t *testing.T) Store {
			server := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: server.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			store, err := NewRedisStore(client, "")
			require.NoError(t, err)
			return store
		},
	}
}

func TestStoreConformance(t *testing.T) {
	for name, factory := range storeFactories() {
		factory := factory
		t.Run(name, func(t *testing.T) {
			t.Run("EnqueueAssignsFields", func(t *testing.T) {
				store := factory(t)
				ctx := context.Background()

				action := newAction("mark_attendance")
				id, err := store.Enqueue(ctx, action)
				require.NoError(t, err)
				require.NotEmpty(t, id)
				require.Equal(t, id, action.ID)
				require.Equal(t, id, action.IdempotencyKey)
				require.False(t, action.Timestamp.IsZero())

				stored, err := store.Get(ctx, id)
				require.NoError(t, err)
				require.Equal(t, models.ActionTypeAttendance, stored.Type)
				require.Equal(t, "mark_attendance", stored.Action)
				require.Equal(t, 0, stored.RetryCount)
				require.JSONEq(t, `{"student_id":1}`, string(stored.Payload))
				require.WithinDuration(t, action.Timestamp, stored.Timestamp, time.Millisecond)
			})

			t.Run("ListAllKeepsInsertionOrder", func(t *testing.T) {
				store := factory(t)
				ctx := context.Background()

				for _, id := range []string{"c", "a", "b"} {
					action := newAction("mark_attendance")
					action.ID = id
					_, err := store.Enqueue(ctx, action)
					require.NoError(t, err)
				}

				actions, err := store.ListAll(ctx)
				require.NoError(t, err)
				require.Len(t, actions, 3)
				require.Equal(t, "c", actions[0].ID)
				require.Equal(t, "a", actions[1].ID)
				require.Equal(t, "b", actions[2].ID)
			})

			t.Run("EmptyListIsNotNil", func(t *testing.T) {
				store := factory(t)

				actions, err := store.ListAll(context.Background())
				require.NoError(t, err)
				require.NotNil(t, actions)
				require.Empty(t, actions)
			})

			t.Run("DuplicateIDRejected", func(t *testing.T) {
				store := factory(t)
				ctx := context.Background()

				first := newAction("mark_attendance")
				first.ID = "dup"
				_, err := store.Enqueue(ctx, first)
				require.NoError(t, err)

				second := newAction("update_attendance")
				second.ID = "dup"
				_, err = store.Enqueue(ctx, second)
				require.ErrorIs(t, err, ErrDuplicateAction)

				count, err := store.Count(ctx)
				require.NoError(t, err)
				require.Equal(t, 1, count)
			})

			t.Run("UpdateRetryCount", func(t *testing.T) {
				store := factory(t)
				ctx := context.Background()

				action := newAction("mark_attendance")
				id, err := store.Enqueue(ctx, action)
				require.NoError(t, err)

				updated := *action
				updated.RetryCount = 2
				updated.LastError = "backend unavailable"
				require.NoError(t, store.Update(ctx, updated))

				stored, err := store.Get(ctx, id)
				require.NoError(t, err)
				require.Equal(t, 2, stored.RetryCount)
				require.Equal(t, "backend unavailable", stored.LastError)

				updated.RetryCount = 1
				require.ErrorIs(t, store.Update(ctx, updated), ErrRetryCountRegression)

				missing := updated
				missing.ID = "missing"
				require.ErrorIs(t, store.Update(ctx, missing), ErrActionNotFound)
			})

			t.Run("RemoveAndCount", func(t *testing.T) {
				store := factory(t)
				ctx := context.Background()

				first, err := store.Enqueue(ctx, newAction("one"))
				require.NoError(t, err)
				_, err = store.Enqueue(ctx, newAction("two"))
				require.NoError(t, err)

				count, err := store.Count(ctx)
				require.NoError(t, err)
				require.Equal(t, 2, count)

				require.NoError(t, store.Remove(ctx, first))
				require.ErrorIs(t, store.Remove(ctx, first), ErrActionNotFound)
				_, err = store.Get(ctx, first)
				require.ErrorIs(t, err, ErrActionNotFound)

				actions, err := store.ListAll(ctx)
				require.NoError(t, err)
				require.Len(t, actions, 1)
				require.Equal(t, "two", actions[0].Action)
			})

			t.Run("Clear", func(t *testing.T) {
				store := factory(t)
				ctx := context.Background()

				for i := 0; i < 3; i++ {
					_, err := store.Enqueue(ctx, newAction("bulk"))
					require.NoError(t, err)
				}
				require.NoError(t, store.Clear(ctx))

				count, err := store.Count(ctx)
				require.NoError(t, err)
				require.Zero(t, count)

				id, err := store.Enqueue(ctx, newAction("after_clear"))
				require.NoError(t, err)
				actions, err := store.ListAll(ctx)
				require.NoError(t, err)
				require.Len(t, actions, 1)
				require.Equal(t, id, actions[0].ID)
			})

			t.Run("ClosedStoreIsUnavailable", func(t *testing.T) {
				store := factory(t)
				ctx := context.Background()
				require.NoError(t, store.Close())

				_, err := store.Enqueue(ctx, newAction("late"))
				require.ErrorIs(t, err, ErrStoreUnavailable)
				_, err = store.ListAll(ctx)
				require.ErrorIs(t, err, ErrStoreUnavailable)
				_, err = store.Count(ctx)
				require.ErrorIs(t, err, ErrStoreUnavailable)
			})
		})
	}
}

func TestPebbleStoreSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := OpenPebbleStore(dir)
	require.NoError(t, err)
	first, err := store.Enqueue(ctx, newAction("mark_attendance"))
	require.NoError(t, err)
	second, err := store.Enqueue(ctx, newAction("update_attendance"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := OpenPebbleStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	third, err := reopened.Enqueue(ctx, newAction("send_message"))
	require.NoError(t, err)

	actions, err := reopened.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 3)
	require.Equal(t, []string{first, second, third}, []string{actions[0].ID, actions[1].ID, actions[2].ID})
}

func TestGormStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	store, err := NewGormStore(openSQLite(t, path), WithOwnedConnection())
	require.NoError(t, err)
	id, err := store.Enqueue(ctx, newAction("record_payment"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewGormStore(openSQLite(t, path), WithOwnedConnection())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	stored, err := reopened.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "record_payment", stored.Action)
}

func TestOpenSelectsDriver(t *testing.T) {
	store, err := Open(OpenOptions{Driver: DriverMemory})
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, store)

	store, err = Open(OpenOptions{Driver: "PEBBLE", PebblePath: t.TempDir()})
	require.NoError(t, err)
	require.IsType(t, &PebbleStore{}, store)
	require.NoError(t, store.Close())

	_, err = Open(OpenOptions{Driver: DriverRedis})
	require.Error(t, err)

	_, err = Open(OpenOptions{Driver: "etcd"})
	require.Error(t, err)
}

// droppingHook fails the named commands while enabled, as a broken connection would.
type droppingHook struct {
	enabled  atomic.Bool
	commands map[string]struct{}
}

func (h *droppingHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *droppingHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if _, ok := h.commands[cmd.Name()]; ok && h.enabled.Load() {
			err := errors.New("connection reset")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (h *droppingHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisStoreEnqueueLeavesNoPartialRecord(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	hook := &droppingHook{commands: map[string]struct{}{"evalsha": {}, "eval": {}}}
	client.AddHook(hook)

	store, err := NewRedisStore(client, "")
	require.NoError(t, err)
	ctx := context.Background()

	kept, err := store.Enqueue(ctx, newAction("mark_attendance"))
	require.NoError(t, err)

	hook.enabled.Store(true)
	_, err = store.Enqueue(ctx, newAction("update_attendance"))
	require.ErrorIs(t, err, ErrStoreUnavailable)
	hook.enabled.Store(false)

	actions, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, kept, actions[0].ID)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, len(actions), count)

	// A hash row without an order entry is never replayed, so it is not pending.
	server.HSet(DefaultRedisPrefix+":actions", "stray", "{}")
	count, err = store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
