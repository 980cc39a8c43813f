package database

import (
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestConnectSQLiteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "queue.db")

	db, err := ConnectSQLite(path)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Ping())
	require.NoError(t, sqlDB.Close())
}

func TestConnectRedis(t *testing.T) {
	srv := miniredis.RunT(t)

	client, err := ConnectRedis("redis://" + srv.Addr())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = ConnectRedis("")
	require.Error(t, err)
}

func TestConnectorsRejectEmptyTargets(t *testing.T) {
	_, err := ConnectPostgres("")
	require.Error(t, err)

	_, err = ConnectSQLite("")
	require.Error(t, err)

	_, err = ConnectNATS("", "agent", NATSHooks{}, zerolog.Nop())
	require.Error(t, err)
}
