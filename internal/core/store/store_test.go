package store

import (
	"context"
	"testing"
	"time"

	"github.com/mailsched/mailsched/internal/config"
	"github.com/stretchr/testify/require"
)

func TestBuildLibsqlDSN(t *testing.T) {
	t.Run("URLUsesRawValue", func(t *testing.T) {
		cfg := config.StoreConfig{
			URL:       "libsql://example.turso.io",
			AuthToken: "token123",
		}

		dsn, err := resolveDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "libsql://example.turso.io?authToken=token123", dsn)
	})

	t.Run("URLWithExistingQuery", func(t *testing.T) {
		cfg := config.StoreConfig{
			URL:       "libsql://example.turso.io?foo=bar",
			AuthToken: "token123",
		}

		dsn, err := resolveDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "libsql://example.turso.io?authToken=token123&foo=bar", dsn)
	})

	t.Run("PathWithFilePrefix", func(t *testing.T) {
		cfg := config.StoreConfig{Path: "file:./mailsched.db"}

		dsn, err := resolveDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "file:./mailsched.db", dsn)
	})

	t.Run("PathMissing", func(t *testing.T) {
		cfg := config.StoreConfig{}

		_, err := resolveDSN(cfg)
		require.Error(t, err)
	})

	t.Run("MemoryPath", func(t *testing.T) {
		cfg := config.StoreConfig{Path: ":memory:"}

		dsn, err := resolveDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, ":memory:", dsn)
	})

	t.Run("PlainPathBecomesFileDSN", func(t *testing.T) {
		dir := t.TempDir()
		cfg := config.StoreConfig{Path: dir + "/data/mailsched.db"}

		dsn, err := resolveDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "file:"+dir+"/data/mailsched.db", dsn)
		require.DirExists(t, dir+"/data")
	})

	t.Run("RemoteLibsqlPathUntouched", func(t *testing.T) {
		cfg := config.StoreConfig{Path: "libsql://db.example.com"}

		dsn, err := resolveDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "libsql://db.example.com", dsn)
	})
}

func TestNilStore(t *testing.T) {
	var s *Store
	require.Error(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	require.False(t, s.Local())
	require.Empty(t, s.Driver())
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "postgres", Path: ":memory:"})
	require.ErrorContains(t, err, "unsupported store driver")
}

func TestNewNameIsOrdered(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a, err := NewName(now)
	require.NoError(t, err)
	b, err := NewName(now)
	require.NoError(t, err)
	require.Len(t, a, 26)
	require.Less(t, a, b)
}

func TestAddressListEncoding(t *testing.T) {
	raw, err := encodeList(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", raw)

	raw, err = encodeList([]string{"a@example.com", "b@example.com"})
	require.NoError(t, err)
	list, err := decodeList(raw)
	require.NoError(t, err)
	require.Equal(t, []string{"a@example.com", "b@example.com"}, list)

	_, err = decodeList("not json")
	require.Error(t, err)
}
