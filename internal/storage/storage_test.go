package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamrelay/internal/history"
	logx "streamrelay/pkg/logx"
)

func sampleEntries() []history.Entry {
	ts := time.UnixMilli(1_700_000_000_000).UTC()
	return []history.Entry{
		{Key: history.Key{ServerID: "g1", ChannelName: "live_streams", SubjectID: "42"}, MessageID: "m1", UpdatedAt: ts},
		{Key: history.Key{ServerID: "g1", ChannelName: "live", SubjectID: "streams_42"}, MessageID: "m2", UpdatedAt: ts},
	}
}

func roundTrip(t *testing.T, be history.Backend) {
	t.Helper()
	ctx := context.Background()

	got, err := be.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	want := sampleEntries()
	require.NoError(t, be.Save(ctx, want))
	got, err = be.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []string{"m1", "m2"}, []string{got[0].MessageID, got[1].MessageID})
	for _, e := range got {
		assert.True(t, e.UpdatedAt.Equal(want[0].UpdatedAt))
	}

	require.NoError(t, be.Save(ctx, want[:1]))
	got, err = be.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1, "save replaces the previous snapshot")
	assert.Equal(t, want[0].Key, got[0].Key)
}

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.json")
	be, err := Open(context.Background(), Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = be.Close() })

	roundTrip(t, be)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFileBackendRejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99, "entries": []}`), 0o600))
	be, err := Open(context.Background(), Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	_, err = be.Load(context.Background())
	require.Error(t, err)
}

func TestSQLiteBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	be, err := Open(context.Background(), Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = be.Close() })

	roundTrip(t, be)
}

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()

	be, err := Open(ctx, Config{Driver: "memory"}, logx.Logger{})
	require.NoError(t, err)
	assert.Nil(t, be)

	_, err = Open(ctx, Config{Driver: "redis"}, logx.Nop())
	assert.ErrorIs(t, err, ErrUnknownDriver)

	_, err = Open(ctx, Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(ctx, Config{Driver: "gcs"}, logx.Nop())
	assert.Error(t, err)
}

func TestHistoryStoreOverFileBackend(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.json")
	be, err := Open(ctx, Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)

	s := history.NewStore(be)
	k := history.Key{ServerID: "g1", ChannelName: "live", SubjectID: "42"}
	s.Put(k, "m1")
	require.NoError(t, s.Close(ctx))

	be2, err := Open(ctx, Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	s2 := history.NewStore(be2)
	require.NoError(t, s2.Load(ctx))
	id, ok := s2.Get(k)
	require.True(t, ok)
	assert.Equal(t, "m1", id)
}
