package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"

	"lavaqueue/cache"
	"lavaqueue/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (m *memObjects) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memObjects) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return data, nil
}

func (m *memObjects) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObjectInfo
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func newQueueCache(t *testing.T) *cache.QueueCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewQueueCache(client)
}

func seed(t *testing.T, c *cache.QueueCache, guildID string, items ...string) *model.SessionSnapshot {
	t.Helper()
	snap := &model.SessionSnapshot{
		GuildID: guildID,
		Player:  model.PlayerState{Node: "main", LoopType: model.LoopQueue},
		Current: model.NewTrack("enc-now", model.TrackInfo{Title: "now"}),
	}
	for _, title := range items {
		snap.Items = append(snap.Items, model.NewPartialTrack(title, "artist"))
	}
	require.NoError(t, c.RestoreSession(context.Background(), snap))
	return snap
}

func TestBackupAndRestoreSessions(t *testing.T) {
	ctx := context.Background()
	src := newQueueCache(t)
	a := seed(t, src, "111", "x", "y")
	b := seed(t, src, "222")

	objects := newMemObjects()
	n, err := BackupSessions(ctx, src, objects)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, objects.objects, "sessions/111.json")
	assert.Contains(t, objects.objects, "sessions/222.json")

	// 无关对象不会被当作快照
	require.NoError(t, objects.Put(ctx, "sessions/readme.txt", []byte("hi")))

	dst := newQueueCache(t)
	n, err = RestoreSessions(ctx, dst, objects)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := dst.LoadSession(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, a, got)
	got, err = dst.LoadSession(ctx, "222")
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestRestoreReplacesExistingQueue(t *testing.T) {
	ctx := context.Background()
	store := newQueueCache(t)
	seed(t, store, "111", "old-1", "old-2", "old-3")

	objects := newMemObjects()
	backup := newQueueCache(t)
	want := seed(t, backup, "111", "new")
	_, err := BackupSessions(ctx, backup, objects, "111")
	require.NoError(t, err)

	n, err := RestoreSessions(ctx, store, objects, "111", "999")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "missing snapshots are skipped")

	got, err := store.LoadSession(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestBackupSkipsUnknownGuild(t *testing.T) {
	objects := newMemObjects()
	n, err := BackupSessions(context.Background(), newQueueCache(t), objects, "404")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, objects.objects)
}

func TestRestoreRejectsCorruptSnapshot(t *testing.T) {
	objects := newMemObjects()
	require.NoError(t, objects.Put(context.Background(), BackupKey("111"), []byte("{not json")))

	_, err := RestoreSessions(context.Background(), newQueueCache(t), objects)
	assert.Error(t, err)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.5 KB", FormatSize(1536))
	assert.Equal(t, "2.0 MB", FormatSize(2*1024*1024))
}
