package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lavaqueue/cache"
	"lavaqueue/core/node"
	"lavaqueue/core/player"
	"lavaqueue/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// dryRunDB 生成 SQL 但不连接数据库
func dryRunDB(t *testing.T) (*gorm.DB, *[]string) {
	t.Helper()
	gdb, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "user:pass@tcp(127.0.0.1:3306)/lavaqueue?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	require.NoError(t, err)

	var mu sync.Mutex
	var statements []string
	capture := func(tx *gorm.DB) {
		mu.Lock()
		defer mu.Unlock()
		statements = append(statements, tx.Statement.SQL.String())
	}
	require.NoError(t, gdb.Callback().Create().After("gorm:create").Register("test:capture_create", capture))
	require.NoError(t, gdb.Callback().Query().After("gorm:query").Register("test:capture_query", capture))
	require.NoError(t, gdb.Callback().Delete().After("gorm:delete").Register("test:capture_delete", capture))
	return gdb, &statements
}

func TestHistoryRepositorySQL(t *testing.T) {
	gdb, statements := dryRunDB(t)
	repo := NewGormHistoryRepository(gdb)
	ctx := context.Background()

	track := model.NewTrack("enc", model.TrackInfo{Title: "Song", Author: "Band", Identifier: "abc"})
	require.NoError(t, repo.Record(ctx, model.NewPlayHistory("42", track, time.Now())))

	_, err := repo.ListByGuild(ctx, "42", 0)
	require.NoError(t, err)

	_, err = repo.DeleteByGuild(ctx, "42")
	require.NoError(t, err)

	require.Len(t, *statements, 3)
	insert, list, del := (*statements)[0], (*statements)[1], (*statements)[2]

	assert.Contains(t, insert, "INSERT INTO `play_history`")
	assert.Contains(t, insert, "`guild_id`")

	assert.Contains(t, list, "FROM `play_history`")
	assert.Contains(t, list, "guild_id = ?")
	assert.Contains(t, list, "ORDER BY started_at DESC")
	assert.Contains(t, list, "LIMIT")

	assert.Contains(t, del, "DELETE FROM `play_history`")
	assert.Contains(t, del, "guild_id = ?")
}

func TestPlayHistoryFromTrack(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := model.NewPlayHistory("42", model.NewPartialTrack("Song", "Band"), at)

	assert.Equal(t, "42", h.GuildID)
	assert.Equal(t, "Song", h.Title)
	assert.True(t, h.Partial)
	assert.Equal(t, at, h.StartedAt)
	assert.Equal(t, "play_history", h.TableName())
}

type memoryHistory struct {
	mu   sync.Mutex
	rows []*model.PlayHistory
	err  error
}

func (m *memoryHistory) Record(_ context.Context, h *model.PlayHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, h)
	return nil
}

func (m *memoryHistory) ListByGuild(_ context.Context, guildID string, _ int) ([]*model.PlayHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PlayHistory
	for _, r := range m.rows {
		if r.GuildID == guildID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryHistory) Latest(ctx context.Context, guildID string) (*model.PlayHistory, error) {
	rows, _ := m.ListByGuild(ctx, guildID, 0)
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[len(rows)-1], nil
}

func (m *memoryHistory) DeleteByGuild(_ context.Context, _ string) (int64, error) {
	return 0, nil
}

type silentNode struct{}

func (silentNode) Identifier() string { return "main" }
func (silentNode) Play(context.Context, string, string) error { return nil }
func (silentNode) Stop(context.Context, string) error { return nil }
func (silentNode) Pause(context.Context, string, bool) error { return nil }
func (silentNode) Seek(context.Context, string, int64) error { return nil }
func (silentNode) Destroy(context.Context, string) error { return nil }
func (silentNode) VoiceUpdate(context.Context, string, string, node.VoiceServer) error {
	return nil
}

type noResolver struct{}

func (noResolver) Resolve(context.Context, string) ([]*model.Track, error) { return nil, nil }

func spawnPlayer(t *testing.T) *player.Player {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	m := player.NewManager(cache.NewQueueCache(client), noResolver{})
	m.AddNode(silentNode{})
	p, err := m.SpawnSession(context.Background(), "42", player.Options{ChannelID: "7"}, "")
	require.NoError(t, err)
	return p
}

func TestHistoryListener(t *testing.T) {
	repo := &memoryHistory{}
	listen := HistoryListener(repo, time.Second)
	p := spawnPlayer(t)
	track := model.NewTrack("enc", model.TrackInfo{Title: "Song", Author: "Band"})

	listen(player.Event{Type: player.EventTrackStart, Player: p, Track: track})
	listen(player.Event{Type: player.EventQueueEnd, Player: p, Track: track})
	listen(player.Event{Type: player.EventTrackStart, Player: p})

	rows, err := repo.ListByGuild(context.Background(), "42", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Song", rows[0].Title)
	assert.False(t, rows[0].Partial)
}

func TestHistoryListenerSwallowsErrors(t *testing.T) {
	repo := &memoryHistory{err: errors.New("db down")}
	listen := HistoryListener(repo, time.Second)
	p := spawnPlayer(t)

	assert.NotPanics(t, func() {
		listen(player.Event{Type: player.EventTrackStart, Player: p, Track: model.NewPartialTrack("Song", "Band")})
	})
}
