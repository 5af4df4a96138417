package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"lavaqueue/logger"
	"lavaqueue/model"

	"github.com/go-redis/redis/v8"
)

const (
	queueKey       = "queue:%s"       // Hash: player -> PlayerState JSON, track -> {current, previous}
	queueTracksKey = "queueTracks:%s" // List: 待播放曲目，按播放顺序
	playerField    = "player"
	trackField     = "track"
)

var errClientNotInitialized = errors.New("Redis client not initialized")

// QueueCache 播放队列在 Redis 中的持久化
type QueueCache struct {
	client *redis.Client
}

// NewQueueCache 创建队列缓存，client 为空时使用全局 RedisClient
func NewQueueCache(client *redis.Client) *QueueCache {
	if client == nil {
		client = RedisClient
	}
	return &QueueCache{client: client}
}

// QueueKey 会话元数据 Hash 的键
func QueueKey(guildID string) string {
	return fmt.Sprintf(queueKey, guildID)
}

// QueueTracksKey 待播放列表的键
func QueueTracksKey(guildID string) string {
	return fmt.Sprintf(queueTracksKey, guildID)
}

// ========== 播放器元数据 ==========

// SavePlayer 写入播放器元数据
func (c *QueueCache) SavePlayer(ctx context.Context, guildID string, state *model.PlayerState) error {
	if c.client == nil {
		return errClientNotInitialized
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal player state: %w", err)
	}
	if err := c.client.HSet(ctx, QueueKey(guildID), playerField, data).Err(); err != nil {
		return fmt.Errorf("failed to save player state: %w", err)
	}
	return nil
}

// LoadPlayer 读取播放器元数据，不存在时返回 nil, nil
func (c *QueueCache) LoadPlayer(ctx context.Context, guildID string) (*model.PlayerState, error) {
	if c.client == nil {
		return nil, errClientNotInitialized
	}

	data, err := c.client.HGet(ctx, QueueKey(guildID), playerField).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load player state: %w", err)
	}

	var state model.PlayerState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal player state: %w", err)
	}
	return &state, nil
}

// ========== 当前/上一首 ==========

// SaveTracks 写入 {current, previous}
func (c *QueueCache) SaveTracks(ctx context.Context, guildID string, current, previous *model.Track) error {
	if c.client == nil {
		return errClientNotInitialized
	}

	data, err := json.Marshal(model.TrackRecord{Current: current, Previous: previous})
	if err != nil {
		return fmt.Errorf("failed to marshal track record: %w", err)
	}
	if err := c.client.HSet(ctx, QueueKey(guildID), trackField, data).Err(); err != nil {
		return fmt.Errorf("failed to save track record: %w", err)
	}
	return nil
}

// LoadTracks 读取 {current, previous}，不存在时两者均为 nil
func (c *QueueCache) LoadTracks(ctx context.Context, guildID string) (*model.TrackRecord, error) {
	if c.client == nil {
		return nil, errClientNotInitialized
	}

	record := &model.TrackRecord{}
	data, err := c.client.HGet(ctx, QueueKey(guildID), trackField).Result()
	if err != nil {
		if err == redis.Nil {
			return record, nil
		}
		return nil, fmt.Errorf("failed to load track record: %w", err)
	}

	var raw struct {
		Current  json.RawMessage `json:"current"`
		Previous json.RawMessage `json:"previous"`
	}
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal track record: %w", err)
	}
	if record.Current, err = model.DecodeTrack(string(raw.Current)); err != nil {
		logger.Warn("丢弃无法解析的当前曲目", logger.Guild(guildID), logger.ErrorField(err))
		record.Current = nil
	}
	if record.Previous, err = model.DecodeTrack(string(raw.Previous)); err != nil {
		logger.Warn("丢弃无法解析的上一首曲目", logger.Guild(guildID), logger.ErrorField(err))
		record.Previous = nil
	}
	return record, nil
}

// ========== 待播放列表 ==========

// PushTrack 追加一首曲目到列表尾部
func (c *QueueCache) PushTrack(ctx context.Context, guildID string, track *model.Track) error {
	if c.client == nil {
		return errClientNotInitialized
	}

	data, err := json.Marshal(track)
	if err != nil {
		return fmt.Errorf("failed to marshal track: %w", err)
	}
	if err := c.client.RPush(ctx, QueueTracksKey(guildID), data).Err(); err != nil {
		return fmt.Errorf("failed to push track: %w", err)
	}
	return nil
}

// PopTrack 移除列表头部曲目，列表为空时不报错。
// 头部之前无法解析的条目一并移除，与 ListTracks 返回的列表保持对齐。
func (c *QueueCache) PopTrack(ctx context.Context, guildID string) error {
	if c.client == nil {
		return errClientNotInitialized
	}

	key := QueueTracksKey(guildID)
	for {
		data, err := c.client.LPop(ctx, key).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to pop track: %w", err)
		}
		if track, err := model.DecodeTrack(data); err == nil && track != nil {
			return nil
		}
		logger.Warn("丢弃无法解析的队列条目", logger.Guild(guildID), logger.String("entry", data))
	}
}

// ListTracks 按播放顺序读取整个列表，跳过无法解析的条目。
// 条目留在 Redis 中，由 PopTrack 在越过它们时删除。
func (c *QueueCache) ListTracks(ctx context.Context, guildID string) ([]*model.Track, error) {
	if c.client == nil {
		return nil, errClientNotInitialized
	}

	result, err := c.client.LRange(ctx, QueueTracksKey(guildID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}

	tracks := make([]*model.Track, 0, len(result))
	for i, data := range result {
		track, err := model.DecodeTrack(data)
		if err != nil || track == nil {
			logger.Warn("跳过无法解析的队列条目",
				logger.Guild(guildID),
				logger.Int("index", i),
				logger.ErrorField(err))
			continue
		}
		tracks = append(tracks, track)
	}
	return tracks, nil
}

// ReplaceTracks 在一个事务中清空并按给定顺序重写列表，不影响元数据 Hash
func (c *QueueCache) ReplaceTracks(ctx context.Context, guildID string, tracks []*model.Track) error {
	if c.client == nil {
		return errClientNotInitialized
	}

	values := make([]interface{}, 0, len(tracks))
	for _, track := range tracks {
		data, err := json.Marshal(track)
		if err != nil {
			return fmt.Errorf("failed to marshal track: %w", err)
		}
		values = append(values, data)
	}
	return c.rewrite(ctx, guildID, values)
}

// ListRawTracks 按原样读取整个列表，包括无法解析的条目
func (c *QueueCache) ListRawTracks(ctx context.Context, guildID string) ([]string, error) {
	if c.client == nil {
		return nil, errClientNotInitialized
	}

	result, err := c.client.LRange(ctx, QueueTracksKey(guildID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}
	return result, nil
}

// ReplaceRawTracks 在一个事务中按原样重写列表
func (c *QueueCache) ReplaceRawTracks(ctx context.Context, guildID string, entries []string) error {
	if c.client == nil {
		return errClientNotInitialized
	}

	values := make([]interface{}, 0, len(entries))
	for _, entry := range entries {
		values = append(values, entry)
	}
	return c.rewrite(ctx, guildID, values)
}

func (c *QueueCache) rewrite(ctx context.Context, guildID string, values []interface{}) error {
	key := QueueTracksKey(guildID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.RPush(ctx, key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to rewrite tracks: %w", err)
	}
	return nil
}

// ClearTracks 删除待播放列表
func (c *QueueCache) ClearTracks(ctx context.Context, guildID string) error {
	if c.client == nil {
		return errClientNotInitialized
	}

	if err := c.client.Del(ctx, QueueTracksKey(guildID)).Err(); err != nil {
		return fmt.Errorf("failed to clear tracks: %w", err)
	}
	return nil
}

// ========== 会话 ==========

// DeleteSession 删除会话元数据 Hash（player 与 track 字段）
func (c *QueueCache) DeleteSession(ctx context.Context, guildID string) error {
	if c.client == nil {
		return errClientNotInitialized
	}

	if err := c.client.Del(ctx, QueueKey(guildID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// LoadSession 读取元数据、当前/上一首和完整列表。没有元数据记录时返回 nil, nil。
func (c *QueueCache) LoadSession(ctx context.Context, guildID string) (*model.SessionSnapshot, error) {
	state, err := c.LoadPlayer(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, nil
	}

	record, err := c.LoadTracks(ctx, guildID)
	if err != nil {
		return nil, err
	}

	items, err := c.ListTracks(ctx, guildID)
	if err != nil {
		return nil, err
	}

	return &model.SessionSnapshot{
		GuildID:  guildID,
		Player:   *state,
		Current:  record.Current,
		Previous: record.Previous,
		Items:    items,
	}, nil
}

// ListSessionIDs 扫描所有持久化会话的 guild ID
func (c *QueueCache) ListSessionIDs(ctx context.Context) ([]string, error) {
	if c.client == nil {
		return nil, errClientNotInitialized
	}

	prefix := fmt.Sprintf(queueKey, "")
	var ids []string
	iter := c.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// RestoreSession 用快照覆盖会话的全部记录
func (c *QueueCache) RestoreSession(ctx context.Context, snap *model.SessionSnapshot) error {
	if snap == nil || snap.GuildID == "" {
		return errors.New("snapshot has no guild id")
	}
	if err := c.SavePlayer(ctx, snap.GuildID, &snap.Player); err != nil {
		return err
	}
	if err := c.SaveTracks(ctx, snap.GuildID, snap.Current, snap.Previous); err != nil {
		return err
	}
	return c.ReplaceTracks(ctx, snap.GuildID, snap.Items)
}
