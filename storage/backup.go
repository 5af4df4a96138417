package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"lavaqueue/logger"
	"lavaqueue/model"
)

// BackupPrefix 会话快照在存储桶中的目录
const BackupPrefix = "sessions/"

// ObjectStore 快照对象存储
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// SessionStore 会话记录的来源与去向
type SessionStore interface {
	ListSessionIDs(ctx context.Context) ([]string, error)
	LoadSession(ctx context.Context, guildID string) (*model.SessionSnapshot, error)
	RestoreSession(ctx context.Context, snap *model.SessionSnapshot) error
}

// BackupKey 某个会话快照的对象键
func BackupKey(guildID string) string {
	return BackupPrefix + guildID + ".json"
}

// guildFromKey 对象键反解出 guild ID，不是快照时返回空
func guildFromKey(key string) string {
	if !strings.HasPrefix(key, BackupPrefix) || path.Ext(key) != ".json" {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(key, BackupPrefix), ".json")
}

// BackupSessions uploads a snapshot of every persisted session, or only the
// given guilds. It returns the number of snapshots written.
func BackupSessions(ctx context.Context, src SessionStore, dst ObjectStore, guildIDs ...string) (int, error) {
	if len(guildIDs) == 0 {
		ids, err := src.ListSessionIDs(ctx)
		if err != nil {
			return 0, err
		}
		guildIDs = ids
	}

	written := 0
	for _, guildID := range guildIDs {
		snap, err := src.LoadSession(ctx, guildID)
		if err != nil {
			return written, fmt.Errorf("load session %s: %w", guildID, err)
		}
		if snap == nil {
			logger.Warn("no session to back up", logger.Guild(guildID))
			continue
		}

		data, err := json.Marshal(snap)
		if err != nil {
			return written, err
		}
		if err := dst.Put(ctx, BackupKey(guildID), data); err != nil {
			return written, err
		}
		written++
		logger.Debug("session backed up", logger.Guild(guildID), logger.Int("items", len(snap.Items)))
	}
	return written, nil
}

// RestoreSessions writes snapshots back into the session store, replacing
// whatever is stored for those guilds. Without guild IDs every snapshot under
// BackupPrefix is restored.
func RestoreSessions(ctx context.Context, dst SessionStore, src ObjectStore, guildIDs ...string) (int, error) {
	if len(guildIDs) == 0 {
		objects, err := src.List(ctx, BackupPrefix)
		if err != nil {
			return 0, err
		}
		for _, object := range objects {
			if id := guildFromKey(object.Key); id != "" {
				guildIDs = append(guildIDs, id)
			}
		}
	}

	restored := 0
	for _, guildID := range guildIDs {
		data, err := src.Get(ctx, BackupKey(guildID))
		if err != nil {
			if errors.Is(err, ErrObjectNotFound) {
				logger.Warn("no snapshot for guild", logger.Guild(guildID))
				continue
			}
			return restored, err
		}

		var snap model.SessionSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return restored, fmt.Errorf("decode snapshot %s: %w", guildID, err)
		}
		// 快照里的 guildId 以对象键为准
		snap.GuildID = guildID
		if err := dst.RestoreSession(ctx, &snap); err != nil {
			return restored, err
		}
		restored++
	}
	return restored, nil
}
