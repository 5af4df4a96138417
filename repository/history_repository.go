package repository

import (
	"context"
	"time"

	"lavaqueue/core/player"
	"lavaqueue/logger"
	"lavaqueue/model"

	"gorm.io/gorm"
)

// DefaultHistoryLimit 未指定条数时返回的历史记录数
const DefaultHistoryLimit = 50

// HistoryRepository 播放历史数据访问接口
type HistoryRepository interface {
	Record(ctx context.Context, h *model.PlayHistory) error
	ListByGuild(ctx context.Context, guildID string, limit int) ([]*model.PlayHistory, error)
	Latest(ctx context.Context, guildID string) (*model.PlayHistory, error)
	DeleteByGuild(ctx context.Context, guildID string) (int64, error)
}

// gormHistoryRepository GORM 实现
type gormHistoryRepository struct {
	db *gorm.DB
}

// NewGormHistoryRepository 创建 GORM 播放历史仓库
func NewGormHistoryRepository(db *gorm.DB) HistoryRepository {
	return &gormHistoryRepository{db: db}
}

// Record 写入一条播放记录
func (r *gormHistoryRepository) Record(ctx context.Context, h *model.PlayHistory) error {
	return r.db.WithContext(ctx).Create(h).Error
}

// ListByGuild 按开始时间倒序获取最近的播放记录
func (r *gormHistoryRepository) ListByGuild(ctx context.Context, guildID string, limit int) ([]*model.PlayHistory, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	var rows []*model.PlayHistory
	err := r.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("started_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Latest 获取最近一条播放记录，没有时返回 nil
func (r *gormHistoryRepository) Latest(ctx context.Context, guildID string) (*model.PlayHistory, error) {
	var h model.PlayHistory
	err := r.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("started_at DESC").
		First(&h).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &h, nil
}

// DeleteByGuild 清空某个服务器的播放历史
func (r *gormHistoryRepository) DeleteByGuild(ctx context.Context, guildID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Delete(&model.PlayHistory{})
	return res.RowsAffected, res.Error
}

// HistoryListener returns a trackStart listener that records every started
// track. Write failures are logged and never reach the player.
func HistoryListener(repo HistoryRepository, timeout time.Duration) player.Listener {
	return func(ev player.Event) {
		if ev.Type != player.EventTrackStart || ev.Track == nil || ev.Player == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		h := model.NewPlayHistory(ev.Player.GuildID(), ev.Track, time.Now())
		if err := repo.Record(ctx, h); err != nil {
			logger.Warn("Failed to record play history",
				logger.String("guildId", h.GuildID),
				logger.String("title", h.Title),
				logger.ErrorField(err))
		}
	}
}
