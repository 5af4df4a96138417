package model

import "time"

// PlayHistory 播放记录，每次曲目开始播放写入一条
type PlayHistory struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	GuildID    string    `json:"guildId" gorm:"size:32;index:idx_guild_started,priority:1;not null"`
	Identifier string    `json:"identifier" gorm:"size:255"`
	Title      string    `json:"title" gorm:"size:255"`
	Author     string    `json:"author" gorm:"size:255"`
	URI        string    `json:"uri" gorm:"size:512"`
	SourceName string    `json:"sourceName" gorm:"size:64"`
	Length     int64     `json:"length"`
	Partial    bool      `json:"partial"` // 通过搜索解析得到
	StartedAt  time.Time `json:"startedAt" gorm:"index:idx_guild_started,priority:2"`
}

// TableName 指定表名
func (PlayHistory) TableName() string {
	return "play_history"
}

// NewPlayHistory builds a history row for a track that started playing.
func NewPlayHistory(guildID string, t *Track, startedAt time.Time) *PlayHistory {
	return &PlayHistory{
		GuildID:    guildID,
		Identifier: t.Info.Identifier,
		Title:      t.Info.Title,
		Author:     t.Info.Author,
		URI:        t.Info.URI,
		SourceName: t.Info.SourceName,
		Length:     t.Info.Length,
		Partial:    t.IsPartial(),
		StartedAt:  startedAt,
	}
}
