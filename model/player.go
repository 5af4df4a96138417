package model

import (
	"fmt"
	"strings"
)

// LoopType 循环模式
type LoopType int

const (
	LoopNone  LoopType = iota // 不循环
	LoopTrack                 // 单曲循环
	LoopQueue                 // 列表循环
)

func (l LoopType) String() string {
	switch l {
	case LoopNone:
		return "none"
	case LoopTrack:
		return "track"
	case LoopQueue:
		return "queue"
	default:
		return "unknown"
	}
}

// ParseLoopType accepts either the name or the numeric value of a loop mode.
func ParseLoopType(s string) (LoopType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "0", "off":
		return LoopNone, nil
	case "track", "1":
		return LoopTrack, nil
	case "queue", "2":
		return LoopQueue, nil
	}
	return LoopNone, fmt.Errorf("unknown loop type %q", s)
}

// ConnectionState 语音连接状态
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDestroying
	StateDestroyed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDestroying:
		return "destroying"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// ConnectionInfo 语音连接元数据（持久化在 player 字段中）
type ConnectionInfo struct {
	Region        string          `json:"region,omitempty"`
	ChannelID     string          `json:"channelId,omitempty"`
	ShardID       int             `json:"shardId"`
	TextChannelID string          `json:"textChannelId,omitempty"`
	GuildID       string          `json:"guildId"`
	IsSelfDeaf    bool            `json:"isSelfDeaf"`
	IsSelfMute    bool            `json:"isSelfMute"`
	State         ConnectionState `json:"state"`
}

// PlayerState 播放器元数据快照，对应 queue:{guildId} 的 player 字段
type PlayerState struct {
	Node       string         `json:"node,omitempty"`
	LoopType   LoopType       `json:"loopType"`
	Connected  bool           `json:"connected"`
	Paused     bool           `json:"paused"`
	Playing    bool           `json:"playing"`
	Position   int64          `json:"position"`
	Connection ConnectionInfo `json:"connection"`
}

// TrackRecord 对应 queue:{guildId} 的 track 字段
type TrackRecord struct {
	Current  *Track `json:"current"`
	Previous *Track `json:"previous"`
}

// SessionSnapshot 从 Redis 恢复出的完整会话状态
type SessionSnapshot struct {
	GuildID  string      `json:"guildId"`
	Player   PlayerState `json:"player"`
	Current  *Track      `json:"current"`
	Previous *Track      `json:"previous"`
	Items    []*Track    `json:"items"`
}
