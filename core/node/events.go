package node

import (
	"encoding/json"
	"fmt"
)

// EventType 节点上报的事件类型
type EventType string

const (
	EventTrackStart      EventType = "TrackStartEvent"
	EventTrackEnd        EventType = "TrackEndEvent"
	EventTrackException  EventType = "TrackExceptionEvent"
	EventTrackStuck      EventType = "TrackStuckEvent"
	EventWebSocketClosed EventType = "WebSocketClosedEvent"
	EventPlayerUpdate    EventType = "playerUpdate"
)

// TrackEndReason 曲目结束原因
type TrackEndReason string

const (
	ReasonFinished   TrackEndReason = "FINISHED"
	ReasonLoadFailed TrackEndReason = "LOAD_FAILED"
	ReasonStopped    TrackEndReason = "STOPPED"
	ReasonReplaced   TrackEndReason = "REPLACED"
	ReasonCleanup    TrackEndReason = "CLEANUP"
)

// Event is one lifecycle message from the node. The set of implementations
// is closed: only the types in this file satisfy it.
type Event interface {
	Type() EventType
	Guild() string
	Raw() json.RawMessage
	nodeEvent()
}

// Base carries the fields every event shares.
type Base struct {
	GuildID string `json:"guildId"`
	raw     json.RawMessage
}

func (b Base) Guild() string        { return b.GuildID }
func (b Base) Raw() json.RawMessage { return b.raw }
func (Base) nodeEvent()             {}

// TrackStartEvent 曲目开始播放
type TrackStartEvent struct {
	Base
	Track string `json:"track"`
}

func (TrackStartEvent) Type() EventType { return EventTrackStart }

// TrackEndEvent 曲目播放结束
type TrackEndEvent struct {
	Base
	Track  string         `json:"track"`
	Reason TrackEndReason `json:"reason"`
}

func (TrackEndEvent) Type() EventType { return EventTrackEnd }

// TrackException 节点报告的异常
type TrackException struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Cause    string `json:"cause,omitempty"`
}

// TrackExceptionEvent 曲目播放异常
type TrackExceptionEvent struct {
	Base
	Track     string         `json:"track"`
	Exception TrackException `json:"exception"`
	Error     string         `json:"error,omitempty"` // older nodes report a plain string
}

func (TrackExceptionEvent) Type() EventType { return EventTrackException }

// TrackStuckEvent 曲目卡住
type TrackStuckEvent struct {
	Base
	Track       string `json:"track"`
	ThresholdMs int64  `json:"thresholdMs"`
}

func (TrackStuckEvent) Type() EventType { return EventTrackStuck }

// WebSocketClosedEvent 节点与 Discord 语音服务器的连接被关闭
type WebSocketClosedEvent struct {
	Base
	Code     int    `json:"code"`
	Reason   string `json:"reason"`
	ByRemote bool   `json:"byRemote"`
}

func (WebSocketClosedEvent) Type() EventType { return EventWebSocketClosed }

// PlayerState 节点上报的播放进度
type PlayerState struct {
	Time      int64 `json:"time"`
	Position  int64 `json:"position"`
	Connected bool  `json:"connected"`
}

// PlayerUpdateEvent 播放进度更新
type PlayerUpdateEvent struct {
	Base
	State PlayerState `json:"state"`
}

func (PlayerUpdateEvent) Type() EventType { return EventPlayerUpdate }

// Decode parses a raw websocket message. Messages that are not guild events
// (stats, unknown event types) decode to nil without error.
func Decode(data []byte) (Event, error) {
	var header struct {
		Op   string    `json:"op"`
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("failed to decode node message: %w", err)
	}

	raw := append(json.RawMessage(nil), data...)

	switch header.Op {
	case "playerUpdate":
		ev := PlayerUpdateEvent{}
		return decodeInto(data, raw, &ev, &ev.Base)
	case "event":
	default:
		return nil, nil
	}

	switch header.Type {
	case EventTrackStart:
		ev := TrackStartEvent{}
		return decodeInto(data, raw, &ev, &ev.Base)
	case EventTrackEnd:
		ev := TrackEndEvent{}
		return decodeInto(data, raw, &ev, &ev.Base)
	case EventTrackException:
		ev := TrackExceptionEvent{}
		return decodeInto(data, raw, &ev, &ev.Base)
	case EventTrackStuck:
		ev := TrackStuckEvent{}
		return decodeInto(data, raw, &ev, &ev.Base)
	case EventWebSocketClosed:
		ev := WebSocketClosedEvent{}
		return decodeInto(data, raw, &ev, &ev.Base)
	}
	return nil, nil
}

func decodeInto(data []byte, raw json.RawMessage, ev interface{}, base *Base) (Event, error) {
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("failed to decode node event: %w", err)
	}
	base.raw = raw

	switch e := ev.(type) {
	case *TrackStartEvent:
		return *e, nil
	case *TrackEndEvent:
		return *e, nil
	case *TrackExceptionEvent:
		return *e, nil
	case *TrackStuckEvent:
		return *e, nil
	case *WebSocketClosedEvent:
		return *e, nil
	case *PlayerUpdateEvent:
		return *e, nil
	}
	return nil, fmt.Errorf("unsupported event %T", ev)
}
