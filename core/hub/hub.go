// Package hub fans player events out to websocket subscribers.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"lavaqueue/core/player"
	"lavaqueue/logger"
	"lavaqueue/model"

	"github.com/gorilla/websocket"
)

// MessageType 推送消息类型
type MessageType string

const (
	MsgTypeEvent MessageType = "event" // 播放器事件
)

// WSMessage WebSocket 消息结构
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Event     string          `json:"event,omitempty"`
	GuildID   string          `json:"guildId,omitempty"`
	Track     *model.Track    `json:"track,omitempty"`
	Error     string          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// FromEvent converts an emitted player event into a push message.
func FromEvent(ev player.Event) *WSMessage {
	msg := &WSMessage{
		Type:  MsgTypeEvent,
		Event: string(ev.Type),
		Track: ev.Track,
	}
	if ev.Player != nil {
		msg.GuildID = ev.Player.GuildID()
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	if ev.Payload != nil {
		msg.Payload = ev.Payload.Raw()
		if msg.GuildID == "" {
			msg.GuildID = ev.Payload.Guild()
		}
	}
	return msg
}

// Client WebSocket 订阅者；GuildID 为空表示订阅全部 guild
type Client struct {
	Hub     *Hub
	Conn    *websocket.Conn
	Send    chan []byte
	GuildID string
}

// NewClient creates a subscriber for one guild, or every guild when guildID is empty.
func NewClient(h *Hub, conn *websocket.Conn, guildID string) *Client {
	return &Client{Hub: h, Conn: conn, Send: make(chan []byte, 64), GuildID: guildID}
}

// Hub 事件推送中心
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *WSMessage

	mu   sync.RWMutex
	done chan struct{}
}

// New 创建 Hub
func New() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *WSMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run 启动 Hub 主循环
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logger.Info("event subscriber registered", logger.Guild(client.GuildID))

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeClient(client)
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop 停止 Hub
func (h *Hub) Stop() {
	close(h.done)
}

// removeClient 需要持有锁
func (h *Hub) removeClient(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
		logger.Info("event subscriber unregistered", logger.Guild(client.GuildID))
	}
}

func (h *Hub) deliver(msg *WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Warn("failed to encode push message", logger.ErrorField(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if client.GuildID != "" && client.GuildID != msg.GuildID {
			continue
		}
		select {
		case client.Send <- data:
		default:
			// 发送缓冲区满，断开慢订阅者
			h.removeClient(client)
		}
	}
}

func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.Send)
	}
	h.clients = make(map[*Client]bool)
}

// Register 注册订阅者
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister 注销订阅者
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish queues a message for every matching subscriber. It never blocks;
// messages are dropped when the hub is backed up.
func (h *Hub) Publish(msg *WSMessage) {
	msg.Timestamp = time.Now().UnixMilli()
	select {
	case h.broadcast <- msg:
	default:
		logger.Warn("event hub backed up, dropping message", logger.String("event", msg.Event))
	}
}

// Listener returns a player listener that publishes every event it sees.
func (h *Hub) Listener() player.Listener {
	return func(ev player.Event) {
		h.Publish(FromEvent(ev))
	}
}

// ClientCount 当前订阅者数量
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ========== Client 方法 ==========

// ReadPump 读取循环；订阅者只收不发，读到的内容直接丢弃
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(4096)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error", logger.ErrorField(err), logger.Guild(c.GuildID))
			}
			return
		}
	}
}

// WritePump 写入循环
func (c *Client) WritePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
