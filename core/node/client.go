package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"lavaqueue/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned when an op is sent while the websocket is down.
var ErrNotConnected = errors.New("node websocket not connected")

// Handler receives decoded node events. It is called from the read loop and
// must not block.
type Handler func(Event)

// Options 节点连接配置
type Options struct {
	Identifier     string
	Address        string // ws://host:port
	Password       string
	UserID         string
	ClientName     string
	ResumeTimeout  time.Duration
	ReconnectDelay time.Duration
}

// VoiceServer Discord 下发的语音服务器信息
type VoiceServer struct {
	Token    string `json:"token"`
	GuildID  string `json:"guild_id"`
	Endpoint string `json:"endpoint"`
}

// Client 节点 WebSocket 客户端：发送播放指令，接收生命周期事件
type Client struct {
	opts      Options
	handler   Handler
	dialer    *websocket.Dialer
	resumeKey string

	mu   sync.Mutex // 保护 conn 与写操作
	conn *websocket.Conn
}

// NewClient 创建节点客户端
func NewClient(opts Options, handler Handler) *Client {
	if opts.ClientName == "" {
		opts.ClientName = "lavaqueue"
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	return &Client{
		opts:      opts,
		handler:   handler,
		dialer:    websocket.DefaultDialer,
		resumeKey: uuid.NewString(),
	}
}

// Identifier returns the node name used for session affinity.
func (c *Client) Identifier() string {
	return c.opts.Identifier
}

// Connect dials the node and configures session resuming.
func (c *Client) Connect(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", c.opts.Password)
	header.Set("User-Id", c.opts.UserID)
	header.Set("Client-Name", c.opts.ClientName)
	header.Set("Resume-Key", c.resumeKey)

	conn, resp, err := c.dialer.DialContext(ctx, c.opts.Address, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect to node %s (status %d): %w", c.opts.Identifier, resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect to node %s: %w", c.opts.Identifier, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if c.opts.ResumeTimeout > 0 {
		if err := c.send(map[string]interface{}{
			"op":      "configureResuming",
			"key":     c.resumeKey,
			"timeout": int(c.opts.ResumeTimeout.Seconds()),
		}); err != nil {
			logger.Warn("配置节点会话恢复失败", logger.String("node", c.opts.Identifier), logger.ErrorField(err))
		}
	}

	logger.Info("node connected", logger.String("node", c.opts.Identifier), logger.String("address", c.opts.Address))
	return nil
}

// Run keeps the connection alive until ctx is cancelled, reconnecting with
// the same resume key after a drop.
func (c *Client) Run(ctx context.Context) error {
	for {
		if c.connection() == nil {
			if err := c.Connect(ctx); err != nil {
				logger.Warn("节点连接失败，稍后重试", logger.ErrorField(err), logger.Duration("delay", c.opts.ReconnectDelay))
				if !c.wait(ctx) {
					return ctx.Err()
				}
				continue
			}
		}

		err := c.readLoop(ctx)
		c.dropConnection()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("节点连接断开", logger.String("node", c.opts.Identifier), logger.ErrorField(err))
		if !c.wait(ctx) {
			return ctx.Err()
		}
	}
}

func (c *Client) wait(ctx context.Context) bool {
	timer := time.NewTimer(c.opts.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Client) readLoop(ctx context.Context) error {
	conn := c.connection()
	if conn == nil {
		return ErrNotConnected
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		ev, err := Decode(data)
		if err != nil {
			logger.Warn("无法解析节点消息", logger.ErrorField(err))
			continue
		}
		if ev == nil || c.handler == nil {
			continue
		}
		c.handler(ev)
	}
}

func (c *Client) connection() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) dropConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close closes the websocket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) send(payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.WriteJSON(payload); err != nil {
		return fmt.Errorf("failed to send to node %s: %w", c.opts.Identifier, err)
	}
	return nil
}

func (c *Client) sendOp(ctx context.Context, payload map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.send(payload)
}

// Play 播放已编码的曲目
func (c *Client) Play(ctx context.Context, guildID, encoded string) error {
	return c.sendOp(ctx, map[string]interface{}{
		"op":      "play",
		"guildId": guildID,
		"track":   encoded,
	})
}

// Stop 停止当前曲目，节点随后会上报 STOPPED 结束事件
func (c *Client) Stop(ctx context.Context, guildID string) error {
	return c.sendOp(ctx, map[string]interface{}{
		"op":      "stop",
		"guildId": guildID,
	})
}

// Pause 暂停或继续
func (c *Client) Pause(ctx context.Context, guildID string, paused bool) error {
	return c.sendOp(ctx, map[string]interface{}{
		"op":      "pause",
		"guildId": guildID,
		"pause":   paused,
	})
}

// Seek 跳转到指定位置（毫秒）
func (c *Client) Seek(ctx context.Context, guildID string, position int64) error {
	return c.sendOp(ctx, map[string]interface{}{
		"op":       "seek",
		"guildId":  guildID,
		"position": position,
	})
}

// Destroy 销毁节点上的播放器
func (c *Client) Destroy(ctx context.Context, guildID string) error {
	return c.sendOp(ctx, map[string]interface{}{
		"op":      "destroy",
		"guildId": guildID,
	})
}

// VoiceUpdate 转发 Discord 语音会话信息
func (c *Client) VoiceUpdate(ctx context.Context, guildID, sessionID string, server VoiceServer) error {
	return c.sendOp(ctx, map[string]interface{}{
		"op":        "voiceUpdate",
		"guildId":   guildID,
		"sessionId": sessionID,
		"event":     server,
	})
}
