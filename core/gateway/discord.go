// Package gateway connects the bot to the Discord gateway and relays the
// voice events a node needs to join a voice channel.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lavaqueue/core/node"
	"lavaqueue/logger"

	"github.com/bwmarrin/discordgo"
)

// VoiceForwarder receives the bot's own voice updates.
type VoiceForwarder interface {
	HandleVoiceServerUpdate(ctx context.Context, server node.VoiceServer) error
	HandleVoiceStateUpdate(ctx context.Context, guildID, sessionID, channelID string) error
}

// Discord wraps a discordgo session.
type Discord struct {
	session *discordgo.Session
	timeout time.Duration

	mu        sync.RWMutex
	userID    string
	forwarder VoiceForwarder
}

// NewDiscord creates a gateway session. userID may be empty, in which case
// it is taken from the READY payload.
func NewDiscord(token, userID string) (*Discord, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	d := &Discord{
		session: s,
		timeout: 10 * time.Second,
		userID:  userID,
	}
	s.AddHandler(d.onReady)
	s.AddHandler(d.onVoiceServerUpdate)
	s.AddHandler(d.onVoiceStateUpdate)
	return d, nil
}

// Bind sets where voice updates are forwarded to.
func (d *Discord) Bind(f VoiceForwarder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forwarder = f
}

// UserID returns the bot user id, empty until known.
func (d *Discord) UserID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.userID
}

// ResolveUserID looks up the bot's own user id over REST and remembers it.
func (d *Discord) ResolveUserID() (string, error) {
	if uid := d.UserID(); uid != "" {
		return uid, nil
	}
	u, err := d.session.User("@me")
	if err != nil {
		return "", fmt.Errorf("failed to fetch bot user: %w", err)
	}
	d.mu.Lock()
	d.userID = u.ID
	d.mu.Unlock()
	return u.ID, nil
}

// Open connects to the gateway.
func (d *Discord) Open() error {
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord gateway: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (d *Discord) Close() error {
	return d.session.Close()
}

// UpdateVoiceState joins, moves or (with an empty channelID) leaves a voice
// channel without opening a local voice connection; the node does the audio.
func (d *Discord) UpdateVoiceState(guildID, channelID string, selfMute, selfDeaf bool) error {
	return d.session.ChannelVoiceJoinManual(guildID, channelID, selfMute, selfDeaf)
}

func (d *Discord) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r.User == nil {
		return
	}
	d.mu.Lock()
	if d.userID == "" {
		d.userID = r.User.ID
	}
	d.mu.Unlock()
	logger.Info("discord gateway ready", logger.String("user", r.User.Username), logger.Int("guilds", len(r.Guilds)))
}

func (d *Discord) onVoiceServerUpdate(_ *discordgo.Session, e *discordgo.VoiceServerUpdate) {
	f := d.target()
	if f == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	server := node.VoiceServer{Token: e.Token, GuildID: e.GuildID, Endpoint: e.Endpoint}
	if err := f.HandleVoiceServerUpdate(ctx, server); err != nil {
		logger.Warn("failed to forward voice server update", logger.Guild(e.GuildID), logger.ErrorField(err))
	}
}

func (d *Discord) onVoiceStateUpdate(_ *discordgo.Session, e *discordgo.VoiceStateUpdate) {
	if e.VoiceState == nil {
		return
	}
	// 只关心机器人自己的语音状态
	if uid := d.UserID(); uid == "" || e.UserID != uid {
		return
	}
	f := d.target()
	if f == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := f.HandleVoiceStateUpdate(ctx, e.GuildID, e.SessionID, e.ChannelID); err != nil {
		logger.Warn("failed to forward voice state update", logger.Guild(e.GuildID), logger.ErrorField(err))
	}
}

func (d *Discord) target() VoiceForwarder {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.forwarder
}
