package player

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"lavaqueue/core/node"
	"lavaqueue/logger"
	"lavaqueue/model"
)

// VoiceGateway sends voice state updates (join, move, leave) to Discord.
// An empty channelID leaves the voice channel.
type VoiceGateway interface {
	UpdateVoiceState(guildID, channelID string, selfMute, selfDeaf bool) error
}

// VoiceConnection tracks the voice link of a player.
type VoiceConnection struct {
	State  model.ConnectionState
	Region string

	sessionID string
	server    *node.VoiceServer
}

func (v *VoiceConnection) info(opts Options) model.ConnectionInfo {
	return model.ConnectionInfo{
		Region:        v.Region,
		ChannelID:     opts.ChannelID,
		ShardID:       opts.ShardID,
		TextChannelID: opts.TextChannelID,
		GuildID:       opts.GuildID,
		IsSelfDeaf:    opts.SelfDeaf,
		IsSelfMute:    opts.SelfMute,
		State:         v.State,
	}
}

// regionFromEndpoint turns "us-east1234.discord.media:443" into "us-east".
func regionFromEndpoint(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	host := strings.SplitN(endpoint, ".", 2)[0]
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return -1
		}
		return r
	}, host)
}

// Connected reports whether the player is joined to a voice channel.
func (p *Player) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected()
}

func (p *Player) connected() bool {
	return p.connection.State == model.StateConnected && p.options.ChannelID != ""
}

// ConnectionState returns the voice connection state.
func (p *Player) ConnectionState() model.ConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connection.State
}

// Connect joins the configured voice channel.
func (p *Player) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive() {
		return ErrSessionDestroyed
	}
	if p.manager.gateway == nil {
		return fmt.Errorf("no voice gateway configured")
	}
	if p.options.ChannelID == "" {
		return fmt.Errorf("no voice channel set for guild %s", p.options.GuildID)
	}

	p.connection.State = model.StateConnecting
	if err := p.manager.gateway.UpdateVoiceState(p.options.GuildID, p.options.ChannelID, p.options.SelfMute, p.options.SelfDeaf); err != nil {
		p.connection.State = model.StateDisconnected
		return fmt.Errorf("failed to join voice channel: %w", err)
	}
	p.connection.State = model.StateConnected
	return p.saveState(ctx)
}

// Disconnect leaves the voice channel but keeps the session and its queue.
func (p *Player) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive() {
		return ErrSessionDestroyed
	}
	if p.manager.gateway != nil {
		if err := p.manager.gateway.UpdateVoiceState(p.options.GuildID, "", p.options.SelfMute, p.options.SelfDeaf); err != nil {
			return fmt.Errorf("failed to leave voice channel: %w", err)
		}
	}
	p.connection.State = model.StateDisconnected
	return p.saveState(ctx)
}

// SetSelfDeaf updates the self-deaf flag, re-sending the voice state when connected.
func (p *Player) SetSelfDeaf(ctx context.Context, deaf bool) error {
	return p.updateSelf(ctx, func(o *Options) { o.SelfDeaf = deaf })
}

// SetSelfMute updates the self-mute flag, re-sending the voice state when connected.
func (p *Player) SetSelfMute(ctx context.Context, mute bool) error {
	return p.updateSelf(ctx, func(o *Options) { o.SelfMute = mute })
}

func (p *Player) updateSelf(ctx context.Context, apply func(*Options)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive() {
		return ErrSessionDestroyed
	}
	apply(&p.options)
	if p.connected() && p.manager.gateway != nil {
		if err := p.manager.gateway.UpdateVoiceState(p.options.GuildID, p.options.ChannelID, p.options.SelfMute, p.options.SelfDeaf); err != nil {
			return err
		}
	}
	return p.saveState(ctx)
}

func (p *Player) handleVoiceServer(ctx context.Context, server node.VoiceServer) error {
	if !p.alive() {
		return nil
	}
	p.connection.server = &server
	p.connection.Region = regionFromEndpoint(server.Endpoint)
	if err := p.saveState(ctx); err != nil {
		return err
	}
	return p.sendVoiceUpdate(ctx)
}

func (p *Player) handleVoiceState(ctx context.Context, sessionID, channelID string) error {
	if !p.alive() {
		return nil
	}
	p.connection.sessionID = sessionID
	if channelID == "" {
		p.connection.State = model.StateDisconnected
		return p.saveState(ctx)
	}
	p.options.ChannelID = channelID
	p.connection.State = model.StateConnected
	if err := p.saveState(ctx); err != nil {
		return err
	}
	return p.sendVoiceUpdate(ctx)
}

func (p *Player) sendVoiceUpdate(ctx context.Context) error {
	if p.connection.server == nil || p.connection.sessionID == "" {
		return nil
	}
	logger.Debug("forwarding voice update",
		logger.Guild(p.options.GuildID),
		logger.String("region", p.connection.Region))
	return p.node.VoiceUpdate(ctx, p.options.GuildID, p.connection.sessionID, *p.connection.server)
}
