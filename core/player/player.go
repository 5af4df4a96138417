package player

import (
	"context"
	"fmt"
	"sync"

	"lavaqueue/core/node"
	"lavaqueue/core/queue"
	"lavaqueue/logger"
	"lavaqueue/model"
)

// Node is the audio node a player sends instructions to.
type Node interface {
	Identifier() string
	Play(ctx context.Context, guildID, encoded string) error
	Stop(ctx context.Context, guildID string) error
	Pause(ctx context.Context, guildID string, paused bool) error
	Seek(ctx context.Context, guildID string, position int64) error
	Destroy(ctx context.Context, guildID string) error
	VoiceUpdate(ctx context.Context, guildID, sessionID string, server node.VoiceServer) error
}

// Resolver turns a search query into playable candidates.
type Resolver interface {
	Resolve(ctx context.Context, query string) ([]*model.Track, error)
}

// Options describe the voice channel a player is bound to.
type Options struct {
	GuildID       string `json:"guildId"`
	ChannelID     string `json:"channelId"`
	TextChannelID string `json:"textChannelId"`
	ShardID       int    `json:"shardId"`
	SelfDeaf      bool   `json:"selfDeaf"`
	SelfMute      bool   `json:"selfMute"`
}

// Player is the playback session of one guild. Exported methods lock the
// player; unexported ones expect the caller to hold the lock.
type Player struct {
	mu sync.Mutex

	manager    *Manager
	node       Node
	options    Options
	queue      *queue.Queue
	connection VoiceConnection

	loopType model.LoopType
	playing  bool
	paused   bool
	position int64

	outbox []Event
}

func newPlayer(m *Manager, n Node, opts Options) *Player {
	return &Player{
		manager: m,
		node:    n,
		options: opts,
		queue:   queue.New(opts.GuildID, m.store),
	}
}

// GuildID returns the guild the player belongs to.
func (p *Player) GuildID() string {
	return p.options.GuildID
}

// NodeIdentifier returns the node the player is bound to.
func (p *Player) NodeIdentifier() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.node.Identifier()
}

// LoopType returns the current loop mode.
func (p *Player) LoopType() model.LoopType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loopType
}

// Playing reports whether the node is playing a track for this player.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Alive reports whether the player has not been destroyed.
func (p *Player) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive()
}

func (p *Player) alive() bool {
	return p.connection.State < model.StateDestroying
}

// State returns the persisted form of the player's metadata.
func (p *Player) State() model.PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state()
}

func (p *Player) state() model.PlayerState {
	return model.PlayerState{
		Node:       p.node.Identifier(),
		LoopType:   p.loopType,
		Connected:  p.connected(),
		Paused:     p.paused,
		Playing:    p.playing,
		Position:   p.position,
		Connection: p.connection.info(p.options),
	}
}

// Snapshot returns the player's full state, queue included.
func (p *Player) Snapshot() model.SessionSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return model.SessionSnapshot{
		GuildID:  p.options.GuildID,
		Player:   p.state(),
		Current:  p.queue.Current(),
		Previous: p.queue.Previous(),
		Items:    p.queue.Items(),
	}
}

func (p *Player) saveState(ctx context.Context) error {
	state := p.state()
	return p.manager.store.SavePlayer(ctx, p.options.GuildID, &state)
}

// restore applies a persisted snapshot to a freshly built player.
func (p *Player) restore(s *model.SessionSnapshot) {
	p.loopType = s.Player.LoopType
	p.paused = s.Player.Paused
	p.playing = s.Player.Playing
	p.position = s.Player.Position

	conn := s.Player.Connection
	if conn.ChannelID != "" {
		p.options.ChannelID = conn.ChannelID
	}
	if conn.TextChannelID != "" {
		p.options.TextChannelID = conn.TextChannelID
	}
	p.options.ShardID = conn.ShardID
	p.options.SelfDeaf = conn.IsSelfDeaf
	p.options.SelfMute = conn.IsSelfMute
	p.connection.Region = conn.Region
	if s.Player.Connected {
		p.connection.State = model.StateConnected
	} else {
		p.connection.State = model.StateDisconnected
	}

	p.queue.Restore(s.Current, s.Previous, s.Items)
}

func (p *Player) emit(ev Event) {
	ev.Player = p
	p.outbox = append(p.outbox, ev)
}

func (p *Player) takeEvents() []Event {
	out := p.outbox
	p.outbox = nil
	return out
}

// Queue operations.

// Add enqueues tracks, see queue.Queue.Add.
func (p *Player) Add(ctx context.Context, tracks ...*model.Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive() {
		return ErrSessionDestroyed
	}
	return p.queue.Add(ctx, tracks...)
}

// Shuffle randomises the pending tracks.
func (p *Player) Shuffle(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive() {
		return ErrSessionDestroyed
	}
	return p.queue.Shuffle(ctx)
}

// ClearQueue drops the pending tracks but keeps the session.
func (p *Player) ClearQueue(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive() {
		return ErrSessionDestroyed
	}
	return p.queue.Clear(ctx, false)
}

// SetLoop changes the loop mode and persists it.
func (p *Player) SetLoop(ctx context.Context, loop model.LoopType) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive() {
		return ErrSessionDestroyed
	}
	p.loopType = loop
	return p.saveState(ctx)
}

// Playback control.

// PlayTrack plays the given track, or the current one when track is nil.
// Partial tracks are resolved first; a search without results is an error here.
func (p *Player) PlayTrack(ctx context.Context, track *model.Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive() {
		return ErrSessionDestroyed
	}
	if track == nil {
		track = p.queue.Current()
	}
	if !track.Valid() {
		return ErrNothingToPlay
	}

	encoded := track.Encoded
	if track.IsPartial() {
		candidates, err := p.resolve(ctx, track)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return fmt.Errorf("%w: no candidates for %q", ErrNothingToPlay, track.Query())
		}
		encoded = candidates[0].Encoded
	}
	return p.node.Play(ctx, p.options.GuildID, encoded)
}

// Stop stops the playing track. The node follows with a STOPPED end event,
// which advances the queue.
func (p *Player) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive() {
		return ErrSessionDestroyed
	}
	return p.node.Stop(ctx, p.options.GuildID)
}

// Skip ends the current track so the next one starts.
func (p *Player) Skip(ctx context.Context) error {
	return p.Stop(ctx)
}

// SetPaused pauses or resumes playback.
func (p *Player) SetPaused(ctx context.Context, paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive() {
		return ErrSessionDestroyed
	}
	if err := p.node.Pause(ctx, p.options.GuildID, paused); err != nil {
		return err
	}
	p.paused = paused
	return p.saveState(ctx)
}

// SeekTo jumps to a position in milliseconds.
func (p *Player) SeekTo(ctx context.Context, position int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive() {
		return ErrSessionDestroyed
	}
	if err := p.node.Seek(ctx, p.options.GuildID, position); err != nil {
		return err
	}
	p.position = position
	return nil
}

func (p *Player) resolve(ctx context.Context, track *model.Track) ([]*model.Track, error) {
	query := track.Query()
	if p.manager.resolver == nil {
		return nil, &ResolutionFailedError{Query: query, Err: ErrNoResolver}
	}
	candidates, err := p.manager.resolver.Resolve(ctx, query)
	if err != nil {
		return nil, &ResolutionFailedError{Query: query, Err: err}
	}
	return candidates, nil
}

// playOrStop plays a track, resolving it first when partial. A partial track
// without candidates stops playback instead. Nothing is sent once the player
// has been destroyed.
func (p *Player) playOrStop(ctx context.Context, track *model.Track) error {
	if !p.alive() {
		return nil
	}

	if track.IsResolved() {
		return p.node.Play(ctx, p.options.GuildID, track.Encoded)
	}

	candidates, err := p.resolve(ctx, track)
	if err != nil {
		return err
	}
	if !p.alive() {
		return nil
	}
	if len(candidates) == 0 {
		logger.Info("no candidates for partial track, stopping",
			logger.Guild(p.options.GuildID),
			logger.String("query", track.Query()))
		return p.node.Stop(ctx, p.options.GuildID)
	}
	return p.node.Play(ctx, p.options.GuildID, candidates[0].Encoded)
}

// Destroy stops the node player, leaves voice and deletes the persisted
// queue and metadata. A destroyed player is never revived.
func (p *Player) Destroy(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive() {
		return nil
	}

	p.connection.State = model.StateDestroying
	if err := p.node.Destroy(ctx, p.options.GuildID); err != nil {
		logger.Warn("node failed to destroy player", logger.Guild(p.options.GuildID), logger.ErrorField(err))
	}
	if p.manager.gateway != nil {
		if err := p.manager.gateway.UpdateVoiceState(p.options.GuildID, "", p.options.SelfMute, p.options.SelfDeaf); err != nil {
			logger.Warn("failed to leave voice channel", logger.Guild(p.options.GuildID), logger.ErrorField(err))
		}
	}

	err := p.queue.Clear(ctx, true)
	p.playing = false
	p.connection.State = model.StateDestroyed
	if err != nil {
		p.manager.bury(p.options.GuildID, p)
	} else {
		p.manager.forget(p.options.GuildID, p)
	}

	logger.Info("player destroyed", logger.Guild(p.options.GuildID))
	return err
}
