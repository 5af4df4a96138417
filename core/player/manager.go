package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lavaqueue/core/node"
	"lavaqueue/core/queue"
	"lavaqueue/logger"
	"lavaqueue/model"
)

// Store is the persistence the manager and its players write through to.
type Store interface {
	queue.Store
	SavePlayer(ctx context.Context, guildID string, state *model.PlayerState) error
	LoadSession(ctx context.Context, guildID string) (*model.SessionSnapshot, error)
}

// Manager finds or creates the player of each guild and routes node events to it.
type Manager struct {
	store    Store
	resolver Resolver
	gateway  VoiceGateway
	events   *Emitter

	eventTimeout time.Duration
	handlers     map[node.EventType]eventHandler

	mu          sync.Mutex
	nodes       map[string]Node
	defaultNode string
	players     map[string]*Player
	tombstones  map[string]struct{} // destroyed guilds whose records are not deleted yet
	mailboxes   map[string]*mailbox
	wg          sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithGateway sets the voice gateway used to join and leave channels.
func WithGateway(g VoiceGateway) ManagerOption {
	return func(m *Manager) { m.gateway = g }
}

// WithEventTimeout bounds the handling of a single node event.
func WithEventTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.eventTimeout = d }
}

// NewManager creates a session manager backed by store.
func NewManager(store Store, resolver Resolver, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:        store,
		resolver:     resolver,
		events:       NewEmitter(),
		eventTimeout: 30 * time.Second,
		nodes:        make(map[string]Node),
		players:      make(map[string]*Player),
		tombstones:   make(map[string]struct{}),
		mailboxes:    make(map[string]*mailbox),
	}
	m.handlers = m.defaultHandlers()
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// On registers a listener for emitted events.
func (m *Manager) On(t EventType, fn Listener) {
	m.events.On(t, fn)
}

// AddNode registers a node. The first node added is the default.
func (m *Manager) AddNode(n Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[n.Identifier()] = n
	if m.defaultNode == "" {
		m.defaultNode = n.Identifier()
	}
}

// ResolveNode returns the named node, falling back to the default one.
func (m *Manager) ResolveNode(identifier string) Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[identifier]; ok {
		return n
	}
	return m.nodes[m.defaultNode]
}

// FetchSession returns the live player of a guild, rehydrating it from the
// store when this process has not seen it yet. It returns nil when no
// session exists.
func (m *Manager) FetchSession(ctx context.Context, guildID string) (*Player, error) {
	m.mu.Lock()
	p, ok := m.players[guildID]
	_, buried := m.tombstones[guildID]
	m.mu.Unlock()
	if ok {
		return p, nil
	}
	if buried {
		// A destroyed session is never revived; only retry the delete.
		if err := m.purge(ctx, guildID); err != nil {
			logger.Warn("failed to delete records of destroyed session", logger.Guild(guildID), logger.ErrorField(err))
		}
		return nil, nil
	}

	p, err := m.Rehydrate(ctx, guildID)
	if err != nil || p == nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// first registration wins a concurrent rehydrate
	if existing, ok := m.players[guildID]; ok {
		return existing, nil
	}
	m.players[guildID] = p
	logger.Info("session rehydrated",
		logger.Guild(guildID),
		logger.Int("queued", p.queue.Size()),
		logger.String("loop", p.loopType.String()))
	return p, nil
}

// Rehydrate builds a player from the persisted snapshot without registering
// it. It returns nil when no metadata record exists.
func (m *Manager) Rehydrate(ctx context.Context, guildID string) (*Player, error) {
	snapshot, err := m.store.LoadSession(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", guildID, err)
	}
	if snapshot == nil {
		return nil, nil
	}

	n := m.ResolveNode(snapshot.Player.Node)
	if n == nil {
		return nil, ErrNoNode
	}

	p := newPlayer(m, n, Options{GuildID: guildID})
	p.restore(snapshot)
	return p, nil
}

// SpawnSession returns the existing session of a guild or creates and
// persists a new one on the hinted node. The registry slot is claimed before
// the metadata is written, so racing spawns never overwrite the winner's
// persisted state.
func (m *Manager) SpawnSession(ctx context.Context, guildID string, opts Options, nodeHint string) (*Player, error) {
	p, err := m.FetchSession(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	if m.buried(guildID) {
		return nil, fmt.Errorf("%w: records of guild %s are still being deleted", ErrSessionDestroyed, guildID)
	}

	n := m.ResolveNode(nodeHint)
	if n == nil {
		return nil, ErrNoNode
	}

	opts.GuildID = guildID
	p = newPlayer(m, n, opts)

	p.mu.Lock()
	defer p.mu.Unlock()

	m.mu.Lock()
	if existing, ok := m.players[guildID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.players[guildID] = p
	m.mu.Unlock()

	if err := p.saveState(ctx); err != nil {
		p.connection.State = model.StateDestroyed
		m.forget(guildID, p)
		return nil, fmt.Errorf("failed to persist new session: %w", err)
	}
	logger.Info("session spawned", logger.Guild(guildID), logger.String("node", n.Identifier()))
	return p, nil
}

// Sessions returns the guild ids of the live players.
func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.players))
	for id := range m.players {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) forget(guildID string, p *Player) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.players[guildID] == p {
		delete(m.players, guildID)
	}
}

// bury unregisters a destroyed player whose records could not be deleted.
// Until purge succeeds the guild is never rehydrated.
func (m *Manager) bury(guildID string, p *Player) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.players[guildID] == p {
		delete(m.players, guildID)
	}
	m.tombstones[guildID] = struct{}{}
}

func (m *Manager) buried(guildID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tombstones[guildID]
	return ok
}

// purge deletes the records of a destroyed session and lifts its tombstone.
func (m *Manager) purge(ctx context.Context, guildID string) error {
	if err := m.store.ClearTracks(ctx, guildID); err != nil {
		return err
	}
	if err := m.store.DeleteSession(ctx, guildID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.tombstones, guildID)
	m.mu.Unlock()
	logger.Info("records of destroyed session deleted", logger.Guild(guildID))
	return nil
}

// HandleVoiceServerUpdate records the voice server of a guild and forwards
// it to the node once the voice session id is known.
func (m *Manager) HandleVoiceServerUpdate(ctx context.Context, server node.VoiceServer) error {
	p, err := m.FetchSession(ctx, server.GuildID)
	if err != nil || p == nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handleVoiceServer(ctx, server)
}

// HandleVoiceStateUpdate records the bot's own voice state in a guild. An
// empty channelID means the bot left or was removed from voice.
func (m *Manager) HandleVoiceStateUpdate(ctx context.Context, guildID, sessionID, channelID string) error {
	p, err := m.FetchSession(ctx, guildID)
	if err != nil || p == nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handleVoiceState(ctx, sessionID, channelID)
}

// Wait blocks until every dispatched event has been handled.
func (m *Manager) Wait() {
	m.wg.Wait()
}
