package player

import (
	"context"
	"errors"
	"sync"
	"testing"

	"lavaqueue/cache"
	"lavaqueue/core/node"
	"lavaqueue/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

const testGuild = "100200300"

type nodeCall struct {
	Op      string
	GuildID string
	Track   string
}

type fakeNode struct {
	mu      sync.Mutex
	calls   []nodeCall
	failOps map[string]error
}

func newFakeNode() *fakeNode {
	return &fakeNode{failOps: make(map[string]error)}
}

func (n *fakeNode) record(op, guildID, track string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.failOps[op]; err != nil {
		return err
	}
	n.calls = append(n.calls, nodeCall{Op: op, GuildID: guildID, Track: track})
	return nil
}

func (n *fakeNode) Calls() []nodeCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]nodeCall(nil), n.calls...)
}

func (n *fakeNode) Identifier() string { return "main" }

func (n *fakeNode) Play(_ context.Context, guildID, encoded string) error {
	return n.record("play", guildID, encoded)
}

func (n *fakeNode) Stop(_ context.Context, guildID string) error {
	return n.record("stop", guildID, "")
}

func (n *fakeNode) Pause(_ context.Context, guildID string, paused bool) error {
	if paused {
		return n.record("pause", guildID, "")
	}
	return n.record("resume", guildID, "")
}

func (n *fakeNode) Seek(_ context.Context, guildID string, _ int64) error {
	return n.record("seek", guildID, "")
}

func (n *fakeNode) Destroy(_ context.Context, guildID string) error {
	return n.record("destroy", guildID, "")
}

func (n *fakeNode) VoiceUpdate(_ context.Context, guildID, sessionID string, server node.VoiceServer) error {
	return n.record("voiceUpdate", guildID, sessionID+"@"+server.Endpoint)
}

type fakeResolver struct {
	mu      sync.Mutex
	results map[string][]*model.Track
	err     error
	queries []string
}

func (r *fakeResolver) Resolve(_ context.Context, query string) ([]*model.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, query)
	if r.err != nil {
		return nil, r.err
	}
	return r.results[query], nil
}

type voiceCall struct {
	GuildID   string
	ChannelID string
}

type fakeGateway struct {
	mu    sync.Mutex
	calls []voiceCall
}

func (g *fakeGateway) UpdateVoiceState(guildID, channelID string, _, _ bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, voiceCall{GuildID: guildID, ChannelID: channelID})
	return nil
}

// flakyStore fails {current, previous} writes while failTracks is set and
// list deletes while failClear is set. beforeSavePlayer runs ahead of every
// metadata write.
type flakyStore struct {
	*cache.QueueCache
	mu               sync.Mutex
	failTracks       bool
	failClear        bool
	beforeSavePlayer func(state *model.PlayerState)
}

func (s *flakyStore) setFailTracks(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTracks = v
}

func (s *flakyStore) setFailClear(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failClear = v
}

func (s *flakyStore) setBeforeSavePlayer(fn func(state *model.PlayerState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeSavePlayer = fn
}

func (s *flakyStore) SaveTracks(ctx context.Context, guildID string, current, previous *model.Track) error {
	s.mu.Lock()
	fail := s.failTracks
	s.mu.Unlock()
	if fail {
		return errors.New("redis unavailable")
	}
	return s.QueueCache.SaveTracks(ctx, guildID, current, previous)
}

func (s *flakyStore) ClearTracks(ctx context.Context, guildID string) error {
	s.mu.Lock()
	fail := s.failClear
	s.mu.Unlock()
	if fail {
		return errors.New("redis unavailable")
	}
	return s.QueueCache.ClearTracks(ctx, guildID)
}

func (s *flakyStore) SavePlayer(ctx context.Context, guildID string, state *model.PlayerState) error {
	s.mu.Lock()
	hook := s.beforeSavePlayer
	s.mu.Unlock()
	if hook != nil {
		hook(state)
	}
	return s.QueueCache.SavePlayer(ctx, guildID, state)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(m *Manager) {
	for _, t := range []EventType{EventTrackStart, EventTrackException, EventTrackStuck, EventQueueEnd, EventPlayerError, EventWebSocketClosed} {
		m.On(t, func(ev Event) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, ev)
		})
	}
}

func (r *recorder) of(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	manager  *Manager
	node     *fakeNode
	resolver *fakeResolver
	gateway  *fakeGateway
	store    *flakyStore
	events   *recorder
	redis    *redis.Client
	mr       *miniredis.Miniredis
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return newHarnessOn(t, mr, client)
}

// newHarnessOn builds a second process view over the same redis.
func newHarnessOn(t *testing.T, mr *miniredis.Miniredis, client *redis.Client) *harness {
	t.Helper()
	h := &harness{
		node:     newFakeNode(),
		resolver: &fakeResolver{results: make(map[string][]*model.Track)},
		gateway:  &fakeGateway{},
		store:    &flakyStore{QueueCache: cache.NewQueueCache(client)},
		events:   &recorder{},
		redis:    client,
		mr:       mr,
	}
	h.manager = NewManager(h.store, h.resolver, WithGateway(h.gateway))
	h.manager.AddNode(h.node)
	h.events.listen(h.manager)
	return h
}

func (h *harness) spawn(t *testing.T, tracks ...*model.Track) *Player {
	t.Helper()
	p, err := h.manager.SpawnSession(context.Background(), testGuild, Options{ChannelID: "555"}, "")
	require.NoError(t, err)
	if len(tracks) > 0 {
		require.NoError(t, p.Add(context.Background(), tracks...))
	}
	return p
}

func (h *harness) trackEnd(reason node.TrackEndReason) {
	h.manager.Dispatch(node.TrackEndEvent{Base: node.Base{GuildID: testGuild}, Track: "x", Reason: reason})
	h.manager.Wait()
}

func resolved(title string) *model.Track {
	return model.NewTrack("enc-"+title, model.TrackInfo{Title: title, Author: "artist", Identifier: "id-" + title})
}

func titles(tracks []*model.Track) []string {
	out := make([]string, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t.Info.Title)
	}
	return out
}

func plays(calls []nodeCall) []string {
	var out []string
	for _, c := range calls {
		if c.Op == "play" {
			out = append(out, c.Track)
		}
	}
	return out
}
