package player

import (
	"context"
	"errors"
	"fmt"

	"lavaqueue/core/node"
	"lavaqueue/logger"
	"lavaqueue/model"
)

type eventHandler func(ctx context.Context, p *Player, ev node.Event) error

// mailbox holds the pending events of one guild, drained in order by a single goroutine.
type mailbox struct {
	events  []node.Event
	running bool
}

func (m *Manager) defaultHandlers() map[node.EventType]eventHandler {
	return map[node.EventType]eventHandler{
		node.EventTrackStart:      handleTrackStart,
		node.EventTrackEnd:        handleTrackEnd,
		node.EventTrackException:  handleTrackException,
		node.EventTrackStuck:      handleTrackStuck,
		node.EventWebSocketClosed: handleWebSocketClosed,
		node.EventPlayerUpdate:    handlePlayerUpdate,
	}
}

// Dispatch queues a node event for its guild and returns immediately.
// Events of one guild are handled in arrival order; guilds do not block
// each other.
func (m *Manager) Dispatch(ev node.Event) {
	if ev == nil || ev.Guild() == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	mb, ok := m.mailboxes[ev.Guild()]
	if !ok {
		mb = &mailbox{}
		m.mailboxes[ev.Guild()] = mb
	}
	mb.events = append(mb.events, ev)
	if !mb.running {
		mb.running = true
		m.wg.Add(1)
		go m.drain(ev.Guild(), mb)
	}
}

func (m *Manager) drain(guildID string, mb *mailbox) {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		if len(mb.events) == 0 {
			mb.running = false
			delete(m.mailboxes, guildID)
			m.mu.Unlock()
			return
		}
		ev := mb.events[0]
		mb.events[0] = nil
		mb.events = mb.events[1:]
		m.mu.Unlock()

		m.handle(ev)
	}
}

func (m *Manager) handle(ev node.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), m.eventTimeout)
	defer cancel()

	h, ok := m.handlers[ev.Type()]
	if !ok {
		return
	}

	p, err := m.FetchSession(ctx, ev.Guild())
	if err != nil {
		logger.Error("failed to load session for event",
			logger.Guild(ev.Guild()),
			logger.String("event", string(ev.Type())),
			logger.ErrorField(err))
		return
	}
	if p == nil {
		logger.Debug("event for unknown session ignored",
			logger.Guild(ev.Guild()),
			logger.String("event", string(ev.Type())))
		return
	}

	p.mu.Lock()
	err = runHandler(ctx, h, p, ev)
	events := p.takeEvents()
	current := p.queue.Current()
	p.mu.Unlock()

	if err != nil {
		logger.Error("event handling failed",
			logger.Guild(ev.Guild()),
			logger.String("event", string(ev.Type())),
			logger.ErrorField(err))
		events = append(events, Event{
			Type:    EventPlayerError,
			Player:  p,
			Track:   current,
			Payload: ev,
			Err:     err,
		})
	}

	for _, out := range events {
		m.emit(out)
	}
}

func runHandler(ctx context.Context, h eventHandler, p *Player, ev node.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling %s: %v", ev.Type(), r)
		}
	}()
	return h(ctx, p, ev)
}

func (m *Manager) emit(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("listener panicked",
				logger.String("event", string(ev.Type)),
				logger.Any("panic", r))
		}
	}()
	m.events.Emit(ev)
}

func handleTrackStart(ctx context.Context, p *Player, ev node.Event) error {
	if !p.alive() {
		return nil
	}
	p.playing = true
	if err := p.saveState(ctx); err != nil {
		return err
	}
	p.emit(Event{Type: EventTrackStart, Track: p.queue.Current(), Payload: ev})
	return nil
}

func handleTrackException(_ context.Context, p *Player, ev node.Event) error {
	e := ev.(node.TrackExceptionEvent)
	msg := e.Exception.Message
	if msg == "" {
		msg = e.Error
	}
	logger.Warn("track exception",
		logger.Guild(p.options.GuildID),
		logger.String("message", msg),
		logger.String("severity", e.Exception.Severity))
	p.emit(Event{Type: EventTrackException, Track: p.queue.Current(), Payload: ev, Err: errors.New(msg)})
	return nil
}

func handleTrackStuck(_ context.Context, p *Player, ev node.Event) error {
	p.emit(Event{Type: EventTrackStuck, Track: p.queue.Current(), Payload: ev})
	return nil
}

func handleWebSocketClosed(ctx context.Context, p *Player, ev node.Event) error {
	e := ev.(node.WebSocketClosedEvent)
	logger.Warn("voice websocket closed",
		logger.Guild(p.options.GuildID),
		logger.Int("code", e.Code),
		logger.String("reason", e.Reason),
		logger.Bool("byRemote", e.ByRemote))
	if p.alive() {
		p.connection.State = model.StateDisconnected
		if err := p.saveState(ctx); err != nil {
			return err
		}
	}
	p.emit(Event{Type: EventWebSocketClosed, Track: p.queue.Current(), Payload: ev})
	return nil
}

func handlePlayerUpdate(_ context.Context, p *Player, ev node.Event) error {
	e := ev.(node.PlayerUpdateEvent)
	p.position = e.State.Position
	return nil
}
