package player

import (
	"sync"

	"lavaqueue/core/node"
	"lavaqueue/model"
)

// EventType names an event emitted to listeners.
type EventType string

const (
	EventTrackStart      EventType = "trackStart"
	EventTrackException  EventType = "trackException"
	EventTrackStuck      EventType = "trackStuck"
	EventQueueEnd        EventType = "queueEnd"
	EventPlayerError     EventType = "playerError"
	EventWebSocketClosed EventType = "webSocketClosed"
)

// Event is emitted to the surrounding system. Payload is the node event that
// caused it, if any.
type Event struct {
	Type    EventType
	Player  *Player
	Track   *model.Track
	Payload node.Event
	Err     error
}

// Listener handles an emitted event. Listeners run after the player has been
// unlocked, so they may call back into it.
type Listener func(Event)

// Emitter is a listener table keyed by event type.
type Emitter struct {
	mu        sync.RWMutex
	listeners map[EventType][]Listener
}

// NewEmitter returns an empty listener table.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[EventType][]Listener)}
}

// On registers a listener for one event type.
func (e *Emitter) On(t EventType, fn Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[t] = append(e.listeners[t], fn)
}

// Emit calls every listener registered for the event's type.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	listeners := append([]Listener(nil), e.listeners[ev.Type]...)
	e.mu.RUnlock()

	for _, fn := range listeners {
		fn(ev)
	}
}
