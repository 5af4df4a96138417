package player

import (
	"context"

	"lavaqueue/core/node"
	"lavaqueue/logger"
	"lavaqueue/model"
)

// handleTrackEnd advances the queue after a track ends. The new
// {current, previous} pair is always written before the next play or stop
// instruction goes out; a failed write aborts the transition.
func handleTrackEnd(ctx context.Context, p *Player, ev node.Event) error {
	e := ev.(node.TrackEndEvent)
	// On REPLACED the caller has already started the next track.
	if e.Reason == node.ReasonReplaced {
		return nil
	}
	if !p.alive() {
		return nil
	}

	p.playing = false
	if err := p.saveState(ctx); err != nil {
		return err
	}

	current := p.queue.Current()
	logger.Debug("track ended",
		logger.Guild(p.options.GuildID),
		logger.String("reason", string(e.Reason)),
		logger.String("loop", p.loopType.String()),
		logger.Int("queued", p.queue.Size()))

	switch p.loopType {
	case model.LoopTrack:
		if current != nil {
			if err := p.queue.Persist(ctx); err != nil {
				return err
			}
			return p.playOrStop(ctx, current)
		}
	case model.LoopQueue:
		if current != nil {
			if err := p.queue.Add(ctx, current); err != nil {
				return err
			}
		}
	}

	return p.advance(ctx, ev)
}

// advance rotates the queue and plays the new current track, or reports the
// end of the queue when nothing is left.
func (p *Player) advance(ctx context.Context, cause node.Event) error {
	// queueEnd was already emitted once
	if p.queue.Current() == nil && p.queue.Size() == 0 {
		return nil
	}

	if err := p.queue.Rotate(ctx); err != nil {
		return err
	}
	if !p.alive() {
		return nil
	}

	next := p.queue.Current()
	if next == nil {
		logger.Info("queue ended", logger.Guild(p.options.GuildID))
		p.emit(Event{Type: EventQueueEnd, Track: p.queue.Previous(), Payload: cause})
		return nil
	}
	return p.playOrStop(ctx, next)
}
