// Package queue holds the per-guild track queue and mirrors every mutation
// into the persistent store as it happens.
package queue

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"lavaqueue/model"
)

// Store is the persistence a Queue writes through to.
type Store interface {
	SaveTracks(ctx context.Context, guildID string, current, previous *model.Track) error
	PushTrack(ctx context.Context, guildID string, track *model.Track) error
	PopTrack(ctx context.Context, guildID string) error
	ListTracks(ctx context.Context, guildID string) ([]*model.Track, error)
	ReplaceTracks(ctx context.Context, guildID string, tracks []*model.Track) error
	ListRawTracks(ctx context.Context, guildID string) ([]string, error)
	ReplaceRawTracks(ctx context.Context, guildID string, entries []string) error
	ClearTracks(ctx context.Context, guildID string) error
	DeleteSession(ctx context.Context, guildID string) error
}

// Queue is the ordered list of pending tracks plus the current and previous
// slots of one guild. It is not safe for concurrent use; the owning player
// serialises access.
type Queue struct {
	guildID  string
	store    Store
	items    []*model.Track
	current  *model.Track
	previous *model.Track
	rng      *rand.Rand
}

// Option configures a Queue.
type Option func(*Queue)

// WithRand sets the random source used by Shuffle.
func WithRand(r *rand.Rand) Option {
	return func(q *Queue) {
		q.rng = r
	}
}

// New creates an empty queue for a guild.
func New(guildID string, store Store, opts ...Option) *Queue {
	q := &Queue{
		guildID: guildID,
		store:   store,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Restore loads rehydrated state into the queue without writing to the store.
func (q *Queue) Restore(current, previous *model.Track, items []*model.Track) {
	q.current = current
	q.previous = previous
	q.items = append([]*model.Track(nil), items...)
}

// GuildID returns the guild the queue belongs to.
func (q *Queue) GuildID() string { return q.guildID }

// Current returns the playing (or about to play) track, or nil.
func (q *Queue) Current() *model.Track { return q.current }

// Previous returns the last finished track, or nil.
func (q *Queue) Previous() *model.Track { return q.previous }

// Items returns a copy of the pending tracks in play order.
func (q *Queue) Items() []*model.Track {
	return append([]*model.Track(nil), q.items...)
}

// Size is the number of pending tracks.
func (q *Queue) Size() int { return len(q.items) }

// TotalSize counts the pending tracks plus the current one.
func (q *Queue) TotalSize() int {
	if q.current != nil {
		return len(q.items) + 1
	}
	return len(q.items)
}

// Add enqueues tracks. When nothing is current the first track becomes
// current and is persisted before the rest are appended. Each appended track
// is persisted on its own, so a failure keeps the already written prefix.
func (q *Queue) Add(ctx context.Context, tracks ...*model.Track) error {
	if len(tracks) == 0 {
		return nil
	}
	if err := model.ValidateTracks(tracks...); err != nil {
		return err
	}

	batch := tracks
	if q.current == nil {
		q.current = batch[0]
		if err := q.Persist(ctx); err != nil {
			q.current = nil
			return err
		}
		batch = batch[1:]
	}

	for _, track := range batch {
		if err := q.store.PushTrack(ctx, q.guildID, track); err != nil {
			return fmt.Errorf("failed to enqueue track: %w", err)
		}
		q.items = append(q.items, track)
	}
	return nil
}

// ShiftTrack removes and returns the head of the pending list, or nil when
// the list is empty. Current and previous are left alone.
func (q *Queue) ShiftTrack(ctx context.Context) (*model.Track, error) {
	if len(q.items) == 0 {
		return nil, nil
	}
	if err := q.store.PopTrack(ctx, q.guildID); err != nil {
		return nil, fmt.Errorf("failed to shift track: %w", err)
	}
	head := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return head, nil
}

// Rotate moves current into previous, takes the next pending track as
// current and persists the pair.
func (q *Queue) Rotate(ctx context.Context) error {
	next, err := q.ShiftTrack(ctx)
	if err != nil {
		return err
	}
	q.previous = q.current
	q.current = next
	return q.Persist(ctx)
}

// Persist writes {current, previous} to the store.
func (q *Queue) Persist(ctx context.Context) error {
	if err := q.store.SaveTracks(ctx, q.guildID, q.current, q.previous); err != nil {
		return fmt.Errorf("failed to persist current track: %w", err)
	}
	return nil
}

// Clear drops every pending track. With clearPlayer the guild's metadata
// record is deleted as well.
func (q *Queue) Clear(ctx context.Context, clearPlayer bool) error {
	q.items = nil
	if err := q.store.ClearTracks(ctx, q.guildID); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	if clearPlayer {
		if err := q.store.DeleteSession(ctx, q.guildID); err != nil {
			return fmt.Errorf("failed to clear player: %w", err)
		}
	}
	return nil
}

// Shuffle permutes the persisted pending list with Fisher-Yates and rewrites
// the stored entries verbatim, so every entry survives byte for byte. The
// in-memory list adopts the new order of the decodable entries.
func (q *Queue) Shuffle(ctx context.Context) error {
	entries, err := q.store.ListRawTracks(ctx, q.guildID)
	if err != nil {
		return fmt.Errorf("failed to read queue for shuffle: %w", err)
	}

	for i := len(entries) - 1; i > 0; i-- {
		j := q.rng.Intn(i + 1)
		entries[i], entries[j] = entries[j], entries[i]
	}

	if err := q.store.ReplaceRawTracks(ctx, q.guildID, entries); err != nil {
		return fmt.Errorf("failed to write shuffled queue: %w", err)
	}

	items := make([]*model.Track, 0, len(entries))
	for _, entry := range entries {
		if track, err := model.DecodeTrack(entry); err == nil && track != nil {
			items = append(items, track)
		}
	}
	q.items = items
	return nil
}
