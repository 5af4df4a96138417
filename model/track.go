package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTrack is returned when a value is neither a resolved nor a partial track.
var ErrInvalidTrack = errors.New(`track(s) must be a resolved track or a partial track`)

// TrackInfo holds the display metadata the node reports for a track.
type TrackInfo struct {
	Identifier string `json:"identifier,omitempty"`
	IsSeekable bool   `json:"isSeekable,omitempty"`
	Author     string `json:"author"`
	Length     int64  `json:"length,omitempty"` // 毫秒
	IsStream   bool   `json:"isStream,omitempty"`
	Position   int64  `json:"position,omitempty"`
	Title      string `json:"title"`
	URI        string `json:"uri,omitempty"`
	SourceName string `json:"sourceName,omitempty"`

	// Extra keeps other fields the node reports, such as artworkUrl or isrc.
	Extra map[string]json.RawMessage `json:"-"`
}

// Track is a queue entry. With an encoded payload it is a resolved track the
// node can play directly; without one it is a partial track that has to be
// resolved through a search first.
type Track struct {
	Encoded string    `json:"track,omitempty"`
	Info    TrackInfo `json:"info"`

	// Extra keeps fields this package does not model, such as userData or
	// pluginInfo, so a stored entry is written back unchanged.
	Extra map[string]json.RawMessage `json:"-"`
}

type (
	trackAlias     Track
	trackInfoAlias TrackInfo
)

// UnmarshalJSON decodes a track and keeps unknown fields in Extra.
func (t *Track) UnmarshalJSON(data []byte) error {
	var a trackAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	extra, err := unknownFields(data, "track", "info")
	if err != nil {
		return err
	}
	*t = Track(a)
	t.Extra = extra
	return nil
}

// MarshalJSON encodes a track together with its Extra fields.
func (t Track) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(trackAlias(t))
	if err != nil {
		return nil, err
	}
	return withFields(data, t.Extra)
}

// UnmarshalJSON decodes track info and keeps unknown fields in Extra.
func (i *TrackInfo) UnmarshalJSON(data []byte) error {
	var a trackInfoAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	extra, err := unknownFields(data, "identifier", "isSeekable", "author", "length",
		"isStream", "position", "title", "uri", "sourceName")
	if err != nil {
		return err
	}
	*i = TrackInfo(a)
	i.Extra = extra
	return nil
}

// MarshalJSON encodes track info together with its Extra fields.
func (i TrackInfo) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(trackInfoAlias(i))
	if err != nil {
		return nil, err
	}
	return withFields(data, i.Extra)
}

// unknownFields returns the top-level keys of a JSON object that are not in known.
func unknownFields(data []byte, known ...string) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(fields, k)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// withFields merges extra keys into an encoded object. Modelled fields win.
func withFields(data []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return data, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}
	return json.Marshal(fields)
}

// NewTrack creates a resolved track from the node's encoded payload.
func NewTrack(encoded string, info TrackInfo) *Track {
	return &Track{Encoded: encoded, Info: info}
}

// NewPartialTrack creates a track that only carries title and author.
func NewPartialTrack(title, author string) *Track {
	return &Track{Info: TrackInfo{Title: title, Author: author}}
}

// IsResolved reports whether the track can be played without resolution.
func (t *Track) IsResolved() bool {
	return t != nil && t.Encoded != ""
}

// IsPartial reports whether the track needs resolution before playing.
func (t *Track) IsPartial() bool {
	return t != nil && t.Encoded == "" && (t.Info.Title != "" || t.Info.Author != "")
}

// Valid reports whether the track is either resolved or partial.
func (t *Track) Valid() bool {
	return t.IsResolved() || t.IsPartial()
}

// Query builds the search string used to resolve a partial track.
func (t *Track) Query() string {
	if t.Info.Author == "" {
		return t.Info.Title
	}
	return strings.TrimSpace(fmt.Sprintf("%s - %s", t.Info.Title, t.Info.Author))
}

// ValidateTracks checks that every track is usable, rejecting the whole batch otherwise.
func ValidateTracks(tracks ...*Track) error {
	for i, t := range tracks {
		if !t.Valid() {
			return fmt.Errorf("track at index %d: %w", i, ErrInvalidTrack)
		}
	}
	return nil
}

// DecodeTrack parses a persisted track reference. A payload carrying an
// encoded track comes back resolved, anything else comes back partial.
func DecodeTrack(data string) (*Track, error) {
	if data == "" || data == "null" {
		return nil, nil
	}
	var t Track
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal track: %w", err)
	}
	if !t.Valid() {
		return nil, ErrInvalidTrack
	}
	return &t, nil
}
