package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackKeepsUnknownFields(t *testing.T) {
	in := `{"track":"enc","info":{"title":"T","author":"A","artworkUrl":"https://img"},"userData":{"requester":"42"},"pluginInfo":{"albumName":"X"}}`

	track, err := DecodeTrack(in)
	require.NoError(t, err)
	assert.True(t, track.IsResolved())
	assert.Contains(t, track.Extra, "userData")
	assert.Contains(t, track.Info.Extra, "artworkUrl")

	out, err := json.Marshal(track)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestTrackWithoutExtrasStaysPlain(t *testing.T) {
	track := NewTrack("enc", TrackInfo{Title: "T", Author: "A"})

	out, err := json.Marshal(track)
	require.NoError(t, err)
	assert.JSONEq(t, `{"track":"enc","info":{"title":"T","author":"A"}}`, string(out))

	decoded, err := DecodeTrack(string(out))
	require.NoError(t, err)
	assert.Equal(t, track, decoded)
}

func TestTrackModelledFieldsWin(t *testing.T) {
	track := NewTrack("enc", TrackInfo{Title: "T"})
	track.Extra = map[string]json.RawMessage{"track": json.RawMessage(`"other"`)}

	out, err := json.Marshal(track)
	require.NoError(t, err)
	assert.JSONEq(t, `{"track":"enc","info":{"title":"T","author":""}}`, string(out))
}

func TestDecodeTrackRejects(t *testing.T) {
	for _, in := range []string{`{"info":{}}`, `not json`, `[]`} {
		_, err := DecodeTrack(in)
		assert.Error(t, err, in)
	}
	track, err := DecodeTrack("null")
	require.NoError(t, err)
	assert.Nil(t, track)
}
