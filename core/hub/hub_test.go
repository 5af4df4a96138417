package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lavaqueue/core/node"
	"lavaqueue/core/player"
	"lavaqueue/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := New()
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

// subscribe serves one websocket subscriber for guildID and returns the dialled client side.
func subscribe(t *testing.T, h *Hub, guildID string) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(h, conn, guildID)
		h.Register(client)
		go client.WritePump()
		client.ReadPump(context.Background())
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return h.ClientCount() > 0 }, time.Second, 10*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg WSMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestFromEvent(t *testing.T) {
	raw := `{"op":"event","type":"TrackStuckEvent","guildId":"g1","thresholdMs":500}`
	payload, err := node.Decode([]byte(raw))
	require.NoError(t, err)

	msg := FromEvent(player.Event{
		Type:    player.EventTrackStuck,
		Track:   model.NewPartialTrack("Song", "Band"),
		Payload: payload,
		Err:     errors.New("stuck"),
	})

	assert.Equal(t, MsgTypeEvent, msg.Type)
	assert.Equal(t, "trackStuck", msg.Event)
	assert.Equal(t, "g1", msg.GuildID)
	assert.Equal(t, "stuck", msg.Error)
	assert.Equal(t, "Song", msg.Track.Info.Title)
	assert.JSONEq(t, raw, string(msg.Payload))
}

func TestHub_PublishReachesSubscriber(t *testing.T) {
	h := startHub(t)
	conn := subscribe(t, h, "")

	h.Publish(&WSMessage{Type: MsgTypeEvent, Event: "queueEnd", GuildID: "g1"})

	msg := readMessage(t, conn)
	assert.Equal(t, "queueEnd", msg.Event)
	assert.Equal(t, "g1", msg.GuildID)
	assert.NotZero(t, msg.Timestamp)
}

func TestHub_GuildFilter(t *testing.T) {
	h := startHub(t)
	conn := subscribe(t, h, "g2")

	h.Publish(&WSMessage{Type: MsgTypeEvent, Event: "trackStart", GuildID: "g1"})
	h.Publish(&WSMessage{Type: MsgTypeEvent, Event: "queueEnd", GuildID: "g2"})

	msg := readMessage(t, conn)
	assert.Equal(t, "queueEnd", msg.Event)
	assert.Equal(t, "g2", msg.GuildID)
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	h := startHub(t)
	conn := subscribe(t, h, "")

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
