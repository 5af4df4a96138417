package server

import (
	"net/http"

	"lavaqueue/core/hub"
	"lavaqueue/logger"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventsHandler 通过 WebSocket 推送播放器事件
type EventsHandler struct {
	hub *hub.Hub
}

func NewEventsHandler(h *hub.Hub) *EventsHandler {
	return &EventsHandler{hub: h}
}

// Subscribe upgrades the request and streams events, optionally filtered by ?guildId=.
func (h *EventsHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	client := hub.NewClient(h.hub, conn, r.URL.Query().Get("guildId"))
	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump(r.Context())
}
