package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"lavaqueue/core/player"
	"lavaqueue/logger"
	"lavaqueue/model"

	"github.com/gorilla/mux"
)

// SessionHandler 会话与队列管理接口
type SessionHandler struct {
	manager  *player.Manager
	resolver player.Resolver
}

func NewSessionHandler(manager *player.Manager, resolver player.Resolver) *SessionHandler {
	return &SessionHandler{manager: manager, resolver: resolver}
}

type spawnRequest struct {
	ChannelID     string `json:"channelId"`
	TextChannelID string `json:"textChannelId"`
	ShardID       int    `json:"shardId"`
	SelfDeaf      bool   `json:"selfDeaf"`
	SelfMute      bool   `json:"selfMute"`
	Node          string `json:"node"`
	Connect       bool   `json:"connect"`
}

type addTracksRequest struct {
	Tracks []*model.Track `json:"tracks"`
	Query  string         `json:"query"`
	Play   bool           `json:"play"`
}

type loopRequest struct {
	LoopType string `json:"loopType"`
}

// session loads the player named in the route, writing a 404 when it does not exist.
func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*player.Player, bool) {
	guildID := mux.Vars(r)["guildId"]
	p, err := h.manager.FetchSession(r.Context(), guildID)
	if err != nil {
		logger.Error("获取会话失败", logger.Guild(guildID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return p, true
}

// ListSessions 列出本进程持有的会话
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Sessions())
}

// GetSession 获取会话快照
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	p, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p.Snapshot())
}

// SpawnSession 创建会话（已存在则直接返回）
func (h *SessionHandler) SpawnSession(w http.ResponseWriter, r *http.Request) {
	guildID := mux.Vars(r)["guildId"]

	var req spawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	opts := player.Options{
		ChannelID:     req.ChannelID,
		TextChannelID: req.TextChannelID,
		ShardID:       req.ShardID,
		SelfDeaf:      req.SelfDeaf,
		SelfMute:      req.SelfMute,
	}
	p, err := h.manager.SpawnSession(r.Context(), guildID, opts, req.Node)
	if err != nil {
		writeFailure(w, guildID, "spawn session", err)
		return
	}

	if req.Connect {
		if err := p.Connect(r.Context()); err != nil {
			writeFailure(w, guildID, "connect", err)
			return
		}
	}

	logger.Info("会话已创建", logger.Guild(guildID), logger.String("channel", req.ChannelID))
	writeJSON(w, http.StatusCreated, p.Snapshot())
}

// DestroySession 销毁会话并清除持久化数据
func (h *SessionHandler) DestroySession(w http.ResponseWriter, r *http.Request) {
	p, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := p.Destroy(r.Context()); err != nil {
		writeFailure(w, p.GuildID(), "destroy", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddTracks 添加曲目；query 会先被解析为候选曲目
func (h *SessionHandler) AddTracks(w http.ResponseWriter, r *http.Request) {
	var req addTracksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Tracks) == 0 && req.Query == "" {
		writeError(w, http.StatusBadRequest, "tracks or query is required")
		return
	}

	p, ok := h.session(w, r)
	if !ok {
		return
	}

	tracks := req.Tracks
	if req.Query != "" {
		if h.resolver == nil {
			writeError(w, http.StatusServiceUnavailable, "track resolution is not configured")
			return
		}
		candidates, err := h.resolver.Resolve(r.Context(), req.Query)
		if err != nil {
			writeFailure(w, p.GuildID(), "resolve", &player.ResolutionFailedError{Query: req.Query, Err: err})
			return
		}
		if len(candidates) == 0 {
			writeError(w, http.StatusNotFound, "no matches")
			return
		}
		tracks = append(tracks, candidates[0])
	}

	if err := p.Add(r.Context(), tracks...); err != nil {
		writeFailure(w, p.GuildID(), "add tracks", err)
		return
	}

	if req.Play && !p.Playing() {
		if err := p.PlayTrack(r.Context(), nil); err != nil {
			writeFailure(w, p.GuildID(), "play", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, p.Snapshot())
}

// ClearTracks 清空待播列表
func (h *SessionHandler) ClearTracks(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, "clear", func(p *player.Player) error { return p.ClearQueue(r.Context()) })
}

// Shuffle 打乱待播列表
func (h *SessionHandler) Shuffle(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, "shuffle", func(p *player.Player) error { return p.Shuffle(r.Context()) })
}

// Skip 跳过当前曲目
func (h *SessionHandler) Skip(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, "skip", func(p *player.Player) error { return p.Skip(r.Context()) })
}

// Pause 暂停
func (h *SessionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, "pause", func(p *player.Player) error { return p.SetPaused(r.Context(), true) })
}

// Resume 继续播放
func (h *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, "resume", func(p *player.Player) error { return p.SetPaused(r.Context(), false) })
}

// SetLoop 设置循环模式
func (h *SessionHandler) SetLoop(w http.ResponseWriter, r *http.Request) {
	var req loopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	loop, err := model.ParseLoopType(req.LoopType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.apply(w, r, "set loop", func(p *player.Player) error { return p.SetLoop(r.Context(), loop) })
}

func (h *SessionHandler) apply(w http.ResponseWriter, r *http.Request, action string, fn func(*player.Player) error) {
	p, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := fn(p); err != nil {
		writeFailure(w, p.GuildID(), action, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Snapshot())
}

// writeFailure maps player errors to status codes.
func writeFailure(w http.ResponseWriter, guildID, action string, err error) {
	var resolution *player.ResolutionFailedError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInvalidTrack):
		status = http.StatusBadRequest
	case errors.Is(err, player.ErrSessionDestroyed):
		status = http.StatusGone
	case errors.Is(err, player.ErrNothingToPlay):
		status = http.StatusConflict
	case errors.Is(err, player.ErrNoNode):
		status = http.StatusServiceUnavailable
	case errors.As(err, &resolution):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		logger.Error("操作失败", logger.Guild(guildID), logger.String("action", action), logger.ErrorField(err))
	} else {
		logger.Warn("操作被拒绝", logger.Guild(guildID), logger.String("action", action), logger.ErrorField(err))
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"message": message,
	})
}
