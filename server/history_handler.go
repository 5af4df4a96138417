package server

import (
	"net/http"
	"strconv"

	"lavaqueue/logger"
	"lavaqueue/repository"

	"github.com/gorilla/mux"
)

// maxHistoryLimit 单次查询的最大条数
const maxHistoryLimit = 500

// HistoryHandler 播放历史查询
type HistoryHandler struct {
	repo repository.HistoryRepository
}

// NewHistoryHandler 创建播放历史处理器
func NewHistoryHandler(repo repository.HistoryRepository) *HistoryHandler {
	return &HistoryHandler{repo: repo}
}

// ListHistory GET /api/sessions/{guildId}/history?limit=N
func (h *HistoryHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	guildID := mux.Vars(r)["guildId"]

	limit := repository.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxHistoryLimit {
			n = maxHistoryLimit
		}
		limit = n
	}

	rows, err := h.repo.ListByGuild(r.Context(), guildID, limit)
	if err != nil {
		logger.Error("Failed to list play history", logger.Guild(guildID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// ClearHistory DELETE /api/sessions/{guildId}/history
func (h *HistoryHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	guildID := mux.Vars(r)["guildId"]

	n, err := h.repo.DeleteByGuild(r.Context(), guildID)
	if err != nil {
		logger.Error("Failed to clear play history", logger.Guild(guildID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to clear history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
