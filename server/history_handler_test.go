package server

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"lavaqueue/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHistory struct {
	rows      []*model.PlayHistory
	lastLimit int
	err       error
}

func (s *stubHistory) Record(_ context.Context, h *model.PlayHistory) error {
	s.rows = append(s.rows, h)
	return nil
}

func (s *stubHistory) ListByGuild(_ context.Context, guildID string, limit int) ([]*model.PlayHistory, error) {
	s.lastLimit = limit
	if s.err != nil {
		return nil, s.err
	}
	var out []*model.PlayHistory
	for _, r := range s.rows {
		if r.GuildID == guildID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubHistory) Latest(context.Context, string) (*model.PlayHistory, error) { return nil, nil }

func (s *stubHistory) DeleteByGuild(_ context.Context, guildID string) (int64, error) {
	var kept []*model.PlayHistory
	for _, r := range s.rows {
		if r.GuildID != guildID {
			kept = append(kept, r)
		}
	}
	n := int64(len(s.rows) - len(kept))
	s.rows = kept
	return n, nil
}

func TestHistoryRoutes(t *testing.T) {
	repo := &stubHistory{}
	now := time.Now()
	repo.rows = []*model.PlayHistory{
		model.NewPlayHistory("g1", model.NewPartialTrack("A", "x"), now),
		model.NewPlayHistory("g2", model.NewPartialTrack("B", "x"), now),
	}
	env := newTestEnv(t, WithHistory(repo))

	rec, out := env.do(t, http.MethodGet, "/api/sessions/g1/history?limit=1000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Len(t, out["data"], 1)
	assert.Equal(t, maxHistoryLimit, repo.lastLimit)

	rec, _ = env.do(t, http.MethodGet, "/api/sessions/g1/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out = env.do(t, http.MethodDelete, "/api/sessions/g1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), out["data"].(map[string]interface{})["deleted"])
	assert.Len(t, repo.rows, 1)

	repo.err = errors.New("db down")
	rec, _ = env.do(t, http.MethodGet, "/api/sessions/g2/history", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHistoryRoutesDisabled(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/api/sessions/g1/history", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
