package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"lavaqueue/core/auth"
	"lavaqueue/logger"
)

type contextKey string

const subjectKey contextKey = "subject"

// AuthHandler 管理员登录与令牌校验
type AuthHandler struct {
	signer       *auth.Signer
	passwordHash string
}

func NewAuthHandler(signer *auth.Signer, passwordHash string) *AuthHandler {
	return &AuthHandler{signer: signer, passwordHash: passwordHash}
}

// TokenHandler exchanges the admin password for a bearer token.
func (h *AuthHandler) TokenHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.signer.Login(req.Password, h.passwordHash)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		logger.Warn("管理员登录失败", logger.String("remoteAddr", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		logger.Error("failed to issue token", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Middleware requires a valid "Bearer <token>" Authorization header.
// Websocket clients that cannot set headers may pass access_token instead.
func (h *AuthHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" && r.URL.Query().Get("access_token") != "" {
			authHeader = "Bearer " + r.URL.Query().Get("access_token")
		}
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		claims, err := h.signer.ParseToken(parts[1])
		if err != nil {
			logger.Debug("rejected token", logger.ErrorField(err))
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), subjectKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SubjectFromContext returns the authenticated token subject.
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(subjectKey).(string)
	return subject
}
