// Package server exposes the token authority over HTTP. It owns request
// decoding, the sentinel-error to status-code mapping, and bearer-token
// extraction; all behavior lives in the service layer.
package server

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"session-authority/internal/auth/service"
	"session-authority/internal/security"
)

// Handler wires the HTTP auth endpoints to the token authority.
type Handler struct {
	auth   *service.AuthService
	codec  *security.TokenCodec
	logger *slog.Logger
}

// NewHandler returns a Handler serving the given AuthService. The codec
// validates bearer tokens on the authenticated endpoints.
func NewHandler(auth *service.AuthService, codec *security.TokenCodec, logger *slog.Logger) *Handler {
	return &Handler{auth: auth, codec: codec, logger: logger}
}

// Register wires the auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/reissue", h.handleReissue)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("POST /auth/reset-code", h.handleSendResetCode)
	mux.HandleFunc("POST /auth/verify-code", h.handleVerifyResetCode)
	mux.HandleFunc("POST /auth/reset-password", h.handleResetPassword)
	mux.HandleFunc("GET /healthz", handleHealthz)
}

type registerRequest struct {
	Email    string               `json:"email"`
	Password string               `json:"password"`
	Nickname string               `json:"nickname"`
	Device   *security.DeviceMeta `json:"device,omitempty"`
}

type loginRequest struct {
	Email    string               `json:"email"`
	Password string               `json:"password"`
	Device   *security.DeviceMeta `json:"device,omitempty"`
}

type reissueRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type resetCodeRequest struct {
	Email string `json:"email"`
}

type verifyCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type tokenPairResponse struct {
	AccessToken      string `json:"access_token"`
	AccessExpiresAt  int64  `json:"access_expires_at"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresAt int64  `json:"refresh_expires_at"`
	SessionID        string `json:"session_id"`
}

func toTokenPairResponse(p *service.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:      p.AccessToken,
		AccessExpiresAt:  p.AccessExpiresAt.Unix(),
		RefreshToken:     p.RefreshToken,
		RefreshExpiresAt: p.RefreshExpiresAt.Unix(),
		SessionID:        p.SessionID,
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pair, err := h.auth.Register(r.Context(), req.Email, req.Password, req.Nickname, r.UserAgent(), clientIP(r), req.Device)
	if err != nil {
		h.writeServiceError(w, "register", err)
		return
	}
	writeData(w, http.StatusCreated, toTokenPairResponse(pair))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pair, err := h.auth.Login(r.Context(), req.Email, req.Password, r.UserAgent(), clientIP(r), req.Device)
	if err != nil {
		h.writeServiceError(w, "login", err)
		return
	}
	writeData(w, http.StatusOK, toTokenPairResponse(pair))
}

func (h *Handler) handleReissue(w http.ResponseWriter, r *http.Request) {
	var req reissueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}
	pair, err := h.auth.Reissue(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeServiceError(w, "reissue", err)
		return
	}
	writeData(w, http.StatusOK, toTokenPairResponse(pair))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	if err := h.auth.LogoutCurrent(r.Context(), claims.AccountID); err != nil {
		h.writeServiceError(w, "logout", err)
		return
	}
	writeData(w, http.StatusOK, nil)
}

func (h *Handler) handleSendResetCode(w http.ResponseWriter, r *http.Request) {
	var req resetCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.auth.SendResetCode(r.Context(), req.Email); err != nil {
		h.writeServiceError(w, "reset-code", err)
		return
	}
	writeData(w, http.StatusOK, nil)
}

func (h *Handler) handleVerifyResetCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.auth.VerifyResetCode(r.Context(), req.Email, req.Code); err != nil {
		h.writeServiceError(w, "verify-code", err)
		return
	}
	writeData(w, http.StatusOK, nil)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.auth.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		h.writeServiceError(w, "reset-password", err)
		return
	}
	writeData(w, http.StatusOK, nil)
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// writeServiceError maps service sentinels to status codes. Anything
// unmatched is an infrastructure failure: logged in full, reported
// generically.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, service.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, service.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email already registered")
	case errors.Is(err, service.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "too many attempts, try again later")
	case errors.Is(err, service.ErrInvalidResetCode):
		writeError(w, http.StatusBadRequest, "invalid or expired reset code")
	case errors.Is(err, service.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "password does not meet strength requirements")
	case errors.Is(err, service.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, "invalid email address")
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (*security.AccessClaims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return nil, false
	}
	claims, err := h.codec.VerifyAccess(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return nil, false
	}
	return claims, true
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
