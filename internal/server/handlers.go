package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/byteagent/byte/internal/auth"
	"github.com/byteagent/byte/internal/thread"
)

const maxBodyBytes = 1 << 20

// authHandler serves signup, login and the current-user endpoint.
type authHandler struct {
	svc    *auth.Service
	logger *slog.Logger
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string     `json:"token"`
	User  *auth.User `json:"user"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return false
	}
	return true
}

func (h *authHandler) signup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	user, token, err := h.svc.Signup(r.Context(), req.Email, req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email_taken", "email already registered")
		return
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "weak_password", err.Error())
		return
	case err != nil:
		h.logger.Error("signup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token, User: user})
}

func (h *authHandler) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, User: user})
}

func (h *authHandler) me(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// threadHandler serves thread listing, history and deletion.
type threadHandler struct {
	store  thread.Store
	logger *slog.Logger
}

func (h *threadHandler) list(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	threads, err := h.store.ListThreads(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("list threads failed", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	if threads == nil {
		threads = []*thread.Thread{}
	}
	writeJSON(w, http.StatusOK, threads)
}

// ownThread loads the thread and enforces ownership. Foreign threads report
// not-found rather than forbidden so ids do not leak.
func (h *threadHandler) ownThread(w http.ResponseWriter, r *http.Request) (*thread.Thread, bool) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return nil, false
	}

	th, err := h.store.GetThread(r.Context(), r.PathValue("id"))
	if errors.Is(err, thread.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "thread not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("get thread failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return nil, false
	}
	if th.UserID != user.ID {
		writeError(w, http.StatusNotFound, "not_found", "thread not found")
		return nil, false
	}
	return th, true
}

func (h *threadHandler) history(w http.ResponseWriter, r *http.Request) {
	th, ok := h.ownThread(w, r)
	if !ok {
		return
	}

	turns, err := h.store.History(r.Context(), th.ID)
	if err != nil {
		h.logger.Error("load history failed", "error", err, "thread_id", th.ID)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thread": th,
		"turns":  turns,
	})
}

func (h *threadHandler) delete(w http.ResponseWriter, r *http.Request) {
	th, ok := h.ownThread(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteThread(r.Context(), th.ID); err != nil {
		h.logger.Error("delete thread failed", "error", err, "thread_id", th.ID)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
