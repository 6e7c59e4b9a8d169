package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/byteagent/byte/internal/auth"
	"github.com/byteagent/byte/internal/protocol"
	"github.com/byteagent/byte/internal/thread"
	"github.com/byteagent/byte/internal/turn"
)

// chatHandler serves the WebSocket chat endpoint. Each connection runs one
// request/stream loop: the client submits a message, the handler streams the
// typed events of the turn back and closes the turn with a terminal frame.
// Application failures travel as error events; the connection stays open.
type chatHandler struct {
	auth      *auth.Service
	store     thread.Store
	responder Responder
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

func newChatHandler(svc *auth.Service, store thread.Store, responder Responder, origins []string, logger *slog.Logger) *chatHandler {
	originSet := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		originSet[o] = struct{}{}
	}
	return &chatHandler{
		auth:      svc,
		store:     store,
		responder: responder,
		logger:    logger.With("component", "chat"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true // non-browser clients
				}
				_, ok := originSet[origin]
				return ok
			},
		},
	}
}

// serve authenticates the upgrade request and runs the connection loop.
// The bearer credential arrives as a query parameter because browser
// WebSocket clients cannot set an Authorization header.
func (h *chatHandler) serve(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing token")
		return
	}
	user, err := h.auth.VerifyToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	h.logger.Info("chat connection opened", "user_id", user.ID)

	for {
		var req protocol.Request
		if err := ws.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("chat connection lost", "user_id", user.ID, "error", err)
			}
			return
		}

		if err := req.Normalize(); err != nil {
			if writeErr := ws.WriteJSON(protocol.Errorf(err.Error())); writeErr != nil {
				return
			}
			continue
		}

		if err := h.runTurn(r, ws, user, req); err != nil {
			// Transport failure; application errors were already sent as
			// error events inside runTurn.
			h.logger.Warn("turn aborted", "user_id", user.ID, "error", err)
			return
		}
	}
}

// runTurn streams one turn. The returned error is transport-level only.
func (h *chatHandler) runTurn(r *http.Request, ws *websocket.Conn, user *auth.User, req protocol.Request) error {
	ctx := r.Context()

	th, err := h.resolveThread(r, user, req)
	if err != nil {
		h.logger.Debug("thread resolution failed", "error", err)
		return ws.WriteJSON(protocol.Errorf("thread not found"))
	}

	history, err := h.store.History(ctx, th.ID)
	if err != nil {
		h.logger.Error("load history failed", "error", err, "thread_id", th.ID)
		return ws.WriteJSON(protocol.Errorf("failed to load conversation"))
	}

	userTurn := &turn.Turn{
		ID:         uuid.NewString(),
		ThreadID:   th.ID,
		Role:       turn.RoleUser,
		AnswerText: req.Message,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.store.AppendTurn(ctx, userTurn); err != nil {
		h.logger.Error("persist user turn failed", "error", err, "thread_id", th.ID)
		return ws.WriteJSON(protocol.Errorf("failed to save message"))
	}

	// The server folds its own outbound events through the same accumulator
	// the client uses, so the persisted turn matches what the client saw.
	acc := turn.NewAccumulator(th.ID)

	var transportErr error
	emit := func(ev protocol.Event) error {
		if err := acc.Apply(ev); err != nil {
			h.logger.Error("generated event rejected", "type", ev.Type, "error", err)
			return err
		}
		if err := ws.WriteJSON(ev); err != nil {
			transportErr = err
			return err
		}
		return nil
	}

	respErr := h.responder.Respond(ctx, Prompt{
		UserID:  user.ID,
		Message: req.Message,
		Mode:    req.Mode,
		History: history,
	}, emit)

	if transportErr != nil {
		return transportErr
	}
	if respErr != nil {
		h.logger.Error("responder failed", "error", respErr, "thread_id", th.ID)
		acc.Finalize(protocol.Errorf(respErr.Error()))
		return ws.WriteJSON(protocol.Errorf("generation failed"))
	}

	snap := acc.Snapshot()
	toolNames := make([]string, 0, len(snap.Invocations))
	for _, inv := range snap.Invocations {
		toolNames = append(toolNames, inv.Name)
	}
	done := protocol.Done(th.ID, toolNames)
	if t := acc.Finalize(done); t != nil && !t.Failed() {
		if err := h.store.AppendTurn(ctx, t); err != nil {
			h.logger.Error("persist assistant turn failed", "error", err, "thread_id", th.ID)
		}
		if err := h.store.TouchThread(ctx, th.ID); err != nil && !errors.Is(err, thread.ErrNotFound) {
			h.logger.Warn("touch thread failed", "error", err, "thread_id", th.ID)
		}
	}
	return ws.WriteJSON(done)
}

// resolveThread maps the request's thread id to a thread, creating one for
// the "new" sentinel with a title derived from the first message.
func (h *chatHandler) resolveThread(r *http.Request, user *auth.User, req protocol.Request) (*thread.Thread, error) {
	ctx := r.Context()
	if req.ThreadID == protocol.ThreadNew {
		return h.store.CreateThread(ctx, user.ID, thread.TitleFromMessage(req.Message))
	}

	th, err := h.store.GetThread(ctx, req.ThreadID)
	if err != nil {
		return nil, err
	}
	if th.UserID != user.ID {
		return nil, thread.ErrNotOwner
	}
	return th, nil
}
