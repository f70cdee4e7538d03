package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/talonhq/linkpilot/internal/actions"
	"github.com/talonhq/linkpilot/internal/observer"
	"github.com/talonhq/linkpilot/internal/session"
	"github.com/talonhq/linkpilot/pkg/models"
)

const (
	defaultPollTimeout = 25 * time.Second
	maxPollTimeout     = 60 * time.Second
)

// Handler holds dependencies for the HTTP surface.
type Handler struct {
	registry *session.Registry
	executor *actions.Executor
	logger   *slog.Logger
}

// NewHandler creates the HTTP handler set.
func NewHandler(registry *session.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: registry,
		executor: actions.NewExecutor(logger),
		logger:   logger,
	}
}

// StartSession handles POST /v1/sessions: create or resume.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req models.StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	sess, err := h.registry.GetOrCreate(r.Context(), req.UserID)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionInfo(sess))
}

// GetSession handles GET /v1/sessions/{userId}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.registry.Get(mux.Vars(r)["userId"])
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionInfo(sess))
}

// ListSessions handles GET /v1/sessions. Listing reads a snapshot and
// never counts as activity, so a polling dashboard cannot postpone the
// idle sweep.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	infos := []models.SessionInfo{}
	for _, sess := range h.registry.Sessions() {
		infos = append(infos, sessionInfo(sess))
	}
	writeJSON(w, http.StatusOK, infos)
}

// DeleteSession handles DELETE /v1/sessions/{userId}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Close(mux.Vars(r)["userId"]); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to close session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RelayAction handles POST /v1/sessions/{userId}/actions. The session
// must already exist; recovery policy belongs to the caller.
func (h *Handler) RelayAction(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	var action actions.Action
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		writeError(w, http.StatusBadRequest, "invalid action body")
		return
	}

	sess, err := h.registry.Get(userID)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	if sess.Page().IsClosed() {
		h.writeSessionError(w, session.ErrPageClosed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), sess.ActionTimeout())
	defer cancel()

	if err := h.executor.Execute(ctx, sess.Page(), action); err != nil {
		var unknown *actions.UnknownActionError
		status := http.StatusBadGateway
		if errors.As(err, &unknown) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, models.ActionResult{OK: false, Error: err.Error()})
		return
	}
	sess.Touch()

	result := models.ActionResult{OK: true}
	checkCtx, checkCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer checkCancel()
	if found, html := observer.DetectCaptcha(checkCtx, sess.Page()); found {
		result.CaptchaDetected = true
		result.CaptchaHTML = html
	}
	writeJSON(w, http.StatusOK, result)
}

// GetPageHTML handles GET /v1/sessions/{userId}/html.
func (h *Handler) GetPageHTML(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	sess, err := h.registry.Get(userID)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	if sess.Page().IsClosed() {
		h.writeSessionError(w, session.ErrPageClosed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	html, err := sess.Page().HTML(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to read page html")
		return
	}
	writeJSON(w, http.StatusOK, models.PageHTMLResponse{UserID: userID, HTML: html})
}

// EnableManualMode handles POST /v1/sessions/{userId}/manual-mode.
func (h *Handler) EnableManualMode(w http.ResponseWriter, r *http.Request) {
	sess, err := h.registry.Get(mux.Vars(r)["userId"])
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	sess.SetManualMode(true)
	writeJSON(w, http.StatusOK, sessionInfo(sess))
}

// PollEvents handles GET /v1/events: long-poll the registry feed. Returns
// immediately with whatever is buffered, otherwise waits up to the
// requested timeout for the first event.
func (h *Handler) PollEvents(w http.ResponseWriter, r *http.Request) {
	timeout := defaultPollTimeout
	if v := r.URL.Query().Get("timeout"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
			if timeout > maxPollTimeout {
				timeout = maxPollTimeout
			}
		}
	}

	events := []models.SessionEvent{}
	feed := h.registry.Feed()

	// Drain anything already buffered.
	for {
		select {
		case ev, ok := <-feed:
			if !ok {
				writeJSON(w, http.StatusOK, events)
				return
			}
			events = append(events, sessionEvent(ev))
			continue
		default:
		}
		break
	}
	if len(events) > 0 {
		writeJSON(w, http.StatusOK, events)
		return
	}

	select {
	case ev, ok := <-feed:
		if ok {
			events = append(events, sessionEvent(ev))
		}
	case <-time.After(timeout):
	case <-r.Context().Done():
	}
	writeJSON(w, http.StatusOK, events)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNoActiveSession):
		writeError(w, http.StatusNotFound, session.ErrNoActiveSession.Error())
	case errors.Is(err, session.ErrPageClosed):
		writeError(w, http.StatusConflict, session.ErrPageClosed.Error())
	case errors.Is(err, session.ErrSessionLimit):
		writeError(w, http.StatusTooManyRequests, session.ErrSessionLimit.Error())
	case errors.Is(err, session.ErrRegistryClosed):
		writeError(w, http.StatusServiceUnavailable, session.ErrRegistryClosed.Error())
	default:
		h.logger.Error("api: session operation failed", "error", err)
		writeError(w, http.StatusBadGateway, "session operation failed")
	}
}

func sessionInfo(s *session.Session) models.SessionInfo {
	return models.SessionInfo{
		UserID:       s.UserID,
		SessionID:    s.ID,
		LoggedIn:     s.LoggedIn(),
		ManualMode:   s.ManualMode(),
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity(),
	}
}

func sessionEvent(ev session.Event) models.SessionEvent {
	return models.SessionEvent{
		UserID: ev.UserID,
		Kind:   string(ev.Kind),
		URL:    ev.URL,
		At:     ev.At,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}
