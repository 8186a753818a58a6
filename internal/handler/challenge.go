package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/stride/internal/auth"
	"github.com/dukerupert/stride/internal/catalog"
	"github.com/dukerupert/stride/internal/challenge"
	"github.com/dukerupert/stride/internal/model"
	"github.com/dukerupert/stride/internal/websocket"
)

const notifyTimeout = 30 * time.Second

// CompletionNotifier is told about every challenge a user finishes.
type CompletionNotifier interface {
	NotifyCompletion(ctx context.Context, userID, challengeID, title string, points int)
}

type ChallengeHandler struct {
	engine   *challenge.Engine
	hub      *websocket.Hub
	notifier CompletionNotifier
	logger   *slog.Logger
}

func NewChallengeHandler(engine *challenge.Engine, hub *websocket.Hub, notifier CompletionNotifier, logger *slog.Logger) *ChallengeHandler {
	return &ChallengeHandler{engine: engine, hub: hub, notifier: notifier, logger: logger}
}

func (h *ChallengeHandler) broadcast(userID string, msg websocket.Message) {
	if h.hub != nil {
		h.hub.BroadcastTo(userID, msg)
	}
}

// storageFailure logs err and answers 500.
func (h *ChallengeHandler) storageFailure(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "user", auth.UserID(r.Context()), "request_id", auth.RequestID(r.Context()), "error", err)
	writeError(w, http.StatusInternalServerError, msg)
}

// now returns the current instant in the caller's zone.
func (h *ChallengeHandler) now(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	loc, err := requestLocation(r, h.engine.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid timezone")
		return time.Time{}, false
	}
	return h.engine.Now().In(loc), true
}

// ListChallenges handles GET /api/challenges
func (h *ChallengeHandler) ListChallenges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	difficulty := q.Get("difficulty")
	if difficulty != "" && difficulty != catalog.FilterAll && !model.Difficulty(difficulty).Valid() {
		writeError(w, http.StatusBadRequest, "invalid difficulty")
		return
	}

	defs := h.engine.Catalog().Filter(difficulty, q.Get("goal"))
	if defs == nil {
		defs = []model.ChallengeDefinition{}
	}
	writeJSON(w, http.StatusOK, defs)
}

// GetChallenge handles GET /api/challenges/{id}
func (h *ChallengeHandler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	def, ok := h.engine.Catalog().Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "challenge not found")
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// Join handles POST /api/challenges/{id}/join
func (h *ChallengeHandler) Join(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	challengeID := r.PathValue("id")

	enrollment, created, err := h.engine.Join(r.Context(), userID, challengeID)
	if errors.Is(err, challenge.ErrUnknownChallenge) {
		writeError(w, http.StatusBadRequest, "unknown challenge")
		return
	}
	if err != nil {
		h.storageFailure(w, r, "failed to join challenge", err)
		return
	}

	if !created {
		writeJSON(w, http.StatusOK, enrollment)
		return
	}

	h.broadcast(userID, websocket.NewMessage("challenge", "joined", challengeID, nil))
	writeJSON(w, http.StatusCreated, enrollment)
}

// CheckIn handles POST /api/challenges/{id}/check-in
func (h *ChallengeHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	challengeID := r.PathValue("id")

	now, ok := h.now(w, r)
	if !ok {
		return
	}

	res, err := h.engine.TapToday(r.Context(), userID, challengeID, now)
	if errors.Is(err, challenge.ErrUnknownChallenge) {
		writeError(w, http.StatusBadRequest, "unknown challenge")
		return
	}
	if err != nil {
		h.storageFailure(w, r, "failed to record check-in", err)
		return
	}

	if res.Outcome.Accepted {
		extra := map[string]any{
			"taps":             res.Outcome.Taps,
			"day_key":          res.Outcome.DayKey,
			"progress_percent": res.Progress.Percent,
		}
		action := "checked_in"
		if res.Completed {
			action = "completed"
			extra["reward_points"] = res.RewardPoints
		}
		h.broadcast(userID, websocket.NewMessage("challenge", action, challengeID, extra))
	}

	if res.Completed && h.notifier != nil {
		def, _ := h.engine.Catalog().Get(challengeID)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			h.notifier.NotifyCompletion(ctx, userID, challengeID, def.Title, res.RewardPoints)
		}()
	}

	writeJSON(w, http.StatusOK, res)
}

// Progress handles GET /api/challenges/{id}/progress
func (h *ChallengeHandler) Progress(w http.ResponseWriter, r *http.Request) {
	now, ok := h.now(w, r)
	if !ok {
		return
	}

	view, err := h.engine.Progress(r.Context(), auth.UserID(r.Context()), r.PathValue("id"), now)
	if errors.Is(err, challenge.ErrUnknownChallenge) {
		writeError(w, http.StatusNotFound, "challenge not found")
		return
	}
	if err != nil {
		h.storageFailure(w, r, "failed to load progress", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Unenroll handles DELETE /api/challenges/{id}/enrollment
func (h *ChallengeHandler) Unenroll(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	challengeID := r.PathValue("id")

	removed, err := h.engine.Unenroll(r.Context(), userID, challengeID)
	if err != nil {
		h.storageFailure(w, r, "failed to leave challenge", err)
		return
	}
	if removed {
		h.broadcast(userID, websocket.NewMessage("challenge", "unenrolled", challengeID, nil))
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListEnrollments handles GET /api/enrollments?status=active|completed
func (h *ChallengeHandler) ListEnrollments(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && status != "active" && status != "completed" {
		writeError(w, http.StatusBadRequest, "status must be active or completed")
		return
	}

	list, err := h.engine.List(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.storageFailure(w, r, "failed to list enrollments", err)
		return
	}

	filtered := make([]model.Enrollment, 0, len(list))
	for _, en := range list {
		switch {
		case status == "active" && en.Completed:
			continue
		case status == "completed" && !en.Completed:
			continue
		}
		filtered = append(filtered, en)
	}
	writeJSON(w, http.StatusOK, filtered)
}

// Points handles GET /api/points
func (h *ChallengeHandler) Points(w http.ResponseWriter, r *http.Request) {
	total, err := h.engine.TotalPoints(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.storageFailure(w, r, "failed to load points", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"total_points": total})
}

// Activity handles GET /api/activity?limit=n
func (h *ChallengeHandler) Activity(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", challenge.SummaryEvents)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	events, err := h.engine.Recent(r.Context(), auth.UserID(r.Context()), limit)
	if err != nil {
		h.storageFailure(w, r, "failed to load activity", err)
		return
	}
	if events == nil {
		events = []model.ActivityEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// Dashboard handles GET /api/dashboard
func (h *ChallengeHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.Summary(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.storageFailure(w, r, "failed to load dashboard", err)
		return
	}
	if summary.Recent == nil {
		summary.Recent = []model.ActivityEvent{}
	}
	writeJSON(w, http.StatusOK, summary)
}
