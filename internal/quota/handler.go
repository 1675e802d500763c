package quota

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/KTo1/ai-friend-sub000/internal/api"
)

type limitsSource interface {
	Resolve(ctx context.Context, userID string) LimitConfig
}

// Handler exposes quota status and the admin reset over HTTP.
type Handler struct {
	tracker *Tracker
	limits  limitsSource
}

func NewHandler(tracker *Tracker, limits limitsSource) *Handler {
	return &Handler{tracker: tracker, limits: limits}
}

// GetStatus returns the current window usage for a user.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		api.HandleError(w, api.NewBadRequestError("user ID is required"))
		return
	}

	limits := h.limits.Resolve(r.Context(), userID)
	status, err := h.tracker.Status(r.Context(), userID, limits)
	if err != nil {
		slog.Error("fetching quota status", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, status)
}

// Reset clears all window counters for a user.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		api.HandleError(w, api.NewBadRequestError("user ID is required"))
		return
	}

	if err := h.tracker.ResetCounters(r.Context(), userID); err != nil {
		slog.Error("resetting quota counters", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONMessage(w, http.StatusOK, "quota counters reset")
}
