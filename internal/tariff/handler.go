package tariff

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/KTo1/ai-friend-sub000/internal/api"
)

// Handler exposes tariff plan administration over HTTP.
type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

type UpdateLimitRequest struct {
	Field string `json:"field" validate:"required"`
	Value int    `json:"value" validate:"gte=0"`
}

type AssignPlanRequest struct {
	PlanID    uuid.UUID  `json:"plan_id" validate:"required"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ListPlans returns all tariff plans.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.svc.ListPlans(r.Context())
	if err != nil {
		slog.Error("listing tariff plans", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, plans)
}

// GetPlan returns one tariff plan by ID.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	planID, err := uuid.Parse(chi.URLParam(r, "planID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid plan ID"))
		return
	}

	plan, err := h.svc.GetPlan(r.Context(), planID)
	if errors.Is(err, ErrPlanNotFound) {
		api.HandleError(w, api.NewNotFoundError("plan not found"))
		return
	}
	if err != nil {
		slog.Error("fetching tariff plan", "error", err, "plan_id", planID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, plan)
}

// UpdateLimit sets one named limit field on a plan.
func (h *Handler) UpdateLimit(w http.ResponseWriter, r *http.Request) {
	planID, err := uuid.Parse(chi.URLParam(r, "planID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid plan ID"))
		return
	}

	var req UpdateLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	err = h.svc.UpdateLimitField(r.Context(), planID, req.Field, req.Value)
	switch {
	case errors.Is(err, ErrUnknownLimitField):
		api.HandleError(w, api.NewBadRequestError(err.Error()))
	case errors.Is(err, ErrPlanNotFound):
		api.HandleError(w, api.NewNotFoundError("plan not found"))
	case err != nil:
		slog.Error("updating tariff limit", "error", err, "plan_id", planID)
		api.HandleError(w, api.ErrInternalServer)
	default:
		api.JSONMessage(w, http.StatusOK, "limit updated")
	}
}

// AssignPlan sets the tariff plan for a user.
func (h *Handler) AssignPlan(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		api.HandleError(w, api.NewBadRequestError("user ID is required"))
		return
	}

	var req AssignPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	err := h.svc.AssignPlan(r.Context(), userID, req.PlanID, req.ExpiresAt)
	switch {
	case errors.Is(err, ErrPlanNotFound):
		api.HandleError(w, api.NewNotFoundError("plan not found"))
	case err != nil:
		slog.Error("assigning tariff plan", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
	default:
		api.JSONMessage(w, http.StatusOK, "tariff plan assigned")
	}
}
