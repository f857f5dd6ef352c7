package units

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ventas-erp/ventas-erp/internal/masterdata/shared"
	"github.com/ventas-erp/ventas-erp/internal/platform/httpx"
)

type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers the unit registry under /units.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/units", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Show)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
}

type unitRequest struct {
	Name         string `json:"name" validate:"required"`
	Abbreviation string `json:"abbreviation" validate:"required"`
}

type listResponse struct {
	Items []Unit `json:"items"`
	Total int    `json:"total"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filters := shared.FiltersFromRequest(r)
	units, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.respondError(w, "list units failed", err)
		return
	}
	if units == nil {
		units = []Unit{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Items: units, Total: total, Page: filters.Page, Limit: filters.Limit})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, ok := unitID(w, r)
	if !ok {
		return
	}
	unit, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get unit failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, unit)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	created, err := h.service.Create(r.Context(), Unit{Name: req.Name, Abbreviation: req.Abbreviation})
	if err != nil {
		h.respondError(w, "create unit failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := unitID(w, r)
	if !ok {
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	updated, err := h.service.Update(r.Context(), id, Unit{Name: req.Name, Abbreviation: req.Abbreviation})
	if err != nil {
		h.respondError(w, "update unit failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := unitID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, "delete unit failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (unitRequest, bool) {
	var req unitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.TypedProblem(w, http.StatusBadRequest, "malformed_request", "Malformed Request", err.Error())
		return unitRequest{}, false
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.TypedProblem(w, http.StatusUnprocessableEntity, "invalid_input", "Invalid Input", err.Error())
		return unitRequest{}, false
	}
	return req, true
}

func (h *Handler) respondError(w http.ResponseWriter, msg string, err error) {
	if !errors.Is(err, httpx.ErrNotFound) && !errors.Is(err, httpx.ErrValidation) {
		h.logger.Error(msg, "error", err)
	}
	httpx.RespondError(w, err)
}

func unitID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.TypedProblem(w, http.StatusBadRequest, "malformed_request", "Malformed Request", "invalid unit ID")
		return 0, false
	}
	return id, true
}
