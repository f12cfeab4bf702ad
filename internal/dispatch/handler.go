package dispatch

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/deliveryflow/internal/auth"
	"github.com/joao-fontenele/deliveryflow/internal/domain"
	"github.com/joao-fontenele/deliveryflow/internal/httpapi"
)

type Handler struct {
	coordinator *Coordinator
	logger      *slog.Logger
}

func NewHandler(coordinator *Coordinator, logger *slog.Logger) *Handler {
	return &Handler{
		coordinator: coordinator,
		logger:      logger,
	}
}

type courierRequest struct {
	CourierID string `json:"courier_id"`
}

type action func(ctx context.Context, orderID, courierID string, actor domain.Principal) (*domain.Order, error)

func (h *Handler) handle(w http.ResponseWriter, r *http.Request, act action) {
	principal, _ := auth.FromContext(r.Context())

	var req courierRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CourierID == "" {
		httpapi.WriteError(w, h.logger, http.StatusBadRequest, "missing courier_id")
		return
	}

	order, err := act(r.Context(), r.PathValue("id"), req.CourierID, principal)
	if err != nil {
		httpapi.WriteDomainError(w, h.logger, err)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) HandleOffer(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.coordinator.Offer)
}

func (h *Handler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.coordinator.Accept)
}

func (h *Handler) HandleDecline(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.coordinator.Decline)
}

func (h *Handler) HandleStartDelivery(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.coordinator.StartDelivery)
}

func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.coordinator.Complete)
}

func (h *Handler) HandleCreateCourier(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.FromContext(r.Context())

	var req CourierInput
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	courier, err := h.coordinator.CreateCourier(r.Context(), principal, req)
	if err != nil {
		httpapi.WriteDomainError(w, h.logger, err)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusCreated, courier)
}

func (h *Handler) HandleListCouriers(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.FromContext(r.Context())

	couriers, err := h.coordinator.ListCouriers(r.Context(), principal, r.URL.Query().Get("merchant_id"))
	if err != nil {
		httpapi.WriteDomainError(w, h.logger, err)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusOK, couriers)
}

func (h *Handler) HandleUpdateCourier(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.FromContext(r.Context())

	var req CourierUpdate
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	courier, err := h.coordinator.UpdateCourier(r.Context(), principal, r.PathValue("id"), req)
	if err != nil {
		httpapi.WriteDomainError(w, h.logger, err)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusOK, courier)
}
