package orders

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/joao-fontenele/deliveryflow/internal/auth"
	"github.com/joao-fontenele/deliveryflow/internal/domain"
	"github.com/joao-fontenele/deliveryflow/internal/httpapi"
	"github.com/joao-fontenele/deliveryflow/internal/store"
)

const WebhookSecretHeader = "X-Webhook-Secret"

type Handler struct {
	service       *Service
	webhookSecret string
	logger        *slog.Logger
}

func NewHandler(service *Service, webhookSecret string, logger *slog.Logger) *Handler {
	return &Handler{
		service:       service,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.FromContext(r.Context())

	var req CreateInput
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.service.Create(r.Context(), principal, req)
	if err != nil {
		httpapi.WriteDomainError(w, h.logger, err)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.FromContext(r.Context())
	id := r.PathValue("id")
	if id == "" {
		httpapi.WriteError(w, h.logger, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.service.Get(r.Context(), principal, id)
	if err != nil {
		httpapi.WriteDomainError(w, h.logger, err)
		return
	}

	h.logger.Info("order retrieved", "order_id", order.ID)
	httpapi.WriteJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.FromContext(r.Context())
	query := r.URL.Query()

	filter := store.OrderFilter{
		MerchantID: query.Get("merchant_id"),
		Status:     domain.OrderStatus(query.Get("status")),
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			httpapi.WriteError(w, h.logger, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	orders, err := h.service.List(r.Context(), principal, filter)
	if err != nil {
		httpapi.WriteDomainError(w, h.logger, err)
		return
	}

	h.logger.Info("orders listed", "count", len(orders), "merchant_id", filter.MerchantID)
	httpapi.WriteJSON(w, h.logger, http.StatusOK, orders)
}

func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.FromContext(r.Context())

	events, err := h.service.Events(r.Context(), principal, r.PathValue("id"))
	if err != nil {
		httpapi.WriteDomainError(w, h.logger, err)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusOK, events)
}

type transitionRequest struct {
	TargetStatus   domain.OrderStatus  `json:"target_status"`
	ExpectedStatus *domain.OrderStatus `json:"expected_status,omitempty"`
}

func (h *Handler) HandleTransition(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.FromContext(r.Context())
	id := r.PathValue("id")

	var req transitionRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TargetStatus == "" {
		httpapi.WriteError(w, h.logger, http.StatusBadRequest, "missing target_status")
		return
	}

	order, err := h.service.Advance(r.Context(), id, req.TargetStatus, principal, req.ExpectedStatus)
	if err != nil {
		httpapi.WriteDomainError(w, h.logger, err)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusOK, order)
}

type paymentRequest struct {
	OrderID string               `json:"order_id"`
	Status  domain.PaymentStatus `json:"status"`
}

// HandlePaymentWebhook is called by the payment provider, which
// authenticates with a shared secret instead of a bearer token.
func (h *Handler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get(WebhookSecretHeader)
	if h.webhookSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.webhookSecret)) != 1 {
		httpapi.WriteJSON(w, h.logger, http.StatusUnauthorized, httpapi.ErrorResponse{Error: "invalid webhook secret", Code: "Unauthenticated"})
		return
	}

	var req paymentRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrderID == "" {
		httpapi.WriteError(w, h.logger, http.StatusBadRequest, "missing order_id")
		return
	}

	order, err := h.service.HandlePayment(r.Context(), req.OrderID, req.Status)
	if err != nil {
		httpapi.WriteDomainError(w, h.logger, err)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusOK, order)
}
