package coupons

import (
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/deliveryflow/internal/auth"
	"github.com/joao-fontenele/deliveryflow/internal/httpapi"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

type validateRequest struct {
	Code       string          `json:"code"`
	MerchantID string          `json:"merchant_id"`
	Subtotal   decimal.Decimal `json:"subtotal"`
}

func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" || req.MerchantID == "" || req.Subtotal.IsNegative() {
		httpapi.WriteError(w, h.logger, http.StatusBadRequest, "code, merchant_id and a non-negative subtotal are required")
		return
	}

	result, err := h.service.ValidateAndPrice(r.Context(), req.Code, req.MerchantID, req.Subtotal)
	if err != nil {
		httpapi.WriteDomainError(w, h.logger, err)
		return
	}

	h.logger.Info("coupon validated", "merchant_id", req.MerchantID, "code", NormalizeCode(req.Code), "valid", result.Valid, "reason", result.Reason)
	httpapi.WriteJSON(w, h.logger, http.StatusOK, result)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.FromContext(r.Context())

	var req CreateInput
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	coupon, err := h.service.Create(r.Context(), principal, req)
	if err != nil {
		httpapi.WriteDomainError(w, h.logger, err)
		return
	}

	h.logger.Info("coupon created", "merchant_id", coupon.MerchantID, "code", coupon.Code)
	httpapi.WriteJSON(w, h.logger, http.StatusCreated, coupon)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.FromContext(r.Context())
	merchantID := r.URL.Query().Get("merchant_id")
	if merchantID == "" {
		httpapi.WriteError(w, h.logger, http.StatusBadRequest, "missing merchant_id")
		return
	}

	coupon, err := h.service.Get(r.Context(), principal, merchantID, r.PathValue("code"))
	if err != nil {
		httpapi.WriteDomainError(w, h.logger, err)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusOK, coupon)
}

type setActiveRequest struct {
	MerchantID string `json:"merchant_id"`
	Active     bool   `json:"is_active"`
}

func (h *Handler) HandleSetActive(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.FromContext(r.Context())

	var req setActiveRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	coupon, err := h.service.SetActive(r.Context(), principal, req.MerchantID, r.PathValue("code"), req.Active)
	if err != nil {
		httpapi.WriteDomainError(w, h.logger, err)
		return
	}

	h.logger.Info("coupon updated", "merchant_id", coupon.MerchantID, "code", coupon.Code, "is_active", coupon.Active)
	httpapi.WriteJSON(w, h.logger, http.StatusOK, coupon)
}
