// Package gateway is the public entry point. It routes order, dispatch and
// coupon calls to the orders service and courier location calls to the
// location service. Websocket streams are served by the backends directly.
package gateway

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/deliveryflow/internal/httpapi"
)

type Handler struct {
	ordersProxy   *ServiceProxy
	locationProxy *ServiceProxy
	logger        *slog.Logger
}

func NewHandler(ordersProxy, locationProxy *ServiceProxy, logger *slog.Logger) *Handler {
	return &Handler{
		ordersProxy:   ordersProxy,
		locationProxy: locationProxy,
		logger:        logger,
	}
}

func (h *Handler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.ordersProxy)
}

func (h *Handler) HandleLocation(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.locationProxy)
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy) {
	path := r.URL.Path
	resp, err := proxy.ForwardRequest(r.Context(), r, path)
	if err != nil {
		h.logger.Error("failed to forward request", "error", err, "path", path)
		httpapi.WriteError(w, h.logger, http.StatusBadGateway, "service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.Info("request proxied", "method", r.Method, "path", path, "status", resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("failed to copy response body", "error", err)
	}
}
