package location

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joao-fontenele/deliveryflow/internal/auth"
	"github.com/joao-fontenele/deliveryflow/internal/domain"
	"github.com/joao-fontenele/deliveryflow/internal/httpapi"
)

const ingestIdleTimeout = 2 * time.Minute

type Handler struct {
	tracker  Tracker
	logger   *slog.Logger
	now      func() time.Time
	upgrader websocket.Upgrader
}

func NewHandler(tracker Tracker, logger *slog.Logger) *Handler {
	return &Handler{
		tracker: tracker,
		logger:  logger,
		now:     time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type reportRequest struct {
	Lat float64    `json:"lat"`
	Lon float64    `json:"lon"`
	TS  *time.Time `json:"ts,omitempty"`
}

type reportResponse struct {
	Accepted bool             `json:"accepted"`
	Position *domain.Position `json:"position,omitempty"`
}

func canReport(p domain.Principal, courierID string) error {
	if p.IsCourier(courierID) || p.IsSuperAdmin() {
		return nil
	}
	return fmt.Errorf("%s may not report for courier %s: %w", p.Subject, courierID, domain.ErrForbidden)
}

func (h *Handler) report(r *http.Request, courierID string, req reportRequest) (reportResponse, error) {
	pos := domain.Position{CourierID: courierID, Lat: req.Lat, Lon: req.Lon}
	if req.TS != nil {
		pos.Timestamp = req.TS.UTC()
	} else {
		pos.Timestamp = h.now().UTC()
	}
	if err := Validate(pos, h.now()); err != nil {
		return reportResponse{}, err
	}

	accepted, err := h.tracker.Report(r.Context(), pos)
	if err != nil {
		return reportResponse{}, err
	}
	if !accepted {
		h.logger.Debug("stale position ignored", "courier_id", courierID, "ts", pos.Timestamp)
		return reportResponse{Accepted: false}, nil
	}
	return reportResponse{Accepted: true, Position: &pos}, nil
}

func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.FromContext(r.Context())
	courierID := r.PathValue("id")
	if err := canReport(principal, courierID); err != nil {
		httpapi.WriteDomainError(w, h.logger, err)
		return
	}

	var req reportRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.report(r, courierID, req)
	if err != nil {
		httpapi.WriteDomainError(w, h.logger, err)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusOK, resp)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	courierID := r.PathValue("id")
	if courierID == "" {
		httpapi.WriteError(w, h.logger, http.StatusBadRequest, "missing courier id")
		return
	}

	pos, err := h.tracker.Position(r.Context(), courierID)
	if err != nil {
		httpapi.WriteDomainError(w, h.logger, err)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusOK, pos)
}

type ack struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// HandleIngest accepts a stream of reports over a websocket from the
// courier app and acknowledges each one.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.FromContext(r.Context())
	courierID := r.PathValue("id")
	if err := canReport(principal, courierID); err != nil {
		httpapi.WriteDomainError(w, h.logger, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("location stream opened", "courier_id", courierID)
	received := 0
	for {
		_ = conn.SetReadDeadline(time.Now().Add(ingestIdleTimeout))

		var req reportRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("location stream read failed", "error", err, "courier_id", courierID)
			}
			break
		}
		received++

		resp, err := h.report(r, courierID, req)
		reply := ack{Accepted: resp.Accepted}
		if err != nil {
			reply.Error = domain.Reason(err)
			if reply.Error == "" {
				h.logger.Error("failed to store position", "error", err, "courier_id", courierID)
				reply.Error = "Internal"
			}
		}
		if err := conn.WriteJSON(reply); err != nil {
			break
		}
	}
	h.logger.Info("location stream closed", "courier_id", courierID, "reports", received)
}
