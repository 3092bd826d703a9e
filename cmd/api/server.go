package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jnst/asset-delivery-engine/internal/model"
	"github.com/jnst/asset-delivery-engine/internal/service"
)

const (
	contentTypeJSON        = "Content-Type"
	applicationJSON        = "application/json"
	failedToEncodeResponse = "failed to encode response"
	maxRequestBytes        = 1 << 16
)

// APIServer adapts the delivery engine to HTTP for the invoice front-end and operator tooling.
type APIServer struct {
	deliveryService service.DeliveryService
	logger          *slog.Logger
	now             func() time.Time
}

// NewAPIServer creates a new API server instance.
func NewAPIServer(deliveryService service.DeliveryService, l *slog.Logger) *APIServer {
	return &APIServer{
		deliveryService: deliveryService,
		logger:          l,
		now:             time.Now,
	}
}

type createDeliveryRequest struct {
	OrderID          string `json:"order_id"`
	RecipientInvoice string `json:"recipient_invoice"`
	UnitCount        int64  `json:"unit_count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Routes registers the handlers on a new mux.
func (s *APIServer) Routes(prometheusHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/deliveries", s.CreateDelivery)
	mux.HandleFunc("/deliveries/get", s.GetDelivery)
	mux.HandleFunc("/health", s.HealthCheck)
	mux.HandleFunc("/metrics", s.Metrics)
	if prometheusHandler != nil {
		mux.Handle("/metrics/prometheus", prometheusHandler)
	}

	return mux
}

// CreateDelivery handles POST /deliveries once payment for an order has cleared.
func (s *APIServer) CreateDelivery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createDeliveryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}
	if req.OrderID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "order_id is required"})
		return
	}

	receipt, err := s.deliveryService.RequestDelivery(r.Context(), &model.DeliveryOrder{
		OrderID:          req.OrderID,
		RecipientInvoice: req.RecipientInvoice,
		UnitCount:        req.UnitCount,
		CreatedAt:        s.now().UTC(),
	})
	if err != nil {
		s.writeError(w, req.OrderID, err)
		return
	}

	s.writeJSON(w, http.StatusOK, receipt)
}

// GetDelivery handles GET /deliveries/get?order_id= for delivery status polling.
func (s *APIServer) GetDelivery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orderID := r.URL.Query().Get("order_id")
	if orderID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "order_id parameter is required"})
		return
	}

	receipt, err := s.deliveryService.GetDelivery(r.Context(), orderID)
	if err != nil {
		s.writeError(w, orderID, err)
		return
	}

	s.writeJSON(w, http.StatusOK, receipt)
}

// HealthCheck handles GET /health. Unhealthy engines answer 503.
func (s *APIServer) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	snap := s.deliveryService.GetHealth()

	status := http.StatusOK
	if !snap.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, snap)
}

// Metrics handles GET /metrics with the aggregate counters.
func (s *APIServer) Metrics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deliveryService.GetMetrics())
}

func (s *APIServer) writeError(w http.ResponseWriter, orderID string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("delivery request failed",
			slog.String("order_id", orderID),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}

	s.writeJSON(w, status, errorResponse{Error: model.PublicMessage(err)})
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(contentTypeJSON, applicationJSON)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(failedToEncodeResponse, slog.String("error", err.Error()))
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidInvoiceFormat),
		errors.Is(err, model.ErrInvoiceTooLong),
		errors.Is(err, model.ErrInvalidUnitCount):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrReceiptNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, model.ErrServiceUnhealthy), errors.Is(err, model.ErrDecryptionFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
