package handler

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/veloride/veloride/internal/idempotency"
	"github.com/veloride/veloride/internal/middleware"
	"github.com/veloride/veloride/internal/model"
	"github.com/veloride/veloride/internal/service"
)

// PaymentHandler serves payment capture.
type PaymentHandler struct {
	payments *service.PaymentService
	idem     *idempotency.Store
	logger   *log.Logger
}

func NewPaymentHandler(payments *service.PaymentService, idem *idempotency.Store, logger *log.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, idem: idem, logger: logger}
}

type captureBody struct {
	TripID string  `json:"trip_id"`
	Amount float64 `json:"amount"`
	Method string  `json:"method"`
}

// Capture handles POST /v1/payments. The claimed amount and method are
// verified against the server-side payment row before any charge. The
// Idempotency-Key doubles as the provider charge key, so a replayed capture
// can never double-charge even if the stored response was lost.
func (h *PaymentHandler) Capture(w http.ResponseWriter, r *http.Request) {
	p, ok := requireRole(w, r, middleware.RoleRider)
	if !ok {
		return
	}
	var body captureBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.TripID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: errorBody{Code: "missing_trip_id", Message: "trip_id is required"},
		})
		return
	}
	if !model.ValidPaymentMethod(model.PaymentMethod(body.Method)) {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: errorBody{Code: "invalid_payment_method", Message: "unknown payment method"},
		})
		return
	}

	clientKey := r.Header.Get("Idempotency-Key")
	if clientKey == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: errorBody{Code: "missing_idempotency_key", Message: "Idempotency-Key header is required for captures"},
		})
		return
	}

	fp := idempotency.Fingerprint(map[string]any{
		"trip_id": body.TripID,
		"amount":  body.Amount,
		"method":  body.Method,
	})
	token, replay, err := h.idem.Begin(r.Context(), "payments.capture", p.ID, clientKey, fp)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if replay != nil {
		w.Header().Set("Idempotent-Replay", "true")
		writeRaw(w, replay.StatusCode, replay.Body)
		return
	}

	payment, err := h.payments.Capture(r.Context(), service.CaptureRequest{
		RiderID:   p.ID,
		TripID:    body.TripID,
		Amount:    body.Amount,
		Method:    model.PaymentMethod(body.Method),
		ClientKey: clientKey,
	})
	if err != nil {
		if aerr := h.idem.Abort(r.Context(), "payments.capture", p.ID, clientKey, token); aerr != nil {
			h.logger.Printf("idempotency abort failed for key %s: %v", clientKey, aerr)
		}
		writeError(w, h.logger, err)
		return
	}

	respBody, _ := json.Marshal(payment)
	if cerr := h.idem.Complete(r.Context(), "payments.capture", p.ID, clientKey, token, fp, http.StatusOK, respBody); cerr != nil {
		h.logger.Printf("idempotency complete failed for key %s: %v", clientKey, cerr)
	}
	writeRaw(w, http.StatusOK, respBody)
}
