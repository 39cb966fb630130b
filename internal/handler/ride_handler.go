package handler

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/veloride/veloride/internal/idempotency"
	"github.com/veloride/veloride/internal/middleware"
	"github.com/veloride/veloride/internal/model"
	"github.com/veloride/veloride/internal/service"
)

// RideHandler serves ride booking and lookup.
type RideHandler struct {
	rides  *service.RideService
	idem   *idempotency.Store
	logger *log.Logger
}

func NewRideHandler(rides *service.RideService, idem *idempotency.Store, logger *log.Logger) *RideHandler {
	return &RideHandler{rides: rides, idem: idem, logger: logger}
}

type requestRideBody struct {
	Pickup        model.LatLng `json:"pickup"`
	Dest          model.LatLng `json:"dest"`
	Tier          string       `json:"tier"`
	PaymentMethod string       `json:"payment_method"`
}

// Request handles POST /v1/rides. Retries carrying the same Idempotency-Key
// replay the original response instead of booking twice.
func (h *RideHandler) Request(w http.ResponseWriter, r *http.Request) {
	p, ok := requireRole(w, r, middleware.RoleRider)
	if !ok {
		return
	}
	var body requestRideBody
	if !decodeBody(w, r, &body) {
		return
	}

	clientKey := r.Header.Get("Idempotency-Key")
	if clientKey == "" {
		resp, err := h.book(r, p, body, "")
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
		return
	}

	fp := idempotency.Fingerprint(map[string]any{
		"pickup":         body.Pickup,
		"dest":           body.Dest,
		"tier":           body.Tier,
		"payment_method": body.PaymentMethod,
	})
	token, replay, err := h.idem.Begin(r.Context(), "rides.request", p.ID, clientKey, fp)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if replay != nil {
		w.Header().Set("Idempotent-Replay", "true")
		writeRaw(w, replay.StatusCode, replay.Body)
		return
	}

	resp, err := h.book(r, p, body, clientKey)
	if err != nil {
		if aerr := h.idem.Abort(r.Context(), "rides.request", p.ID, clientKey, token); aerr != nil {
			h.logger.Printf("idempotency abort failed for key %s: %v", clientKey, aerr)
		}
		writeError(w, h.logger, err)
		return
	}

	respBody, _ := json.Marshal(resp)
	if cerr := h.idem.Complete(r.Context(), "rides.request", p.ID, clientKey, token, fp, http.StatusCreated, respBody); cerr != nil {
		h.logger.Printf("idempotency complete failed for key %s: %v", clientKey, cerr)
	}
	writeRaw(w, http.StatusCreated, respBody)
}

type rideResponse struct {
	*model.Ride
	FareBreakdown *service.FareBreakdown `json:"fare_breakdown"`
}

func (h *RideHandler) book(r *http.Request, p middleware.Principal, body requestRideBody, clientKey string) (*rideResponse, error) {
	ride, breakdown, err := h.rides.Request(r.Context(), service.RideRequest{
		RiderID:        p.ID,
		Pickup:         body.Pickup,
		Dest:           body.Dest,
		Tier:           model.Tier(body.Tier),
		PaymentMethod:  model.PaymentMethod(body.PaymentMethod),
		IdempotencyKey: clientKey,
	})
	if err != nil {
		return nil, err
	}
	return &rideResponse{Ride: ride, FareBreakdown: breakdown}, nil
}

// Get handles GET /v1/rides/{id}. Visible to the booking rider and, once
// assigned, the driver.
func (h *RideHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Error: errorBody{Code: "unauthorized", Message: "authentication required"},
		})
		return
	}

	rideID := mux.Vars(r)["id"]
	ride, err := h.rides.Get(r.Context(), rideID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	allowed := (p.Role == middleware.RoleRider && ride.RiderID == p.ID) ||
		(p.Role == middleware.RoleDriver && ride.AssignedDriverID != nil && *ride.AssignedDriverID == p.ID)
	if !allowed {
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error: errorBody{Code: "ride_not_found", Message: "ride not found"},
		})
		return
	}
	writeJSON(w, http.StatusOK, ride)
}
