package handler

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/veloride/veloride/internal/middleware"
	"github.com/veloride/veloride/internal/model"
	"github.com/veloride/veloride/internal/service"
)

// TripHandler serves trip completion.
type TripHandler struct {
	trips  *service.TripService
	logger *log.Logger
}

func NewTripHandler(trips *service.TripService, logger *log.Logger) *TripHandler {
	return &TripHandler{trips: trips, logger: logger}
}

type endTripBody struct {
	FinalLat   float64  `json:"final_lat"`
	FinalLng   float64  `json:"final_lng"`
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

type endTripResponse struct {
	Trip    *model.Trip    `json:"trip"`
	Ride    *model.Ride    `json:"ride"`
	Payment *model.Payment `json:"payment"`
}

// End handles POST /v1/trips/{id}/end. Only the assigned driver may end
// the trip.
func (h *TripHandler) End(w http.ResponseWriter, r *http.Request) {
	p, ok := requireRole(w, r, middleware.RoleDriver)
	if !ok {
		return
	}
	var body endTripBody
	if !decodeBody(w, r, &body) {
		return
	}

	result, err := h.trips.End(r.Context(), service.EndRequest{
		TripID:     mux.Vars(r)["id"],
		DriverID:   p.ID,
		Final:      model.LatLng{Lat: body.FinalLat, Lng: body.FinalLng},
		DistanceKm: body.DistanceKm,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, endTripResponse{
		Trip:    result.Trip,
		Ride:    result.Ride,
		Payment: result.Payment,
	})
}
