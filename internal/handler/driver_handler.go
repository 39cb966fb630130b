package handler

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/veloride/veloride/internal/middleware"
	"github.com/veloride/veloride/internal/model"
	"github.com/veloride/veloride/internal/service"
)

// DriverHandler serves driver onboarding, availability, position pings,
// and trip acceptance.
type DriverHandler struct {
	drivers   *service.DriverService
	locations *service.LocationService
	trips     *service.TripService
	logger    *log.Logger
}

func NewDriverHandler(drivers *service.DriverService, locations *service.LocationService, trips *service.TripService, logger *log.Logger) *DriverHandler {
	return &DriverHandler{drivers: drivers, locations: locations, trips: trips, logger: logger}
}

type registerDriverBody struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Tier  string `json:"tier"`
}

// Register handles POST /v1/drivers.
func (h *DriverHandler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerDriverBody
	if !decodeBody(w, r, &body) {
		return
	}
	d, err := h.drivers.Register(r.Context(), body.Name, body.Phone, model.Tier(body.Tier))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

type setStatusBody struct {
	Status string `json:"status"`
}

// SetStatus handles PATCH /v1/drivers/{id}/status. Drivers may only change
// their own availability.
func (h *DriverHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := requireRole(w, r, middleware.RoleDriver)
	if !ok {
		return
	}
	driverID := mux.Vars(r)["id"]
	if driverID != p.ID {
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Error: errorBody{Code: "wrong_driver", Message: "cannot change another driver's status"},
		})
		return
	}

	var body setStatusBody
	if !decodeBody(w, r, &body) {
		return
	}
	d, err := h.drivers.SetStatus(r.Context(), driverID, model.DriverStatus(body.Status))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type locationBody struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Location handles POST /v1/drivers/{id}/location, the highest-volume
// endpoint in the system.
func (h *DriverHandler) Location(w http.ResponseWriter, r *http.Request) {
	p, ok := requireRole(w, r, middleware.RoleDriver)
	if !ok {
		return
	}
	driverID := mux.Vars(r)["id"]
	if driverID != p.ID {
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Error: errorBody{Code: "wrong_driver", Message: "cannot report another driver's position"},
		})
		return
	}

	var body locationBody
	if !decodeBody(w, r, &body) {
		return
	}
	err := h.locations.Ingest(r.Context(), driverID, model.LatLng{Lat: body.Lat, Lng: body.Lng}, time.Now().UTC())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Accept handles POST /v1/drivers/{id}/accept: the assigned driver confirms
// their matched trip, moving the ride to STARTED.
func (h *DriverHandler) Accept(w http.ResponseWriter, r *http.Request) {
	p, ok := requireRole(w, r, middleware.RoleDriver)
	if !ok {
		return
	}
	driverID := mux.Vars(r)["id"]
	if driverID != p.ID {
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Error: errorBody{Code: "wrong_driver", Message: "cannot accept another driver's trip"},
		})
		return
	}

	trip, err := h.trips.Accept(r.Context(), driverID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}
