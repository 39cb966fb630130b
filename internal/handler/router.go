package handler

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/veloride/veloride/internal/middleware"
)

// NewRouter assembles the API routes. Registration and health are open;
// everything else requires a bearer token.
func NewRouter(
	rides *RideHandler,
	drivers *DriverHandler,
	trips *TripHandler,
	payments *PaymentHandler,
	health *HealthHandler,
	verify middleware.TokenVerifier,
	logger *log.Logger,
) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.RequestLogger(logger))

	r.HandleFunc("/health", health.Check).Methods(http.MethodGet)
	r.HandleFunc("/v1/drivers", drivers.Register).Methods(http.MethodPost)

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(middleware.Auth(verify))

	api.HandleFunc("/drivers/{id}/status", drivers.SetStatus).Methods(http.MethodPatch)
	api.HandleFunc("/drivers/{id}/location", drivers.Location).Methods(http.MethodPost)
	api.HandleFunc("/drivers/{id}/accept", drivers.Accept).Methods(http.MethodPost)

	api.HandleFunc("/rides", rides.Request).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}", rides.Get).Methods(http.MethodGet)

	api.HandleFunc("/trips/{id}/end", trips.End).Methods(http.MethodPost)

	api.HandleFunc("/payments", payments.Capture).Methods(http.MethodPost)

	return r
}
