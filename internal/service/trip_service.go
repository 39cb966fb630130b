package service

import (
	"context"
	"log"

	"github.com/veloride/veloride/internal/apperr"
	"github.com/veloride/veloride/internal/model"
	"github.com/veloride/veloride/internal/repository"
	"github.com/veloride/veloride/pkg/geo"
)

// TripStore is the persistence surface for trip confirmation and completion.
type TripStore interface {
	GetByID(ctx context.Context, id string) (*model.Trip, error)
	ConfirmDriver(ctx context.Context, driverID string) (*model.Trip, error)
	End(ctx context.Context, tripID string, final model.LatLng, distanceKm, fare float64, currency string) (*repository.EndResult, error)
}

// GeoUpserter re-indexes a driver who becomes available again.
type GeoUpserter interface {
	Upsert(ctx context.Context, tier model.Tier, driverID string, p model.LatLng) error
}

// TripService owns driver acceptance and trip completion.
type TripService struct {
	trips    TripStore
	rides    RideStore
	geoIndex GeoUpserter
	cache    RideCache
	pricing  *PricingService
	currency string
	logger   *log.Logger
}

func NewTripService(trips TripStore, rides RideStore, geoIndex GeoUpserter, cache RideCache, pricing *PricingService, currency string, logger *log.Logger) *TripService {
	return &TripService{
		trips:    trips,
		rides:    rides,
		geoIndex: geoIndex,
		cache:    cache,
		pricing:  pricing,
		currency: currency,
		logger:   logger,
	}
}

// Accept records the assigned driver's confirmation and moves the ride to
// STARTED.
func (s *TripService) Accept(ctx context.Context, driverID string) (*model.Trip, error) {
	trip, err := s.trips.ConfirmDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if cerr := s.cache.Invalidate(ctx, trip.RideID); cerr != nil {
		s.logger.Printf("cache invalidation failed for ride %s: %v", trip.RideID, cerr)
	}
	s.logger.Printf("driver %s confirmed trip %s", driverID, trip.ID)
	return trip, nil
}

// EndRequest carries the drop-off report. DistanceKm is the odometer
// distance if the driver app reports one; otherwise the pickup-to-drop-off
// haversine distance is used.
type EndRequest struct {
	TripID     string
	DriverID   string
	Final      model.LatLng
	DistanceKm *float64
}

// End completes a trip and returns the finalized trip with its pending
// payment. The final fare uses the surge multiplier locked at request time.
func (s *TripService) End(ctx context.Context, req EndRequest) (*repository.EndResult, error) {
	if !validPoint(req.Final) {
		return nil, apperr.Validation("invalid_coordinates", "final position out of range")
	}
	if req.DistanceKm != nil && *req.DistanceKm < 0 {
		return nil, apperr.Validation("invalid_distance", "distance cannot be negative")
	}

	trip, err := s.trips.GetByID(ctx, req.TripID)
	if err != nil {
		return nil, err
	}
	if trip.DriverID != req.DriverID {
		return nil, apperr.Unauthorized("not_assigned_driver", "trip belongs to another driver")
	}

	ride, err := s.rides.GetByID(ctx, trip.RideID)
	if err != nil {
		return nil, err
	}

	distance := geo.HaversineKm(ride.Pickup, req.Final)
	if req.DistanceKm != nil {
		distance = *req.DistanceKm
	}
	fare := s.pricing.Fare(ride.Tier, distance, ride.SurgeMultiplier)

	result, err := s.trips.End(ctx, req.TripID, req.Final, distance, fare, s.currency)
	if err != nil {
		return nil, err
	}

	if cerr := s.cache.Invalidate(ctx, trip.RideID); cerr != nil {
		s.logger.Printf("cache invalidation failed for ride %s: %v", trip.RideID, cerr)
	}
	// The driver is available again at the drop-off point.
	if gerr := s.geoIndex.Upsert(ctx, ride.Tier, trip.DriverID, req.Final); gerr != nil {
		s.logger.Printf("geo re-index failed for driver %s: %v", trip.DriverID, gerr)
	}

	s.logger.Printf("trip %s ended: %.2fkm, fare %.2f %s, payment %s pending",
		trip.ID, distance, fare, s.currency, result.Payment.ID)
	return result, nil
}
