package service

import (
	"context"
	"log"

	"github.com/veloride/veloride/internal/apperr"
	"github.com/veloride/veloride/internal/model"
)

// RideStore is the persistence surface ride booking needs.
type RideStore interface {
	Create(ctx context.Context, ride *model.Ride) (*model.Ride, error)
	GetByID(ctx context.Context, id string) (*model.Ride, error)
	CancelNoDriver(ctx context.Context, rideID string) (*model.Ride, error)
}

// RideCache is the short-TTL snapshot cache consulted by lookups.
type RideCache interface {
	Get(ctx context.Context, rideID string) (*model.Ride, error)
	Set(ctx context.Context, ride *model.Ride) error
	Invalidate(ctx context.Context, rideID string) error
}

// Matcher accepts rides for asynchronous driver search.
type Matcher interface {
	Enqueue(ride *model.Ride) error
}

// Pricer quotes fares and feeds the surge demand window.
type Pricer interface {
	Estimate(ctx context.Context, tier model.Tier, pickup, dest model.LatLng) FareBreakdown
	RecordDemand(ctx context.Context, pickup model.LatLng)
}

// RideService owns ride booking and lookup.
type RideService struct {
	rides   RideStore
	cache   RideCache
	pricing Pricer
	matcher Matcher
	logger  *log.Logger
}

func NewRideService(rides RideStore, cache RideCache, pricing Pricer, matcher Matcher, logger *log.Logger) *RideService {
	return &RideService{
		rides:   rides,
		cache:   cache,
		pricing: pricing,
		matcher: matcher,
		logger:  logger,
	}
}

// RideRequest carries the validated booking parameters.
type RideRequest struct {
	RiderID        string
	Pickup         model.LatLng
	Dest           model.LatLng
	Tier           model.Tier
	PaymentMethod  model.PaymentMethod
	IdempotencyKey string
}

func validPoint(p model.LatLng) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Request books a ride: prices it at the current surge, persists it in
// REQUESTED, counts demand for the pickup cell, and hands it to matching.
// The surge multiplier is locked into the ride here; later surge changes
// never reprice it.
func (s *RideService) Request(ctx context.Context, req RideRequest) (*model.Ride, *FareBreakdown, error) {
	if !validPoint(req.Pickup) || !validPoint(req.Dest) {
		return nil, nil, apperr.Validation("invalid_coordinates", "pickup or destination out of range")
	}
	if !model.ValidTier(req.Tier) {
		return nil, nil, apperr.Validation("invalid_tier", "unknown service tier")
	}
	if !model.ValidPaymentMethod(req.PaymentMethod) {
		return nil, nil, apperr.Validation("invalid_payment_method", "unknown payment method")
	}

	breakdown := s.pricing.Estimate(ctx, req.Tier, req.Pickup, req.Dest)

	ride := &model.Ride{
		RiderID:         req.RiderID,
		Pickup:          req.Pickup,
		Dest:            req.Dest,
		Tier:            req.Tier,
		PaymentMethod:   req.PaymentMethod,
		EstimatedFare:   breakdown.Estimate,
		SurgeMultiplier: breakdown.SurgeMultiplier,
	}
	if req.IdempotencyKey != "" {
		ride.IdempotencyKey = &req.IdempotencyKey
	}

	created, err := s.rides.Create(ctx, ride)
	if err != nil {
		return nil, nil, err
	}

	s.pricing.RecordDemand(ctx, req.Pickup)

	// Cache the snapshot before the matcher can see the ride. The matcher
	// invalidates this entry when it assigns a driver; caching afterwards
	// could bury that invalidation under a stale REQUESTED snapshot.
	if cerr := s.cache.Set(ctx, created); cerr != nil {
		s.logger.Printf("ride cache set failed for %s: %v", created.ID, cerr)
	}

	if err := s.matcher.Enqueue(created); err != nil {
		// The ride is durable but no matcher will ever see it. Cancel it
		// so the rider gets a definitive answer rather than a stuck
		// REQUESTED row.
		if _, cerr := s.rides.CancelNoDriver(ctx, created.ID); cerr != nil {
			s.logger.Printf("failed to cancel unmatchable ride %s: %v", created.ID, cerr)
		}
		if cerr := s.cache.Invalidate(ctx, created.ID); cerr != nil {
			s.logger.Printf("ride cache invalidate failed for %s: %v", created.ID, cerr)
		}
		return nil, nil, err
	}

	s.logger.Printf("ride %s requested by rider %s (tier %s, est fare %.2f, surge %.2fx)",
		created.ID, created.RiderID, created.Tier, created.EstimatedFare, created.SurgeMultiplier)
	return created, &breakdown, nil
}

// Get returns the ride, serving repeat polls from the snapshot cache.
func (s *RideService) Get(ctx context.Context, rideID string) (*model.Ride, error) {
	if cached, err := s.cache.Get(ctx, rideID); err == nil && cached != nil {
		return cached, nil
	} else if err != nil {
		s.logger.Printf("ride cache get failed for %s: %v", rideID, err)
	}

	ride, err := s.rides.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if cerr := s.cache.Set(ctx, ride); cerr != nil {
		s.logger.Printf("ride cache set failed for %s: %v", rideID, cerr)
	}
	return ride, nil
}
