package service

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/veloride/veloride/config"
	"github.com/veloride/veloride/internal/apperr"
	"github.com/veloride/veloride/internal/model"
)

// CandidateSource yields nearby drivers for a tier, nearest first.
type CandidateSource interface {
	Nearby(ctx context.Context, tier model.Tier, p model.LatLng, radiusKm float64, limit int) ([]model.Candidate, error)
	Remove(ctx context.Context, tier model.Tier, driverID string) error
}

// AllocationLocker serializes matchers competing for the same driver.
type AllocationLocker interface {
	Acquire(ctx context.Context, driverID string) (token string, ok bool, err error)
	Release(ctx context.Context, driverID, token string) error
}

// AssignStore is the transactional backend for assignment and cancellation.
type AssignStore interface {
	AssignDriver(ctx context.Context, rideID, driverID string) (*model.Ride, *model.Trip, error)
	CancelNoDriver(ctx context.Context, rideID string) (*model.Ride, error)
}

// RideInvalidator drops cached ride snapshots after a transition.
type RideInvalidator interface {
	Invalidate(ctx context.Context, rideID string) error
}

// DemandReleaser returns a matched ride's demand count to the surge window.
type DemandReleaser interface {
	ReleaseDemand(ctx context.Context, point model.LatLng)
}

// MatchingService runs driver search for requested rides on a bounded
// worker pool. Each ride gets one matcher goroutine-slot; the matcher
// expands its search radius until it assigns a driver or exhausts the
// time budget, at which point the ride is cancelled.
type MatchingService struct {
	cfg        config.MatchConfig
	candidates CandidateSource
	locks      AllocationLocker
	store      AssignStore
	cache      RideInvalidator
	demand     DemandReleaser
	logger     *log.Logger

	queue chan *model.Ride
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewMatchingService(cfg config.MatchConfig, candidates CandidateSource, locks AllocationLocker, store AssignStore, cache RideInvalidator, demand DemandReleaser, logger *log.Logger) *MatchingService {
	return &MatchingService{
		cfg:        cfg,
		candidates: candidates,
		locks:      locks,
		store:      store,
		cache:      cache,
		demand:     demand,
		logger:     logger,
		queue:      make(chan *model.Ride, cfg.QueueCapacity),
	}
}

// Start launches the matcher workers. Workers exit when Close is called
// and the queue drains, or when ctx is cancelled.
func (m *MatchingService) Start(ctx context.Context) {
	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ride, ok := <-m.queue:
					if !ok {
						return
					}
					m.match(ctx, ride)
				}
			}
		}()
	}
}

// Close stops accepting rides and waits for in-flight matches to finish.
func (m *MatchingService) Close() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Enqueue hands a freshly created ride to the matchers. A full queue means
// the system is saturated; the caller surfaces that instead of blocking the
// request.
func (m *MatchingService) Enqueue(ride *model.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return apperr.Unavailable("matching_stopped", "matching is shutting down")
	}
	select {
	case m.queue <- ride:
		return nil
	default:
		return apperr.Unavailable("matching_saturated", "matching queue is full")
	}
}

// match searches for a driver with an expanding radius until assignment
// succeeds or the budget runs out.
func (m *MatchingService) match(ctx context.Context, ride *model.Ride) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Budget)
	defer cancel()

	radius := m.cfg.InitialRadiusKm
	for {
		assigned, stop := m.tryRadius(ctx, ride, radius)
		if assigned || stop {
			return
		}

		radius = math.Min(radius*m.cfg.Backoff, m.cfg.MaxRadiusKm)

		select {
		case <-ctx.Done():
			m.giveUp(ride)
			return
		case <-time.After(m.cfg.RetryDelay):
		}
	}
}

// tryRadius walks one ring of candidates. It returns assigned=true once a
// driver is committed and stop=true when the ride is gone (cancelled or
// matched elsewhere) and the search should end without cancelling.
func (m *MatchingService) tryRadius(ctx context.Context, ride *model.Ride, radiusKm float64) (assigned, stop bool) {
	candidates, err := m.candidates.Nearby(ctx, ride.Tier, ride.Pickup, radiusKm, m.cfg.CandidateLimit)
	if err != nil {
		if ctx.Err() != nil {
			m.giveUp(ride)
			return false, true
		}
		m.logger.Printf("candidate search failed for ride %s (radius %.1fkm): %v", ride.ID, radiusKm, err)
		return false, false
	}

	for _, cand := range candidates {
		if ctx.Err() != nil {
			m.giveUp(ride)
			return false, true
		}

		token, ok, err := m.locks.Acquire(ctx, cand.DriverID)
		if err != nil {
			m.logger.Printf("lock acquire failed for driver %s: %v", cand.DriverID, err)
			continue
		}
		if !ok {
			continue
		}

		_, trip, err := m.store.AssignDriver(ctx, ride.ID, cand.DriverID)
		m.releaseLock(cand.DriverID, token)

		if err == nil {
			m.afterAssign(ride, cand, trip)
			return true, false
		}

		switch apperr.KindOf(err) {
		case apperr.KindLockContention:
			// Driver claimed by a competing matcher between the geo
			// read and the row lock. Move on.
			continue
		case apperr.KindConflict, apperr.KindNotFound:
			return false, true
		default:
			m.logger.Printf("assignment failed for ride %s driver %s: %v", ride.ID, cand.DriverID, err)
			continue
		}
	}
	return false, false
}

func (m *MatchingService) afterAssign(ride *model.Ride, cand model.Candidate, trip *model.Trip) {
	// Post-commit cleanup runs on a fresh context; the match budget no
	// longer applies once the assignment is durable.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := m.candidates.Remove(ctx, ride.Tier, cand.DriverID); err != nil {
		m.logger.Printf("geo index cleanup failed for driver %s: %v", cand.DriverID, err)
	}
	if err := m.cache.Invalidate(ctx, ride.ID); err != nil {
		m.logger.Printf("cache invalidation failed for ride %s: %v", ride.ID, err)
	}
	m.demand.ReleaseDemand(ctx, ride.Pickup)
	m.logger.Printf("ride %s matched to driver %s (%.2fkm away), trip %s", ride.ID, cand.DriverID, cand.DistanceKm, trip.ID)
}

func (m *MatchingService) releaseLock(driverID, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.locks.Release(ctx, driverID, token); err != nil {
		m.logger.Printf("lock release failed for driver %s: %v", driverID, err)
	}
}

// giveUp cancels a ride whose budget expired without an assignment.
func (m *MatchingService) giveUp(ride *model.Ride) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := m.store.CancelNoDriver(ctx, ride.ID); err != nil {
		if apperr.KindOf(err) != apperr.KindConflict {
			m.logger.Printf("no-driver cancellation failed for ride %s: %v", ride.ID, err)
		}
		return
	}
	if err := m.cache.Invalidate(ctx, ride.ID); err != nil {
		m.logger.Printf("cache invalidation failed for ride %s: %v", ride.ID, err)
	}
	m.logger.Printf("ride %s cancelled: no driver found within budget", ride.ID)
}
