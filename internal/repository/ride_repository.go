package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veloride/veloride/internal/apperr"
	"github.com/veloride/veloride/internal/model"
)

// RideRepository handles database operations for rides, including the
// atomic driver-assignment transaction at the heart of matching.
type RideRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewRideRepository(pool *pgxpool.Pool, timeout time.Duration) *RideRepository {
	return &RideRepository{pool: pool, timeout: timeout}
}

const rideColumns = `id, rider_id, pickup_lat, pickup_lng, dest_lat, dest_lng, tier,
	payment_method, status, assigned_driver_id, estimated_fare, surge_multiplier,
	cancel_reason, idempotency_key, created_at, updated_at`

func scanRide(row pgx.Row) (*model.Ride, error) {
	var ride model.Ride
	err := row.Scan(
		&ride.ID, &ride.RiderID,
		&ride.Pickup.Lat, &ride.Pickup.Lng, &ride.Dest.Lat, &ride.Dest.Lng,
		&ride.Tier, &ride.PaymentMethod, &ride.Status, &ride.AssignedDriverID,
		&ride.EstimatedFare, &ride.SurgeMultiplier, &ride.CancelReason,
		&ride.IdempotencyKey, &ride.CreatedAt, &ride.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ride, nil
}

// Create inserts a new ride in REQUESTED status.
func (r *RideRepository) Create(ctx context.Context, ride *model.Ride) (*model.Ride, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO rides (rider_id, pickup_lat, pickup_lng, dest_lat, dest_lng,
			tier, payment_method, estimated_fare, surge_multiplier, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+rideColumns,
		ride.RiderID, ride.Pickup.Lat, ride.Pickup.Lng, ride.Dest.Lat, ride.Dest.Lng,
		ride.Tier, ride.PaymentMethod, ride.EstimatedFare, ride.SurgeMultiplier,
		ride.IdempotencyKey,
	)
	created, err := scanRide(row)
	if err != nil {
		return nil, fmt.Errorf("insert ride: %w", err)
	}
	return created, nil
}

// GetByID fetches a ride by id.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*model.Ride, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.pool.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id)
	ride, err := scanRide(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("ride_not_found", "ride not found")
		}
		return nil, fmt.Errorf("get ride: %w", err)
	}
	return ride, nil
}

// AssignDriver atomically claims a driver for a ride. In one transaction it
// locks the driver row with SKIP LOCKED, flips the driver to on_trip, moves
// the ride REQUESTED -> MATCHED, and creates the trip. If any step fails the
// whole assignment rolls back and the driver remains available.
//
// A driver concurrently claimed by another matcher yields lock contention;
// a ride no longer in REQUESTED (cancelled, or matched by a competing
// matcher) yields a conflict.
func (r *RideRepository) AssignDriver(ctx context.Context, rideID, driverID string) (*model.Ride, *model.Trip, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, nil, fmt.Errorf("begin assign tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Claim the driver. SKIP LOCKED makes a concurrently locked row look
	// absent instead of blocking the matcher.
	var claimed string
	err = tx.QueryRow(ctx, `
		SELECT id FROM drivers
		WHERE id = $1 AND status = 'available'
		FOR UPDATE SKIP LOCKED`,
		driverID,
	).Scan(&claimed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, apperr.LockContention("driver_taken", "driver is no longer available")
		}
		return nil, nil, fmt.Errorf("lock driver: %w", err)
	}

	var rideStatus model.RideStatus
	var riderID string
	err = tx.QueryRow(ctx, `
		SELECT status, rider_id FROM rides WHERE id = $1 FOR UPDATE`,
		rideID,
	).Scan(&rideStatus, &riderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, apperr.NotFound("ride_not_found", "ride not found")
		}
		return nil, nil, fmt.Errorf("lock ride: %w", err)
	}
	if rideStatus != model.RideRequested {
		return nil, nil, apperr.Conflict("ride_not_requested", "ride is no longer awaiting a driver")
	}

	if _, err := tx.Exec(ctx, `
		UPDATE drivers SET status = 'on_trip', updated_at = NOW() WHERE id = $1`,
		driverID,
	); err != nil {
		return nil, nil, fmt.Errorf("mark driver on_trip: %w", err)
	}

	row := tx.QueryRow(ctx, `
		UPDATE rides
		SET status = 'MATCHED', assigned_driver_id = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+rideColumns,
		rideID, driverID,
	)
	ride, err := scanRide(row)
	if err != nil {
		return nil, nil, fmt.Errorf("mark ride matched: %w", err)
	}

	var trip model.Trip
	err = tx.QueryRow(ctx, `
		INSERT INTO trips (ride_id, driver_id, rider_id)
		VALUES ($1, $2, $3)
		RETURNING id, ride_id, driver_id, rider_id, started_at, status, created_at`,
		rideID, driverID, riderID,
	).Scan(&trip.ID, &trip.RideID, &trip.DriverID, &trip.RiderID,
		&trip.StartedAt, &trip.Status, &trip.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert trip: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit assign tx: %w", err)
	}
	return ride, &trip, nil
}

// CancelNoDriver moves a ride to CANCELLED with the no-driver reason. The
// status predicate makes the write a no-op if the ride was matched between
// the matcher giving up and this statement running.
func (r *RideRepository) CancelNoDriver(ctx context.Context, rideID string) (*model.Ride, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.pool.QueryRow(ctx, `
		UPDATE rides
		SET status = 'CANCELLED', cancel_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'REQUESTED'
		RETURNING `+rideColumns,
		rideID, model.CancelReasonNoDriver,
	)
	ride, err := scanRide(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Conflict("ride_not_requested", "ride already left REQUESTED")
		}
		return nil, fmt.Errorf("cancel ride: %w", err)
	}
	return ride, nil
}
