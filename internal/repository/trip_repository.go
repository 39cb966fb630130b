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

// TripRepository handles database operations for trips.
type TripRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewTripRepository(pool *pgxpool.Pool, timeout time.Duration) *TripRepository {
	return &TripRepository{pool: pool, timeout: timeout}
}

const tripColumns = `id, ride_id, driver_id, rider_id, started_at, ended_at,
	final_lat, final_lng, distance_km, final_fare, driver_confirmed_at, status, created_at`

func scanTrip(row pgx.Row) (*model.Trip, error) {
	var t model.Trip
	err := row.Scan(
		&t.ID, &t.RideID, &t.DriverID, &t.RiderID, &t.StartedAt, &t.EndedAt,
		&t.FinalLat, &t.FinalLng, &t.DistanceKm, &t.FinalFare,
		&t.DriverConfirmedAt, &t.Status, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetByID fetches a trip by id.
func (r *TripRepository) GetByID(ctx context.Context, id string) (*model.Trip, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.pool.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id)
	t, err := scanTrip(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("trip_not_found", "trip not found")
		}
		return nil, fmt.Errorf("get trip: %w", err)
	}
	return t, nil
}

// GetByRide fetches the trip created for a ride, if any.
func (r *TripRepository) GetByRide(ctx context.Context, rideID string) (*model.Trip, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.pool.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE ride_id = $1`, rideID)
	t, err := scanTrip(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("trip_not_found", "no trip exists for this ride")
		}
		return nil, fmt.Errorf("get trip by ride: %w", err)
	}
	return t, nil
}

// ConfirmDriver records the driver's acceptance: stamps driver_confirmed_at
// on the trip and moves the ride MATCHED -> STARTED in one transaction.
// Only the assigned driver may confirm, and only once.
func (r *TripRepository) ConfirmDriver(ctx context.Context, driverID string) (*model.Trip, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin confirm tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE driver_id = $1 AND status = 'active'
		FOR UPDATE`,
		driverID,
	)
	t, err := scanTrip(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("trip_not_found", "driver has no active trip")
		}
		return nil, fmt.Errorf("lock trip: %w", err)
	}
	if t.DriverConfirmedAt != nil {
		return nil, apperr.Conflict("already_confirmed", "trip already confirmed")
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE trips SET driver_confirmed_at = $2 WHERE id = $1`,
		t.ID, now,
	); err != nil {
		return nil, fmt.Errorf("stamp confirmation: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE rides SET status = 'STARTED', updated_at = NOW()
		WHERE id = $1 AND status = 'MATCHED'`,
		t.RideID,
	)
	if err != nil {
		return nil, fmt.Errorf("start ride: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, apperr.Conflict("ride_not_matched", "ride is not awaiting confirmation")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit confirm tx: %w", err)
	}
	t.DriverConfirmedAt = &now
	return t, nil
}

// EndResult is the outcome of the trip-end transaction.
type EndResult struct {
	Trip    *model.Trip
	Ride    *model.Ride
	Payment *model.Payment
}

// End completes a trip: stamps the final position, distance, and fare,
// moves the ride to COMPLETED, frees the driver, and inserts the pending
// payment, all in one transaction. The ride may still be in MATCHED when a
// driver ends the trip without an explicit confirmation step.
func (r *TripRepository) End(ctx context.Context, tripID string, final model.LatLng, distanceKm, fare float64, currency string) (*EndResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin end tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+tripColumns+` FROM trips WHERE id = $1 FOR UPDATE`,
		tripID,
	)
	t, err := scanTrip(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("trip_not_found", "trip not found")
		}
		return nil, fmt.Errorf("lock trip: %w", err)
	}
	if t.Status != model.TripActive {
		return nil, apperr.Conflict("trip_completed", "trip already ended")
	}

	now := time.Now().UTC()
	row = tx.QueryRow(ctx, `
		UPDATE trips
		SET status = 'completed', ended_at = $2, final_lat = $3, final_lng = $4,
		    distance_km = $5, final_fare = $6
		WHERE id = $1
		RETURNING `+tripColumns,
		tripID, now, final.Lat, final.Lng, distanceKm, fare,
	)
	t, err = scanTrip(row)
	if err != nil {
		return nil, fmt.Errorf("complete trip: %w", err)
	}

	rideRow := tx.QueryRow(ctx, `
		UPDATE rides SET status = 'COMPLETED', updated_at = NOW()
		WHERE id = $1 AND status IN ('MATCHED', 'STARTED')
		RETURNING `+rideColumns,
		t.RideID,
	)
	ride, err := scanRide(rideRow)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Conflict("ride_not_active", "ride is not in an active state")
		}
		return nil, fmt.Errorf("complete ride: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE drivers SET status = 'available', updated_at = NOW()
		WHERE id = $1 AND status = 'on_trip'`,
		t.DriverID,
	); err != nil {
		return nil, fmt.Errorf("free driver: %w", err)
	}

	var p model.Payment
	err = tx.QueryRow(ctx, `
		INSERT INTO payments (trip_id, rider_id, amount, currency, method)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, trip_id, rider_id, amount, currency, method, status, psp_ref,
			idempotency_key, created_at, updated_at`,
		t.ID, t.RiderID, fare, currency, ride.PaymentMethod,
	).Scan(&p.ID, &p.TripID, &p.RiderID, &p.Amount, &p.Currency, &p.Method,
		&p.Status, &p.PSPRef, &p.IdempotencyKey, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit end tx: %w", err)
	}
	return &EndResult{Trip: t, Ride: ride, Payment: &p}, nil
}
