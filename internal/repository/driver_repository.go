package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veloride/veloride/internal/apperr"
	"github.com/veloride/veloride/internal/model"
)

// DriverRepository handles database operations for drivers.
type DriverRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewDriverRepository(pool *pgxpool.Pool, timeout time.Duration) *DriverRepository {
	return &DriverRepository{pool: pool, timeout: timeout}
}

const driverColumns = `id, name, phone, tier, status, last_lat, last_lng, last_seen_at, created_at, updated_at`

func scanDriver(row pgx.Row) (*model.Driver, error) {
	var d model.Driver
	err := row.Scan(
		&d.ID, &d.Name, &d.Phone, &d.Tier, &d.Status,
		&d.LastLat, &d.LastLng, &d.LastSeenAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Create inserts a new driver in offline status.
func (r *DriverRepository) Create(ctx context.Context, name, phone string, tier model.Tier) (*model.Driver, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO drivers (name, phone, tier)
		VALUES ($1, $2, $3)
		RETURNING `+driverColumns,
		name, phone, tier,
	)
	d, err := scanDriver(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, apperr.Conflict("driver_exists", "a driver with this phone already exists")
		}
		return nil, fmt.Errorf("insert driver: %w", err)
	}
	return d, nil
}

// GetByID fetches a driver by id.
func (r *DriverRepository) GetByID(ctx context.Context, id string) (*model.Driver, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.pool.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, id)
	d, err := scanDriver(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("driver_not_found", "driver not found")
		}
		return nil, fmt.Errorf("get driver: %w", err)
	}
	return d, nil
}

// SetStatus applies a driver-initiated availability change. on_trip is owned
// by the assignment and trip-end transactions, so a driver can neither enter
// it nor leave it here.
func (r *DriverRepository) SetStatus(ctx context.Context, id string, status model.DriverStatus) (*model.Driver, error) {
	if status == model.DriverOnTrip {
		return nil, apperr.Validation("invalid_status", "on_trip is assigned by dispatch, not set directly")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.pool.QueryRow(ctx, `
		UPDATE drivers
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status != 'on_trip'
		RETURNING `+driverColumns,
		id, status,
	)
	d, err := scanDriver(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Distinguish a missing driver from one mid-trip.
			if _, gerr := r.GetByID(ctx, id); gerr != nil {
				return nil, gerr
			}
			return nil, apperr.Conflict("driver_on_trip", "driver has an active trip")
		}
		return nil, fmt.Errorf("set driver status: %w", err)
	}
	return d, nil
}

// LocationUpdate is one buffered driver position, flushed in batches.
type LocationUpdate struct {
	DriverID string
	Point    model.LatLng
	SeenAt   time.Time
}

// UpsertLocations writes the latest position per driver in a single statement.
// Callers coalesce updates so each driver appears at most once per batch.
func (r *DriverRepository) UpsertLocations(ctx context.Context, updates []LocationUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ids := make([]string, len(updates))
	lats := make([]float64, len(updates))
	lngs := make([]float64, len(updates))
	seen := make([]time.Time, len(updates))
	for i, u := range updates {
		ids[i] = u.DriverID
		lats[i] = u.Point.Lat
		lngs[i] = u.Point.Lng
		seen[i] = u.SeenAt
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE drivers AS d
		SET last_lat = u.lat, last_lng = u.lng, last_seen_at = u.seen_at, updated_at = NOW()
		FROM (
			SELECT unnest($1::uuid[]) AS id,
			       unnest($2::float8[]) AS lat,
			       unnest($3::float8[]) AS lng,
			       unnest($4::timestamptz[]) AS seen_at
		) AS u
		WHERE d.id = u.id`,
		ids, lats, lngs, seen,
	)
	if err != nil {
		return fmt.Errorf("upsert locations: %w", err)
	}
	return nil
}
