// Package geoindex maintains the per-tier driver location index in Redis.
// It is the only source matching consults for candidates; PostgreSQL holds
// the durable last-known positions but is never queried on the hot path.
package geoindex

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veloride/veloride/internal/model"
)

// Index wraps the Redis geo sets keyed as drivers:geo:{tier}.
type Index struct {
	rdb     *redis.Client
	timeout time.Duration
}

func New(rdb *redis.Client, timeout time.Duration) *Index {
	return &Index{rdb: rdb, timeout: timeout}
}

func geoKey(tier model.Tier) string {
	return "drivers:geo:" + string(tier)
}

// Upsert writes a driver's current position into its tier set.
func (i *Index) Upsert(ctx context.Context, tier model.Tier, driverID string, p model.LatLng) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	err := i.rdb.GeoAdd(ctx, geoKey(tier), &redis.GeoLocation{
		Name:      driverID,
		Latitude:  p.Lat,
		Longitude: p.Lng,
	}).Err()
	if err != nil {
		return fmt.Errorf("geo upsert: %w", err)
	}
	return nil
}

// Remove deletes a driver from its tier set. Called when a driver goes
// offline or is claimed for a trip, so stale entries never reach matching.
func (i *Index) Remove(ctx context.Context, tier model.Tier, driverID string) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	if err := i.rdb.ZRem(ctx, geoKey(tier), driverID).Err(); err != nil {
		return fmt.Errorf("geo remove: %w", err)
	}
	return nil
}

// Nearby returns up to limit drivers of the tier within radiusKm of the
// point, nearest first.
func (i *Index) Nearby(ctx context.Context, tier model.Tier, p model.LatLng, radiusKm float64, limit int) ([]model.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	locs, err := i.rdb.GeoSearchLocation(ctx, geoKey(tier), &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Latitude:   p.Lat,
			Longitude:  p.Lng,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo search: %w", err)
	}

	out := make([]model.Candidate, 0, len(locs))
	for _, loc := range locs {
		out = append(out, model.Candidate{DriverID: loc.Name, DistanceKm: loc.Dist})
	}
	return out, nil
}
