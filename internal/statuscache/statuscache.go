// Package statuscache is a short-TTL read cache for ride lookups, absorbing
// the client polling that follows every ride request. Writes go through the
// database first; the cache is refreshed on read misses and invalidated on
// every status transition, and a Redis failure only costs the shortcut.
package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veloride/veloride/internal/model"
)

type Cache struct {
	rdb     *redis.Client
	ttl     time.Duration
	timeout time.Duration
}

func New(rdb *redis.Client, ttl, timeout time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl, timeout: timeout}
}

func rideKey(rideID string) string {
	return "ride:" + rideID + ":status"
}

// Get returns the cached ride, or (nil, nil) on a miss.
func (c *Cache) Get(ctx context.Context, rideID string) (*model.Ride, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := c.rdb.Get(ctx, rideKey(rideID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var ride model.Ride
	if err := json.Unmarshal(data, &ride); err != nil {
		// Treat a corrupt entry as a miss; the next Set overwrites it.
		return nil, nil
	}
	return &ride, nil
}

// Set stores the ride snapshot with the configured TTL.
func (c *Cache) Set(ctx context.Context, ride *model.Ride) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := json.Marshal(ride)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, rideKey(ride.ID), data, c.ttl).Err()
}

// Invalidate drops the cached snapshot after a status transition.
func (c *Cache) Invalidate(ctx context.Context, rideID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return c.rdb.Del(ctx, rideKey(rideID)).Err()
}
