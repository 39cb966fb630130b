package service

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veloride/veloride/config"
	"github.com/veloride/veloride/internal/model"
	"github.com/veloride/veloride/pkg/geo"
)

// PricingService computes fare estimates, final fares, and the surge
// multiplier from windowed demand/supply counters in Redis.
type PricingService struct {
	fares   config.FareConfig
	surge   config.SurgeConfig
	rdb     *redis.Client
	timeout time.Duration
	logger  *log.Logger
}

func NewPricingService(fares config.FareConfig, surge config.SurgeConfig, rdb *redis.Client, timeout time.Duration, logger *log.Logger) *PricingService {
	return &PricingService{
		fares:   fares,
		surge:   surge,
		rdb:     rdb,
		timeout: timeout,
		logger:  logger,
	}
}

func demandKey(cell string) string { return "surge:demand:" + cell }
func supplyKey(cell string) string { return "surge:supply:" + cell }

// decrIfExists avoids resurrecting an expired counter as a negative value
// without a TTL.
var decrIfExists = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return redis.call("DECR", KEYS[1])
end
return 0
`)

// Round2 rounds a fare to two decimal places.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// Fare computes base + distance * rate * surge for a tier, rounded to two
// decimals. Unknown tiers are rejected at the API boundary, so a missing
// map entry here is a programming error and simply yields zero rates.
func (p *PricingService) Fare(tier model.Tier, distanceKm, surgeMult float64) float64 {
	return Round2(p.fares.BaseFare[tier] + distanceKm*p.fares.PerKmRate[tier]*surgeMult)
}

// FareBreakdown itemizes an estimate for the booking response. The range
// brackets the estimate at ±10%; the final fare depends on the distance the
// trip actually covers.
type FareBreakdown struct {
	DistanceKm      float64 `json:"distance_km"`
	BaseFare        float64 `json:"base_fare"`
	PerKmRate       float64 `json:"per_km_rate"`
	SurgeMultiplier float64 `json:"surge_multiplier"`
	Estimate        float64 `json:"estimate"`
	RangeLow        float64 `json:"range_low"`
	RangeHigh       float64 `json:"range_high"`
}

// Estimate prices a prospective ride: haversine pickup-to-destination
// distance, current surge at the pickup cell.
func (p *PricingService) Estimate(ctx context.Context, tier model.Tier, pickup, dest model.LatLng) FareBreakdown {
	surgeMult := p.Multiplier(ctx, pickup)
	distance := geo.HaversineKm(pickup, dest)
	fare := p.Fare(tier, distance, surgeMult)
	return FareBreakdown{
		DistanceKm:      Round2(distance),
		BaseFare:        p.fares.BaseFare[tier],
		PerKmRate:       p.fares.PerKmRate[tier],
		SurgeMultiplier: surgeMult,
		Estimate:        fare,
		RangeLow:        Round2(fare * 0.9),
		RangeHigh:       Round2(fare * 1.1),
	}
}

// Multiplier computes the surge multiplier for the cell containing a point:
//
//	clamp(1 + 0.5 * max(0, demand/max(supply,1) - 1), 1, max)
//
// Demand and supply are counted over a sliding window per geohash cell.
// If Redis is unreachable the multiplier degrades to 1.0; pricing never
// blocks a ride request.
func (p *PricingService) Multiplier(ctx context.Context, point model.LatLng) float64 {
	cell := geo.Geohash(point, p.surge.CellGeohashLen)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	pipe := p.rdb.Pipeline()
	demandCmd := pipe.Get(ctx, demandKey(cell))
	supplyCmd := pipe.SCard(ctx, supplyKey(cell))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		p.logger.Printf("surge lookup failed for cell %s, defaulting to 1.0: %v", cell, err)
		return 1.0
	}

	demand, _ := demandCmd.Int64()
	supply, _ := supplyCmd.Result()
	return SurgeFromCounts(demand, supply, p.surge.Max)
}

// SurgeFromCounts applies the surge formula to raw window counts.
func SurgeFromCounts(demand, supply int64, max float64) float64 {
	if supply < 1 {
		supply = 1
	}
	ratio := float64(demand) / float64(supply)
	mult := 1.0 + 0.5*math.Max(0, ratio-1)
	return math.Min(math.Max(mult, 1.0), max)
}

// RecordDemand counts one ride request against the pickup cell's window.
func (p *PricingService) RecordDemand(ctx context.Context, pickup model.LatLng) {
	cell := geo.Geohash(pickup, p.surge.CellGeohashLen)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	pipe := p.rdb.Pipeline()
	pipe.Incr(ctx, demandKey(cell))
	pipe.ExpireNX(ctx, demandKey(cell), p.surge.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.Printf("record demand failed for cell %s: %v", cell, err)
	}
}

// ReleaseDemand undoes one demand count once a ride is matched, so satisfied
// requests stop inflating the surge ratio for the rest of the window.
func (p *PricingService) ReleaseDemand(ctx context.Context, pickup model.LatLng) {
	cell := geo.Geohash(pickup, p.surge.CellGeohashLen)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := decrIfExists.Run(ctx, p.rdb, []string{demandKey(cell)}).Err(); err != nil {
		p.logger.Printf("release demand failed for cell %s: %v", cell, err)
	}
}

// RecordSupply marks a driver as seen in a cell during the current window.
// Called from the location ingest path; the set expires with the window so
// supply reflects recently active drivers only.
func (p *PricingService) RecordSupply(ctx context.Context, point model.LatLng, driverID string) {
	cell := geo.Geohash(point, p.surge.CellGeohashLen)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	pipe := p.rdb.Pipeline()
	pipe.SAdd(ctx, supplyKey(cell), driverID)
	pipe.ExpireNX(ctx, supplyKey(cell), p.surge.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.Printf("record supply failed for cell %s: %v", cell, err)
	}
}
