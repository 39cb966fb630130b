// Package geo provides geographic utility functions for dispatch and pricing.
//
// Distance calculations use the Haversine formula on WGS-84 coordinates.
// Geohashing is used only for surge-cell bucketing; proximity search itself
// is served by the Redis geo index.
package geo

import (
	"math"

	"github.com/veloride/veloride/internal/model"
)

// ─── Constants ──────────────────────────────────────────────

// EarthRadiusKm is the mean radius of Earth in kilometers.
const EarthRadiusKm = 6371.0

// ─── Distance ───────────────────────────────────────────────

// HaversineKm returns the great-circle distance between two points in kilometers.
func HaversineKm(a, b model.LatLng) float64 {
	dLat := degToRad(b.Lat - a.Lat)
	dLng := degToRad(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)

	h := sinLat*sinLat +
		math.Cos(degToRad(a.Lat))*math.Cos(degToRad(b.Lat))*sinLng*sinLng

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

func degToRad(deg float64) float64 {
	return deg * (math.Pi / 180.0)
}

// ─── Geohash ────────────────────────────────────────────────

const geohashBase32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// Geohash encodes a point to a geohash string of the given precision
// (number of base-32 characters). Precision 5 yields ~4.9 km cells, the
// default surge-cell size.
func Geohash(p model.LatLng, precision int) string {
	if precision <= 0 {
		precision = 5
	}

	latMin, latMax := -90.0, 90.0
	lngMin, lngMax := -180.0, 180.0

	var (
		hash    []byte
		bits    int
		ch      int
		evenBit = true
	)

	for len(hash) < precision {
		if evenBit {
			mid := (lngMin + lngMax) / 2
			if p.Lng >= mid {
				ch = ch<<1 | 1
				lngMin = mid
			} else {
				ch <<= 1
				lngMax = mid
			}
		} else {
			mid := (latMin + latMax) / 2
			if p.Lat >= mid {
				ch = ch<<1 | 1
				latMin = mid
			} else {
				ch <<= 1
				latMax = mid
			}
		}
		evenBit = !evenBit

		bits++
		if bits == 5 {
			hash = append(hash, geohashBase32[ch])
			bits = 0
			ch = 0
		}
	}

	return string(hash)
}
