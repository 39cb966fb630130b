package geo

import (
	"math"
	"testing"

	"github.com/veloride/veloride/internal/model"
)

func TestHaversineKm(t *testing.T) {
	tests := []struct {
		name string
		a, b model.LatLng
		want float64
		tol  float64
	}{
		{"same point", model.LatLng{Lat: 12.97, Lng: 77.59}, model.LatLng{Lat: 12.97, Lng: 77.59}, 0, 0.001},
		{"one degree of longitude at equator", model.LatLng{Lat: 0, Lng: 0}, model.LatLng{Lat: 0, Lng: 1}, 111.19, 0.5},
		{"bangalore to chennai", model.LatLng{Lat: 12.9716, Lng: 77.5946}, model.LatLng{Lat: 13.0827, Lng: 80.2707}, 290.2, 5},
		{"across the antimeridian", model.LatLng{Lat: 0, Lng: 179.5}, model.LatLng{Lat: 0, Lng: -179.5}, 111.19, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKm(tt.a, tt.b)
			if math.Abs(got-tt.want) > tt.tol {
				t.Errorf("HaversineKm = %.3f, want %.3f ± %.3f", got, tt.want, tt.tol)
			}
		})
	}
}

func TestHaversineSymmetry(t *testing.T) {
	a := model.LatLng{Lat: 12.97, Lng: 77.59}
	b := model.LatLng{Lat: 28.61, Lng: 77.21}
	if d1, d2 := HaversineKm(a, b), HaversineKm(b, a); math.Abs(d1-d2) > 1e-9 {
		t.Errorf("distance not symmetric: %.9f vs %.9f", d1, d2)
	}
}

func TestGeohash(t *testing.T) {
	tests := []struct {
		name      string
		p         model.LatLng
		precision int
		want      string
	}{
		{"jutland reference point", model.LatLng{Lat: 57.64911, Lng: 10.40744}, 5, "u4pru"},
		{"jutland full precision", model.LatLng{Lat: 57.64911, Lng: 10.40744}, 11, "u4pruydqqvj"},
		{"origin", model.LatLng{Lat: 0, Lng: 0}, 5, "s0000"},
		{"default precision on zero", model.LatLng{Lat: 57.64911, Lng: 10.40744}, 0, "u4pru"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Geohash(tt.p, tt.precision); got != tt.want {
				t.Errorf("Geohash = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGeohashNearbyPointsShareCell(t *testing.T) {
	// Two points ~200m apart should land in the same 5-character cell.
	a := model.LatLng{Lat: 12.9716, Lng: 77.5946}
	b := model.LatLng{Lat: 12.9730, Lng: 77.5950}
	if ga, gb := Geohash(a, 5), Geohash(b, 5); ga != gb {
		t.Errorf("nearby points split cells: %q vs %q", ga, gb)
	}
}
