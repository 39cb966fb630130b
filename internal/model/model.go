// Package model contains domain models for the ride-hailing dispatch engine.
// These structs map to the PostgreSQL schema defined in migrations/001_init.up.sql.
package model

import "time"

// ─── Enums ──────────────────────────────────────────────────

// Tier is the driver/vehicle service class. It drives candidate filtering
// (a ride only matches drivers of the same tier) and pricing.
type Tier string

const (
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
	TierXL       Tier = "xl"
)

// ValidTier reports whether t is a known service tier.
func ValidTier(t Tier) bool {
	switch t {
	case TierStandard, TierPremium, TierXL:
		return true
	}
	return false
}

type DriverStatus string

const (
	DriverOffline     DriverStatus = "offline"
	DriverAvailable   DriverStatus = "available"
	DriverOnTrip      DriverStatus = "on_trip"
	DriverUnavailable DriverStatus = "unavailable"
)

// ValidDriverStatus reports whether s is a known driver status.
func ValidDriverStatus(s DriverStatus) bool {
	switch s {
	case DriverOffline, DriverAvailable, DriverOnTrip, DriverUnavailable:
		return true
	}
	return false
}

type RideStatus string

const (
	RideRequested RideStatus = "REQUESTED"
	RideMatched   RideStatus = "MATCHED"
	RideStarted   RideStatus = "STARTED"
	RideCompleted RideStatus = "COMPLETED"
	RideCancelled RideStatus = "CANCELLED"
)

type TripStatus string

const (
	TripActive    TripStatus = "active"
	TripCompleted TripStatus = "completed"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

type PaymentMethod string

const (
	MethodCard   PaymentMethod = "card"
	MethodWallet PaymentMethod = "wallet"
	MethodCash   PaymentMethod = "cash"
)

// ValidPaymentMethod reports whether m is a known payment method.
func ValidPaymentMethod(m PaymentMethod) bool {
	switch m {
	case MethodCard, MethodWallet, MethodCash:
		return true
	}
	return false
}

// CancelReasonNoDriver marks rides cancelled because matching exhausted its
// radius and time budget without finding a driver. Observable via get_ride.
const CancelReasonNoDriver = "no_driver_found"

// ─── Ride state machine ─────────────────────────────────────

// rideTransitions is the full transition table for the ride lifecycle:
//
//	REQUESTED → MATCHED → STARTED → COMPLETED
//	REQUESTED → CANCELLED
//	MATCHED   → CANCELLED
//	MATCHED   → COMPLETED   (trip ended without an explicit driver-confirm)
//
// Every write path goes through the repository, which enforces the same
// rules with status predicates inside the transaction; this table is the
// in-process mirror used for validation and tests.
var rideTransitions = map[RideStatus][]RideStatus{
	RideRequested: {RideMatched, RideCancelled},
	RideMatched:   {RideStarted, RideCompleted, RideCancelled},
	RideStarted:   {RideCompleted},
	RideCompleted: {},
	RideCancelled: {},
}

// CanTransition reports whether a ride may move from one status to another.
func CanTransition(from, to RideStatus) bool {
	for _, next := range rideTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TerminalRideStatus reports whether s admits no further transitions.
func TerminalRideStatus(s RideStatus) bool {
	return len(rideTransitions[s]) == 0
}

// ─── Location ───────────────────────────────────────────────

// LatLng represents a WGS-84 geographic point.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ─── Domain Models ──────────────────────────────────────────

// Driver maps to the `drivers` table. The `last_*` columns are written by the
// background location flusher, never on the request hot path.
type Driver struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Phone      string       `json:"phone"`
	Tier       Tier         `json:"tier"`
	Status     DriverStatus `json:"status"`
	LastLat    *float64     `json:"last_lat,omitempty"`
	LastLng    *float64     `json:"last_lng,omitempty"`
	LastSeenAt *time.Time   `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Ride maps to the `rides` table. AssignedDriverID is set exactly once, when
// the ride enters MATCHED, and never rewritten afterwards.
type Ride struct {
	ID               string        `json:"id"`
	RiderID          string        `json:"rider_id"`
	Pickup           LatLng        `json:"pickup"`
	Dest             LatLng        `json:"dest"`
	Tier             Tier          `json:"tier"`
	PaymentMethod    PaymentMethod `json:"payment_method"`
	Status           RideStatus    `json:"status"`
	AssignedDriverID *string       `json:"assigned_driver_id,omitempty"`
	EstimatedFare    float64       `json:"estimated_fare"`
	SurgeMultiplier  float64       `json:"surge_multiplier"`
	CancelReason     *string       `json:"cancel_reason,omitempty"`
	IdempotencyKey   *string       `json:"-"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Trip maps to the `trips` table. Created exclusively by the matching commit;
// exactly one trip exists per ride (ride_id is UNIQUE).
type Trip struct {
	ID                string     `json:"id"`
	RideID            string     `json:"ride_id"`
	DriverID          string     `json:"driver_id"`
	RiderID           string     `json:"rider_id"`
	StartedAt         time.Time  `json:"started_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	FinalLat          *float64   `json:"final_lat,omitempty"`
	FinalLng          *float64   `json:"final_lng,omitempty"`
	DistanceKm        *float64   `json:"distance_km,omitempty"`
	FinalFare         *float64   `json:"final_fare,omitempty"`
	DriverConfirmedAt *time.Time `json:"driver_confirmed_at,omitempty"`
	Status            TripStatus `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Payment maps to the `payments` table. At most one terminal payment exists
// per trip; the pending row is inserted by the end-trip transaction.
type Payment struct {
	ID             string        `json:"id"`
	TripID         string        `json:"trip_id"`
	RiderID        string        `json:"rider_id"`
	Amount         float64       `json:"amount"`
	Currency       string        `json:"currency"`
	Method         PaymentMethod `json:"method"`
	Status         PaymentStatus `json:"status"`
	PSPRef         *string       `json:"psp_ref,omitempty"`
	IdempotencyKey *string       `json:"-"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// ─── Matching DTOs ──────────────────────────────────────────

// Candidate pairs a driver id with its distance from a search point,
// as returned by the geo index in ascending-distance order.
type Candidate struct {
	DriverID   string
	DistanceKm float64
}
