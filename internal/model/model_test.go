package model

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from RideStatus
		to   RideStatus
		want bool
	}{
		{"requested to matched", RideRequested, RideMatched, true},
		{"requested to cancelled", RideRequested, RideCancelled, true},
		{"requested to started", RideRequested, RideStarted, false},
		{"requested to completed", RideRequested, RideCompleted, false},
		{"matched to started", RideMatched, RideStarted, true},
		{"matched to completed", RideMatched, RideCompleted, true},
		{"matched to cancelled", RideMatched, RideCancelled, true},
		{"started to completed", RideStarted, RideCompleted, true},
		{"started to cancelled", RideStarted, RideCancelled, false},
		{"completed is terminal", RideCompleted, RideCancelled, false},
		{"cancelled is terminal", RideCancelled, RideRequested, false},
		{"no self transition", RideMatched, RideMatched, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTerminalRideStatus(t *testing.T) {
	for _, s := range []RideStatus{RideRequested, RideMatched, RideStarted} {
		if TerminalRideStatus(s) {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []RideStatus{RideCompleted, RideCancelled} {
		if !TerminalRideStatus(s) {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestValidTier(t *testing.T) {
	for _, tier := range []Tier{TierStandard, TierPremium, TierXL} {
		if !ValidTier(tier) {
			t.Errorf("%s should be valid", tier)
		}
	}
	if ValidTier("luxury") {
		t.Error("unknown tier accepted")
	}
}

func TestValidDriverStatus(t *testing.T) {
	if ValidDriverStatus("driving") {
		t.Error("unknown driver status accepted")
	}
	if !ValidDriverStatus(DriverOnTrip) {
		t.Error("on_trip rejected")
	}
}

func TestValidPaymentMethod(t *testing.T) {
	if ValidPaymentMethod("crypto") {
		t.Error("unknown payment method accepted")
	}
	if !ValidPaymentMethod(MethodWallet) {
		t.Error("wallet rejected")
	}
}
