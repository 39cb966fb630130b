package service

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/veloride/veloride/internal/apperr"
	"github.com/veloride/veloride/internal/model"
)

// orderLog records booking side effects in call order so tests can assert
// sequencing, not just occurrence.
type orderLog struct {
	calls []string
}

func (l *orderLog) add(call string) { l.calls = append(l.calls, call) }

type fakeRideStore struct {
	order     *orderLog
	rides     map[string]*model.Ride
	cancelled []string
}

func (f *fakeRideStore) Create(_ context.Context, ride *model.Ride) (*model.Ride, error) {
	cp := *ride
	cp.ID = "ride-1"
	cp.Status = model.RideRequested
	f.rides[cp.ID] = &cp
	f.order.add("store.create")
	out := cp
	return &out, nil
}

func (f *fakeRideStore) GetByID(_ context.Context, id string) (*model.Ride, error) {
	r, ok := f.rides[id]
	if !ok {
		return nil, apperr.NotFound("ride_not_found", "ride not found")
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRideStore) CancelNoDriver(_ context.Context, rideID string) (*model.Ride, error) {
	f.cancelled = append(f.cancelled, rideID)
	r, ok := f.rides[rideID]
	if !ok {
		return nil, apperr.NotFound("ride_not_found", "ride not found")
	}
	r.Status = model.RideCancelled
	cp := *r
	return &cp, nil
}

type fakeRideCache struct {
	order       *orderLog
	snapshots   map[string]*model.Ride
	invalidated []string
}

func (f *fakeRideCache) Get(_ context.Context, rideID string) (*model.Ride, error) {
	r, ok := f.snapshots[rideID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRideCache) Set(_ context.Context, ride *model.Ride) error {
	cp := *ride
	f.snapshots[ride.ID] = &cp
	f.order.add("cache.set")
	return nil
}

func (f *fakeRideCache) Invalidate(_ context.Context, rideID string) error {
	delete(f.snapshots, rideID)
	f.invalidated = append(f.invalidated, rideID)
	f.order.add("cache.invalidate")
	return nil
}

type fakePricer struct {
	breakdown    FareBreakdown
	demandPoints []model.LatLng
}

func (f *fakePricer) Estimate(_ context.Context, _ model.Tier, _, _ model.LatLng) FareBreakdown {
	return f.breakdown
}

func (f *fakePricer) RecordDemand(_ context.Context, pickup model.LatLng) {
	f.demandPoints = append(f.demandPoints, pickup)
}

type fakeMatcher struct {
	order    *orderLog
	err      error
	enqueued []*model.Ride
}

func (f *fakeMatcher) Enqueue(ride *model.Ride) error {
	f.order.add("matcher.enqueue")
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, ride)
	return nil
}

type rideFixture struct {
	store   *fakeRideStore
	cache   *fakeRideCache
	pricer  *fakePricer
	matcher *fakeMatcher
	svc     *RideService
}

func newRideFixture(matchErr error) *rideFixture {
	order := &orderLog{}
	store := &fakeRideStore{order: order, rides: make(map[string]*model.Ride)}
	cache := &fakeRideCache{order: order, snapshots: make(map[string]*model.Ride)}
	pricer := &fakePricer{breakdown: FareBreakdown{
		DistanceKm:      4.2,
		BaseFare:        50,
		PerKmRate:       15,
		SurgeMultiplier: 1.5,
		Estimate:        144.5,
	}}
	matcher := &fakeMatcher{order: order, err: matchErr}
	svc := NewRideService(store, cache, pricer, matcher, log.New(io.Discard, "", 0))
	return &rideFixture{store: store, cache: cache, pricer: pricer, matcher: matcher, svc: svc}
}

func bookingRequest() RideRequest {
	return RideRequest{
		RiderID:       "rider-1",
		Pickup:        model.LatLng{Lat: 12.9716, Lng: 77.5946},
		Dest:          model.LatLng{Lat: 12.9352, Lng: 77.6245},
		Tier:          model.TierStandard,
		PaymentMethod: model.MethodCard,
	}
}

func TestRequestBooksAndEnqueues(t *testing.T) {
	fx := newRideFixture(nil)

	ride, breakdown, err := fx.svc.Request(context.Background(), bookingRequest())
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if ride.Status != model.RideRequested {
		t.Errorf("status = %s, want REQUESTED", ride.Status)
	}
	if ride.SurgeMultiplier != 1.5 || ride.EstimatedFare != 144.5 {
		t.Errorf("locked pricing = (%.2f, %.2fx), want (144.50, 1.50x)", ride.EstimatedFare, ride.SurgeMultiplier)
	}
	if breakdown == nil || breakdown.Estimate != 144.5 {
		t.Error("fare breakdown not returned")
	}
	if len(fx.matcher.enqueued) != 1 || fx.matcher.enqueued[0].ID != ride.ID {
		t.Error("ride not handed to matching")
	}
	if len(fx.pricer.demandPoints) != 1 {
		t.Errorf("demand recorded %d times, want 1", len(fx.pricer.demandPoints))
	}
}

func TestRequestCachesSnapshotBeforeMatching(t *testing.T) {
	fx := newRideFixture(nil)

	if _, _, err := fx.svc.Request(context.Background(), bookingRequest()); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	var setAt, enqueueAt = -1, -1
	for i, call := range fx.store.order.calls {
		switch call {
		case "cache.set":
			setAt = i
		case "matcher.enqueue":
			enqueueAt = i
		}
	}
	if setAt == -1 || enqueueAt == -1 {
		t.Fatalf("missing calls, got %v", fx.store.order.calls)
	}
	// An invalidation issued by the matcher must land after our snapshot,
	// never the other way around.
	if setAt > enqueueAt {
		t.Errorf("snapshot cached after matching started: %v", fx.store.order.calls)
	}
}

func TestRequestCancelsWhenMatcherRejects(t *testing.T) {
	fx := newRideFixture(errors.New("queue full"))

	_, _, err := fx.svc.Request(context.Background(), bookingRequest())
	if err == nil {
		t.Fatal("expected enqueue failure to surface")
	}
	if len(fx.store.cancelled) != 1 {
		t.Fatalf("cancelled %d rides, want 1", len(fx.store.cancelled))
	}
	if len(fx.cache.invalidated) != 1 {
		t.Errorf("cached snapshot for a cancelled ride was not invalidated")
	}
	if _, ok := fx.cache.snapshots["ride-1"]; ok {
		t.Error("stale snapshot survived the cancellation")
	}
}

func TestRequestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RideRequest)
	}{
		{"pickup latitude out of range", func(r *RideRequest) { r.Pickup.Lat = 91 }},
		{"destination longitude out of range", func(r *RideRequest) { r.Dest.Lng = -181 }},
		{"unknown tier", func(r *RideRequest) { r.Tier = "hoverboard" }},
		{"unknown payment method", func(r *RideRequest) { r.PaymentMethod = "barter" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newRideFixture(nil)
			req := bookingRequest()
			tt.mutate(&req)

			_, _, err := fx.svc.Request(context.Background(), req)
			if apperr.KindOf(err) != apperr.KindValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
			if len(fx.matcher.enqueued) != 0 {
				t.Error("invalid request reached matching")
			}
		})
	}
}

func TestGetPrefersCachedSnapshot(t *testing.T) {
	fx := newRideFixture(nil)
	cached := &model.Ride{ID: "ride-9", RiderID: "rider-1", Status: model.RideMatched}
	fx.cache.snapshots["ride-9"] = cached

	got, err := fx.svc.Get(context.Background(), "ride-9")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != model.RideMatched {
		t.Errorf("status = %s, want MATCHED from cache", got.Status)
	}
}

func TestGetFallsBackToStoreAndRefillsCache(t *testing.T) {
	fx := newRideFixture(nil)
	fx.store.rides["ride-2"] = &model.Ride{ID: "ride-2", RiderID: "rider-1", Status: model.RideRequested}

	got, err := fx.svc.Get(context.Background(), "ride-2")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.ID != "ride-2" {
		t.Errorf("got ride %s, want ride-2", got.ID)
	}
	if _, ok := fx.cache.snapshots["ride-2"]; !ok {
		t.Error("miss did not refill the cache")
	}
}
