package service

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/veloride/veloride/config"
	"github.com/veloride/veloride/internal/model"
	"github.com/veloride/veloride/internal/repository"
)

type fakeLocationStore struct {
	mu      sync.Mutex
	batches [][]repository.LocationUpdate
}

func (f *fakeLocationStore) UpsertLocations(_ context.Context, updates []repository.LocationUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]repository.LocationUpdate, len(updates))
	copy(batch, updates)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeLocationStore) all() []repository.LocationUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.LocationUpdate
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func newTestLocationService(cfg config.LocationConfig, store LocationStore) *LocationService {
	return NewLocationService(cfg, store, nil, nil, nil, nil, log.New(io.Discard, "", 0))
}

func update(driverID string, lat float64, at time.Time) repository.LocationUpdate {
	return repository.LocationUpdate{DriverID: driverID, Point: model.LatLng{Lat: lat, Lng: 77.59}, SeenAt: at}
}

func TestCoalesceLatest(t *testing.T) {
	base := time.Now()
	batch := []repository.LocationUpdate{
		update("d1", 1.0, base),
		update("d2", 2.0, base.Add(time.Second)),
		update("d1", 1.5, base.Add(2*time.Second)),
		update("d3", 3.0, base.Add(3*time.Second)),
		update("d2", 2.5, base.Add(4*time.Second)),
	}

	got := CoalesceLatest(batch)

	if len(got) != 3 {
		t.Fatalf("coalesced to %d entries, want 3", len(got))
	}
	if got[0].DriverID != "d1" || got[0].Point.Lat != 1.5 {
		t.Errorf("d1 entry = %+v, want latest (lat 1.5) in first position", got[0])
	}
	if got[1].DriverID != "d2" || got[1].Point.Lat != 2.5 {
		t.Errorf("d2 entry = %+v, want latest (lat 2.5)", got[1])
	}
	if got[2].DriverID != "d3" {
		t.Errorf("d3 entry = %+v", got[2])
	}
}

func TestCoalesceLatestIgnoresStaleReordering(t *testing.T) {
	base := time.Now()
	batch := []repository.LocationUpdate{
		update("d1", 1.5, base.Add(2*time.Second)),
		update("d1", 1.0, base), // arrived late, must not win
	}
	got := CoalesceLatest(batch)
	if len(got) != 1 || got[0].Point.Lat != 1.5 {
		t.Fatalf("coalesced = %+v, want single entry with lat 1.5", got)
	}
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	store := &fakeLocationStore{}
	s := newTestLocationService(config.LocationConfig{
		FlushInterval:  time.Hour,
		FlushBatch:     100,
		BufferCapacity: 3,
	}, store)

	base := time.Now()
	for i, id := range []string{"d1", "d2", "d3", "d4", "d5"} {
		s.enqueue(update(id, float64(i), base.Add(time.Duration(i)*time.Second)))
	}
	s.flush()

	got := store.all()
	if len(got) != 3 {
		t.Fatalf("flushed %d updates, want 3", len(got))
	}
	want := []string{"d3", "d4", "d5"}
	for i, u := range got {
		if u.DriverID != want[i] {
			t.Errorf("position %d = %s, want %s", i, u.DriverID, want[i])
		}
	}
}

func TestFlushEmptiesBuffer(t *testing.T) {
	store := &fakeLocationStore{}
	s := newTestLocationService(config.LocationConfig{
		FlushInterval:  time.Hour,
		FlushBatch:     100,
		BufferCapacity: 10,
	}, store)

	s.enqueue(update("d1", 1.0, time.Now()))
	s.flush()
	s.flush() // second flush has nothing to write

	if len(store.batches) != 1 {
		t.Fatalf("store received %d batches, want 1", len(store.batches))
	}
}

func TestCloseFlushesRemaining(t *testing.T) {
	store := &fakeLocationStore{}
	s := newTestLocationService(config.LocationConfig{
		FlushInterval:  time.Hour,
		FlushBatch:     100,
		BufferCapacity: 10,
	}, store)

	s.Start()
	s.enqueue(update("d1", 1.0, time.Now()))
	s.Close()

	if got := store.all(); len(got) != 1 || got[0].DriverID != "d1" {
		t.Fatalf("updates after close = %+v, want the buffered ping", got)
	}
}

func TestBatchThresholdTriggersFlush(t *testing.T) {
	store := &fakeLocationStore{}
	s := newTestLocationService(config.LocationConfig{
		FlushInterval:  time.Hour,
		FlushBatch:     2,
		BufferCapacity: 10,
	}, store)

	s.Start()
	defer s.Close()

	base := time.Now()
	s.enqueue(update("d1", 1.0, base))
	s.enqueue(update("d2", 2.0, base))

	deadline := time.After(time.Second)
	for {
		if len(store.all()) == 2 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("batch threshold did not trigger a flush")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
