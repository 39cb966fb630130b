package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veloride/veloride/config"
	"github.com/veloride/veloride/internal/apperr"
	"github.com/veloride/veloride/internal/model"
	"github.com/veloride/veloride/internal/repository"
)

// LocationStore persists batched driver positions.
type LocationStore interface {
	UpsertLocations(ctx context.Context, updates []repository.LocationUpdate) error
}

// DriverSource resolves drivers on meta-cache misses.
type DriverSource interface {
	GetByID(ctx context.Context, id string) (*model.Driver, error)
}

// GeoWriter is the live index side of location ingest.
type GeoWriter interface {
	Upsert(ctx context.Context, tier model.Tier, driverID string, p model.LatLng) error
	Remove(ctx context.Context, tier model.Tier, driverID string) error
}

// SupplyRecorder counts drivers into surge supply windows.
type SupplyRecorder interface {
	RecordSupply(ctx context.Context, point model.LatLng, driverID string)
}

// ─── Driver meta cache ──────────────────────────────────────

// driverMeta is the slice of the driver row the ingest hot path needs.
type driverMeta struct {
	Tier   model.Tier         `json:"tier"`
	Status model.DriverStatus `json:"status"`
}

// MetaCache keeps per-driver tier and status in Redis so location pings
// never read PostgreSQL. Entries are invalidated on every status change;
// the TTL only bounds staleness if an invalidation is lost.
type MetaCache struct {
	rdb     *redis.Client
	ttl     time.Duration
	timeout time.Duration
}

func NewMetaCache(rdb *redis.Client, ttl, timeout time.Duration) *MetaCache {
	return &MetaCache{rdb: rdb, ttl: ttl, timeout: timeout}
}

func metaKey(driverID string) string {
	return "driver:" + driverID + ":meta"
}

func (c *MetaCache) get(ctx context.Context, driverID string) (*driverMeta, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := c.rdb.Get(ctx, metaKey(driverID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var m driverMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil
	}
	return &m, nil
}

func (c *MetaCache) set(ctx context.Context, driverID string, m driverMeta) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, _ := json.Marshal(m)
	return c.rdb.Set(ctx, metaKey(driverID), data, c.ttl).Err()
}

// Invalidate drops the cached meta after a status change.
func (c *MetaCache) Invalidate(ctx context.Context, driverID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return c.rdb.Del(ctx, metaKey(driverID)).Err()
}

// ─── Location ingest ────────────────────────────────────────

// LocationService ingests driver position pings. The live geo index and
// surge supply are updated synchronously; the durable PostgreSQL write is
// buffered and flushed in coalesced batches so ping throughput is bounded
// by Redis, not the database.
type LocationService struct {
	cfg     config.LocationConfig
	store   LocationStore
	drivers DriverSource
	meta    *MetaCache
	geo     GeoWriter
	supply  SupplyRecorder
	logger  *log.Logger

	mu      sync.Mutex
	buffer  []repository.LocationUpdate
	dropped uint64

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

func NewLocationService(cfg config.LocationConfig, store LocationStore, drivers DriverSource, meta *MetaCache, geoWriter GeoWriter, supply SupplyRecorder, logger *log.Logger) *LocationService {
	return &LocationService{
		cfg:     cfg,
		store:   store,
		drivers: drivers,
		meta:    meta,
		geo:     geoWriter,
		supply:  supply,
		logger:  logger,
		buffer:  make([]repository.LocationUpdate, 0, cfg.FlushBatch),
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Ingest processes one position ping. Only available drivers enter the
// candidate index; an assignment racing with a stale cache entry is still
// safe because the assignment transaction re-checks driver status.
func (s *LocationService) Ingest(ctx context.Context, driverID string, p model.LatLng, seenAt time.Time) error {
	if !validPoint(p) {
		return apperr.Validation("invalid_coordinates", "position out of range")
	}

	m, err := s.lookupMeta(ctx, driverID)
	if err != nil {
		return err
	}

	if m.Status == model.DriverAvailable {
		if err := s.geo.Upsert(ctx, m.Tier, driverID, p); err != nil {
			return apperr.Unavailable("geo_index", "location index unavailable").Wrap(err)
		}
		s.supply.RecordSupply(ctx, p, driverID)
	}

	s.enqueue(repository.LocationUpdate{DriverID: driverID, Point: p, SeenAt: seenAt})
	return nil
}

func (s *LocationService) lookupMeta(ctx context.Context, driverID string) (*driverMeta, error) {
	m, err := s.meta.get(ctx, driverID)
	if err != nil {
		s.logger.Printf("meta cache get failed for driver %s: %v", driverID, err)
	}
	if m != nil {
		return m, nil
	}

	d, err := s.drivers.GetByID(ctx, driverID)
	if err != nil {
		return nil, err
	}
	m = &driverMeta{Tier: d.Tier, Status: d.Status}
	if serr := s.meta.set(ctx, driverID, *m); serr != nil {
		s.logger.Printf("meta cache set failed for driver %s: %v", driverID, serr)
	}
	return m, nil
}

// enqueue appends to the flush buffer, dropping the oldest entry when full.
// A dropped ping is superseded by the next one from the same driver; the
// live index has already been updated either way.
func (s *LocationService) enqueue(u repository.LocationUpdate) {
	s.mu.Lock()
	if len(s.buffer) >= s.cfg.BufferCapacity {
		copy(s.buffer, s.buffer[1:])
		s.buffer = s.buffer[:len(s.buffer)-1]
		s.dropped++
	}
	s.buffer = append(s.buffer, u)
	full := len(s.buffer) >= s.cfg.FlushBatch
	s.mu.Unlock()

	if full {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

// Start launches the background flusher.
func (s *LocationService) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				s.flush()
				return
			case <-ticker.C:
				s.flush()
			case <-s.kick:
				s.flush()
			}
		}
	}()
}

// Close flushes remaining updates and stops the flusher.
func (s *LocationService) Close() {
	close(s.stop)
	<-s.done
}

// flush writes the buffered updates, coalesced to the latest position per
// driver, in one statement.
func (s *LocationService) flush() {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.buffer
	s.buffer = make([]repository.LocationUpdate, 0, s.cfg.FlushBatch)
	dropped := s.dropped
	s.dropped = 0
	s.mu.Unlock()

	coalesced := CoalesceLatest(batch)

	// One retry, then drop the batch. Positions are superseded by the next
	// pings anyway; the live index is already current.
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = s.store.UpsertLocations(ctx, coalesced)
		cancel()
		if err == nil {
			break
		}
	}
	if err != nil {
		s.logger.Printf("location flush dropped %d updates: %v", len(coalesced), err)
		return
	}
	if dropped > 0 {
		s.logger.Printf("location buffer overflowed, dropped %d oldest pings", dropped)
	}
}

// CoalesceLatest reduces a batch to the most recent update per driver,
// preserving first-seen driver order.
func CoalesceLatest(batch []repository.LocationUpdate) []repository.LocationUpdate {
	idx := make(map[string]int, len(batch))
	out := make([]repository.LocationUpdate, 0, len(batch))
	for _, u := range batch {
		if i, ok := idx[u.DriverID]; ok {
			if !u.SeenAt.Before(out[i].SeenAt) {
				out[i] = u
			}
			continue
		}
		idx[u.DriverID] = len(out)
		out = append(out, u)
	}
	return out
}
