package service

import (
	"context"
	"log"

	"github.com/veloride/veloride/internal/apperr"
	"github.com/veloride/veloride/internal/model"
)

// DriverStore is the persistence surface for driver onboarding and status.
type DriverStore interface {
	Create(ctx context.Context, name, phone string, tier model.Tier) (*model.Driver, error)
	GetByID(ctx context.Context, id string) (*model.Driver, error)
	SetStatus(ctx context.Context, id string, status model.DriverStatus) (*model.Driver, error)
}

// DriverService owns driver registration and availability changes.
type DriverService struct {
	drivers DriverStore
	geo     GeoWriter
	meta    *MetaCache
	logger  *log.Logger
}

func NewDriverService(drivers DriverStore, geoWriter GeoWriter, meta *MetaCache, logger *log.Logger) *DriverService {
	return &DriverService{drivers: drivers, geo: geoWriter, meta: meta, logger: logger}
}

// Register creates a driver in offline status.
func (s *DriverService) Register(ctx context.Context, name, phone string, tier model.Tier) (*model.Driver, error) {
	if name == "" || phone == "" {
		return nil, apperr.Validation("missing_fields", "name and phone are required")
	}
	if !model.ValidTier(tier) {
		return nil, apperr.Validation("invalid_tier", "unknown service tier")
	}

	d, err := s.drivers.Create(ctx, name, phone, tier)
	if err != nil {
		return nil, err
	}
	s.logger.Printf("driver %s registered (tier %s)", d.ID, d.Tier)
	return d, nil
}

// Get returns a driver by id.
func (s *DriverService) Get(ctx context.Context, id string) (*model.Driver, error) {
	return s.drivers.GetByID(ctx, id)
}

// SetStatus applies a driver's availability change. A driver leaving the
// available pool is removed from the candidate index immediately; one going
// available re-enters it with their next position ping.
func (s *DriverService) SetStatus(ctx context.Context, id string, status model.DriverStatus) (*model.Driver, error) {
	if !model.ValidDriverStatus(status) {
		return nil, apperr.Validation("invalid_status", "unknown driver status")
	}

	d, err := s.drivers.SetStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}

	if merr := s.meta.Invalidate(ctx, id); merr != nil {
		s.logger.Printf("meta cache invalidation failed for driver %s: %v", id, merr)
	}
	if status != model.DriverAvailable {
		if gerr := s.geo.Remove(ctx, d.Tier, id); gerr != nil {
			s.logger.Printf("geo index removal failed for driver %s: %v", id, gerr)
		}
	}

	s.logger.Printf("driver %s status set to %s", id, status)
	return d, nil
}
