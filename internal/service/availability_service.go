package service

import (
	"context"
	"slices"
	"time"

	"equipres/internal/availability"
	"equipres/internal/domain"
	"equipres/internal/models"

	"github.com/rs/zerolog"
)

// AvailabilityService answers read-only availability questions. Writes re-run
// the same check inside their transaction.
type AvailabilityService struct {
	repo      domain.Repository
	equipment domain.EquipmentService
	logger    *zerolog.Logger
}

func NewAvailabilityService(repo domain.Repository, equipment domain.EquipmentService, logger *zerolog.Logger) *AvailabilityService {
	return &AvailabilityService{repo: repo, equipment: equipment, logger: logger}
}

func (s *AvailabilityService) CheckAvailability(ctx context.Context, equipmentID int64, start, end time.Time, quantity int64, excludeID int64) (*models.AvailabilityResult, error) {
	req := availability.Request{Start: start, End: end, Quantity: quantity, ExcludeID: excludeID}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	e, err := s.equipment.Get(ctx, equipmentID)
	if err != nil {
		return nil, err
	}
	if !e.IsBookable() {
		return availability.Check(e, nil, req)
	}

	rows, err := s.repo.OverlappingReservations(ctx, equipmentID, start, end, excludeID)
	if err != nil {
		return nil, err
	}
	return availability.Check(e, rows, req)
}

// Project returns the per-day calendar of the equipment starting at the day of from.
func (s *AvailabilityService) Project(ctx context.Context, equipmentID int64, from time.Time, days int) ([]models.DayAvailability, error) {
	if days < 0 {
		return nil, domain.Invalid("days cannot be negative")
	}
	e, err := s.equipment.Get(ctx, equipmentID)
	if err != nil {
		return nil, err
	}

	first := availability.StartOfDay(from)
	rows, err := s.repo.ListReservations(ctx, models.ReservationFilter{
		EquipmentID: equipmentID,
		From:        first,
		To:          first.AddDate(0, 0, days),
	})
	if err != nil {
		return nil, err
	}

	return slices.Collect(availability.Project(e, rows, first, days)), nil
}
