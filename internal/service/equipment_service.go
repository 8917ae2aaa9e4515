package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"equipres/internal/config"
	"equipres/internal/domain"
	"equipres/internal/events"
	"equipres/internal/metrics"
	"equipres/internal/models"
	"equipres/internal/repository"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// EquipmentService owns inventory quantities. Every mutation runs under the
// per-equipment lock that reservation transitions use too.
type EquipmentService struct {
	repo     domain.Repository
	locker   domain.Locker
	eventBus domain.EventPublisher
	cache    *lru.Cache[int64, models.Equipment]
	lockTTL  time.Duration
	lockWait time.Duration
	logger   *zerolog.Logger
}

func NewEquipmentService(repo domain.Repository, locker domain.Locker, eventBus domain.EventPublisher, cfg config.ReservationsConfig, logger *zerolog.Logger) *EquipmentService {
	cache, err := lru.New[int64, models.Equipment](models.EquipmentCacheSize)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = models.DefaultLockTTL * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 5 * time.Second
	}
	return &EquipmentService{
		repo:     repo,
		locker:   locker,
		eventBus: eventBus,
		cache:    cache,
		lockTTL:  cfg.LockTTL,
		lockWait: cfg.LockWait,
		logger:   logger,
	}
}

func lockKey(equipmentID int64) string {
	return "equipment:" + strconv.FormatInt(equipmentID, 10)
}

// lock takes the per-equipment lock, waiting at most lockWait.
func (s *EquipmentService) lock(ctx context.Context, equipmentID int64) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	unlock, err := s.locker.Lock(lockCtx, lockKey(equipmentID), s.lockTTL)
	if err != nil {
		if errors.Is(err, repository.ErrLockNotAcquired) {
			return nil, fmt.Errorf("%w: equipment %d is busy, try again", domain.ErrConflict, equipmentID)
		}
		return nil, fmt.Errorf("failed to lock equipment %d: %w", equipmentID, err)
	}
	return unlock, nil
}

// withLockedTx runs fn with the equipment lock held and its row locked inside one transaction.
func (s *EquipmentService) withLockedTx(ctx context.Context, equipmentID int64, fn func(tx domain.Repository, e *models.Equipment) error) error {
	unlock, err := s.lock(ctx, equipmentID)
	if err != nil {
		return err
	}
	defer unlock()
	defer s.invalidate(equipmentID)

	return s.repo.InTx(ctx, func(tx domain.Repository) error {
		e, err := tx.LockEquipment(ctx, equipmentID)
		if err != nil {
			return err
		}
		return fn(tx, e)
	})
}

func (s *EquipmentService) invalidate(equipmentID int64) {
	s.cache.Remove(equipmentID)
}

// Get serves from the cache. Callers get their own copy.
func (s *EquipmentService) Get(ctx context.Context, id int64) (*models.Equipment, error) {
	if e, ok := s.cache.Get(id); ok {
		return &e, nil
	}
	e, err := s.repo.GetEquipment(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, *e)
	return e, nil
}

func (s *EquipmentService) List(ctx context.Context, includeRetired bool) ([]*models.Equipment, error) {
	return s.repo.ListEquipment(ctx, includeRetired)
}

func validateEquipment(e *models.Equipment) error {
	if e.Name == "" {
		return domain.Invalid("equipment name is required")
	}
	if e.TotalQuantity < 1 {
		return domain.Invalid("total quantity must be at least 1")
	}
	if e.Category != "" && !models.ValidCategory(e.Category) {
		return domain.Invalid("unknown category %q", e.Category)
	}
	if e.Status != "" && !models.ValidEquipmentStatus(e.Status) {
		return domain.Invalid("unknown equipment status %q", e.Status)
	}
	if e.Terms.HourlyRate.IsNegative() || e.Terms.DailyRate.IsNegative() {
		return domain.Invalid("rates cannot be negative")
	}
	if e.Terms.MaxRentalDurationDays < 0 {
		return domain.Invalid("max rental duration cannot be negative")
	}
	return nil
}

func (s *EquipmentService) Create(ctx context.Context, e *models.Equipment) error {
	if err := validateEquipment(e); err != nil {
		return err
	}
	if e.Status == models.EquipmentMaintenance {
		e.AvailableQuantity = e.TotalQuantity
	}
	if err := s.repo.CreateEquipment(ctx, e); err != nil {
		return err
	}
	s.logger.Info().Int64("equipment_id", e.ID).Str("name", e.Name).Int64("total", e.TotalQuantity).Msg("Equipment created")
	return nil
}

// Update writes descriptive fields, terms and total quantity. Status changes go through SetStatus.
func (s *EquipmentService) Update(ctx context.Context, e *models.Equipment) error {
	if err := validateEquipment(e); err != nil {
		return err
	}
	return s.withLockedTx(ctx, e.ID, func(tx domain.Repository, current *models.Equipment) error {
		committed, err := tx.CommittedQuantity(ctx, e.ID)
		if err != nil {
			return err
		}
		if e.TotalQuantity < committed {
			return domain.Invalid("total quantity %d is below the %d unit(s) already committed", e.TotalQuantity, committed)
		}

		e.Status = current.Status
		if err := tx.UpdateEquipment(ctx, e); err != nil {
			return err
		}

		e.AvailableQuantity = targetAvailable(current.Status, e.TotalQuantity, committed)
		return tx.SetAvailable(ctx, e.ID, e.AvailableQuantity)
	})
}

// AdjustAvailable applies delta to available_quantity, refusing to leave [0, total].
func (s *EquipmentService) AdjustAvailable(ctx context.Context, id int64, delta int64) error {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	defer s.invalidate(id)

	return s.repo.AdjustAvailable(ctx, id, delta)
}

// Recompute resets available_quantity to total minus committed reservations
// and returns the corrected record.
func (s *EquipmentService) Recompute(ctx context.Context, id int64) (*models.Equipment, error) {
	var (
		result *models.Equipment
		drift  int64
	)
	err := s.withLockedTx(ctx, id, func(tx domain.Repository, e *models.Equipment) error {
		var err error
		result, drift, err = recompute(ctx, tx, e)
		return err
	})
	if err != nil {
		return nil, err
	}

	if drift != 0 {
		metrics.IncDrift()
		s.logger.Warn().Int64("equipment_id", id).Int64("drift", drift).Int64("available", result.AvailableQuantity).Msg("Inventory drift corrected")
	}
	s.publish(events.EventInventoryReconciled, result, drift)
	return result, nil
}

// recompute runs inside a locked transaction. Drift is stored minus expected.
func recompute(ctx context.Context, tx domain.Repository, e *models.Equipment) (*models.Equipment, int64, error) {
	committed, err := tx.CommittedQuantity(ctx, e.ID)
	if err != nil {
		return nil, 0, err
	}
	target := targetAvailable(e.Status, e.TotalQuantity, committed)
	drift := e.AvailableQuantity - target
	if drift != 0 {
		if err := tx.SetAvailable(ctx, e.ID, target); err != nil {
			return nil, 0, err
		}
	}
	out := *e
	out.AvailableQuantity = target
	return &out, drift, nil
}

// targetAvailable is total minus committed, clamped to [0, total]. Retired equipment has nothing.
func targetAvailable(status string, total, committed int64) int64 {
	if status == models.EquipmentRetired {
		return 0
	}
	v := total - committed
	if v < 0 {
		return 0
	}
	if v > total {
		return total
	}
	return v
}

// SetStatus changes the operational status. Retiring zeroes availability and
// returning to service restores it to the full total. Maintenance leaves it as is.
func (s *EquipmentService) SetStatus(ctx context.Context, id int64, status string) (*models.Equipment, error) {
	if !models.ValidEquipmentStatus(status) {
		return nil, domain.Invalid("unknown equipment status %q", status)
	}

	var result models.Equipment
	err := s.withLockedTx(ctx, id, func(tx domain.Repository, e *models.Equipment) error {
		available := e.AvailableQuantity
		switch status {
		case models.EquipmentRetired:
			available = 0
		case models.EquipmentAvailable:
			available = e.TotalQuantity
		}
		if err := tx.SetEquipmentStatus(ctx, id, status, available); err != nil {
			return err
		}
		result = *e
		result.Status = status
		result.AvailableQuantity = available
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int64("equipment_id", id).Str("status", status).Int64("available", result.AvailableQuantity).Msg("Equipment status changed")
	s.publish(events.EventEquipmentStatusChanged, &result, 0)
	return &result, nil
}

func (s *EquipmentService) publish(eventType string, e *models.Equipment, drift int64) {
	if s.eventBus == nil {
		return
	}
	payload := events.EquipmentEventPayload{
		EquipmentID:       e.ID,
		Status:            e.Status,
		TotalQuantity:     e.TotalQuantity,
		AvailableQuantity: e.AvailableQuantity,
		Drift:             drift,
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("equipment_id", e.ID).Msg("publish event error")
	}
}
