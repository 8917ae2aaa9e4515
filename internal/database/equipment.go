package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"equipres/internal/domain"
	"equipres/internal/models"
)

const equipmentColumns = `id, name, description, category, total_quantity, available_quantity, status,
	hourly_rate, daily_rate, max_rental_duration_days, requires_approval, requires_training,
	total_rentals, active_rentals, last_rented_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEquipment(row rowScanner) (*models.Equipment, error) {
	var e models.Equipment
	err := row.Scan(
		&e.ID, &e.Name, &e.Description, &e.Category, &e.TotalQuantity, &e.AvailableQuantity, &e.Status,
		&e.Terms.HourlyRate, &e.Terms.DailyRate, &e.Terms.MaxRentalDurationDays,
		&e.Terms.RequiresApproval, &e.Terms.RequiresTraining,
		&e.Usage.TotalRentals, &e.Usage.ActiveRentals, &e.Usage.LastRentedAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) GetEquipment(ctx context.Context, id int64) (*models.Equipment, error) {
	e, err := scanEquipment(s.queryRow(ctx, `SELECT `+equipmentColumns+` FROM equipment WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("equipment %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get equipment: %w", err)
	}
	return e, nil
}

func (s *Store) LockEquipment(ctx context.Context, id int64) (*models.Equipment, error) {
	query := `SELECT ` + equipmentColumns + ` FROM equipment WHERE id = ?`
	if s.db.dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}
	e, err := scanEquipment(s.queryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("equipment %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock equipment: %w", err)
	}
	return e, nil
}

func (s *Store) ListEquipment(ctx context.Context, includeRetired bool) ([]*models.Equipment, error) {
	query := `SELECT ` + equipmentColumns + ` FROM equipment`
	var args []any
	if !includeRetired {
		query += ` WHERE status <> ?`
		args = append(args, models.EquipmentRetired)
	}
	query += ` ORDER BY name, id`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list equipment: %w", err)
	}
	defer rows.Close()

	var items []*models.Equipment
	for rows.Next() {
		e, err := scanEquipment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan equipment: %w", err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// CreateEquipment inserts e. A non-zero e.ID is kept, which lets seed files pin ids.
func (s *Store) CreateEquipment(ctx context.Context, e *models.Equipment) error {
	now := time.Now().UTC()
	if e.Status == "" {
		e.Status = models.EquipmentAvailable
	}
	if e.Category == "" {
		e.Category = models.CategoryOther
	}
	switch e.Status {
	case models.EquipmentRetired:
		e.AvailableQuantity = 0
	case models.EquipmentAvailable:
		e.AvailableQuantity = e.TotalQuantity
	}

	cols := `name, description, category, total_quantity, available_quantity, status,
		hourly_rate, daily_rate, max_rental_duration_days, requires_approval, requires_training,
		created_at, updated_at`
	args := []any{
		e.Name, e.Description, e.Category, e.TotalQuantity, e.AvailableQuantity, e.Status,
		e.Terms.HourlyRate, e.Terms.DailyRate, e.Terms.MaxRentalDurationDays,
		e.Terms.RequiresApproval, e.Terms.RequiresTraining, now, now,
	}
	if e.ID != 0 {
		cols = "id, " + cols
		args = append([]any{e.ID}, args...)
	}

	query := `INSERT INTO equipment (` + cols + `) VALUES (` + placeholders(len(args)) + `) RETURNING id`
	if err := s.queryRow(ctx, query, args...).Scan(&e.ID); err != nil {
		return fmt.Errorf("failed to create equipment: %w", err)
	}

	if s.db.dialect == DialectPostgres {
		// keep the serial ahead of explicitly inserted ids
		_, err := s.exec(ctx, `SELECT setval(pg_get_serial_sequence('equipment', 'id'), (SELECT MAX(id) FROM equipment))`)
		if err != nil {
			return fmt.Errorf("failed to advance equipment sequence: %w", err)
		}
	}

	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

// UpdateEquipment writes descriptive fields, rental terms and total quantity.
// Available quantity is maintained separately.
func (s *Store) UpdateEquipment(ctx context.Context, e *models.Equipment) error {
	now := time.Now().UTC()
	res, err := s.exec(ctx, `UPDATE equipment SET name = ?, description = ?, category = ?, total_quantity = ?,
		hourly_rate = ?, daily_rate = ?, max_rental_duration_days = ?, requires_approval = ?, requires_training = ?,
		updated_at = ? WHERE id = ?`,
		e.Name, e.Description, e.Category, e.TotalQuantity,
		e.Terms.HourlyRate, e.Terms.DailyRate, e.Terms.MaxRentalDurationDays,
		e.Terms.RequiresApproval, e.Terms.RequiresTraining, now, e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update equipment: %w", err)
	}
	if err := expectOne(res, fmt.Errorf("equipment %d: %w", e.ID, domain.ErrNotFound)); err != nil {
		return err
	}
	e.UpdatedAt = now
	return nil
}

// AdjustAvailable applies delta only if the result stays within [0, total_quantity].
func (s *Store) AdjustAvailable(ctx context.Context, id int64, delta int64) error {
	res, err := s.exec(ctx, `UPDATE equipment SET available_quantity = available_quantity + ?, updated_at = ?
		WHERE id = ? AND available_quantity + ? BETWEEN 0 AND total_quantity`,
		delta, time.Now().UTC(), id, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust available quantity: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	e, err := s.GetEquipment(ctx, id)
	if err != nil {
		return err
	}
	return domain.Invalid("equipment %d: available %d%+d leaves [0, %d]", id, e.AvailableQuantity, delta, e.TotalQuantity)
}

func (s *Store) SetAvailable(ctx context.Context, id int64, quantity int64) error {
	res, err := s.exec(ctx, `UPDATE equipment SET available_quantity = ?, updated_at = ? WHERE id = ?`,
		quantity, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set available quantity: %w", err)
	}
	return expectOne(res, fmt.Errorf("equipment %d: %w", id, domain.ErrNotFound))
}

func (s *Store) SetEquipmentStatus(ctx context.Context, id int64, status string, available int64) error {
	res, err := s.exec(ctx, `UPDATE equipment SET status = ?, available_quantity = ?, updated_at = ? WHERE id = ?`,
		status, available, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set equipment status: %w", err)
	}
	return expectOne(res, fmt.Errorf("equipment %d: %w", id, domain.ErrNotFound))
}

// CommittedQuantity sums approved and active reservations of the equipment.
func (s *Store) CommittedQuantity(ctx context.Context, equipmentID int64) (int64, error) {
	var total int64
	err := s.queryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM reservations
		WHERE equipment_id = ? AND status IN (?, ?)`,
		equipmentID, models.StatusApproved, models.StatusActive).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum committed quantity: %w", err)
	}
	return total, nil
}

func (s *Store) RecordRentalStart(ctx context.Context, equipmentID int64) error {
	res, err := s.exec(ctx, `UPDATE equipment SET active_rentals = active_rentals + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), equipmentID)
	if err != nil {
		return fmt.Errorf("failed to record rental start: %w", err)
	}
	return expectOne(res, fmt.Errorf("equipment %d: %w", equipmentID, domain.ErrNotFound))
}

func (s *Store) RecordRentalEnd(ctx context.Context, equipmentID int64, at time.Time) error {
	at = at.UTC()
	res, err := s.exec(ctx, `UPDATE equipment SET total_rentals = total_rentals + 1,
		active_rentals = CASE WHEN active_rentals > 0 THEN active_rentals - 1 ELSE 0 END,
		last_rented_at = ?, updated_at = ? WHERE id = ?`,
		at, at, equipmentID)
	if err != nil {
		return fmt.Errorf("failed to record rental end: %w", err)
	}
	return expectOne(res, fmt.Errorf("equipment %d: %w", equipmentID, domain.ErrNotFound))
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
