package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"equipres/internal/domain"
	"equipres/internal/models"
)

const reservationColumns = `id, user_id, equipment_id, start_date, end_date, quantity, status, purpose, notes,
	approved_by, approved_at, approval_notes, rejection_reason, cancelled_by, cancelled_at, cancel_reason,
	estimated_cost, actual_start_date, actual_end_date, condition_notes, user_rating, equipment_rating,
	version, created_at, updated_at`

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var r models.Reservation
	err := row.Scan(
		&r.ID, &r.UserID, &r.EquipmentID, &r.StartDate, &r.EndDate, &r.Quantity, &r.Status, &r.Purpose, &r.Notes,
		&r.Approval.ApprovedBy, &r.Approval.ApprovedAt, &r.Approval.Notes, &r.Approval.RejectionReason,
		&r.Approval.CancelledBy, &r.Approval.CancelledAt, &r.Approval.CancelReason,
		&r.EstimatedCost, &r.Usage.ActualStartDate, &r.Usage.ActualEndDate, &r.Usage.ConditionNotes,
		&r.Ratings.User, &r.Ratings.Equipment,
		&r.Version, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanReservations(rows *sql.Rows) ([]*models.Reservation, error) {
	defer rows.Close()
	var out []*models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	r, err := scanReservation(s.queryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reservation %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return r, nil
}

func (s *Store) CreateReservation(ctx context.Context, r *models.Reservation) error {
	now := time.Now().UTC()
	r.StartDate = r.StartDate.UTC()
	r.EndDate = r.EndDate.UTC()
	r.Version = 1

	query := `INSERT INTO reservations (
				user_id, equipment_id, start_date, end_date, quantity, status, purpose, notes,
				approved_by, approved_at, approval_notes, estimated_cost, version, created_at, updated_at
			) VALUES (` + placeholders(15) + `) RETURNING id`
	err := s.queryRow(ctx, query,
		r.UserID, r.EquipmentID, r.StartDate, r.EndDate, r.Quantity, r.Status, r.Purpose, r.Notes,
		r.Approval.ApprovedBy, utcPtr(r.Approval.ApprovedAt), r.Approval.Notes, r.EstimatedCost,
		r.Version, now, now,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

// UpdateReservation writes every mutable column when the stored version equals r.Version.
func (s *Store) UpdateReservation(ctx context.Context, r *models.Reservation) error {
	now := time.Now().UTC()
	res, err := s.exec(ctx, `UPDATE reservations SET
			start_date = ?, end_date = ?, quantity = ?, status = ?, purpose = ?, notes = ?,
			approved_by = ?, approved_at = ?, approval_notes = ?, rejection_reason = ?,
			cancelled_by = ?, cancelled_at = ?, cancel_reason = ?, estimated_cost = ?,
			actual_start_date = ?, actual_end_date = ?, condition_notes = ?, user_rating = ?, equipment_rating = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		r.StartDate.UTC(), r.EndDate.UTC(), r.Quantity, r.Status, r.Purpose, r.Notes,
		r.Approval.ApprovedBy, utcPtr(r.Approval.ApprovedAt), r.Approval.Notes, r.Approval.RejectionReason,
		r.Approval.CancelledBy, utcPtr(r.Approval.CancelledAt), r.Approval.CancelReason, r.EstimatedCost,
		utcPtr(r.Usage.ActualStartDate), utcPtr(r.Usage.ActualEndDate), r.Usage.ConditionNotes,
		r.Ratings.User, r.Ratings.Equipment,
		now, r.ID, r.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetReservation(ctx, r.ID); err != nil {
			return err
		}
		return domain.ErrConcurrentModification
	}

	r.Version++
	r.UpdatedAt = now
	return nil
}

func (s *Store) ListReservations(ctx context.Context, f models.ReservationFilter) ([]*models.Reservation, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != 0 {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.EquipmentID != 0 {
		where = append(where, "equipment_id = ?")
		args = append(args, f.EquipmentID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if !f.To.IsZero() {
		where = append(where, "start_date <= ?")
		args = append(args, f.To.UTC())
	}
	if !f.From.IsZero() {
		where = append(where, "end_date >= ?")
		args = append(args, f.From.UTC())
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY start_date, id`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	return scanReservations(rows)
}

func (s *Store) OverlappingReservations(ctx context.Context, equipmentID int64, start, end time.Time, excludeID int64) ([]*models.Reservation, error) {
	rows, err := s.query(ctx, `SELECT `+reservationColumns+` FROM reservations
		WHERE equipment_id = ? AND status IN (?, ?) AND start_date <= ? AND end_date >= ? AND id <> ?
		ORDER BY start_date, id`,
		equipmentID, models.StatusApproved, models.StatusActive, end.UTC(), start.UTC(), excludeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query overlapping reservations: %w", err)
	}
	return scanReservations(rows)
}

func (s *Store) CountOpenReservations(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM reservations WHERE user_id = ? AND status IN (?, ?, ?)`,
		userID, models.StatusPending, models.StatusApproved, models.StatusActive).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count open reservations: %w", err)
	}
	return count, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
