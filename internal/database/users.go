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

const userColumns = `id, name, email, department, role, total_reservations, active_reservations,
	cancelled_reservations, total_rentals, created_at, updated_at`

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Department, &u.Role,
		&u.Stats.TotalReservations, &u.Stats.ActiveReservations, &u.Stats.CancelledReservations, &u.Stats.TotalRentals,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// UpsertUser stores the identity fields of u. Empty name and email keep the stored values;
// statistics are never touched.
func (s *Store) UpsertUser(ctx context.Context, u *models.User) error {
	now := time.Now().UTC()
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	_, err := s.exec(ctx, `INSERT INTO users (id, name, email, department, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE users.name END,
			email = CASE WHEN excluded.email <> '' THEN excluded.email ELSE users.email END,
			department = excluded.department,
			role = excluded.role,
			updated_at = excluded.updated_at`,
		u.ID, u.Name, u.Email, u.Department, u.Role, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	u.UpdatedAt = now
	return nil
}

// IncrementStat adds delta to one statistics column, clamping at zero.
// Unknown users get a fresh row.
func (s *Store) IncrementStat(ctx context.Context, userID int64, field string, delta int64) error {
	if !models.ValidStat(field) {
		return fmt.Errorf("unknown user stat %q", field)
	}
	now := time.Now().UTC()

	query := fmt.Sprintf(`UPDATE users SET %[1]s = CASE WHEN %[1]s + ? < 0 THEN 0 ELSE %[1]s + ? END, updated_at = ? WHERE id = ?`, field)
	res, err := s.exec(ctx, query, delta, delta, now, userID)
	if err != nil {
		return fmt.Errorf("failed to increment %s: %w", field, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	initial := delta
	if initial < 0 {
		initial = 0
	}
	query = fmt.Sprintf(`INSERT INTO users (id, role, %s, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`, field)
	if _, err := s.exec(ctx, query, userID, models.RoleUser, initial, now, now); err != nil {
		return fmt.Errorf("failed to create user stats: %w", err)
	}
	return nil
}

func (s *Store) ListApprovers(ctx context.Context, department string) ([]*models.User, error) {
	rows, err := s.query(ctx, `SELECT `+userColumns+` FROM users
		WHERE (role = ? AND department = ?) OR role = ? ORDER BY id`,
		models.RoleSupervisor, department, models.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvers: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
