package models

import "time"

// User is a local projection of the identity provider's user, kept for
// department checks and reservation statistics.
type User struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Department string    `json:"department"`
	Role       string    `json:"role"`
	Stats      UserStats `json:"stats"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type UserStats struct {
	TotalReservations     int64 `json:"total_reservations"`
	ActiveReservations    int64 `json:"active_reservations"`
	CancelledReservations int64 `json:"cancelled_reservations"`
	TotalRentals          int64 `json:"total_rentals"`
}

// User stat columns accepted by IncrementStat.
const (
	StatTotalReservations     = "total_reservations"
	StatActiveReservations    = "active_reservations"
	StatCancelledReservations = "cancelled_reservations"
	StatTotalRentals          = "total_rentals"
)

func ValidStat(field string) bool {
	switch field {
	case StatTotalReservations, StatActiveReservations, StatCancelledReservations, StatTotalRentals:
		return true
	}
	return false
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID     int64
	Role       string
	Department string
}

func (a Actor) IsAdmin() bool      { return a.Role == RoleAdmin }
func (a Actor) IsSupervisor() bool { return a.Role == RoleSupervisor }
func (a Actor) IsStaff() bool      { return a.IsAdmin() || a.IsSupervisor() }
