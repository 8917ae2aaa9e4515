package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Approval struct {
	ApprovedBy      *int64     `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	CancelledBy     *int64     `json:"cancelled_by,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
}

type UsageTracking struct {
	ActualStartDate *time.Time `json:"actual_start_date,omitempty"`
	ActualEndDate   *time.Time `json:"actual_end_date,omitempty"`
	ConditionNotes  string     `json:"condition_notes,omitempty"`
}

type Ratings struct {
	User      *int `json:"user_rating,omitempty"`
	Equipment *int `json:"equipment_rating,omitempty"`
}

// Reservation is one user's claim on a quantity of equipment for [StartDate, EndDate].
type Reservation struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	EquipmentID   int64           `json:"equipment_id"`
	StartDate     time.Time       `json:"start_date"`
	EndDate       time.Time       `json:"end_date"`
	Quantity      int64           `json:"quantity"`
	Status        string          `json:"status"`
	Purpose       string          `json:"purpose"`
	Notes         string          `json:"notes"`
	Approval      Approval        `json:"approval"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
	Usage         UsageTracking   `json:"usage_tracking"`
	Ratings       Ratings         `json:"ratings"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Overlaps applies the closed-interval test: [a,b] and [c,d] overlap iff a <= d and c <= b.
// Touching intervals overlap.
func Overlaps(a, b, c, d time.Time) bool {
	return !a.After(d) && !c.After(b)
}

// Commits reports whether the reservation holds inventory.
func (r *Reservation) Commits() bool {
	return r.Status == StatusApproved || r.Status == StatusActive
}

// IsOpen reports whether the reservation counts against the per-user limit.
func (r *Reservation) IsOpen() bool {
	return r.Status == StatusPending || r.Status == StatusApproved || r.Status == StatusActive
}

// IsTerminal reports whether no further transitions are possible.
func (r *Reservation) IsTerminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusCancelled
}

func (r *Reservation) IsOverdue(now time.Time) bool {
	return r.Status == StatusActive && now.After(r.EndDate)
}

// EffectiveStatus is the stored status with overdue projected on read.
func (r *Reservation) EffectiveStatus(now time.Time) string {
	if r.IsOverdue(now) {
		return StatusOverdue
	}
	return r.Status
}

// DurationDays rounds the interval up to whole days, at least one.
func (r *Reservation) DurationDays() int {
	return DurationDays(r.StartDate, r.EndDate)
}

func DurationDays(start, end time.Time) int {
	d := end.Sub(start)
	if d <= 0 {
		return 1
	}
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	if days < 1 {
		days = 1
	}
	return days
}

// EstimateCost prices a reservation with the daily rate, or the hourly rate
// for reservations shorter than a day when one is set.
func EstimateCost(terms RentalTerms, start, end time.Time, quantity int64) decimal.Decimal {
	qty := decimal.NewFromInt(quantity)
	d := end.Sub(start)
	if d < 24*time.Hour && terms.HourlyRate.IsPositive() {
		hours := decimal.NewFromFloat(d.Hours()).Ceil()
		return terms.HourlyRate.Mul(hours).Mul(qty)
	}
	return terms.DailyRate.Mul(decimal.NewFromInt(int64(DurationDays(start, end)))).Mul(qty)
}

// ReservationView is the read model returned to clients.
type ReservationView struct {
	*Reservation
	EffectiveStatus string `json:"effective_status"`
	IsOverdue       bool   `json:"is_overdue"`
	DurationDays    int    `json:"duration_days"`
}

func (r *Reservation) View(now time.Time) ReservationView {
	return ReservationView{
		Reservation:     r,
		EffectiveStatus: r.EffectiveStatus(now),
		IsOverdue:       r.IsOverdue(now),
		DurationDays:    r.DurationDays(),
	}
}

// ReservationFilter narrows reservation listings. Zero values match everything.
type ReservationFilter struct {
	UserID      int64
	EquipmentID int64
	Status      string
	From        time.Time
	To          time.Time
}
