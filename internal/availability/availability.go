// Package availability holds the interval arithmetic behind reservation
// conflict checks and the availability calendar. It does no I/O.
package availability

import (
	"fmt"
	"iter"
	"time"

	"equipres/internal/domain"
	"equipres/internal/models"
)

// Request is a candidate claim on equipment.
type Request struct {
	Start    time.Time
	End      time.Time
	Quantity int64
	// ExcludeID skips one reservation, used when a reservation is checked against its own slot.
	ExcludeID int64
}

func (r Request) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return domain.Invalid("start and end dates are required")
	}
	if !r.Start.Before(r.End) {
		return domain.Invalid("start date must be before end date")
	}
	if r.Quantity < 1 {
		return domain.Invalid("quantity must be at least 1")
	}
	return nil
}

// Check decides whether req fits next to the committed reservations among candidates.
// Candidates may be a superset: non-committing and non-overlapping rows are ignored.
func Check(e *models.Equipment, candidates []*models.Reservation, req Request) (*models.AvailabilityResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("equipment: %w", domain.ErrNotFound)
	}
	if !e.IsBookable() {
		return nil, fmt.Errorf("%w: equipment %d is %s", domain.ErrUnavailable, e.ID, e.Status)
	}

	committed, conflicting := Committed(candidates, req.Start, req.End, req.ExcludeID)

	return &models.AvailabilityResult{
		Available:               committed+req.Quantity <= e.TotalQuantity,
		AvailableQuantity:       e.TotalQuantity - committed,
		ConflictingReservations: conflicting,
	}, nil
}

// Committed sums the quantity of approved and active reservations overlapping [start, end].
func Committed(reservations []*models.Reservation, start, end time.Time, excludeID int64) (int64, []*models.Reservation) {
	var committed int64
	overlapping := make([]*models.Reservation, 0)
	for _, r := range reservations {
		if r == nil || !r.Commits() {
			continue
		}
		if excludeID != 0 && r.ID == excludeID {
			continue
		}
		if !models.Overlaps(start, end, r.StartDate, r.EndDate) {
			continue
		}
		committed += r.Quantity
		overlapping = append(overlapping, r)
	}
	return committed, overlapping
}

// Project yields one DayAvailability per UTC day starting at the day of from.
// The sequence can be ranged over any number of times and stops early when the
// consumer breaks.
func Project(e *models.Equipment, reservations []*models.Reservation, from time.Time, days int) iter.Seq[models.DayAvailability] {
	rows := make([]*models.Reservation, 0, len(reservations))
	for _, r := range reservations {
		if r != nil && r.Commits() {
			rows = append(rows, r)
		}
	}
	total := int64(0)
	if e != nil && e.Status != models.EquipmentRetired {
		total = e.TotalQuantity
	}
	first := StartOfDay(from)

	return func(yield func(models.DayAvailability) bool) {
		for i := 0; i < days; i++ {
			dayStart := first.AddDate(0, 0, i)
			dayEnd := dayStart.AddDate(0, 0, 1).Add(-time.Nanosecond)

			reserved, _ := Committed(rows, dayStart, dayEnd, 0)
			free := total - reserved
			if free < 0 {
				free = 0
			}

			day := models.DayAvailability{
				Date:              dayStart,
				Available:         reserved < total,
				AvailableQuantity: free,
				ReservedQuantity:  reserved,
			}
			if !yield(day) {
				return
			}
		}
	}
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
