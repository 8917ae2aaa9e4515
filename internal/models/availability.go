package models

import "time"

// AvailabilityResult is the outcome of a conflict check for a candidate interval.
type AvailabilityResult struct {
	Available               bool           `json:"available"`
	AvailableQuantity       int64          `json:"available_quantity"`
	ConflictingReservations []*Reservation `json:"conflicting_reservations"`
}

// DayAvailability is one row of the projected calendar.
type DayAvailability struct {
	Date              time.Time `json:"date"`
	Available         bool      `json:"available"`
	AvailableQuantity int64     `json:"available_quantity"`
	ReservedQuantity  int64     `json:"reserved_quantity"`
}
