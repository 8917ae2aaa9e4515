package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RentalTerms describes pricing and booking constraints of an equipment type.
type RentalTerms struct {
	HourlyRate            decimal.Decimal `yaml:"hourly_rate" json:"hourly_rate"`
	DailyRate             decimal.Decimal `yaml:"daily_rate" json:"daily_rate"`
	MaxRentalDurationDays int             `yaml:"max_rental_duration_days" json:"max_rental_duration_days"`
	RequiresApproval      bool            `yaml:"requires_approval" json:"requires_approval"`
	RequiresTraining      bool            `yaml:"requires_training" json:"requires_training"`
}

type UsageStats struct {
	TotalRentals  int64      `json:"total_rentals"`
	ActiveRentals int64      `json:"active_rentals"`
	LastRentedAt  *time.Time `json:"last_rented_at,omitempty"`
}

// Equipment is a rentable unit type with a pooled quantity.
type Equipment struct {
	ID                int64       `yaml:"id" json:"id"`
	Name              string      `yaml:"name" json:"name"`
	Description       string      `yaml:"description" json:"description"`
	Category          string      `yaml:"category" json:"category"`
	TotalQuantity     int64       `yaml:"total_quantity" json:"total_quantity"`
	AvailableQuantity int64       `yaml:"-" json:"available_quantity"`
	Status            string      `yaml:"status" json:"status"`
	Terms             RentalTerms `yaml:"rental_terms" json:"rental_terms"`
	Usage             UsageStats  `yaml:"-" json:"usage_stats"`
	CreatedAt         time.Time   `yaml:"-" json:"created_at"`
	UpdatedAt         time.Time   `yaml:"-" json:"updated_at"`
}

// IsBookable reports whether new reservations may be placed on the equipment.
func (e *Equipment) IsBookable() bool {
	return e.Status == EquipmentAvailable
}
