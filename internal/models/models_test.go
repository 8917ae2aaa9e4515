package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestOverlaps(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2030, 1, d, 0, 0, 0, 0, time.UTC) }

	t.Run("Disjoint", func(t *testing.T) {
		assert.False(t, Overlaps(day(1), day(2), day(3), day(4)))
		assert.False(t, Overlaps(day(3), day(4), day(1), day(2)))
	})

	t.Run("Touching", func(t *testing.T) {
		assert.True(t, Overlaps(day(1), day(3), day(3), day(5)))
		assert.True(t, Overlaps(day(3), day(5), day(1), day(3)))
	})

	t.Run("Contained", func(t *testing.T) {
		assert.True(t, Overlaps(day(1), day(10), day(3), day(4)))
		assert.True(t, Overlaps(day(3), day(4), day(1), day(10)))
	})
}

func TestReservation_Derived(t *testing.T) {
	now := time.Date(2030, 1, 10, 12, 0, 0, 0, time.UTC)

	t.Run("OverdueOnlyWhenActive", func(t *testing.T) {
		r := &Reservation{Status: StatusActive, EndDate: now.Add(-time.Hour)}
		assert.True(t, r.IsOverdue(now))
		assert.Equal(t, StatusOverdue, r.EffectiveStatus(now))
		assert.Equal(t, StatusActive, r.Status)

		r.Status = StatusApproved
		assert.False(t, r.IsOverdue(now))
		assert.Equal(t, StatusApproved, r.EffectiveStatus(now))
	})

	t.Run("NotOverdueBeforeEnd", func(t *testing.T) {
		r := &Reservation{Status: StatusActive, EndDate: now.Add(time.Hour)}
		assert.False(t, r.IsOverdue(now))
	})

	t.Run("DurationDays", func(t *testing.T) {
		assert.Equal(t, 1, DurationDays(now, now.Add(time.Hour)))
		assert.Equal(t, 1, DurationDays(now, now.Add(24*time.Hour)))
		assert.Equal(t, 2, DurationDays(now, now.Add(25*time.Hour)))
		assert.Equal(t, 1, DurationDays(now, now))
	})

	t.Run("View", func(t *testing.T) {
		r := &Reservation{Status: StatusActive, StartDate: now.Add(-48 * time.Hour), EndDate: now.Add(-time.Hour)}
		v := r.View(now)
		assert.True(t, v.IsOverdue)
		assert.Equal(t, StatusOverdue, v.EffectiveStatus)
		assert.Equal(t, 2, v.DurationDays)
	})
}

func TestReservation_StatusSets(t *testing.T) {
	for _, tc := range []struct {
		status   string
		commits  bool
		open     bool
		terminal bool
	}{
		{StatusPending, false, true, false},
		{StatusApproved, true, true, false},
		{StatusActive, true, true, false},
		{StatusCompleted, false, false, true},
		{StatusCancelled, false, false, true},
	} {
		t.Run(tc.status, func(t *testing.T) {
			r := &Reservation{Status: tc.status}
			assert.Equal(t, tc.commits, r.Commits())
			assert.Equal(t, tc.open, r.IsOpen())
			assert.Equal(t, tc.terminal, r.IsTerminal())
		})
	}
}

func TestEstimateCost(t *testing.T) {
	start := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	terms := RentalTerms{
		HourlyRate: decimal.RequireFromString("2.50"),
		DailyRate:  decimal.RequireFromString("20"),
	}

	assert.True(t, decimal.RequireFromString("15").Equal(EstimateCost(terms, start, start.Add(3*time.Hour), 2)))
	assert.True(t, decimal.RequireFromString("60").Equal(EstimateCost(terms, start, start.Add(72*time.Hour), 1)))

	terms.HourlyRate = decimal.Zero
	assert.True(t, decimal.RequireFromString("40").Equal(EstimateCost(terms, start, start.Add(3*time.Hour), 2)))
}

func TestActorRoles(t *testing.T) {
	assert.True(t, Actor{Role: RoleAdmin}.IsStaff())
	assert.True(t, Actor{Role: RoleSupervisor}.IsStaff())
	assert.False(t, Actor{Role: RoleUser}.IsStaff())
	assert.True(t, ValidCategory(CategoryLab))
	assert.False(t, ValidCategory("spaceship"))
	assert.True(t, ValidStat(StatTotalRentals))
	assert.False(t, ValidStat("id"))
}
