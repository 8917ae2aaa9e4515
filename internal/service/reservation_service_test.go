package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"equipres/internal/domain"
	"equipres/internal/events"
	"equipres/internal/models"
	"equipres/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestScenarioA_OverCommitRejected(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, 2, false)

	r1, err := f.reserve(t, alice, e, 1, 5, 2)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, r1.Status)
	assert.Equal(t, int64(0), f.available(t, e))

	_, err = f.reserve(t, bob, e, 3, 4, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflict)

	var ce *domain.ConflictError
	require.True(t, errors.As(err, &ce))
	require.NotNil(t, ce.Result)
	assert.False(t, ce.Result.Available)
	require.Len(t, ce.Result.ConflictingReservations, 1)
	assert.Equal(t, r1.ID, ce.Result.ConflictingReservations[0].ID)
}

func TestScenarioB_CancelReleasesInventory(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, 2, false)

	r1, err := f.reserve(t, alice, e, 1, 5, 2)
	require.NoError(t, err)

	cancelled, err := f.reservations.Cancel(f.ctx, alice, r1.ID, "plans changed")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, "plans changed", cancelled.Approval.CancelReason)
	assert.Equal(t, int64(2), f.available(t, e))

	r2, err := f.reserve(t, bob, e, 3, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, r2.Status)
	assert.Equal(t, int64(1), f.available(t, e))

	stats := f.user(t, alice.UserID).Stats
	assert.Equal(t, int64(1), stats.TotalReservations)
	assert.Equal(t, int64(0), stats.ActiveReservations)
	assert.Equal(t, int64(1), stats.CancelledReservations)
}

func TestScenarioC_DepartmentApproval(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, 3, true)

	r, err := f.reserve(t, alice, e, 1, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, r.Status)
	assert.Equal(t, int64(3), f.available(t, e))

	_, err = f.reservations.Approve(f.ctx, mediaLead, r.ID, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.reservations.Approve(f.ctx, bob, r.ID, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	approved, err := f.reservations.Approve(f.ctx, labLead, r.ID, "ok")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Status)
	require.NotNil(t, approved.Approval.ApprovedBy)
	assert.Equal(t, labLead.UserID, *approved.Approval.ApprovedBy)
	assert.Equal(t, "ok", approved.Approval.Notes)
	assert.Equal(t, int64(1), f.available(t, e))

	_, err = f.reservations.Approve(f.ctx, admin, r.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestScenarioD_OverdueIsDerived(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, 1, false)

	r, err := f.reserve(t, alice, e, 1, 2, 1)
	require.NoError(t, err)

	f.now = f.day(1).Add(time.Hour)
	_, err = f.reservations.Pickup(f.ctx, alice, r.ID)
	require.NoError(t, err)

	f.now = f.day(3)
	overdue, err := f.reservations.List(f.ctx, alice, models.ReservationFilter{Status: models.StatusOverdue})
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, r.ID, overdue[0].ID)

	stored, err := f.reservations.Get(f.ctx, alice, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, stored.Status)
	assert.Equal(t, models.StatusOverdue, stored.EffectiveStatus(f.now))
	assert.True(t, stored.View(f.now).IsOverdue)

	// an overdue reservation can still be returned
	returned, err := f.reservations.Return(f.ctx, alice, r.ID, domain.ReturnReport{ConditionNotes: "late"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, returned.Status)
}

func TestScenarioE_QuantityImmutableAfterApproval(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, 5, false)

	r, err := f.reserve(t, alice, e, 1, 2, 1)
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, r.Status)

	qty := int64(3)
	_, err = f.reservations.Update(f.ctx, alice, r.ID, domain.ReservationUpdate{Quantity: &qty})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	stored, err := f.store.GetReservation(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Quantity)
	assert.Equal(t, int64(4), f.available(t, e))
}

func TestBoundaryTouchingIntervalsConflict(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, 2, false)

	_, err := f.reserve(t, alice, e, 1, 3, 1)
	require.NoError(t, err)

	// starts exactly when the first one ends
	_, err = f.reserve(t, bob, e, 3, 5, 2)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = f.reserve(t, bob, e, 3, 5, 1)
	assert.NoError(t, err)
}

func TestCheckAvailabilityIsIdempotent(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, 3, false)
	_, err := f.reserve(t, alice, e, 1, 4, 2)
	require.NoError(t, err)

	first, err := f.availability.CheckAvailability(f.ctx, e.ID, f.day(2), f.day(3), 1, 0)
	require.NoError(t, err)
	second, err := f.availability.CheckAvailability(f.ctx, e.ID, f.day(2), f.day(3), 1, 0)
	require.NoError(t, err)

	assert.Equal(t, first.Available, second.Available)
	assert.Equal(t, first.AvailableQuantity, second.AvailableQuantity)
	assert.Len(t, second.ConflictingReservations, len(first.ConflictingReservations))
	assert.True(t, first.Available)
	assert.Equal(t, int64(1), first.AvailableQuantity)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, 5, false)

	t.Run("StartInPast", func(t *testing.T) {
		_, err := f.reserve(t, alice, e, 0, 2, 1)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("EndBeforeStart", func(t *testing.T) {
		_, err := f.reserve(t, alice, e, 3, 2, 1)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("ZeroQuantity", func(t *testing.T) {
		_, err := f.reserve(t, alice, e, 1, 2, 0)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("MissingEquipment", func(t *testing.T) {
		_, err := f.reserve(t, alice, &models.Equipment{ID: 999}, 1, 2, 1)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Maintenance", func(t *testing.T) {
		other := f.addEquipment(t, 1, false)
		_, err := f.equipment.SetStatus(f.ctx, other.ID, models.EquipmentMaintenance)
		require.NoError(t, err)
		_, err = f.reserve(t, alice, other, 1, 2, 1)
		assert.ErrorIs(t, err, domain.ErrUnavailable)
	})

	t.Run("MaxDuration", func(t *testing.T) {
		limited := f.addEquipment(t, 1, false)
		limited.Terms.MaxRentalDurationDays = 2
		require.NoError(t, f.equipment.Update(f.ctx, limited))

		_, err := f.reserve(t, alice, limited, 1, 4, 1)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
		_, err = f.reserve(t, alice, limited, 1, 3, 1)
		assert.NoError(t, err)
	})
}

func TestCreateOpenReservationLimit(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, 10, true)

	for i := 0; i < 3; i++ {
		_, err := f.reserve(t, alice, e, 1+i, 2+i, 1)
		require.NoError(t, err)
	}
	_, err := f.reserve(t, alice, e, 5, 6, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	// other users are not affected
	_, err = f.reserve(t, bob, e, 5, 6, 1)
	assert.NoError(t, err)
}

func TestCreateEstimatesCostAndOwner(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, 5, true)

	r, err := f.reservations.Create(f.ctx, alice, &models.Reservation{
		UserID:      bob.UserID,
		EquipmentID: e.ID,
		StartDate:   f.day(1),
		EndDate:     f.day(4),
		Quantity:    2,
	})
	require.NoError(t, err)
	assert.Equal(t, alice.UserID, r.UserID, "regular users always book for themselves")
	assert.Equal(t, "60", r.EstimatedCost.String())

	onBehalf, err := f.reservations.Create(f.ctx, admin, &models.Reservation{
		UserID:      bob.UserID,
		EquipmentID: e.ID,
		StartDate:   f.day(1),
		EndDate:     f.day(2),
		Quantity:    1,
	})
	require.NoError(t, err)
	assert.Equal(t, bob.UserID, onBehalf.UserID)
	assert.Equal(t, bob.Department, f.user(t, bob.UserID).Department)
}

func TestCreateNotifiesApprovers(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, 2, true)

	r, err := f.reserve(t, alice, e, 1, 2, 1)
	require.NoError(t, err)

	tasks := f.dispatcher.dispatched()
	require.Len(t, tasks, 2)
	notified := map[int64]bool{}
	for _, task := range tasks {
		assert.Equal(t, models.TaskNotify, task.TaskType)
		assert.Equal(t, r.ID, task.ReservationID)
		assert.NotZero(t, task.ID)
		assert.Contains(t, task.Payload, models.NotifyApprovalRequested)

		var n models.Notification
		require.NoError(t, decodePayload(task.Payload, &n))
		notified[n.UserID] = true
	}
	assert.Equal(t, map[int64]bool{admin.UserID: true, labLead.UserID: true}, notified)
	assert.Equal(t, []string{events.EventReservationCreated}, f.events.Types())
}

func TestSheetsMirrorQueuesUpserts(t *testing.T) {
	f := newFixture(t)
	f.reservations.SetSheetsMirror(true)
	e := f.addEquipment(t, 2, false)

	_, err := f.reserve(t, alice, e, 1, 2, 1)
	require.NoError(t, err)

	var types []string
	for _, task := range f.dispatcher.dispatched() {
		types = append(types, task.TaskType)
	}
	assert.ElementsMatch(t, []string{models.TaskNotify, models.TaskSheetUpsert}, types)
	assert.Equal(t, []string{events.EventReservationCreated, events.EventReservationApproved}, f.events.Types())
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, 2, true)

	r, err := f.reserve(t, alice, e, 1, 2, 1)
	require.NoError(t, err)

	_, err = f.reservations.Reject(f.ctx, alice, r.ID, "no")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	rejected, err := f.reservations.Reject(f.ctx, labLead, r.ID, "not for this project")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, rejected.Status)
	assert.Equal(t, "not for this project", rejected.Approval.RejectionReason)
	require.NotNil(t, rejected.Approval.ApprovedBy)
	assert.Equal(t, labLead.UserID, *rejected.Approval.ApprovedBy)
	assert.Equal(t, int64(2), f.available(t, e))

	_, err = f.reservations.Reject(f.ctx, labLead, r.ID, "again")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCancelRules(t *testing.T) {
	t.Run("PendingKeepsInventory", func(t *testing.T) {
		f := newFixture(t)
		e := f.addEquipment(t, 2, true)
		r, err := f.reserve(t, alice, e, 1, 2, 1)
		require.NoError(t, err)

		_, err = f.reservations.Cancel(f.ctx, alice, r.ID, "")
		require.NoError(t, err)
		assert.Equal(t, int64(2), f.available(t, e))
		assert.Equal(t, int64(1), f.user(t, alice.UserID).Stats.CancelledReservations)
	})

	t.Run("TwiceIsInvalid", func(t *testing.T) {
		f := newFixture(t)
		e := f.addEquipment(t, 2, false)
		r, err := f.reserve(t, alice, e, 1, 2, 1)
		require.NoError(t, err)

		_, err = f.reservations.Cancel(f.ctx, alice, r.ID, "")
		require.NoError(t, err)
		_, err = f.reservations.Cancel(f.ctx, alice, r.ID, "")
		assert.ErrorIs(t, err, domain.ErrInvalidState)
		assert.Equal(t, int64(2), f.available(t, e))
	})

	t.Run("OtherUserForbidden", func(t *testing.T) {
		f := newFixture(t)
		e := f.addEquipment(t, 2, false)
		r, err := f.reserve(t, alice, e, 1, 2, 1)
		require.NoError(t, err)

		_, err = f.reservations.Cancel(f.ctx, bob, r.ID, "")
		assert.ErrorIs(t, err, domain.ErrForbidden)
		_, err = f.reservations.Cancel(f.ctx, mediaLead, r.ID, "")
		assert.ErrorIs(t, err, domain.ErrForbidden)
		_, err = f.reservations.Cancel(f.ctx, labLead, r.ID, "")
		assert.NoError(t, err)
	})

	t.Run("ActiveAfterStartNeedsStaff", func(t *testing.T) {
		f := newFixture(t)
		e := f.addEquipment(t, 2, false)
		r, err := f.reserve(t, alice, e, 1, 3, 2)
		require.NoError(t, err)

		f.now = f.day(1).Add(time.Hour)
		_, err = f.reservations.Pickup(f.ctx, alice, r.ID)
		require.NoError(t, err)

		_, err = f.reservations.Cancel(f.ctx, alice, r.ID, "")
		assert.ErrorIs(t, err, domain.ErrForbidden)

		cancelled, err := f.reservations.Cancel(f.ctx, admin, r.ID, "broken")
		require.NoError(t, err)
		require.NotNil(t, cancelled.Approval.CancelledBy)
		assert.Equal(t, admin.UserID, *cancelled.Approval.CancelledBy)
		assert.Equal(t, int64(2), f.available(t, e))

		eq, err := f.store.GetEquipment(f.ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), eq.Usage.ActiveRentals)
	})

	t.Run("RetiredEquipmentStaysEmpty", func(t *testing.T) {
		f := newFixture(t)
		e := f.addEquipment(t, 2, false)
		r, err := f.reserve(t, alice, e, 1, 2, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), f.available(t, e))

		_, err = f.equipment.SetStatus(f.ctx, e.ID, models.EquipmentRetired)
		require.NoError(t, err)

		_, err = f.reservations.Cancel(f.ctx, alice, r.ID, "")
		require.NoError(t, err)

		eq, err := f.store.GetEquipment(f.ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, models.EquipmentRetired, eq.Status)
		assert.Equal(t, int64(0), eq.AvailableQuantity)
	})

	t.Run("AfterReturnToServiceReset", func(t *testing.T) {
		f := newFixture(t)
		e := f.addEquipment(t, 2, false)
		r, err := f.reserve(t, alice, e, 1, 2, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(0), f.available(t, e))

		_, err = f.equipment.SetStatus(f.ctx, e.ID, models.EquipmentMaintenance)
		require.NoError(t, err)
		_, err = f.equipment.SetStatus(f.ctx, e.ID, models.EquipmentAvailable)
		require.NoError(t, err)
		assert.Equal(t, int64(2), f.available(t, e))

		cancelled, err := f.reservations.Cancel(f.ctx, alice, r.ID, "")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, cancelled.Status)
		assert.Equal(t, int64(2), f.available(t, e))
	})

	t.Run("MaintenanceReleasesUnits", func(t *testing.T) {
		f := newFixture(t)
		e := f.addEquipment(t, 3, false)
		r, err := f.reserve(t, alice, e, 1, 2, 2)
		require.NoError(t, err)
		_, err = f.reserve(t, bob, e, 1, 2, 1)
		require.NoError(t, err)

		_, err = f.equipment.SetStatus(f.ctx, e.ID, models.EquipmentMaintenance)
		require.NoError(t, err)

		_, err = f.reservations.Cancel(f.ctx, alice, r.ID, "")
		require.NoError(t, err)
		assert.Equal(t, int64(2), f.available(t, e))
	})
}

func TestNotificationMessagesCountUnits(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, 3, false)

	one, err := f.reserve(t, alice, e, 1, 3, 1)
	require.NoError(t, err)
	two, err := f.reserve(t, bob, e, 1, 3, 2)
	require.NoError(t, err)

	f.now = f.day(1).Add(time.Hour)
	_, err = f.reservations.Pickup(f.ctx, alice, one.ID)
	require.NoError(t, err)
	_, err = f.reservations.Pickup(f.ctx, bob, two.ID)
	require.NoError(t, err)

	messages := map[int64]string{}
	for _, task := range f.dispatcher.dispatched() {
		if task.TaskType != models.TaskNotify {
			continue
		}
		var n models.Notification
		require.NoError(t, decodePayload(task.Payload, &n))
		if n.Type == models.NotifyActivated {
			messages[n.ReservationID] = n.Message
		}
	}
	require.Len(t, messages, 2)
	assert.Contains(t, messages[one.ID], "1 unit of ")
	assert.Contains(t, messages[two.ID], "2 units of ")
}

func TestPickupAndReturn(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, 3, false)

	r, err := f.reserve(t, alice, e, 1, 3, 2)
	require.NoError(t, err)

	_, err = f.reservations.Pickup(f.ctx, alice, r.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState, "cannot pick up before start")

	_, err = f.reservations.Return(f.ctx, alice, r.ID, domain.ReturnReport{})
	assert.ErrorIs(t, err, domain.ErrInvalidState, "approved cannot be returned")

	f.now = f.day(1).Add(2 * time.Hour)
	active, err := f.reservations.Pickup(f.ctx, alice, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, active.Status)
	require.NotNil(t, active.Usage.ActualStartDate)
	assert.Equal(t, int64(1), f.available(t, e))

	bad := 6
	_, err = f.reservations.Return(f.ctx, alice, r.ID, domain.ReturnReport{UserRating: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	f.now = f.day(2)
	rating := 4
	done, err := f.reservations.Return(f.ctx, alice, r.ID, domain.ReturnReport{
		ConditionNotes:  "fine",
		EquipmentRating: &rating,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	require.NotNil(t, done.Usage.ActualEndDate)
	assert.Equal(t, "fine", done.Usage.ConditionNotes)
	require.NotNil(t, done.Ratings.Equipment)
	assert.Equal(t, 4, *done.Ratings.Equipment)
	assert.Equal(t, int64(3), f.available(t, e))

	stats := f.user(t, alice.UserID).Stats
	assert.Equal(t, int64(1), stats.TotalRentals)
	assert.Equal(t, int64(0), stats.ActiveReservations)

	eq, err := f.store.GetEquipment(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), eq.Usage.TotalRentals)
	assert.Equal(t, int64(0), eq.Usage.ActiveRentals)
	assert.NotNil(t, eq.Usage.LastRentedAt)

	assert.Equal(t, []string{
		events.EventReservationCreated,
		events.EventReservationApproved,
		events.EventReservationActivated,
		events.EventReservationCompleted,
	}, f.events.Types())
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, 3, true)

	r, err := f.reserve(t, alice, e, 1, 2, 1)
	require.NoError(t, err)

	t.Run("OnlyOwnerOrAdmin", func(t *testing.T) {
		purpose := "x"
		_, err := f.reservations.Update(f.ctx, labLead, r.ID, domain.ReservationUpdate{Purpose: &purpose})
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("PendingReschedule", func(t *testing.T) {
		end := f.day(4)
		qty := int64(2)
		updated, err := f.reservations.Update(f.ctx, alice, r.ID, domain.ReservationUpdate{EndDate: &end, Quantity: &qty})
		require.NoError(t, err)
		assert.Equal(t, end, updated.EndDate)
		assert.Equal(t, int64(2), updated.Quantity)
		assert.Equal(t, "60", updated.EstimatedCost.String())
		assert.Equal(t, r.Version+1, updated.Version)
	})

	t.Run("RescheduleIntoConflict", func(t *testing.T) {
		blocker, err := f.reserve(t, bob, e, 6, 7, 1)
		require.NoError(t, err)
		_, err = f.reservations.Approve(f.ctx, admin, blocker.ID, "")
		require.NoError(t, err)

		start, end := f.day(6), f.day(8)
		qty := int64(3)
		_, err = f.reservations.Update(f.ctx, alice, r.ID, domain.ReservationUpdate{StartDate: &start, EndDate: &end, Quantity: &qty})
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("NotesWhileApproved", func(t *testing.T) {
		_, err := f.reservations.Approve(f.ctx, labLead, r.ID, "")
		require.NoError(t, err)

		notes := "bring tripod"
		updated, err := f.reservations.Update(f.ctx, alice, r.ID, domain.ReservationUpdate{Notes: &notes})
		require.NoError(t, err)
		assert.Equal(t, "bring tripod", updated.Notes)
	})

	t.Run("TerminalIsInvalid", func(t *testing.T) {
		_, err := f.reservations.Cancel(f.ctx, alice, r.ID, "")
		require.NoError(t, err)
		notes := "late"
		_, err = f.reservations.Update(f.ctx, alice, r.ID, domain.ReservationUpdate{Notes: &notes})
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})
}

func TestGetAndListVisibility(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, 5, true)

	ra, err := f.reserve(t, alice, e, 1, 2, 1)
	require.NoError(t, err)
	_, err = f.reserve(t, bob, e, 1, 2, 1)
	require.NoError(t, err)

	_, err = f.reservations.Get(f.ctx, alice, ra.ID)
	assert.NoError(t, err)
	_, err = f.reservations.Get(f.ctx, labLead, ra.ID)
	assert.NoError(t, err)
	_, err = f.reservations.Get(f.ctx, admin, ra.ID)
	assert.NoError(t, err)
	_, err = f.reservations.Get(f.ctx, bob, ra.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.reservations.Get(f.ctx, mediaLead, ra.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.reservations.Get(f.ctx, admin, 9999)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	own, err := f.reservations.List(f.ctx, alice, models.ReservationFilter{UserID: bob.UserID})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, alice.UserID, own[0].UserID)

	all, err := f.reservations.List(f.ctx, admin, models.ReservationFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestConcurrentLastUnit(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, 1, false)

	const workers = 8
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			actor := models.Actor{UserID: int64(100 + i), Role: models.RoleUser, Department: "lab"}
			_, err := f.reserve(t, actor, e, 1, 2, 1)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, domain.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(workers-1), conflicts.Load())
	assert.Equal(t, int64(0), f.available(t, e))
}

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	args := m.Called(ctx, key, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}

func TestLockBusyIsConflict(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, 1, false)

	locker := &mockLocker{}
	locker.On("Lock", mock.Anything, "equipment:"+itoa(e.ID), mock.Anything).Return(nil, repository.ErrLockNotAcquired)
	f.equipment.locker = locker

	_, err := f.reserve(t, alice, e, 1, 2, 1)
	assert.ErrorIs(t, err, domain.ErrConflict)
	locker.AssertExpectations(t)
	assert.Empty(t, f.dispatcher.dispatched())
	assert.Empty(t, f.events.Types())
}

func TestTransitionTable(t *testing.T) {
	assert.True(t, canTransition(models.StatusPending, models.StatusApproved))
	assert.True(t, canTransition(models.StatusActive, models.StatusCompleted))
	assert.False(t, canTransition(models.StatusPending, models.StatusActive))
	assert.False(t, canTransition(models.StatusCompleted, models.StatusCancelled))
	assert.False(t, canTransition(models.StatusCancelled, models.StatusPending))
	assert.False(t, canTransition(models.StatusApproved, models.StatusOverdue))
}
