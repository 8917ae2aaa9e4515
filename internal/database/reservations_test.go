package database

import (
	"context"
	"testing"
	"time"

	"equipres/internal/domain"
	"equipres/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2031, 3, d, 9, 0, 0, 0, time.UTC)
}

func createReservation(t *testing.T, s *Store, equipmentID int64, status string, start, end time.Time, qty int64) *models.Reservation {
	t.Helper()
	r := &models.Reservation{
		UserID:      7,
		EquipmentID: equipmentID,
		StartDate:   start,
		EndDate:     end,
		Quantity:    qty,
		Status:      status,
	}
	require.NoError(t, s.CreateReservation(context.Background(), r))
	return r
}

func TestReservationCRUD(t *testing.T) {
	db := setupTestDB(t)
	s := db.Store()
	ctx := context.Background()
	e := createEquipment(t, s, 3)

	r := &models.Reservation{
		UserID:        7,
		EquipmentID:   e.ID,
		StartDate:     day(1),
		EndDate:       day(3),
		Quantity:      2,
		Status:        models.StatusPending,
		Purpose:       "field trip",
		EstimatedCost: decimal.RequireFromString("40"),
	}
	require.NoError(t, s.CreateReservation(ctx, r))
	assert.NotZero(t, r.ID)
	assert.Equal(t, int64(1), r.Version)

	got, err := s.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "field trip", got.Purpose)
	assert.True(t, got.StartDate.Equal(day(1)))
	assert.True(t, got.EstimatedCost.Equal(decimal.RequireFromString("40")))
	assert.Nil(t, got.Approval.ApprovedBy)
	assert.Nil(t, got.Ratings.User)

	approver := int64(99)
	now := time.Now().UTC().Truncate(time.Second)
	rating := 5
	got.Status = models.StatusApproved
	got.Approval.ApprovedBy = &approver
	got.Approval.ApprovedAt = &now
	got.Ratings.Equipment = &rating
	require.NoError(t, s.UpdateReservation(ctx, got))
	assert.Equal(t, int64(2), got.Version)

	again, err := s.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, again.Status)
	require.NotNil(t, again.Approval.ApprovedBy)
	assert.Equal(t, approver, *again.Approval.ApprovedBy)
	require.NotNil(t, again.Ratings.Equipment)
	assert.Equal(t, 5, *again.Ratings.Equipment)

	t.Run("StaleVersion", func(t *testing.T) {
		stale := *r
		stale.Version = 1
		err := s.UpdateReservation(ctx, &stale)
		assert.ErrorIs(t, err, domain.ErrConcurrentModification)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := s.GetReservation(ctx, 9999)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		err = s.UpdateReservation(ctx, &models.Reservation{ID: 9999, Version: 1})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestOverlappingReservations(t *testing.T) {
	db := setupTestDB(t)
	s := db.Store()
	ctx := context.Background()
	e := createEquipment(t, s, 5)
	other := createEquipment(t, s, 5)

	touching := createReservation(t, s, e.ID, models.StatusApproved, day(1), day(3), 1)
	inside := createReservation(t, s, e.ID, models.StatusActive, day(4), day(5), 1)
	createReservation(t, s, e.ID, models.StatusPending, day(3), day(6), 1)
	createReservation(t, s, e.ID, models.StatusCancelled, day(3), day(6), 1)
	createReservation(t, s, e.ID, models.StatusApproved, day(10), day(12), 1)
	createReservation(t, s, other.ID, models.StatusApproved, day(3), day(6), 1)

	got, err := s.OverlappingReservations(ctx, e.ID, day(3), day(6), 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, touching.ID, got[0].ID)
	assert.Equal(t, inside.ID, got[1].ID)

	got, err = s.OverlappingReservations(ctx, e.ID, day(3), day(6), touching.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, inside.ID, got[0].ID)

	committed, err := s.CommittedQuantity(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), committed)
}

func TestListAndCountReservations(t *testing.T) {
	db := setupTestDB(t)
	s := db.Store()
	ctx := context.Background()
	e := createEquipment(t, s, 5)

	createReservation(t, s, e.ID, models.StatusPending, day(1), day(2), 1)
	createReservation(t, s, e.ID, models.StatusApproved, day(5), day(6), 1)
	createReservation(t, s, e.ID, models.StatusCompleted, day(8), day(9), 1)
	mine := &models.Reservation{UserID: 8, EquipmentID: e.ID, StartDate: day(1), EndDate: day(2), Quantity: 1, Status: models.StatusActive}
	require.NoError(t, s.CreateReservation(ctx, mine))

	all, err := s.ListReservations(ctx, models.ReservationFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	byUser, err := s.ListReservations(ctx, models.ReservationFilter{UserID: 7})
	require.NoError(t, err)
	assert.Len(t, byUser, 3)

	byStatus, err := s.ListReservations(ctx, models.ReservationFilter{Status: models.StatusActive})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, int64(8), byStatus[0].UserID)

	window, err := s.ListReservations(ctx, models.ReservationFilter{EquipmentID: e.ID, From: day(4), To: day(8)})
	require.NoError(t, err)
	assert.Len(t, window, 2)

	open, err := s.CountOpenReservations(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, open)
}
