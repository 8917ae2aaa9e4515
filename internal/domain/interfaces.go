package domain

import (
	"context"
	"time"

	"equipres/internal/models"
)

// Repository is the persistence surface used by the services. Every method
// runs on the connection or transaction the value was created for.
type Repository interface {
	// InTx runs fn inside one transaction. Nested calls reuse the outer transaction.
	InTx(ctx context.Context, fn func(tx Repository) error) error

	EquipmentRepository
	ReservationRepository
	UserRepository
	SyncQueue
}

type EquipmentRepository interface {
	GetEquipment(ctx context.Context, id int64) (*models.Equipment, error)
	// LockEquipment reads the row and holds a write lock on it until the transaction ends.
	LockEquipment(ctx context.Context, id int64) (*models.Equipment, error)
	ListEquipment(ctx context.Context, includeRetired bool) ([]*models.Equipment, error)
	CreateEquipment(ctx context.Context, e *models.Equipment) error
	UpdateEquipment(ctx context.Context, e *models.Equipment) error
	AdjustAvailable(ctx context.Context, id int64, delta int64) error
	SetAvailable(ctx context.Context, id int64, quantity int64) error
	SetEquipmentStatus(ctx context.Context, id int64, status string, available int64) error
	CommittedQuantity(ctx context.Context, equipmentID int64) (int64, error)
	RecordRentalStart(ctx context.Context, equipmentID int64) error
	RecordRentalEnd(ctx context.Context, equipmentID int64, at time.Time) error
}

type ReservationRepository interface {
	GetReservation(ctx context.Context, id int64) (*models.Reservation, error)
	CreateReservation(ctx context.Context, r *models.Reservation) error
	// UpdateReservation writes r if its version still matches and bumps the version.
	UpdateReservation(ctx context.Context, r *models.Reservation) error
	ListReservations(ctx context.Context, filter models.ReservationFilter) ([]*models.Reservation, error)
	// OverlappingReservations returns approved and active reservations of the
	// equipment whose closed interval overlaps [start, end].
	OverlappingReservations(ctx context.Context, equipmentID int64, start, end time.Time, excludeID int64) ([]*models.Reservation, error)
	CountOpenReservations(ctx context.Context, userID int64) (int, error)
}

type UserRepository interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	UpsertUser(ctx context.Context, u *models.User) error
	IncrementStat(ctx context.Context, userID int64, field string, delta int64) error
	// ListApprovers returns supervisors of the department and all admins.
	ListApprovers(ctx context.Context, department string) ([]*models.User, error)
}

type SyncQueue interface {
	CreateSyncTask(ctx context.Context, task *models.SyncTask) error
}

// Locker serializes work on a key across processes.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// SyncDispatcher schedules already persisted outbox tasks for delivery.
type SyncDispatcher interface {
	Dispatch(ctx context.Context, tasks ...models.SyncTask)
}

type EquipmentService interface {
	Get(ctx context.Context, id int64) (*models.Equipment, error)
	List(ctx context.Context, includeRetired bool) ([]*models.Equipment, error)
	Create(ctx context.Context, e *models.Equipment) error
	Update(ctx context.Context, e *models.Equipment) error
	AdjustAvailable(ctx context.Context, id int64, delta int64) error
	Recompute(ctx context.Context, id int64) (*models.Equipment, error)
	SetStatus(ctx context.Context, id int64, status string) (*models.Equipment, error)
}

type AvailabilityService interface {
	CheckAvailability(ctx context.Context, equipmentID int64, start, end time.Time, quantity int64, excludeID int64) (*models.AvailabilityResult, error)
	Project(ctx context.Context, equipmentID int64, from time.Time, days int) ([]models.DayAvailability, error)
}

// ReservationUpdate carries the fields a caller wants to change. Nil means unchanged.
type ReservationUpdate struct {
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
	Quantity  *int64     `json:"quantity"`
	Purpose   *string    `json:"purpose"`
	Notes     *string    `json:"notes"`
}

// ReturnReport is supplied when equipment comes back.
type ReturnReport struct {
	ConditionNotes  string `json:"condition_notes"`
	UserRating      *int   `json:"user_rating"`
	EquipmentRating *int   `json:"equipment_rating"`
}

type ReservationService interface {
	Create(ctx context.Context, actor models.Actor, r *models.Reservation) (*models.Reservation, error)
	Get(ctx context.Context, actor models.Actor, id int64) (*models.Reservation, error)
	List(ctx context.Context, actor models.Actor, filter models.ReservationFilter) ([]*models.Reservation, error)
	Update(ctx context.Context, actor models.Actor, id int64, upd ReservationUpdate) (*models.Reservation, error)
	Approve(ctx context.Context, actor models.Actor, id int64, notes string) (*models.Reservation, error)
	Reject(ctx context.Context, actor models.Actor, id int64, reason string) (*models.Reservation, error)
	Cancel(ctx context.Context, actor models.Actor, id int64, reason string) (*models.Reservation, error)
	Pickup(ctx context.Context, actor models.Actor, id int64) (*models.Reservation, error)
	Return(ctx context.Context, actor models.Actor, id int64, report ReturnReport) (*models.Reservation, error)
}
