package service

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"equipres/internal/config"
	"equipres/internal/database"
	"equipres/internal/events"
	"equipres/internal/models"
	"equipres/internal/repository"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, tasks ...models.SyncTask) {
	m.Called(ctx, tasks)
}

func (m *mockDispatcher) dispatched() []models.SyncTask {
	var out []models.SyncTask
	for _, c := range m.Calls {
		out = append(out, c.Arguments.Get(1).([]models.SyncTask)...)
	}
	return out
}

// eventLog captures reservation events published on the bus.
type eventLog struct {
	mu     sync.Mutex
	events []events.ReservationEventPayload
	types  []string
}

func (l *eventLog) subscribe(bus *events.EventBus) {
	for _, et := range events.ReservationEvents {
		bus.Subscribe(et, func(ev *events.Event) error {
			var p events.ReservationEventPayload
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				return err
			}
			l.mu.Lock()
			defer l.mu.Unlock()
			l.events = append(l.events, p)
			l.types = append(l.types, ev.Type)
			return nil
		})
	}
}

func (l *eventLog) Types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.types...)
}

type fixture struct {
	ctx          context.Context
	store        *database.Store
	equipment    *EquipmentService
	availability *AvailabilityService
	reservations *ReservationService
	dispatcher   *mockDispatcher
	events       *eventLog
	now          time.Time
}

var (
	admin      = models.Actor{UserID: 1, Role: models.RoleAdmin}
	labLead    = models.Actor{UserID: 2, Role: models.RoleSupervisor, Department: "lab"}
	mediaLead  = models.Actor{UserID: 3, Role: models.RoleSupervisor, Department: "media"}
	alice      = models.Actor{UserID: 10, Role: models.RoleUser, Department: "lab"}
	bob        = models.Actor{UserID: 11, Role: models.RoleUser, Department: "media"}
	testLogger = zerolog.New(io.Discard)
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewSQLite(":memory:", &testLogger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.ReservationsConfig{MaxOpenPerUser: 3, LockTTL: 5 * time.Second, LockWait: 10 * time.Second}
	store := db.Store()
	bus := events.NewEventBus()
	log := &eventLog{}
	log.subscribe(bus)

	dispatcher := &mockDispatcher{}
	dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return()

	equipment := NewEquipmentService(store, repository.NewMemoryLocker(), bus, cfg, &testLogger)
	reservations := NewReservationService(store, equipment, bus, dispatcher, cfg, &testLogger)

	f := &fixture{
		ctx:          context.Background(),
		store:        store,
		equipment:    equipment,
		availability: NewAvailabilityService(store, equipment, &testLogger),
		reservations: reservations,
		dispatcher:   dispatcher,
		events:       log,
		now:          time.Date(2030, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	reservations.now = func() time.Time { return f.now }

	for _, a := range []models.Actor{admin, labLead, mediaLead, alice, bob} {
		require.NoError(t, store.UpsertUser(f.ctx, &models.User{ID: a.UserID, Role: a.Role, Department: a.Department}))
	}
	return f
}

func (f *fixture) addEquipment(t *testing.T, total int64, requiresApproval bool) *models.Equipment {
	t.Helper()
	e := &models.Equipment{
		Name:          "Camera",
		Category:      models.CategoryCamera,
		TotalQuantity: total,
		Status:        models.EquipmentAvailable,
		Terms: models.RentalTerms{
			DailyRate:        decimal.RequireFromString("10"),
			RequiresApproval: requiresApproval,
		},
	}
	require.NoError(t, f.equipment.Create(f.ctx, e))
	return e
}

// day returns midnight of the n-th day after the fixture clock.
func (f *fixture) day(n int) time.Time {
	d := f.now.Truncate(24 * time.Hour)
	return d.AddDate(0, 0, n)
}

func (f *fixture) reserve(t *testing.T, actor models.Actor, e *models.Equipment, from, to int, qty int64) (*models.Reservation, error) {
	t.Helper()
	return f.reservations.Create(f.ctx, actor, &models.Reservation{
		EquipmentID: e.ID,
		StartDate:   f.day(from),
		EndDate:     f.day(to),
		Quantity:    qty,
		Purpose:     "shoot",
	})
}

func (f *fixture) available(t *testing.T, e *models.Equipment) int64 {
	t.Helper()
	got, err := f.store.GetEquipment(f.ctx, e.ID)
	require.NoError(t, err)
	return got.AvailableQuantity
}

func (f *fixture) user(t *testing.T, id int64) *models.User {
	t.Helper()
	u, err := f.store.GetUser(f.ctx, id)
	require.NoError(t, err)
	return u
}

func decodePayload(payload string, v any) error {
	return json.Unmarshal([]byte(payload), v)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
