package jobs

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"equipres/internal/domain"
	"equipres/internal/models"
	"equipres/internal/worker"

	"github.com/dustin/go-humanize"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const dedupPrefix = "equipres:jobs:"

// Store is the slice of the repository the jobs read and write.
type Store interface {
	ListReservations(ctx context.Context, filter models.ReservationFilter) ([]*models.Reservation, error)
	ListEquipment(ctx context.Context, includeRetired bool) ([]*models.Equipment, error)
	CreateSyncTask(ctx context.Context, task *models.SyncTask) error
}

type Reconciler interface {
	Recompute(ctx context.Context, id int64) (*models.Equipment, error)
}

type Backuper interface {
	Run(ctx context.Context) error
}

// Runner holds the periodic maintenance jobs.
type Runner struct {
	store      Store
	reconciler Reconciler
	backup     Backuper
	dispatcher domain.SyncDispatcher
	once       *onceStore
	now        func() time.Time
	logger     *zerolog.Logger
}

// NewRunner builds the job runner. redisClient and backup may be nil.
func NewRunner(store Store, reconciler Reconciler, backup Backuper, dispatcher domain.SyncDispatcher, redisClient *redis.Client, logger *zerolog.Logger) *Runner {
	return &Runner{
		store:      store,
		reconciler: reconciler,
		backup:     backup,
		dispatcher: dispatcher,
		once:       newOnceStore(redisClient),
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}
}

// Run executes job with panic recovery and logs the outcome.
func (r *Runner) Run(name string, job func(ctx context.Context) (int, error)) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Str("job", name).Interface("panic", rec).Msg("Job panicked")
		}
	}()

	start := time.Now()
	n, err := job(context.Background())
	if err != nil {
		r.logger.Error().Err(err).Str("job", name).Int("processed", n).Msg("Job failed")
		return
	}
	r.logger.Info().Str("job", name).Int("processed", n).Dur("duration", time.Since(start)).Msg("Job completed")
}

// OverdueScan notifies owners of active reservations past their end date,
// at most once per reservation per day. Nothing is written to the reservation.
func (r *Runner) OverdueScan(ctx context.Context) (int, error) {
	now := r.now()
	active, err := r.store.ListReservations(ctx, models.ReservationFilter{Status: models.StatusActive})
	if err != nil {
		return 0, err
	}
	names, err := r.equipmentNames(ctx)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, res := range active {
		if !res.IsOverdue(now) {
			continue
		}
		key := fmt.Sprintf("overdue:%d:%s", res.ID, now.Format("2006-01-02"))
		if !r.once.Claim(ctx, key, 48*time.Hour) {
			continue
		}

		n := models.Notification{
			UserID:        res.UserID,
			Type:          models.NotifyOverdue,
			ReservationID: res.ID,
			Message: fmt.Sprintf("%s was due back %s, please return it",
				names[res.EquipmentID], humanize.Time(res.EndDate)),
			Data: map[string]any{
				"equipment_id": res.EquipmentID,
				"end_date":     res.EndDate,
				"overdue_days": models.DurationDays(res.EndDate, now),
			},
			CreatedAt: now,
		}
		if err := r.notify(ctx, n); err != nil {
			r.once.Release(ctx, key)
			r.logger.Error().Err(err).Int64("reservation_id", res.ID).Msg("Failed to queue overdue notification")
			continue
		}
		sent++
	}
	return sent, nil
}

// PickupReminder notifies owners of approved reservations starting within a day.
func (r *Runner) PickupReminder(ctx context.Context) (int, error) {
	now := r.now()
	horizon := now.Add(24 * time.Hour)
	approved, err := r.store.ListReservations(ctx, models.ReservationFilter{
		Status: models.StatusApproved,
		From:   now,
		To:     horizon,
	})
	if err != nil {
		return 0, err
	}
	names, err := r.equipmentNames(ctx)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, res := range approved {
		if res.StartDate.Before(now) || res.StartDate.After(horizon) {
			continue
		}
		key := "pickup:" + strconv.FormatInt(res.ID, 10)
		if !r.once.Claim(ctx, key, 48*time.Hour) {
			continue
		}

		n := models.Notification{
			UserID:        res.UserID,
			Type:          models.NotifyPickupReminder,
			ReservationID: res.ID,
			Message: fmt.Sprintf("Your reservation of %s starts %s",
				names[res.EquipmentID], humanize.Time(res.StartDate)),
			Data: map[string]any{
				"equipment_id": res.EquipmentID,
				"start_date":   res.StartDate,
				"quantity":     res.Quantity,
			},
			CreatedAt: now,
		}
		if err := r.notify(ctx, n); err != nil {
			r.once.Release(ctx, key)
			r.logger.Error().Err(err).Int64("reservation_id", res.ID).Msg("Failed to queue pickup reminder")
			continue
		}
		sent++
	}
	return sent, nil
}

// Reconcile recomputes available quantity for every non-retired equipment.
func (r *Runner) Reconcile(ctx context.Context) (int, error) {
	items, err := r.store.ListEquipment(ctx, false)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, e := range items {
		if _, err := r.reconciler.Recompute(ctx, e.ID); err != nil {
			r.logger.Error().Err(err).Int64("equipment_id", e.ID).Msg("Failed to reconcile equipment")
			continue
		}
		done++
	}
	return done, nil
}

func (r *Runner) Backup(ctx context.Context) (int, error) {
	if r.backup == nil {
		return 0, nil
	}
	if err := r.backup.Run(ctx); err != nil {
		return 0, err
	}
	return 1, nil
}

func (r *Runner) notify(ctx context.Context, n models.Notification) error {
	task, err := worker.NewNotifyTask(n)
	if err != nil {
		return err
	}
	if err := r.store.CreateSyncTask(ctx, &task); err != nil {
		return err
	}
	if r.dispatcher != nil {
		r.dispatcher.Dispatch(ctx, task)
	}
	return nil
}

func (r *Runner) equipmentNames(ctx context.Context) (map[int64]string, error) {
	items, err := r.store.ListEquipment(ctx, true)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(items))
	for _, e := range items {
		names[e.ID] = e.Name
	}
	return names, nil
}

// onceStore remembers claimed keys in Redis so several replicas notify once.
// Without Redis, or when it fails, keys are kept in process memory.
type onceStore struct {
	client *redis.Client
	mu     sync.Mutex
	local  map[string]time.Time
}

func newOnceStore(client *redis.Client) *onceStore {
	return &onceStore{client: client, local: make(map[string]time.Time)}
}

// Claim reports whether key was not claimed before within ttl.
func (o *onceStore) Claim(ctx context.Context, key string, ttl time.Duration) bool {
	if o.client != nil {
		ok, err := o.client.SetNX(ctx, dedupPrefix+key, 1, ttl).Result()
		if err == nil {
			return ok
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now()
	for k, exp := range o.local {
		if now.After(exp) {
			delete(o.local, k)
		}
	}
	if _, ok := o.local[key]; ok {
		return false
	}
	o.local[key] = now.Add(ttl)
	return true
}

// Release forgets key so the next run retries it.
func (o *onceStore) Release(ctx context.Context, key string) {
	if o.client != nil {
		_ = o.client.Del(ctx, dedupPrefix+key).Err()
	}
	o.mu.Lock()
	delete(o.local, key)
	o.mu.Unlock()
}
