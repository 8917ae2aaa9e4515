package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"equipres/internal/metrics"
	"equipres/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	redisQueueKey = "equipres:outbox:queue"
	deadLetterKey = "equipres:outbox:deadletter"
)

// TaskStore is the durable side of the outbox.
type TaskStore interface {
	GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error)
	ClaimSyncTask(ctx context.Context, id int64) (bool, error)
	UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
	ResetStuckSyncTasks(ctx context.Context) (int64, error)
}

// Publisher delivers notification messages to the broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// SheetsClient mirrors reservations into a spreadsheet.
type SheetsClient interface {
	UpsertReservation(ctx context.Context, r *models.Reservation) error
}

type Options struct {
	PollInterval time.Duration
	BatchSize    int
	Retry        RetryPolicy
}

// OutboxWorker delivers sync_queue tasks. Tasks reach it through Dispatch
// (redis list or local channel) right after commit, and through polling for
// anything that was missed or scheduled for retry.
type OutboxWorker struct {
	store        TaskStore
	publisher    Publisher
	sheets       SheetsClient
	redis        *redis.Client
	retryPolicy  RetryPolicy
	queue        chan models.SyncTask
	pollInterval time.Duration
	batchSize    int
	logger       *zerolog.Logger
}

func NewOutboxWorker(store TaskStore, publisher Publisher, sheets SheetsClient, redisClient *redis.Client, opts Options, logger *zerolog.Logger) *OutboxWorker {
	retry := opts.Retry
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &OutboxWorker{
		store:        store,
		publisher:    publisher,
		sheets:       sheets,
		redis:        redisClient,
		retryPolicy:  retry,
		queue:        make(chan models.SyncTask, models.WorkerQueueSize),
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		logger:       logger,
	}
}

// Dispatch schedules already persisted tasks. Tasks that cannot be queued stay
// in the table and are picked up by polling.
func (w *OutboxWorker) Dispatch(ctx context.Context, tasks ...models.SyncTask) {
	for _, task := range tasks {
		if w.redis != nil {
			err := w.pushRedis(ctx, task)
			if err == nil {
				continue
			}
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("Redis push failed, falling back to memory queue")
		}

		select {
		case w.queue <- task:
		default:
			w.logger.Warn().Int64("task_id", task.ID).Msg("Memory queue full, task left to polling")
		}
	}
}

// Start runs until ctx is done.
func (w *OutboxWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("Outbox worker started")
	defer w.logger.Info().Msg("Outbox worker stopped")

	if n, err := w.store.ResetStuckSyncTasks(ctx); err != nil {
		w.logger.Error().Err(err).Msg("Failed to reset stuck tasks")
	} else if n > 0 {
		w.logger.Warn().Int64("count", n).Msg("Requeued tasks left in processing")
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		if n := w.poll(ctx); n == 0 {
			select {
			case <-ctx.Done():
				return
			case t := <-w.queue:
				w.processTask(ctx, &t)
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// poll processes one batch of due tasks and reports how many it saw.
func (w *OutboxWorker) poll(ctx context.Context) int {
	tasks, err := w.store.GetPendingSyncTasks(ctx, w.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("Failed to fetch pending tasks")
		}
		return 0
	}
	for i := range tasks {
		w.processTask(ctx, &tasks[i])
	}
	return len(tasks)
}

func (w *OutboxWorker) tryLocalQueue() (models.SyncTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.SyncTask{}, false
	}
}

func (w *OutboxWorker) tryRedis(ctx context.Context) (models.SyncTask, bool) {
	if w.redis == nil {
		return models.SyncTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("Redis BRPOP failed")
		}
		return models.SyncTask{}, false
	}
	if len(res) != 2 {
		return models.SyncTask{}, false
	}
	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("Failed to decode redis task")
		return models.SyncTask{}, false
	}
	return task, true
}

func (w *OutboxWorker) processTask(ctx context.Context, task *models.SyncTask) {
	claimed, err := w.store.ClaimSyncTask(ctx, task.ID)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to claim task")
		return
	}
	if !claimed {
		// done already or owned by another consumer
		return
	}

	if err := w.deliver(ctx, task); err != nil {
		var perm *permanentError
		if errors.As(err, &perm) {
			w.failTask(ctx, task, err)
			return
		}
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.TaskCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark task completed")
	}
	metrics.IncSyncTask(task.TaskType, models.TaskCompleted)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func (w *OutboxWorker) deliver(ctx context.Context, task *models.SyncTask) error {
	switch task.TaskType {
	case models.TaskNotify:
		var n models.Notification
		if err := json.Unmarshal([]byte(task.Payload), &n); err != nil {
			return &permanentError{fmt.Errorf("decode notification: %w", err)}
		}
		if w.publisher == nil {
			w.logger.Info().Int64("user_id", n.UserID).Str("type", n.Type).Msg(n.Message)
			return nil
		}
		return w.publisher.Publish(ctx, "notification."+n.Type, []byte(task.Payload))
	case models.TaskSheetUpsert:
		var r models.Reservation
		if err := json.Unmarshal([]byte(task.Payload), &r); err != nil {
			return &permanentError{fmt.Errorf("decode reservation: %w", err)}
		}
		if w.sheets == nil {
			return nil
		}
		return w.sheets.UpsertReservation(ctx, &r)
	default:
		return &permanentError{fmt.Errorf("unknown task type: %s", task.TaskType)}
	}
}

func (w *OutboxWorker) retryOrFail(ctx context.Context, task *models.SyncTask, cause error) {
	attempt := task.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.failTask(ctx, task, cause)
		return
	}

	next := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.TaskRetry, cause.Error(), &next); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark task for retry")
	}
	metrics.IncSyncTask(task.TaskType, models.TaskRetry)
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Int("attempt", attempt).Time("next_retry_at", next).Msg("Task delivery failed")
}

func (w *OutboxWorker) failTask(ctx context.Context, task *models.SyncTask, cause error) {
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.TaskFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark task failed")
	}
	metrics.IncSyncTask(task.TaskType, models.TaskFailed)
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("type", task.TaskType).Msg("Task moved to dead letter")
	w.pushDeadLetter(ctx, task)
}

func (w *OutboxWorker) pushRedis(ctx context.Context, task models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, redisQueueKey, data).Err()
}

func (w *OutboxWorker) pushDeadLetter(ctx context.Context, task *models.SyncTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to encode dead letter")
		return
	}
	if err := w.redis.LPush(ctx, deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Dead letter push failed")
	}
}
