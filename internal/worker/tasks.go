package worker

import (
	"encoding/json"
	"fmt"
	"time"

	"equipres/internal/models"
)

// NewNotifyTask builds an unsaved notify task for n.
func NewNotifyTask(n models.Notification) (models.SyncTask, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return models.SyncTask{}, fmt.Errorf("encode notification: %w", err)
	}
	return models.SyncTask{
		TaskType:      models.TaskNotify,
		ReservationID: n.ReservationID,
		Payload:       string(raw),
		Status:        models.TaskPending,
	}, nil
}

// NewSheetUpsertTask builds an unsaved task that mirrors r into the spreadsheet.
func NewSheetUpsertTask(r *models.Reservation) (models.SyncTask, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return models.SyncTask{}, fmt.Errorf("encode reservation: %w", err)
	}
	return models.SyncTask{
		TaskType:      models.TaskSheetUpsert,
		ReservationID: r.ID,
		Payload:       string(raw),
		Status:        models.TaskPending,
	}, nil
}
