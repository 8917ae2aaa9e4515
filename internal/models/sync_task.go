package models

import "time"

// SyncTask is an outbox row written in the same transaction as the change it describes.
type SyncTask struct {
	ID            int64      `json:"id"`
	TaskType      string     `json:"task_type"`
	ReservationID int64      `json:"reservation_id"`
	Payload       string     `json:"payload"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	LastError     *string    `json:"last_error"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at"`
	NextRetryAt   *time.Time `json:"next_retry_at"`
}

// Notification is the payload of a notify task.
type Notification struct {
	UserID        int64          `json:"user_id"`
	Type          string         `json:"type"`
	ReservationID int64          `json:"reservation_id,omitempty"`
	Message       string         `json:"message"`
	Data          map[string]any `json:"data,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Notification types, published with routing key "notification.<type>".
const (
	NotifyApprovalRequested = "approval_requested"
	NotifyApproved          = "approved"
	NotifyRejected          = "rejected"
	NotifyCancelled         = "cancelled"
	NotifyActivated         = "activated"
	NotifyCompleted         = "completed"
	NotifyOverdue           = "overdue"
	NotifyPickupReminder    = "pickup_reminder"
)
