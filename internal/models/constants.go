package models

// Equipment statuses.
const (
	EquipmentAvailable   = "available"
	EquipmentMaintenance = "maintenance"
	EquipmentRetired     = "retired"
)

// Reservation statuses. StatusOverdue is never stored, see Reservation.EffectiveStatus.
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusOverdue   = "overdue"
)

// User roles.
const (
	RoleUser       = "user"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
)

// Equipment categories.
const (
	CategoryCamera    = "camera"
	CategoryLighting  = "lighting"
	CategoryAudio     = "audio"
	CategoryComputing = "computing"
	CategoryLab       = "lab"
	CategoryTools     = "tools"
	CategoryOther     = "other"
)

// Sync task types and statuses.
const (
	TaskNotify      = "notify"
	TaskSheetUpsert = "sheet_upsert"

	TaskPending    = "pending"
	TaskProcessing = "processing"
	TaskRetry      = "retry"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

const (
	// DefaultMaxOpenPerUser limit of pending/approved/active reservations per user
	DefaultMaxOpenPerUser = 10

	// DefaultProjectionDays window embedded into the equipment card
	DefaultProjectionDays = 30

	// DefaultLockTTL lifetime of a per-equipment lock in seconds
	DefaultLockTTL = 10

	// WorkerQueueSize size of the in-memory outbox queue
	WorkerQueueSize = 1000

	// EquipmentCacheSize number of equipment rows kept in the LRU cache
	EquipmentCacheSize = 512

	// SheetsCacheTTL lifetime of the Google Sheets row cache in seconds
	SheetsCacheTTL = 60 * 60
)

var validCategories = map[string]bool{
	CategoryCamera:    true,
	CategoryLighting:  true,
	CategoryAudio:     true,
	CategoryComputing: true,
	CategoryLab:       true,
	CategoryTools:     true,
	CategoryOther:     true,
}

// ValidCategory reports whether c is one of the known equipment categories.
func ValidCategory(c string) bool {
	return validCategories[c]
}

// ValidEquipmentStatus reports whether s is a known equipment status.
func ValidEquipmentStatus(s string) bool {
	switch s {
	case EquipmentAvailable, EquipmentMaintenance, EquipmentRetired:
		return true
	}
	return false
}
