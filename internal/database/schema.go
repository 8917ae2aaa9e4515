package database

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS equipment (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT 'other',
		total_quantity INTEGER NOT NULL CHECK (total_quantity >= 1),
		available_quantity INTEGER NOT NULL CHECK (available_quantity >= 0 AND available_quantity <= total_quantity),
		status TEXT NOT NULL DEFAULT 'available',
		hourly_rate TEXT NOT NULL DEFAULT '0',
		daily_rate TEXT NOT NULL DEFAULT '0',
		max_rental_duration_days INTEGER NOT NULL DEFAULT 0,
		requires_approval BOOLEAN NOT NULL DEFAULT 0,
		requires_training BOOLEAN NOT NULL DEFAULT 0,
		total_rentals INTEGER NOT NULL DEFAULT 0,
		active_rentals INTEGER NOT NULL DEFAULT 0,
		last_rented_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		department TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user',
		total_reservations INTEGER NOT NULL DEFAULT 0,
		active_reservations INTEGER NOT NULL DEFAULT 0,
		cancelled_reservations INTEGER NOT NULL DEFAULT 0,
		total_rentals INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		equipment_id INTEGER NOT NULL REFERENCES equipment(id),
		start_date DATETIME NOT NULL,
		end_date DATETIME NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		status TEXT NOT NULL,
		purpose TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		approved_by INTEGER,
		approved_at DATETIME,
		approval_notes TEXT NOT NULL DEFAULT '',
		rejection_reason TEXT NOT NULL DEFAULT '',
		cancelled_by INTEGER,
		cancelled_at DATETIME,
		cancel_reason TEXT NOT NULL DEFAULT '',
		estimated_cost TEXT NOT NULL DEFAULT '0',
		actual_start_date DATETIME,
		actual_end_date DATETIME,
		condition_notes TEXT NOT NULL DEFAULT '',
		user_rating INTEGER,
		equipment_rating INTEGER,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_type TEXT NOT NULL,
		reservation_id INTEGER NOT NULL DEFAULT 0,
		payload TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at DATETIME NOT NULL,
		processed_at DATETIME,
		next_retry_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_equipment_status ON reservations(equipment_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_user_status ON reservations(user_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_dates ON reservations(start_date, end_date)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, next_retry_at)`,
	`CREATE INDEX IF NOT EXISTS idx_users_department_role ON users(department, role)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS equipment (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT 'other',
		total_quantity BIGINT NOT NULL CHECK (total_quantity >= 1),
		available_quantity BIGINT NOT NULL CHECK (available_quantity >= 0 AND available_quantity <= total_quantity),
		status TEXT NOT NULL DEFAULT 'available',
		hourly_rate NUMERIC(12,2) NOT NULL DEFAULT 0,
		daily_rate NUMERIC(12,2) NOT NULL DEFAULT 0,
		max_rental_duration_days INTEGER NOT NULL DEFAULT 0,
		requires_approval BOOLEAN NOT NULL DEFAULT FALSE,
		requires_training BOOLEAN NOT NULL DEFAULT FALSE,
		total_rentals BIGINT NOT NULL DEFAULT 0,
		active_rentals BIGINT NOT NULL DEFAULT 0,
		last_rented_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		department TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user',
		total_reservations BIGINT NOT NULL DEFAULT 0,
		active_reservations BIGINT NOT NULL DEFAULT 0,
		cancelled_reservations BIGINT NOT NULL DEFAULT 0,
		total_rentals BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		equipment_id BIGINT NOT NULL REFERENCES equipment(id),
		start_date TIMESTAMPTZ NOT NULL,
		end_date TIMESTAMPTZ NOT NULL,
		quantity BIGINT NOT NULL CHECK (quantity >= 1),
		status TEXT NOT NULL,
		purpose TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		approved_by BIGINT,
		approved_at TIMESTAMPTZ,
		approval_notes TEXT NOT NULL DEFAULT '',
		rejection_reason TEXT NOT NULL DEFAULT '',
		cancelled_by BIGINT,
		cancelled_at TIMESTAMPTZ,
		cancel_reason TEXT NOT NULL DEFAULT '',
		estimated_cost NUMERIC(12,2) NOT NULL DEFAULT 0,
		actual_start_date TIMESTAMPTZ,
		actual_end_date TIMESTAMPTZ,
		condition_notes TEXT NOT NULL DEFAULT '',
		user_rating INTEGER,
		equipment_rating INTEGER,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sync_queue (
		id BIGSERIAL PRIMARY KEY,
		task_type TEXT NOT NULL,
		reservation_id BIGINT NOT NULL DEFAULT 0,
		payload TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ,
		next_retry_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_equipment_status ON reservations(equipment_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_user_status ON reservations(user_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_dates ON reservations(start_date, end_date)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, next_retry_at)`,
	`CREATE INDEX IF NOT EXISTS idx_users_department_role ON users(department, role)`,
}
