package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS parking_lots (
		id              BIGSERIAL PRIMARY KEY,
		name            TEXT NOT NULL,
		address         TEXT,
		price_per_hour  NUMERIC(12,2) NOT NULL DEFAULT 0,
		total_spots     INT NOT NULL DEFAULT 0,
		available_spots INT NOT NULL DEFAULT 0 CHECK (available_spots >= 0),
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS app_users (
		id              BIGSERIAL PRIMARY KEY,
		full_name       TEXT NOT NULL,
		phone           TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_app_users_phone ON app_users(phone) WHERE phone IS NOT NULL;`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id               BIGSERIAL PRIMARY KEY,
		user_id          BIGINT NOT NULL REFERENCES app_users(id),
		parking_lot_id   BIGINT NOT NULL REFERENCES parking_lots(id),
		vehicle_number   TEXT NOT NULL,
		normalized_plate TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL CHECK (status IN ('pending', 'confirmed', 'cancelled', 'completed')),
		total_cost       NUMERIC(12,2) NOT NULL DEFAULT 0,
		start_time       TIMESTAMPTZ,
		end_time         TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_plate_status ON bookings(normalized_plate, status);`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_user_id ON bookings(user_id, created_at DESC);`,
	// Bookings written by other services never pass through the gorm hook, so
	// the database keeps normalized_plate in step as well.
	`CREATE OR REPLACE FUNCTION bookings_normalize_plate() RETURNS trigger AS $$
	BEGIN
		NEW.normalized_plate := regexp_replace(upper(NEW.vehicle_number), '[^A-Z0-9]', '', 'g');
		RETURN NEW;
	END
	$$ LANGUAGE plpgsql;`,
	`DROP TRIGGER IF EXISTS trg_bookings_normalize_plate ON bookings;`,
	`CREATE TRIGGER trg_bookings_normalize_plate
		BEFORE INSERT OR UPDATE OF vehicle_number ON bookings
		FOR EACH ROW EXECUTE FUNCTION bookings_normalize_plate();`,
	`UPDATE bookings
		SET normalized_plate = regexp_replace(upper(vehicle_number), '[^A-Z0-9]', '', 'g')
		WHERE normalized_plate = '';`,
	`CREATE TABLE IF NOT EXISTS scan_events (
		id               UUID PRIMARY KEY,
		camera_id        TEXT,
		session_id       TEXT,
		raw_plate        TEXT NOT NULL,
		normalized_plate TEXT NOT NULL,
		confidence       NUMERIC(5,2),
		outcome          TEXT NOT NULL,
		booking_id       BIGINT REFERENCES bookings(id) ON DELETE SET NULL,
		error            TEXT,
		details          JSONB,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_scan_events_normalized_plate ON scan_events(normalized_plate);`,
	`CREATE INDEX IF NOT EXISTS idx_scan_events_created_at ON scan_events(created_at);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
