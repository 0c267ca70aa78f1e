package pgbus

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS device_states (
  imei TEXT PRIMARY KEY,
  protocol TEXT NOT NULL DEFAULT '',
  net_protocol TEXT NOT NULL DEFAULT '',
  ip TEXT NOT NULL DEFAULT '',
  port TEXT NOT NULL DEFAULT '',
  lat DOUBLE PRECISION NOT NULL DEFAULT 0,
  lng DOUBLE PRECISION NOT NULL DEFAULT 0,
  altitude INT NOT NULL DEFAULT 0,
  angle INT NOT NULL DEFAULT 0,
  speed INT NOT NULL DEFAULT 0,
  loc_valid BOOLEAN NOT NULL DEFAULT false,
  params JSONB NOT NULL DEFAULT '{}',
  dt_server TIMESTAMPTZ NULL,
  dt_tracker TIMESTAMPTZ NULL,
  last_stop TIMESTAMPTZ NULL,
  last_idle TIMESTAMPTZ NULL,
  last_move TIMESTAMPTZ NULL,
  is_stopped BOOLEAN NOT NULL DEFAULT false,
  is_idle BOOLEAN NOT NULL DEFAULT false,
  is_moving BOOLEAN NOT NULL DEFAULT false,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS device_history (
  id BIGSERIAL PRIMARY KEY,
  imei TEXT NOT NULL,
  dt_server TIMESTAMPTZ NOT NULL,
  dt_tracker TIMESTAMPTZ NOT NULL,
  lat DOUBLE PRECISION NOT NULL,
  lng DOUBLE PRECISION NOT NULL,
  altitude INT NOT NULL DEFAULT 0,
  angle INT NOT NULL DEFAULT 0,
  speed INT NOT NULL DEFAULT 0,
  params JSONB NOT NULL DEFAULT '{}'
)`,
		`CREATE INDEX IF NOT EXISTS idx_device_history_imei_dt_tracker ON device_history(imei, dt_tracker)`,
		`CREATE INDEX IF NOT EXISTS idx_device_history_dt_server ON device_history(dt_server)`,
		`
CREATE TABLE IF NOT EXISTS unregistered_devices (
  imei TEXT PRIMARY KEY,
  count BIGINT NOT NULL,
  protocol TEXT NOT NULL DEFAULT '',
  net_protocol TEXT NOT NULL DEFAULT '',
  ip TEXT NOT NULL DEFAULT '',
  port TEXT NOT NULL DEFAULT '',
  dt_server TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS attendance_records (
  attendance_date DATE NOT NULL,
  student_id TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (attendance_date, student_id)
)`,
		`
CREATE TABLE IF NOT EXISTS attendance_events (
  id BIGSERIAL PRIMARY KEY,
  attendance_date DATE NOT NULL,
  student_id TEXT NOT NULL,
  tag TEXT NOT NULL,
  event_time TIMESTAMPTZ NOT NULL,
  lat DOUBLE PRECISION NOT NULL,
  lng DOUBLE PRECISION NOT NULL,
  location TEXT NOT NULL DEFAULT '',
  message TEXT NOT NULL DEFAULT '',
  bus_id TEXT NOT NULL DEFAULT '',
  assigned_bus_id TEXT NOT NULL DEFAULT '',
  stop_id TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  FOREIGN KEY (attendance_date, student_id)
    REFERENCES attendance_records(attendance_date, student_id) ON DELETE CASCADE
)`,
		// One event per tag per student per day.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_attendance_events_tag ON attendance_events(attendance_date, student_id, tag)`,

		// Directory tables are owned by the school administration system; created here for local setups.
		`
CREATE TABLE IF NOT EXISTS buses (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT ''
)`,
		`
CREATE TABLE IF NOT EXISTS devices (
  imei TEXT PRIMARY KEY,
  type TEXT NOT NULL,
  bus_id TEXT NULL REFERENCES buses(id),
  name TEXT NOT NULL DEFAULT ''
)`,
		`
CREATE TABLE IF NOT EXISTS schools (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  lat DOUBLE PRECISION NOT NULL,
  lng DOUBLE PRECISION NOT NULL,
  radius_m DOUBLE PRECISION NOT NULL,
  polygon JSONB NULL,
  morning_cutoff_minutes INT NOT NULL,
  afternoon_cutoff_minutes INT NOT NULL,
  timezone TEXT NOT NULL DEFAULT 'UTC'
)`,
		`
CREATE TABLE IF NOT EXISTS bus_stops (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  lat DOUBLE PRECISION NOT NULL,
  lng DOUBLE PRECISION NOT NULL,
  radius_m DOUBLE PRECISION NOT NULL,
  polygon JSONB NULL
)`,
		`
CREATE TABLE IF NOT EXISTS bus_route_stops (
  bus_id TEXT NOT NULL REFERENCES buses(id) ON DELETE CASCADE,
  stop_id TEXT NOT NULL REFERENCES bus_stops(id) ON DELETE CASCADE,
  seq INT NOT NULL DEFAULT 0,
  PRIMARY KEY (bus_id, stop_id)
)`,
		`
CREATE TABLE IF NOT EXISTS students (
  id TEXT PRIMARY KEY,
  admission_no TEXT NOT NULL DEFAULT '',
  name TEXT NOT NULL DEFAULT '',
  rfid TEXT NULL UNIQUE,
  school_id TEXT NOT NULL REFERENCES schools(id),
  stop_id TEXT NOT NULL DEFAULT '',
  pick_bus_id TEXT NOT NULL DEFAULT '',
  drop_bus_id TEXT NOT NULL DEFAULT '',
  class_id TEXT NOT NULL DEFAULT '',
  section_id TEXT NOT NULL DEFAULT ''
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
