package pgbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/BusTrack/internal/geo"
	"github.com/BearBump/BusTrack/internal/integrations/directory"
	"github.com/BearBump/BusTrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrap(directory.ErrNotFound, what)
	}
	return errors.Wrap(err, "select "+what)
}

func polygonJSON(p []geo.Point) []byte {
	if len(p) == 0 {
		return nil
	}
	b, _ := json.Marshal(p)
	return b
}

func scanPolygon(b []byte) []geo.Point {
	if len(b) == 0 {
		return nil
	}
	var p []geo.Point
	if json.Unmarshal(b, &p) != nil {
		return nil
	}
	return p
}

func (s *Storage) DeviceByIMEI(ctx context.Context, imei string) (*models.DeviceEntry, error) {
	var d models.DeviceEntry
	var typ string
	var busID *string
	err := s.db.QueryRow(ctx, `SELECT imei, type, bus_id, name FROM devices WHERE imei = $1`, imei).
		Scan(&d.IMEI, &typ, &busID, &d.Name)
	if err != nil {
		return nil, notFound(err, "device")
	}
	d.Type = models.DeviceType(typ)
	if busID != nil {
		d.BusID = *busID
	}
	return &d, nil
}

const studentColumns = `id, admission_no, name, COALESCE(rfid, ''), school_id, stop_id,
  pick_bus_id, drop_bus_id, class_id, section_id`

func scanStudent(row pgx.Row) (*models.Student, error) {
	var st models.Student
	err := row.Scan(
		&st.ID, &st.AdmissionNo, &st.Name, &st.RFID, &st.SchoolID, &st.StopID,
		&st.PickBusID, &st.DropBusID, &st.ClassID, &st.SectionID,
	)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Storage) StudentByRFID(ctx context.Context, rfid string) (*models.Student, error) {
	st, err := scanStudent(s.db.QueryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE rfid = $1`, rfid))
	if err != nil {
		return nil, notFound(err, "student")
	}
	return st, nil
}

func (s *Storage) SchoolByID(ctx context.Context, id string) (*models.School, error) {
	var sc models.School
	var polygon []byte
	var morning, afternoon int
	err := s.db.QueryRow(ctx, `
SELECT id, name, lat, lng, radius_m, polygon, morning_cutoff_minutes, afternoon_cutoff_minutes, timezone
FROM schools
WHERE id = $1
`, id).Scan(
		&sc.ID, &sc.Name, &sc.Fence.Center.Lat, &sc.Fence.Center.Lng, &sc.Fence.RadiusMeters,
		&polygon, &morning, &afternoon, &sc.Timezone,
	)
	if err != nil {
		return nil, notFound(err, "school")
	}
	sc.Fence.Polygon = scanPolygon(polygon)
	sc.MorningCutoff = time.Duration(morning) * time.Minute
	sc.AfternoonCutoff = time.Duration(afternoon) * time.Minute
	return &sc, nil
}

func (s *Storage) BusByID(ctx context.Context, id string) (*models.Bus, error) {
	var b models.Bus
	err := s.db.QueryRow(ctx, `SELECT id, name FROM buses WHERE id = $1`, id).Scan(&b.ID, &b.Name)
	if err != nil {
		return nil, notFound(err, "bus")
	}

	rows, err := s.db.Query(ctx, `SELECT stop_id FROM bus_route_stops WHERE bus_id = $1 ORDER BY seq, stop_id`, id)
	if err != nil {
		return nil, errors.Wrap(err, "select bus stops")
	}
	defer rows.Close()
	for rows.Next() {
		var stopID string
		if err := rows.Scan(&stopID); err != nil {
			return nil, errors.Wrap(err, "scan bus stop")
		}
		b.StopIDs = append(b.StopIDs, stopID)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return &b, nil
}

func scanStop(row pgx.Row) (*models.BusStop, error) {
	var st models.BusStop
	var polygon []byte
	if err := row.Scan(
		&st.ID, &st.Name, &st.Fence.Center.Lat, &st.Fence.Center.Lng, &st.Fence.RadiusMeters, &polygon,
	); err != nil {
		return nil, err
	}
	st.Fence.Polygon = scanPolygon(polygon)
	return &st, nil
}

func (s *Storage) BusStopByID(ctx context.Context, id string) (*models.BusStop, error) {
	st, err := scanStop(s.db.QueryRow(ctx, `SELECT id, name, lat, lng, radius_m, polygon FROM bus_stops WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "bus stop")
	}
	return st, nil
}

func (s *Storage) StopsForBus(ctx context.Context, busID string) ([]*models.BusStop, error) {
	rows, err := s.db.Query(ctx, `
SELECT s.id, s.name, s.lat, s.lng, s.radius_m, s.polygon
FROM bus_route_stops r
JOIN bus_stops s ON s.id = r.stop_id
WHERE r.bus_id = $1
ORDER BY r.seq, s.id
`, busID)
	if err != nil {
		return nil, errors.Wrap(err, "select route stops")
	}
	defer rows.Close()

	var out []*models.BusStop
	for rows.Next() {
		st, err := scanStop(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan route stop")
		}
		out = append(out, st)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// The Upsert* methods load directory rows for local setups and tests.

func (s *Storage) UpsertBus(ctx context.Context, b models.Bus) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
INSERT INTO buses (id, name) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
`, b.ID, b.Name); err != nil {
		return errors.Wrap(err, "upsert bus")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM bus_route_stops WHERE bus_id = $1`, b.ID); err != nil {
		return errors.Wrap(err, "clear route stops")
	}
	for i, stopID := range b.StopIDs {
		if _, err := tx.Exec(ctx, `
INSERT INTO bus_route_stops (bus_id, stop_id, seq) VALUES ($1, $2, $3)
ON CONFLICT (bus_id, stop_id) DO UPDATE SET seq = EXCLUDED.seq
`, b.ID, stopID, i); err != nil {
			return errors.Wrap(err, "insert route stop")
		}
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func (s *Storage) UpsertDevice(ctx context.Context, d models.DeviceEntry) error {
	var busID *string
	if d.BusID != "" {
		busID = &d.BusID
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO devices (imei, type, bus_id, name) VALUES ($1, $2, $3, $4)
ON CONFLICT (imei) DO UPDATE SET type = EXCLUDED.type, bus_id = EXCLUDED.bus_id, name = EXCLUDED.name
`, d.IMEI, string(d.Type), busID, d.Name)
	return errors.Wrap(err, "upsert device")
}

func (s *Storage) UpsertSchool(ctx context.Context, sc models.School) error {
	tz := sc.Timezone
	if tz == "" {
		tz = "UTC"
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO schools (
  id, name, lat, lng, radius_m, polygon, morning_cutoff_minutes, afternoon_cutoff_minutes, timezone
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name,
  lat = EXCLUDED.lat,
  lng = EXCLUDED.lng,
  radius_m = EXCLUDED.radius_m,
  polygon = EXCLUDED.polygon,
  morning_cutoff_minutes = EXCLUDED.morning_cutoff_minutes,
  afternoon_cutoff_minutes = EXCLUDED.afternoon_cutoff_minutes,
  timezone = EXCLUDED.timezone
`, sc.ID, sc.Name, sc.Fence.Center.Lat, sc.Fence.Center.Lng, sc.Fence.RadiusMeters,
		polygonJSON(sc.Fence.Polygon), int(sc.MorningCutoff/time.Minute), int(sc.AfternoonCutoff/time.Minute), tz)
	return errors.Wrap(err, "upsert school")
}

func (s *Storage) UpsertBusStop(ctx context.Context, st models.BusStop) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO bus_stops (id, name, lat, lng, radius_m, polygon) VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name,
  lat = EXCLUDED.lat,
  lng = EXCLUDED.lng,
  radius_m = EXCLUDED.radius_m,
  polygon = EXCLUDED.polygon
`, st.ID, st.Name, st.Fence.Center.Lat, st.Fence.Center.Lng, st.Fence.RadiusMeters, polygonJSON(st.Fence.Polygon))
	return errors.Wrap(err, "upsert bus stop")
}

func (s *Storage) UpsertStudent(ctx context.Context, st models.Student) error {
	var rfid *string
	if st.RFID != "" {
		rfid = &st.RFID
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO students (
  id, admission_no, name, rfid, school_id, stop_id, pick_bus_id, drop_bus_id, class_id, section_id
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
  admission_no = EXCLUDED.admission_no,
  name = EXCLUDED.name,
  rfid = EXCLUDED.rfid,
  school_id = EXCLUDED.school_id,
  stop_id = EXCLUDED.stop_id,
  pick_bus_id = EXCLUDED.pick_bus_id,
  drop_bus_id = EXCLUDED.drop_bus_id,
  class_id = EXCLUDED.class_id,
  section_id = EXCLUDED.section_id
`, st.ID, st.AdmissionNo, st.Name, rfid, st.SchoolID, st.StopID,
		st.PickBusID, st.DropBusID, st.ClassID, st.SectionID)
	return errors.Wrap(err, "upsert student")
}
