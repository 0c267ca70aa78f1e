package pgbus

import (
	"context"
	"time"

	"github.com/BearBump/BusTrack/internal/localtime"
	"github.com/BearBump/BusTrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// GetAttendance returns nil when the student has no record for the day.
func (s *Storage) GetAttendance(ctx context.Context, date time.Time, studentID string) (*models.AttendanceRecord, error) {
	day := localtime.DayOf(date)

	var exists bool
	err := s.db.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM attendance_records WHERE attendance_date = $1 AND student_id = $2
)`, day, studentID).Scan(&exists)
	if err != nil {
		return nil, errors.Wrap(err, "select attendance record")
	}
	if !exists {
		return nil, nil
	}

	rows, err := s.db.Query(ctx, `
SELECT tag, event_time, lat, lng, location, message, bus_id, assigned_bus_id, stop_id
FROM attendance_events
WHERE attendance_date = $1 AND student_id = $2
ORDER BY event_time, id
`, day, studentID)
	if err != nil {
		return nil, errors.Wrap(err, "select attendance events")
	}
	defer rows.Close()

	rec := &models.AttendanceRecord{Date: day, StudentID: studentID}
	for rows.Next() {
		var e models.TagEvent
		var tag string
		if err := rows.Scan(
			&tag, &e.Time, &e.Lat, &e.Lng, &e.Location, &e.Message,
			&e.BusID, &e.AssignedBusID, &e.StopID,
		); err != nil {
			return nil, errors.Wrap(err, "scan attendance event")
		}
		e.Tag = models.Tag(tag)
		e.Time = e.Time.UTC()
		rec.Events = append(rec.Events, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return rec, nil
}

// AppendTagEvent stores ev unless the student already has ev.Tag for the day.
// It reports whether the event was written.
func (s *Storage) AppendTagEvent(ctx context.Context, date time.Time, studentID string, ev models.TagEvent) (bool, error) {
	day := localtime.DayOf(date)

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO attendance_records (attendance_date, student_id, created_at)
VALUES ($1, $2, now())
ON CONFLICT (attendance_date, student_id) DO NOTHING
`, day, studentID)
	if err != nil {
		return false, errors.Wrap(err, "insert attendance record")
	}

	tag, err := tx.Exec(ctx, `
INSERT INTO attendance_events (
  attendance_date, student_id, tag, event_time, lat, lng,
  location, message, bus_id, assigned_bus_id, stop_id, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11, now())
ON CONFLICT (attendance_date, student_id, tag) DO NOTHING
`, day, studentID, string(ev.Tag), ev.Time.UTC(), ev.Lat, ev.Lng,
		ev.Location, ev.Message, ev.BusID, ev.AssignedBusID, ev.StopID)
	if err != nil {
		return false, errors.Wrap(err, "insert attendance event")
	}

	if err := tx.Commit(ctx); err != nil {
		return false, errors.Wrap(err, "commit tx")
	}
	return tag.RowsAffected() == 1, nil
}
