package pgbus

import (
	"context"
	"time"

	"github.com/BearBump/BusTrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func insertHistory(ctx context.Context, tx pgx.Tx, rec models.HistoryRecord) error {
	_, err := tx.Exec(ctx, `
INSERT INTO device_history (
  imei, dt_server, dt_tracker, lat, lng, altitude, angle, speed, params
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, rec.IMEI, rec.DtServer.UTC(), rec.DtTracker.UTC(), rec.Lat, rec.Lng,
		rec.Altitude, rec.Angle, rec.Speed, paramsJSON(rec.Params))
	if err != nil {
		return errors.Wrap(err, "insert history")
	}
	return nil
}

// ListHistory returns records of one device with dt_tracker in [from, to), oldest first.
func (s *Storage) ListHistory(ctx context.Context, imei string, from, to time.Time, limit int) ([]*models.HistoryRecord, error) {
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}

	rows, err := s.db.Query(ctx, `
SELECT id, imei, dt_server, dt_tracker, lat, lng, altitude, angle, speed, params
FROM device_history
WHERE imei = $1 AND dt_tracker >= $2 AND dt_tracker < $3
ORDER BY dt_tracker, id
LIMIT $4
`, imei, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select history")
	}
	defer rows.Close()

	var out []*models.HistoryRecord
	for rows.Next() {
		var r models.HistoryRecord
		var params []byte
		if err := rows.Scan(
			&r.ID, &r.IMEI, &r.DtServer, &r.DtTracker, &r.Lat, &r.Lng,
			&r.Altitude, &r.Angle, &r.Speed, &params,
		); err != nil {
			return nil, errors.Wrap(err, "scan history")
		}
		r.DtServer = r.DtServer.UTC()
		r.DtTracker = r.DtTracker.UTC()
		r.Params = scanParams(params)
		out = append(out, &r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// DeleteHistoryBefore removes at most batch records received before cutoff.
func (s *Storage) DeleteHistoryBefore(ctx context.Context, cutoff time.Time, batch int) (int64, error) {
	if batch <= 0 {
		batch = 1000
	}

	tag, err := s.db.Exec(ctx, `
DELETE FROM device_history
WHERE id IN (
  SELECT id FROM device_history
  WHERE dt_server < $1
  ORDER BY id
  LIMIT $2
)
`, cutoff.UTC(), batch)
	if err != nil {
		return 0, errors.Wrap(err, "delete history")
	}
	return tag.RowsAffected(), nil
}
