package pgbus

import (
	"context"
	"time"

	"github.com/BearBump/BusTrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const deviceStateColumns = `
  imei, protocol, net_protocol, ip, port,
  lat, lng, altitude, angle, speed, loc_valid, params,
  dt_server, dt_tracker,
  last_stop, last_idle, last_move, is_stopped, is_idle, is_moving`

func scanDeviceState(row pgx.Row) (models.DeviceState, error) {
	var st models.DeviceState
	var params []byte
	var dtServer, dtTracker, lastStop, lastIdle, lastMove *time.Time
	err := row.Scan(
		&st.IMEI, &st.Protocol, &st.NetProtocol, &st.IP, &st.Port,
		&st.Lat, &st.Lng, &st.Altitude, &st.Angle, &st.Speed, &st.LocValid, &params,
		&dtServer, &dtTracker,
		&lastStop, &lastIdle, &lastMove,
		&st.VehicleStatus.IsStopped, &st.VehicleStatus.IsIdle, &st.VehicleStatus.IsMoving,
	)
	if err != nil {
		return models.DeviceState{}, err
	}
	st.Params = scanParams(params)
	st.DtServer = derefTime(dtServer)
	st.DtTracker = derefTime(dtTracker)
	st.VehicleStatus.LastStop = derefTime(lastStop)
	st.VehicleStatus.LastIdle = derefTime(lastIdle)
	st.VehicleStatus.LastMove = derefTime(lastMove)
	return st, nil
}

// ApplyPing locks the device row, lets update compute the next state and
// stores it together with the history snapshot of p in one transaction.
func (s *Storage) ApplyPing(
	ctx context.Context,
	p models.Ping,
	update func(prev models.DeviceState) (models.DeviceState, error),
) (models.DeviceState, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.DeviceState{}, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `INSERT INTO device_states (imei) VALUES ($1) ON CONFLICT (imei) DO NOTHING`, p.IMEI); err != nil {
		return models.DeviceState{}, errors.Wrap(err, "insert device state")
	}

	prev, err := scanDeviceState(tx.QueryRow(ctx, `SELECT`+deviceStateColumns+`
FROM device_states
WHERE imei = $1
FOR UPDATE`, p.IMEI))
	if err != nil {
		return models.DeviceState{}, errors.Wrap(err, "lock device state")
	}

	next, err := update(prev)
	if err != nil {
		return models.DeviceState{}, err
	}

	vs := next.VehicleStatus
	_, err = tx.Exec(ctx, `
UPDATE device_states
SET
  protocol = $2, net_protocol = $3, ip = $4, port = $5,
  lat = $6, lng = $7, altitude = $8, angle = $9, speed = $10, loc_valid = $11, params = $12,
  dt_server = $13, dt_tracker = $14,
  last_stop = $15, last_idle = $16, last_move = $17,
  is_stopped = $18, is_idle = $19, is_moving = $20,
  updated_at = now()
WHERE imei = $1
`,
		p.IMEI, next.Protocol, next.NetProtocol, next.IP, next.Port,
		next.Lat, next.Lng, next.Altitude, next.Angle, next.Speed, next.LocValid, paramsJSON(next.Params),
		nullTime(next.DtServer), nullTime(next.DtTracker),
		nullTime(vs.LastStop), nullTime(vs.LastIdle), nullTime(vs.LastMove),
		vs.IsStopped, vs.IsIdle, vs.IsMoving,
	)
	if err != nil {
		return models.DeviceState{}, errors.Wrap(err, "update device state")
	}

	if err := insertHistory(ctx, tx, models.HistoryFromPing(p)); err != nil {
		return models.DeviceState{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.DeviceState{}, errors.Wrap(err, "commit tx")
	}
	next.IMEI = p.IMEI
	return next, nil
}

func (s *Storage) GetDeviceState(ctx context.Context, imei string) (*models.DeviceState, error) {
	st, err := scanDeviceState(s.db.QueryRow(ctx, `SELECT`+deviceStateColumns+`
FROM device_states
WHERE imei = $1`, imei))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select device state")
	}
	return &st, nil
}

func (s *Storage) GetDeviceStates(ctx context.Context, imeis []string) ([]*models.DeviceState, error) {
	if len(imeis) == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx, `SELECT`+deviceStateColumns+`
FROM device_states
WHERE imei = ANY($1)
ORDER BY imei`, imeis)
	if err != nil {
		return nil, errors.Wrap(err, "select device states")
	}
	defer rows.Close()

	var out []*models.DeviceState
	for rows.Next() {
		st, err := scanDeviceState(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan device state")
		}
		out = append(out, &st)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
