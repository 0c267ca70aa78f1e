package pgbus

import (
	"context"

	"github.com/BearBump/BusTrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// RecordUnregistered bumps the counter of u.IMEI, keeps the latest metadata
// and returns the new count.
func (s *Storage) RecordUnregistered(ctx context.Context, u models.UnregisteredDevice) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, `
INSERT INTO unregistered_devices (imei, count, protocol, net_protocol, ip, port, dt_server)
VALUES ($1, 1, $2, $3, $4, $5, $6)
ON CONFLICT (imei) DO UPDATE SET
  count = unregistered_devices.count + 1,
  protocol = EXCLUDED.protocol,
  net_protocol = EXCLUDED.net_protocol,
  ip = EXCLUDED.ip,
  port = EXCLUDED.port,
  dt_server = EXCLUDED.dt_server
RETURNING count
`, u.IMEI, u.Protocol, u.NetProtocol, u.IP, u.Port, u.DtServer.UTC()).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "upsert unregistered device")
	}
	return count, nil
}

func (s *Storage) GetUnregistered(ctx context.Context, imei string) (*models.UnregisteredDevice, error) {
	var u models.UnregisteredDevice
	err := s.db.QueryRow(ctx, `
SELECT imei, count, protocol, net_protocol, ip, port, dt_server
FROM unregistered_devices
WHERE imei = $1
`, imei).Scan(&u.IMEI, &u.Count, &u.Protocol, &u.NetProtocol, &u.IP, &u.Port, &u.DtServer)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select unregistered device")
	}
	u.DtServer = u.DtServer.UTC()
	return &u, nil
}

func (s *Storage) ListUnregistered(ctx context.Context, limit int) ([]*models.UnregisteredDevice, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, `
SELECT imei, count, protocol, net_protocol, ip, port, dt_server
FROM unregistered_devices
ORDER BY dt_server DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select unregistered devices")
	}
	defer rows.Close()

	var out []*models.UnregisteredDevice
	for rows.Next() {
		var u models.UnregisteredDevice
		if err := rows.Scan(&u.IMEI, &u.Count, &u.Protocol, &u.NetProtocol, &u.IP, &u.Port, &u.DtServer); err != nil {
			return nil, errors.Wrap(err, "scan unregistered device")
		}
		u.DtServer = u.DtServer.UTC()
		out = append(out, &u)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
