// Package cached wraps a directory.Directory with a read-through bytes cache.
package cached

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/BusTrack/internal/cache"
	"github.com/BearBump/BusTrack/internal/integrations/directory"
	"github.com/BearBump/BusTrack/internal/models"
)

type Directory struct {
	next  directory.Directory
	cache cache.BytesCache
	ttl   time.Duration
}

// New returns next unchanged when caching is disabled.
func New(next directory.Directory, c cache.BytesCache, ttl time.Duration) directory.Directory {
	if c == nil || ttl <= 0 {
		return next
	}
	return &Directory{next: next, cache: c, ttl: ttl}
}

func (d *Directory) DeviceByIMEI(ctx context.Context, imei string) (*models.DeviceEntry, error) {
	return readThrough(ctx, d, "dir:device:"+imei, func() (*models.DeviceEntry, error) {
		return d.next.DeviceByIMEI(ctx, imei)
	})
}

func (d *Directory) StudentByRFID(ctx context.Context, rfid string) (*models.Student, error) {
	return readThrough(ctx, d, "dir:student:rfid:"+rfid, func() (*models.Student, error) {
		return d.next.StudentByRFID(ctx, rfid)
	})
}

func (d *Directory) SchoolByID(ctx context.Context, id string) (*models.School, error) {
	return readThrough(ctx, d, "dir:school:"+id, func() (*models.School, error) {
		return d.next.SchoolByID(ctx, id)
	})
}

func (d *Directory) BusByID(ctx context.Context, id string) (*models.Bus, error) {
	return readThrough(ctx, d, "dir:bus:"+id, func() (*models.Bus, error) {
		return d.next.BusByID(ctx, id)
	})
}

func (d *Directory) BusStopByID(ctx context.Context, id string) (*models.BusStop, error) {
	return readThrough(ctx, d, "dir:stop:"+id, func() (*models.BusStop, error) {
		return d.next.BusStopByID(ctx, id)
	})
}

func (d *Directory) StopsForBus(ctx context.Context, busID string) ([]*models.BusStop, error) {
	stops, err := readThrough(ctx, d, "dir:bus:"+busID+":stops", func() (*[]*models.BusStop, error) {
		s, err := d.next.StopsForBus(ctx, busID)
		if err != nil {
			return nil, err
		}
		return &s, nil
	})
	if err != nil {
		return nil, err
	}
	return *stops, nil
}

// readThrough treats cache errors and undecodable entries as misses. Errors from next,
// including not-found, are never cached.
func readThrough[T any](ctx context.Context, d *Directory, key string, load func() (*T, error)) (*T, error) {
	if b, ok, err := d.cache.Get(ctx, key); err == nil && ok {
		var v T
		if json.Unmarshal(b, &v) == nil {
			return &v, nil
		}
	} else if err != nil {
		slog.Debug("directory cache get", "key", key, "error", err.Error())
	}

	v, err := load()
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(v); err == nil {
		_ = d.cache.Set(ctx, key, b, d.ttl)
	}
	return v, nil
}
