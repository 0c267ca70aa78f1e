// Package vehicles serves the live vehicle read model: the latest device state
// with the status derived at read time.
package vehicles

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/BusTrack/internal/cache"
	"github.com/BearBump/BusTrack/internal/models"
	"github.com/BearBump/BusTrack/internal/services/devicestate"
	"github.com/pkg/errors"
)

type Repository interface {
	GetDeviceStates(ctx context.Context, imeis []string) ([]*models.DeviceState, error)
	ListHistory(ctx context.Context, imei string, from, to time.Time, limit int) ([]*models.HistoryRecord, error)
}

// Vehicle is a device state plus its derived status.
type Vehicle struct {
	models.DeviceState
	Status string `json:"status"`
}

type Service struct {
	repo       Repository
	cache      cache.BytesCache
	currentTTL time.Duration

	connectionTimeout time.Duration
	now               func() time.Time
}

func New(repo Repository, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{
		repo:              repo,
		cache:             c,
		currentTTL:        currentTTL,
		connectionTimeout: 10 * time.Minute,
		now:               time.Now,
	}
}

// WithSettings sets how long a device may stay silent before it reads as offline.
func (s *Service) WithSettings(connectionTimeout time.Duration) *Service {
	if connectionTimeout > 0 {
		s.connectionTimeout = connectionTimeout
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.currentTTL > 0
}

// Remember refreshes the cached current state. A versioned cache keeps the newest of
// concurrent writers, ordered by tracker time then server time.
func (s *Service) Remember(ctx context.Context, st models.DeviceState) {
	if !s.cacheEnabled() {
		return
	}
	b, err := json.Marshal(st)
	if err != nil {
		return
	}
	key := currentKey(st.IMEI)
	if vc, ok := s.cache.(cache.VersionedCache); ok {
		_, err = vc.SetIfNewer(ctx, key, b, st.DtTracker.UnixMilli(), st.DtServer.UnixMilli(), s.currentTTL)
	} else {
		err = s.cache.Set(ctx, key, b, s.currentTTL)
	}
	if err != nil {
		slog.Debug("cache current state", "imei", st.IMEI, "error", err.Error())
	}
}

// GetVehicles returns the vehicles in the order of imeis; unknown IMEIs are left out.
func (s *Service) GetVehicles(ctx context.Context, imeis []string) ([]*Vehicle, error) {
	if len(imeis) == 0 {
		return []*Vehicle{}, nil
	}
	if len(imeis) > 1000 {
		return nil, errors.New("too many imeis (max 1000)")
	}

	miss := make([]string, 0, len(imeis))
	got := make(map[string]*models.DeviceState, len(imeis))

	if s.cacheEnabled() {
		for _, imei := range imeis {
			b, ok, err := s.cache.Get(ctx, currentKey(imei))
			if err != nil || !ok {
				miss = append(miss, imei)
				continue
			}
			var st models.DeviceState
			if json.Unmarshal(b, &st) != nil {
				miss = append(miss, imei)
				continue
			}
			got[imei] = &st
		}
	} else {
		miss = imeis
	}

	if len(miss) > 0 {
		fromDB, err := s.repo.GetDeviceStates(ctx, miss)
		if err != nil {
			return nil, err
		}
		for _, st := range fromDB {
			got[st.IMEI] = st
			s.Remember(ctx, *st)
		}
	}

	now := s.now()
	out := make([]*Vehicle, 0, len(imeis))
	for _, imei := range imeis {
		if st, ok := got[imei]; ok {
			out = append(out, &Vehicle{
				DeviceState: *st,
				Status:      devicestate.Derive(*st, now, s.connectionTimeout),
			})
		}
	}
	return out, nil
}

// History lists a device's history in [from, to). A zero to means now.
func (s *Service) History(ctx context.Context, imei string, from, to time.Time, limit int) ([]*models.HistoryRecord, error) {
	if imei == "" {
		return nil, errors.New("imei is required")
	}
	if to.IsZero() {
		to = s.now()
	}
	if !from.Before(to) {
		return nil, errors.New("from must be before to")
	}
	return s.repo.ListHistory(ctx, imei, from, to, limit)
}

func currentKey(imei string) string {
	return "device:" + imei + ":current"
}
