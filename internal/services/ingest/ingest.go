// Package ingest runs batches of raw pings through normalization, device state,
// history, the unregistered-device counter and attendance.
package ingest

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/BusTrack/internal/broker/messages"
	"github.com/BearBump/BusTrack/internal/integrations/directory"
	"github.com/BearBump/BusTrack/internal/models"
	"github.com/BearBump/BusTrack/internal/services/attendance"
	"github.com/BearBump/BusTrack/internal/services/devicestate"
	"github.com/BearBump/BusTrack/internal/services/normalizer"
	"github.com/pkg/errors"
)

type DeviceStore interface {
	ApplyPing(ctx context.Context, p models.Ping, update func(prev models.DeviceState) (models.DeviceState, error)) (models.DeviceState, error)
	RecordUnregistered(ctx context.Context, u models.UnregisteredDevice) (int64, error)
}

type Registry interface {
	DeviceByIMEI(ctx context.Context, imei string) (*models.DeviceEntry, error)
}

type Attendance interface {
	Process(ctx context.Context, r attendance.Read) (attendance.Outcome, error)
}

type LiveCache interface {
	Remember(ctx context.Context, st models.DeviceState)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Result counts what happened to the pings of one batch.
type Result struct {
	Accepted     int `json:"accepted"`
	Stale        int `json:"stale"`
	Rejected     int `json:"rejected"`
	Skipped      int `json:"skipped"`
	Unregistered int `json:"unregistered"`
	Attendance   int `json:"attendance"`
}

func (r *Result) add(o Result) {
	r.Accepted += o.Accepted
	r.Stale += o.Stale
	r.Rejected += o.Rejected
	r.Skipped += o.Skipped
	r.Unregistered += o.Unregistered
	r.Attendance += o.Attendance
}

type Stats struct {
	Batches      int64  `json:"batches"`
	Accepted     int64  `json:"accepted"`
	Stale        int64  `json:"stale"`
	Rejected     int64  `json:"rejected"`
	Skipped      int64  `json:"skipped"`
	Unregistered int64  `json:"unregistered"`
	Attendance   int64  `json:"attendance"`
	Errors       int64  `json:"errors"`
	LastError    string `json:"last_error,omitempty"`
}

const lockStripes = 256

type Service struct {
	store    DeviceStore
	registry Registry
	att      Attendance
	live     LiveCache
	rl       RateLimiter

	now func() time.Time

	unregisteredLogWindow time.Duration

	locks [lockStripes]sync.Mutex

	batches      atomic.Int64
	accepted     atomic.Int64
	stale        atomic.Int64
	rejected     atomic.Int64
	skipped      atomic.Int64
	unregistered atomic.Int64
	attended     atomic.Int64
	errorsTotal  atomic.Int64
	lastErrorMu  sync.Mutex
	lastError    string
}

// New builds the pipeline. att may be nil to disable attendance.
func New(store DeviceStore, registry Registry, att Attendance) *Service {
	return &Service{
		store:                 store,
		registry:              registry,
		att:                   att,
		now:                   time.Now,
		unregisteredLogWindow: time.Minute,
	}
}

func (s *Service) WithLiveCache(c LiveCache) *Service {
	s.live = c
	return s
}

// WithRateLimiter throttles the warning logged for unknown devices to one per IMEI per window.
func (s *Service) WithRateLimiter(rl RateLimiter, window time.Duration) *Service {
	s.rl = rl
	if window > 0 {
		s.unregisteredLogWindow = window
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) Stats() Stats {
	s.lastErrorMu.Lock()
	lastErr := s.lastError
	s.lastErrorMu.Unlock()

	return Stats{
		Batches:      s.batches.Load(),
		Accepted:     s.accepted.Load(),
		Stale:        s.stale.Load(),
		Rejected:     s.rejected.Load(),
		Skipped:      s.skipped.Load(),
		Unregistered: s.unregistered.Load(),
		Attendance:   s.attended.Load(),
		Errors:       s.errorsTotal.Load(),
		LastError:    lastErr,
	}
}

// ProcessBatch handles pings in order. Malformed pings are dropped and counted;
// the first storage or directory failure stops the batch and is returned so
// the caller can redeliver it.
func (s *Service) ProcessBatch(ctx context.Context, batch messages.PingBatch) (Result, error) {
	s.batches.Add(1)

	var res Result
	for i := range batch.Pings {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		one, err := s.processOne(ctx, batch.Pings[i])
		res.add(one)
		if err != nil {
			s.errorsTotal.Add(1)
			s.lastErrorMu.Lock()
			s.lastError = err.Error()
			s.lastErrorMu.Unlock()
			slog.Error("process ping", "imei", batch.Pings[i].IMEI.String(), "error", err.Error())
			return res, err
		}
	}
	return res, nil
}

func (s *Service) processOne(ctx context.Context, raw messages.RawPing) (Result, error) {
	p, err := normalizer.Normalize(raw, s.now())
	if err != nil {
		var skipped *normalizer.ErrSkipped
		if errors.As(err, &skipped) {
			s.skipped.Add(1)
			return Result{Skipped: 1}, nil
		}
		s.rejected.Add(1)
		slog.Warn("drop malformed ping", "imei", raw.IMEI.String(), "error", err.Error())
		return Result{Rejected: 1}, nil
	}

	dev, err := s.registry.DeviceByIMEI(ctx, p.IMEI)
	if directory.IsNotFound(err) {
		return s.recordUnregistered(ctx, p)
	}
	if err != nil {
		return Result{}, errors.Wrap(err, "lookup device")
	}

	l := s.lock(p.IMEI)
	l.Lock()
	var fresh bool
	st, err := s.store.ApplyPing(ctx, p, func(prev models.DeviceState) (models.DeviceState, error) {
		var next models.DeviceState
		next, fresh = devicestate.Apply(prev, p)
		return next, nil
	})
	if err == nil && s.live != nil {
		s.live.Remember(ctx, st)
	}
	l.Unlock()
	if err != nil {
		return Result{}, errors.Wrap(err, "apply ping")
	}

	res := Result{Accepted: 1}
	s.accepted.Add(1)
	if !fresh {
		res.Stale = 1
		s.stale.Add(1)
		slog.Debug("stale ping kept in history only", "imei", p.IMEI, "dt_tracker", p.DtTracker, "stored", st.DtTracker)
	}

	// The trigger is the read carried by this ping, never the merged params.
	rfid := p.Params.RFID()
	if rfid == "" || s.att == nil {
		return res, nil
	}
	out, err := s.att.Process(ctx, attendance.Read{
		RFID:      rfid,
		IMEI:      p.IMEI,
		BusID:     dev.BusID,
		Lat:       p.Lat,
		Lng:       p.Lng,
		DtTracker: p.DtTracker,
	})
	if err != nil {
		return res, errors.Wrap(err, "attendance")
	}
	if out.Written {
		res.Attendance = 1
		s.attended.Add(1)
	}
	return res, nil
}

func (s *Service) recordUnregistered(ctx context.Context, p models.Ping) (Result, error) {
	count, err := s.store.RecordUnregistered(ctx, models.UnregisteredDevice{
		IMEI:        p.IMEI,
		Protocol:    p.Protocol,
		NetProtocol: p.NetProtocol,
		IP:          p.IP,
		Port:        p.Port,
		DtServer:    p.DtServer,
	})
	if err != nil {
		return Result{}, errors.Wrap(err, "record unregistered device")
	}
	s.unregistered.Add(1)

	if s.shouldLogUnregistered(ctx, p.IMEI) {
		slog.Warn("ping from unregistered device", "imei", p.IMEI, "count", count, "ip", p.IP, "protocol", p.Protocol)
	}
	return Result{Unregistered: 1}, nil
}

func (s *Service) shouldLogUnregistered(ctx context.Context, imei string) bool {
	if s.rl == nil {
		return true
	}
	ok, _, err := s.rl.Allow(ctx, "rl:unregistered:"+imei, 1, s.unregisteredLogWindow)
	if err != nil {
		return true
	}
	return ok
}

func (s *Service) lock(imei string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(imei))
	return &s.locks[h.Sum32()%lockStripes]
}
