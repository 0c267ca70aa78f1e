// Package retention purges device history older than the configured horizon.
package retention

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// MinDays is the shortest horizon accepted; anything lower disables the sweep.
const MinDays = 30

type Repository interface {
	DeleteHistoryBefore(ctx context.Context, cutoff time.Time, batch int) (int64, error)
}

type Sweeper struct {
	repo Repository
	days int

	interval  time.Duration
	batchSize int
	now       func() time.Time

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalDeleted        atomic.Int64
	totalCycles         atomic.Int64
	totalErrors         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, retentionDays int) *Sweeper {
	return &Sweeper{
		repo:              repo,
		days:              retentionDays,
		interval:          time.Hour,
		batchSize:         5000,
		now:               time.Now,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Sweeper) WithSettings(interval time.Duration, batchSize int) *Sweeper {
	if interval > 0 {
		s.interval = interval
	}
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	return s
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Sweeper) Enabled() bool {
	return s.days >= MinDays
}

// Trigger forces an immediate sweep (best-effort, non-blocking).
func (s *Sweeper) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	Enabled       bool       `json:"enabled"`
	RetentionDays int        `json:"retentionDays"`
	StartedAt     time.Time  `json:"startedAt"`
	LastCycleAt   *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	TotalCycles   int64      `json:"totalCycles"`
	TotalDeleted  int64      `json:"totalDeleted"`
	TotalErrors   int64      `json:"totalErrors"`
	LastError     string     `json:"lastError,omitempty"`
}

func (s *Sweeper) Stats() Stats {
	st := Stats{
		Enabled:       s.Enabled(),
		RetentionDays: s.days,
		StartedAt:     time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalCycles:   s.totalCycles.Load(),
		TotalDeleted:  s.totalDeleted.Load(),
		TotalErrors:   s.totalErrors.Load(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

// Run sweeps on every tick and trigger until ctx is done. A disabled sweeper only waits.
func (s *Sweeper) Run(ctx context.Context) error {
	if !s.Enabled() {
		slog.Info("history retention disabled", "retention_days", s.days, "min_days", MinDays)
		<-ctx.Done()
		return ctx.Err()
	}

	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	deleted, err := s.SweepOnce(ctx)
	if err != nil {
		s.totalErrors.Add(1)
		s.lastErrorMu.Lock()
		s.lastError = err.Error()
		s.lastErrorMu.Unlock()
		slog.Error("history retention sweep", "deleted", deleted, "error", err.Error())
		return
	}
	if deleted > 0 {
		slog.Info("history retention sweep", "deleted", deleted)
	}
}

// SweepOnce deletes expired history in batches until a short batch, an error
// or cancellation. It returns the number of rows deleted.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	if !s.Enabled() {
		return 0, nil
	}

	now := s.now().UTC()
	s.lastCycleUnixNano.Store(now.UnixNano())
	s.totalCycles.Add(1)
	cutoff := now.AddDate(0, 0, -s.days)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.repo.DeleteHistoryBefore(ctx, cutoff, s.batchSize)
		total += n
		s.totalDeleted.Add(n)
		if err != nil {
			return total, err
		}
		if n < int64(s.batchSize) {
			return total, nil
		}
	}
}
