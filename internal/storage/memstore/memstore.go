// Package memstore keeps every store and the directory in process memory.
// It backs the "memory" storage driver and service tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/BusTrack/internal/integrations/directory"
	"github.com/BearBump/BusTrack/internal/localtime"
	"github.com/BearBump/BusTrack/internal/models"
	"github.com/pkg/errors"
)

type attendanceKey struct {
	day       time.Time
	studentID string
}

type Store struct {
	mu sync.Mutex

	// one lock per device so ApplyPing mirrors the row lock of the pg store
	deviceLocks map[string]*sync.Mutex

	states       map[string]models.DeviceState
	history      []models.HistoryRecord
	nextID       uint64
	attendance   map[attendanceKey]*models.AttendanceRecord
	unregistered map[string]models.UnregisteredDevice

	devices  map[string]models.DeviceEntry
	students map[string]models.Student
	schools  map[string]models.School
	buses    map[string]models.Bus
	stops    map[string]models.BusStop
}

func New() *Store {
	return &Store{
		deviceLocks:  make(map[string]*sync.Mutex),
		states:       make(map[string]models.DeviceState),
		attendance:   make(map[attendanceKey]*models.AttendanceRecord),
		unregistered: make(map[string]models.UnregisteredDevice),
		devices:      make(map[string]models.DeviceEntry),
		students:     make(map[string]models.Student),
		schools:      make(map[string]models.School),
		buses:        make(map[string]models.Bus),
		stops:        make(map[string]models.BusStop),
	}
}

func (s *Store) deviceLock(imei string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.deviceLocks[imei]
	if !ok {
		l = &sync.Mutex{}
		s.deviceLocks[imei] = l
	}
	return l
}

func (s *Store) ApplyPing(
	ctx context.Context,
	p models.Ping,
	update func(prev models.DeviceState) (models.DeviceState, error),
) (models.DeviceState, error) {
	if err := ctx.Err(); err != nil {
		return models.DeviceState{}, err
	}

	l := s.deviceLock(p.IMEI)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	prev, ok := s.states[p.IMEI]
	s.mu.Unlock()
	if !ok {
		prev = models.DeviceState{IMEI: p.IMEI}
	}
	prev.Params = prev.Params.Clone()

	next, err := update(prev)
	if err != nil {
		return models.DeviceState{}, err
	}
	next.IMEI = p.IMEI
	next.Params = next.Params.Clone()

	s.mu.Lock()
	s.states[p.IMEI] = next
	s.nextID++
	rec := models.HistoryFromPing(p)
	rec.ID = s.nextID
	s.history = append(s.history, rec)
	s.mu.Unlock()

	return next, nil
}

func (s *Store) GetDeviceState(_ context.Context, imei string) (*models.DeviceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[imei]
	if !ok {
		return nil, nil
	}
	st.Params = st.Params.Clone()
	return &st, nil
}

func (s *Store) GetDeviceStates(ctx context.Context, imeis []string) ([]*models.DeviceState, error) {
	sorted := append([]string(nil), imeis...)
	sort.Strings(sorted)

	var out []*models.DeviceState
	for _, imei := range sorted {
		st, _ := s.GetDeviceState(ctx, imei)
		if st != nil {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *Store) ListHistory(_ context.Context, imei string, from, to time.Time, limit int) ([]*models.HistoryRecord, error) {
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}

	s.mu.Lock()
	var out []*models.HistoryRecord
	for _, r := range s.history {
		if r.IMEI != imei || r.DtTracker.Before(from) || !r.DtTracker.Before(to) {
			continue
		}
		r := r
		out = append(out, &r)
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DtTracker.Equal(out[j].DtTracker) {
			return out[i].ID < out[j].ID
		}
		return out[i].DtTracker.Before(out[j].DtTracker)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DeleteHistoryBefore(_ context.Context, cutoff time.Time, batch int) (int64, error) {
	if batch <= 0 {
		batch = 1000
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.history[:0]
	var deleted int64
	for _, r := range s.history {
		if deleted < int64(batch) && r.DtServer.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.history = kept
	return deleted, nil
}

func (s *Store) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

func (s *Store) GetAttendance(_ context.Context, date time.Time, studentID string) (*models.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.attendance[attendanceKey{day: localtime.DayOf(date), studentID: studentID}]
	if !ok {
		return nil, nil
	}
	cp := *rec
	cp.Events = append([]models.TagEvent(nil), rec.Events...)
	return &cp, nil
}

func (s *Store) AppendTagEvent(_ context.Context, date time.Time, studentID string, ev models.TagEvent) (bool, error) {
	day := localtime.DayOf(date)
	key := attendanceKey{day: day, studentID: studentID}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.attendance[key]
	if !ok {
		rec = &models.AttendanceRecord{Date: day, StudentID: studentID}
		s.attendance[key] = rec
	}
	if rec.Has(ev.Tag) {
		return false, nil
	}
	rec.Events = append(rec.Events, ev)
	return true, nil
}

func (s *Store) RecordUnregistered(_ context.Context, u models.UnregisteredDevice) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.unregistered[u.IMEI]
	u.Count = prev.Count + 1
	s.unregistered[u.IMEI] = u
	return u.Count, nil
}

func (s *Store) GetUnregistered(_ context.Context, imei string) (*models.UnregisteredDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.unregistered[imei]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *Store) ListUnregistered(_ context.Context, limit int) ([]*models.UnregisteredDevice, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	s.mu.Lock()
	out := make([]*models.UnregisteredDevice, 0, len(s.unregistered))
	for _, u := range s.unregistered {
		u := u
		out = append(out, &u)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DtServer.After(out[j].DtServer) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func notFound(what, key string) error {
	return errors.Wrapf(directory.ErrNotFound, "%s %q", what, key)
}

func (s *Store) DeviceByIMEI(_ context.Context, imei string) (*models.DeviceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[imei]
	if !ok {
		return nil, notFound("device", imei)
	}
	return &d, nil
}

func (s *Store) StudentByRFID(_ context.Context, rfid string) (*models.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.students {
		if st.RFID != "" && st.RFID == rfid {
			st := st
			return &st, nil
		}
	}
	return nil, notFound("student", rfid)
}

func (s *Store) SchoolByID(_ context.Context, id string) (*models.School, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schools[id]
	if !ok {
		return nil, notFound("school", id)
	}
	return &sc, nil
}

func (s *Store) BusByID(_ context.Context, id string) (*models.Bus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buses[id]
	if !ok {
		return nil, notFound("bus", id)
	}
	b.StopIDs = append([]string(nil), b.StopIDs...)
	return &b, nil
}

func (s *Store) BusStopByID(_ context.Context, id string) (*models.BusStop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stops[id]
	if !ok {
		return nil, notFound("bus stop", id)
	}
	return &st, nil
}

func (s *Store) StopsForBus(_ context.Context, busID string) ([]*models.BusStop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buses[busID]
	if !ok {
		return nil, nil
	}
	var out []*models.BusStop
	for _, id := range b.StopIDs {
		if st, ok := s.stops[id]; ok {
			st := st
			out = append(out, &st)
		}
	}
	return out, nil
}

func (s *Store) UpsertDevice(_ context.Context, d models.DeviceEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.IMEI] = d
	return nil
}

func (s *Store) UpsertStudent(_ context.Context, st models.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students[st.ID] = st
	return nil
}

func (s *Store) UpsertSchool(_ context.Context, sc models.School) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schools[sc.ID] = sc
	return nil
}

func (s *Store) UpsertBus(_ context.Context, b models.Bus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.StopIDs = append([]string(nil), b.StopIDs...)
	s.buses[b.ID] = b
	return nil
}

func (s *Store) UpsertBusStop(_ context.Context, st models.BusStop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops[st.ID] = st
	return nil
}
