// Package attendance turns RFID reads into per-student daily tag events.
package attendance

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BearBump/BusTrack/internal/broker/messages"
	"github.com/BearBump/BusTrack/internal/integrations/directory"
	"github.com/BearBump/BusTrack/internal/localtime"
	"github.com/BearBump/BusTrack/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Repository interface {
	AppendTagEvent(ctx context.Context, date time.Time, studentID string, ev models.TagEvent) (bool, error)
}

type Directory interface {
	StudentByRFID(ctx context.Context, rfid string) (*models.Student, error)
	SchoolByID(ctx context.Context, id string) (*models.School, error)
	BusByID(ctx context.Context, id string) (*models.Bus, error)
	BusStopByID(ctx context.Context, id string) (*models.BusStop, error)
	StopsForBus(ctx context.Context, busID string) ([]*models.BusStop, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Read is one RFID read reported by a bus tracker.
type Read struct {
	RFID      string
	IMEI      string
	BusID     string
	Lat       float64
	Lng       float64
	DtTracker time.Time
}

type Window int

const (
	WindowNone Window = iota
	WindowMorning
	WindowAfternoon
)

func (w Window) String() string {
	switch w {
	case WindowMorning:
		return "morning"
	case WindowAfternoon:
		return "afternoon"
	default:
		return "none"
	}
}

// Outcome describes what a read produced. Tag is empty when no event was attempted.
type Outcome struct {
	Tag     models.Tag
	Written bool
	Event   *models.TagEvent
}

type Stats struct {
	Written       int64 `json:"written"`
	Duplicates    int64 `json:"duplicates"`
	OutOfWindow   int64 `json:"out_of_window"`
	Abandoned     int64 `json:"abandoned"`
	Published     int64 `json:"published"`
	PublishErrors int64 `json:"publish_errors"`
}

type Service struct {
	repo     Repository
	dir      Directory
	producer Producer
	topic    string

	displayLoc *time.Location
	now        func() time.Time

	written       atomic.Int64
	duplicates    atomic.Int64
	outOfWindow   atomic.Int64
	abandoned     atomic.Int64
	published     atomic.Int64
	publishErrors atomic.Int64
}

// New builds the service. producer may be nil, then nothing is published.
func New(repo Repository, dir Directory, producer Producer, topic string) *Service {
	return &Service{
		repo:       repo,
		dir:        dir,
		producer:   producer,
		topic:      topic,
		displayLoc: time.UTC,
		now:        time.Now,
	}
}

// WithSettings sets the zone used for times in notification messages.
func (s *Service) WithSettings(displayLoc *time.Location) *Service {
	if displayLoc != nil {
		s.displayLoc = displayLoc
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
	return Stats{
		Written:       s.written.Load(),
		Duplicates:    s.duplicates.Load(),
		OutOfWindow:   s.outOfWindow.Load(),
		Abandoned:     s.abandoned.Load(),
		Published:     s.published.Load(),
		PublishErrors: s.publishErrors.Load(),
	}
}

func schoolZone(school *models.School) *time.Location {
	loc, err := localtime.LoadZone(school.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WindowFor classifies the tracker time against the school's cutoffs, evaluated in the school zone.
func WindowFor(school *models.School, at time.Time) Window {
	loc := schoolZone(school)
	tod := localtime.SinceMidnight(at, loc)
	switch {
	case tod <= school.MorningCutoff:
		return WindowMorning
	case tod >= school.AfternoonCutoff:
		return WindowAfternoon
	default:
		return WindowNone
	}
}

// DayFor keys attendance by the date of at in the school zone.
func DayFor(school *models.School, at time.Time) time.Time {
	return localtime.DayIn(at, schoolZone(school))
}

// Process evaluates one RFID read. Missing directory records abandon the read
// with a warning; only storage and directory transport errors are returned.
func (s *Service) Process(ctx context.Context, r Read) (Outcome, error) {
	r.RFID = strings.TrimSpace(r.RFID)
	if r.RFID == "" {
		return Outcome{}, nil
	}

	student, err := s.dir.StudentByRFID(ctx, r.RFID)
	if err != nil {
		return s.abandon(r, "student", err)
	}
	school, err := s.dir.SchoolByID(ctx, student.SchoolID)
	if err != nil {
		return s.abandon(r, "school", err)
	}
	if r.BusID == "" {
		return s.abandon(r, "bus", directory.ErrNotFound)
	}
	bus, err := s.dir.BusByID(ctx, r.BusID)
	if err != nil {
		return s.abandon(r, "bus", err)
	}

	window := WindowFor(school, r.DtTracker)
	if window == WindowNone {
		s.outOfWindow.Add(1)
		slog.Debug("rfid read outside attendance windows",
			"rfid", r.RFID, "imei", r.IMEI, "student_id", student.ID, "dt_tracker", r.DtTracker)
		return Outcome{}, nil
	}

	assignedBusID := student.PickBusID
	if window == WindowAfternoon {
		assignedBusID = student.DropBusID
	}

	pl := placement{}
	if school.Fence.Contains(r.Lat, r.Lng) {
		pl.atSchool = true
		pl.location = school.Name
	} else {
		stop, err := s.matchStop(ctx, student, bus, r)
		if err != nil {
			return Outcome{}, err
		}
		if stop != nil {
			pl.stop = stop
			pl.location = stop.Name
		} else {
			pl.location = models.UnknownLocation
		}
	}

	tag := tagFor(window, pl.atSchool)
	ev := models.TagEvent{
		Tag:      tag,
		Time:     r.DtTracker.UTC(),
		Lat:      r.Lat,
		Lng:      r.Lng,
		Location: pl.location,
		BusID:    bus.ID,
	}
	if pl.stop != nil {
		ev.StopID = pl.stop.ID
	}
	if assignedBusID != "" && assignedBusID != bus.ID {
		ev.AssignedBusID = assignedBusID
	}

	var assignedStop *models.BusStop
	if !pl.atSchool && student.StopID != "" && ev.StopID != student.StopID {
		assignedStop, _ = s.dir.BusStopByID(ctx, student.StopID)
	}
	ev.Message = s.message(student, bus, ev, assignedStop)

	day := DayFor(school, r.DtTracker)
	written, err := s.repo.AppendTagEvent(ctx, day, student.ID, ev)
	if err != nil {
		return Outcome{}, errors.Wrap(err, "append tag event")
	}
	if !written {
		s.duplicates.Add(1)
		slog.Debug("tag already recorded", "student_id", student.ID, "tag", string(tag), "date", day.Format(time.DateOnly))
		return Outcome{Tag: tag, Event: &ev}, nil
	}

	s.written.Add(1)
	slog.Info("attendance marked",
		"student_id", student.ID, "tag", string(tag), "bus_id", bus.ID,
		"location", ev.Location, "alternate_bus", ev.AssignedBusID != "")
	s.notify(ctx, student.ID, day, ev)

	return Outcome{Tag: tag, Written: true, Event: &ev}, nil
}

type placement struct {
	atSchool bool
	stop     *models.BusStop
	location string
}

func tagFor(w Window, atSchool bool) models.Tag {
	switch {
	case w == WindowMorning && atSchool:
		return models.TagMorningExit
	case w == WindowMorning:
		return models.TagMorningEntry
	case atSchool:
		return models.TagAfternoonEntry
	default:
		return models.TagAfternoonExit
	}
}

// matchStop checks the student's own stop first, then every stop the bus serves.
func (s *Service) matchStop(ctx context.Context, student *models.Student, bus *models.Bus, r Read) (*models.BusStop, error) {
	if student.StopID != "" {
		stop, err := s.dir.BusStopByID(ctx, student.StopID)
		switch {
		case err == nil:
			if stop.Fence.Contains(r.Lat, r.Lng) {
				return stop, nil
			}
		case directory.IsNotFound(err):
			slog.Warn("student stop not found", "student_id", student.ID, "stop_id", student.StopID)
		default:
			return nil, errors.Wrap(err, "load student stop")
		}
	}

	stops, err := s.dir.StopsForBus(ctx, bus.ID)
	if err != nil && !directory.IsNotFound(err) {
		return nil, errors.Wrap(err, "load bus stops")
	}
	for _, stop := range stops {
		if stop.Fence.Contains(r.Lat, r.Lng) {
			return stop, nil
		}
	}
	return nil, nil
}

func (s *Service) abandon(r Read, what string, err error) (Outcome, error) {
	if !directory.IsNotFound(err) {
		return Outcome{}, errors.Wrapf(err, "resolve %s", what)
	}
	s.abandoned.Add(1)
	slog.Warn("attendance abandoned: "+what+" not found",
		"rfid", r.RFID, "imei", r.IMEI, "bus_id", r.BusID, "dt_tracker", r.DtTracker)
	return Outcome{}, nil
}

func (s *Service) notify(ctx context.Context, studentID string, day time.Time, ev models.TagEvent) {
	if s.producer == nil || s.topic == "" {
		return
	}

	msg := messages.AttendanceMarked{
		ID:        uuid.NewString(),
		StudentID: studentID,
		Date:      day.Format(time.DateOnly),
		BusID:     ev.BusID,
		Tag:       string(ev.Tag),
		Message:   ev.Message,
		EventTime: ev.Time,
		CreatedAt: s.now().UTC(),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		s.publishErrors.Add(1)
		slog.Error("marshal attendance notification", "error", err.Error())
		return
	}
	if err := s.producer.Publish(ctx, s.topic, []byte(studentID), b); err != nil {
		s.publishErrors.Add(1)
		slog.Error("publish attendance notification", "student_id", studentID, "tag", msg.Tag, "error", err.Error())
		return
	}
	s.published.Add(1)
}
