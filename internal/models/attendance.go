package models

import "time"

type Tag string

const (
	TagMorningEntry   Tag = "MORNING_ENTRY"
	TagMorningExit    Tag = "MORNING_EXIT"
	TagAfternoonEntry Tag = "AFTERNOON_ENTRY"
	TagAfternoonExit  Tag = "AFTERNOON_EXIT"
)

// UnknownLocation names events captured outside every known fence.
const UnknownLocation = "unknown location"

type TagEvent struct {
	Tag           Tag       `json:"tag"`
	Time          time.Time `json:"time"`
	Lat           float64   `json:"lat"`
	Lng           float64   `json:"lng"`
	Location      string    `json:"location"`
	Message       string    `json:"message"`
	BusID         string    `json:"bus_id"`
	AssignedBusID string    `json:"assigned_bus_id,omitempty"`
	StopID        string    `json:"stop_id,omitempty"`
}

// AttendanceRecord is one student's day. Events never repeat a tag.
type AttendanceRecord struct {
	Date      time.Time  `json:"date"`
	StudentID string     `json:"student_id"`
	Events    []TagEvent `json:"events"`
}

func (r *AttendanceRecord) Has(tag Tag) bool {
	if r == nil {
		return false
	}
	for _, e := range r.Events {
		if e.Tag == tag {
			return true
		}
	}
	return false
}
