package messages

import "time"

// AttendanceMarked is published after a tag event is written for the first time.
type AttendanceMarked struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	Date      string    `json:"date"`
	BusID     string    `json:"bus_id"`
	Tag       string    `json:"tag"`
	Message   string    `json:"message"`
	EventTime time.Time `json:"event_time"`
	CreatedAt time.Time `json:"created_at"`
}
