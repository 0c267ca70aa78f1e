package models

import (
	"time"

	"github.com/BearBump/BusTrack/internal/geo"
)

type Student struct {
	ID          string `json:"id"`
	AdmissionNo string `json:"admission_no"`
	Name        string `json:"name"`
	RFID        string `json:"rfid"`
	SchoolID    string `json:"school_id"`
	StopID      string `json:"stop_id"`
	PickBusID   string `json:"pick_bus_id"`
	DropBusID   string `json:"drop_bus_id"`
	ClassID     string `json:"class_id,omitempty"`
	SectionID   string `json:"section_id,omitempty"`
}

// School cutoffs are offsets from local midnight in Timezone.
type School struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Fence           geo.Fence     `json:"fence"`
	MorningCutoff   time.Duration `json:"morning_cutoff"`
	AfternoonCutoff time.Duration `json:"afternoon_cutoff"`
	Timezone        string        `json:"timezone,omitempty"`
}

type BusStop struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Fence geo.Fence `json:"fence"`
}

type Bus struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	StopIDs []string `json:"stop_ids,omitempty"`
}
