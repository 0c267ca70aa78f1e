package models

import "time"

type DeviceType string

const (
	DeviceTypeBus        DeviceType = "bus"
	DeviceTypeSchoolGate DeviceType = "school_gate"
	DeviceTypeTest       DeviceType = "test"
)

// Derived vehicle statuses.
const (
	VehicleStatusOffline = "OFFLINE"
	VehicleStatusMoving  = "MOVING"
	VehicleStatusIdle    = "IDLE"
	VehicleStatusStopped = "STOPPED"
	VehicleStatusUnknown = "UNKNOWN"
)

// VehicleStatus holds the hysteresis timestamps. A zero time means unset.
type VehicleStatus struct {
	LastStop  time.Time `json:"last_stop"`
	LastIdle  time.Time `json:"last_idle"`
	LastMove  time.Time `json:"last_move"`
	IsStopped bool      `json:"is_stopped"`
	IsIdle    bool      `json:"is_idle"`
	IsMoving  bool      `json:"is_moving"`
}

// DeviceState is the latest accepted telemetry of one tracker.
type DeviceState struct {
	IMEI        string `json:"imei"`
	Protocol    string `json:"protocol"`
	NetProtocol string `json:"net_protocol"`
	IP          string `json:"ip"`
	Port        string `json:"port"`

	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Altitude int     `json:"altitude"`
	Angle    int     `json:"angle"`
	Speed    int     `json:"speed"`
	LocValid bool    `json:"loc_valid"`
	Params   Params  `json:"params"`

	DtServer  time.Time `json:"dt_server"`
	DtTracker time.Time `json:"dt_tracker"`

	VehicleStatus VehicleStatus `json:"vehicle_status"`
}

// DeviceEntry is a row of the device registry.
type DeviceEntry struct {
	IMEI  string     `json:"imei"`
	Type  DeviceType `json:"type"`
	BusID string     `json:"bus_id,omitempty"`
	Name  string     `json:"name,omitempty"`
}

// UnregisteredDevice counts pings from IMEIs missing in the registry.
type UnregisteredDevice struct {
	IMEI        string    `json:"imei"`
	Count       int64     `json:"count"`
	Protocol    string    `json:"protocol"`
	NetProtocol string    `json:"net_protocol"`
	IP          string    `json:"ip"`
	Port        string    `json:"port"`
	DtServer    time.Time `json:"dt_server"`
}
