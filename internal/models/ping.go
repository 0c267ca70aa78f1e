package models

import "time"

// Ping is a normalized telemetry sample.
type Ping struct {
	IMEI        string
	Protocol    string
	NetProtocol string
	IP          string
	Port        string

	Lat      float64
	Lng      float64
	Altitude int
	Angle    int
	Speed    int
	LocValid bool
	Params   Params

	DtServer  time.Time
	DtTracker time.Time
}

// HistoryRecord is an immutable snapshot of one accepted ping.
type HistoryRecord struct {
	ID        uint64    `json:"id"`
	IMEI      string    `json:"imei"`
	DtServer  time.Time `json:"dt_server"`
	DtTracker time.Time `json:"dt_tracker"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Altitude  int       `json:"altitude"`
	Angle     int       `json:"angle"`
	Speed     int       `json:"speed"`
	Params    Params    `json:"params"`
}

func HistoryFromPing(p Ping) HistoryRecord {
	return HistoryRecord{
		IMEI:      p.IMEI,
		DtServer:  p.DtServer,
		DtTracker: p.DtTracker,
		Lat:       p.Lat,
		Lng:       p.Lng,
		Altitude:  p.Altitude,
		Angle:     p.Angle,
		Speed:     p.Speed,
		Params:    p.Params.Clone(),
	}
}
