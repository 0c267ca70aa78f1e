// Package devicestate merges pings into the stored device state and classifies vehicle motion.
package devicestate

import (
	"time"

	"github.com/BearBump/BusTrack/internal/models"
)

// Apply merges p into prev. fresh is false when p is older than the stored tracker time;
// in that case only the connection bookkeeping moves forward.
func Apply(prev models.DeviceState, p models.Ping) (next models.DeviceState, fresh bool) {
	next = prev
	next.IMEI = p.IMEI
	next.Protocol = p.Protocol
	next.NetProtocol = p.NetProtocol
	next.IP = p.IP
	next.Port = p.Port
	next.DtServer = p.DtServer

	if p.DtTracker.Before(prev.DtTracker) {
		next.Params = prev.Params.Clone()
		return next, false
	}

	next.Lat = p.Lat
	next.Lng = p.Lng
	next.Altitude = p.Altitude
	next.Angle = p.Angle
	next.Speed = p.Speed
	next.LocValid = p.LocValid
	next.DtTracker = p.DtTracker
	next.Params = prev.Params.Merge(p.Params)
	next.VehicleStatus = Classify(prev.VehicleStatus, p)
	return next, true
}

// Classify runs the stop/move/idle transitions for a ping that is not older than the state.
func Classify(st models.VehicleStatus, p models.Ping) models.VehicleStatus {
	at := p.DtServer

	if p.Speed == 0 && (st.LastStop.IsZero() || st.LastStop.Before(st.LastMove)) {
		st.LastStop = at
	}
	if p.LocValid && p.Speed > 0 && !st.LastMove.After(st.LastStop) {
		st.LastMove = at
	}

	if st.LastMove.After(st.LastStop) {
		st.LastIdle = time.Time{}
	} else if on, ok := p.Params.Ignition(); ok {
		switch {
		case on && st.LastIdle.IsZero():
			st.LastIdle = at
		case !on && !st.LastIdle.IsZero():
			st.LastIdle = time.Time{}
		}
	}

	st.IsMoving = st.LastMove.After(st.LastStop)
	st.IsStopped = !st.LastStop.IsZero() && !st.IsMoving
	st.IsIdle = st.IsStopped && !st.LastIdle.IsZero()
	return st
}

// Derive returns the read-time status. Offline wins over the stored flags.
func Derive(st models.DeviceState, now time.Time, connectionTimeout time.Duration) string {
	if st.DtTracker.IsZero() || now.Sub(st.DtTracker) > connectionTimeout {
		return models.VehicleStatusOffline
	}
	vs := st.VehicleStatus
	switch {
	case vs.IsMoving:
		return models.VehicleStatusMoving
	case vs.IsIdle:
		return models.VehicleStatusIdle
	case vs.IsStopped:
		return models.VehicleStatusStopped
	default:
		return models.VehicleStatusUnknown
	}
}
