// Package normalizer turns loosely typed wire pings into canonical models.Ping values.
package normalizer

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/BearBump/BusTrack/internal/broker/messages"
	"github.com/BearBump/BusTrack/internal/localtime"
	"github.com/BearBump/BusTrack/internal/models"
)

// OpLocation is the only operation the pipeline processes.
const OpLocation = "loc"

var imeiRe = regexp.MustCompile(`^[A-Z0-9]+$`)

// Rejection explains why a ping was dropped.
type Rejection struct {
	Field  string
	Reason string
	Value  string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("ping rejected: %s %s (%q)", r.Field, r.Reason, r.Value)
}

// ErrSkipped is returned for pings whose op is not processed here.
type ErrSkipped struct {
	Op string
}

func (e *ErrSkipped) Error() string {
	return fmt.Sprintf("ping skipped: op %q", e.Op)
}

// Normalize validates one raw ping. receivedAt becomes dt_server.
func Normalize(raw messages.RawPing, receivedAt time.Time) (models.Ping, error) {
	imei := strings.ToUpper(raw.IMEI.String())
	if !imeiRe.MatchString(imei) {
		return models.Ping{}, &Rejection{Field: "imei", Reason: "is not alphanumeric", Value: string(raw.IMEI)}
	}

	if op := strings.ToLower(raw.Op.String()); op != OpLocation {
		return models.Ping{}, &ErrSkipped{Op: op}
	}

	lat, err := coordinate(raw.Lat, "lat", 90)
	if err != nil {
		return models.Ping{}, err
	}
	lng, err := coordinate(raw.Lng, "lng", 180)
	if err != nil {
		return models.Ping{}, err
	}

	dtTracker, err := localtime.ParseTracker(raw.DtTracker.String())
	if err != nil {
		return models.Ping{}, &Rejection{Field: "dt_tracker", Reason: "is not YYYY-MM-DD HH:mm:ss", Value: string(raw.DtTracker)}
	}

	var params models.Params
	if len(raw.Params) > 0 {
		params = make(models.Params, len(raw.Params))
		for k, v := range raw.Params {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			params[strings.ToLower(k)] = strings.TrimSpace(v)
		}
	}

	return models.Ping{
		IMEI:        imei,
		Protocol:    strings.ToLower(raw.Protocol.String()),
		NetProtocol: strings.ToLower(raw.NetProtocol.String()),
		IP:          raw.IP.String(),
		Port:        raw.Port.String(),
		Lat:         lat,
		Lng:         lng,
		Altitude:    floorInt(raw.Altitude),
		Angle:       floorInt(raw.Angle),
		Speed:       floorInt(raw.Speed),
		LocValid:    flag(raw.LocValid),
		Params:      params,
		DtServer:    receivedAt.UTC(),
		DtTracker:   dtTracker,
	}, nil
}

func coordinate(v messages.Loose, field string, limit float64) (float64, error) {
	f, ok := v.Float()
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &Rejection{Field: field, Reason: "is not a number", Value: string(v)}
	}
	if math.Abs(f) > limit {
		return 0, &Rejection{Field: field, Reason: "is out of range", Value: string(v)}
	}
	return math.Round(f*1e6) / 1e6, nil
}

// floorInt treats empty or non-numeric input as 0.
func floorInt(v messages.Loose) int {
	f, ok := v.Float()
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int(math.Floor(f))
}

func flag(v messages.Loose) bool {
	switch strings.ToLower(v.String()) {
	case "1", "true":
		return true
	}
	return false
}
