package messages

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// RawPing is one ping as delivered by the upstream transport.
// Numeric fields may arrive as JSON numbers or strings.
type RawPing struct {
	IMEI        Loose     `json:"imei"`
	Op          Loose     `json:"op"`
	Lat         Loose     `json:"lat"`
	Lng         Loose     `json:"lng"`
	Altitude    Loose     `json:"altitude"`
	Angle       Loose     `json:"angle"`
	Speed       Loose     `json:"speed"`
	LocValid    Loose     `json:"loc_valid"`
	DtTracker   Loose     `json:"dt_tracker"`
	Protocol    Loose     `json:"protocol"`
	NetProtocol Loose     `json:"net_protocol"`
	IP          Loose     `json:"ip"`
	Port        Loose     `json:"port"`
	Params      RawParams `json:"params"`
}

// PingBatch is the envelope accepted by the HTTP endpoint and the pings topic.
type PingBatch struct {
	Pings []RawPing `json:"pings"`
}

// DecodePingBatch accepts either a bare JSON array or {"pings": [...]}.
func DecodePingBatch(b []byte) ([]RawPing, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}
	if trimmed[0] == '[' {
		var out []RawPing
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, errors.Wrap(err, "decode ping array")
		}
		return out, nil
	}
	var batch PingBatch
	if err := json.Unmarshal(trimmed, &batch); err != nil {
		return nil, errors.Wrap(err, "decode ping batch")
	}
	return batch.Pings, nil
}

// Loose is a scalar that tolerates string, number, bool and null encodings.
type Loose string

func (l *Loose) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*l = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = Loose(s)
	case bytes.Equal(b, []byte("true")):
		*l = "1"
	case bytes.Equal(b, []byte("false")):
		*l = "0"
	default:
		// numbers, and nested values kept as their JSON text
		*l = Loose(b)
	}
	return nil
}

func (l Loose) String() string { return strings.TrimSpace(string(l)) }

// RawParams is the sensor bag; devices send it either as an object or as a JSON-encoded string.
type RawParams map[string]string

func (p *RawParams) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*p = nil
		return nil
	}
	if b[0] == '"' {
		var inner string
		if err := json.Unmarshal(b, &inner); err != nil {
			return err
		}
		inner = strings.TrimSpace(inner)
		if inner == "" {
			*p = nil
			return nil
		}
		b = []byte(inner)
	}
	var m map[string]Loose
	if err := json.Unmarshal(b, &m); err != nil {
		return errors.Wrap(err, "params")
	}
	out := make(RawParams, len(m))
	for k, v := range m {
		out[k] = string(v)
	}
	*p = out
	return nil
}

// Float parses the value as a float; ok is false for empty or non-numeric input.
func (l Loose) Float() (float64, bool) {
	s := l.String()
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
