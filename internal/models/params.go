package models

import (
	"sort"
	"strings"
)

// Known sensor codes.
const (
	ParamRFID     = "io78"
	ParamIgnition = "io239"
)

// Params is the raw sensor bag a device reports. Unknown codes are kept as-is.
type Params map[string]string

// RFID returns the tag read carried by the ping, or "".
func (p Params) RFID() string {
	return strings.TrimSpace(p[ParamRFID])
}

// Ignition reports the ignition sensor; ok is false when the code is absent.
func (p Params) Ignition() (on bool, ok bool) {
	v, ok := p[ParamIgnition]
	if !ok {
		return false, false
	}
	return strings.TrimSpace(v) == "1", true
}

// Merge returns a new bag with next applied over p key by key.
func (p Params) Merge(next Params) Params {
	out := make(Params, len(p)+len(next))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range next {
		out[k] = v
	}
	return out
}

// Keys returns the codes in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	return p.Merge(nil)
}
