package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParams_Accessors(t *testing.T) {
	p := Params{ParamRFID: " R1 ", ParamIgnition: "1"}
	require.Equal(t, "R1", p.RFID())
	on, ok := p.Ignition()
	require.True(t, ok)
	require.True(t, on)

	on, ok = Params{ParamIgnition: "0"}.Ignition()
	require.True(t, ok)
	require.False(t, on)

	_, ok = Params{}.Ignition()
	require.False(t, ok)
	require.Empty(t, Params(nil).RFID())
}

func TestParams_MergeDoesNotAlias(t *testing.T) {
	prev := Params{"io1": "a", "io2": "b"}
	merged := prev.Merge(Params{"io2": "c", "io3": "d"})
	require.Equal(t, Params{"io1": "a", "io2": "c", "io3": "d"}, merged)
	require.Equal(t, "b", prev["io2"])

	c := merged.Clone()
	c["io1"] = "z"
	require.Equal(t, "a", merged["io1"])
	require.Nil(t, Params(nil).Clone())
	require.Equal(t, []string{"io1", "io2", "io3"}, merged.Keys())
}
