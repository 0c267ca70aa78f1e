package localtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseTracker(t *testing.T) {
	got, err := ParseTracker(" 2026-10-16 07:15:00 ")
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 10, 16, 7, 15, 0, 0, time.UTC), got)
	require.Equal(t, time.UTC, got.Location())

	_, err = ParseTracker("16/10/2026 07:15")
	require.Error(t, err)
	_, err = ParseTracker("")
	require.Error(t, err)
}

func TestLoadZone(t *testing.T) {
	loc, err := LoadZone("")
	require.NoError(t, err)
	require.Equal(t, time.UTC, loc)

	loc, err = LoadZone("+05:30")
	require.NoError(t, err)
	_, off := time.Date(2026, 1, 1, 0, 0, 0, 0, loc).Zone()
	require.Equal(t, 5*3600+30*60, off)

	loc, err = LoadZone("UTC-0400")
	require.NoError(t, err)
	_, off = time.Date(2026, 1, 1, 0, 0, 0, 0, loc).Zone()
	require.Equal(t, -4*3600, off)

	_, err = LoadZone("+25:00")
	require.Error(t, err)
	_, err = LoadZone("Nowhere/Atlantis")
	require.Error(t, err)
}

func TestFormat_ExplicitZone(t *testing.T) {
	ts := time.Date(2026, 10, 16, 1, 45, 0, 0, time.UTC)
	ist, err := LoadZone("+05:30")
	require.NoError(t, err)

	require.Equal(t, "16 Oct 2026 07:15 AM", Format(ts, ist))
	require.Equal(t, "16 Oct 2026 01:45 AM", Format(ts, nil))
}

func TestSinceMidnight(t *testing.T) {
	ts := time.Date(2026, 10, 16, 23, 10, 5, 0, time.UTC)
	require.Equal(t, 23*time.Hour+10*time.Minute+5*time.Second, SinceMidnight(ts, nil))

	ist, _ := LoadZone("+05:30")
	require.Equal(t, 4*time.Hour+40*time.Minute+5*time.Second, SinceMidnight(ts, ist))
}

func TestParseTimeOfDay(t *testing.T) {
	d, err := ParseTimeOfDay("08:00")
	require.NoError(t, err)
	require.Equal(t, 8*time.Hour, d)

	d, err = ParseTimeOfDay("13:30:15")
	require.NoError(t, err)
	require.Equal(t, 13*time.Hour+30*time.Minute+15*time.Second, d)

	_, err = ParseTimeOfDay("8am")
	require.Error(t, err)
}

func TestDayOf(t *testing.T) {
	loc := time.FixedZone("x", 5*3600)
	ts := time.Date(2026, 10, 17, 2, 0, 0, 0, loc) // 21:00 UTC on the 16th
	require.Equal(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), DayOf(ts))
}

func TestDayIn(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	late := time.Date(2024, 3, 4, 23, 45, 0, 0, time.UTC)
	early := time.Date(2024, 3, 5, 1, 45, 0, 0, time.UTC)

	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	require.Equal(t, want, DayIn(late, ist))
	require.Equal(t, want, DayIn(early, ist))
	require.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), DayIn(late, nil))
}
