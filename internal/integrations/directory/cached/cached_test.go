package cached

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/BusTrack/internal/cache/rediscache"
	"github.com/BearBump/BusTrack/internal/geo"
	"github.com/BearBump/BusTrack/internal/integrations/directory"
	"github.com/BearBump/BusTrack/internal/models"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

type countingDir struct {
	calls map[string]int
	err   error
}

func (c *countingDir) hit(name string) { c.calls[name]++ }

func (c *countingDir) DeviceByIMEI(ctx context.Context, imei string) (*models.DeviceEntry, error) {
	c.hit("device")
	if imei != "BUS1" {
		return nil, directory.ErrNotFound
	}
	return &models.DeviceEntry{IMEI: imei, Type: models.DeviceTypeBus, BusID: "b1"}, nil
}
func (c *countingDir) StudentByRFID(ctx context.Context, rfid string) (*models.Student, error) {
	c.hit("student")
	return &models.Student{ID: "s1", RFID: rfid}, c.err
}
func (c *countingDir) SchoolByID(ctx context.Context, id string) (*models.School, error) {
	c.hit("school")
	return &models.School{
		ID:            id,
		Fence:         geo.Fence{Center: geo.Point{Lat: 1, Lng: 2}, RadiusMeters: 100},
		MorningCutoff: 8 * time.Hour,
	}, nil
}
func (c *countingDir) BusByID(ctx context.Context, id string) (*models.Bus, error) {
	c.hit("bus")
	return &models.Bus{ID: id}, nil
}
func (c *countingDir) BusStopByID(ctx context.Context, id string) (*models.BusStop, error) {
	c.hit("stop")
	return &models.BusStop{ID: id}, nil
}
func (c *countingDir) StopsForBus(ctx context.Context, busID string) ([]*models.BusStop, error) {
	c.hit("stops")
	return []*models.BusStop{{ID: "st1"}, {ID: "st2"}}, nil
}

func TestDirectory_ReadThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	next := &countingDir{calls: map[string]int{}}
	d := New(next, rediscache.New(mr.Addr()), time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sc, err := d.SchoolByID(ctx, "sc1")
		require.NoError(t, err)
		require.Equal(t, 8*time.Hour, sc.MorningCutoff)
		require.Equal(t, 100.0, sc.Fence.RadiusMeters)

		stops, err := d.StopsForBus(ctx, "b1")
		require.NoError(t, err)
		require.Len(t, stops, 2)

		dev, err := d.DeviceByIMEI(ctx, "BUS1")
		require.NoError(t, err)
		require.Equal(t, "b1", dev.BusID)
	}
	require.Equal(t, 1, next.calls["school"])
	require.Equal(t, 1, next.calls["stops"])
	require.Equal(t, 1, next.calls["device"])

	mr.FastForward(2 * time.Minute)
	_, err := d.SchoolByID(ctx, "sc1")
	require.NoError(t, err)
	require.Equal(t, 2, next.calls["school"])
}

func TestDirectory_ErrorsNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	next := &countingDir{calls: map[string]int{}}
	d := New(next, rediscache.New(mr.Addr()), time.Minute)
	ctx := context.Background()

	_, err := d.DeviceByIMEI(ctx, "GHOST")
	require.True(t, directory.IsNotFound(err))
	_, err = d.DeviceByIMEI(ctx, "GHOST")
	require.True(t, directory.IsNotFound(err))
	require.Equal(t, 2, next.calls["device"])

	next.err = errors.New("upstream down")
	_, err = d.StudentByRFID(ctx, "A1")
	require.Error(t, err)
}

func TestDirectory_CacheDownFallsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	next := &countingDir{calls: map[string]int{}}
	d := New(next, rediscache.New(mr.Addr()), time.Minute)
	mr.Close()

	bus, err := d.BusByID(context.Background(), "b1")
	require.NoError(t, err)
	require.Equal(t, "b1", bus.ID)
}

func TestNew_Disabled(t *testing.T) {
	next := &countingDir{calls: map[string]int{}}
	require.Same(t, next, New(next, nil, time.Minute))
}
