package httpdir

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/BusTrack/internal/integrations/directory"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/devices/BUS1", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "k", r.URL.Query().Get("apiKey"))
		_, _ = w.Write([]byte(`{"imei":"BUS1","type":"bus","bus_id":"b1"}`))
	})
	mux.HandleFunc("/v1/students", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("rfid") != "A100" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"id":"s1","name":"Asha","rfid":"A100","school_id":"sc1","stop_id":"st1","pick_bus_id":"b1","drop_bus_id":"b1"}`))
	})
	mux.HandleFunc("/v1/schools/sc1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"sc1","name":"Hill School","geofence":{"lat":10.1,"lng":20.1,"radius":100},
			"morning_cutoff":"08:00","afternoon_cutoff":"13:30","timezone":"Asia/Kolkata"}`))
	})
	mux.HandleFunc("/v1/schools/broken", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"broken","morning_cutoff":"soon","afternoon_cutoff":"13:30"}`))
	})
	mux.HandleFunc("/v1/buses/b1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"b1","name":"KA-01-1234","stop_ids":["st1","st2"]}`))
	})
	mux.HandleFunc("/v1/buses/b1/stops", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"st1","name":"Elm Street","geofence":{"lat":10,"lng":20,"radius":50}},
			{"id":"st2","name":"Oak Avenue","geofence":{"lat":10.05,"lng":20.05,"radius":50}}]`))
	})
	mux.HandleFunc("/v1/bus-stops/st1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"st1","name":"Elm Street","geofence":{"lat":10,"lng":20,"radius":50}}`))
	})
	mux.HandleFunc("/v1/buses/down", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Lookups(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL, "k")
	ctx := context.Background()

	dev, err := c.DeviceByIMEI(ctx, "BUS1")
	require.NoError(t, err)
	require.Equal(t, "b1", dev.BusID)

	st, err := c.StudentByRFID(ctx, "A100")
	require.NoError(t, err)
	require.Equal(t, "s1", st.ID)
	require.Equal(t, "st1", st.StopID)

	sc, err := c.SchoolByID(ctx, "sc1")
	require.NoError(t, err)
	require.Equal(t, 8*time.Hour, sc.MorningCutoff)
	require.Equal(t, 13*time.Hour+30*time.Minute, sc.AfternoonCutoff)
	require.Equal(t, 100.0, sc.Fence.RadiusMeters)
	require.Equal(t, "Asia/Kolkata", sc.Timezone)

	bus, err := c.BusByID(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, []string{"st1", "st2"}, bus.StopIDs)

	stop, err := c.BusStopByID(ctx, "st1")
	require.NoError(t, err)
	require.Equal(t, "Elm Street", stop.Name)
	require.Equal(t, 50.0, stop.Fence.RadiusMeters)

	stops, err := c.StopsForBus(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, stops, 2)
	require.Equal(t, "Oak Avenue", stops[1].Name)
}

func TestClient_Errors(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL, "k")
	ctx := context.Background()

	_, err := c.StudentByRFID(ctx, "nobody")
	require.True(t, directory.IsNotFound(err))

	_, err = c.BusByID(ctx, "down")
	require.Error(t, err)
	require.False(t, directory.IsNotFound(err))
	require.Contains(t, err.Error(), "directory http 502")

	_, err = c.SchoolByID(ctx, "broken")
	require.Error(t, err)
}
