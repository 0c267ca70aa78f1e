package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/BusTrack/config"
	"github.com/BearBump/BusTrack/internal/services/retention"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	calls atomic.Int32
}

func (r *fakeRepo) DeleteHistoryBefore(ctx context.Context, cutoff time.Time, batch int) (int64, error) {
	r.calls.Add(1)
	return 0, nil
}

func factoriesFor(repo retention.Repository, closed *bool) workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (retention.Repository, func(), error) {
			return repo, func() { *closed = true }, nil
		},
	}
}

func TestRunBusWorker_ContextCanceled(t *testing.T) {
	calledClose := false
	cfg := &config.Config{BusTrack: config.BusTrackConfig{HistoryRetentionDays: 90}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunBusWorker(ctx, cfg, factoriesFor(&fakeRepo{}, &calledClose), workerOpts{})
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, calledClose)
}

func TestRunBusWorker_StorageError(t *testing.T) {
	f := workerFactories{
		newStorage: func(cfg *config.Config) (retention.Repository, func(), error) {
			return nil, nil, errors.New("db down")
		},
	}
	err := RunBusWorker(context.Background(), &config.Config{}, f, workerOpts{})
	require.EqualError(t, err, "db down")
}

func TestRunBusWorker_TriggerOverHTTP(t *testing.T) {
	repo := &fakeRepo{}
	calledClose := false
	cfg := &config.Config{BusTrack: config.BusTrackConfig{
		HistoryRetentionDays:       45,
		WorkerSweepIntervalSeconds: 3600,
		WorkerHTTPAddr:             "127.0.0.1:0",
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- RunBusWorker(ctx, cfg, factoriesFor(repo, &calledClose), workerOpts{
			onListen: func(addr string) { addrCh <- addr },
		})
	}()
	addr := <-addrCh

	require.Eventually(t, func() bool {
		resp, err := http.Post("http://"+addr+"/trigger", "application/json", nil)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool { return repo.calls.Load() > 0 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + addr + "/stats")
	require.NoError(t, err)
	var st retention.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	require.True(t, st.Enabled)
	require.Equal(t, 45, st.RetentionDays)
	require.NotNil(t, st.LastTriggerAt)

	cancel()
	select {
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting worker to stop")
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	}
	require.True(t, calledClose)
}

func TestWorkerRouter(t *testing.T) {
	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	cfg := &config.Config{BusTrack: config.BusTrackConfig{HistoryRetentionDays: 7, WorkerSweepBatchSize: 100}}
	disabled := newSweeper(cfg, &fakeRepo{})
	srv := httptest.NewServer(workerRouter(workerHTTPOpts{swaggerPath: sw, sweeper: disabled, cfg: cfg}))
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz", "/swagger.json"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err := http.Get(srv.URL + "/config")
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	require.EqualValues(t, 7, out["historyRetentionDays"])
	require.EqualValues(t, retention.MinDays, out["minRetentionDays"])
	require.EqualValues(t, 100, out["sweepBatchSize"])
	require.NotContains(t, out, "password")

	resp, err = http.Post(srv.URL+"/trigger", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRunWorkerHTTPServer_MissingSwagger(t *testing.T) {
	err := runWorkerHTTPServer(context.Background(), workerHTTPOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: filepath.Join(t.TempDir(), "nope.json"),
	})
	require.Error(t, err)
}
