// Package bus_api exposes ping ingestion and the read models over HTTP.
package bus_api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/BusTrack/internal/broker/messages"
	"github.com/BearBump/BusTrack/internal/models"
	"github.com/BearBump/BusTrack/internal/services/ingest"
	"github.com/BearBump/BusTrack/internal/services/vehicles"
	"github.com/go-chi/chi/v5"
)

const (
	maxBodyBytes   = 10 << 20
	maxVehicleIDs  = 1000
	defaultHistory = 24 * time.Hour
)

type Ingestor interface {
	ProcessBatch(ctx context.Context, batch messages.PingBatch) (ingest.Result, error)
}

type Vehicles interface {
	GetVehicles(ctx context.Context, imeis []string) ([]*vehicles.Vehicle, error)
	History(ctx context.Context, imei string, from, to time.Time, limit int) ([]*models.HistoryRecord, error)
}

type AttendanceReader interface {
	GetAttendance(ctx context.Context, date time.Time, studentID string) (*models.AttendanceRecord, error)
}

type UnregisteredReader interface {
	GetUnregistered(ctx context.Context, imei string) (*models.UnregisteredDevice, error)
	ListUnregistered(ctx context.Context, limit int) ([]*models.UnregisteredDevice, error)
}

type BusAPI struct {
	ingest       Ingestor
	vehicles     Vehicles
	attendance   AttendanceReader
	unregistered UnregisteredReader
	now          func() time.Time
}

func New(in Ingestor, v Vehicles, att AttendanceReader, unreg UnregisteredReader) *BusAPI {
	return &BusAPI{ingest: in, vehicles: v, attendance: att, unregistered: unreg, now: time.Now}
}

// Routes mounts the API on r.
func (a *BusAPI) Routes(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/pings", a.postPings)
		r.Get("/vehicles", a.getVehicles)
		r.Get("/vehicles/{imei}/history", a.getHistory)
		r.Get("/attendance/{studentID}", a.getAttendance)
		r.Get("/unregistered", a.listUnregistered)
		r.Get("/unregistered/{imei}", a.getUnregistered)
	})
}

func (a *BusAPI) Handler() http.Handler {
	r := chi.NewRouter()
	a.Routes(r)
	return r
}

func (a *BusAPI) postPings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "read body: "+err.Error())
		return
	}
	pings, err := messages.DecodePingBatch(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.ingest.ProcessBatch(r.Context(), messages.PingBatch{Pings: pings})
	if err != nil {
		slog.Error("ingest batch", "pings", len(pings), "error", err.Error())
		writeError(w, http.StatusServiceUnavailable, "storage unavailable, retry the batch")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *BusAPI) getVehicles(w http.ResponseWriter, r *http.Request) {
	var imeis []string
	seen := map[string]struct{}{}
	for _, v := range r.URL.Query()["imei"] {
		for _, imei := range strings.Split(v, ",") {
			imei = strings.ToUpper(strings.TrimSpace(imei))
			if imei == "" {
				continue
			}
			if _, ok := seen[imei]; ok {
				continue
			}
			seen[imei] = struct{}{}
			imeis = append(imeis, imei)
		}
	}
	if len(imeis) == 0 {
		writeError(w, http.StatusBadRequest, "imei is required")
		return
	}
	if len(imeis) > maxVehicleIDs {
		writeError(w, http.StatusBadRequest, "too many imeis")
		return
	}

	out, err := a.vehicles.GetVehicles(r.Context(), imeis)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vehicles": out})
}

func (a *BusAPI) getHistory(w http.ResponseWriter, r *http.Request) {
	imei := strings.ToUpper(chi.URLParam(r, "imei"))
	q := r.URL.Query()

	to := a.now().UTC()
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be RFC3339")
			return
		}
		to = t
	}
	from := to.Add(-defaultHistory)
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be RFC3339")
			return
		}
		from = t
	}
	if !from.Before(to) {
		writeError(w, http.StatusBadRequest, "from must be before to")
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	out, err := a.vehicles.History(r.Context(), imei, from, to, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if out == nil {
		out = []*models.HistoryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"imei": imei, "history": out})
}

func (a *BusAPI) getAttendance(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentID")
	date := a.now().UTC()
	if v := r.URL.Query().Get("date"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = t
	}

	rec, err := a.attendance.GetAttendance(r.Context(), date, studentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "no attendance for that day")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *BusAPI) listUnregistered(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := a.unregistered.ListUnregistered(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if out == nil {
		out = []*models.UnregisteredDevice{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out})
}

func (a *BusAPI) getUnregistered(w http.ResponseWriter, r *http.Request) {
	imei := strings.ToUpper(chi.URLParam(r, "imei"))
	u, err := a.unregistered.GetUnregistered(r.Context(), imei)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, "device not seen")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
