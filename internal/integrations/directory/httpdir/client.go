// Package httpdir reads the directory from the school administration REST API.
package httpdir

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/BusTrack/internal/geo"
	"github.com/BearBump/BusTrack/internal/integrations/directory"
	"github.com/BearBump/BusTrack/internal/localtime"
	"github.com/BearBump/BusTrack/internal/models"
	"github.com/pkg/errors"
)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type fenceBody struct {
	Lat     float64     `json:"lat"`
	Lng     float64     `json:"lng"`
	Radius  float64     `json:"radius"`
	Polygon []geo.Point `json:"polygon,omitempty"`
}

func (f fenceBody) fence() geo.Fence {
	return geo.Fence{
		Center:       geo.Point{Lat: f.Lat, Lng: f.Lng},
		RadiusMeters: f.Radius,
		Polygon:      f.Polygon,
	}
}

type schoolBody struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Geofence        fenceBody `json:"geofence"`
	MorningCutoff   string    `json:"morning_cutoff"`
	AfternoonCutoff string    `json:"afternoon_cutoff"`
	Timezone        string    `json:"timezone"`
}

type stopBody struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Geofence fenceBody `json:"geofence"`
}

func (s stopBody) model() *models.BusStop {
	return &models.BusStop{ID: s.ID, Name: s.Name, Fence: s.Geofence.fence()}
}

func (c *Client) DeviceByIMEI(ctx context.Context, imei string) (*models.DeviceEntry, error) {
	var out models.DeviceEntry
	if err := c.get(ctx, "/v1/devices/"+url.PathEscape(imei), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) StudentByRFID(ctx context.Context, rfid string) (*models.Student, error) {
	var out models.Student
	if err := c.get(ctx, "/v1/students", url.Values{"rfid": {rfid}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SchoolByID(ctx context.Context, id string) (*models.School, error) {
	var body schoolBody
	if err := c.get(ctx, "/v1/schools/"+url.PathEscape(id), nil, &body); err != nil {
		return nil, err
	}
	morning, err := localtime.ParseTimeOfDay(body.MorningCutoff)
	if err != nil {
		return nil, errors.Wrap(err, "school morning_cutoff")
	}
	afternoon, err := localtime.ParseTimeOfDay(body.AfternoonCutoff)
	if err != nil {
		return nil, errors.Wrap(err, "school afternoon_cutoff")
	}
	return &models.School{
		ID:              body.ID,
		Name:            body.Name,
		Fence:           body.Geofence.fence(),
		MorningCutoff:   morning,
		AfternoonCutoff: afternoon,
		Timezone:        body.Timezone,
	}, nil
}

func (c *Client) BusByID(ctx context.Context, id string) (*models.Bus, error) {
	var out models.Bus
	if err := c.get(ctx, "/v1/buses/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) BusStopByID(ctx context.Context, id string) (*models.BusStop, error) {
	var body stopBody
	if err := c.get(ctx, "/v1/bus-stops/"+url.PathEscape(id), nil, &body); err != nil {
		return nil, err
	}
	return body.model(), nil
}

func (c *Client) StopsForBus(ctx context.Context, busID string) ([]*models.BusStop, error) {
	var body []stopBody
	if err := c.get(ctx, "/v1/buses/"+url.PathEscape(busID)+"/stops", nil, &body); err != nil {
		return nil, err
	}
	out := make([]*models.BusStop, 0, len(body))
	for _, s := range body {
		out = append(out, s.model())
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, dst any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return errors.Wrap(err, "parse base url")
	}
	u.Path = path
	if q == nil {
		q = url.Values{}
	}
	if c.apiKey != "" {
		q.Set("apiKey", c.apiKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errors.Wrap(directory.ErrNotFound, path)
	}
	if resp.StatusCode/100 != 2 {
		return errors.Errorf("directory http %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return errors.Wrap(err, "decode")
	}
	return nil
}

var _ directory.Directory = (*Client)(nil)
