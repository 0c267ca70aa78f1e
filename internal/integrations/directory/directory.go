// Package directory describes the read-only school registry the pipeline depends on:
// devices, students, schools, buses and bus stops.
package directory

import (
	"context"

	"github.com/BearBump/BusTrack/internal/models"
	"github.com/pkg/errors"
)

// ErrNotFound is returned (possibly wrapped) when a record does not exist.
var ErrNotFound = errors.New("directory: not found")

type Directory interface {
	DeviceByIMEI(ctx context.Context, imei string) (*models.DeviceEntry, error)
	StudentByRFID(ctx context.Context, rfid string) (*models.Student, error)
	SchoolByID(ctx context.Context, id string) (*models.School, error)
	BusByID(ctx context.Context, id string) (*models.Bus, error)
	BusStopByID(ctx context.Context, id string) (*models.BusStop, error)
	StopsForBus(ctx context.Context, busID string) ([]*models.BusStop, error)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
