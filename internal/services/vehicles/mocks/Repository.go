package mocks

import (
	"context"
	"time"

	"github.com/BearBump/BusTrack/internal/models"
	"github.com/stretchr/testify/mock"
)

// MockRepository is a testify mock of vehicles.Repository.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetDeviceStates(ctx context.Context, imeis []string) ([]*models.DeviceState, error) {
	args := m.Called(ctx, imeis)
	var out []*models.DeviceState
	if v := args.Get(0); v != nil {
		out = v.([]*models.DeviceState)
	}
	return out, args.Error(1)
}

func (m *MockRepository) ListHistory(ctx context.Context, imei string, from, to time.Time, limit int) ([]*models.HistoryRecord, error) {
	args := m.Called(ctx, imei, from, to, limit)
	var out []*models.HistoryRecord
	if v := args.Get(0); v != nil {
		out = v.([]*models.HistoryRecord)
	}
	return out, args.Error(1)
}
