package vehicles

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	cachemocks "github.com/BearBump/BusTrack/internal/cache/mocks"
	"github.com/BearBump/BusTrack/internal/cache/rediscache"
	"github.com/BearBump/BusTrack/internal/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	vehiclesmocks "github.com/BearBump/BusTrack/internal/services/vehicles/mocks"
)

type ServiceSuite struct {
	suite.Suite

	repo  *vehiclesmocks.MockRepository
	cache *cachemocks.MockBytesCache
	svc   *Service
	now   time.Time
}

func (s *ServiceSuite) SetupTest() {
	s.repo = &vehiclesmocks.MockRepository{}
	s.cache = &cachemocks.MockBytesCache{}
	s.now = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	s.svc = New(s.repo, s.cache, 10*time.Minute).
		WithSettings(5 * time.Minute).
		WithClock(func() time.Time { return s.now })
}

func (s *ServiceSuite) movingState(imei string, age time.Duration) *models.DeviceState {
	at := s.now.Add(-age)
	return &models.DeviceState{
		IMEI: imei, Lat: 10, Lng: 20, Speed: 30, LocValid: true,
		DtServer: at, DtTracker: at,
		VehicleStatus: models.VehicleStatus{LastMove: at, IsMoving: true},
	}
}

func (s *ServiceSuite) TestGetVehicles_CacheHit_NoDB() {
	b, _ := json.Marshal(s.movingState("A1", time.Minute))
	s.cache.On("Get", mock.Anything, "device:A1:current").Return(b, true, nil).Once()

	out, err := s.svc.GetVehicles(context.Background(), []string{"A1"})
	s.Require().NoError(err)
	s.Require().Len(out, 1)
	s.Require().Equal("A1", out[0].IMEI)
	s.Require().Equal(models.VehicleStatusMoving, out[0].Status)

	s.repo.AssertNotCalled(s.T(), "GetDeviceStates", mock.Anything, mock.Anything)
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestRemember_RedisKeepsNewestState() {
	ctx := context.Background()
	mr := miniredis.RunT(s.T())
	rc := rediscache.New(mr.Addr())
	s.T().Cleanup(func() { _ = rc.Close() })
	svc := New(s.repo, rc, 10*time.Minute).WithClock(func() time.Time { return s.now })

	newer := s.movingState("A1", time.Minute)
	newer.Lat = 1.5
	older := s.movingState("A1", 5*time.Minute)
	older.Lat = 1.1

	svc.Remember(ctx, *newer)
	svc.Remember(ctx, *older)

	// a stale ping keeps the tracker time but moves the server time forward
	bumped := *newer
	bumped.DtServer = s.now
	svc.Remember(ctx, bumped)

	out, err := svc.GetVehicles(ctx, []string{"A1"})
	s.Require().NoError(err)
	s.Require().Len(out, 1)
	s.Require().Equal(1.5, out[0].Lat)
	s.Require().Equal(s.now, out[0].DtServer.UTC())
	s.repo.AssertNotCalled(s.T(), "GetDeviceStates", mock.Anything, mock.Anything)

	// a slow back-fill with an older row does not replace what ingestion cached
	mr.Del("device:A2:current")
	s.repo.On("GetDeviceStates", mock.Anything, []string{"A2"}).
		Run(func(mock.Arguments) {
			st := s.movingState("A2", time.Minute)
			st.Lat = 2.5
			svc.Remember(ctx, *st)
		}).
		Return([]*models.DeviceState{s.movingState("A2", 5*time.Minute)}, nil).Once()
	_, err = svc.GetVehicles(ctx, []string{"A2"})
	s.Require().NoError(err)

	out, err = svc.GetVehicles(ctx, []string{"A2"})
	s.Require().NoError(err)
	s.Require().Len(out, 1)
	s.Require().Equal(2.5, out[0].Lat)
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestGetVehicles_EmptyIMEIs() {
	out, err := s.svc.GetVehicles(context.Background(), nil)
	s.Require().NoError(err)
	s.Require().Len(out, 0)
	s.repo.AssertNotCalled(s.T(), "GetDeviceStates", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestGetVehicles_TooMany() {
	_, err := s.svc.GetVehicles(context.Background(), make([]string, 1001))
	s.Require().Error(err)
}

func (s *ServiceSuite) TestGetVehicles_CacheDisabled_GoesToDB() {
	svc := New(s.repo, nil, 0).WithClock(func() time.Time { return s.now })
	s.repo.On("GetDeviceStates", mock.Anything, []string{"A1", "A2"}).
		Return([]*models.DeviceState{s.movingState("A1", time.Minute), s.movingState("A2", time.Hour)}, nil).
		Once()

	out, err := svc.GetVehicles(context.Background(), []string{"A1", "A2"})
	s.Require().NoError(err)
	s.Require().Len(out, 2)
	s.Require().Equal(models.VehicleStatusMoving, out[0].Status)
	s.Require().Equal(models.VehicleStatusOffline, out[1].Status)
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestGetVehicles_CacheMiss_SetErrorsIgnored_OrderPreserved() {
	s.cache.On("Get", mock.Anything, "device:B:current").Return([]byte(nil), false, nil).Once()
	s.cache.On("Get", mock.Anything, "device:A:current").Return([]byte(nil), false, errors.New("redis down")).Once()

	s.repo.On("GetDeviceStates", mock.Anything, []string{"B", "A"}).
		Return([]*models.DeviceState{s.movingState("A", 0), s.movingState("B", 0)}, nil).
		Once()
	s.cache.On("Set", mock.Anything, "device:A:current", mock.Anything, 10*time.Minute).Return(errors.New("set failed")).Once()
	s.cache.On("Set", mock.Anything, "device:B:current", mock.Anything, 10*time.Minute).Return(errors.New("set failed")).Once()

	out, err := s.svc.GetVehicles(context.Background(), []string{"B", "A"})
	s.Require().NoError(err)
	s.Require().Len(out, 2)
	s.Require().Equal("B", out[0].IMEI)
	s.Require().Equal("A", out[1].IMEI)
	s.repo.AssertExpectations(s.T())
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestGetVehicles_BadCachedJSON_IsMiss() {
	s.cache.On("Get", mock.Anything, "device:A:current").Return([]byte("not-json"), true, nil).Once()
	s.repo.On("GetDeviceStates", mock.Anything, []string{"A"}).Return(nil, nil).Once()

	out, err := s.svc.GetVehicles(context.Background(), []string{"A"})
	s.Require().NoError(err)
	s.Require().Empty(out)
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestGetVehicles_DBError() {
	s.cache.On("Get", mock.Anything, "device:A:current").Return([]byte(nil), false, nil).Once()
	s.repo.On("GetDeviceStates", mock.Anything, []string{"A"}).Return(nil, errors.New("db down")).Once()

	_, err := s.svc.GetVehicles(context.Background(), []string{"A"})
	s.Require().Error(err)
}

func (s *ServiceSuite) TestRemember_WritesCurrentKey() {
	s.cache.On("Set", mock.Anything, "device:A:current", mock.MatchedBy(func(b []byte) bool {
		var st models.DeviceState
		return json.Unmarshal(b, &st) == nil && st.Speed == 30
	}), 10*time.Minute).Return(nil).Once()

	s.svc.Remember(context.Background(), *s.movingState("A", 0))
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestHistory() {
	from := s.now.Add(-time.Hour)
	s.repo.On("ListHistory", mock.Anything, "A", from, s.now, 50).
		Return([]*models.HistoryRecord{{ID: 1, IMEI: "A"}}, nil).
		Once()

	out, err := s.svc.History(context.Background(), "A", from, time.Time{}, 50)
	s.Require().NoError(err)
	s.Require().Len(out, 1)

	_, err = s.svc.History(context.Background(), "", from, s.now, 50)
	s.Require().Error(err)
	_, err = s.svc.History(context.Background(), "A", s.now, from, 50)
	s.Require().Error(err)
	s.repo.AssertExpectations(s.T())
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
