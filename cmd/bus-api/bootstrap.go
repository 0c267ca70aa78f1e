package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/BusTrack/config"
	busapi "github.com/BearBump/BusTrack/internal/api/bus_api"
	"github.com/BearBump/BusTrack/internal/broker/kafka"
	"github.com/BearBump/BusTrack/internal/cache"
	"github.com/BearBump/BusTrack/internal/cache/rediscache"
	"github.com/BearBump/BusTrack/internal/integrations/directory"
	"github.com/BearBump/BusTrack/internal/integrations/directory/cached"
	"github.com/BearBump/BusTrack/internal/integrations/directory/httpdir"
	"github.com/BearBump/BusTrack/internal/localtime"
	"github.com/BearBump/BusTrack/internal/services/attendance"
	"github.com/BearBump/BusTrack/internal/services/ingest"
	"github.com/BearBump/BusTrack/internal/services/vehicles"
	"github.com/BearBump/BusTrack/internal/storage/memstore"
	"github.com/BearBump/BusTrack/internal/storage/pgbus"
)

// busStore is what both storage backends provide.
type busStore interface {
	directory.Directory
	ingest.DeviceStore
	vehicles.Repository
	attendance.Repository
	busapi.AttendanceReader
	busapi.UnregisteredReader
}

type busDeps struct {
	store    busStore
	cache    cache.BytesCache
	limiter  ingest.RateLimiter
	producer attendance.Producer
}

type busServices struct {
	api        *busapi.BusAPI
	ingest     *ingest.Service
	vehicles   *vehicles.Service
	attendance *attendance.Service
}

func wireServices(cfg *config.Config, deps busDeps) (*busServices, error) {
	topic := cfg.Kafka.NotificationsTopicName
	if topic == "" {
		topic = "attendance.marked"
	}
	cacheTTL := time.Duration(cfg.BusTrack.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	connTimeout := time.Duration(cfg.BusTrack.ConnectionTimeoutSeconds) * time.Second
	logWindow := time.Duration(cfg.BusTrack.UnregisteredLogWindowSeconds) * time.Second

	displayLoc, err := localtime.LoadZone(cfg.BusTrack.DisplayTimezone)
	if err != nil {
		return nil, fmt.Errorf("display timezone: %w", err)
	}

	dir, err := newDirectory(cfg, deps.store, deps.cache)
	if err != nil {
		return nil, err
	}

	veh := vehicles.New(deps.store, deps.cache, cacheTTL).WithSettings(connTimeout)
	att := attendance.New(deps.store, dir, deps.producer, topic).WithSettings(displayLoc)
	in := ingest.New(deps.store, dir, att).WithLiveCache(veh)
	if deps.limiter != nil {
		in = in.WithRateLimiter(deps.limiter, logWindow)
	}

	return &busServices{
		api:        busapi.New(in, veh, deps.store, deps.store),
		ingest:     in,
		vehicles:   veh,
		attendance: att,
	}, nil
}

// newDirectory picks the registry source and wraps it in the Redis read-through cache when configured.
func newDirectory(cfg *config.Config, store directory.Directory, c cache.BytesCache) (directory.Directory, error) {
	var dir directory.Directory
	switch cfg.Directory.Mode {
	case "", "postgres":
		dir = store
	case "http":
		if cfg.Directory.BaseURL == "" {
			return nil, fmt.Errorf("directory.base_url is required in http mode")
		}
		dir = httpdir.New(cfg.Directory.BaseURL, cfg.Directory.APIKey)
	default:
		return nil, fmt.Errorf("unknown directory mode %q", cfg.Directory.Mode)
	}
	if c != nil && cfg.Directory.CacheTTLSeconds > 0 {
		dir = cached.New(dir, c, time.Duration(cfg.Directory.CacheTTLSeconds)*time.Second)
	}
	return dir, nil
}

type busAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     busAPIOpts
	svc      *busServices
	consumer *kafka.Consumer
	producer *kafka.Producer
	closeDB  func()
}

func mustBootstrapBusAPI() *busAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("config parse error, %v", err))
	}

	grpcAddr := cfg.BusTrack.GRPCAddr
	if grpcAddr == "" {
		grpcAddr = ":50051"
	}
	httpAddr := cfg.BusTrack.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.BusTrack.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "bus-api"
	}
	topic := cfg.Kafka.PingsTopicName
	if topic == "" {
		topic = "device.pings"
	}

	var store busStore
	closeDB := func() {}
	switch cfg.BusTrack.Storage {
	case "memory":
		store = memstore.New()
	case "", "postgres":
		st := mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)
		store = st
		closeDB = st.Close
	default:
		panic(fmt.Sprintf("unknown storage %q", cfg.BusTrack.Storage))
	}

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)

	svc, err := wireServices(cfg, busDeps{
		store:    store,
		cache:    rediscache.New(redisAddr),
		limiter:  rediscache.NewRateLimiter(redisAddr),
		producer: producer,
	})
	if err != nil {
		closeDB()
		panic(err)
	}

	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &busAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: busAPIOpts{
			grpcAddr:      grpcAddr,
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		svc:      svc,
		consumer: consumer,
		producer: producer,
		closeDB:  closeDB,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgbus.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgbus.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *busAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.producer != nil {
		_ = a.producer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *busAPIApp) Run() error {
	return runBusAPI(a.ctx, a.opts, a.svc.api, a.svc.ingest, a.consumer)
}
