package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	busapi "github.com/BearBump/BusTrack/internal/api/bus_api"
	"github.com/BearBump/BusTrack/internal/broker/messages"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const healthServiceName = "bustrack.BusAPI"

type busAPIOpts struct {
	grpcAddr    string
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string
	retryDelay    time.Duration

	onListen func(grpcAddr, httpAddr string)
}

type pingConsumer interface {
	ConsumePings(ctx context.Context, handler func(ctx context.Context, batch messages.PingBatch) error) error
}

func runBusAPI(ctx context.Context, opts busAPIOpts, api *busapi.BusAPI, in busapi.Ingestor, consumer pingConsumer) error {
	if opts.swaggerPath != "" {
		if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
			return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
		}
	}

	grpcLis, err := net.Listen("tcp", opts.grpcAddr)
	if err != nil {
		return err
	}
	httpLis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		_ = grpcLis.Close()
		return err
	}

	if opts.onListen != nil {
		opts.onListen(grpcLis.Addr().String(), httpLis.Addr().String())
	}

	grpcErr := make(chan error, 1)
	go func() {
		grpcErr <- runGRPCServer(ctx, grpcLis)
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, httpLis, api, opts.swaggerPath)
	}()

	if consumer != nil {
		go runPingConsumer(ctx, opts, in, consumer)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-grpcErr:
		return err
	case err := <-httpErr:
		return err
	}
}

// runPingConsumer restarts the consumer after a failed batch; the failed message
// stays uncommitted and is redelivered.
func runPingConsumer(ctx context.Context, opts busAPIOpts, in busapi.Ingestor, consumer pingConsumer) {
	delay := opts.retryDelay
	if delay <= 0 {
		delay = time.Second
	}
	slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
	for {
		err := consumer.ConsumePings(ctx, func(ctx context.Context, batch messages.PingBatch) error {
			res, err := in.ProcessBatch(ctx, batch)
			if err != nil {
				return err
			}
			slog.Debug("ping batch processed", "accepted", res.Accepted, "stale", res.Stale,
				"rejected", res.Rejected, "unregistered", res.Unregistered, "attendance", res.Attendance)
			return nil
		})
		if ctx.Err() != nil {
			return
		}
		slog.Error("kafka consumer stopped, restarting", "topic", opts.topic, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func runGRPCServer(ctx context.Context, lis net.Listener) error {
	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(healthServiceName, healthpb.HealthCheckResponse_SERVING)

	go func() {
		<-ctx.Done()
		hs.Shutdown()
		stopped := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			s.Stop()
		}
		_ = lis.Close()
	}()

	slog.Info("gRPC health server listening", "addr", lis.Addr().String())
	return s.Serve(lis)
}

func runHTTPServer(ctx context.Context, lis net.Listener, api *busapi.BusAPI, swaggerPath string) error {
	r := chi.NewRouter()
	if swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, swaggerPath)
		})
		r.Get("/docs/*", httpSwagger.Handler(
			httpSwagger.URL("/swagger.json"),
		))
	}
	api.Routes(r)

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	return srv.Serve(lis)
}
