package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/BusTrack/config"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("config parse error, %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := workerOpts{swaggerPath: os.Getenv("swaggerPath")}
	if err := RunBusWorker(ctx, cfg, defaultWorkerFactories(), opts); err != nil && !errors.Is(err, context.Canceled) {
		panic(err)
	}
}
