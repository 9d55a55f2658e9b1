package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/kpellas/iris-assist/internal/api"
	"github.com/kpellas/iris-assist/internal/config"
	"github.com/kpellas/iris-assist/internal/db"
	"github.com/kpellas/iris-assist/internal/gateway"
	"github.com/kpellas/iris-assist/internal/intent"
	"github.com/kpellas/iris-assist/internal/repository"
	"github.com/kpellas/iris-assist/internal/services"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "serve" {
		serve()
		return
	}
	fmt.Println("iris v0.1.0")
	fmt.Println("Usage: iris serve")
}

func serve() {
	_ = godotenv.Load()

	cfg, err := config.LoadDefault()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	applyEnv(cfg)

	ctx := context.Background()

	protoMem := repository.NewMemoryProtocolRepository()
	runMem := repository.NewMemoryRunRepository()
	schedMem := repository.NewMemoryScheduleRepository()

	var (
		protocols repository.ProtocolRepository = protoMem
		runs      repository.RunRepository      = runMem
		schedules repository.ScheduleRepository = schedMem
	)
	if cfg.Database.URL != "" {
		database, err := db.New(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("database error", "err", err)
			os.Exit(1)
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			slog.Error("migration error", "err", err)
			os.Exit(1)
		}
		protocols = repository.NewPersistentProtocolRepository(protoMem, database)
		runs = repository.NewPersistentRunRepository(database)
		schedules = repository.NewPersistentScheduleRepository(schedMem, database)
		slog.Info("connected to postgres")
	} else {
		slog.Warn("no database configured, protocols and runs are in-memory only")
	}

	hub, err := gateway.NewDisplayHub(cfg.Display.Buffer, time.Duration(cfg.Display.IdleTTLMinutes)*time.Minute)
	if err != nil {
		slog.Error("display hub error", "err", err)
		os.Exit(1)
	}
	defer hub.Stop()

	sinks := []gateway.Sink{gateway.LogSink{}, hub}
	if cfg.Gateway.TimerURL != "" {
		sinks = append(sinks, gateway.NewTimerSink(cfg.Gateway.TimerURL))
	}
	gw := gateway.New(sinks...)

	engine := services.NewRunEngine(protocols, runs, gw)
	protocolSvc := services.NewProtocolService(protocols)
	router := intent.NewRouter(protocolSvc, engine)

	scheduler := services.NewSchedulerService(schedules, engine)
	if err := scheduler.Start(ctx); err != nil {
		slog.Error("scheduler error", "err", err)
		os.Exit(1)
	}
	defer scheduler.Stop()

	srv := api.NewServer(protocolSvc, engine, router)
	srv.SetSchedulerService(scheduler)
	srv.SetDisplayHub(hub)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	slog.Info("starting iris server", "addr", addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

// applyEnv lets deployment environments override file configuration.
func applyEnv(cfg *config.Config) {
	if v := os.Getenv("IRIS_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("IRIS_TIMER_URL"); v != "" {
		cfg.Gateway.TimerURL = v
	}
	if v := os.Getenv("IRIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}
