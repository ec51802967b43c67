package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/you/event-booking/pkg/clock"
	"github.com/you/event-booking/pkg/config"
	"github.com/you/event-booking/pkg/db"
	"github.com/you/event-booking/pkg/httpx"
	"github.com/you/event-booking/pkg/mq"
	"github.com/you/event-booking/pkg/obs"
	"github.com/you/event-booking/services/booking-service/internal/inventory"
	"github.com/you/event-booking/services/booking-service/internal/outbox"
	"github.com/you/event-booking/services/booking-service/internal/repository"
	"github.com/you/event-booking/services/booking-service/internal/service"
	thttp "github.com/you/event-booking/services/booking-service/internal/transport/http"
)

const serviceName = "booking-service"

func must[T any](v T, err error) T {
	if err != nil {
		log.Fatal(err)
	}
	return v
}

func main() {
	var cfg config.Booking
	must(0, config.Load(&cfg))
	mode := must(service.ParseMode(cfg.InventoryMode))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownObs := must(obs.Init(ctx, serviceName, cfg.Obs))
	logger := obs.NewLogger(serviceName, cfg.Obs)
	defer func() { _ = logger.Sync() }()

	// DB
	gdb := must(db.Open(cfg.PGBookingDSN))
	repo := repository.NewBookingRepo(gdb)
	must(0, repo.Migrate())

	// RabbitMQ: publish side only, topology declared so arguments match the consumer
	conn := mq.NewConn(cfg.MQ.RabbitURL, mq.Options{
		InitialInterval: cfg.MQ.ReconnectInitial,
		MaxInterval:     cfg.MQ.ReconnectMax,
		Topology:        mq.NotificationTopology(cfg.MQ.NotifyQueue, cfg.MQ.NotifyDLX, cfg.MQ.NotifyDLQ),
	}, logger)
	go func() {
		if err := conn.Run(ctx); err != nil {
			logger.Error("rabbitmq connection loop ended", zap.Error(err))
		}
	}()
	pub := mq.NewPublisher(conn, "")

	inv := inventory.New(cfg.EventServiceURL, cfg.InventoryTO)
	disp := outbox.NewDispatcher(inv, pub, cfg.MQ.NotifyQueue)
	svc := service.NewBookingSvc(repo, inv, disp, clock.System(), service.Options{
		Mode:   mode,
		Outbox: cfg.OutboxEnabled,
	}, logger)

	if cfg.OutboxEnabled {
		relay := outbox.NewRelay(repo, disp, clock.System(), outbox.RelayConfig{
			Interval:    cfg.OutboxInterval,
			Batch:       cfg.OutboxBatch,
			MaxAttempts: cfg.OutboxMaxAttempts,
			Grace:       cfg.OutboxGrace,
		}, logger)
		go relay.Start(ctx)
	}

	r := httpx.NewEngine(serviceName, cfg.CORS.Origins, logger)
	thttp.NewBookingHandler(svc).Register(r)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("inventory_mode", string(mode)),
			zap.Bool("outbox", cfg.OutboxEnabled))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// graceful shutdown
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	_ = conn.Close()
	if err := shutdownObs(shutdownCtx); err != nil {
		logger.Warn("otel shutdown", zap.Error(err))
	}
	logger.Info("stopped")
}
