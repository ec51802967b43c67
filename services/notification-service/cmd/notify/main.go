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

	"github.com/you/event-booking/pkg/config"
	"github.com/you/event-booking/pkg/db"
	"github.com/you/event-booking/pkg/httpx"
	"github.com/you/event-booking/pkg/mq"
	"github.com/you/event-booking/pkg/obs"
	"github.com/you/event-booking/services/notification-service/internal/notifier"
	"github.com/you/event-booking/services/notification-service/internal/repository"
	thttp "github.com/you/event-booking/services/notification-service/internal/transport/http"
	"github.com/you/event-booking/services/notification-service/internal/worker"
)

const serviceName = "notification-service"

func must[T any](v T, err error) T {
	if err != nil {
		log.Fatal(err)
	}
	return v
}

func main() {
	var cfg config.Notification
	must(0, config.Load(&cfg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownObs := must(obs.Init(ctx, serviceName, cfg.Obs))
	logger := obs.NewLogger(serviceName, cfg.Obs)
	defer func() { _ = logger.Sync() }()

	gdb := must(db.Open(cfg.PGNotifyDSN))
	repo := repository.NewNotificationRepo(gdb)
	must(0, repo.Migrate())

	conn := mq.NewConn(cfg.MQ.RabbitURL, mq.Options{
		InitialInterval: cfg.MQ.ReconnectInitial,
		MaxInterval:     cfg.MQ.ReconnectMax,
		Prefetch:        cfg.Prefetch,
		Topology:        mq.NotificationTopology(cfg.MQ.NotifyQueue, cfg.MQ.NotifyDLX, cfg.MQ.NotifyDLQ),
	}, logger)
	go func() {
		if err := conn.Run(ctx); err != nil {
			logger.Error("rabbitmq connection loop ended", zap.Error(err))
		}
	}()

	proc := worker.NewProcessor(repo, notifier.NewConsole(logger), logger)
	cons := worker.NewConsumer(mq.NewConsumer(conn, cfg.MQ.NotifyQueue, serviceName), proc, logger)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := cons.Run(ctx); err != nil {
			logger.Error("worker stopped", zap.Error(err))
		}
	}()

	r := httpx.NewEngine(serviceName, cfg.CORS.Origins, logger)
	thttp.NewNotificationHandler(repo).Register(r)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("queue", cfg.MQ.NotifyQueue))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
	}
	_ = conn.Close()
	if err := shutdownObs(shutdownCtx); err != nil {
		logger.Warn("otel shutdown", zap.Error(err))
	}
	logger.Info("stopped")
}
