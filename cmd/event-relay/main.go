package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/visit-booking/internal/appointment"
	"github.com/hackgods/visit-booking/internal/config"
	"github.com/hackgods/visit-booking/internal/db"
	"github.com/hackgods/visit-booking/internal/events"
	"github.com/hackgods/visit-booking/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config load error: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.StoreDriver != config.StoreDriverPostgres {
		log.Fatal("event-relay reads the Postgres outbox, set STORE_DRIVER=postgres")
	}
	if cfg.AMQPURL == "" {
		log.Fatal("AMQP_URL is required")
	}

	log.Info("event-relay starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.String("queue", cfg.EventsQueue),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	publisher, err := events.DialAMQP(cfg.AMQPURL, cfg.EventsQueue)
	if err != nil {
		log.Fatal("rabbitmq connection error", zap.Error(err))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn("error closing rabbitmq", zap.Error(err))
		}
	}()
	log.Info("connected to RabbitMQ")

	relay := events.NewRelay(appointment.NewPgRepository(pgPool), publisher, log.Named("relay"))
	relay.Run(rootCtx, cfg.WorkerInterval)
}
