package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/visit-booking/internal/api"
	"github.com/hackgods/visit-booking/internal/appointment"
	"github.com/hackgods/visit-booking/internal/attachment"
	"github.com/hackgods/visit-booking/internal/config"
	"github.com/hackgods/visit-booking/internal/db"
	"github.com/hackgods/visit-booking/internal/logger"
	redisclient "github.com/hackgods/visit-booking/internal/redis"
)

var version = "dev"

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

	if cfg.JWTSigningKey == "" {
		log.Fatal("JWT_SIGNING_KEY is required")
	}

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store_driver", cfg.StoreDriver),
		zap.String("lock_driver", cfg.LockDriver),
		zap.String("timezone", cfg.Location.String()),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store  appointment.Store
		probes []api.Probe
	)
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{StatementTimeout: cfg.StoreTimeout})
		cancelPg()
		if err != nil {
			log.Fatal("postgres connection error", zap.Error(err))
		}
		defer pgPool.Close()
		log.Info("connected to Postgres")

		if cfg.AutoMigrate {
			applied, err := db.Migrate(rootCtx, pgPool)
			if err != nil {
				log.Fatal("migration error", zap.Error(err))
			}
			log.Info("migrations applied", zap.Int("count", applied))
		}
		store = appointment.NewPgRepository(pgPool)
		probes = append(probes, api.PostgresProbe(pgPool))
	default:
		log.Warn("using in-memory store, data is lost on restart")
		store = appointment.NewMemoryStore()
	}

	var locker appointment.Locker
	switch cfg.LockDriver {
	case config.LockDriverRedis:
		rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			// a slot lock needs one round trip, so give up well inside LOCK_WAIT
			OpTimeout: cfg.LockWait / 2,
		})
		if err != nil {
			log.Fatal("redis connection error", zap.Error(err))
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn("error closing redis", zap.Error(err))
			}
		}()
		log.Info("connected to Redis")
		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL, cfg.LockWait, log.Named("lock"))
		probes = append(probes, api.RedisProbe(rdb))
	default:
		log.Warn("using in-process slot locks, run a single instance only")
		locker = appointment.NewLocalLocker()
	}

	var attachments attachment.Storage
	if cfg.AttachmentsEnabled() {
		client, err := attachment.NewMinioClient(attachment.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatal("minio client error", zap.Error(err))
		}
		bucketCtx, cancelBucket := context.WithTimeout(rootCtx, 10*time.Second)
		attachments, err = attachment.NewMinioStorage(bucketCtx, client, cfg.MinioBucket, log.Named("attachment"))
		cancelBucket()
		if err != nil {
			log.Fatal("minio bucket error", zap.Error(err))
		}
		log.Info("connected to MinIO", zap.String("bucket", cfg.MinioBucket))
	} else {
		log.Warn("MINIO_ENDPOINT not set, keeping attachments in memory")
		attachments = attachment.NewMemoryStorage()
	}

	ledger := appointment.NewLedger(store, locker, log.Named("ledger"),
		appointment.WithLocation(cfg.Location),
		appointment.WithStoreTimeout(cfg.StoreTimeout),
	)
	availability := appointment.NewAvailability(store, cfg.StoreTimeout)
	svc := appointment.NewService(ledger, availability, log.Named("service"))

	router := api.NewRouter(api.RouterConfig{
		Service:     svc,
		Attachments: attachments,
		Probes:      probes,
		Log:         log.Named("http"),
		SigningKey:  []byte(cfg.JWTSigningKey),
		CORSOrigins: cfg.CORSAllowedOrigins,
		RateLimit:   cfg.RateLimitPerSecond,
		Env:         cfg.Env,
		Version:     version,
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error("http server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}

	log.Info("shutting down api-server")
}
