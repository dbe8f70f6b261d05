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

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/palm-pay/internal/auth"
	"github.com/example/palm-pay/internal/config"
	"github.com/example/palm-pay/internal/grpcclient"
	"github.com/example/palm-pay/internal/handlers"
	"github.com/example/palm-pay/internal/logging"
	"github.com/example/palm-pay/internal/matcher"
	"github.com/example/palm-pay/internal/payment"
	"github.com/example/palm-pay/internal/repository"
	"github.com/example/palm-pay/internal/store"
	"github.com/example/palm-pay/internal/usecase"
	"github.com/example/palm-pay/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var audit usecase.AuditRepository = repository.Nop{}
	if cfg.DatabaseDSN != "" {
		repo := repository.NewAuditRepository(initDatabase(ctx, cfg.DatabaseDSN, logger), logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		audit = repo
	} else {
		logger.Warn("DATABASE_DSN not set; audit trail disabled")
	}

	var cache usecase.Cache = usecase.NopCache{}
	if cfg.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		defer redisCancel()
		cache = usecase.NewRedisCache(initRedis(redisCtx, cfg.RedisAddr, logger))
	} else {
		logger.Warn("REDIS_ADDR not set; attempt cache disabled")
	}

	extractor, conn, err := grpcclient.DialFeatureExtractor(ctx, cfg.ExtractorAddr, logger)
	if err != nil {
		logger.Fatal("failed to connect to feature extractor", zap.Error(err))
	}
	defer conn.Close()

	credentials, err := vault.New(vault.WithCipher(cfg.VaultCipher))
	if err != nil {
		logger.Fatal("failed to initialise credential vault", zap.Error(err))
	}

	m, err := matcher.NewForStrategy(cfg.MatchStrategy, cfg.Threshold(), matcher.PointSet{
		MaxDistance:   cfg.PointSetMaxDistance,
		Normalization: cfg.PointSetNormalization,
	})
	if err != nil {
		logger.Fatal("invalid matcher configuration", zap.Error(err))
	}

	txnIDs, err := payment.NewIDGenerator(cfg.TxnIDScheme)
	if err != nil {
		logger.Fatal("invalid transaction id scheme", zap.Error(err))
	}

	templates := store.New()
	enroll := usecase.NewEnrollmentService(extractor, templates, credentials, logger)
	authn := usecase.NewAuthenticationService(usecase.AuthenticationDeps{
		Extractor:  extractor,
		Store:      templates,
		Vault:      credentials,
		Matcher:    m,
		TxnIDs:     txnIDs,
		Cache:      cache,
		Audit:      audit,
		MerchantID: cfg.MerchantID,
	}, logger)

	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize

	authMiddleware := auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience, logger)
	handlers.RegisterRoutes(r, enroll, authn, authMiddleware, cfg.MaxImagePixels)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("palm pay API listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("strategy", string(cfg.MatchStrategy)),
		zap.Float64("threshold", m.Threshold()),
		zap.String("cipher", string(cfg.VaultCipher)))
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
