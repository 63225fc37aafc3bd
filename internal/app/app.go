package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libdb "parkgate/libs/db"
	libredis "parkgate/libs/redis"

	"parkgate/internal/billing"
	"parkgate/internal/config"
	httpserver "parkgate/internal/http"
	"parkgate/internal/http/handlers"
	"parkgate/internal/http/middleware"
	"parkgate/internal/notify"
	"parkgate/internal/password"
	"parkgate/internal/reconciler"
	redisstore "parkgate/internal/redis"
	"parkgate/internal/repository"
	"parkgate/internal/service"
	"parkgate/internal/ws"
	"parkgate/migrations"
)

// App wires parking service dependencies.
type App struct {
	server      *httpserver.Server
	scheduler   *reconciler.Scheduler
	hub         *ws.Hub
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := libdb.NewPostgresDB(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := migrations.Up(sqlDB); err != nil {
			sqlDB.Close()
			return nil, err
		}
	}

	redisClient, err := libredis.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	pricePerMinute, err := cfg.PricePerMinute()
	if err != nil {
		sqlDB.Close()
		redisClient.Close()
		return nil, err
	}

	cacheStore := redisstore.NewStore(redisClient)
	sessionRepo := repository.NewSessionRepository(sqlDB)
	receiptRepo := repository.NewReceiptRepository(sqlDB)
	userRepo := repository.NewUserRepository(sqlDB)

	hub := ws.NewHub(5*time.Second, logger)
	publisher := notify.Multi{notify.NewLogPublisher(logger), hub}

	biller := billing.NewBiller(receiptRepo, publisher, pricePerMinute, logger)

	engine := reconciler.NewEngine(cacheStore, sessionRepo, biller, publisher, reconciler.Config{
		WarningWindow: cfg.WarningWindow(),
		Concurrency:   cfg.Sweeps.Concurrency,
	}, logger)

	scheduler := reconciler.NewScheduler(logger,
		reconciler.Job{Name: "warning-sweep", Every: cfg.WarningSweepInterval(), Run: engine.WarningSweep},
		reconciler.Job{Name: "status-sync", Every: cfg.StatusSyncInterval(), Run: engine.SynchronizeStatus},
		reconciler.Job{Name: "full-cache-sync", Every: cfg.FullSyncInterval(), Run: engine.SynchronizeCache},
	)

	parkingService := service.NewParkingService(cacheStore, sessionRepo, biller, logger)
	tokenService := service.NewTokenService(cfg.Auth.JWTSecret, cfg.TokenTTL())
	authService := service.NewAuthService(userRepo, password.NewBcryptHasher(0), tokenService, logger)

	parkHandler := handlers.NewParkHandler(parkingService, logger)
	authHandler := handlers.NewAuthHandler(authService, logger)

	authn := middleware.AuthMiddleware(cfg.Auth.JWTSecret)
	routes := httpserver.Routes{
		Park:          wrap(authn, parkHandler.HandlePark),
		Unpark:        wrap(authn, parkHandler.HandleUnpark),
		FindSessions:  wrap(authn, parkHandler.HandleFind),
		ReceiptsMe:    wrap(authn, handlers.NewReceiptsMeHandler(receiptRepo, logger)),
		Signup:        authHandler.HandleSignup,
		Login:         authHandler.HandleLogin,
		Notifications: hub.HandleWS,
		Health:        handlers.NewHealthHandler(),
	}

	router := httpserver.NewRouter(routes)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{
		server:      server,
		scheduler:   scheduler,
		hub:         hub,
		db:          sqlDB,
		redisClient: redisClient,
		logger:      logger,
	}, nil
}

// Run starts the background sweeps and the HTTP server, blocking until ctx
// is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	a.scheduler.Start(ctx)
	err := a.server.Run(ctx)
	a.scheduler.Wait()
	return err
}

// Close releases resources.
func (a *App) Close() {
	a.hub.Close()
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}

func wrap(mw func(http.Handler) http.Handler, handler http.HandlerFunc) http.HandlerFunc {
	return mw(handler).ServeHTTP
}
