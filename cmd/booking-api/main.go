package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/reosmzreo0410-netizen/booking-system/api/swagger"
	"github.com/reosmzreo0410-netizen/booking-system/internal/handler"
	internalmiddleware "github.com/reosmzreo0410-netizen/booking-system/internal/middleware"
	"github.com/reosmzreo0410-netizen/booking-system/internal/models"
	"github.com/reosmzreo0410-netizen/booking-system/internal/repository"
	"github.com/reosmzreo0410-netizen/booking-system/internal/service"
	"github.com/reosmzreo0410-netizen/booking-system/pkg/cache"
	"github.com/reosmzreo0410-netizen/booking-system/pkg/config"
	"github.com/reosmzreo0410-netizen/booking-system/pkg/database"
	"github.com/reosmzreo0410-netizen/booking-system/pkg/export"
	"github.com/reosmzreo0410-netizen/booking-system/pkg/jobs"
	"github.com/reosmzreo0410-netizen/booking-system/pkg/logger"
	corsmiddleware "github.com/reosmzreo0410-netizen/booking-system/pkg/middleware/cors"
	reqidmiddleware "github.com/reosmzreo0410-netizen/booking-system/pkg/middleware/requestid"
)

// @title Booking API
// @version 1.0.0
// @description Meeting booking against hosts' Google Calendar availability
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.EnsureSchema(ctx, db); err != nil {
			logr.Fatal("failed to apply schema", zap.Error(err))
		}
	}

	metrics := service.NewMetricsService()

	probes := []handler.ReadinessProbe{{Name: "postgres", Check: db.PingContext}}

	durableMirror := cfg.Mirror.Backend == config.MirrorBackendRedis
	var redisClient *redis.Client
	if cfg.Booking.BusyCacheEnabled || durableMirror {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		switch {
		case err != nil && durableMirror:
			logr.Fatal("redis required by the mirror queue is unavailable", zap.Error(err))
		case err != nil:
			logr.Warn("redis unavailable, busy cache disabled", zap.Error(err))
		case redisClient == nil && durableMirror:
			logr.Fatal("REDIS_HOST must be set when MIRROR_BACKEND=redis")
		}
	}

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		probes = append(probes, handler.ReadinessProbe{Name: "redis", Check: redisProbe(redisClient)})
		if cfg.Booking.BusyCacheEnabled {
			repo := repository.NewCacheRepository(redisClient, logr)
			defer repo.Close() //nolint:errcheck
			cacheRepo = repo
		} else {
			defer redisClient.Close() //nolint:errcheck
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Booking.BusyCacheTTL, logr, cacheRepo != nil)

	location, err := time.LoadLocation(cfg.Google.TimeZone)
	if err != nil {
		logr.Fatal("invalid calendar time zone", zap.String("tz", cfg.Google.TimeZone), zap.Error(err))
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	blockRepo := repository.NewAvailabilityBlockRepository(db)
	reservationRepo := repository.NewReservationRepository(db)

	gateway := service.NewCalendarGateway(userRepo, service.CalendarGatewayConfig{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		TokenURL:     cfg.Google.TokenURL,
		Endpoint:     cfg.Google.Endpoint,
		CalendarID:   cfg.Google.CalendarID,
		Location:     location,
		Timeout:      cfg.Google.Timeout,
		Marker:       cfg.Booking.Marker,
	}, metrics, logr)

	syncSvc := service.NewAvailabilitySyncService(blockRepo, gateway, cacheSvc, metrics, nil, service.AvailabilitySyncConfig{
		Marker: cfg.Booking.Marker,
		Window: cfg.Booking.SyncWindow,
	}, logr)
	slotSvc := service.NewSlotService(blockRepo, reservationRepo, gateway, cacheSvc, nil, service.SlotServiceConfig{
		SlotDuration: cfg.Booking.SlotDuration,
	}, logr)

	worker := service.NewMirrorWorker(reservationRepo, userRepo, gateway, cacheSvc, metrics, cfg.Booking.MemberMirror, logr)
	queueCfg := jobs.QueueConfig{
		Workers:    cfg.Mirror.Workers,
		BufferSize: cfg.Mirror.BufferSize,
		MaxRetries: cfg.Mirror.MaxRetries,
		RetryDelay: cfg.Mirror.RetryDelay,
		JobTimeout: cfg.Google.Timeout * 3,
		Logger:     logr,
	}
	var mirrorQueue interface{ Enqueue(jobs.Job) error }
	if durableMirror {
		durable := jobs.NewDurableQueue(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, "calendar-mirror", worker.Handle, service.DecodeMirrorPayload, queueCfg)
		if err := durable.Start(); err != nil {
			logr.Fatal("failed to start mirror queue", zap.Error(err))
		}
		defer durable.Stop()
		mirrorQueue = durable
	} else {
		queue := jobs.NewQueue("calendar-mirror", worker.Handle, queueCfg)
		queue.Start(context.Background())
		defer queue.Stop()
		mirrorQueue = queue
	}

	reservationSvc := service.NewReservationService(blockRepo, userRepo, reservationRepo, mirrorQueue, metrics, validate, logr)
	userSvc := service.NewUserService(userRepo, validate, logr)
	authSvc := service.NewAuthService(logr, service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})
	exportSvc := service.NewExportService(reservationRepo, userRepo, export.NewCSVExporter(true), export.NewPDFExporter(cfg.Export.PDFFontPath), export.NewICalExporter("-//booking-system//reservations//JA"), location, nil, logr)

	syncHandler := handler.NewSyncHandler(syncSvc)
	slotHandler := handler.NewSlotHandler(slotSvc)
	reservationHandler := handler.NewReservationHandler(reservationSvc)
	adminHandler := handler.NewAdminHandler(exportSvc, userSvc)
	metricsHandler := handler.NewMetricsHandler(metrics, probes...)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	booking := internalmiddleware.BookingIdentity(cfg.Booking.AllowGuests, authSvc)
	requireUser := internalmiddleware.JWT(authSvc)
	requireAdmin := internalmiddleware.RequireRoles(models.RoleAdmin)
	throttle := internalmiddleware.NewRateLimiter(cfg.Booking.RateLimit, cfg.Booking.RateBurst, logr).Middleware()

	api.GET("/slots", booking, slotHandler.List)
	api.POST("/sync", requireUser, requireAdmin, syncHandler.Sync)

	reservations := api.Group("/reservations")
	reservations.GET("", requireUser, reservationHandler.List)
	reservations.POST("", booking, throttle, reservationHandler.Create)
	reservations.GET("/:id", booking, reservationHandler.Get)
	reservations.DELETE("/:id", booking, throttle, reservationHandler.Cancel)
	reservations.POST("/:id/join", booking, throttle, reservationHandler.Join)

	admin := api.Group("/admin", requireUser, requireAdmin)
	admin.GET("/reservations/export", adminHandler.ExportReservations)
	admin.PATCH("/users/role", adminHandler.UpdateRole)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func redisProbe(client *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
