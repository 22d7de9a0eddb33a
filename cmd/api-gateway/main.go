package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"

	_ "github.com/noah-isme/exam-window-api/api/swagger"
	"github.com/noah-isme/exam-window-api/internal/handler"
	"github.com/noah-isme/exam-window-api/internal/middleware"
	"github.com/noah-isme/exam-window-api/internal/models"
	"github.com/noah-isme/exam-window-api/internal/repository"
	"github.com/noah-isme/exam-window-api/internal/service"
	"github.com/noah-isme/exam-window-api/pkg/cache"
	"github.com/noah-isme/exam-window-api/pkg/clock"
	"github.com/noah-isme/exam-window-api/pkg/config"
	"github.com/noah-isme/exam-window-api/pkg/database"
	"github.com/noah-isme/exam-window-api/pkg/keymutex"
	"github.com/noah-isme/exam-window-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/exam-window-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/exam-window-api/pkg/middleware/requestid"
	"github.com/noah-isme/exam-window-api/pkg/realtime"
)

// @title Exam Window API
// @version 1.0.0
// @description Exam window lifecycle: scheduling, enrollment capacity and live status updates.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

type windowPlanner interface {
	Reschedule(ctx context.Context, windowID string) error
}

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database unavailable", "error", err)
	}
	defer db.Close()

	clk := clock.New()
	validate := validator.New()
	metrics := service.NewMetricsService()

	windowRepo := repository.NewWindowRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)

	hub := realtime.NewHub(realtime.HubOptions{
		BufferSize:   cfg.Realtime.BufferSize,
		PingInterval: cfg.Realtime.PingInterval,
	}, logr)

	readiness := map[string]handler.ReadinessCheck{"postgres": db.PingContext}

	var publisher realtime.Publisher = hub
	var runRelay func(ctx context.Context) error
	if cfg.Realtime.Transport == config.TransportRedis {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Sugar().Fatalw("redis unavailable", "error", err)
		}
		defer client.Close()
		relay := realtime.NewRedisRelay(client, cfg.Realtime.ChannelPrefix, hub, logr)
		publisher = relay
		runRelay = func(ctx context.Context) error { return relay.Run(ctx, client) }
		readiness["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}

	broadcaster := service.NewStatusBroadcaster(publisher, service.BroadcasterConfig{BufferSize: cfg.Realtime.BufferSize}, clk, metrics, logr)
	broadcaster.Start(ctx)
	defer broadcaster.Stop()

	transitions := service.NewWindowTransitionService(windowRepo, enrollmentRepo, keymutex.New(), clk, metrics, logr)
	capacity := service.NewCapacityService(transitions, broadcaster, cfg.Lifecycle.CapacityTimeout, logr)
	sweep := service.NewWindowSweepService(windowRepo, enrollmentRepo, transitions, broadcaster, clk, cfg.Lifecycle.SweepInterval, metrics, logr)
	scheduler := service.NewWindowScheduler(windowRepo, transitions, broadcaster, clk, service.SchedulerConfig{
		PlanInterval: cfg.Lifecycle.PlanInterval,
		Horizon:      cfg.Lifecycle.Horizon,
		Wait: clock.WaitOptions{
			FineWindow:    cfg.Lifecycle.FineWindow,
			PollInterval:  cfg.Lifecycle.PollInterval,
			MaxCoarseStep: cfg.Lifecycle.MaxCoarseStep,
		},
	}, metrics, logr)

	var planner windowPlanner
	if cfg.Lifecycle.SchedulerEnabled {
		planner = scheduler
	}

	windowSvc := service.NewWindowService(windowRepo, enrollmentRepo, planner, sweep, transitions, broadcaster, clk, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, windowRepo, capacity, clk, validate, logr)
	exportSvc := service.NewExportService(windowRepo, enrollmentRepo, clk, service.ExportConfig{RosterEnabled: cfg.Exports.RosterEnabled}, logr)
	tokenSvc := service.NewTokenService(service.TokenConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
	}, realtime.NewTicketSigner(cfg.Realtime.TicketSecret, cfg.Realtime.TicketTTL), logr)

	windowHandler := handler.NewWindowHandler(windowSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	reportHandler := handler.NewReportHandler(exportSvc)
	realtimeHandler := handler.NewRealtimeHandler(tokenSvc, hub, cfg.CORS.AllowedOrigins, logr)
	metricsHandler := handler.NewMetricsHandler(metrics, readiness)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.GET("/realtime/ws", realtimeHandler.Subscribe)

	secured := api.Group("")
	secured.Use(middleware.JWT(tokenSvc))

	professor := middleware.RequireRoles(models.RoleProfessor)
	student := middleware.RequireRoles(models.RoleStudent)

	windows := secured.Group("/exam-windows")
	windows.POST("", professor, windowHandler.Create)
	windows.GET("/mine", professor, windowHandler.ListMine)
	windows.GET("/available", student, windowHandler.ListAvailable)
	windows.PATCH("/update-statuses", professor, windowHandler.UpdateStatuses)
	windows.PUT("/:id", professor, windowHandler.Update)
	windows.PATCH("/:id/toggle", professor, windowHandler.Toggle)
	windows.PATCH("/:id/state", professor, windowHandler.SetState)
	windows.DELETE("/:id", professor, windowHandler.Delete)
	windows.GET("/:id/enrollments", professor, enrollmentHandler.ListByWindow)
	windows.GET("/:id/roster", professor, reportHandler.Roster)

	enrollments := secured.Group("/enrollments")
	enrollments.POST("", student, enrollmentHandler.Enroll)
	enrollments.GET("/mine", student, enrollmentHandler.ListMine)
	enrollments.DELETE("/:id", student, enrollmentHandler.Cancel)
	enrollments.PATCH("/:id/attendance", professor, enrollmentHandler.MarkAttendance)

	secured.POST("/realtime/tickets", professor, realtimeHandler.IssueTicket)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.Lifecycle.SchedulerEnabled {
		g.Go(func() error { return scheduler.Run(gctx) })
	}
	if cfg.Lifecycle.SweepEnabled {
		g.Go(func() error { return sweep.Run(gctx) })
	}
	if runRelay != nil {
		g.Go(func() error { return runRelay(gctx) })
	}

	if err := g.Wait(); err != nil {
		logr.Sugar().Errorw("server stopped with error", "error", err)
	}
	logr.Sugar().Infow("server stopped")
}
