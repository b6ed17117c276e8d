package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/doubt-service/internal/access"
	"github.com/spec-kit/doubt-service/internal/api/dto"
	httptransport "github.com/spec-kit/doubt-service/internal/api/http"
	"github.com/spec-kit/doubt-service/internal/api/http/handlers"
	"github.com/spec-kit/doubt-service/internal/auth"
	"github.com/spec-kit/doubt-service/internal/config"
	"github.com/spec-kit/doubt-service/internal/events"
	"github.com/spec-kit/doubt-service/internal/i18n"
	"github.com/spec-kit/doubt-service/internal/observability"
	"github.com/spec-kit/doubt-service/internal/persistence"
	"github.com/spec-kit/doubt-service/internal/repository"
	"github.com/spec-kit/doubt-service/internal/service"
	"github.com/spec-kit/doubt-service/internal/storage"
	"github.com/spec-kit/doubt-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()
	if pg.DB == nil {
		logger.Fatal("POSTGRES_DSN is required")
	}

	if cfg.Postgres.RunMigrations {
		applied, err := persistence.RunMigrations(ctx, pg.Pool, cfg.Postgres.MigrationsDir, logger)
		if err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		logger.Info("migrations applied", zap.Int("files", applied))
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	labels, err := i18n.Load(cfg.I18n.Language, cfg.I18n.CatalogPath)
	if err != nil {
		logger.Fatal("failed to load label catalog", zap.Error(err))
	}

	files, err := storage.NewFileStore(storage.Options{
		BaseDir:          cfg.Storage.BaseDir,
		UploadDir:        cfg.Storage.UploadDir,
		PublicBaseURL:    cfg.Storage.PublicBaseURL,
		MaxFileSize:      cfg.Storage.MaxUploadBytes(),
		AllowedMimeTypes: cfg.Storage.AllowedMimeTypes,
		Signer:           storage.NewSignedURLSigner(cfg.Storage.SigningSecret, cfg.Storage.URLTTL()),
	})
	if err != nil {
		logger.Fatal("failed to init attachment store", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger)
	if redis.Enabled() {
		events.NewRedisRelay(dispatcher, redis.Client, cfg.Events.RedisChannel)
	}
	notifications := service.NewNotificationService(dispatcher, logger, cfg.Notification, nil)
	worker.StartNotificationWorker(dispatcher, notifications, logger,
		worker.Subscriber{Name: "metrics", Handler: metrics.HandleEvent},
	)

	doubtRepo := repository.NewDoubtRepository(pg.DB)
	userRepo := repository.NewUserRepository(pg.DB)
	courseRepo := repository.NewCourseRepository(pg.DB)
	grantRepo := repository.NewGrantRepository(pg.DB)

	staffService := service.NewStaffService(service.StaffDependencies{
		Repo:     doubtRepo,
		Users:    userRepo,
		Courses:  courseRepo,
		Gate:     access.NewGrantGate(grantRepo),
		Store:    files,
		Notifier: notifications,
		Events:   dispatcher,
		Labels:   labels,
		Logger:   logger.Named("staff"),
		SiteURL:  cfg.Doubts.SiteURL,
	})
	studentService := service.NewStudentService(service.StudentDependencies{
		Repo:     doubtRepo,
		Users:    userRepo,
		Courses:  courseRepo,
		Store:    files,
		Notifier: notifications,
		Events:   dispatcher,
		Labels:   labels,
		Logger:   logger.Named("student"),
		SiteURL:  cfg.Doubts.SiteURL,
	})

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	validate := dto.NewValidator()

	app := fiber.New(fiber.Config{
		AppName:   cfg.App.Name,
		BodyLimit: cfg.App.BodyLimitMB << 20,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pingers(pg, redis)),
		Staff:          handlers.NewStaffHandler(staffService, validate, files.UploadDir(), cfg.Doubts.DefaultPerPage),
		Student:        handlers.NewStudentHandler(studentService, validate, files.UploadDir()),
		Attachments:    handlers.NewAttachmentsHandler(files),
		Metrics:        metrics.Handler(),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, userRepo),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func pingers(pg *persistence.Postgres, redis *persistence.Redis) map[string]handlers.Pinger {
	deps := map[string]handlers.Pinger{"postgres": pg}
	if redis.Enabled() {
		deps["redis"] = redis
	}
	return deps
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
