package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"learner_state_engine/internal/config"
	"learner_state_engine/internal/controller"
	"learner_state_engine/internal/repository"
	"learner_state_engine/internal/service"
	"learner_state_engine/internal/submissions"
	"learner_state_engine/pkg/configwatcher"
	"learner_state_engine/pkg/database"
	"learner_state_engine/pkg/logger"
	"learner_state_engine/pkg/monitoring"
	"learner_state_engine/pkg/security"
	"learner_state_engine/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config *config.Config
	Router *gin.Engine
	DB     *gorm.DB
	Redis  *redis.Client

	repos    *repositories
	services *services
}

type repositories struct {
	user       *repository.UserRepository
	state      *repository.StateRecordRepository
	history    *repository.HistoryRepository
	field      *repository.FieldRepository
	enrollment *repository.EnrollmentRepository
	task       *repository.TaskRepository
}

type services struct {
	course     *service.CourseService
	grading    *service.GradingService
	admin      *service.AdminService
	enrollment *service.EnrollmentService
	storage    *service.StorageService
	migration  *service.MigrationService
}

type controllers struct {
	auth       *controller.AuthController
	state      *controller.StateController
	history    *controller.HistoryController
	grade      *controller.GradeController
	admin      *controller.AdminController
	enrollment *controller.EnrollmentController
	health     *controller.HealthController
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	cfg := a.Config
	flags := func() repository.HistoryFlags {
		return repository.HistoryFlags{
			ExtendedEnabled: cfg.History.ExtendedEnabled,
			UnionEnabled:    cfg.History.UnionEnabled,
		}
	}
	return &repositories{
		user:       repository.NewUserRepository(db),
		state:      repository.NewStateRecordRepository(db),
		history:    repository.NewHistoryRepository(db, flags),
		field:      repository.NewFieldRepository(db),
		enrollment: repository.NewEnrollmentRepository(db),
		task:       repository.NewTaskRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) *services {
	s := &services{}

	s.storage = service.NewStorageService(cfg)
	s.course = service.NewCourseService()
	if cfg.Content.ManifestDir != "" {
		if err := s.course.LoadDir(cfg.Content.ManifestDir); err != nil {
			logger.Log.Warn("course manifest load failed", zap.Error(err))
		}
	}

	var subs submissions.Store
	if cfg.Submissions.BaseURL != "" {
		subs = submissions.NewHTTPStore(cfg.Submissions.BaseURL)
	}

	s.grading = service.NewGradingService(repos.state, repos.field, repos.enrollment, subs, rdb)
	s.admin = service.NewAdminService(repos.state, repos.field, repos.task, repos.enrollment, s.grading, rdb, cfg.Tasks.MaxReportedErrors)
	s.enrollment = service.NewEnrollmentService(repos.user, repos.enrollment, cfg.Enrollment, cfg.Tasks.MaxReportedErrors)
	s.migration = service.NewMigrationService(repos.history, cfg.History.MigrateChunk, 4)

	return s
}

func (a *App) initControllers(s *services, repos *repositories, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:       controller.NewAuthController(repos.user, a.Config),
		state:      controller.NewStateController(repos.state, repos.field, s.course),
		history:    controller.NewHistoryController(repos.state, repos.history),
		grade:      controller.NewGradeController(s.course, s.grading),
		admin:      controller.NewAdminController(s.course, s.admin, repos.task),
		enrollment: controller.NewEnrollmentController(repos.enrollment, repos.user, s.enrollment, s.storage),
		health:     controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	maxRequests := cfg.RateLimit.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 100000
	}
	windowMinutes := cfg.RateLimit.WindowMinutes
	if windowMinutes <= 0 {
		windowMinutes = 1
	}
	router.Use(security.RateLimiter(maxRequests, time.Duration(windowMinutes)*time.Minute))

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}

	if cfg.MigrateOnly {
		return &App{Config: cfg, DB: db}
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		// Redis is a cache and a dedup fast path; the engine runs without it.
		logger.Log.Warn("Redis unavailable, continuing without it", zap.Error(err))
		rdb = nil
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db)
	app.repos = repos
	services := app.initServices(repos, cfg, rdb)
	app.services = services
	controllers := app.initControllers(services, repos, db, rdb)

	monitoring.Init()

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		if _, err := tracing.InitTracer("learner-state-engine", cfg.Tracing.CollectorEndpoint); err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
	}

	app.registerRoutes(router, controllers, cfg)

	if cfg.Storage.Type == "local" {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	configwatcher.WatchConfig("configs/config.yaml", func(updated *config.Config) {
		cfg.History.ExtendedEnabled = updated.History.ExtendedEnabled
		cfg.History.UnionEnabled = updated.History.UnionEnabled
		logger.Log.Info("history read flags reloaded",
			zap.Bool("extended", cfg.History.ExtendedEnabled),
			zap.Bool("union", cfg.History.UnionEnabled))
	})

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
