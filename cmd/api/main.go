package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"equipres/internal/api"
	"equipres/internal/config"
	"equipres/internal/database"
	"equipres/internal/domain"
	"equipres/internal/events"
	"equipres/internal/google"
	"equipres/internal/jobs"
	"equipres/internal/logging"
	"equipres/internal/metrics"
	"equipres/internal/models"
	"equipres/internal/repository"
	"equipres/internal/scheduler"
	"equipres/internal/service"
	"equipres/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, base, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	logger := *logging.Component(base, "api-main")
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database, &logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("init database")
		return err
	}
	defer db.Close()
	store := db.Store()

	items, err := loadEquipment(cfg, &logger)
	if err != nil {
		return err
	}
	if err := seedEquipment(ctx, store, items, &logger); err != nil {
		return err
	}

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	var locker domain.Locker = repository.NewMemoryLocker()
	if redisClient != nil {
		locker = repository.NewFailoverLocker(repository.NewRedisLocker(redisClient), locker, &logger)
	}

	bus := events.NewEventBus()
	var publisher worker.Publisher
	if rabbit := initRabbit(cfg, &logger); rabbit != nil {
		defer rabbit.Close()
		events.Forward(bus, rabbit, append(events.ReservationEvents, events.EventEquipmentStatusChanged, events.EventInventoryReconciled), &logger)
		publisher = rabbit
	}

	var sheets worker.SheetsClient
	sheet := initGoogleSheets(ctx, cfg, &logger)
	if sheet != nil {
		sheets = sheet
	}

	outbox := worker.NewOutboxWorker(store, publisher, sheets, redisClient, worker.Options{
		PollInterval: cfg.Worker.PollInterval,
		BatchSize:    cfg.Worker.BatchSize,
		Retry:        worker.RetryPolicyFrom(cfg.Worker),
	}, logging.Component(base, "outbox"))
	go outbox.Start(ctx)

	svcLogger := logging.Component(base, "service")
	equipment := service.NewEquipmentService(store, locker, bus, cfg.Reservations, svcLogger)
	reservations := service.NewReservationService(store, equipment, bus, outbox, cfg.Reservations, svcLogger)
	reservations.SetSheetsMirror(sheet != nil)
	availability := service.NewAvailabilityService(store, equipment, svcLogger)

	sched, err := initScheduler(cfg, db, store, equipment, outbox, redisClient, logging.Component(base, "scheduler"))
	if err != nil {
		return err
	}
	if sched != nil {
		sched.Start()
		defer sched.Stop()
	}

	startMetrics(ctx, cfg, &logger)

	httpServer := api.NewHTTPServer(cfg.API, cfg.Reservations.ProjectionDays, api.Services{
		Reservations: reservations,
		Equipment:    equipment,
		Availability: availability,
	}, base)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(cfg.API, base)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, closer, nil
}

// loadEquipment merges the equipment declared in the config with the optional seed file.
func loadEquipment(cfg *config.Config, logger *zerolog.Logger) ([]models.Equipment, error) {
	items := append([]models.Equipment(nil), cfg.Equipment...)

	path := os.Getenv("EQUIPMENT_PATH")
	if path == "" {
		path = "configs/equipment.yaml"
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return items, config.ValidateEquipment(items)
	}
	if err != nil {
		logger.Error().Err(err).Str("equipment_path", path).Msg("read equipment")
		return nil, err
	}

	var seed struct {
		Equipment []models.Equipment `yaml:"equipment"`
	}
	if err := yaml.Unmarshal(data, &seed); err != nil {
		logger.Error().Err(err).Str("equipment_path", path).Msg("parse equipment")
		return nil, err
	}
	items = append(items, seed.Equipment...)

	if err := config.ValidateEquipment(items); err != nil {
		return nil, fmt.Errorf("equipment seed: %w", err)
	}
	return items, nil
}

// seedEquipment inserts configured equipment that is not in the store yet.
// Existing rows are left alone so admin edits survive restarts.
func seedEquipment(ctx context.Context, store *database.Store, items []models.Equipment, logger *zerolog.Logger) error {
	created := 0
	for i := range items {
		e := items[i]
		_, err := store.GetEquipment(ctx, e.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("failed to check equipment %d: %w", e.ID, err)
		}
		if err := store.CreateEquipment(ctx, &e); err != nil {
			return err
		}
		created++
	}
	if created > 0 {
		logger.Info().Int("count", created).Msg("Seeded equipment")
	}
	return nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initRabbit(cfg *config.Config, logger *zerolog.Logger) *events.RabbitPublisher {
	if cfg.Events.RabbitURL == "" {
		return nil
	}
	pub, err := events.NewRabbitPublisher(cfg.Events.RabbitURL, cfg.Events.Exchange)
	if err != nil {
		logger.Warn().Err(err).Msg("rabbitmq init failed, notifications will only be logged")
		return nil
	}
	logger.Info().Str("exchange", cfg.Events.Exchange).Msg("rabbitmq connected")
	return pub
}

func initGoogleSheets(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *google.ReservationSheet {
	if cfg.Google.CredentialsFile == "" || cfg.Google.ReservationsSpreadsheet == "" {
		return nil
	}

	sheet, err := google.NewReservationSheet(ctx, cfg.Google.CredentialsFile, cfg.Google.ReservationsSpreadsheet, cfg.Google.ReservationsSheetName)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}
	if err := sheet.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets unreachable, continuing without sheets")
		return nil
	}
	if err := sheet.WarmUpCache(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets cache warm-up failed")
	}

	logger.Info().Msg("google sheets connected")
	return sheet
}

func initScheduler(
	cfg *config.Config,
	db *database.DB,
	store *database.Store,
	equipment *service.EquipmentService,
	dispatcher domain.SyncDispatcher,
	redisClient *redis.Client,
	logger *zerolog.Logger,
) (*scheduler.Scheduler, error) {
	if !cfg.Scheduler.Enabled {
		return nil, nil
	}

	var backup jobs.Backuper
	if cfg.Backup.Enabled && db.Dialect() == database.DialectSQLite {
		backup = database.NewBackupService(db, cfg.Backup, logger)
	}

	runner := jobs.NewRunner(store, equipment, backup, dispatcher, redisClient, logger)
	return scheduler.New(cfg.Scheduler, runner, logger)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Bool("grpc", grpcServer != nil).Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
