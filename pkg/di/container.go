package di

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"faceforward/application/serviceimpl"
	"faceforward/domain/models"
	"faceforward/domain/repositories"
	"faceforward/domain/services"
	"faceforward/infrastructure/database"
	"faceforward/infrastructure/faceapi"
	"faceforward/infrastructure/googledrive"
	"faceforward/infrastructure/objectstore"
	"faceforward/infrastructure/worker"
	"faceforward/interfaces/api/handlers"
	"faceforward/pkg/config"
	"faceforward/pkg/logger"
	"faceforward/pkg/metrics"
	"faceforward/pkg/scheduler"
)

type Container struct {
	configPath string

	// Configuration
	Config *config.Config

	// Infrastructure
	DB         *gorm.DB
	Scheduler  scheduler.Scheduler
	FaceClient *faceapi.FaceClient
	Storage    services.RemoteStorage // nil when the cloud backend is "none"

	// Repositories
	PhotoRepository       repositories.PhotoRepository
	FaceRepository        repositories.FaceRepository
	PersonRepository      repositories.PersonRepository
	CloudObjectRepository repositories.CloudObjectRepository
	SyncRunRepository     repositories.SyncRunRepository

	// Services
	FacePipeline services.FacePipeline
	Router       services.Router
	Maintenance  services.MaintenanceService
	CloudSync    services.CloudSync // nil when the cloud backend is "none"

	// Workers
	IntakeWatcher   *worker.IntakeWatcher
	FaceWorker      *worker.FaceWorker
	CloudSyncWorker *worker.CloudSyncWorker
}

// NewContainer creates an empty container. configPath may be empty, in
// which case CONFIG_FILE and the environment decide.
func NewContainer(configPath string) *Container {
	return &Container{configPath: configPath}
}

func (c *Container) Initialize() error {
	if err := c.initConfig(); err != nil {
		return err
	}

	if err := c.initInfrastructure(); err != nil {
		return err
	}

	c.initRepositories()

	if err := c.initCloud(); err != nil {
		return err
	}

	c.initServices()
	c.initWorkers()
	return nil
}

func (c *Container) initConfig() error {
	cfg, err := config.LoadConfig(c.configPath)
	if err != nil {
		return err
	}
	c.Config = cfg

	if err := logger.Init(cfg.Log.Dir, cfg.Log.Console); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if level, ok := logger.ParseLevel(cfg.Log.Level); ok {
		logger.Default().SetLevel(level)
	}
	if err := cfg.Paths.Ensure(); err != nil {
		return fmt.Errorf("create event directories: %w", err)
	}

	logger.Startup("config_loaded", "Configuration loaded", map[string]interface{}{
		"event_root": cfg.Paths.EventRoot,
		"driver":     cfg.Database.Driver,
		"backend":    cfg.Cloud.Backend,
	})
	return nil
}

func (c *Container) initInfrastructure() error {
	db, err := database.NewDatabase(c.Config.Database)
	if err != nil {
		return err
	}
	c.DB = db
	logger.Startup("db_connected", "Database connected", map[string]interface{}{"driver": db.Dialector.Name()})

	if err := database.Migrate(db); err != nil {
		return err
	}
	logger.Startup("db_migrated", "Database migrated", nil)

	c.FaceClient = faceapi.NewFaceClient(c.Config.FaceAPI.BaseURL, c.Config.FaceAPI.Timeout)
	c.Scheduler = scheduler.NewScheduler()
	return nil
}

func (c *Container) initRepositories() {
	c.PhotoRepository = database.NewPhotoRepository(c.DB)
	c.FaceRepository = database.NewFaceRepository(c.DB)
	c.PersonRepository = database.NewPersonRepository(c.DB)
	c.CloudObjectRepository = database.NewCloudObjectRepository(c.DB)
	c.SyncRunRepository = database.NewSyncRunRepository(c.DB)
	logger.Startup("repositories_initialized", "Repositories initialized", nil)
}

// initCloud builds the remote backend. Every call goes through the retrying
// decorator so a stalled backend only grows the backlog.
func (c *Container) initCloud() error {
	cfg := c.Config.Cloud
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var backend services.RemoteStorage
	switch cfg.Backend {
	case "gdrive":
		drv, err := googledrive.NewDriveStorage(ctx, cfg.Drive)
		if err != nil {
			return fmt.Errorf("init google drive: %w", err)
		}
		backend = drv
	case "minio":
		store, err := objectstore.NewMinIOStorage(cfg.MinIO)
		if err != nil {
			return fmt.Errorf("init minio: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			// The bucket may appear later; uploads fail and stay in the backlog until then.
			logger.StartupWarn("minio_bucket_unavailable", "MinIO bucket check failed", map[string]interface{}{
				"bucket": cfg.MinIO.Bucket,
				"error":  err.Error(),
			})
		}
		backend = store
	default:
		logger.Startup("cloud_disabled", "No cloud backend configured, mirroring disabled", nil)
		return nil
	}

	c.Storage = serviceimpl.NewRetryingStorage(backend, cfg)
	logger.Startup("cloud_initialized", "Cloud backend initialized", map[string]interface{}{
		"backend":     backend.Name(),
		"remote_root": cfg.RemoteRoot,
	})
	return nil
}

func (c *Container) initServices() {
	c.FacePipeline = serviceimpl.NewFacePipeline(c.FaceClient, c.PersonRepository, c.Config.Identify)
	c.Router = serviceimpl.NewRouter(c.PhotoRepository, c.Config.Paths)
	c.Maintenance = serviceimpl.NewMaintenanceService(
		c.PhotoRepository,
		c.FaceRepository,
		c.PersonRepository,
		c.CloudObjectRepository,
		c.Router,
		c.Config.Paths,
		c.Config.Cloud.RemoteRoot,
	)

	if c.Storage != nil {
		c.CloudSync = serviceimpl.NewCloudSync(
			c.Storage,
			serviceimpl.NewFolderCache(),
			c.CloudObjectRepository,
			c.SyncRunRepository,
			c.Config.Paths.EventRoot,
			c.Config.Cloud.RemoteRoot,
			c.Config.Cloud.MirrorDirs,
		)
	}
	logger.Startup("services_initialized", "Services initialized", nil)
}

func (c *Container) initWorkers() {
	c.IntakeWatcher = worker.NewIntakeWatcher(c.PhotoRepository, c.Config)
	c.FaceWorker = worker.NewFaceWorker(c.PhotoRepository, c.FacePipeline, c.Router, c.Config)
	c.IntakeWatcher.OnInsert(c.FaceWorker.Wake)

	if c.CloudSync != nil {
		c.CloudSyncWorker = worker.NewCloudSyncWorker(c.CloudSync, c.Config.Cloud.Interval)
		c.FaceWorker.OnDone(c.CloudSyncWorker.Trigger)
	}
}

// StartScheduler registers the housekeeping jobs and starts the scheduler.
// sweepOrphans should only be set in processes that also run face workers,
// cloudBacklog only in processes that own the cloud mirror.
func (c *Container) StartScheduler(sweepOrphans, cloudBacklog bool) error {
	if err := c.Scheduler.AddIntervalJob("status-gauge", 30*time.Second, c.RefreshStatusGauge); err != nil {
		return err
	}

	if cloudBacklog && c.CloudSyncWorker != nil && c.Config.Cloud.Cron != "" {
		cloudWorker := c.CloudSyncWorker
		if err := c.Scheduler.AddCronJob("cloud-backlog", c.Config.Cloud.Cron, func() {
			cloudWorker.RunPass(context.Background())
		}); err != nil {
			return err
		}
	}

	if sweepOrphans && c.Config.Recovery.Grace > 0 {
		faceWorker := c.FaceWorker
		if err := c.Scheduler.AddIntervalJob("orphan-sweep", c.Config.Recovery.Grace, func() {
			if err := faceWorker.Recover(context.Background()); err != nil {
				logger.SchedulerError("orphan_sweep_failed", "Orphan sweep failed", err, nil)
			}
		}); err != nil {
			return err
		}
	}

	c.RefreshStatusGauge()
	c.Scheduler.Start()
	return nil
}

// RefreshStatusGauge publishes the per-status photo counts.
func (c *Container) RefreshStatusGauge() {
	counts, err := c.PhotoRepository.CountByStatus(context.Background())
	if err != nil {
		logger.SchedulerWarn("status_gauge_failed", "Could not count photos", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, s := range models.AllPhotoStatuses {
		metrics.PhotosByStatus.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

// Handlers builds the admin API handlers over this container.
func (c *Container) Handlers() *handlers.Handlers {
	workers := map[string]handlers.StatsProvider{
		"intake": c.IntakeWatcher,
		"face":   c.FaceWorker,
	}
	var trigger func()
	if c.CloudSyncWorker != nil {
		workers["cloud"] = c.CloudSyncWorker
		trigger = c.CloudSyncWorker.Trigger
	}

	return handlers.NewHandlers(
		&handlers.Services{
			Maintenance: c.Maintenance,
			Router:      c.Router,
			CloudSync:   c.CloudSync,
		},
		&handlers.Repositories{
			PhotoRepository:   c.PhotoRepository,
			PersonRepository:  c.PersonRepository,
			FaceRepository:    c.FaceRepository,
			SyncRunRepository: c.SyncRunRepository,
		},
		&handlers.Runtime{
			DB:           c.DB,
			FaceAPI:      c.FaceClient,
			Scheduler:    c.Scheduler,
			Workers:      workers,
			TriggerCloud: trigger,
			IntakeDir:    c.Config.Paths.IntakeDir(),
		},
	)
}

func (c *Container) Cleanup() error {
	logger.Startup("cleanup_started", "Starting cleanup...", nil)

	if c.Scheduler != nil && c.Scheduler.IsRunning() {
		c.Scheduler.Stop()
	}

	// Intake first so nothing new is queued while the workers drain.
	if c.IntakeWatcher != nil && c.IntakeWatcher.IsRunning() {
		c.IntakeWatcher.Stop()
	}
	if c.FaceWorker != nil && c.FaceWorker.IsRunning() {
		c.FaceWorker.Stop()
	}
	if c.CloudSyncWorker != nil && c.CloudSyncWorker.IsRunning() {
		c.CloudSyncWorker.Stop()
	}

	if c.DB != nil {
		if err := database.Close(c.DB); err != nil {
			return err
		}
		logger.Startup("db_closed", "Database connection closed", nil)
	}

	logger.Startup("cleanup_complete", "Cleanup completed", nil)
	return nil
}
