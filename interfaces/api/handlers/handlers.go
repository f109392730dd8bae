package handlers

import (
	"gorm.io/gorm"

	"faceforward/domain/repositories"
	"faceforward/domain/services"
	"faceforward/pkg/scheduler"
)

// Services contains all the services needed for handlers
type Services struct {
	Maintenance services.MaintenanceService
	Router      services.Router
	CloudSync   services.CloudSync // nil when no backend is configured
}

// Repositories contains repositories needed for some handlers
type Repositories struct {
	PhotoRepository   repositories.PhotoRepository
	PersonRepository  repositories.PersonRepository
	FaceRepository    repositories.FaceRepository
	SyncRunRepository repositories.SyncRunRepository
}

// StatsProvider is anything that reports runtime statistics.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// Runtime carries the long-lived components handlers report on.
type Runtime struct {
	DB           *gorm.DB
	FaceAPI      FaceAPIHealth
	Scheduler    scheduler.Scheduler
	Workers      map[string]StatsProvider
	TriggerCloud func()
	IntakeDir    string
}

// Handlers contains all HTTP handlers
type Handlers struct {
	Health *HealthHandler
	Photo  *PhotoHandler
	Person *PersonHandler
	Sync   *SyncHandler
	Stats  *StatsHandler
	Log    *LogHandler
}

// NewHandlers creates a new instance of Handlers with all dependencies
func NewHandlers(svc *Services, repos *Repositories, rt *Runtime) *Handlers {
	return &Handlers{
		Health: NewHealthHandler(rt.DB, rt.FaceAPI, svc.CloudSync, repos.PhotoRepository, repos.SyncRunRepository, rt.IntakeDir),
		Photo:  NewPhotoHandler(svc.Maintenance, svc.Router, repos.PhotoRepository, repos.FaceRepository),
		Person: NewPersonHandler(repos.PersonRepository, repos.FaceRepository),
		Sync:   NewSyncHandler(svc.CloudSync, repos.SyncRunRepository, rt.TriggerCloud),
		Stats:  NewStatsHandler(svc.Maintenance, rt.Workers, rt.Scheduler),
		Log:    NewLogHandler(),
	}
}
