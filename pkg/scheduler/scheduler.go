package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"faceforward/pkg/logger"
)

// Scheduler runs the periodic housekeeping jobs: cloud backlog passes,
// orphan sweeps and the status gauge refresh.
type Scheduler interface {
	Start()
	Stop()
	AddCronJob(id, cronExpr string, task func()) error
	AddIntervalJob(id string, every time.Duration, task func()) error
	RemoveJob(id string) error
	GetJob(id string) (*JobInfo, bool)
	ListJobs() map[string]*JobInfo
	IsRunning() bool
}

type JobInfo struct {
	ID       string     `json:"id"`
	Schedule string     `json:"schedule"` // cron expression or interval
	Runs     int        `json:"runs"`
	LastRun  *time.Time `json:"last_run,omitempty"`
	NextRun  *time.Time `json:"next_run,omitempty"`

	job *gocron.Job
}

type GocronScheduler struct {
	scheduler *gocron.Scheduler
	jobs      map[string]*JobInfo
	mu        sync.RWMutex
	running   bool
}

func NewScheduler() Scheduler {
	s := gocron.NewScheduler(time.UTC)
	// A slow pass must not overlap the next tick of the same job.
	s.SingletonModeAll()

	return &GocronScheduler{
		scheduler: s,
		jobs:      make(map[string]*JobInfo),
	}
}

func (s *GocronScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		logger.SchedulerWarn("start", "Scheduler is already running", nil)
		return
	}

	s.scheduler.StartAsync()
	s.running = true
	logger.Scheduler("started", "Scheduler started", map[string]interface{}{"jobs": len(s.jobs)})
}

func (s *GocronScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.scheduler.Stop()
	s.running = false
	logger.Scheduler("stopped", "Scheduler stopped", nil)
}

func (s *GocronScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *GocronScheduler) AddCronJob(id, cronExpr string, task func()) error {
	return s.add(id, cronExpr, func() *gocron.Scheduler { return s.scheduler.Cron(cronExpr) }, task)
}

func (s *GocronScheduler) AddIntervalJob(id string, every time.Duration, task func()) error {
	if every <= 0 {
		return fmt.Errorf("job %s: interval must be positive", id)
	}
	// WaitForSchedule skips the immediate run gocron does for interval jobs.
	return s.add(id, "@every "+every.String(), func() *gocron.Scheduler {
		return s.scheduler.Every(every).WaitForSchedule()
	}, task)
}

// add holds mu while building because gocron's builder chain is not safe
// for concurrent use.
func (s *GocronScheduler) add(id, schedule string, build func() *gocron.Scheduler, task func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; exists {
		return fmt.Errorf("job with ID %s already exists", id)
	}

	job, err := build().Tag(id).Do(func() {
		now := time.Now()
		logger.Debug(logger.CategoryScheduler, "job_executing", "Executing job", map[string]interface{}{"job_id": id})

		s.mu.Lock()
		if info, ok := s.jobs[id]; ok {
			info.LastRun = &now
			info.Runs++
		}
		s.mu.Unlock()

		task()
	})
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", id, err)
	}

	s.jobs[id] = &JobInfo{ID: id, Schedule: schedule, job: job}

	next := job.NextRun()
	logger.Scheduler("job_added", "Job added", map[string]interface{}{
		"job_id":   id,
		"schedule": schedule,
		"next_run": next.Format(time.RFC3339),
	})
	return nil
}

func (s *GocronScheduler) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("job with ID %s not found", id)
	}
	s.scheduler.RemoveByReference(info.job)

	delete(s.jobs, id)
	logger.Scheduler("job_removed", "Job removed", map[string]interface{}{"job_id": id})
	return nil
}

func (s *GocronScheduler) GetJob(id string) (*JobInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, exists := s.jobs[id]
	if !exists {
		return nil, false
	}
	return snapshot(info), true
}

func (s *GocronScheduler) ListJobs() map[string]*JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make(map[string]*JobInfo, len(s.jobs))
	for id, info := range s.jobs {
		jobs[id] = snapshot(info)
	}
	return jobs
}

// snapshot copies info so callers never race the job callback.
func snapshot(info *JobInfo) *JobInfo {
	out := &JobInfo{
		ID:       info.ID,
		Schedule: info.Schedule,
		Runs:     info.Runs,
	}
	if info.LastRun != nil {
		lastRun := *info.LastRun
		out.LastRun = &lastRun
	}
	if info.job != nil {
		if next := info.job.NextRun(); !next.IsZero() {
			out.NextRun = &next
		}
	}
	return out
}

// ValidateCronExpression reports whether cronExpr parses.
func ValidateCronExpression(cronExpr string) error {
	s := gocron.NewScheduler(time.UTC)
	if _, err := s.Cron(cronExpr).Do(func() {}); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
