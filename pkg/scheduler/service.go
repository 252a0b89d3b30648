package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mimir-aip/prognosis-go/pkg/models"
)

// Store is the schedule persistence the scheduler needs
type Store interface {
	GetStudy(id string) (*models.Study, error)
	SaveSchedule(schedule *models.Schedule) error
	GetSchedule(id string) (*models.Schedule, error)
	ListSchedules() ([]*models.Schedule, error)
	ListSchedulesByStudy(studyID string) ([]*models.Schedule, error)
	DeleteSchedule(id string) error
}

// Submitter queues a study run
type Submitter interface {
	Submit(studyID string, trigger models.StudyTaskTrigger, priority int) (*models.StudyTask, error)
}

// Service resubmits studies on cron schedules. Studies resume from their
// checkpoints, so every scheduled run extends the previous search.
type Service struct {
	store     Store
	submitter Submitter
	logger    *zap.Logger
	cron      *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID // Maps schedule ID to cron entry ID
}

// NewService creates a new scheduler service
func NewService(store Store, submitter Submitter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		submitter: submitter,
		logger:    logger.Named("scheduler"),
		cron:      cron.New(),
		entries:   make(map[string]cron.EntryID),
	}
}

// Start loads every enabled schedule and starts the cron loop
func (s *Service) Start() error {
	schedules, err := s.store.ListSchedules()
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	for _, schedule := range schedules {
		if schedule.Enabled {
			if err := s.scheduleStudy(schedule); err != nil {
				s.logger.Warn("Failed to schedule study", zap.String("schedule", schedule.Name), zap.Error(err))
			}
		}
	}

	s.cron.Start()
	s.logger.Info("Study scheduler started", zap.Int("schedules", len(s.entries)))
	return nil
}

// Stop stops the scheduler and waits for running submissions
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Study scheduler stopped")
}

// Create creates a new schedule
func (s *Service) Create(req *models.ScheduleCreateRequest) (*models.Schedule, error) {
	if err := s.validateCreateRequest(req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	schedule := &models.Schedule{
		ID:           uuid.New().String(),
		StudyID:      req.StudyID,
		Name:         req.Name,
		CronSchedule: req.CronSchedule,
		Enabled:      req.Enabled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	setNextRun(schedule, now)

	if err := s.store.SaveSchedule(schedule); err != nil {
		return nil, fmt.Errorf("failed to save schedule: %w", err)
	}

	if schedule.Enabled {
		if err := s.scheduleStudy(schedule); err != nil {
			s.logger.Warn("Failed to schedule study", zap.String("schedule", schedule.Name), zap.Error(err))
		}
	}

	return schedule, nil
}

// Get retrieves a schedule by ID
func (s *Service) Get(id string) (*models.Schedule, error) {
	return s.store.GetSchedule(id)
}

// List lists all schedules
func (s *Service) List() ([]*models.Schedule, error) {
	return s.store.ListSchedules()
}

// ListByStudy lists the schedules of one study
func (s *Service) ListByStudy(studyID string) ([]*models.Schedule, error) {
	return s.store.ListSchedulesByStudy(studyID)
}

// Update updates a schedule
func (s *Service) Update(id string, req *models.ScheduleUpdateRequest) (*models.Schedule, error) {
	schedule, err := s.store.GetSchedule(id)
	if err != nil {
		return nil, err
	}

	if req.CronSchedule != nil {
		if _, err := cron.ParseStandard(*req.CronSchedule); err != nil {
			return nil, fmt.Errorf("invalid cron expression: %w", err)
		}
		schedule.CronSchedule = *req.CronSchedule
	}
	if req.Name != nil {
		schedule.Name = *req.Name
	}
	if req.Enabled != nil {
		schedule.Enabled = *req.Enabled
	}

	s.Unschedule(id)

	now := time.Now().UTC()
	schedule.UpdatedAt = now
	setNextRun(schedule, now)

	if err := s.store.SaveSchedule(schedule); err != nil {
		return nil, fmt.Errorf("failed to save schedule: %w", err)
	}

	if schedule.Enabled {
		if err := s.scheduleStudy(schedule); err != nil {
			s.logger.Warn("Failed to schedule study", zap.String("schedule", schedule.Name), zap.Error(err))
		}
	}

	return schedule, nil
}

// Delete deletes a schedule
func (s *Service) Delete(id string) error {
	s.Unschedule(id)
	return s.store.DeleteSchedule(id)
}

// DeleteByStudy removes every schedule of a study
func (s *Service) DeleteByStudy(studyID string) error {
	schedules, err := s.store.ListSchedulesByStudy(studyID)
	if err != nil {
		return err
	}
	for _, schedule := range schedules {
		if err := s.Delete(schedule.ID); err != nil {
			return err
		}
	}
	return nil
}

// Scheduled reports whether a schedule has an active cron entry
func (s *Service) Scheduled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// Unschedule removes the cron entry of a schedule and keeps its record
func (s *Service) Unschedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

// scheduleStudy registers a schedule with the cron scheduler
func (s *Service) scheduleStudy(schedule *models.Schedule) error {
	spec, err := cron.ParseStandard(schedule.CronSchedule)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	id := schedule.ID
	entryID := s.cron.Schedule(spec, cron.FuncJob(func() { s.Execute(id) }))

	s.mu.Lock()
	s.entries[id] = entryID
	s.mu.Unlock()

	s.logger.Info("Scheduled study",
		zap.String("schedule", schedule.Name),
		zap.String("study_id", schedule.StudyID),
		zap.String("cron", schedule.CronSchedule))
	return nil
}

// Execute is the cron job of a schedule. Failures are logged.
func (s *Service) Execute(id string) {
	if _, err := s.Trigger(id); err != nil {
		s.logger.Warn("Scheduled study submission failed", zap.String("schedule_id", id), zap.Error(err))
	}
}

// Trigger submits the study of a schedule now and records the run time
func (s *Service) Trigger(id string) (*models.StudyTask, error) {
	schedule, err := s.store.GetSchedule(id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	schedule.LastRun = &now
	setNextRun(schedule, now)
	if err := s.store.SaveSchedule(schedule); err != nil {
		s.logger.Warn("Failed to update schedule run time", zap.String("schedule", schedule.Name), zap.Error(err))
	}

	task, err := s.submitter.Submit(schedule.StudyID, models.StudyTaskTriggerSchedule, 0)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", schedule.Name, err)
	}
	s.logger.Info("Scheduled study submitted",
		zap.String("schedule", schedule.Name),
		zap.String("study_id", schedule.StudyID),
		zap.String("task_id", task.ID))
	return task, nil
}

func setNextRun(schedule *models.Schedule, from time.Time) {
	if !schedule.Enabled {
		schedule.NextRun = nil
		return
	}
	spec, err := cron.ParseStandard(schedule.CronSchedule)
	if err != nil {
		return
	}
	next := spec.Next(from)
	schedule.NextRun = &next
}

// validateCreateRequest validates a schedule creation request
func (s *Service) validateCreateRequest(req *models.ScheduleCreateRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	if _, err := s.store.GetStudy(req.StudyID); err != nil {
		return fmt.Errorf("study not found: %s", req.StudyID)
	}

	if _, err := cron.ParseStandard(req.CronSchedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	return nil
}
