// Package studies manages persisted studies and runs them on a pool of
// workers fed by the study queue.
package studies

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/hooks"
	"github.com/mimir-aip/prognosis-go/pkg/metadatastore"
	"github.com/mimir-aip/prognosis-go/pkg/models"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
	"github.com/mimir-aip/prognosis-go/pkg/queue"
	"github.com/mimir-aip/prognosis-go/pkg/serialization"
	"github.com/mimir-aip/prognosis-go/pkg/study"
	"github.com/mimir-aip/prognosis-go/pkg/telemetry"
)

var (
	// ErrStudyExists is returned when a study name is already taken
	ErrStudyExists = errors.New("study already exists")
	// ErrStudyActive is returned for operations that need an idle study
	ErrStudyActive = errors.New("study is queued or running")
	// ErrStudyNotActive is returned when cancelling an idle study
	ErrStudyNotActive = errors.New("study is not queued or running")
	// ErrNoModel is returned when predicting with a study that has no model yet
	ErrNoModel = errors.New("study has no model")
)

// Service manages studies and their runs
type Service struct {
	store     metadatastore.MetadataStore
	reg       *plugins.Registry
	queue     *queue.Queue
	workspace string
	logger    *zap.Logger

	mu              sync.Mutex
	running         map[string]context.CancelFunc // study ID -> run cancellation
	cancelRequested map[string]bool
	cancel          context.CancelFunc
	wg              sync.WaitGroup
}

// NewService creates a new study service. Studies without a workspace of
// their own checkpoint under workspace.
func NewService(store metadatastore.MetadataStore, reg *plugins.Registry, q *queue.Queue, workspace string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		reg:       reg,
		queue:     q,
		workspace: workspace,
		logger:    logger.Named("studies"),
		running:   make(map[string]context.CancelFunc),

		cancelRequested: make(map[string]bool),
	}
}

// Create creates a new study
func (s *Service) Create(req *models.StudyCreateRequest) (*models.Study, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	cfg := req.Config
	cfg.ApplyDefaults()
	if cfg.Workspace == "" {
		cfg.Workspace = s.workspace
	}
	if _, err := os.Stat(cfg.DataPath); err != nil {
		return nil, fmt.Errorf("data file not readable: %w", err)
	}

	if _, err := s.store.GetStudyByName(cfg.Name); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrStudyExists, cfg.Name)
	} else if !errors.Is(err, metadatastore.ErrNotFound) {
		return nil, fmt.Errorf("failed to check study name: %w", err)
	}

	now := time.Now().UTC()
	record := &models.Study{
		ID:        uuid.New().String(),
		Name:      cfg.Name,
		Config:    cfg,
		Status:    models.StudyStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SaveStudy(record); err != nil {
		return nil, fmt.Errorf("failed to save study: %w", err)
	}

	s.logger.Info("Study created", zap.String("study_id", record.ID), zap.String("name", record.Name))
	return record, nil
}

// Get retrieves a study by ID
func (s *Service) Get(id string) (*models.Study, error) {
	return s.store.GetStudy(id)
}

// List lists all studies
func (s *Service) List() ([]*models.Study, error) {
	return s.store.ListStudies()
}

// Delete deletes an idle study, its records and its checkpoint directory
func (s *Service) Delete(id string) error {
	record, err := s.store.GetStudy(id)
	if err != nil {
		return err
	}
	if s.isActive(record) {
		return fmt.Errorf("%w: %s", ErrStudyActive, record.Name)
	}

	if err := s.store.DeleteStudy(id); err != nil {
		return err
	}
	if ws := record.Config.Workspace; ws != "" {
		if err := os.RemoveAll(filepath.Join(ws, record.Name)); err != nil {
			s.logger.Warn("Failed to remove study workspace", zap.String("study_id", id), zap.Error(err))
		}
	}
	return nil
}

// Trials lists the recorded trials of a study
func (s *Service) Trials(id string) ([]*models.Trial, error) {
	if _, err := s.store.GetStudy(id); err != nil {
		return nil, err
	}
	return s.store.ListTrials(id)
}

// Tasks lists the runs of a study
func (s *Service) Tasks(id string) ([]*models.StudyTask, error) {
	if _, err := s.store.GetStudy(id); err != nil {
		return nil, err
	}
	return s.store.ListTasksByStudy(id)
}

func (s *Service) isActive(record *models.Study) bool {
	if s.queue.IsActive(record.ID) {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[record.ID]
	return ok
}

// Submit queues a run of a study
func (s *Service) Submit(studyID string, trigger models.StudyTaskTrigger, priority int) (*models.StudyTask, error) {
	record, err := s.store.GetStudy(studyID)
	if err != nil {
		return nil, err
	}
	if s.isActive(record) {
		return nil, fmt.Errorf("%w: %s", ErrStudyActive, record.Name)
	}

	task := &models.StudyTask{
		ID:          uuid.New().String(),
		StudyID:     studyID,
		Trigger:     trigger,
		Priority:    priority,
		SubmittedAt: time.Now().UTC(),
	}
	if err := s.queue.Enqueue(task); err != nil {
		return nil, fmt.Errorf("failed to queue study: %w", err)
	}
	if err := s.store.SaveTask(task); err != nil {
		s.logger.Warn("Failed to save task", zap.String("task_id", task.ID), zap.Error(err))
	}

	record.Status = models.StudyStatusQueued
	record.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveStudy(record); err != nil {
		s.logger.Warn("Failed to update study status", zap.String("study_id", studyID), zap.Error(err))
	}

	s.logger.Info("Study queued",
		zap.String("study_id", studyID),
		zap.String("task_id", task.ID),
		zap.String("trigger", string(trigger)))
	return task, nil
}

// Recover resubmits studies left queued or running by a previous process.
// Their checkpoints let them continue where they stopped.
func (s *Service) Recover() (int, error) {
	list, err := s.store.ListStudies()
	if err != nil {
		return 0, fmt.Errorf("failed to list studies: %w", err)
	}

	n := 0
	for _, record := range list {
		if !record.IsActive() || s.isActive(record) {
			continue
		}
		if _, err := s.Submit(record.ID, models.StudyTaskTriggerRecovery, 0); err != nil {
			s.logger.Warn("Failed to resubmit study", zap.String("study_id", record.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// Cancel removes a queued run or stops a running one
func (s *Service) Cancel(studyID string) error {
	record, err := s.store.GetStudy(studyID)
	if err != nil {
		return err
	}

	if task, ok := s.queue.Remove(studyID); ok {
		if err := s.store.SaveTask(task); err != nil {
			s.logger.Warn("Failed to save task", zap.String("task_id", task.ID), zap.Error(err))
		}
		telemetry.TasksTotal.WithLabelValues(string(models.StudyTaskStatusCancelled)).Inc()
		record.Status = models.StudyStatusCancelled
		record.UpdatedAt = time.Now().UTC()
		return s.store.SaveStudy(record)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.running[studyID]; ok {
		cancel()
		return nil
	}
	// A worker took the run but has not registered it yet
	if s.queue.IsExecuting(studyID) {
		s.cancelRequested[studyID] = true
		return nil
	}
	return fmt.Errorf("%w: %s", ErrStudyNotActive, record.Name)
}

// Predict scores rows with the study's best model
func (s *Service) Predict(studyID string, req *models.PredictionRequest) (*models.PredictionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	record, err := s.store.GetStudy(studyID)
	if err != nil {
		return nil, err
	}
	if record.ModelPath == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoModel, record.Name)
	}

	plugin, err := serialization.LoadModelFromFile(s.reg, record.ModelPath)
	if err != nil {
		return nil, err
	}
	model, ok := plugin.(plugins.Predictor)
	if !ok {
		return nil, fmt.Errorf("model %s is not a predictor", plugin.Name())
	}

	frame, err := dataset.NewFrame(req.Columns, req.Rows)
	if err != nil {
		return nil, err
	}
	if len(record.Features) > 0 {
		if frame, err = frame.Select(record.Features...); err != nil {
			return nil, err
		}
	}

	resp := &models.PredictionResponse{Model: model.Name()}
	if resp.Predictions, err = model.Predict(frame); err != nil {
		return nil, fmt.Errorf("failed to predict: %w", err)
	}
	if clf, ok := model.(plugins.Classifier); ok && clf.Classes() != nil {
		proba, err := model.PredictProba(frame)
		if err != nil {
			return nil, fmt.Errorf("failed to predict probabilities: %w", err)
		}
		r, _ := proba.Dims()
		resp.Probabilities = make([][]float64, r)
		for i := range resp.Probabilities {
			resp.Probabilities[i] = append([]float64(nil), proba.RawRowView(i)...)
		}
		resp.Classes = clf.Classes()
	}
	return resp, nil
}

// Start launches n workers that run queued studies until Stop is called
func (s *Service) Start(ctx context.Context, n int) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	for i := 0; i < n; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	s.logger.Info("Study workers started", zap.Int("workers", n))
}

// Stop cancels running studies and waits for the workers to exit
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("Study workers stopped")
}

func (s *Service) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	logger := s.logger.With(zap.Int("worker", id))
	for {
		task, err := s.queue.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, queue.ErrClosed) {
				logger.Warn("Failed to take study task", zap.Error(err))
			}
			return
		}
		s.execute(ctx, task, logger)
	}
}

// execute runs one study task to completion, failure or cancellation
func (s *Service) execute(ctx context.Context, task *models.StudyTask, logger *zap.Logger) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.running[task.StudyID] = cancel
	if s.cancelRequested[task.StudyID] {
		delete(s.cancelRequested, task.StudyID)
		cancel()
	}
	s.mu.Unlock()

	if err := s.store.SaveTask(task); err != nil {
		logger.Warn("Failed to save task", zap.String("task_id", task.ID), zap.Error(err))
	}

	status := models.StudyTaskStatusCompleted
	errMsg := ""
	if err := s.runStudy(runCtx, task, logger); err != nil {
		switch {
		case errors.Is(err, hooks.ErrStudyCancelled):
			status = models.StudyTaskStatusCancelled
		default:
			status = models.StudyTaskStatusFailed
			errMsg = err.Error()
		}
	}

	if status == models.StudyTaskStatusCancelled && ctx.Err() != nil {
		s.requeueOnRestart(task.StudyID, logger)
	}

	// The queue releases the study before the running entry goes, and both
	// before the task is reported finished
	if err := s.queue.UpdateTaskStatus(task.ID, status, errMsg); err != nil {
		logger.Warn("Failed to update task status", zap.String("task_id", task.ID), zap.Error(err))
	}
	s.mu.Lock()
	delete(s.running, task.StudyID)
	delete(s.cancelRequested, task.StudyID)
	s.mu.Unlock()
	if err := s.store.SaveTask(task); err != nil {
		logger.Warn("Failed to save task", zap.String("task_id", task.ID), zap.Error(err))
	}
	telemetry.TasksTotal.WithLabelValues(string(status)).Inc()
	logger.Info("Study run finished",
		zap.String("study_id", task.StudyID),
		zap.String("task_id", task.ID),
		zap.String("status", string(status)))
}

// requeueOnRestart marks a study stopped by shutdown as queued so Recover
// picks it up again.
func (s *Service) requeueOnRestart(studyID string, logger *zap.Logger) {
	record, err := s.store.GetStudy(studyID)
	if err != nil {
		logger.Warn("Failed to load interrupted study", zap.String("study_id", studyID), zap.Error(err))
		return
	}
	record.Status = models.StudyStatusQueued
	record.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveStudy(record); err != nil {
		logger.Warn("Failed to update study status", zap.String("study_id", studyID), zap.Error(err))
	}
}

func (s *Service) runStudy(ctx context.Context, task *models.StudyTask, logger *zap.Logger) error {
	record, err := s.store.GetStudy(task.StudyID)
	if err != nil {
		return err
	}

	frame, err := dataset.LoadCSV(record.Config.DataPath)
	if err == nil {
		var st *study.Study
		st, err = study.New(record.Config, frame, s.reg, s.store, hooks.FromContext(ctx, &heartbeatLogger{logger: logger}), logger)
		if err == nil {
			_, err = st.Run(ctx)
			return err
		}
	}

	// The study never started, so its record still says queued
	record.Status = models.StudyStatusFailed
	record.ErrorMessage = err.Error()
	record.UpdatedAt = time.Now().UTC()
	if saveErr := s.store.SaveStudy(record); saveErr != nil {
		logger.Warn("Failed to update study status", zap.String("study_id", record.ID), zap.Error(saveErr))
	}
	return err
}

// heartbeatLogger writes study heartbeats to the debug log
type heartbeatLogger struct {
	hooks.Default
	logger *zap.Logger
}

func (h *heartbeatLogger) Heartbeat(topic, subtopic, event string, fields map[string]interface{}) {
	h.logger.Debug("Study heartbeat",
		zap.String("topic", topic),
		zap.String("subtopic", subtopic),
		zap.String("event", event),
		zap.Any("fields", fields))
}
