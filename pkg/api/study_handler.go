package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mimir-aip/prognosis-go/pkg/models"
	"github.com/mimir-aip/prognosis-go/pkg/scheduler"
	"github.com/mimir-aip/prognosis-go/pkg/studies"
)

// StudyHandler handles study-related HTTP requests
type StudyHandler struct {
	service   *studies.Service
	schedules *scheduler.Service
}

// NewStudyHandler creates a new study handler
func NewStudyHandler(service *studies.Service, schedules *scheduler.Service) *StudyHandler {
	return &StudyHandler{
		service:   service,
		schedules: schedules,
	}
}

// HandleStudies handles study list and create operations
func (h *StudyHandler) HandleStudies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleList(w, r)
	case http.MethodPost:
		h.handleCreate(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleStudy handles /api/studies/{id} and its actions
func (h *StudyHandler) HandleStudy(w http.ResponseWriter, r *http.Request) {
	studyID := strings.TrimPrefix(r.URL.Path, "/api/studies/")
	action := ""
	if idx := strings.Index(studyID, "/"); idx != -1 {
		studyID, action = studyID[:idx], studyID[idx+1:]
	}
	if studyID == "" {
		http.Error(w, "Study ID is required", http.StatusBadRequest)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.handleGet(w, r, studyID)
	case action == "" && r.Method == http.MethodDelete:
		h.handleDelete(w, r, studyID)
	case action == "run" && r.Method == http.MethodPost:
		h.handleRun(w, r, studyID)
	case action == "cancel" && r.Method == http.MethodPost:
		h.handleCancel(w, r, studyID)
	case action == "trials" && r.Method == http.MethodGet:
		h.handleTrials(w, r, studyID)
	case action == "tasks" && r.Method == http.MethodGet:
		h.handleTasks(w, r, studyID)
	case action == "predict" && r.Method == http.MethodPost:
		h.handlePredict(w, r, studyID)
	case action == "schedules" && r.Method == http.MethodGet:
		h.handleSchedules(w, r, studyID)
	case action == "" || action == "run" || action == "cancel" || action == "trials" ||
		action == "tasks" || action == "predict" || action == "schedules":
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	default:
		http.NotFound(w, r)
	}
}

// handleList lists all studies
func (h *StudyHandler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list studies: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleCreate creates a new study
func (h *StudyHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.StudyCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	record, err := h.service.Create(&req)
	if err != nil {
		writeError(w, "Failed to create study", err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// handleGet retrieves a study
func (h *StudyHandler) handleGet(w http.ResponseWriter, r *http.Request, studyID string) {
	record, err := h.service.Get(studyID)
	if err != nil {
		writeError(w, "Study not found", err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleDelete deletes a study together with its schedules
func (h *StudyHandler) handleDelete(w http.ResponseWriter, r *http.Request, studyID string) {
	schedules, err := h.schedules.ListByStudy(studyID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list schedules: %v", err), http.StatusInternalServerError)
		return
	}
	if err := h.service.Delete(studyID); err != nil {
		writeError(w, "Failed to delete study", err)
		return
	}
	for _, schedule := range schedules {
		h.schedules.Unschedule(schedule.ID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRun queues a run of the study; the body is optional
func (h *StudyHandler) handleRun(w http.ResponseWriter, r *http.Request, studyID string) {
	var req models.StudyRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	task, err := h.service.Submit(studyID, models.StudyTaskTriggerAPI, req.Priority)
	if err != nil {
		writeError(w, "Failed to run study", err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

// handleCancel cancels a queued or running study
func (h *StudyHandler) handleCancel(w http.ResponseWriter, r *http.Request, studyID string) {
	if err := h.service.Cancel(studyID); err != nil {
		writeError(w, "Failed to cancel study", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// handleTrials lists the recorded trials of a study
func (h *StudyHandler) handleTrials(w http.ResponseWriter, r *http.Request, studyID string) {
	trials, err := h.service.Trials(studyID)
	if err != nil {
		writeError(w, "Failed to list trials", err)
		return
	}
	writeJSON(w, http.StatusOK, trials)
}

// handleTasks lists the runs of a study
func (h *StudyHandler) handleTasks(w http.ResponseWriter, r *http.Request, studyID string) {
	tasks, err := h.service.Tasks(studyID)
	if err != nil {
		writeError(w, "Failed to list tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// handlePredict scores rows with the study's best model
func (h *StudyHandler) handlePredict(w http.ResponseWriter, r *http.Request, studyID string) {
	var req models.PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	resp, err := h.service.Predict(studyID, &req)
	if err != nil {
		writeError(w, "Failed to predict", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSchedules lists the schedules of a study
func (h *StudyHandler) handleSchedules(w http.ResponseWriter, r *http.Request, studyID string) {
	schedules, err := h.schedules.ListByStudy(studyID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list schedules: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}
