package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mimir-aip/prognosis-go/pkg/models"
	"github.com/mimir-aip/prognosis-go/pkg/scheduler"
)

// ScheduleHandler serves the cron schedules that resubmit studies
type ScheduleHandler struct {
	service *scheduler.Service
}

// NewScheduleHandler creates a new schedule handler
func NewScheduleHandler(service *scheduler.Service) *ScheduleHandler {
	return &ScheduleHandler{service: service}
}

// HandleSchedules serves GET (optionally ?study_id=) and POST on /api/schedules
func (h *ScheduleHandler) HandleSchedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleList(w, r.URL.Query().Get("study_id"))
	case http.MethodPost:
		h.handleCreate(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleSchedule handles /api/schedules/{id} and /api/schedules/{id}/trigger
func (h *ScheduleHandler) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID := strings.TrimPrefix(r.URL.Path, "/api/schedules/")
	action := ""
	if idx := strings.Index(scheduleID, "/"); idx != -1 {
		scheduleID, action = scheduleID[:idx], scheduleID[idx+1:]
	}
	if scheduleID == "" {
		http.Error(w, "Schedule ID is required", http.StatusBadRequest)
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			h.handleGet(w, scheduleID)
		case http.MethodPut:
			h.handleUpdate(w, r, scheduleID)
		case http.MethodDelete:
			h.handleDelete(w, scheduleID)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "trigger":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleTrigger(w, scheduleID)
	default:
		http.NotFound(w, r)
	}
}

func (h *ScheduleHandler) handleList(w http.ResponseWriter, studyID string) {
	list := h.service.List
	if studyID != "" {
		list = func() ([]*models.Schedule, error) { return h.service.ListByStudy(studyID) }
	}
	schedules, err := list()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list schedules: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (h *ScheduleHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.ScheduleCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	schedule, err := h.service.Create(&req)
	if err != nil {
		writeError(w, "Failed to create schedule", err)
		return
	}
	writeJSON(w, http.StatusCreated, schedule)
}

func (h *ScheduleHandler) handleGet(w http.ResponseWriter, scheduleID string) {
	schedule, err := h.service.Get(scheduleID)
	if err != nil {
		writeError(w, "Failed to get schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

// handleUpdate applies a partial update; disabling a schedule drops its cron entry
func (h *ScheduleHandler) handleUpdate(w http.ResponseWriter, r *http.Request, scheduleID string) {
	var req models.ScheduleUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	schedule, err := h.service.Update(scheduleID, &req)
	if err != nil {
		writeError(w, "Failed to update schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (h *ScheduleHandler) handleDelete(w http.ResponseWriter, scheduleID string) {
	if _, err := h.service.Get(scheduleID); err != nil {
		writeError(w, "Failed to delete schedule", err)
		return
	}
	if err := h.service.Delete(scheduleID); err != nil {
		http.Error(w, fmt.Sprintf("Failed to delete schedule: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTrigger submits the schedule's study now, outside its cron timing
func (h *ScheduleHandler) handleTrigger(w http.ResponseWriter, scheduleID string) {
	task, err := h.service.Trigger(scheduleID)
	if err != nil {
		writeError(w, "Failed to trigger schedule", err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}
