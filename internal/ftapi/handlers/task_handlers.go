// Package handlers implements the Task API and Clickstream API named in
// spec §6, thin HTTP glue in front of the db.Client task store and the
// clickstream.Store collaborator, grounded on
// cmd/gateway/internal/handlers' JSON-in/JSON-out handler shape.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rivermuse/finetune-engine/internal/db"
)

// TaskHandlers serves the Task API (spec §6): POST /fine-tuning/create,
// GET /fine-tuning/get/{id}, GET /fine-tuning/get.
type TaskHandlers struct {
	store  *db.Client
	logger *zap.Logger
}

func NewTaskHandlers(store *db.Client, logger *zap.Logger) *TaskHandlers {
	return &TaskHandlers{store: store, logger: logger}
}

func (h *TaskHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /fine-tuning/create", h.create)
	mux.HandleFunc("GET /fine-tuning/get/{id}", h.get)
	mux.HandleFunc("GET /fine-tuning/get", h.list)
}

type createTaskRequest struct {
	StartAt  time.Time      `json:"start_at"`
	EndAt    time.Time      `json:"end_at"`
	Metadata map[string]any `json:"metadata"`
}

type createTaskResponse struct {
	ID string `json:"id"`
}

// create implements POST /fine-tuning/create: creates a task record with
// status "queued" and returns its id. It does not start a search or driver
// workflow, and nothing else in the API process does either.
func (h *TaskHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	task := &db.FineTuningTask{
		StartAt:  req.StartAt,
		EndAt:    req.EndAt,
		Metadata: db.JSONB(req.Metadata),
		Status:   "queued",
	}
	if err := h.store.SaveFineTuningTask(r.Context(), task); err != nil {
		h.logger.Error("failed to save fine-tuning task", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	writeJSON(w, http.StatusCreated, createTaskResponse{ID: task.ID.String()})
}

// get implements GET /fine-tuning/get/{id}.
func (h *TaskHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	task, err := h.store.GetFineTuningTask(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get fine-tuning task", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// list implements GET /fine-tuning/get?skip&limit.
func (h *TaskHandlers) list(w http.ResponseWriter, r *http.Request) {
	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	tasks, err := h.store.ListFineTuningTasks(r.Context(), db.TaskFilter{Skip: skip, Limit: limit})
	if err != nil {
		h.logger.Error("failed to list fine-tuning tasks", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
