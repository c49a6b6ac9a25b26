// Package service exposes the HTTP trigger API the relay backend calls to
// start aggregation runs. The heavy lifting stays in the orchestrator; this
// layer only parses requests, guards against duplicate runs and reports
// status.
package service

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"SecureAgg/orchestrator"
	"SecureAgg/pkg/keys"
	"SecureAgg/pkg/protoerr"
)

// Runner launches one aggregation run; the orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, taskID string) error
}

// Service is the HTTP trigger API.
type Service struct {
	runner   Runner
	registry *orchestrator.Registry
	material publicKeys
}

type publicKeys struct {
	AggregatorPublicKey string `json:"aggregatorPublicKey"`
	TPPublicKey         string `json:"tpPublicKey"`
}

// New builds the service. keyCfg supplies the public key material exposed
// on /api/public-keys for miner-side encryption.
func New(runner Runner, registry *orchestrator.Registry, keyCfg keys.Config) *Service {
	return &Service{
		runner:   runner,
		registry: registry,
		material: publicKeys{
			AggregatorPublicKey: keyCfg.AggregatorPK,
			TPPublicKey:         keyCfg.TPPublicKey,
		},
	}
}

// Router assembles the chi router with the service routes.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.health)
	r.Get("/api/public-keys", s.publicKeys)
	r.Post("/api/aggregate", s.aggregate)
	r.Get("/api/tasks/{taskID}/status", s.taskStatus)
	return r
}

func (s *Service) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) publicKeys(w http.ResponseWriter, _ *http.Request) {
	if s.material.AggregatorPublicKey == "" || s.material.TPPublicKey == "" {
		log.Warnln("public keys requested but not fully configured")
	}
	writeJSON(w, http.StatusOK, s.material)
}

type aggregateRequest struct {
	TaskID      string `json:"taskID"`
	TaskIDSnake string `json:"task_id"`
}

type aggregateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Service) aggregate(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req aggregateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, aggregateResponse{Error: "request body is required"})
		return
	}
	taskID := req.TaskID
	if taskID == "" {
		taskID = req.TaskIDSnake
	}
	if taskID == "" {
		writeJSON(w, http.StatusBadRequest, aggregateResponse{Error: "taskID is required"})
		return
	}

	// The run outlives the request; it is cancelled via the registry, not
	// the request context.
	err := s.registry.Start(context.Background(), taskID, func(ctx context.Context) error {
		return s.runner.Run(ctx, taskID)
	})
	if err != nil {
		status := http.StatusInternalServerError
		if protoerr.KindOf(err) == protoerr.ProtocolBound {
			status = http.StatusConflict
		}
		writeJSON(w, status, aggregateResponse{Error: err.Error()})
		return
	}

	log.Infof("aggregation triggered for task %s", taskID)
	writeJSON(w, http.StatusOK, aggregateResponse{
		Success: true,
		Message: "aggregation started for task " + taskID,
	})
}

func (s *Service) taskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"taskID":  taskID,
		"running": s.registry.IsRunning(taskID),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warnf("response encode failed: %v", err)
	}
}
