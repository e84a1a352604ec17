package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"genqueue/internal/queue"
	"genqueue/internal/worker"
)

// App carries handler dependencies. Worker is nil in the API process, which
// only talks to the queue store; the worker process sets it to expose status
// and the event stream.
type App struct {
	Queue  queue.Service
	Worker *worker.Worker
	Logger zerolog.Logger
}

func NewApp(q queue.Service, w *worker.Worker, logger zerolog.Logger) *App {
	return &App{Queue: q, Worker: w, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) jsonError(w http.ResponseWriter, code int, message string) {
	a.json(w, code, map[string]string{"error": message})
}
