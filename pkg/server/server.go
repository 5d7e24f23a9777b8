// Package server exposes the bridge as a single HTTP trigger endpoint.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-bqbridge/pkg/pipeline"
	"github.com/rs/zerolog"
)

// Runner runs one pipeline invocation. Implemented by pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, maxMessages int) *pipeline.ProcessingResult
}

// triggerRequest is the optional JSON body of a trigger call.
type triggerRequest struct {
	MaxMessages int `json:"max_messages"`
}

// errorResponse is returned with a server-error status only when an
// invocation fails in a way the pipeline could not absorb.
type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves trigger requests. Each request runs one invocation and
// always answers with a structured document.
type Handler struct {
	runner Runner
	logger zerolog.Logger
}

// NewHandler creates the trigger handler.
func NewHandler(runner Runner, logger zerolog.Logger) *Handler {
	return &Handler{
		runner: runner,
		logger: logger.With().Str("component", "TriggerHandler").Logger(),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	invocationID := uuid.NewString()
	logger := h.logger.With().Str("invocation_id", invocationID).Logger()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Msg("Invocation panicked.")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: fmt.Sprintf("Function error: %v", rec)})
		}
	}()

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET, POST")
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	// A missing or malformed body falls back to the default cap; the
	// trigger is forgiving about its input.
	var req triggerRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	logger.Info().Int("max_messages", req.MaxMessages).Msg("Starting invocation.")
	result := h.runner.Run(r.Context(), req.MaxMessages)
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// NewHTTPServer wires the handler onto its route.
func NewHTTPServer(port int, handler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/", handler)
	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
}
