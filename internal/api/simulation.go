package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/blesim-core/internal/simulation"
)

// Accepted simulation target range in BPM.
const (
	minSimulationTarget = 30
	maxSimulationTarget = 220
)

// simulationRequest carries an optional or required target.
type simulationRequest struct {
	Target *int `json:"target"`
}

func validTarget(t int) bool {
	return t >= minSimulationTarget && t <= maxSimulationTarget
}

// handleGetSimulation returns a device's simulation state.
func (s *Server) handleGetSimulation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeSimulationState(w, id, s.simulator.State(id))
}

// handleEnableSimulation starts generating values for a device.
func (s *Server) handleEnableSimulation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req simulationRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Target != nil && !validTarget(*req.Target) {
		writeValidationError(w, "target must be between 30 and 220")
		return
	}
	if !s.requireNotDeleted(w, id) {
		return
	}

	s.simulator.Enable(id, req.Target)
	s.logger.Info("simulation enabled", "device_id", id)
	writeSimulationState(w, id, s.simulator.State(id))
}

// handleDisableSimulation stops generating values. The last target and
// value are kept.
func (s *Server) handleDisableSimulation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.simulator.Disable(id)
	s.logger.Info("simulation disabled", "device_id", id)
	writeSimulationState(w, id, s.simulator.State(id))
}

// handleSetSimulationTarget moves the value the generator converges on.
func (s *Server) handleSetSimulationTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req simulationRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Target == nil {
		writeValidationError(w, "target is required")
		return
	}
	if !validTarget(*req.Target) {
		writeValidationError(w, "target must be between 30 and 220")
		return
	}
	if !s.requireNotDeleted(w, id) {
		return
	}

	s.simulator.SetTarget(id, *req.Target)
	writeSimulationState(w, id, s.simulator.State(id))
}

func writeSimulationState(w http.ResponseWriter, id string, st simulation.State) {
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":  id,
		"simulation": st,
	})
}
