package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/jobrunner/cddfetch/internal/domain"
	"github.com/jobrunner/cddfetch/internal/ports/input"
)

// RunParams is the JSON body accepted by the run trigger endpoint.
// Exactly one of bbox or polygon must be set.
type RunParams struct {
	BBox        []float64    `json:"bbox,omitempty"`    // [minLon, minLat, maxLon, maxLat]
	Polygon     [][2]float64 `json:"polygon,omitempty"` // [[lon, lat], ...], implicitly closed
	Collections []string     `json:"collections,omitempty"`
	Mosaic      bool         `json:"mosaic"`
	Archive     bool         `json:"archive"`
}

// handleTriggerRun starts a download run in the background.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	var params RunParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	aoi, err := paramsToAOI(&params)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := s.controller.TriggerRun(r.Context(), input.RunRequest{
		AOI:         aoi,
		Collections: params.Collections,
		Mosaic:      params.Mosaic,
		Archive:     params.Archive,
	})
	if err != nil {
		s.handleRunError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, status)
}

// handleGetRun returns the current status of a run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID := vars["runId"]

	status, err := s.controller.RunStatus(runID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			s.writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

// handleCancelRun requests cancellation of a run.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID := vars["runId"]

	if err := s.controller.CancelRun(runID); err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			s.writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to cancel run")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"run_id": runID, "status": "cancel requested"})
}

// handleRunEvents returns recent progress events of a run.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID := vars["runId"]

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = v
	}

	events, err := s.controller.RunEvents(runID, limit)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			s.writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to get run events")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id": runID,
		"events": events,
		"count":  len(events),
	})
}

// handleCatalog returns the loaded collections and their tile counts.
func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	cols := s.index.Collections()

	response := make([]map[string]interface{}, len(cols))
	for i, c := range cols {
		response[i] = map[string]interface{}{
			"id":         c.ID,
			"label":      c.Label,
			"raster":     c.Raster,
			"version":    s.index.Version(c.ID),
			"tile_count": s.index.TileCount(c.ID),
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"collections": response,
		"count":       len(cols),
	})
}

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	cols := s.index.Collections()
	tiles := 0
	for _, c := range cols {
		tiles += s.index.TileCount(c.ID)
	}

	healthy := len(cols) > 0
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":             boolToStatus(healthy),
		"collections_loaded": len(cols),
		"tiles_indexed":      tiles,
		"uptime_seconds":     int(time.Since(s.started).Seconds()),
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness returns readiness status. The server is ready once at
// least one tile catalog is loaded.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if len(s.index.Collections()) > 0 {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// paramsToAOI converts the request body to an area of interest.
func paramsToAOI(params *RunParams) (domain.AreaOfInterest, error) {
	switch {
	case len(params.BBox) > 0 && len(params.Polygon) > 0:
		return domain.AreaOfInterest{}, errors.New("bbox and polygon are mutually exclusive")
	case len(params.BBox) > 0:
		if len(params.BBox) != 4 {
			return domain.AreaOfInterest{}, errors.New("bbox must have exactly 4 values")
		}
		return domain.AOIFromBBox(params.BBox[0], params.BBox[1], params.BBox[2], params.BBox[3]), nil
	case len(params.Polygon) > 0:
		vertices := make([]domain.Point, len(params.Polygon))
		for i, v := range params.Polygon {
			vertices[i] = domain.Point{X: v[0], Y: v[1]}
		}
		return domain.AOIFromPolygon(domain.Polygon{Vertices: vertices}), nil
	default:
		return domain.AreaOfInterest{}, errors.New("area of interest required: use bbox or polygon")
	}
}

// handleRunError maps trigger errors to appropriate HTTP status codes.
func (s *Server) handleRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrRateLimited) {
		w.Header().Set("Retry-After", "30")
		s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again in 30 seconds.")
		return
	}

	if errors.Is(err, domain.ErrRunInProgress) {
		s.writeError(w, http.StatusConflict, "A run is already in progress")
		return
	}

	if errors.Is(err, domain.ErrUnknownCollection) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var geomErr *domain.GeometryError
	if errors.As(err, &geomErr) || errors.Is(err, domain.ErrInvalidInput) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var capErr *domain.TileExceedsCapError
	if errors.As(err, &capErr) {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.logger.Error("trigger run failed", "error", err)
	s.writeError(w, http.StatusInternalServerError, "Failed to trigger run")
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
