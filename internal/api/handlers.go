// Package api provides the HTTP admin surface: device CRUD, value
// inspection, tag writes, and the modem connection listing.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/fieldbridge/internal/domain"
	"github.com/nexus-edge/fieldbridge/internal/service"
)

// Handler serves the /api endpoints on top of the engine.
type Handler struct {
	engine *service.Engine
	logger zerolog.Logger
}

// NewHandler creates the API handler.
func NewHandler(engine *service.Engine, logger zerolog.Logger) *Handler {
	return &Handler{
		engine: engine,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// Register mounts all API routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/devices", h.devices)
	mux.HandleFunc("/api/devices/", h.deviceByID)
	mux.HandleFunc("/api/values", h.values)
	mux.HandleFunc("/api/connections", h.connections)
	mux.HandleFunc("/api/write", h.write)
}

// statusFromError maps domain errors onto HTTP status codes.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrNotWritable),
		errors.Is(err, domain.ErrValueOutOfRange),
		errors.Is(err, domain.ErrDeviceExists):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, statusFromError(err), map[string]string{"error": err.Error()})
}

// devices handles GET (list) and POST (add) on /api/devices.
func (h *Handler) devices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.writeJSON(w, http.StatusOK, h.engine.Devices())

	case http.MethodPost:
		var device domain.Device
		if err := json.NewDecoder(r.Body).Decode(&device); err != nil {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		added, err := h.engine.AddDevice(r.Context(), &device)
		if err != nil {
			h.logger.Warn().Err(err).Str("device", device.Name).Msg("add device failed")
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusCreated, added)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// deviceByID handles DELETE /api/devices/{id}.
func (h *Handler) deviceByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/devices/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.engine.RemoveDevice(r.Context(), id); err != nil {
		h.logger.Warn().Err(err).Str("device_id", id).Msg("remove device failed")
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// values handles GET /api/values.
func (h *Handler) values(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, h.engine.Values())
}

// connections handles GET /api/connections.
func (h *Handler) connections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, h.engine.Connections())
}

// writeRequest is the body of POST /api/write. Value accepts a JSON string,
// number or boolean; it is parsed as the tag's declared type.
type writeRequest struct {
	DeviceID string      `json:"deviceId"`
	TagName  string      `json:"tagName"`
	Value    interface{} `json:"value"`
}

// write handles POST /api/write.
func (h *Handler) write(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.DeviceID == "" || req.TagName == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "deviceId and tagName are required"})
		return
	}

	if err := h.engine.WriteTag(r.Context(), req.DeviceID, req.TagName, req.Value); err != nil {
		h.logger.Warn().Err(err).
			Str("device_id", req.DeviceID).
			Str("tag", req.TagName).
			Msg("tag write failed")
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "written"})
}
