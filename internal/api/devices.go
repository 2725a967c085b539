package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ipx800-bridge/internal/device"
)

// renameRequest is the request body for PATCH /devices/{id}.
type renameRequest struct {
	Name string `json:"name"`
}

// setStateRequest is the request body for PUT /devices/{id}/state.
type setStateRequest struct {
	Desired *bool `json:"desired"`
}

// handleListDevices returns every device of the endpoint in registration order.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := bridgeFromContext(r.Context()).Devices()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := bridgeFromContext(r.Context()).Device(chi.URLParam(r, "id"))
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleCreateDevice registers a new device.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var def device.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d, err := bridgeFromContext(r.Context()).AddDevice(r.Context(), def)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// handleRenameDevice changes a device name.
func (s *Server) handleRenameDevice(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d, err := bridgeFromContext(r.Context()).RenameDevice(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleDeleteDevice removes a device. Its outputs are left as they are.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := bridgeFromContext(r.Context()).RemoveDevice(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeBridgeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetDeviceState drives a device on or off.
//
// Responds 502 with the failed channels when the controller rejected any
// output; the device state is then unchanged.
func (s *Server) handleSetDeviceState(w http.ResponseWriter, r *http.Request) {
	var req setStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Desired == nil {
		writeBadRequest(w, "desired is required")
		return
	}

	d, err := bridgeFromContext(r.Context()).SetDeviceState(r.Context(), chi.URLParam(r, "id"), *req.Desired)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleDeviceHistory returns recent logical state changes of a device.
//
// Query parameters:
//   - limit: maximum entries (default 50)
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	b := bridgeFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if _, err := b.Device(id); err != nil {
		writeBridgeError(w, err)
		return
	}

	entries, err := b.History(r.Context(), id, limit)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries, "count": len(entries)})
}
