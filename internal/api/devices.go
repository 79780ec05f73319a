package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-scripts/internal/device"
	"github.com/nerrad567/gray-logic-scripts/internal/events"
)

// devicePayload is the body of PUT /api/v1/devices/{id}.
type devicePayload struct {
	Name    string `json:"name"`
	Family  string `json:"family"`
	Address string `json:"address"`
}

// handleListDevices returns the device catalog.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.devices.ListDevices()
	if devices == nil {
		devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	dev, err := s.devices.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("failed to get device", "device_id", id, "error", err)
		writeInternalError(w, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handlePutDevice creates or replaces a device. New devices are announced to
// running scripts; changed ones get an update hint.
func (s *Server) handlePutDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	var body devicePayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev := &device.Device{ID: id, Name: body.Name, Family: body.Family, Address: body.Address}
	created, err := s.devices.AddDevice(r.Context(), dev)
	if err != nil {
		if errors.Is(err, device.ErrInvalidDevice) {
			writeError(w, http.StatusBadRequest, codeValidation, err.Error())
			return
		}
		s.logger.Error("failed to store device", "device_id", id, "error", err)
		writeInternalError(w, "failed to store device")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		s.router.Publish(events.Event{Kind: events.KindDeviceAdded, DeviceIDs: []uint64{id}})
	} else {
		s.router.Publish(events.Event{Kind: events.KindDeviceUpdated, DeviceID: id})
	}

	stored, err := s.devices.GetDevice(r.Context(), id)
	if err != nil {
		stored = dev
	}
	writeJSON(w, status, stored)
}

// handleDeleteDevice removes a device and announces it to running scripts.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	if err := s.devices.RemoveDevice(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("failed to remove device", "device_id", id, "error", err)
		writeInternalError(w, "failed to remove device")
		return
	}

	s.router.Publish(events.Event{Kind: events.KindDeviceRemoved, DeviceIDs: []uint64{id}})
	w.WriteHeader(http.StatusNoContent)
}

// deviceIDParam parses the {id} URL parameter, writing a 400 on failure.
func deviceIDParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeBadRequest(w, "device id must be a positive integer")
		return 0, false
	}
	return id, true
}
