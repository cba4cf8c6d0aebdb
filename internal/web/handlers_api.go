package web

import (
	"encoding/json"
	"net/http"

	"domestia-go-home/internal/coordinator"
	"domestia-go-home/internal/network"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.Devices())
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid device id")
		return
	}
	dev, err := s.coord.Device(id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, dev)
}

type renameDeviceRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleAPIRenameDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	var req renameDeviceRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.coord.Rename(id, req.Name); err != nil {
		s.writeErr(w, err)
		return
	}
	dev, err := s.coord.Device(id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleAPIDeviceCommand(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	var cmd coordinator.Command
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.coord.Execute(r.Context(), id, cmd); err != nil {
		s.writeErr(w, err)
		return
	}
	dev, err := s.coord.Device(id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleAPIController(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.Info())
}

func (s *Server) handleAPIRefresh(w http.ResponseWriter, r *http.Request) {
	s.coord.RequestRefresh()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleAPIRediscover(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Rediscover(r.Context()); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"device_count": len(s.coord.Devices())})
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// handleHealthz reports 503 while the controller link is down.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	info := s.coord.Info()
	status := http.StatusOK
	body := map[string]any{"status": "ok", "controller": info.State, "devices": info.DeviceCount}
	if info.State != network.StateConnected.String() {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	s.writeJSON(w, status, body)
}
