package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tasmota-bridge/internal/gateway"
	"github.com/nerrad567/tasmota-bridge/internal/mirror"
)

// DeviceInfo is one row of the operator device list.
type DeviceInfo struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	ID       string `json:"id"`
	Online   bool   `json:"online"`
	Synced   bool   `json:"synced"`
}

// handleListDevices lists every discovered device with its sync status.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var mirrored map[string]string
	if s.mirror != nil {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		var err error
		if mirrored, err = s.mirror.Mirrored(ctx); err != nil {
			s.logger.Error("reading gateway device list failed", "error", err)
			writeResult(w, gatewayCode(err), nil)
			return
		}
	}

	settingsList := s.registry.List()
	devices := make([]DeviceInfo, 0, len(settingsList))
	for _, setting := range settingsList {
		id := setting.Ident()
		_, synced := mirrored[strings.ToUpper(id.MAC)]
		devices = append(devices, DeviceInfo{
			Name:     id.Name,
			Category: string(setting.Category()),
			ID:       id.MAC,
			Online:   id.Online,
			Synced:   synced,
		})
	}
	writeSuccess(w, devices)
}

// handleSyncDevice mirrors one switch into the gateway.
func (s *Server) handleSyncDevice(w http.ResponseWriter, r *http.Request) {
	if !s.requireMirror(w) {
		return
	}
	mac := chi.URLParam(r, "mac")

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	err := s.mirror.SyncOne(ctx, mac)
	switch {
	case err == nil:
		writeSuccess(w, nil)
	case errors.Is(err, mirror.ErrUnknownDevice):
		writeResult(w, CodeSyncDeviceNotFound, nil)
	case errors.Is(err, mirror.ErrUnsupportedDevice):
		writeResult(w, CodeSyncDeviceNotAllowed, nil)
	default:
		s.logger.Error("device sync failed", "mac", mac, "error", err)
		writeResult(w, gatewayCode(err), nil)
	}
}

// handleSyncAllDevices mirrors every switch the gateway does not hold yet.
func (s *Server) handleSyncAllDevices(w http.ResponseWriter, r *http.Request) {
	if !s.requireMirror(w) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	n, err := s.mirror.SyncAll(ctx)
	if err != nil {
		s.logger.Error("bulk device sync failed", "error", err)
		writeResult(w, gatewayCode(err), nil)
		return
	}
	writeSuccess(w, map[string]int{"synced": n})
}

// handleUnsyncDevice removes a device's copy from the gateway.
func (s *Server) handleUnsyncDevice(w http.ResponseWriter, r *http.Request) {
	if !s.requireMirror(w) {
		return
	}
	mac := chi.URLParam(r, "mac")

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	err := s.mirror.Unsync(ctx, mac)
	switch {
	case err == nil:
		writeSuccess(w, nil)
	case errors.Is(err, mirror.ErrUnknownDevice):
		writeResult(w, CodeUnsyncNotFound, nil)
	case errors.Is(err, mirror.ErrNotMirrored), errors.Is(err, gateway.ErrNotFound):
		writeResult(w, CodeUnsyncNotSynced, nil)
	default:
		s.logger.Error("device un-sync failed", "mac", mac, "error", err)
		writeResult(w, gatewayCode(err), nil)
	}
}

// autoSyncRequest is the body of PUT /auto-sync.
type autoSyncRequest struct {
	AutoSync *bool `json:"autoSync"`
}

// handleSetAutoSync switches automatic mirroring of new switches.
func (s *Server) handleSetAutoSync(w http.ResponseWriter, r *http.Request) {
	var req autoSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AutoSync == nil {
		writeJSON(w, http.StatusOK, Response{Error: CodeInternal, Msg: "autoSync is required"})
		return
	}

	if err := s.settings.SetAutoSync(r.Context(), *req.AutoSync); err != nil {
		s.logger.Error("storing auto-sync failed", "error", err)
		writeResult(w, CodeInternal, nil)
		return
	}
	s.logger.Info("auto-sync changed", "enabled", *req.AutoSync)
	writeSuccess(w, nil)
}

func (s *Server) requireMirror(w http.ResponseWriter) bool {
	if s.mirror == nil {
		writeResult(w, CodeGatewayTokenInvalid, nil)
		return false
	}
	return true
}
