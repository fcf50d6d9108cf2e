package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tasmota-bridge/internal/bridges/tasmota"
	"github.com/nerrad567/tasmota-bridge/internal/device"
	"github.com/nerrad567/tasmota-bridge/internal/gateway"
)

// Directive and reply names of the control callback.
const (
	directiveUpdateStates = "UpdateDeviceStates"
	replyUpdateStates     = "UpdateDeviceStatesResponse"
	replyError            = "ErrorResponse"
)

// Error types reported in an ErrorResponse.
const (
	errorTypeNoSuchEndpoint = "NO_SUCH_ENDPOINT"
	errorTypeInvalid        = "INVALID_DIRECTIVE"
	errorTypeUnreachable    = "ENDPOINT_UNREACHABLE"
	errorTypeInternal       = "INTERNAL_ERROR"
)

// controlDirective is the body the gateway posts to a device's service
// address.
type controlDirective struct {
	Directive struct {
		Header   gateway.EventHeader `json:"header"`
		Endpoint struct {
			SerialNumber      string `json:"serial_number"`
			ThirdSerialNumber string `json:"third_serial_number"`
		} `json:"endpoint"`
		Payload struct {
			State device.State `json:"state"`
		} `json:"payload"`
	} `json:"directive"`
}

type controlReply struct {
	Event struct {
		Header  gateway.EventHeader `json:"header"`
		Payload map[string]string   `json:"payload"`
	} `json:"event"`
}

func newControlReply(name, messageID string) controlReply {
	var r controlReply
	r.Event.Header = gateway.EventHeader{Name: name, MessageID: messageID, Version: "1"}
	r.Event.Payload = map[string]string{}
	return r
}

// handleOpenControl applies a gateway state directive to the device.
func (s *Server) handleOpenControl(w http.ResponseWriter, r *http.Request) {
	mac := chi.URLParam(r, "mac")

	var req controlDirective
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeControlError(w, "", errorTypeInvalid, "invalid JSON body")
		return
	}
	header := req.Directive.Header
	if header.Name != "" && header.Name != directiveUpdateStates {
		s.writeControlError(w, header.MessageID, errorTypeInvalid, "unsupported directive "+header.Name)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	cmd := tasmota.CommandFromState(req.Directive.Payload.State)
	if err := s.bridge.Control(ctx, mac, cmd); err != nil {
		s.logger.Warn("gateway control failed", "mac", mac, "message_id", header.MessageID, "error", err)
		s.writeControlError(w, header.MessageID, controlErrorType(err), err.Error())
		return
	}

	s.logger.Debug("gateway control applied", "mac", mac, "message_id", header.MessageID)
	writeJSON(w, http.StatusOK, newControlReply(replyUpdateStates, header.MessageID))
}

func (s *Server) writeControlError(w http.ResponseWriter, messageID, errType, description string) {
	reply := newControlReply(replyError, messageID)
	reply.Event.Payload["type"] = errType
	reply.Event.Payload["description"] = description
	writeJSON(w, http.StatusOK, reply)
}

func controlErrorType(err error) string {
	switch {
	case errors.Is(err, tasmota.ErrDeviceNotFound):
		return errorTypeNoSuchEndpoint
	case errors.Is(err, tasmota.ErrUnsupportedDevice), errors.Is(err, tasmota.ErrInvalidCommand):
		return errorTypeInvalid
	case errors.Is(err, tasmota.ErrNotConnected):
		return errorTypeUnreachable
	default:
		return errorTypeInternal
	}
}
