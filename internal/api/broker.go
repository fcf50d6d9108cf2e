package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/nerrad567/tasmota-bridge/internal/bridges/tasmota"
	"github.com/nerrad567/tasmota-bridge/internal/settings"
)

// brokerView is the broker as shown to the operator.
type brokerView struct {
	settings.Broker
	Connected bool `json:"connected"`
}

// handleGetBroker returns the broker settings in use.
func (s *Server) handleGetBroker(w http.ResponseWriter, r *http.Request) {
	broker, err := s.settings.Broker(r.Context())
	if err != nil {
		s.logger.Error("reading broker settings failed", "error", err)
		writeResult(w, CodeInternal, nil)
		return
	}
	writeSuccess(w, brokerView{
		Broker:    broker,
		Connected: s.bridge.ConnectionState() == tasmota.StateConnected,
	})
}

// handleSetBroker connects to the posted broker and keeps it on success.
// The previous connection stays up when the new broker is unreachable.
func (s *Server) handleSetBroker(w http.ResponseWriter, r *http.Request) {
	var broker settings.Broker
	if err := json.NewDecoder(r.Body).Decode(&broker); err != nil {
		writeJSON(w, http.StatusOK, Response{Error: CodeInternal, Msg: "invalid JSON body"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := s.bridge.Reconfigure(ctx, broker); err != nil {
		s.logger.Warn("broker change rejected", "host", broker.Host, "port", broker.Port, "error", err)
		writeResult(w, CodeBrokerUnreachable, nil)
		return
	}
	s.logger.Info("broker changed", "host", broker.Host, "port", broker.Port)
	writeSuccess(w, nil)
}
