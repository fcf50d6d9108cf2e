package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/tasmota-bridge/internal/gateway"
)

// Code is an envelope result code.
type Code int

// Envelope result codes.
const (
	CodeSuccess              Code = 0
	CodeInternal             Code = 500
	CodeGatewayUnreachable   Code = 601
	CodeGatewayTokenInvalid  Code = 602
	CodeBrokerUnreachable    Code = 1001
	CodeSyncDeviceNotFound   Code = 1301
	CodeSyncDeviceNotAllowed Code = 1302
	CodeUnsyncNotFound       Code = 1801
	CodeUnsyncNotSynced      Code = 1802
)

var codeMessages = map[Code]string{
	CodeSuccess:              "Success",
	CodeInternal:             "Internal Error",
	CodeGatewayUnreachable:   "gateway no response",
	CodeGatewayTokenInvalid:  "token invalid",
	CodeBrokerUnreachable:    "MQTT broker can not connect",
	CodeSyncDeviceNotFound:   "device not found",
	CodeSyncDeviceNotAllowed: "device not supported",
	CodeUnsyncNotFound:       "unsync device not found",
	CodeUnsyncNotSynced:      "device not synced",
}

// Message returns the default message for c.
func (c Code) Message() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return codeMessages[CodeInternal]
}

// Response is the operator API envelope.
type Response struct {
	Error Code   `json:"error"`
	Msg   string `json:"msg"`
	Data  any    `json:"data,omitempty"`
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeResult writes an envelope with code and its default message.
func writeResult(w http.ResponseWriter, code Code, data any) {
	writeJSON(w, http.StatusOK, Response{Error: code, Msg: code.Message(), Data: data})
}

// writeSuccess writes a success envelope.
func writeSuccess(w http.ResponseWriter, data any) {
	writeResult(w, CodeSuccess, data)
}

// writeInternalError writes a 500 envelope.
func writeInternalError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, Response{Error: CodeInternal, Msg: message})
}

// gatewayCode maps a gateway failure onto its envelope code.
func gatewayCode(err error) Code {
	switch {
	case errors.Is(err, gateway.ErrUnauthorized):
		return CodeGatewayTokenInvalid
	case errors.Is(err, gateway.ErrUnreachable):
		return CodeGatewayUnreachable
	default:
		return CodeInternal
	}
}
